// Package records keeps the assistant's small structured datasets (diaries,
// expenses, promises, wishlists, milestones, chat memories) in a relational
// store separate from the conversation tables. It runs on sqlite locally
// and postgres when pointed at the main database.
package records

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the records database. Queries are written with `?`
// placeholders and rebound for postgres.
type Store struct {
	db      *sql.DB
	dialect string
	logger  *slog.Logger
}

// Config selects the backing database.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	DSN    string
	Logger *slog.Logger
}

// Open connects and ensures the schema exists.
func Open(cfg Config) (*Store, error) {
	driverName := cfg.Driver
	switch driverName {
	case "sqlite":
		driverName = "sqlite3"
	case "postgres":
	default:
		return nil, fmt.Errorf("records: unsupported driver %q (supported: sqlite, postgres)", cfg.Driver)
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("records: open %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == "sqlite" {
		// sqlite serializes writers; more connections just contend.
		db.SetMaxOpenConns(1)
	}

	s, err := NewWithDB(db, cfg.Driver, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing connection. The schema is assumed present;
// tests use this with sqlmock.
func NewWithDB(db *sql.DB, dialect string, logger *slog.Logger) (*Store, error) {
	switch dialect {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("records: unsupported dialect %q", dialect)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, dialect: dialect, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ai_diaries (
		id TEXT PRIMARY KEY,
		diary_date TEXT NOT NULL,
		content TEXT NOT NULL,
		mood TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ai_diaries_date ON ai_diaries(diary_date)`,
	`CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		amount REAL NOT NULL,
		category TEXT,
		note TEXT,
		spent_at TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_expenses_date ON expenses(spent_at)`,
	`CREATE TABLE IF NOT EXISTS promises (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS wishlists (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS milestones (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		note TEXT,
		happened_on TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_memories (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		tags TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
}

func (s *Store) migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("records: apply schema: %w", err)
		}
	}
	return nil
}

// rebind converts `?` placeholders to `$n` for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
