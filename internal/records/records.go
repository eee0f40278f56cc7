package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("records: not found")

// Diary is one AI diary entry. DiaryDate is a Beijing calendar date
// ("2006-01-02"); the daily quota counts rows sharing it.
type Diary struct {
	ID        string    `json:"id"`
	DiaryDate string    `json:"diary_date"`
	Content   string    `json:"content"`
	Mood      string    `json:"mood,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Expense is one spend record, dated by Beijing calendar date.
type Expense struct {
	ID        string    `json:"id"`
	Amount    float64   `json:"amount"`
	Category  string    `json:"category,omitempty"`
	Note      string    `json:"note,omitempty"`
	SpentAt   string    `json:"spent_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Promise and Wishlist entries share the pending/done lifecycle.
type Promise struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type Wishlist struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Milestone marks a dated event worth remembering long-term.
type Milestone struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Note       string    `json:"note,omitempty"`
	HappenedOn string    `json:"happened_on"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChatMemory is a free-form fact extracted from conversation.
type ChatMemory struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Tags      string    `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ---- diaries ----

// InsertDiary stores one entry. Missing id and timestamp are filled in.
func (s *Store) InsertDiary(ctx context.Context, d *Diary) error {
	fillID(&d.ID)
	fillTime(&d.CreatedAt)
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO ai_diaries (id, diary_date, content, mood, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		d.ID, d.DiaryDate, d.Content, nullable(d.Mood), d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert diary: %w", err)
	}
	return nil
}

// CountDiariesOn reports how many entries exist for one diary date.
func (s *Store) CountDiariesOn(ctx context.Context, diaryDate string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*) FROM ai_diaries WHERE diary_date = ?`), diaryDate).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count diaries: %w", err)
	}
	return n, nil
}

// UpsertDailyDiary replaces the day's latest entry or inserts a fresh one.
// The scheduled diary job uses this so reruns do not stack duplicates.
func (s *Store) UpsertDailyDiary(ctx context.Context, diaryDate, content, mood string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE ai_diaries SET content = ?, mood = ?
		WHERE id = (
			SELECT id FROM ai_diaries WHERE diary_date = ?
			ORDER BY created_at DESC LIMIT 1
		)`),
		content, nullable(mood), diaryDate)
	if err != nil {
		return fmt.Errorf("upsert diary: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return nil
	}
	return s.InsertDiary(ctx, &Diary{DiaryDate: diaryDate, Content: content, Mood: mood})
}

// RecentDiaries returns the newest entries.
func (s *Store) RecentDiaries(ctx context.Context, limit int) ([]Diary, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, diary_date, content, mood, created_at
		FROM ai_diaries
		ORDER BY diary_date DESC, created_at DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("recent diaries: %w", err)
	}
	defer rows.Close()
	return scanDiaries(rows)
}

// GetDiary fetches one entry by id.
func (s *Store) GetDiary(ctx context.Context, id string) (Diary, error) {
	var d Diary
	var mood sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, diary_date, content, mood, created_at
		FROM ai_diaries WHERE id = ?`), id).
		Scan(&d.ID, &d.DiaryDate, &d.Content, &mood, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Diary{}, ErrNotFound
	}
	if err != nil {
		return Diary{}, fmt.Errorf("get diary: %w", err)
	}
	d.Mood = mood.String
	return d, nil
}

func scanDiaries(rows *sql.Rows) ([]Diary, error) {
	var out []Diary
	for rows.Next() {
		var d Diary
		var mood sql.NullString
		if err := rows.Scan(&d.ID, &d.DiaryDate, &d.Content, &mood, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan diary: %w", err)
		}
		d.Mood = mood.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// ---- expenses ----

func (s *Store) InsertExpense(ctx context.Context, e *Expense) error {
	fillID(&e.ID)
	fillTime(&e.CreatedAt)
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO expenses (id, amount, category, note, spent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		e.ID, e.Amount, nullable(e.Category), nullable(e.Note), e.SpentAt, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}
	return nil
}

// ExpensesBetween returns expenses with spent_at in [from, to], oldest first.
func (s *Store) ExpensesBetween(ctx context.Context, from, to string) ([]Expense, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, amount, category, note, spent_at, created_at
		FROM expenses
		WHERE spent_at >= ? AND spent_at <= ?
		ORDER BY spent_at ASC, created_at ASC`), from, to)
	if err != nil {
		return nil, fmt.Errorf("expenses between: %w", err)
	}
	defer rows.Close()

	var out []Expense
	for rows.Next() {
		var e Expense
		var category, note sql.NullString
		if err := rows.Scan(&e.ID, &e.Amount, &category, &note, &e.SpentAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		e.Category = category.String
		e.Note = note.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- promises / wishlists ----

func (s *Store) InsertPromise(ctx context.Context, p *Promise) error {
	fillID(&p.ID)
	fillTime(&p.CreatedAt)
	if p.Status == "" {
		p.Status = "pending"
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO promises (id, content, status, created_at)
		VALUES (?, ?, ?, ?)`),
		p.ID, p.Content, p.Status, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert promise: %w", err)
	}
	return nil
}

// ListPromises returns pending entries first, then done, newest first
// inside each group.
func (s *Store) ListPromises(ctx context.Context) ([]Promise, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, status, created_at
		FROM promises
		ORDER BY CASE status WHEN 'pending' THEN 0 ELSE 1 END, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list promises: %w", err)
	}
	defer rows.Close()

	var out []Promise
	for rows.Next() {
		var p Promise
		if err := rows.Scan(&p.ID, &p.Content, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan promise: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) InsertWishlist(ctx context.Context, w *Wishlist) error {
	fillID(&w.ID)
	fillTime(&w.CreatedAt)
	if w.Status == "" {
		w.Status = "pending"
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO wishlists (id, content, status, created_at)
		VALUES (?, ?, ?, ?)`),
		w.ID, w.Content, w.Status, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert wishlist: %w", err)
	}
	return nil
}

func (s *Store) ListWishlists(ctx context.Context) ([]Wishlist, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, status, created_at
		FROM wishlists
		ORDER BY CASE status WHEN 'pending' THEN 0 ELSE 1 END, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list wishlists: %w", err)
	}
	defer rows.Close()

	var out []Wishlist
	for rows.Next() {
		var w Wishlist
		if err := rows.Scan(&w.ID, &w.Content, &w.Status, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan wishlist: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// UpdateStatus flips a promise or wishlist entry between pending and done.
// Only these two tables have a lifecycle; everything else is append-only.
func (s *Store) UpdateStatus(ctx context.Context, table, id, status string) error {
	switch table {
	case "promises", "wishlists":
	default:
		return fmt.Errorf("update status: table %q has no status column", table)
	}
	switch status {
	case "pending", "done":
	default:
		return fmt.Errorf("update status: invalid status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE `+table+` SET status = ? WHERE id = ?`), status, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- milestones ----

func (s *Store) InsertMilestone(ctx context.Context, m *Milestone) error {
	fillID(&m.ID)
	fillTime(&m.CreatedAt)
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO milestones (id, title, note, happened_on, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		m.ID, m.Title, nullable(m.Note), m.HappenedOn, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert milestone: %w", err)
	}
	return nil
}

// ListMilestones returns every milestone in chronological order.
func (s *Store) ListMilestones(ctx context.Context) ([]Milestone, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, note, happened_on, created_at
		FROM milestones
		ORDER BY happened_on ASC`)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()
	return scanMilestones(rows)
}

// SearchMilestones finds milestones whose title or note contains keyword,
// newest first.
func (s *Store) SearchMilestones(ctx context.Context, keyword string, limit int) ([]Milestone, error) {
	if limit <= 0 {
		limit = 5
	}
	pattern := "%" + keyword + "%"
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, title, note, happened_on, created_at
		FROM milestones
		WHERE title LIKE ? OR note LIKE ?
		ORDER BY happened_on DESC
		LIMIT ?`), pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search milestones: %w", err)
	}
	defer rows.Close()
	return scanMilestones(rows)
}

func scanMilestones(rows *sql.Rows) ([]Milestone, error) {
	var out []Milestone
	for rows.Next() {
		var m Milestone
		var note sql.NullString
		if err := rows.Scan(&m.ID, &m.Title, &note, &m.HappenedOn, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		m.Note = note.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- chat memories ----

func (s *Store) InsertChatMemory(ctx context.Context, m *ChatMemory) error {
	fillID(&m.ID)
	fillTime(&m.CreatedAt)
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO chat_memories (id, content, tags, created_at)
		VALUES (?, ?, ?, ?)`),
		m.ID, m.Content, nullable(m.Tags), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert chat memory: %w", err)
	}
	return nil
}

func (s *Store) ListChatMemories(ctx context.Context, limit int) ([]ChatMemory, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, content, tags, created_at
		FROM chat_memories
		ORDER BY created_at DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list chat memories: %w", err)
	}
	defer rows.Close()
	return scanChatMemories(rows)
}

func (s *Store) SearchChatMemories(ctx context.Context, keyword string, limit int) ([]ChatMemory, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, content, tags, created_at
		FROM chat_memories
		WHERE content LIKE ?
		ORDER BY created_at DESC
		LIMIT ?`), "%"+keyword+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search chat memories: %w", err)
	}
	defer rows.Close()
	return scanChatMemories(rows)
}

func scanChatMemories(rows *sql.Rows) ([]ChatMemory, error) {
	var out []ChatMemory
	for rows.Next() {
		var m ChatMemory
		var tags sql.NullString
		if err := rows.Scan(&m.ID, &m.Content, &tags, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat memory: %w", err)
		}
		m.Tags = tags.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- deletion, shared across record kinds ----

// contentColumn names the searchable text column per table.
var contentColumn = map[string]string{
	"ai_diaries":    "content",
	"expenses":      "note",
	"promises":      "content",
	"wishlists":     "content",
	"milestones":    "title",
	"chat_memories": "content",
}

// DeleteByID removes one record from table.
func (s *Store) DeleteByID(ctx context.Context, table, id string) error {
	if _, ok := contentColumn[table]; !ok {
		return fmt.Errorf("delete: unknown table %q", table)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM `+table+` WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete by id: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLatestMatching removes the newest record whose content column
// contains keyword; an empty keyword removes the newest record outright.
// Returns the deleted record's content for confirmation messages.
func (s *Store) DeleteLatestMatching(ctx context.Context, table, keyword string) (string, error) {
	column, ok := contentColumn[table]
	if !ok {
		return "", fmt.Errorf("delete: unknown table %q", table)
	}

	query := `SELECT id, ` + column + ` FROM ` + table
	args := []any{}
	if keyword != "" {
		query += ` WHERE ` + column + ` LIKE ?`
		args = append(args, "%"+keyword+"%")
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	var id string
	var content sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&id, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find latest: %w", err)
	}
	if err := s.DeleteByID(ctx, table, id); err != nil {
		return "", err
	}
	return content.String, nil
}

func fillID(id *string) {
	if *id == "" {
		*id = uuid.New().String()
	}
}

func fillTime(t *time.Time) {
	if t.IsZero() {
		*t = time.Now().UTC()
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
