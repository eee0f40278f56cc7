package store

import (
	"context"
	"fmt"

	"github.com/lib/pq"
)

// LoadSynonymMap reads the whole synonym table. The expander caches the
// result and refreshes on a timer, so this never runs on a request path.
func (s *Store) LoadSynonymMap(ctx context.Context) (map[string][]string, error) {
	mapping := make(map[string][]string)
	err := s.do(ctx, "load_synonym_map", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `SELECT term, synonyms FROM synonym_map`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var term string
			var synonyms pq.StringArray
			if err := rows.Scan(&term, &synonyms); err != nil {
				return err
			}
			mapping[term] = []string(synonyms)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("load synonym map: %w", err)
	}
	return mapping, nil
}

// UpsertSynonyms replaces the synonym list for one term.
func (s *Store) UpsertSynonyms(ctx context.Context, term string, synonyms []string) error {
	return s.do(ctx, "upsert_synonyms", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO synonym_map (term, synonyms)
			VALUES ($1, $2)
			ON CONFLICT (term) DO UPDATE SET synonyms = EXCLUDED.synonyms`,
			term, pq.Array(synonyms),
		)
		if err != nil {
			return fmt.Errorf("upsert synonyms: %w", err)
		}
		return nil
	})
}
