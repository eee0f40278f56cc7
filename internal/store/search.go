package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/lib/pq"

	"github.com/dreamhive/memgate/pkg/models"
)

// SearchFilter narrows vector and keyword searches.
type SearchFilter struct {
	// Scene filters results: "daily" matches daily and plot, any other
	// non-empty scene matches exactly, empty matches everything.
	Scene models.Scene
	// Channel restricts to one channel when non-empty.
	Channel string
}

// sceneValues expands the scene filter to the set of accepted values.
func (f SearchFilter) sceneValues() []string {
	switch f.Scene {
	case "":
		return nil
	case models.SceneDaily:
		return []string{string(models.SceneDaily), string(models.ScenePlot)}
	default:
		return []string{string(f.Scene)}
	}
}

// VectorSearchTurns finds the most similar turns. It calls the
// search_conversations_v2 SQL function first; when that fails (missing
// function, stale schema) it falls back to an in-process cosine scan over
// the newest candidates.
func (s *Store) VectorSearchTurns(ctx context.Context, embedding []float32, limit int, filter SearchFilter) ([]models.Hit, error) {
	if limit <= 0 {
		limit = 15
	}

	hits, rpcErr := s.rpcSearchTurns(ctx, embedding, limit, filter)
	if rpcErr == nil {
		return hits, nil
	}
	s.logger.Warn("vector RPC failed, falling back to client-side scan",
		"table", "conversations", "error", rpcErr)

	return s.fallbackSearchTurns(ctx, embedding, limit, filter)
}

// VectorSearchSummaries is VectorSearchTurns for the summaries table.
func (s *Store) VectorSearchSummaries(ctx context.Context, embedding []float32, limit int, filter SearchFilter) ([]models.Hit, error) {
	if limit <= 0 {
		limit = 5
	}

	hits, rpcErr := s.rpcSearchSummaries(ctx, embedding, limit, filter)
	if rpcErr == nil {
		return hits, nil
	}
	s.logger.Warn("vector RPC failed, falling back to client-side scan",
		"table", "summaries", "error", rpcErr)

	return s.fallbackSearchSummaries(ctx, embedding, limit, filter)
}

func (s *Store) rpcSearchTurns(ctx context.Context, embedding []float32, limit int, filter SearchFilter) ([]models.Hit, error) {
	var hits []models.Hit
	err := s.do(ctx, "vector_search_turns", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, user_msg, assistant_msg, scene_type, created_at, similarity
			FROM search_conversations_v2($1::vector, $2, $3, $4)`,
			encodeEmbedding(embedding),
			limit,
			nullString(string(filter.Scene)),
			nullString(filter.Channel),
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		hits, err = scanHitRows(rows, models.HitTurn)
		return err
	})
	return hits, err
}

func (s *Store) rpcSearchSummaries(ctx context.Context, embedding []float32, limit int, filter SearchFilter) ([]models.Hit, error) {
	var hits []models.Hit
	err := s.do(ctx, "vector_search_summaries", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, summary, scene_type, created_at, similarity
			FROM search_summaries_v2($1::vector, $2, $3, $4)`,
			encodeEmbedding(embedding),
			limit,
			nullString(string(filter.Scene)),
			nullString(filter.Channel),
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var h models.Hit
			var scene string
			if err := rows.Scan(&h.ID, &h.Summary, &scene, &h.CreatedAt, &h.Similarity); err != nil {
				return err
			}
			h.Kind = models.HitSummary
			h.Scene = models.Scene(scene)
			hits = append(hits, h)
		}
		return rows.Err()
	})
	return hits, err
}

// fallbackSearchTurns scans the newest 3x candidates with embeddings and
// ranks them by cosine similarity in process.
func (s *Store) fallbackSearchTurns(ctx context.Context, embedding []float32, limit int, filter SearchFilter) ([]models.Hit, error) {
	type candidate struct {
		hit models.Hit
		vec []float32
	}
	var candidates []candidate

	err := s.do(ctx, "vector_search_turns_fallback", func(ctx context.Context) error {
		query := `
			SELECT id, user_msg, assistant_msg, scene_type, created_at, embedding
			FROM conversations
			WHERE embedding IS NOT NULL`
		args := []any{}
		argNum := 1

		if filter.Channel != "" {
			query += fmt.Sprintf(" AND channel = $%d", argNum)
			args = append(args, filter.Channel)
			argNum++
		}
		if scenes := filter.sceneValues(); scenes != nil {
			query += fmt.Sprintf(" AND scene_type = ANY($%d)", argNum)
			args = append(args, pq.Array(scenes))
			argNum++
		}

		query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argNum)
		args = append(args, limit*3)

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var c candidate
			var scene string
			var vecStr sql.NullString
			if err := rows.Scan(&c.hit.ID, &c.hit.UserMsg, &c.hit.AssistantMsg, &scene, &c.hit.CreatedAt, &vecStr); err != nil {
				return err
			}
			c.hit.Kind = models.HitTurn
			c.hit.Scene = models.Scene(scene)
			if vecStr.Valid {
				c.vec = decodeEmbedding(vecStr.String)
			}
			candidates = append(candidates, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("fallback vector search turns: %w", err)
	}

	for i := range candidates {
		candidates[i].hit.Similarity = cosineSimilarity(embedding, candidates[i].vec)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].hit.Similarity > candidates[j].hit.Similarity
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	hits := make([]models.Hit, 0, len(candidates))
	for _, c := range candidates {
		hits = append(hits, c.hit)
	}
	return hits, nil
}

func (s *Store) fallbackSearchSummaries(ctx context.Context, embedding []float32, limit int, filter SearchFilter) ([]models.Hit, error) {
	type candidate struct {
		hit models.Hit
		vec []float32
	}
	var candidates []candidate

	err := s.do(ctx, "vector_search_summaries_fallback", func(ctx context.Context) error {
		query := `
			SELECT id, summary, scene_type, created_at, embedding
			FROM summaries
			WHERE embedding IS NOT NULL`
		args := []any{}
		argNum := 1

		if filter.Channel != "" {
			query += fmt.Sprintf(" AND channel = $%d", argNum)
			args = append(args, filter.Channel)
			argNum++
		}
		if scenes := filter.sceneValues(); scenes != nil {
			query += fmt.Sprintf(" AND scene_type = ANY($%d)", argNum)
			args = append(args, pq.Array(scenes))
			argNum++
		}

		query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argNum)
		args = append(args, limit*3)

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var c candidate
			var scene string
			var vecStr sql.NullString
			if err := rows.Scan(&c.hit.ID, &c.hit.Summary, &scene, &c.hit.CreatedAt, &vecStr); err != nil {
				return err
			}
			c.hit.Kind = models.HitSummary
			c.hit.Scene = models.Scene(scene)
			if vecStr.Valid {
				c.vec = decodeEmbedding(vecStr.String)
			}
			candidates = append(candidates, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("fallback vector search summaries: %w", err)
	}

	for i := range candidates {
		candidates[i].hit.Similarity = cosineSimilarity(embedding, candidates[i].vec)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].hit.Similarity > candidates[j].hit.Similarity
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	hits := make([]models.Hit, 0, len(candidates))
	for _, c := range candidates {
		hits = append(hits, c.hit)
	}
	return hits, nil
}

// SearchTurnsByKeyword finds turns whose user or assistant text contains
// term, newest first.
func (s *Store) SearchTurnsByKeyword(ctx context.Context, term string, limit int, filter SearchFilter) ([]models.Hit, error) {
	if limit <= 0 {
		limit = 15
	}
	var hits []models.Hit
	err := s.do(ctx, "keyword_search_turns", func(ctx context.Context) error {
		query := `
			SELECT id, user_msg, assistant_msg, scene_type, created_at
			FROM conversations
			WHERE (user_msg ILIKE '%' || $1 || '%' OR assistant_msg ILIKE '%' || $1 || '%')`
		args := []any{term}
		argNum := 2

		if filter.Channel != "" {
			query += fmt.Sprintf(" AND channel = $%d", argNum)
			args = append(args, filter.Channel)
			argNum++
		}
		if scenes := filter.sceneValues(); scenes != nil {
			query += fmt.Sprintf(" AND scene_type = ANY($%d)", argNum)
			args = append(args, pq.Array(scenes))
			argNum++
		}

		query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argNum)
		args = append(args, limit)

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var h models.Hit
			var scene string
			if err := rows.Scan(&h.ID, &h.UserMsg, &h.AssistantMsg, &scene, &h.CreatedAt); err != nil {
				return err
			}
			h.Kind = models.HitTurn
			h.Scene = models.Scene(scene)
			hits = append(hits, h)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search turns: %w", err)
	}
	return hits, nil
}

// SearchSummariesByKeyword finds summaries containing term, newest first.
func (s *Store) SearchSummariesByKeyword(ctx context.Context, term string, limit int, filter SearchFilter) ([]models.Hit, error) {
	if limit <= 0 {
		limit = 5
	}
	var hits []models.Hit
	err := s.do(ctx, "keyword_search_summaries", func(ctx context.Context) error {
		query := `
			SELECT id, summary, scene_type, created_at
			FROM summaries
			WHERE summary ILIKE '%' || $1 || '%'`
		args := []any{term}
		argNum := 2

		if filter.Channel != "" {
			query += fmt.Sprintf(" AND channel = $%d", argNum)
			args = append(args, filter.Channel)
			argNum++
		}
		if scenes := filter.sceneValues(); scenes != nil {
			query += fmt.Sprintf(" AND scene_type = ANY($%d)", argNum)
			args = append(args, pq.Array(scenes))
			argNum++
		}

		query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argNum)
		args = append(args, limit)

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var h models.Hit
			var scene string
			if err := rows.Scan(&h.ID, &h.Summary, &scene, &h.CreatedAt); err != nil {
				return err
			}
			h.Kind = models.HitSummary
			h.Scene = models.Scene(scene)
			hits = append(hits, h)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search summaries: %w", err)
	}
	return hits, nil
}

func scanHitRows(rows *sql.Rows, kind models.HitKind) ([]models.Hit, error) {
	var hits []models.Hit
	for rows.Next() {
		var h models.Hit
		var scene string
		if err := rows.Scan(&h.ID, &h.UserMsg, &h.AssistantMsg, &scene, &h.CreatedAt, &h.Similarity); err != nil {
			return nil, err
		}
		h.Kind = kind
		h.Scene = models.Scene(scene)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
