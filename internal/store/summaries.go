package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dreamhive/memgate/pkg/models"
)

// InsertSummary persists a window summary. Summaries are never evicted.
func (s *Store) InsertSummary(ctx context.Context, sum *models.Summary) error {
	if sum.ID == "" {
		sum.ID = uuid.New().String()
	}
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now().UTC()
	}
	if sum.Scene == "" {
		sum.Scene = models.SceneDaily
	}

	return s.do(ctx, "insert_summary", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO summaries
				(id, user_id, channel, start_round, end_round, summary, scene_type, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			sum.ID,
			sum.UserID,
			sum.Channel,
			sum.StartRound,
			sum.EndRound,
			sum.Summary,
			string(sum.Scene),
			encodeEmbedding(sum.Embedding),
			sum.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert summary: %w", err)
		}
		return nil
	})
}

// GetRecentSummaries returns the newest summaries for (user, channel).
func (s *Store) GetRecentSummaries(ctx context.Context, userID, channel string, limit int) ([]models.Summary, error) {
	if limit <= 0 {
		limit = 3
	}
	var sums []models.Summary
	err := s.do(ctx, "get_recent_summaries", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, user_id, channel, start_round, end_round, summary, scene_type, created_at
			FROM summaries
			WHERE user_id = $1 AND channel = $2
			ORDER BY end_round DESC
			LIMIT $3`,
			userID, channel, limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var m models.Summary
			var scene string
			if err := rows.Scan(&m.ID, &m.UserID, &m.Channel, &m.StartRound, &m.EndRound, &m.Summary, &scene, &m.CreatedAt); err != nil {
				return err
			}
			m.Scene = models.Scene(scene)
			sums = append(sums, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get recent summaries: %w", err)
	}
	return sums, nil
}

// GetLastSummarizedRound returns the highest round any summary covers, or 0.
func (s *Store) GetLastSummarizedRound(ctx context.Context, userID, channel string) (int, error) {
	var round int
	err := s.do(ctx, "get_last_summarized_round", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(end_round), 0)
			FROM summaries
			WHERE user_id = $1 AND channel = $2`,
			userID, channel,
		).Scan(&round)
	})
	if err != nil {
		return 0, fmt.Errorf("get last summarized round: %w", err)
	}
	return round, nil
}

// UpdateSummaryEmbedding stores the vector for one summary.
func (s *Store) UpdateSummaryEmbedding(ctx context.Context, id string, embedding []float32) error {
	if len(embedding) != models.EmbeddingDim {
		return fmt.Errorf("update summary embedding: dimension %d, want %d", len(embedding), models.EmbeddingDim)
	}
	return s.do(ctx, "update_summary_embedding", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE summaries SET embedding = $2 WHERE id = $1`,
			id, encodeEmbedding(embedding),
		)
		if err != nil {
			return fmt.Errorf("update summary embedding: %w", err)
		}
		return nil
	})
}
