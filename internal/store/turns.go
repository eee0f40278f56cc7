package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dreamhive/memgate/pkg/models"
)

const turnColumns = `id, user_id, channel, round_number, user_msg, assistant_msg, scene_type, topic, emotion, weight, synced, created_at`

// InsertTurn persists one exchange. Missing ID, scene, and timestamp are
// filled in and written back to turn.
func (s *Store) InsertTurn(ctx context.Context, turn *models.Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	if turn.Scene == "" {
		turn.Scene = models.SceneDaily
	}

	return s.do(ctx, "insert_turn", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO conversations
				(id, user_id, channel, round_number, user_msg, assistant_msg, scene_type, topic, emotion, weight, embedding, synced, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			turn.ID,
			turn.UserID,
			turn.Channel,
			turn.RoundNumber,
			turn.UserMsg,
			turn.AssistantMsg,
			string(turn.Scene),
			nullString(turn.Topic),
			nullString(turn.Emotion),
			turn.Weight,
			encodeEmbedding(turn.Embedding),
			turn.Synced,
			turn.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		return nil
	})
}

// NextRound allocates the next round number for (user, channel). Two
// concurrent requests may receive the same round; readers tolerate
// duplicates by ordering on (round_number, created_at).
func (s *Store) NextRound(ctx context.Context, userID, channel string) (int, error) {
	var round int
	err := s.do(ctx, "next_round", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(round_number), 0) + 1
			FROM conversations
			WHERE user_id = $1 AND channel = $2`,
			userID, channel,
		).Scan(&round)
	})
	if err != nil {
		return 0, fmt.Errorf("next round: %w", err)
	}
	return round, nil
}

// GetRecentTurns returns the newest turns for (user, channel), newest first.
func (s *Store) GetRecentTurns(ctx context.Context, userID, channel string, limit int) ([]models.Turn, error) {
	if limit <= 0 {
		limit = 4
	}
	var turns []models.Turn
	err := s.do(ctx, "get_recent_turns", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+turnColumns+`
			FROM conversations
			WHERE user_id = $1 AND channel = $2
			ORDER BY created_at DESC
			LIMIT $3`,
			userID, channel, limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		turns, err = scanTurns(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get recent turns: %w", err)
	}
	return turns, nil
}

// GetTurnsInRoundRange returns turns whose round falls inside [start, end],
// ordered by round then time so duplicate rounds read deterministically.
func (s *Store) GetTurnsInRoundRange(ctx context.Context, userID, channel string, start, end int) ([]models.Turn, error) {
	var turns []models.Turn
	err := s.do(ctx, "get_turns_in_round_range", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+turnColumns+`
			FROM conversations
			WHERE user_id = $1 AND channel = $2 AND round_number BETWEEN $3 AND $4
			ORDER BY round_number ASC, created_at ASC`,
			userID, channel, start, end,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		turns, err = scanTurns(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get turns in round range: %w", err)
	}
	return turns, nil
}

// GetUnembedded returns turns still waiting for an embedding, oldest first.
func (s *Store) GetUnembedded(ctx context.Context, limit int) ([]models.Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	var turns []models.Turn
	err := s.do(ctx, "get_unembedded", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+turnColumns+`
			FROM conversations
			WHERE embedding IS NULL
			ORDER BY created_at ASC
			LIMIT $1`,
			limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		turns, err = scanTurns(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get unembedded: %w", err)
	}
	return turns, nil
}

// UpdateTurnEmbedding stores the vector for one turn.
func (s *Store) UpdateTurnEmbedding(ctx context.Context, id string, embedding []float32) error {
	if len(embedding) != models.EmbeddingDim {
		return fmt.Errorf("update turn embedding: dimension %d, want %d", len(embedding), models.EmbeddingDim)
	}
	return s.do(ctx, "update_turn_embedding", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE conversations SET embedding = $2 WHERE id = $1`,
			id, encodeEmbedding(embedding),
		)
		if err != nil {
			return fmt.Errorf("update turn embedding: %w", err)
		}
		return nil
	})
}

// IncrementWeight bumps a cited turn's weight. Best-effort: concurrent
// increments may interleave and the caller ignores the error.
func (s *Store) IncrementWeight(ctx context.Context, id string) error {
	return s.do(ctx, "increment_weight", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE conversations SET weight = weight + 1 WHERE id = $1`,
			id,
		)
		if err != nil {
			return fmt.Errorf("increment weight: %w", err)
		}
		return nil
	})
}

// GetUnsynced returns turns not yet handed to the archive, oldest first.
func (s *Store) GetUnsynced(ctx context.Context, limit int) ([]models.Turn, error) {
	if limit <= 0 {
		limit = 100
	}
	var turns []models.Turn
	err := s.do(ctx, "get_unsynced", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+turnColumns+`
			FROM conversations
			WHERE NOT synced
			ORDER BY created_at ASC
			LIMIT $1`,
			limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		turns, err = scanTurns(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get unsynced: %w", err)
	}
	return turns, nil
}

// MarkSynced records a successful archive hand-off.
func (s *Store) MarkSynced(ctx context.Context, id string) error {
	return s.do(ctx, "mark_synced", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE conversations SET synced = TRUE WHERE id = $1`,
			id,
		)
		if err != nil {
			return fmt.Errorf("mark synced: %w", err)
		}
		return nil
	})
}

// CleanupOldEmbeddings drops turn vectors older than the cutoff and returns
// how many were evicted. Summary vectors are never touched.
func (s *Store) CleanupOldEmbeddings(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	var affected int64
	err := s.do(ctx, "cleanup_old_embeddings", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE conversations SET embedding = NULL
			WHERE embedding IS NOT NULL AND created_at < $1`,
			cutoff,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup old embeddings: %w", err)
	}
	return affected, nil
}

// SearchRecentByEmotion returns recent turns with a matching emotion label.
func (s *Store) SearchRecentByEmotion(ctx context.Context, userID, emotion string, days, limit int) ([]models.Hit, error) {
	if days <= 0 {
		days = 3
	}
	if limit <= 0 {
		limit = 3
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	var hits []models.Hit
	err := s.do(ctx, "search_recent_by_emotion", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, user_msg, assistant_msg, scene_type, created_at
			FROM conversations
			WHERE user_id = $1 AND emotion = $2 AND created_at >= $3
			ORDER BY created_at DESC
			LIMIT $4`,
			userID, emotion, cutoff, limit,
		)
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
			h.Match = models.MatchKeyword
			hits = append(hits, h)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("search recent by emotion: %w", err)
	}
	return hits, nil
}

func scanTurns(rows *sql.Rows) ([]models.Turn, error) {
	var turns []models.Turn
	for rows.Next() {
		var t models.Turn
		var scene string
		var topic, emotion sql.NullString
		if err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.Channel,
			&t.RoundNumber,
			&t.UserMsg,
			&t.AssistantMsg,
			&scene,
			&topic,
			&emotion,
			&t.Weight,
			&t.Synced,
			&t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Scene = models.Scene(scene)
		t.Topic = topic.String
		t.Emotion = emotion.String
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("turns rows: %w", err)
	}
	return turns, nil
}
