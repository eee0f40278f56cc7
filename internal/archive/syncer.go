// Package archive streams captured turns to an external long-term memory
// service. Sync is at-least-once: a turn stays unsynced until the service
// acknowledges it, and unsynced rows are retried on every cycle.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dreamhive/memgate/pkg/models"
)

const (
	batchSize = 10
	// pacing between uploads keeps the archive service from rate-limiting.
	defaultPace = time.Second
)

// TurnSource is the store surface the syncer needs.
type TurnSource interface {
	GetUnsynced(ctx context.Context, limit int) ([]models.Turn, error)
	MarkSynced(ctx context.Context, id string) error
}

// Stats counts sync outcomes since startup.
type Stats struct {
	Synced  int64 `json:"synced"`
	Failed  int64 `json:"failed"`
	Skipped int64 `json:"skipped_cycles"`
}

// Syncer pushes unsynced turns to the archive service on a fixed interval.
type Syncer struct {
	store    TurnSource
	baseURL  string
	interval time.Duration
	pace     time.Duration
	http     *http.Client
	logger   *slog.Logger

	synced  atomic.Int64
	failed  atomic.Int64
	skipped atomic.Int64
}

// Config wires a Syncer.
type Config struct {
	Store    TurnSource
	BaseURL  string
	Interval time.Duration
	// Pace overrides the per-upload delay; zero keeps the default.
	Pace   time.Duration
	Logger *slog.Logger
}

// New creates a syncer. Run starts the loop.
func New(cfg Config) *Syncer {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	pace := cfg.Pace
	if pace == 0 {
		pace = defaultPace
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		store:    cfg.Store,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		interval: interval,
		pace:     pace,
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   logger.With("component", "archive"),
	}
}

// Run loops until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// cycle syncs one batch. The health probe gates the whole cycle so a dead
// service does not burn a failed request per turn.
func (s *Syncer) cycle(ctx context.Context) {
	if !s.healthy(ctx) {
		s.skipped.Add(1)
		s.logger.Debug("archive service down, skipping cycle")
		return
	}

	turns, err := s.store.GetUnsynced(ctx, batchSize)
	if err != nil {
		s.logger.Warn("load unsynced turns", "error", err)
		return
	}

	for i, turn := range turns {
		if ctx.Err() != nil {
			return
		}
		if err := s.upload(ctx, turn); err != nil {
			s.failed.Add(1)
			s.logger.Warn("archive turn", "turn_id", turn.ID, "error", err)
			continue
		}
		if err := s.store.MarkSynced(ctx, turn.ID); err != nil {
			s.logger.Warn("mark synced", "turn_id", turn.ID, "error", err)
			continue
		}
		s.synced.Add(1)

		if i < len(turns)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.pace):
			}
		}
	}
}

func (s *Syncer) healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

func (s *Syncer) upload(ctx context.Context, turn models.Turn) error {
	payload, err := json.Marshal(map[string]string{
		"user_id":      turn.UserID,
		"conversation": fmt.Sprintf("User: %s\nAssistant: %s", turn.UserMsg, turn.AssistantMsg),
	})
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/memorize", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("post turn: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("archive service status %d", resp.StatusCode)
	}
	return nil
}

// Stats returns a snapshot of the sync counters.
func (s *Syncer) Stats() Stats {
	return Stats{
		Synced:  s.synced.Load(),
		Failed:  s.failed.Load(),
		Skipped: s.skipped.Load(),
	}
}
