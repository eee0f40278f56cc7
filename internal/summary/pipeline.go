// Package summary condenses closed windows of conversation rounds into
// short summaries that the retrieval and injection layers can serve long
// after the raw turns age out of context.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dreamhive/memgate/pkg/models"
)

const (
	// defaultWindowSize is how many rounds accumulate before a summary is cut.
	defaultWindowSize = 5

	summaryMaxTokens   = 200
	summaryTemperature = 0.3

	summaryPrompt = "请用2-3句话简洁总结以下对话的要点，保留关键信息（人名、事件、决定等）：\n\n"
)

// Storage is the store surface the pipeline needs.
type Storage interface {
	GetLastSummarizedRound(ctx context.Context, userID, channel string) (int, error)
	GetTurnsInRoundRange(ctx context.Context, userID, channel string, start, end int) ([]models.Turn, error)
	InsertSummary(ctx context.Context, sum *models.Summary) error
	UpdateSummaryEmbedding(ctx context.Context, id string, embedding []float32) error
}

// Completer produces the summary text.
type Completer interface {
	Complete(ctx context.Context, messages []openai.ChatCompletionMessage, maxTokens int, temperature float32) (string, error)
}

// Embedder vectorizes the finished summary.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Pipeline checks window completion after each captured turn and generates
// summaries when a window closes.
type Pipeline struct {
	storage  Storage
	complete Completer
	embedder Embedder
	window   int
	logger   *slog.Logger

	// submit hands the embedding backfill to the background executor; when
	// nil the backfill runs inline.
	submit func(name string, fn func(context.Context) error)
}

// Config wires a Pipeline.
type Config struct {
	Storage  Storage
	Complete Completer
	Embedder Embedder
	// Window is how many rounds close a summary window; default 5.
	Window int
	Logger *slog.Logger
	Submit func(name string, fn func(context.Context) error)
}

// New creates the pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultWindowSize
	}
	return &Pipeline{
		storage:  cfg.Storage,
		complete: cfg.Complete,
		embedder: cfg.Embedder,
		window:   window,
		logger:   logger,
		submit:   cfg.Submit,
	}
}

// CheckAndGenerate summarizes the next window when a full window of rounds
// has accumulated past the last summary. It is called after each captured
// turn; most calls return without work.
func (p *Pipeline) CheckAndGenerate(ctx context.Context, userID, channel string, currentRound int) error {
	last, err := p.storage.GetLastSummarizedRound(ctx, userID, channel)
	if err != nil {
		return fmt.Errorf("check summary window: %w", err)
	}
	if currentRound-last < p.window {
		return nil
	}

	start, end := last+1, last+p.window
	turns, err := p.storage.GetTurnsInRoundRange(ctx, userID, channel, start, end)
	if err != nil {
		return fmt.Errorf("load window turns: %w", err)
	}
	if len(turns) == 0 {
		return nil
	}

	text, err := p.summarize(ctx, turns)
	if err != nil {
		return fmt.Errorf("summarize rounds %d-%d: %w", start, end, err)
	}

	sum := &models.Summary{
		UserID:     userID,
		Channel:    channel,
		StartRound: start,
		EndRound:   end,
		Summary:    text,
		Scene:      dominantScene(turns),
	}
	if err := p.storage.InsertSummary(ctx, sum); err != nil {
		return fmt.Errorf("persist summary: %w", err)
	}

	p.logger.Info("summary generated",
		"user", userID, "channel", channel, "rounds", fmt.Sprintf("%d-%d", start, end))

	p.backfillEmbedding(ctx, sum.ID, text)
	return nil
}

func (p *Pipeline) summarize(ctx context.Context, turns []models.Turn) (string, error) {
	var b strings.Builder
	b.WriteString(summaryPrompt)
	for _, t := range turns {
		fmt.Fprintf(&b, "用户: %s\n助手: %s\n", t.UserMsg, t.AssistantMsg)
	}

	text, err := p.complete.Complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: b.String()},
	}, summaryMaxTokens, summaryTemperature)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty summary text")
	}
	return text, nil
}

func (p *Pipeline) backfillEmbedding(ctx context.Context, id, text string) {
	task := func(ctx context.Context) error {
		embedding, err := p.embedder.Embed(ctx, text)
		if err != nil {
			return fmt.Errorf("embed summary %s: %w", id, err)
		}
		return p.storage.UpdateSummaryEmbedding(ctx, id, embedding)
	}

	if p.submit != nil {
		p.submit("summary_embedding", task)
		return
	}
	if err := task(ctx); err != nil {
		p.logger.Warn("summary embedding backfill failed", "error", err)
	}
}

// dominantScene picks the plurality scene over a window. Ties break by the
// iteration order daily, plot, meta with daily as the overall default.
func dominantScene(turns []models.Turn) models.Scene {
	counts := make(map[models.Scene]int, 3)
	for _, t := range turns {
		scene := t.Scene
		if !scene.Valid() {
			scene = models.SceneDaily
		}
		counts[scene]++
	}

	best := models.SceneDaily
	bestCount := counts[models.SceneDaily]
	for _, scene := range []models.Scene{models.ScenePlot, models.SceneMeta} {
		if counts[scene] > bestCount {
			best = scene
			bestCount = counts[scene]
		}
	}
	return best
}
