package summary

import (
	"context"
	"errors"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dreamhive/memgate/pkg/models"
)

type fakeStorage struct {
	lastRound int
	turns     []models.Turn

	inserted       *models.Summary
	rangeStart     int
	rangeEnd       int
	embeddedID     string
	embeddedVector []float32
}

func (f *fakeStorage) GetLastSummarizedRound(ctx context.Context, userID, channel string) (int, error) {
	return f.lastRound, nil
}

func (f *fakeStorage) GetTurnsInRoundRange(ctx context.Context, userID, channel string, start, end int) ([]models.Turn, error) {
	f.rangeStart, f.rangeEnd = start, end
	return f.turns, nil
}

func (f *fakeStorage) InsertSummary(ctx context.Context, sum *models.Summary) error {
	sum.ID = "sum-1"
	f.inserted = sum
	return nil
}

func (f *fakeStorage) UpdateSummaryEmbedding(ctx context.Context, id string, embedding []float32) error {
	f.embeddedID = id
	f.embeddedVector = embedding
	return nil
}

type fakeCompleter struct {
	text   string
	err    error
	prompt string
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []openai.ChatCompletionMessage, maxTokens int, temperature float32) (string, error) {
	if len(messages) > 0 {
		f.prompt = messages[0].Content
	}
	return f.text, f.err
}

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, models.EmbeddingDim), nil
}

func windowTurns(scenes ...models.Scene) []models.Turn {
	turns := make([]models.Turn, len(scenes))
	for i, s := range scenes {
		turns[i] = models.Turn{
			RoundNumber:  i + 1,
			UserMsg:      "u",
			AssistantMsg: "a",
			Scene:        s,
		}
	}
	return turns
}

func TestCheckAndGenerateBelowWindowDoesNothing(t *testing.T) {
	st := &fakeStorage{lastRound: 10}
	p := New(Config{Storage: st, Complete: &fakeCompleter{}, Embedder: &fakeEmbedder{}})

	if err := p.CheckAndGenerate(context.Background(), "dream", "web", 14); err != nil {
		t.Fatalf("CheckAndGenerate() error = %v", err)
	}
	if st.inserted != nil {
		t.Fatal("summary generated below window size")
	}
}

func TestCheckAndGenerateClosesWindow(t *testing.T) {
	st := &fakeStorage{
		lastRound: 10,
		turns: windowTurns(
			models.SceneDaily, models.SceneDaily, models.ScenePlot,
			models.SceneDaily, models.ScenePlot,
		),
	}
	c := &fakeCompleter{text: "聊了旅行计划，决定下月去杭州。"}
	p := New(Config{Storage: st, Complete: c, Embedder: &fakeEmbedder{}})

	if err := p.CheckAndGenerate(context.Background(), "dream", "web", 15); err != nil {
		t.Fatalf("CheckAndGenerate() error = %v", err)
	}

	if st.rangeStart != 11 || st.rangeEnd != 15 {
		t.Fatalf("window = [%d, %d], want [11, 15]", st.rangeStart, st.rangeEnd)
	}
	if st.inserted == nil {
		t.Fatal("summary not persisted")
	}
	if st.inserted.StartRound != 11 || st.inserted.EndRound != 15 {
		t.Errorf("summary rounds = [%d, %d], want [11, 15]", st.inserted.StartRound, st.inserted.EndRound)
	}
	if st.inserted.Scene != models.SceneDaily {
		t.Errorf("summary scene = %q, want daily plurality", st.inserted.Scene)
	}
	if !strings.Contains(c.prompt, "请用2-3句话") {
		t.Errorf("prompt missing instruction, got %q", c.prompt)
	}
	if !strings.Contains(c.prompt, "用户: u") {
		t.Errorf("prompt missing formatted turns, got %q", c.prompt)
	}
	// Inline backfill since no executor was supplied.
	if st.embeddedID != "sum-1" {
		t.Errorf("embedding backfilled for %q, want sum-1", st.embeddedID)
	}
}

func TestCheckAndGeneratePluralityScenePlot(t *testing.T) {
	st := &fakeStorage{
		lastRound: 0,
		turns: windowTurns(
			models.ScenePlot, models.ScenePlot, models.ScenePlot,
			models.SceneDaily, models.SceneDaily,
		),
	}
	p := New(Config{Storage: st, Complete: &fakeCompleter{text: "剧情推进。"}, Embedder: &fakeEmbedder{}})

	if err := p.CheckAndGenerate(context.Background(), "dream", "web", 5); err != nil {
		t.Fatalf("CheckAndGenerate() error = %v", err)
	}
	if st.inserted.Scene != models.ScenePlot {
		t.Fatalf("summary scene = %q, want plot", st.inserted.Scene)
	}
}

func TestCheckAndGenerateLLMFailure(t *testing.T) {
	st := &fakeStorage{lastRound: 0, turns: windowTurns(models.SceneDaily)}
	p := New(Config{
		Storage:  st,
		Complete: &fakeCompleter{err: errors.New("upstream down")},
		Embedder: &fakeEmbedder{},
	})

	if err := p.CheckAndGenerate(context.Background(), "dream", "web", 5); err == nil {
		t.Fatal("CheckAndGenerate() expected error on LLM failure")
	}
	if st.inserted != nil {
		t.Fatal("summary persisted despite LLM failure")
	}
}

func TestCheckAndGenerateEmptyWindowSkips(t *testing.T) {
	st := &fakeStorage{lastRound: 0, turns: nil}
	p := New(Config{Storage: st, Complete: &fakeCompleter{text: "x"}, Embedder: &fakeEmbedder{}})

	if err := p.CheckAndGenerate(context.Background(), "dream", "web", 5); err != nil {
		t.Fatalf("CheckAndGenerate() error = %v", err)
	}
	if st.inserted != nil {
		t.Fatal("summary persisted for empty window")
	}
}

func TestCheckAndGenerateCustomWindow(t *testing.T) {
	st := &fakeStorage{
		lastRound: 0,
		turns:     windowTurns(models.SceneDaily, models.SceneDaily, models.SceneDaily),
	}
	p := New(Config{
		Storage:  st,
		Complete: &fakeCompleter{text: "要点。"},
		Embedder: &fakeEmbedder{},
		Window:   3,
	})

	if err := p.CheckAndGenerate(context.Background(), "dream", "web", 2); err != nil {
		t.Fatalf("CheckAndGenerate() error = %v", err)
	}
	if st.inserted != nil {
		t.Fatal("summary generated before the configured window closed")
	}

	if err := p.CheckAndGenerate(context.Background(), "dream", "web", 3); err != nil {
		t.Fatalf("CheckAndGenerate() error = %v", err)
	}
	if st.inserted == nil {
		t.Fatal("summary not generated at the configured window size")
	}
	if st.inserted.StartRound != 1 || st.inserted.EndRound != 3 {
		t.Fatalf("summary rounds = [%d, %d], want [1, 3]",
			st.inserted.StartRound, st.inserted.EndRound)
	}
}

func TestCheckAndGenerateUsesExecutorForBackfill(t *testing.T) {
	st := &fakeStorage{lastRound: 0, turns: windowTurns(models.SceneDaily)}
	var submitted string
	p := New(Config{
		Storage:  st,
		Complete: &fakeCompleter{text: "要点。"},
		Embedder: &fakeEmbedder{},
		Submit: func(name string, fn func(context.Context) error) {
			submitted = name
			_ = fn(context.Background())
		},
	})

	if err := p.CheckAndGenerate(context.Background(), "dream", "web", 5); err != nil {
		t.Fatalf("CheckAndGenerate() error = %v", err)
	}
	if submitted != "summary_embedding" {
		t.Fatalf("submitted task = %q, want summary_embedding", submitted)
	}
	if st.embeddedID != "sum-1" {
		t.Fatalf("embedding backfilled for %q, want sum-1", st.embeddedID)
	}
}
