package proxy

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dreamhive/memgate/pkg/models"
)

type fakeStore struct {
	mu      sync.Mutex
	round   int
	turns   []models.Turn
	weights []string
	embeds  map[string][]float32
}

func (f *fakeStore) NextRound(ctx context.Context, userID, channel string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.round++
	return f.round, nil
}

func (f *fakeStore) InsertTurn(ctx context.Context, turn *models.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	turn.ID = fmt.Sprintf("turn-%d", len(f.turns)+1)
	f.turns = append(f.turns, *turn)
	return nil
}

func (f *fakeStore) IncrementWeight(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weights = append(f.weights, id)
	return nil
}

func (f *fakeStore) UpdateTurnEmbedding(ctx context.Context, id string, embedding []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.embeds == nil {
		f.embeds = make(map[string][]float32)
	}
	f.embeds[id] = embedding
	return nil
}

// inlineBackground runs submitted tasks synchronously so tests can assert
// on capture side effects right after the handler returns.
type inlineBackground struct{}

func (inlineBackground) Submit(name string, fn func(context.Context) error) {
	_ = fn(context.Background())
}

type fakeSummarizer struct {
	mu    sync.Mutex
	calls []int
}

func (f *fakeSummarizer) CheckAndGenerate(ctx context.Context, userID, channel string, currentRound int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, currentRound)
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedTurn(ctx context.Context, userMsg, assistantMsg string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func TestShouldSkipStorage(t *testing.T) {
	tests := []struct {
		msg  string
		skip bool
	}{
		{"今天过得怎么样", false},
		{"", true},
		{"嗯", true},
		{"  好  ", true},
		{"请帮我总结一下这段对话", true},
		{"You are a helpful assistant", true},
		{"system_auto: refresh", true},
		{"health_check", true},
		{"我想看那部电影的 Title 吗", true},
		{"昨天的饭真好吃", false},
	}
	for _, tt := range tests {
		if got := shouldSkipStorage(tt.msg); got != tt.skip {
			t.Errorf("shouldSkipStorage(%q) = %v, want %v", tt.msg, got, tt.skip)
		}
	}
}

func TestLastUserMessage(t *testing.T) {
	tests := []struct {
		name     string
		messages []any
		want     string
	}{
		{
			name: "plain string content",
			messages: []any{
				map[string]any{"role": "system", "content": "be nice"},
				map[string]any{"role": "user", "content": "第一句"},
				map[string]any{"role": "assistant", "content": "好的"},
				map[string]any{"role": "user", "content": "第二句"},
			},
			want: "第二句",
		},
		{
			name: "multi part content",
			messages: []any{
				map[string]any{"role": "user", "content": []any{
					map[string]any{"type": "text", "text": "看看这张图"},
					map[string]any{"type": "image_url", "image_url": map[string]any{"url": "https://x/1.png"}},
					map[string]any{"type": "text", "text": "好看吗"},
				}},
			},
			want: "看看这张图 好看吗",
		},
		{name: "no user message", messages: []any{map[string]any{"role": "system", "content": "x"}}, want: ""},
		{name: "empty", messages: nil, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lastUserMessage(tt.messages); got != tt.want {
				t.Errorf("lastUserMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractCitations(t *testing.T) {
	text := "我记得那次旅行[[used:550e8400-e29b-41d4-a716-446655440000]]，很开心[[used:660e8400-e29b-41d4-a716-446655440001]]"
	clean, ids := extractCitations(text)
	if clean != "我记得那次旅行，很开心" {
		t.Errorf("clean = %q", clean)
	}
	if len(ids) != 2 || ids[0] != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("ids = %v", ids)
	}

	clean, ids = extractCitations("没有引用的普通回复")
	if clean != "没有引用的普通回复" || ids != nil {
		t.Errorf("no-marker case = %q, %v", clean, ids)
	}
}

func TestCapturePersistsTurnAndFansOut(t *testing.T) {
	store := &fakeStore{}
	summaries := &fakeSummarizer{}
	h := New(Config{
		Store:      store,
		Summaries:  summaries,
		Embedder:   fakeEmbedder{},
		Background: inlineBackground{},
	})

	in := captureInput{userID: "dream", channel: "deepseek", scene: models.SceneDaily, userMsg: "还记得那次旅行吗"}
	h.capture(in, "记得呀[[used:550e8400-e29b-41d4-a716-446655440000]]", "")

	if len(store.turns) != 1 {
		t.Fatalf("turns = %d, want 1", len(store.turns))
	}
	turn := store.turns[0]
	if turn.AssistantMsg != "记得呀" {
		t.Errorf("stored assistant msg = %q, citation marker not stripped", turn.AssistantMsg)
	}
	if turn.RoundNumber != 1 || turn.UserID != "dream" || turn.Channel != "deepseek" {
		t.Errorf("turn = %+v", turn)
	}
	if len(store.weights) != 1 || store.weights[0] != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("weights = %v", store.weights)
	}
	if len(summaries.calls) != 1 || summaries.calls[0] != 1 {
		t.Errorf("summary calls = %v", summaries.calls)
	}
	if len(store.embeds["turn-1"]) == 0 {
		t.Error("turn embedding not backfilled")
	}
}

func TestCaptureFallsBackToReasoning(t *testing.T) {
	store := &fakeStore{}
	h := New(Config{Store: store, Background: inlineBackground{}})

	h.capture(captureInput{userID: "dream", channel: "deepseek", userMsg: "在想什么"}, "", "在想今天的晚饭")
	if len(store.turns) != 1 || store.turns[0].AssistantMsg != "在想今天的晚饭" {
		t.Fatalf("turns = %+v", store.turns)
	}
}

func TestCaptureSkipsSystemTraffic(t *testing.T) {
	store := &fakeStore{}
	h := New(Config{Store: store, Background: inlineBackground{}})

	h.capture(captureInput{userID: "dream", channel: "deepseek", userMsg: "请总结以下内容"}, "好的", "")
	h.capture(captureInput{userID: "dream", channel: "deepseek", userMsg: "正常的消息"}, "", "")
	if len(store.turns) != 0 {
		t.Errorf("turns = %d, want 0", len(store.turns))
	}
}
