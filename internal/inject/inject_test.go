package inject

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dreamhive/memgate/pkg/models"
)

type fakeRetriever struct {
	hits      []models.Hit
	lastScene models.Scene
	lastQuery string
	calls     int
}

func (f *fakeRetriever) Search(ctx context.Context, query string, scene models.Scene, channel string, limit int) []models.Hit {
	f.calls++
	f.lastScene = scene
	f.lastQuery = query
	return f.hits
}

type fakeStorage struct {
	summaries   []models.Summary
	turns       []models.Turn
	emotionHits []models.Hit
	lastEmotion string
}

func (f *fakeStorage) GetRecentSummaries(ctx context.Context, userID, channel string, limit int) ([]models.Summary, error) {
	return f.summaries, nil
}

func (f *fakeStorage) GetRecentTurns(ctx context.Context, userID, channel string, limit int) ([]models.Turn, error) {
	return f.turns, nil
}

func (f *fakeStorage) SearchRecentByEmotion(ctx context.Context, userID, emotion string, days, limit int) ([]models.Hit, error) {
	f.lastEmotion = emotion
	return f.emotionHits, nil
}

func systemContent(t *testing.T, messages []any) string {
	t.Helper()
	for _, raw := range messages {
		msg, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if msg["role"] == "system" {
			content, _ := msg["content"].(string)
			return content
		}
	}
	return ""
}

func baseMessages() []any {
	return []any{
		map[string]any{"role": "system", "content": "你是一个助手"},
		map[string]any{"role": "user", "content": "hi"},
	}
}

func sampleHit() models.Hit {
	return models.Hit{
		ID:           "h1",
		Kind:         models.HitTurn,
		UserMsg:      "我们上次聊到旅行",
		AssistantMsg: "对，你说想去杭州",
		Scene:        models.SceneDaily,
		CreatedAt:    time.Date(2026, 3, 2, 7, 4, 0, 0, time.UTC),
	}
}

func TestProcessMetaSceneSkips(t *testing.T) {
	r := &fakeRetriever{hits: []models.Hit{sampleHit()}}
	e := New(Config{Retriever: r, Storage: &fakeStorage{}})

	msgs := baseMessages()
	got, rule := e.Process(context.Background(), "测试mcp工具", models.SceneMeta, msgs, "dream", "web")
	if rule != RuleNone {
		t.Fatalf("rule = %q, want none", rule)
	}
	if systemContent(t, got) != "你是一个助手" {
		t.Fatal("meta scene modified the system prompt")
	}
	// The round still counts so the next daily message is not a cold start.
	if e.Round("dream", "web") != 1 {
		t.Fatalf("round = %d, want 1", e.Round("dream", "web"))
	}
}

func TestProcessColdStartOnFirstRound(t *testing.T) {
	st := &fakeStorage{
		summaries: []models.Summary{{
			Summary:   "聊了旅行计划",
			Scene:     models.SceneDaily,
			CreatedAt: time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC),
		}},
		turns: []models.Turn{{
			UserMsg:      "明天见",
			AssistantMsg: "好的，明天见",
			Scene:        models.SceneDaily,
			CreatedAt:    time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC),
		}},
	}
	e := New(Config{Retriever: &fakeRetriever{}, Storage: st})

	got, rule := e.Process(context.Background(), "早上好", models.SceneDaily, baseMessages(), "dream", "web")
	if rule != RuleColdStart {
		t.Fatalf("rule = %q, want cold_start", rule)
	}
	content := systemContent(t, got)
	if !strings.Contains(content, "[最近的对话摘要]") || !strings.Contains(content, "聊了旅行计划") {
		t.Errorf("system prompt missing summaries section:\n%s", content)
	}
	if !strings.Contains(content, "[最近的对话]") || !strings.Contains(content, "Dream: 明天见") {
		t.Errorf("system prompt missing recent turns section:\n%s", content)
	}
	if !strings.Contains(content, "[记忆参考") {
		t.Errorf("system prompt missing memory block marker:\n%s", content)
	}
}

func TestProcessRecallKeyword(t *testing.T) {
	r := &fakeRetriever{hits: []models.Hit{sampleHit()}}
	e := New(Config{Retriever: r, Storage: &fakeStorage{}})

	// Burn round 1 so keyword rules can fire.
	e.Process(context.Background(), "hi", models.SceneDaily, baseMessages(), "dream", "web")

	got, rule := e.Process(context.Background(), "还记得我们聊过什么吗", models.SceneDaily, baseMessages(), "dream", "web")
	if rule != RuleRecall {
		t.Fatalf("rule = %q, want recall", rule)
	}
	if r.lastScene != models.SceneDaily {
		t.Errorf("search scene = %q, want daily", r.lastScene)
	}
	content := systemContent(t, got)
	if !strings.Contains(content, "Dream: 我们上次聊到旅行") {
		t.Errorf("injected block missing hit text:\n%s", content)
	}
	if !strings.Contains(content, "[日常]") {
		t.Errorf("injected block missing scene tag:\n%s", content)
	}
}

func TestProcessPlotRecallForcesPlotScene(t *testing.T) {
	r := &fakeRetriever{hits: []models.Hit{sampleHit()}}
	e := New(Config{Retriever: r, Storage: &fakeStorage{}})
	e.Process(context.Background(), "hi", models.ScenePlot, baseMessages(), "dream", "web")

	_, rule := e.Process(context.Background(), "继续剧情吧", models.ScenePlot, baseMessages(), "dream", "web")
	if rule != RulePlotRecall {
		t.Fatalf("rule = %q, want plot_recall", rule)
	}
	if r.lastScene != models.ScenePlot {
		t.Errorf("search scene = %q, want plot", r.lastScene)
	}
}

func TestProcessEmotionKeywordQueriesByKeyword(t *testing.T) {
	st := &fakeStorage{emotionHits: []models.Hit{sampleHit()}}
	e := New(Config{Retriever: &fakeRetriever{}, Storage: st})
	e.Process(context.Background(), "hi", models.SceneDaily, baseMessages(), "dream", "web")

	_, rule := e.Process(context.Background(), "今天好累啊", models.SceneDaily, baseMessages(), "dream", "web")
	if rule != RuleEmotion {
		t.Fatalf("rule = %q, want emotion", rule)
	}
	if st.lastEmotion != "好累" {
		t.Fatalf("emotion query = %q, want the matched keyword", st.lastEmotion)
	}
}

func TestProcessNoRuleLeavesMessagesUntouched(t *testing.T) {
	e := New(Config{Retriever: &fakeRetriever{}, Storage: &fakeStorage{}})
	e.Process(context.Background(), "hi", models.SceneDaily, baseMessages(), "dream", "web")

	msgs := baseMessages()
	got, rule := e.Process(context.Background(), "今天天气不错", models.SceneDaily, msgs, "dream", "web")
	if rule != RuleNone {
		t.Fatalf("rule = %q, want none", rule)
	}
	if len(got) != 2 || systemContent(t, got) != "你是一个助手" {
		t.Fatal("messages modified without a rule firing")
	}
}

func TestProcessPrependsSystemWhenAbsent(t *testing.T) {
	r := &fakeRetriever{hits: []models.Hit{sampleHit()}}
	e := New(Config{Retriever: r, Storage: &fakeStorage{}})
	e.Process(context.Background(), "hi", models.SceneDaily, baseMessages(), "dream", "web")

	msgs := []any{map[string]any{"role": "user", "content": "还记得吗"}}
	got, rule := e.Process(context.Background(), "还记得吗", models.SceneDaily, msgs, "dream", "web")
	if rule != RuleRecall {
		t.Fatalf("rule = %q, want recall", rule)
	}
	if len(got) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(got))
	}
	first, ok := got[0].(map[string]any)
	if !ok || first["role"] != "system" {
		t.Fatal("injected system message not prepended")
	}
}

func TestProcessEmptyRetrievalInjectsNothing(t *testing.T) {
	e := New(Config{Retriever: &fakeRetriever{}, Storage: &fakeStorage{}})
	e.Process(context.Background(), "hi", models.SceneDaily, baseMessages(), "dream", "web")

	got, rule := e.Process(context.Background(), "还记得吗", models.SceneDaily, baseMessages(), "dream", "web")
	if rule != RuleNone {
		t.Fatalf("rule = %q, want none on empty retrieval", rule)
	}
	if systemContent(t, got) != "你是一个助手" {
		t.Fatal("system prompt modified despite empty retrieval")
	}
}

func TestProcessCapsInjectedChars(t *testing.T) {
	long := strings.Repeat("记", 400)
	r := &fakeRetriever{hits: []models.Hit{
		{ID: "a", Kind: models.HitSummary, Summary: long, Scene: models.SceneDaily, CreatedAt: time.Now()},
		{ID: "b", Kind: models.HitSummary, Summary: long, Scene: models.SceneDaily, CreatedAt: time.Now()},
		{ID: "c", Kind: models.HitSummary, Summary: long, Scene: models.SceneDaily, CreatedAt: time.Now()},
		{ID: "d", Kind: models.HitSummary, Summary: long, Scene: models.SceneDaily, CreatedAt: time.Now()},
		{ID: "e", Kind: models.HitSummary, Summary: long, Scene: models.SceneDaily, CreatedAt: time.Now()},
	}}
	e := New(Config{Retriever: r, Storage: &fakeStorage{}})
	e.Process(context.Background(), "hi", models.SceneDaily, baseMessages(), "dream", "web")

	got, _ := e.Process(context.Background(), "还记得吗", models.SceneDaily, baseMessages(), "dream", "web")
	content := systemContent(t, got)
	// Base prompt + fixed wrapper + at most 500 runes of memory.
	memory := strings.TrimPrefix(content, "你是一个助手")
	if n := len([]rune(memory)); n > 700 {
		t.Fatalf("injected block is %d runes, memory text not capped", n)
	}
}

func TestProcessMaxCharsConfigurable(t *testing.T) {
	long := strings.Repeat("记", 200)
	r := &fakeRetriever{hits: []models.Hit{
		{ID: "a", Kind: models.HitSummary, Summary: long, Scene: models.SceneDaily, CreatedAt: time.Now()},
	}}
	e := New(Config{Retriever: r, Storage: &fakeStorage{}, MaxChars: 50})
	e.Process(context.Background(), "hi", models.SceneDaily, baseMessages(), "dream", "web")

	got, rule := e.Process(context.Background(), "还记得吗", models.SceneDaily, baseMessages(), "dream", "web")
	if rule != RuleRecall {
		t.Fatalf("rule = %q, want recall", rule)
	}
	content := systemContent(t, got)
	// The fixed wrapper text contributes a couple of 记 runes of its own;
	// the memory text itself must stay inside the 50-rune cap.
	if n := strings.Count(content, "记"); n > 55 {
		t.Fatalf("injected %d runes of hit content, configured cap is 50", n)
	}
}

func TestRoundCountersIsolatedByChannel(t *testing.T) {
	e := New(Config{Retriever: &fakeRetriever{}, Storage: &fakeStorage{}})
	e.Process(context.Background(), "hi", models.SceneDaily, baseMessages(), "dream", "web")
	e.Process(context.Background(), "hi", models.SceneDaily, baseMessages(), "dream", "web")

	_, rule := e.Process(context.Background(), "你好", models.SceneDaily, baseMessages(), "dream", "telegram")
	if rule != RuleColdStart {
		t.Fatalf("rule = %q, want cold_start for fresh channel", rule)
	}
	if e.Round("dream", "web") != 2 {
		t.Fatalf("web round = %d, want 2", e.Round("dream", "web"))
	}
}
