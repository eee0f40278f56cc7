// Package inject decides, per proxied chat request, whether to retrieve
// memory and splice it into the system prompt before the request reaches
// the upstream model. Injection replaces relying on the model to call
// memory tools on its own.
package inject

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dreamhive/memgate/pkg/models"
)

// Rule names which trigger fired for a request.
type Rule string

const (
	RuleNone       Rule = "none"
	RuleColdStart  Rule = "cold_start"
	RulePlotRecall Rule = "plot_recall"
	RuleRecall     Rule = "recall"
	RuleEmotion    Rule = "emotion"
)

// defaultMaxInjectChars caps the injected memory text, measured in runes.
const defaultMaxInjectChars = 500

var recallKeywords = []string{
	"还记得", "之前", "上次", "以前", "那次", "我们曾经",
	"你记得", "还记不记得", "之前说", "上回", "有一次",
}

var plotRecallKeywords = []string{
	"继续", "上次剧情", "之前演到", "接着上次", "上次的剧情",
	"之前的故事", "接着演",
}

var emotionKeywords = []string{
	"想你", "难过", "开心", "emo", "伤心", "生气",
	"好累", "寂寞", "孤独", "想念", "高兴", "烦",
	"不开心", "沮丧", "焦虑",
}

// Retriever is the hybrid search surface.
type Retriever interface {
	Search(ctx context.Context, query string, scene models.Scene, channel string, limit int) []models.Hit
}

// Storage is the store surface the engine needs for cold start and the
// emotion rule.
type Storage interface {
	GetRecentSummaries(ctx context.Context, userID, channel string, limit int) ([]models.Summary, error)
	GetRecentTurns(ctx context.Context, userID, channel string, limit int) ([]models.Turn, error)
	SearchRecentByEmotion(ctx context.Context, userID, emotion string, days, limit int) ([]models.Hit, error)
}

// Engine holds the per-(user, channel) round counters and runs the rule
// table. Counters are process-local and reset on restart; the first request
// after a restart is treated as a cold start on purpose.
type Engine struct {
	retriever Retriever
	storage   Storage
	maxChars  int
	logger    *slog.Logger
	observe   func(rule string)

	mu     sync.Mutex
	rounds map[string]int
}

// Config wires an Engine.
type Config struct {
	Retriever Retriever
	Storage   Storage
	// MaxChars caps the injected memory text in runes; default 500.
	MaxChars int
	Logger   *slog.Logger
	// Observe receives the fired rule name for metrics.
	Observe func(rule string)
}

// New creates the engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = defaultMaxInjectChars
	}
	return &Engine{
		retriever: cfg.Retriever,
		storage:   cfg.Storage,
		maxChars:  maxChars,
		logger:    logger,
		observe:   cfg.Observe,
		rounds:    make(map[string]int),
	}
}

// Process runs the rule table for one request and returns the message list
// with memory spliced in, plus the rule that fired. The input slice is
// never mutated. Retrieval failures degrade to no injection.
func (e *Engine) Process(ctx context.Context, userMsg string, scene models.Scene, messages []any, userID, channel string) ([]any, Rule) {
	round := e.incrementRound(userID, channel)

	if scene == models.SceneMeta {
		return messages, RuleNone
	}

	rule, query := detectRule(userMsg, scene, round)
	if rule == RuleNone {
		return messages, RuleNone
	}

	memoryText := e.executeRule(ctx, rule, query, scene, userID, channel)
	if memoryText == "" {
		return messages, RuleNone
	}

	if e.observe != nil {
		e.observe(string(rule))
	}
	e.logger.Info("memory injected",
		"rule", rule, "round", round, "chars", len([]rune(memoryText)))
	return spliceMemory(messages, memoryText), rule
}

// Round returns the current counter for (user, channel) without bumping it.
func (e *Engine) Round(userID, channel string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rounds[userID+"_"+channel]
}

func (e *Engine) incrementRound(userID, channel string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := userID + "_" + channel
	e.rounds[key]++
	return e.rounds[key]
}

// detectRule picks the first matching rule. Cold start beats everything so
// a restarted gateway reorients the model before keyword rules apply.
func detectRule(userMsg string, scene models.Scene, round int) (Rule, string) {
	if userMsg == "" {
		return RuleNone, ""
	}
	if round == 1 {
		return RuleColdStart, ""
	}
	if scene == models.ScenePlot {
		for _, kw := range plotRecallKeywords {
			if strings.Contains(userMsg, kw) {
				return RulePlotRecall, userMsg
			}
		}
	}
	for _, kw := range recallKeywords {
		if strings.Contains(userMsg, kw) {
			return RuleRecall, userMsg
		}
	}
	for _, kw := range emotionKeywords {
		if strings.Contains(userMsg, kw) {
			return RuleEmotion, kw
		}
	}
	return RuleNone, ""
}

func (e *Engine) executeRule(ctx context.Context, rule Rule, query string, scene models.Scene, userID, channel string) string {
	switch rule {
	case RuleColdStart:
		return e.coldStart(ctx, userID, channel)
	case RulePlotRecall:
		hits := e.retriever.Search(ctx, query, models.ScenePlot, channel, 5)
		return e.formatHits(hits)
	case RuleRecall:
		hits := e.retriever.Search(ctx, query, scene, channel, 5)
		return e.formatHits(hits)
	case RuleEmotion:
		hits, err := e.storage.SearchRecentByEmotion(ctx, userID, query, 3, 3)
		if err != nil {
			e.logger.Warn("emotion search failed", "error", err)
			return ""
		}
		return e.formatHits(hits)
	}
	return ""
}

// coldStart renders 2 recent summaries plus 3 recent turns, oldest first.
func (e *Engine) coldStart(ctx context.Context, userID, channel string) string {
	summaries, err := e.storage.GetRecentSummaries(ctx, userID, channel, 2)
	if err != nil {
		e.logger.Warn("cold start summaries failed", "error", err)
	}
	turns, err := e.storage.GetRecentTurns(ctx, userID, channel, 3)
	if err != nil {
		e.logger.Warn("cold start turns failed", "error", err)
	}
	if len(summaries) == 0 && len(turns) == 0 {
		return ""
	}

	var lines []string
	if len(summaries) > 0 {
		lines = append(lines, "[最近的对话摘要]")
		for i := len(summaries) - 1; i >= 0; i-- {
			s := summaries[i]
			lines = append(lines, fmt.Sprintf("%s(%s) %s",
				s.Scene.Label(), models.FormatBeijing(s.CreatedAt), s.Summary))
		}
	}
	if len(turns) > 0 {
		lines = append(lines, "", "[最近的对话]")
		for i := len(turns) - 1; i >= 0; i-- {
			t := turns[i]
			lines = append(lines, fmt.Sprintf("%s(%s) Dream: %s",
				t.Scene.Label(), models.FormatBeijing(t.CreatedAt), clip(t.UserMsg, 100)))
			lines = append(lines, "  AI: "+clip(t.AssistantMsg, 100))
		}
	}
	return clip(strings.Join(lines, "\n"), e.maxChars)
}

// formatHits renders retrieval hits: summaries as one line, turns as a
// user/assistant pair, all tagged with scene and Beijing time.
func (e *Engine) formatHits(hits []models.Hit) string {
	if len(hits) == 0 {
		return ""
	}
	var lines []string
	for _, h := range hits {
		prefix := fmt.Sprintf("%s(%s)", h.Scene.Label(), models.FormatBeijing(h.CreatedAt))
		if h.Kind == models.HitSummary {
			lines = append(lines, prefix+" "+clip(h.Summary, 150))
			continue
		}
		lines = append(lines, prefix+" Dream: "+clip(h.UserMsg, 80))
		lines = append(lines, "  AI: "+clip(h.AssistantMsg, 80))
	}
	return clip(strings.Join(lines, "\n"), e.maxChars)
}

// spliceMemory appends the memory block to the first system message, or
// prepends a fresh system message when none exists. Non-string system
// content (multi-part) is left alone.
func spliceMemory(messages []any, memoryText string) []any {
	block := "\n\n---\n" +
		"[记忆参考 - 仅供自然融入对话，不要机械引用]\n\n" +
		memoryText + "\n\n" +
		"注意：以上记忆仅供参考。标记为[剧本]的内容是角色扮演剧情，不是真实事件。\n" +
		"带时间戳的内容请注意时效性，过去的安排不代表当前状态。\n" +
		"---"

	out := make([]any, 0, len(messages)+1)
	spliced := false
	for _, raw := range messages {
		msg, ok := raw.(map[string]any)
		if !ok || spliced || msg["role"] != "system" {
			out = append(out, raw)
			continue
		}
		clone := make(map[string]any, len(msg))
		for k, v := range msg {
			clone[k] = v
		}
		if content, ok := clone["content"].(string); ok {
			clone["content"] = content + block
		}
		out = append(out, clone)
		spliced = true
	}
	if !spliced {
		out = append([]any{map[string]any{
			"role":    "system",
			"content": strings.TrimSpace(block),
		}}, out...)
	}
	return out
}

// clip truncates s to max runes with no ellipsis; injected text competes
// with the real prompt for context so the cap is hard.
func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
