// Package models defines the core data types shared across memgate.
package models

import (
	"time"
)

// Scene classifies what kind of exchange a turn belongs to.
type Scene string

const (
	// SceneDaily is ordinary conversation.
	SceneDaily Scene = "daily"
	// ScenePlot is roleplay / scripted-story content.
	ScenePlot Scene = "plot"
	// SceneMeta is tooling or maintenance chatter that should never be
	// retrieved as memory.
	SceneMeta Scene = "meta"
)

// Label returns the display tag used when a turn is rendered into an
// injected context block.
func (s Scene) Label() string {
	switch s {
	case ScenePlot:
		return "[剧本]"
	case SceneMeta:
		return "[系统]"
	default:
		return "[日常]"
	}
}

// Valid reports whether s is one of the known scenes.
func (s Scene) Valid() bool {
	switch s {
	case SceneDaily, ScenePlot, SceneMeta:
		return true
	}
	return false
}

// EmbeddingDim is the dimensionality every stored vector must have.
// Embeddings are either exactly this size or absent, never zero-filled.
const EmbeddingDim = 1024

// Turn is one captured user/assistant exchange.
type Turn struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Channel      string    `json:"channel"`
	RoundNumber  int       `json:"round_number"`
	UserMsg      string    `json:"user_msg"`
	AssistantMsg string    `json:"assistant_msg"`
	Scene        Scene     `json:"scene_type"`
	Topic        string    `json:"topic,omitempty"`
	Emotion      string    `json:"emotion,omitempty"`
	Weight       int       `json:"weight"`
	Embedding    []float32 `json:"-"`
	Synced       bool      `json:"synced"`
	CreatedAt    time.Time `json:"created_at"`
}

// Summary condenses a closed window of rounds for one (user, channel).
type Summary struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Channel    string    `json:"channel"`
	StartRound int       `json:"start_round"`
	EndRound   int       `json:"end_round"`
	Summary    string    `json:"summary"`
	Scene      Scene     `json:"scene_type"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// MatchType records which retrieval arm produced a hit.
type MatchType string

const (
	MatchVector  MatchType = "vector"
	MatchKeyword MatchType = "keyword"
	MatchBoth    MatchType = "both"
)

// HitKind discriminates what a retrieval hit points at.
type HitKind string

const (
	HitTurn    HitKind = "turn"
	HitSummary HitKind = "summary"
)

// Hit is one merged retrieval result, either a turn or a summary.
type Hit struct {
	ID           string    `json:"id"`
	Kind         HitKind   `json:"kind"`
	UserMsg      string    `json:"user_msg,omitempty"`
	AssistantMsg string    `json:"assistant_msg,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	Scene        Scene     `json:"scene_type"`
	Similarity   float64   `json:"similarity,omitempty"`
	Match        MatchType `json:"match_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// Text returns the content a reranker or preview should score: the summary
// body for summaries, the user message (falling back to the assistant
// message) for turns.
func (h Hit) Text() string {
	if h.Kind == HitSummary {
		return h.Summary
	}
	if h.UserMsg != "" {
		return h.UserMsg
	}
	return h.AssistantMsg
}

// beijing is the fixed display zone for injected context and tool output.
// Stored timestamps stay UTC; only presentation shifts.
var beijing = time.FixedZone("Asia/Shanghai", 8*60*60)

// FormatBeijing renders t in Beijing time as "01月02日 15:04".
func FormatBeijing(t time.Time) string {
	return t.In(beijing).Format("01月02日 15:04")
}

// BeijingToday returns the current date in Beijing time, for day-scoped
// quotas like the diary limit.
func BeijingToday(now time.Time) string {
	return now.In(beijing).Format("2006-01-02")
}

// TruncateRunes shortens s to at most max runes, appending "..." when
// anything was cut. Byte-index truncation would split multibyte characters.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
