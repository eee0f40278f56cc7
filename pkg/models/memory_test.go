package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestScene_Label(t *testing.T) {
	tests := []struct {
		scene Scene
		want  string
	}{
		{SceneDaily, "[日常]"},
		{ScenePlot, "[剧本]"},
		{SceneMeta, "[系统]"},
		{Scene("unknown"), "[日常]"},
	}
	for _, tt := range tests {
		if got := tt.scene.Label(); got != tt.want {
			t.Errorf("Scene(%q).Label() = %q, want %q", tt.scene, got, tt.want)
		}
	}
}

func TestScene_Valid(t *testing.T) {
	for _, s := range []Scene{SceneDaily, ScenePlot, SceneMeta} {
		if !s.Valid() {
			t.Errorf("Scene(%q).Valid() = false, want true", s)
		}
	}
	if Scene("plot2").Valid() {
		t.Error("Scene(\"plot2\").Valid() = true, want false")
	}
}

func TestTurn_EmbeddingNotSerialized(t *testing.T) {
	turn := Turn{
		ID:        "c0ffee00-0000-0000-0000-000000000001",
		UserID:    "dream",
		Channel:   "telegram",
		UserMsg:   "hello",
		Embedding: []float32{0.1, 0.2, 0.3},
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(turn)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if strings.Contains(string(data), "0.1") {
		t.Errorf("embedding leaked into JSON: %s", data)
	}
}

func TestHit_Text(t *testing.T) {
	tests := []struct {
		name string
		hit  Hit
		want string
	}{
		{"summary", Hit{Kind: HitSummary, Summary: "回顾", UserMsg: "x"}, "回顾"},
		{"turn user msg", Hit{Kind: HitTurn, UserMsg: "你好", AssistantMsg: "hi"}, "你好"},
		{"turn assistant fallback", Hit{Kind: HitTurn, AssistantMsg: "hi"}, "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.hit.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatBeijing(t *testing.T) {
	// 2026-01-02 02:30 UTC is 10:30 in Beijing.
	ts := time.Date(2026, 1, 2, 2, 30, 0, 0, time.UTC)
	if got := FormatBeijing(ts); got != "01月02日 10:30" {
		t.Errorf("FormatBeijing() = %q, want %q", got, "01月02日 10:30")
	}
}

func TestBeijingToday(t *testing.T) {
	// 2026-01-01 20:00 UTC has already rolled over to Jan 2 in Beijing.
	ts := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	if got := BeijingToday(ts); got != "2026-01-02" {
		t.Errorf("BeijingToday() = %q, want %q", got, "2026-01-02")
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name string
		s    string
		max  int
		want string
	}{
		{"short ascii", "hello", 10, "hello"},
		{"cut ascii", "hello world", 5, "hello..."},
		{"cjk preserved", "今天天气很好", 3, "今天天..."},
		{"exact length", "abcd", 4, "abcd"},
		{"zero max", "abcd", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateRunes(tt.s, tt.max); got != tt.want {
				t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tt.s, tt.max, got, tt.want)
			}
		})
	}
}
