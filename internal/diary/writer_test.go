package diary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

type scriptedChat struct {
	responses []openai.ChatCompletionResponse
	calls     [][]openai.ChatCompletionMessage
}

func (s *scriptedChat) CompleteWithTools(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool, maxTokens int) (openai.ChatCompletionResponse, error) {
	s.calls = append(s.calls, append([]openai.ChatCompletionMessage(nil), messages...))
	if len(s.responses) == 0 {
		return openai.ChatCompletionResponse{}, errors.New("no scripted response")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

type memStorage struct {
	date, content, mood string
}

func (m *memStorage) UpsertDailyDiary(ctx context.Context, diaryDate, content, mood string) error {
	m.date, m.content, m.mood = diaryDate, content, mood
	return nil
}

type fakeMirror struct {
	enabled bool
	docs    []string
	err     error
}

func (f *fakeMirror) Enabled() bool { return f.enabled }
func (f *fakeMirror) CreateDiaryDoc(ctx context.Context, diaryDate time.Time, content string) error {
	if f.err != nil {
		return f.err
	}
	f.docs = append(f.docs, content)
	return nil
}

func textResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
		}},
	}
}

func toolCallResponse(id, name, args string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   id,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: name, Arguments: args},
				}},
			},
		}},
	}
}

func fixedClock() time.Time {
	// 23:30 Beijing on 2026-08-25.
	return time.Date(2026, 8, 25, 15, 30, 0, 0, time.UTC)
}

func TestWriteRunsToolLoopThenPersists(t *testing.T) {
	chat := &scriptedChat{responses: []openai.ChatCompletionResponse{
		toolCallResponse("call-1", "search_memory", `{"query":"今天"}`),
		textResponse("今天和她聊了很多，心情不错。"),
	}}
	storage := &memStorage{}
	mirror := &fakeMirror{enabled: true}

	var toolName string
	runner := func(ctx context.Context, name string, args map[string]any) (string, error) {
		toolName = name
		if args["query"] != "今天" {
			t.Errorf("tool args = %v", args)
		}
		return "【记忆 1】今天聊了晚饭吃什么", nil
	}

	w := New(Config{Chat: chat, RunTool: runner, Storage: storage, Mirror: mirror, Now: fixedClock})
	content, err := w.Write(context.Background())
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if toolName != "search_memory" {
		t.Errorf("tool dispatched = %q", toolName)
	}
	if content != "今天和她聊了很多，心情不错。" {
		t.Errorf("content = %q", content)
	}
	if storage.date != "2026-08-25" {
		t.Errorf("stored date = %q", storage.date)
	}
	if len(mirror.docs) != 1 {
		t.Errorf("mirror docs = %d, want 1", len(mirror.docs))
	}

	// Second completion call carries the assistant tool call and its result.
	last := chat.calls[1]
	if last[len(last)-1].Role != openai.ChatMessageRoleTool {
		t.Errorf("last message role = %q, want tool", last[len(last)-1].Role)
	}
	if !strings.Contains(last[len(last)-1].Content, "【记忆 1】") {
		t.Errorf("tool result not threaded back: %q", last[len(last)-1].Content)
	}
}

func TestWriteGivesUpAfterMaxIterations(t *testing.T) {
	responses := make([]openai.ChatCompletionResponse, maxIterations)
	for i := range responses {
		responses[i] = toolCallResponse("c", "init_context", `{}`)
	}
	chat := &scriptedChat{responses: responses}
	runner := func(ctx context.Context, name string, args map[string]any) (string, error) {
		return "ok", nil
	}

	w := New(Config{Chat: chat, RunTool: runner, Storage: &memStorage{}, Now: fixedClock})
	if _, err := w.Write(context.Background()); err == nil {
		t.Fatal("Write() expected error when model never finishes")
	}
}

func TestWriteMirrorFailureIsNotFatal(t *testing.T) {
	chat := &scriptedChat{responses: []openai.ChatCompletionResponse{textResponse("正文")}}
	storage := &memStorage{}
	mirror := &fakeMirror{enabled: true, err: errors.New("notes down")}

	w := New(Config{Chat: chat, RunTool: nil, Storage: storage, Mirror: mirror, Now: fixedClock})
	if _, err := w.Write(context.Background()); err != nil {
		t.Fatalf("Write() error = %v, mirror failure should not propagate", err)
	}
	if storage.content != "正文" {
		t.Errorf("stored content = %q", storage.content)
	}
}

func TestWriteToolErrorIsFedBack(t *testing.T) {
	chat := &scriptedChat{responses: []openai.ChatCompletionResponse{
		toolCallResponse("call-1", "search_memory", `{"query":"x"}`),
		textResponse("正文"),
	}}
	runner := func(ctx context.Context, name string, args map[string]any) (string, error) {
		return "", errors.New("store unavailable")
	}

	w := New(Config{Chat: chat, RunTool: runner, Storage: &memStorage{}, Now: fixedClock})
	if _, err := w.Write(context.Background()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	last := chat.calls[1]
	if !strings.Contains(last[len(last)-1].Content, "工具调用失败") {
		t.Errorf("tool error not surfaced to model: %q", last[len(last)-1].Content)
	}
}
