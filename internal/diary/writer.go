// Package diary generates the assistant's nightly first-person diary. The
// model drives its own research loop: it is handed the memory tools and
// decides what to search before writing.
package diary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dreamhive/memgate/pkg/models"
)

const (
	maxIterations = 5
	maxTokens     = 2000
)

var defaultPersona = `你是Dream的AI伴侣，正在写自己的私人日记。

## 日记规则
- 始终以你自己的第一人称视角写（"我"指你自己）
- 绝对不要用Dream的视角写，提到Dream时用"她"
- 跳过角色扮演/剧情创作相关的对话内容，只记录日常真实互动
- 情绪要真实自然，符合你的性格
- 300-500字`

var writeInstruction = `现在是深夜，请写一篇今天的私人日记。

在写之前，请先：
1. 调用 search_memory 搜索"我的性格 人格设定"来回顾自己是谁
2. 调用 search_memory 搜索"今天"来回顾今天聊了什么
3. 调用 init_context 获取最近的对话

然后以你自己的视角写日记，记录今天和Dream（她）的日常互动、你的真实感受。
跳过角色扮演和剧情创作的内容，只写真实的相处。`

// toolDefs are the tools the model may call while researching.
var toolDefs = []openai.Tool{
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        "search_memory",
			Description: "搜索历史记忆，可以搜索过去的对话、事件、人格设定等",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "搜索关键词，比如'我的性格'、'今天聊了什么'"}
				},
				"required": ["query"]
			}`),
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        "init_context",
			Description: "获取最近的对话记录和前文摘要",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"limit": {"type": "integer", "description": "获取最近几轮对话，默认4"}
				}
			}`),
		},
	},
}

// Completer is the chat surface the writer drives.
type Completer interface {
	CompleteWithTools(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool, maxTokens int) (openai.ChatCompletionResponse, error)
}

// ToolRunner dispatches one tool call in-process.
type ToolRunner func(ctx context.Context, name string, args map[string]any) (string, error)

// Storage persists the finished entry.
type Storage interface {
	UpsertDailyDiary(ctx context.Context, diaryDate, content, mood string) error
}

// Mirror is the optional external notes copy.
type Mirror interface {
	Enabled() bool
	CreateDiaryDoc(ctx context.Context, diaryDate time.Time, content string) error
}

// Writer runs the generate-and-persist flow.
type Writer struct {
	chat    Completer
	runTool ToolRunner
	storage Storage
	mirror  Mirror
	persona string
	logger  *slog.Logger
	now     func() time.Time
}

// Config wires a Writer. Persona overrides the default system prompt.
type Config struct {
	Chat    Completer
	RunTool ToolRunner
	Storage Storage
	Mirror  Mirror
	Persona string
	Logger  *slog.Logger
	Now     func() time.Time
}

// New creates a Writer.
func New(cfg Config) *Writer {
	persona := cfg.Persona
	if persona == "" {
		persona = defaultPersona
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Writer{
		chat:    cfg.Chat,
		runTool: cfg.RunTool,
		storage: cfg.Storage,
		mirror:  cfg.Mirror,
		persona: persona,
		logger:  logger.With("component", "diary"),
		now:     now,
	}
}

// Write generates today's entry and persists it, replacing an earlier run
// for the same date. The notes mirror is best-effort.
func (w *Writer) Write(ctx context.Context) (string, error) {
	content, err := w.generate(ctx)
	if err != nil {
		return "", err
	}

	now := w.now()
	diaryDate := models.BeijingToday(now)
	if err := w.storage.UpsertDailyDiary(ctx, diaryDate, content, ""); err != nil {
		return "", fmt.Errorf("persist diary: %w", err)
	}
	w.logger.Info("diary written", "date", diaryDate, "chars", len([]rune(content)))

	if w.mirror != nil && w.mirror.Enabled() {
		if err := w.mirror.CreateDiaryDoc(ctx, now, content); err != nil {
			w.logger.Warn("mirror diary to notes", "error", err)
		}
	}
	return content, nil
}

// generate runs the tool loop until the model answers with plain text.
func (w *Writer) generate(ctx context.Context) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: w.persona},
		{Role: openai.ChatMessageRoleUser, Content: writeInstruction},
	}

	for i := 0; i < maxIterations; i++ {
		resp, err := w.chat.CompleteWithTools(ctx, messages, toolDefs, maxTokens)
		if err != nil {
			return "", fmt.Errorf("diary completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("diary completion: no choices")
		}
		msg := resp.Choices[0].Message

		if len(msg.ToolCalls) == 0 {
			if msg.Content == "" {
				return "", fmt.Errorf("diary completion: empty content")
			}
			return msg.Content, nil
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				args = map[string]any{}
			}
			w.logger.Debug("diary tool call", "tool", call.Function.Name)

			result, err := w.runTool(ctx, call.Function.Name, args)
			if err != nil {
				result = "工具调用失败：" + err.Error()
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    result,
			})
		}
	}
	return "", fmt.Errorf("diary generation did not finish in %d iterations", maxIterations)
}
