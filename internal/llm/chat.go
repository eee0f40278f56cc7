package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Chat is a minimal chat-completion client for internal generation tasks
// (window summaries, the daily diary). Proxied user traffic never goes
// through here; it is relayed raw by internal/proxy.
type Chat struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// ChatConfig configures the chat client.
type ChatConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewChat creates a chat client.
func NewChat(cfg ChatConfig) *Chat {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Chat{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: timeout,
	}
}

// Model returns the configured model name.
func (c *Chat) Model() string {
	return c.model
}

// Complete runs one chat completion and returns the first choice's text.
func (c *Chat) Complete(ctx context.Context, messages []openai.ChatCompletionMessage, maxTokens int, temperature float32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteWithTools runs one chat completion carrying tool definitions and
// returns the full response so the caller can dispatch tool calls itself.
func (c *Chat) CompleteWithTools(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool, maxTokens int) (openai.ChatCompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: maxTokens,
		Tools:     tools,
	})
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("chat completion: %w", err)
	}
	return resp, nil
}
