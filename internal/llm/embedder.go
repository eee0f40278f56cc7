// Package llm wraps the OpenAI-compatible services memgate depends on:
// the embedding endpoint and the chat endpoint used for summaries and
// diary generation.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dreamhive/memgate/pkg/models"
)

// maxEmbedInput caps embedding input length in runes. Longer texts are
// truncated, not rejected; the head of a conversation carries enough signal.
const maxEmbedInput = 2000

// Embedder turns text into fixed-dimension vectors via an OpenAI-style
// /v1/embeddings endpoint.
type Embedder struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// EmbedderConfig configures the embedding client.
type EmbedderConfig struct {
	BaseURL string
	APIKey  string
	// Model defaults to BAAI/bge-large-zh-v1.5 (1024-dim).
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewEmbedder creates an embedding client.
func NewEmbedder(cfg EmbedderConfig) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = "BAAI/bge-large-zh-v1.5"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Embedder{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		timeout: timeout,
		logger:  logger,
	}
}

// Embed returns the vector for text. A failure leaves the caller's row
// without an embedding; callers treat that as retryable, not fatal.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("embed: empty input")
	}
	if r := []rune(text); len(r) > maxEmbedInput {
		text = string(r[:maxEmbedInput])
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("create embedding: empty response")
	}

	vec := resp.Data[0].Embedding
	if len(vec) != models.EmbeddingDim {
		return nil, fmt.Errorf("create embedding: dimension %d, want %d", len(vec), models.EmbeddingDim)
	}
	return vec, nil
}

// EmbedTurn builds the canonical embedding input for a captured exchange.
func (e *Embedder) EmbedTurn(ctx context.Context, userMsg, assistantMsg string) ([]float32, error) {
	return e.Embed(ctx, "User: "+userMsg+"\nAssistant: "+assistantMsg)
}
