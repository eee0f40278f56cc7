// Package rerank calls an external relevance reranker. The /v1/rerank
// endpoint is provider-specific (SiliconFlow/Jina shape) and not part of
// the OpenAI surface, so the client is a plain net/http wrapper.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxDocChars caps each document sent to the reranker.
const maxDocChars = 500

// Client calls POST {base}/v1/rerank.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// Config configures the rerank client.
type Config struct {
	BaseURL string
	APIKey  string
	// Model defaults to BAAI/bge-reranker-v2-m3.
	Model   string
	Timeout time.Duration
}

// Result is one reranked document: its index into the input slice and the
// model's relevance score.
type Result struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

// New creates a rerank client.
func New(cfg Config) *Client {
	model := cfg.Model
	if model == "" {
		model = "BAAI/bge-reranker-v2-m3"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []Result `json:"results"`
}

// Rerank scores documents against query and returns up to topN results,
// best first. Documents longer than 500 runes are truncated before sending.
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("rerank: no base URL configured")
	}
	if len(documents) == 0 {
		return nil, nil
	}

	trimmed := make([]string, len(documents))
	for i, doc := range documents {
		if r := []rune(doc); len(r) > maxDocChars {
			doc = string(r[:maxDocChars])
		}
		trimmed[i] = doc
	}

	payload, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: trimmed,
		TopN:      topN,
	})
	if err != nil {
		return nil, fmt.Errorf("rerank: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("rerank: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("rerank: decode response: %w", err)
	}

	results := parsed.Results
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fmt.Errorf("rerank: result index %d out of range", r.Index)
		}
	}
	if len(results) > topN && topN > 0 {
		results = results[:topN]
	}
	return results, nil
}
