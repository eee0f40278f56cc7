// Package notes mirrors diary entries to an external Yuque-style knowledge
// base. Mirroring is best-effort; the database copy is the source of truth.
package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client posts markdown documents into one repo of the notes service.
type Client struct {
	baseURL string
	token   string
	repo    string
	http    *http.Client
}

// Config wires a Client.
type Config struct {
	BaseURL string
	Token   string
	Repo    string
	Timeout time.Duration
}

// New creates the client. A client with no base URL is disabled and
// reports ErrDisabled from CreateDiaryDoc.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		repo:    cfg.Repo,
		http:    &http.Client{Timeout: timeout},
	}
}

// ErrDisabled is returned when the notes service is not configured.
var ErrDisabled = fmt.Errorf("notes service not configured")

// Enabled reports whether the client can reach a configured service.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != "" && c.repo != ""
}

// CreateDiaryDoc creates one diary document, slugged by date so each day's
// entries stay addressable.
func (c *Client) CreateDiaryDoc(ctx context.Context, diaryDate time.Time, content string) error {
	if !c.Enabled() {
		return ErrDisabled
	}

	title := fmt.Sprintf("📔 %s 的日记", diaryDate.Format("2006年01月02日"))
	payload, err := json.Marshal(map[string]string{
		"title":  title,
		"slug":   "diary-" + diaryDate.Format("2006-01-02"),
		"body":   content,
		"format": "markdown",
	})
	if err != nil {
		return fmt.Errorf("encode diary doc: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/docs", c.baseURL, c.repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build diary doc request: %w", err)
	}
	req.Header.Set("X-Auth-Token", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("create diary doc: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Data *struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode diary doc response: %w", err)
	}
	if body.Data == nil {
		return fmt.Errorf("create diary doc: status %d, no document in response", resp.StatusCode)
	}
	return nil
}
