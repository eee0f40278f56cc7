package proxy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dreamhive/memgate/pkg/models"
)

// systemKeywords mark a user message as machinery rather than conversation.
// Matched case-insensitively against the trimmed message.
var systemKeywords = []string{
	"<content>", "summarize", "summary", "总结", "标题", "title",
	"i will give you", "system_auto", "health_check",
	"你是一个", "you are a", "as an ai", "作为ai",
	"generate a concise", "based on the conversation",
}

// citationPattern matches the markers the model emits when it quotes a
// retrieved memory, e.g. [[used:550e8400-e29b-41d4-a716-446655440000]].
var citationPattern = regexp.MustCompile(`\[\[used:([a-f0-9-]+)\]\]`)

// captureInput carries the request-side half of a turn through the relay.
type captureInput struct {
	userID  string
	channel string
	scene   models.Scene
	userMsg string
}

// shouldSkipStorage rejects messages that are not real conversation: empty,
// too short, or prompts injected by automation.
func shouldSkipStorage(userMsg string) bool {
	trimmed := strings.TrimSpace(userMsg)
	if len([]rune(trimmed)) < 2 {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, kw := range systemKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// lastUserMessage returns the text of the newest user message. Multi-part
// content keeps only the text parts, joined with spaces.
func lastUserMessage(messages []any) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]any)
		if !ok || msg["role"] != "user" {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			return content
		case []any:
			var parts []string
			for _, raw := range content {
				part, ok := raw.(map[string]any)
				if !ok || part["type"] != "text" {
					continue
				}
				if text, ok := part["text"].(string); ok {
					parts = append(parts, text)
				}
			}
			return strings.Join(parts, " ")
		}
		return ""
	}
	return ""
}

// extractCitations strips citation markers and returns the cited turn ids.
func extractCitations(text string) (string, []string) {
	matches := citationPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, nil
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m[1])
	}
	clean := citationPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(clean), ids
}

// capture persists the completed exchange off the request goroutine. The
// response goes back to the client regardless of what happens here.
func (h *Handler) capture(in captureInput, content, reasoning string) {
	if h.store == nil || h.background == nil {
		return
	}

	storageText := content
	if strings.TrimSpace(storageText) == "" {
		storageText = reasoning
	}
	if shouldSkipStorage(in.userMsg) || strings.TrimSpace(storageText) == "" {
		return
	}

	clean, cited := extractCitations(storageText)
	for _, id := range cited {
		id := id
		h.background.Submit("increment_weight", func(ctx context.Context) error {
			// Best effort. A bad id from the model is not worth a retry.
			if err := h.store.IncrementWeight(ctx, id); err != nil {
				h.logger.Debug("citation weight bump failed", "id", id, "error", err)
			}
			return nil
		})
	}

	h.background.Submit("persist_turn", func(ctx context.Context) error {
		round, err := h.store.NextRound(ctx, in.userID, in.channel)
		if err != nil {
			return fmt.Errorf("allocate round: %w", err)
		}
		turn := &models.Turn{
			UserID:       in.userID,
			Channel:      in.channel,
			RoundNumber:  round,
			UserMsg:      in.userMsg,
			AssistantMsg: clean,
			Scene:        in.scene,
		}
		if err := h.store.InsertTurn(ctx, turn); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}

		if h.summaries != nil {
			h.background.Submit("summary_check", func(ctx context.Context) error {
				return h.summaries.CheckAndGenerate(ctx, in.userID, in.channel, round)
			})
		}
		if h.embedder != nil {
			h.background.Submit("embed_turn", func(ctx context.Context) error {
				vec, err := h.embedder.EmbedTurn(ctx, turn.UserMsg, turn.AssistantMsg)
				if err != nil {
					return fmt.Errorf("embed turn %s: %w", turn.ID, err)
				}
				return h.store.UpdateTurnEmbedding(ctx, turn.ID, vec)
			})
		}
		return nil
	})
}
