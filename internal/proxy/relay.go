package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// completion is the slice of an upstream non-streaming response the
// synthetic stream re-serializer needs.
type completion struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content          string     `json:"content"`
			ReasoningContent string     `json:"reasoning_content"`
			ToolCalls        []toolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// streamChunk is the slice of an SSE delta the relay accumulates for capture.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
	} `json:"choices"`
}

// relaySync forwards a non-streaming request verbatim and captures a parsed
// copy of the response.
func (h *Handler) relaySync(ctx context.Context, w http.ResponseWriter, rt route, payload []byte, model string, in captureInput) {
	started := time.Now()
	resp, err := h.doUpstream(ctx, rt, payload)
	if err != nil {
		h.traceError(ctx, err)
		if isTimeout(err) {
			h.observe(model, modeSync, "timeout")
			writeJSONError(w, http.StatusGatewayTimeout, "Gateway timeout")
			return
		}
		h.observe(model, modeSync, "connect_error")
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		h.observe(model, modeSync, "connect_error")
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(raw)

	if resp.StatusCode != http.StatusOK {
		h.observe(model, modeSync, "upstream_error")
		h.logger.Warn("upstream returned error",
			"backend", rt.name, "model", rt.model, "status", resp.StatusCode)
		return
	}
	h.observe(model, modeSync, "ok")
	h.observeUpstream(rt.name, rt.model, started)

	var parsed completion
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Choices) == 0 {
		return
	}
	msg := parsed.Choices[0].Message
	h.capture(in, msg.Content, msg.ReasoningContent)
}

// relayStream opens a streaming upstream call and relays its data lines
// byte-for-byte, accumulating the deltas for capture on the side.
func (h *Handler) relayStream(ctx context.Context, w http.ResponseWriter, rt route, payload []byte, model string, in captureInput) {
	started := time.Now()
	resp, err := h.doUpstream(ctx, rt, payload)
	if err != nil {
		h.traceError(ctx, err)
		if isTimeout(err) {
			h.observe(model, modeStream, "timeout")
			writeJSONError(w, http.StatusGatewayTimeout, "Gateway timeout")
			return
		}
		h.observe(model, modeStream, "connect_error")
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		h.observe(model, modeStream, "upstream_error")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(raw)
		return
	}

	setSSEHeaders(w)
	flusher, _ := w.(http.Flusher)

	var content, reasoning strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		_, _ = io.WriteString(w, line+"\n\n")
		if flusher != nil {
			flusher.Flush()
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			continue
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil || len(chunk.Choices) == 0 {
			continue
		}
		content.WriteString(chunk.Choices[0].Delta.Content)
		reasoning.WriteString(chunk.Choices[0].Delta.ReasoningContent)
	}
	if err := scanner.Err(); err != nil {
		// Incomplete stream: the turn is partial, so nothing is captured.
		h.observe(model, modeStream, "upstream_error")
		h.logger.Warn("upstream stream ended early, turn not captured",
			"backend", rt.name, "error", err)
		return
	}

	h.observe(model, modeStream, "ok")
	h.observeUpstream(rt.name, rt.model, started)
	h.capture(in, content.String(), reasoning.String())
}

// relayFakeStream makes a non-streaming upstream call and re-emits the
// response as an SSE stream: reasoning first, then either tool calls or
// paced content slices, then a finish chunk and [DONE].
func (h *Handler) relayFakeStream(ctx context.Context, w http.ResponseWriter, rt route, payload []byte, model string, in captureInput) {
	started := time.Now()
	resp, err := h.doUpstream(ctx, rt, payload)
	if err != nil {
		h.traceError(ctx, err)
		if isTimeout(err) {
			h.observe(model, modeFakeStream, "timeout")
			writeNestedError(w, http.StatusGatewayTimeout, "Gateway timeout")
			return
		}
		h.observe(model, modeFakeStream, "connect_error")
		writeNestedError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		h.observe(model, modeFakeStream, "connect_error")
		writeNestedError(w, http.StatusBadGateway, err.Error())
		return
	}
	if resp.StatusCode != http.StatusOK {
		h.observe(model, modeFakeStream, "upstream_error")
		writeNestedError(w, resp.StatusCode, string(raw))
		return
	}

	var parsed completion
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Choices) == 0 {
		h.observe(model, modeFakeStream, "upstream_error")
		writeNestedError(w, http.StatusBadGateway, "invalid upstream response")
		return
	}
	h.observe(model, modeFakeStream, "ok")
	h.observeUpstream(rt.name, rt.model, started)

	setSSEHeaders(w)
	flusher, _ := w.(http.Flusher)
	emit := func(delta map[string]any, finish any) {
		chunk := map[string]any{
			"id":      parsed.ID,
			"object":  "chat.completion.chunk",
			"created": parsed.Created,
			"model":   parsed.Model,
			"choices": []map[string]any{{
				"index":         0,
				"delta":         delta,
				"finish_reason": finish,
			}},
		}
		b, _ := json.Marshal(chunk)
		_, _ = io.WriteString(w, "data: "+string(b)+"\n\n")
		if flusher != nil {
			flusher.Flush()
		}
	}

	msg := parsed.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		for _, rc := range runeChunks(msg.ReasoningContent, 4) {
			emit(map[string]any{"reasoning_content": rc}, nil)
			h.sleep(ctx)
		}
		for i, tc := range msg.ToolCalls {
			header := map[string]any{
				"tool_calls": []map[string]any{{
					"index": i,
					"id":    tc.ID,
					"type":  "function",
					"function": map[string]any{
						"name":      tc.Function.Name,
						"arguments": "",
					},
				}},
			}
			if i == 0 {
				header["role"] = "assistant"
				header["content"] = nil
			}
			emit(header, nil)
			emit(map[string]any{
				"tool_calls": []map[string]any{{
					"index": i,
					"function": map[string]any{
						"arguments": tc.Function.Arguments,
					},
				}},
			}, nil)
		}
		emit(map[string]any{}, "tool_calls")
	} else {
		emit(map[string]any{"role": "assistant", "content": ""}, nil)
		for _, rc := range runeChunks(msg.ReasoningContent, 4) {
			emit(map[string]any{"reasoning_content": rc}, nil)
			h.sleep(ctx)
		}
		for _, cc := range runeChunks(msg.Content, 4) {
			emit(map[string]any{"content": cc}, nil)
			h.sleep(ctx)
		}
		emit(map[string]any{}, "stop")
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}

	h.capture(in, msg.Content, msg.ReasoningContent)
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

// writeNestedError uses the richer error shape streaming clients expect.
func writeNestedError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": msg, "code": status},
	})
}

// runeChunks splits s into slices of at most n runes.
func runeChunks(s string, n int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	out := make([]string, 0, (len(runes)+n-1)/n)
	for i := 0; i < len(runes); i += n {
		end := i + n
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// sleep paces synthetic stream chunks so clients render them gradually.
func (h *Handler) sleep(ctx context.Context) {
	if h.pace <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(h.pace):
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
