// Package proxy implements the OpenAI-compatible chat completion surface.
// Requests are routed to a configured upstream backend, relayed in one of
// three modes, and captured into memory after the response completes.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dreamhive/memgate/internal/config"
	"github.com/dreamhive/memgate/internal/inject"
	"github.com/dreamhive/memgate/internal/observability"
	"github.com/dreamhive/memgate/pkg/models"
)

// Relay modes. fake_stream answers a streaming client from a non-streaming
// upstream call by re-serializing the response as SSE chunks.
const (
	modeSync       = "sync"
	modeStream     = "stream"
	modeFakeStream = "fake_stream"
)

// fakeStreamPrefixes mark a model name as requesting synthetic streaming.
// The two Chinese prefixes are kept for clients configured against the
// previous gateway.
var fakeStreamPrefixes = []string{"fake-stream/", "假流式/", "流式抗截断/"}

// thinkingMarkers select the long upstream timeout. Reasoning models hold
// the connection open far longer than chat models.
var thinkingMarkers = []string{"2.5-pro", "reasoner", "thinking", "opus"}

const (
	defaultTimeout  = 180 * time.Second
	thinkingTimeout = 300 * time.Second
	defaultPace     = 20 * time.Millisecond
)

// Storage is the slice of the store the proxy needs for capture.
type Storage interface {
	NextRound(ctx context.Context, userID, channel string) (int, error)
	InsertTurn(ctx context.Context, turn *models.Turn) error
	IncrementWeight(ctx context.Context, id string) error
	UpdateTurnEmbedding(ctx context.Context, id string, embedding []float32) error
}

// Injector splices retrieved memory into the outgoing message list.
type Injector interface {
	Process(ctx context.Context, userMsg string, scene models.Scene, messages []any, userID, channel string) ([]any, inject.Rule)
}

// SceneDetector classifies the latest user message.
type SceneDetector interface {
	Detect(userMsg, channel string) (models.Scene, bool)
}

// Summarizer is notified after each captured round.
type Summarizer interface {
	CheckAndGenerate(ctx context.Context, userID, channel string, currentRound int) error
}

// Embedder backfills the captured turn's vector.
type Embedder interface {
	EmbedTurn(ctx context.Context, userMsg, assistantMsg string) ([]float32, error)
}

// Background runs capture work off the request goroutine.
type Background interface {
	Submit(name string, fn func(context.Context) error)
}

// Tracer opens a span per relayed request. *observability.Tracer satisfies it.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
	RecordError(span trace.Span, err error)
}

// Handler serves /v1/chat/completions plus the health and model listing
// endpoints. Capture dependencies are optional; a Handler without them is
// a plain relay.
type Handler struct {
	cfg         config.ProxyConfig
	version     string
	defaultUser string

	scenes     SceneDetector
	injector   Injector
	store      Storage
	summaries  Summarizer
	embedder   Embedder
	background Background

	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  Tracer

	direct  *http.Client
	proxied *http.Client

	pace time.Duration
	now  func() time.Time
}

// Config wires a Handler.
type Config struct {
	Proxy config.ProxyConfig
	// OutboundProxy is applied to non-loopback upstreams.
	OutboundProxy string
	Version       string
	DefaultUser   string

	Scenes     SceneDetector
	Injector   Injector
	Store      Storage
	Summaries  Summarizer
	Embedder   Embedder
	Background Background

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  Tracer

	// Pace overrides the synthetic stream chunk interval.
	Pace time.Duration
	Now  func() time.Time
}

// New creates the handler.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	pace := cfg.Pace
	if pace == 0 {
		pace = defaultPace
	}
	user := cfg.DefaultUser
	if user == "" {
		user = "dream"
	}

	direct := &http.Client{Transport: &http.Transport{Proxy: nil}}
	proxied := direct
	if cfg.OutboundProxy != "" {
		if u, err := url.Parse(cfg.OutboundProxy); err == nil {
			proxied = &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(u)}}
		} else {
			logger.Warn("invalid outbound proxy, upstream calls go direct", "proxy", cfg.OutboundProxy, "error", err)
		}
	}

	return &Handler{
		cfg:         cfg.Proxy,
		version:     cfg.Version,
		defaultUser: user,
		scenes:      cfg.Scenes,
		injector:    cfg.Injector,
		store:       cfg.Store,
		summaries:   cfg.Summaries,
		embedder:    cfg.Embedder,
		background:  cfg.Background,
		logger:      logger,
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		direct:      direct,
		proxied:     proxied,
		pace:        pace,
		now:         now,
	}
}

// Routes mounts the proxy surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/v1/chat/completions", h.handleChatCompletions)
	r.Get("/health", h.handleHealth)
	r.Get("/models", h.handleModels)
	r.Get("/v1/models", h.handleModels)
	return r
}

// route is one resolved upstream target.
type route struct {
	// name is the backend key; it doubles as the memory channel.
	name    string
	baseURL string
	apiKey  string
	model   string
	headers map[string]string
}

// resolve maps a client-facing model name onto an upstream. Aliases win,
// then vendor-prefixed names go to OpenRouter, then the default backend
// takes whatever is left.
func (h *Handler) resolve(model string) (route, error) {
	if alias, ok := h.cfg.Aliases[strings.ToLower(model)]; ok {
		b, ok := h.cfg.Backends[alias.Backend]
		if !ok {
			return route{}, fmt.Errorf("alias %q references unknown backend %q", model, alias.Backend)
		}
		upstream := alias.UpstreamModel
		if upstream == "" {
			upstream = model
		}
		return route{name: alias.Backend, baseURL: b.BaseURL, apiKey: b.APIKey, model: upstream, headers: b.Headers}, nil
	}

	if strings.Contains(model, "/") && h.cfg.OpenRouter.BaseURL != "" {
		or := h.cfg.OpenRouter
		headers := map[string]string{}
		if or.Referer != "" {
			headers["HTTP-Referer"] = or.Referer
		}
		if or.Title != "" {
			headers["X-Title"] = or.Title
		}
		return route{name: "openrouter", baseURL: or.BaseURL, apiKey: or.APIKey, model: model, headers: headers}, nil
	}

	b, ok := h.cfg.Backends[h.cfg.DefaultBackend]
	if !ok {
		return route{}, fmt.Errorf("unknown model %q and no default backend configured", model)
	}
	return route{name: h.cfg.DefaultBackend, baseURL: b.BaseURL, apiKey: b.APIKey, model: model, headers: b.Headers}, nil
}

// stripFakeStreamPrefix removes a synthetic streaming prefix if present.
func stripFakeStreamPrefix(model string) (string, bool) {
	for _, p := range fakeStreamPrefixes {
		if strings.HasPrefix(model, p) {
			return strings.TrimPrefix(model, p), true
		}
	}
	return model, false
}

// upstreamTimeout picks the call deadline from the canonical model name.
func upstreamTimeout(model string) time.Duration {
	lower := strings.ToLower(model)
	for _, m := range thinkingMarkers {
		if strings.Contains(lower, m) {
			return thinkingTimeout
		}
	}
	return defaultTimeout
}

// client picks the HTTP client for a base URL. Loopback upstreams never go
// through the outbound proxy.
func (h *Handler) client(baseURL string) *http.Client {
	if strings.Contains(baseURL, "localhost") || strings.Contains(baseURL, "127.0.0.1") {
		return h.direct
	}
	return h.proxied
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.observe("", modeSync, "bad_request")
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	model, _ := body["model"].(string)
	if model == "" {
		h.observe("", modeSync, "bad_request")
		writeJSONError(w, http.StatusBadRequest, "model is required")
		return
	}

	stripped, fake := stripFakeStreamPrefix(model)
	mode := modeSync
	switch {
	case fake:
		mode = modeFakeStream
	case body["stream"] == true:
		mode = modeStream
	}

	rt, err := h.resolve(stripped)
	if err != nil {
		h.observe(model, mode, "bad_request")
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages, _ := body["messages"].([]any)
	userMsg := lastUserMessage(messages)
	userID, _ := body["user"].(string)
	if userID == "" {
		userID = h.defaultUser
	}
	channel := rt.name

	sceneType := models.SceneDaily
	if h.scenes != nil {
		sceneType, _ = h.scenes.Detect(userMsg, channel)
	}
	if h.injector != nil && userMsg != "" {
		messages, _ = h.injector.Process(r.Context(), userMsg, sceneType, messages, userID, channel)
		body["messages"] = messages
	}

	body["model"] = rt.model
	if mode == modeFakeStream {
		body["stream"] = false
	}
	payload, err := json.Marshal(body)
	if err != nil {
		h.observe(model, mode, "bad_request")
		writeJSONError(w, http.StatusBadRequest, "unserializable request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), upstreamTimeout(rt.model))
	defer cancel()

	if h.tracer != nil {
		var span trace.Span
		ctx, span = h.tracer.Start(ctx, "proxy.chat_completions",
			attribute.String("proxy.model", model),
			attribute.String("proxy.mode", mode),
			attribute.String("proxy.backend", rt.name))
		defer span.End()
	}

	in := captureInput{
		userID:  userID,
		channel: channel,
		scene:   sceneType,
		userMsg: userMsg,
	}

	switch mode {
	case modeStream:
		h.relayStream(ctx, w, rt, payload, model, in)
	case modeFakeStream:
		h.relayFakeStream(ctx, w, rt, payload, model, in)
	default:
		h.relaySync(ctx, w, rt, payload, model, in)
	}
}

// doUpstream posts the chat completion payload to the resolved backend.
func (h *Handler) doUpstream(ctx context.Context, rt route, payload []byte) (*http.Response, error) {
	endpoint := strings.TrimSuffix(rt.baseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if rt.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+rt.apiKey)
	}
	for k, v := range rt.headers {
		req.Header.Set(k, v)
	}
	return h.client(rt.baseURL).Do(req)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"version":          h.version,
		"timestamp":        h.now().UTC().Format(time.RFC3339),
		"supported_models": h.aliasNames(),
	})
}

func (h *Handler) handleModels(w http.ResponseWriter, r *http.Request) {
	created := h.now().Unix()
	data := make([]map[string]any, 0, len(h.cfg.Aliases))
	for _, name := range h.aliasNames() {
		data = append(data, map[string]any{
			"id":       name,
			"object":   "model",
			"created":  created,
			"owned_by": "memgate",
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

func (h *Handler) aliasNames() []string {
	names := make([]string, 0, len(h.cfg.Aliases))
	for name := range h.cfg.Aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// traceError marks the request span failed; the span rides in ctx.
func (h *Handler) traceError(ctx context.Context, err error) {
	if h.tracer == nil || err == nil {
		return
	}
	h.tracer.RecordError(trace.SpanFromContext(ctx), err)
}

func (h *Handler) observe(model, mode, status string) {
	if h.metrics != nil {
		h.metrics.ProxyRequests.WithLabelValues(model, mode, status).Inc()
	}
}

func (h *Handler) observeUpstream(backend, model string, started time.Time) {
	if h.metrics != nil {
		h.metrics.UpstreamDuration.WithLabelValues(backend, model).Observe(time.Since(started).Seconds())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
