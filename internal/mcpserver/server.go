// Package mcpserver exposes the gateway's tools over MCP Streamable HTTP:
// JSON-RPC on POST, a heartbeat SSE stream on GET, session retirement on
// DELETE. Protocol dispatch is delegated to mcp-go; this layer owns the
// session table and the transport quirks tolerant clients depend on.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// serverName is the serverInfo.name clients see in initialize.
	serverName = "memory-gateway"

	sessionHeader = "Mcp-Session-Id"

	maxBodyBytes = 4 << 20
)

// Tracer opens a span per tool call. *observability.Tracer satisfies it.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
	RecordError(span trace.Span, err error)
}

// Server wraps an mcp-go MCPServer with tolerant session handling and the
// SSE keepalive transport.
type Server struct {
	mcp       *server.MCPServer
	logger    *slog.Logger
	heartbeat time.Duration
	mintID    func() string
	observe   func(tool, status string)
	tracer    Tracer

	mu       sync.Mutex
	sessions map[string]time.Time
}

// Config wires a Server.
type Config struct {
	Version string
	// HeartbeatInterval between SSE comment lines; default 25s.
	HeartbeatInterval time.Duration
	Logger            *slog.Logger
	// MintSessionID overrides session id generation, for tests.
	MintSessionID func() string
	// Observe receives (tool name, ok|error|invalid_args) per tools/call.
	Observe func(tool, status string)
	// Tracer, when set, traces each tool call.
	Tracer Tracer
}

// New creates the server. Tools are registered afterwards via AddTool.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	mintID := cfg.MintSessionID
	if mintID == nil {
		mintID = newSessionID
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	return &Server{
		mcp:       server.NewMCPServer(serverName, version, server.WithToolCapabilities(false)),
		logger:    logger,
		heartbeat: heartbeat,
		mintID:    mintID,
		observe:   cfg.Observe,
		tracer:    cfg.Tracer,
		sessions:  make(map[string]time.Time),
	}
}

// AddTool registers a tool. Arguments are validated against the tool's
// input schema before the handler runs; violations come back as tool-result
// errors so the model can correct itself instead of the call hard-failing.
func (s *Server) AddTool(tool mcp.Tool, handler server.ToolHandlerFunc) error {
	schema, err := compileInputSchema(tool)
	if err != nil {
		return fmt.Errorf("tool %s: %w", tool.Name, err)
	}

	s.mcp.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var span trace.Span
		if s.tracer != nil {
			ctx, span = s.tracer.Start(ctx, "mcp.tool_call",
				attribute.String("tool.name", tool.Name))
			defer span.End()
		}
		if err := schema.Validate(req.GetArguments()); err != nil {
			s.record(tool.Name, "invalid_args")
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		result, err := handler(ctx, req)
		if err != nil || (result != nil && result.IsError) {
			s.record(tool.Name, "error")
		} else {
			s.record(tool.Name, "ok")
		}
		if span != nil && err != nil {
			s.tracer.RecordError(span, err)
		}
		return result, err
	})
	return nil
}

func (s *Server) record(tool, status string) {
	if s.observe != nil {
		s.observe(tool, status)
	}
}

func compileInputSchema(tool mcp.Tool) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("encode input schema: %w", err)
	}
	schema, err := jsonschema.CompileString(tool.Name+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile input schema: %w", err)
	}
	return schema, nil
}

// HandlePost serves the JSON-RPC endpoint.
func (s *Server) HandlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var peek struct {
		Method string `json:"method"`
	}
	// Malformed bodies fall through: HandleMessage answers with -32700.
	_ = json.Unmarshal(body, &peek)

	sid := r.Header.Get(sessionHeader)
	switch peek.Method {
	case "initialize":
		sid = s.createSession()
	case "notifications/initialized":
		// Pass through untouched; clients may send it before the
		// initialize response round-trips.
	default:
		s.touchSession(sid)
	}

	resp := s.mcp.HandleMessage(r.Context(), body)

	if sid != "" {
		w.Header().Set(sessionHeader, sid)
	}
	if resp == nil {
		// Notification: acknowledged, nothing to say.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("mcp response write failed", "error", err)
	}
}

// HandleSSE serves the GET keepalive stream. The stream never carries
// server-initiated messages; it exists so Streamable HTTP clients keep
// their connection model happy. Comment lines double as heartbeats.
func (s *Server) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	if sid := r.Header.Get(sessionHeader); sid != "" {
		s.touchSession(sid)
		w.Header().Set(sessionHeader, sid)
		s.logger.Debug("mcp sse opened", "session", shortID(sid))
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		fmt.Fprint(w, ": heartbeat\n\n")
		flusher.Flush()
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// HandleDelete retires a session. Deleting an unknown session is fine.
func (s *Server) HandleDelete(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get(sessionHeader)
	if sid != "" {
		s.mu.Lock()
		if _, ok := s.sessions[sid]; ok {
			delete(s.sessions, sid)
			s.logger.Info("mcp session closed", "session", shortID(sid))
		}
		s.mu.Unlock()
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) createSession() string {
	sid := s.mintID()
	s.mu.Lock()
	s.sessions[sid] = time.Now()
	s.mu.Unlock()
	s.logger.Info("mcp session created", "session", shortID(sid))
	return sid
}

// touchSession refreshes a known session and auto-registers unknown ones.
// Rejecting stale sessions would strand clients that survived a gateway
// restart, so tolerance is the contract here.
func (s *Server) touchSession(sid string) {
	if sid == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sid]; !ok {
		s.logger.Warn("unknown mcp session, auto-registering", "session", shortID(sid))
	}
	s.sessions[sid] = time.Now()
}

// SessionCount reports live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func newSessionID() string {
	return uuid.New().String()
}

func shortID(sid string) string {
	if len(sid) > 8 {
		return sid[:8]
	}
	return sid
}
