// Package tools implements the assistant-facing tools and registers them on
// the MCP server: memory search, context restore, diary, stickers, maps,
// and the structured record operations.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dreamhive/memgate/internal/mcpserver"
	"github.com/dreamhive/memgate/internal/records"
	"github.com/dreamhive/memgate/internal/sticker"
	"github.com/dreamhive/memgate/internal/store"
	"github.com/dreamhive/memgate/pkg/models"
)

// Retriever is the hybrid search engine surface.
type Retriever interface {
	Search(ctx context.Context, query string, scene models.Scene, channel string, limit int) []models.Hit
}

// MemoryStore covers the conversation reads the tools need.
type MemoryStore interface {
	GetRecentTurns(ctx context.Context, userID, channel string, limit int) ([]models.Turn, error)
	GetRecentSummaries(ctx context.Context, userID, channel string, limit int) ([]models.Summary, error)
	SearchTurnsByKeyword(ctx context.Context, term string, limit int, filter store.SearchFilter) ([]models.Hit, error)
}

// DiaryStore covers the diary quota and insert.
type DiaryStore interface {
	CountDiariesOn(ctx context.Context, diaryDate string) (int, error)
	InsertDiary(ctx context.Context, d *records.Diary) error
}

// RecordOps is the unified record dispatch surface.
type RecordOps interface {
	Query(ctx context.Context, args records.QueryArgs) (string, error)
	Save(ctx context.Context, args records.SaveArgs) (string, error)
	Delete(ctx context.Context, args records.DeleteArgs) (string, error)
	Update(ctx context.Context, args records.UpdateArgs) (string, error)
}

// Mirror is the optional external notes copy for diaries.
type Mirror interface {
	Enabled() bool
	CreateDiaryDoc(ctx context.Context, diaryDate time.Time, content string) error
}

// Stickers picks a catalog entry by mood.
type Stickers interface {
	Pick(mood string) (sticker.Entry, bool)
}

// MapsClient is the geo service surface.
type MapsClient interface {
	Geocode(ctx context.Context, address, city string) (string, error)
	Around(ctx context.Context, keyword, location, address, city string, radius, limit int) (string, error)
	TextSearch(ctx context.Context, keyword, city string, limit int) (string, error)
	Distance(ctx context.Context, origin, destination, city string, mode int) (string, error)
	Route(ctx context.Context, origin, destination, city, mode string) (string, error)
}

// Registry holds the tool dependencies and knows how to register every tool.
type Registry struct {
	retriever Retriever
	memory    MemoryStore
	diary     DiaryStore
	ops       RecordOps
	mirror    Mirror
	stickers  Stickers
	maps      MapsClient
	userID    string
	logger    *slog.Logger
	now       func() time.Time
}

// Config wires a Registry. Nil optional dependencies (maps, stickers,
// mirror, ops) skip their tools.
type Config struct {
	Retriever Retriever
	Memory    MemoryStore
	Diary     DiaryStore
	Ops       RecordOps
	Mirror    Mirror
	Stickers  Stickers
	Maps      MapsClient
	// UserID scopes memory reads; retrieval data is single-tenant per user.
	UserID string
	Logger *slog.Logger
	Now    func() time.Time
}

// New creates a Registry.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	userID := cfg.UserID
	if userID == "" {
		userID = "dream"
	}
	return &Registry{
		retriever: cfg.Retriever,
		memory:    cfg.Memory,
		diary:     cfg.Diary,
		ops:       cfg.Ops,
		mirror:    cfg.Mirror,
		stickers:  cfg.Stickers,
		maps:      cfg.Maps,
		userID:    userID,
		logger:    logger.With("component", "tools"),
		now:       now,
	}
}

// Register adds every available tool to the MCP server.
func (r *Registry) Register(srv *mcpserver.Server) error {
	type entry struct {
		tool    mcp.Tool
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
	}
	entries := []entry{
		{r.searchMemoryTool(), r.handleSearchMemory},
		{r.initContextTool(), r.handleInitContext},
		{r.saveDiaryTool(), r.handleSaveDiary},
	}
	if r.stickers != nil {
		entries = append(entries, entry{r.sendStickerTool(), r.handleSendSticker})
	}
	if r.maps != nil {
		entries = append(entries,
			entry{r.mapsGeocodeTool(), r.handleMapsGeocode},
			entry{r.mapsAroundTool(), r.handleMapsAround},
			entry{r.mapsTextSearchTool(), r.handleMapsTextSearch},
			entry{r.mapsDistanceTool(), r.handleMapsDistance},
			entry{r.mapsRouteTool(), r.handleMapsRoute},
		)
	}
	if r.ops != nil {
		entries = append(entries,
			entry{r.queryRecordsTool(), r.handleQueryRecords},
			entry{r.saveRecordTool(), r.handleSaveRecord},
			entry{r.deleteRecordTool(), r.handleDeleteRecord},
			entry{r.updateRecordTool(), r.handleUpdateRecord},
		)
	}
	for _, e := range entries {
		if err := srv.AddTool(e.tool, e.handler); err != nil {
			return err
		}
	}
	return nil
}

// Run dispatches a tool by name with loose arguments. The diary writer uses
// this for its in-process research loop.
func (r *Registry) Run(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case "search_memory":
		query, _ := args["query"].(string)
		return r.searchMemory(ctx, query, intArg(args, "limit", 5)), nil
	case "init_context":
		return r.initContext(ctx, intArg(args, "limit", 4)), nil
	}
	return "", fmt.Errorf("unknown tool: %s", name)
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// clip truncates to max runes without an ellipsis; tool previews match the
// injected-context style.
func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
