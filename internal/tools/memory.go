package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dreamhive/memgate/internal/store"
	"github.com/dreamhive/memgate/pkg/models"
)

func (r *Registry) searchMemoryTool() mcp.Tool {
	return mcp.NewTool("search_memory",
		mcp.WithDescription("搜索历史对话记忆。当需要回忆过去讨论过的内容、之前的约定、角色设定、剧情等时使用。支持语义搜索，能理解相关概念。"),
		mcp.WithString("query",
			mcp.Description("搜索关键词或描述，如'我的性格'、'上次约定的事情'、'之前讨论的剧情'"),
		),
		mcp.WithNumber("limit",
			mcp.Description("返回结果数量"),
			mcp.DefaultNumber(5),
		),
	)
}

func (r *Registry) handleSearchMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	limit := req.GetInt("limit", 5)
	return mcp.NewToolResultText(r.searchMemory(ctx, query, limit)), nil
}

// searchMemory runs hybrid retrieval, falling back to plain keyword search
// when the semantic path comes back empty. An empty query lists the most
// recent exchanges instead.
func (r *Registry) searchMemory(ctx context.Context, query string, limit int) string {
	if limit <= 0 {
		limit = 5
	}

	if query == "" {
		turns, err := r.memory.GetRecentTurns(ctx, r.userID, "", limit)
		if err != nil || len(turns) == 0 {
			return "没有找到最近的对话相关的记忆。"
		}
		return formatTurns(turns, "最近的对话")
	}

	hits := r.retriever.Search(ctx, query, models.SceneDaily, "", limit)
	if len(hits) > 0 {
		return formatHits(hits, query, true)
	}

	fallback, err := r.memory.SearchTurnsByKeyword(ctx, query, limit, store.SearchFilter{Scene: models.SceneDaily})
	if err != nil {
		r.logger.Warn("keyword fallback search", "error", err)
	}
	if len(fallback) == 0 {
		return fmt.Sprintf("没有找到与'%s'相关的记忆。", query)
	}
	return formatHits(fallback, query, false)
}

func formatTurns(turns []models.Turn, title string) string {
	lines := []string{fmt.Sprintf("找到 %d 条%s：", len(turns), title), ""}
	for i, t := range turns {
		lines = append(lines,
			fmt.Sprintf("【记忆 %d】(%s)", i+1, models.FormatBeijing(t.CreatedAt)),
			"Dream: "+clip(t.UserMsg, 150),
			"AI: "+clip(t.AssistantMsg, 150),
			"")
	}
	return strings.Join(lines, "\n")
}

func formatHits(hits []models.Hit, query string, semantic bool) string {
	suffix := ""
	if semantic {
		suffix = "（语义搜索）"
	}
	lines := []string{fmt.Sprintf("找到 %d 条与'%s'相关的记忆%s：", len(hits), query, suffix), ""}
	for i, h := range hits {
		header := fmt.Sprintf("【记忆 %d】(%s)", i+1, models.FormatBeijing(h.CreatedAt))
		if h.Similarity > 0 {
			header += fmt.Sprintf(" 相似度: %.2f", h.Similarity)
		}
		lines = append(lines, header)
		if h.Kind == models.HitSummary {
			lines = append(lines, h.Scene.Label()+" 摘要: "+clip(h.Summary, 150))
		} else {
			lines = append(lines,
				"Dream: "+clip(h.UserMsg, 150),
				"AI: "+clip(h.AssistantMsg, 150))
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func (r *Registry) initContextTool() mcp.Tool {
	return mcp.NewTool("init_context",
		mcp.WithDescription("获取最近的对话上下文。每次新对话开始时调用，用于恢复对话连续性。"),
		mcp.WithNumber("limit",
			mcp.Description("获取最近多少轮对话"),
			mcp.DefaultNumber(4),
		),
	)
}

func (r *Registry) handleInitContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(r.initContext(ctx, req.GetInt("limit", 4))), nil
}

// initContext assembles the cold-start block: recent summaries first, then
// verbatim recent turns, both oldest first so they read chronologically.
func (r *Registry) initContext(ctx context.Context, limit int) string {
	if limit <= 0 {
		limit = 4
	}
	var lines []string

	summaries, err := r.memory.GetRecentSummaries(ctx, r.userID, "", 3)
	if err != nil {
		r.logger.Warn("load recent summaries", "error", err)
	}
	if len(summaries) > 0 {
		lines = append(lines, "【前文回顾】以下是之前对话的摘要（仅供参考）：", "")
		for i := len(summaries) - 1; i >= 0; i-- {
			s := summaries[i]
			lines = append(lines, fmt.Sprintf("%d. [%s] %s",
				len(summaries)-i, models.FormatBeijing(s.CreatedAt), s.Summary))
		}
		lines = append(lines, "", "---", "")
	}

	turns, err := r.memory.GetRecentTurns(ctx, r.userID, "", limit)
	if err != nil {
		r.logger.Warn("load recent turns", "error", err)
	}
	if len(turns) > 0 {
		lines = append(lines, "【最近对话】以下是最近的对话原文：", "")
		for i := len(turns) - 1; i >= 0; i-- {
			t := turns[i]
			lines = append(lines,
				"["+models.FormatBeijing(t.CreatedAt)+"]",
				"Dream: "+t.UserMsg,
				"AI: "+models.TruncateRunes(t.AssistantMsg, 200),
				"")
		}
	}

	if len(lines) == 0 {
		return "这是一个全新的对话，没有之前的对话记录。"
	}
	return strings.Join(lines, "\n")
}
