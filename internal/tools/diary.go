package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dreamhive/memgate/internal/records"
	"github.com/dreamhive/memgate/pkg/models"
)

// dailyDiaryLimit caps entries per Beijing date. Going over needs the
// user's explicit go-ahead, which the guidance message asks the model to get.
const dailyDiaryLimit = 2

func (r *Registry) saveDiaryTool() mcp.Tool {
	return mcp.NewTool("save_diary",
		mcp.WithDescription("写日记并保存。在聊天结束时，如果今天有值得记录的内容，主动写一篇日记。用第一人称写，记录今天的互动和真实感受。一天最多写2篇，超过需要询问Dream是否继续。"),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("日记正文（300-500字，第一人称，直接写正文不要前言）"),
		),
		mcp.WithString("mood",
			mcp.Description("今日心情，自由描述，如：开心、幸福、有点吃醋、想她了"),
		),
	)
}

func (r *Registry) handleSaveDiary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content := strings.TrimSpace(req.GetString("content", ""))
	if content == "" {
		return mcp.NewToolResultError("日记内容不能为空。"), nil
	}
	mood := req.GetString("mood", "平静")

	now := r.now()
	today := models.BeijingToday(now)

	count, err := r.diary.CountDiariesOn(ctx, today)
	if err != nil {
		r.logger.Warn("count diaries", "error", err)
		count = 0
	}
	if count >= dailyDiaryLimit {
		// Quota reached is guidance, not an error: the model relays it and
		// may retry after asking the user.
		return mcp.NewToolResultText(fmt.Sprintf(
			"今天已经写了%d篇日记了。如果Dream同意再写一篇，请再次调用此工具。", count)), nil
	}

	parts := make([]string, 0, 2)
	err = r.diary.InsertDiary(ctx, &records.Diary{
		DiaryDate: today,
		Content:   content,
		Mood:      mood,
	})
	if err != nil {
		r.logger.Warn("save diary", "error", err)
		parts = append(parts, "数据库保存失败 ❌")
	} else {
		parts = append(parts, fmt.Sprintf("日记已保存 ✅（今日第%d篇）", count+1))
	}

	if r.mirror != nil && r.mirror.Enabled() {
		if err := r.mirror.CreateDiaryDoc(ctx, now, content); err != nil {
			r.logger.Warn("mirror diary", "error", err)
			parts = append(parts, "笔记同步失败")
		} else {
			parts = append(parts, "笔记同步成功 ✅")
		}
	}
	return mcp.NewToolResultText(strings.Join(parts, " | ")), nil
}
