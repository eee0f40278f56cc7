package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (r *Registry) sendStickerTool() mcp.Tool {
	return mcp.NewTool("send_sticker",
		mcp.WithDescription("根据当前心情发送一个表情包。回复会是一个markdown图片链接，直接放进消息里即可。"),
		mcp.WithString("mood",
			mcp.Required(),
			mcp.Description("当前的心情或想表达的情绪，如：开心、委屈、得意、困了"),
		),
	)
}

func (r *Registry) handleSendSticker(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mood := req.GetString("mood", "")
	entry, ok := r.stickers.Pick(mood)
	if !ok {
		return mcp.NewToolResultError("表情包目录是空的。"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("![%s](%s)", mood, entry.URL)), nil
}
