package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dreamhive/memgate/internal/records"
)

func (r *Registry) queryRecordsTool() mcp.Tool {
	return mcp.NewTool("query_records",
		mcp.WithDescription("查询生活记录：消费、纪念日、聊天记忆、日记、约定、愿望清单。"),
		mcp.WithString("data_type",
			mcp.Required(),
			mcp.Description("要查询的记录类型"),
			mcp.Enum("expense", "memory", "chat_memory", "diary", "promise", "wishlist"),
		),
		mcp.WithString("period",
			mcp.Description("消费查询的时间范围"),
			mcp.Enum("today", "week", "month"),
		),
		mcp.WithString("keyword", mcp.Description("搜索关键词，用于纪念日和聊天记忆")),
		mcp.WithNumber("limit", mcp.Description("返回条数"), mcp.DefaultNumber(10)),
	)
}

func (r *Registry) handleQueryRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := r.ops.Query(ctx, records.QueryArgs{
		DataType: records.DataType(req.GetString("data_type", "")),
		Period:   req.GetString("period", "today"),
		Keyword:  req.GetString("keyword", ""),
		Limit:    req.GetInt("limit", 10),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}

func (r *Registry) saveRecordTool() mcp.Tool {
	return mcp.NewTool("save_record",
		mcp.WithDescription("保存一条生活记录：消费、纪念日、聊天记忆、约定或愿望。"),
		mcp.WithString("data_type",
			mcp.Required(),
			mcp.Description("记录类型"),
			mcp.Enum("expense", "memory", "chat_memory", "promise", "wishlist"),
		),
		mcp.WithString("content", mcp.Description("记录内容；纪念日时作为标题")),
		mcp.WithNumber("amount", mcp.Description("消费金额，仅expense")),
		mcp.WithString("category", mcp.Description("消费分类，如餐饮、购物")),
		mcp.WithString("note", mcp.Description("备注")),
		mcp.WithString("date", mcp.Description("日期YYYY-MM-DD，默认今天")),
		mcp.WithString("tags", mcp.Description("标签，仅chat_memory")),
	)
}

func (r *Registry) handleSaveRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := r.ops.Save(ctx, records.SaveArgs{
		DataType: records.DataType(req.GetString("data_type", "")),
		Content:  req.GetString("content", ""),
		Amount:   req.GetFloat("amount", 0),
		Category: req.GetString("category", ""),
		Note:     req.GetString("note", ""),
		Date:     req.GetString("date", ""),
		Tags:     req.GetString("tags", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}

func (r *Registry) deleteRecordTool() mcp.Tool {
	return mcp.NewTool("delete_record",
		mcp.WithDescription("删除一条生活记录。指定id精确删除；指定keyword删除最新匹配的一条；都不给则删除该类型最新一条。"),
		mcp.WithString("data_type",
			mcp.Required(),
			mcp.Description("记录类型"),
			mcp.Enum("expense", "memory", "chat_memory", "diary", "promise", "wishlist"),
		),
		mcp.WithString("id", mcp.Description("记录id")),
		mcp.WithString("keyword", mcp.Description("内容关键词")),
	)
}

func (r *Registry) handleDeleteRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := r.ops.Delete(ctx, records.DeleteArgs{
		DataType: records.DataType(req.GetString("data_type", "")),
		ID:       req.GetString("id", ""),
		Keyword:  req.GetString("keyword", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}

func (r *Registry) updateRecordTool() mcp.Tool {
	return mcp.NewTool("update_record",
		mcp.WithDescription("更新约定或愿望的完成状态。"),
		mcp.WithString("data_type",
			mcp.Required(),
			mcp.Description("记录类型，仅支持promise和wishlist"),
			mcp.Enum("promise", "wishlist"),
		),
		mcp.WithString("id", mcp.Required(), mcp.Description("记录id")),
		mcp.WithString("status",
			mcp.Required(),
			mcp.Description("新状态"),
			mcp.Enum("pending", "done"),
		),
	)
}

func (r *Registry) handleUpdateRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := r.ops.Update(ctx, records.UpdateArgs{
		DataType: records.DataType(req.GetString("data_type", "")),
		ID:       req.GetString("id", ""),
		Status:   req.GetString("status", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}
