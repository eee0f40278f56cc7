package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

func (r *Registry) mapsGeocodeTool() mcp.Tool {
	return mcp.NewTool("maps_geocode",
		mcp.WithDescription("地址转坐标。输入地址，返回经纬度和行政区划信息。"),
		mcp.WithString("address",
			mcp.Required(),
			mcp.Description("要解析的地址，如'北京市朝阳区阜通东大街6号'"),
		),
		mcp.WithString("city", mcp.Description("城市名，可选，用于提高解析准确度")),
	)
}

func (r *Registry) handleMapsGeocode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := r.maps.Geocode(ctx, req.GetString("address", ""), req.GetString("city", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}

func (r *Registry) mapsAroundTool() mcp.Tool {
	return mcp.NewTool("maps_around",
		mcp.WithDescription("搜索某个位置周边的地点，如附近的餐厅、咖啡店、地铁站。"),
		mcp.WithString("keyword", mcp.Description("搜索关键词，如'咖啡'、'火锅'")),
		mcp.WithString("location", mcp.Description("中心点坐标'经度,纬度'，与address二选一")),
		mcp.WithString("address", mcp.Description("中心点地址，与location二选一")),
		mcp.WithString("city", mcp.Description("城市名，解析address时使用")),
		mcp.WithNumber("radius", mcp.Description("搜索半径（米）"), mcp.DefaultNumber(3000)),
		mcp.WithNumber("limit", mcp.Description("返回结果数量"), mcp.DefaultNumber(10)),
	)
}

func (r *Registry) handleMapsAround(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := r.maps.Around(ctx,
		req.GetString("keyword", ""),
		req.GetString("location", ""),
		req.GetString("address", ""),
		req.GetString("city", ""),
		req.GetInt("radius", 3000),
		req.GetInt("limit", 10),
	)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}

func (r *Registry) mapsTextSearchTool() mcp.Tool {
	return mcp.NewTool("maps_text_search",
		mcp.WithDescription("按关键词搜索地点，不限定周边范围，如搜索某家具体的店。"),
		mcp.WithString("keyword", mcp.Required(), mcp.Description("搜索关键词")),
		mcp.WithString("city", mcp.Description("限定城市")),
		mcp.WithNumber("limit", mcp.Description("返回结果数量"), mcp.DefaultNumber(10)),
	)
}

func (r *Registry) handleMapsTextSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := r.maps.TextSearch(ctx,
		req.GetString("keyword", ""),
		req.GetString("city", ""),
		req.GetInt("limit", 10),
	)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}

func (r *Registry) mapsDistanceTool() mcp.Tool {
	return mcp.NewTool("maps_distance",
		mcp.WithDescription("测量两地之间的距离和预计耗时。"),
		mcp.WithString("origin", mcp.Required(), mcp.Description("起点，地址或'经度,纬度'坐标")),
		mcp.WithString("destination", mcp.Required(), mcp.Description("终点，地址或坐标")),
		mcp.WithString("city", mcp.Description("城市名，解析地址时使用")),
		mcp.WithNumber("mode", mcp.Description("测量方式：0驾车 1直线 3步行"), mcp.DefaultNumber(1)),
	)
}

func (r *Registry) handleMapsDistance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := r.maps.Distance(ctx,
		req.GetString("origin", ""),
		req.GetString("destination", ""),
		req.GetString("city", ""),
		req.GetInt("mode", 1),
	)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}

func (r *Registry) mapsRouteTool() mcp.Tool {
	return mcp.NewTool("maps_route",
		mcp.WithDescription("规划两地之间的出行路线。"),
		mcp.WithString("origin", mcp.Required(), mcp.Description("起点，地址或'经度,纬度'坐标")),
		mcp.WithString("destination", mcp.Required(), mcp.Description("终点，地址或坐标")),
		mcp.WithString("city", mcp.Description("城市名，公交路线必填")),
		mcp.WithString("mode",
			mcp.Description("出行方式"),
			mcp.Enum("walking", "driving", "transit"),
			mcp.DefaultString("walking"),
		),
	)
}

func (r *Registry) handleMapsRoute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := r.maps.Route(ctx,
		req.GetString("origin", ""),
		req.GetString("destination", ""),
		req.GetString("city", ""),
		req.GetString("mode", "walking"),
	)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}
