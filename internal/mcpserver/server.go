// Package mcpserver 把标签检索以 MCP 工具的形式暴露给智能体客户端。
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lexicon-go/internal/model"
	"lexicon-go/internal/service"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server 包装了底层 MCP 服务器。
type Server struct {
	searchService service.SearchService
	defaultTopK   int
	mcpServer     *server.MCPServer
}

// New 创建 MCP 服务器并注册工具。
func New(searchService service.SearchService, defaultTopK int, version string) *Server {
	if defaultTopK < 1 {
		defaultTopK = service.DefaultTopK
	}
	s := &Server{searchService: searchService, defaultTopK: defaultTopK}
	s.mcpServer = server.NewMCPServer(
		"lexicon",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.registerTools()
	return s
}

// Server returns the underlying MCP server
func (s *Server) Server() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("search_equipment",
		mcp.WithDescription("按外观标签检索装备，返回按匹配分排序的结果"),
		mcp.WithString("tags",
			mcp.Required(),
			mcp.Description("查询标签，多个标签用逗号分隔，例如: 金色, 龙纹"),
		),
		mcp.WithNumber("top_k", mcp.Description("返回条数上限")),
		mcp.WithString("mode", mcp.Description("any（默认，命中任一标签）或 all（必须覆盖全部标签）")),
	), s.handleSearch)

	s.mcpServer.AddTool(mcp.NewTool("list_tags",
		mcp.WithDescription("列出全部已有标签"),
	), s.handleListTags)

	s.mcpServer.AddTool(mcp.NewTool("get_equipment",
		mcp.WithDescription("按装备 ID 查看标签和外观描述"),
		mcp.WithString("equipment_id", mcp.Required(), mcp.Description("装备ID")),
	), s.handleGetEquipment)
}

func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags := strings.FieldsFunc(request.GetString("tags", ""), func(r rune) bool { return r == ',' || r == '，' })
	topK := int(request.GetFloat("top_k", float64(s.defaultTopK)))

	resp, err := s.searchService.Search(service.SearchQuery{Tags: tags, TopK: topK, Mode: request.GetString("mode", "")})
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(formatResults(resp)), nil
}

func (s *Server) handleListTags(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags, err := s.searchService.ListTags()
	if err != nil {
		return toolError(err), nil
	}
	if tags.Count == 0 {
		return mcp.NewToolResultText("# 标签\n\n暂无标签。"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("# 标签 (%d)\n\n%s", tags.Count, strings.Join(tags.Tags, ", "))), nil
}

func (s *Server) handleGetEquipment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("equipment_id", "")
	if id == "" {
		return mcp.NewToolResultError("equipment_id parameter required"), nil
	}
	detail, err := s.searchService.Get(id)
	if err != nil {
		return toolError(err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s (%s)\n\n", detail.EquipmentName, detail.EquipmentID)
	fmt.Fprintf(&b, "- **标签**: %s\n", strings.Join(detail.AllLabels, ", "))
	if detail.AppearanceDescription != "" {
		fmt.Fprintf(&b, "- **描述**: %s\n", detail.AppearanceDescription)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, service.ErrNotLoaded):
		return mcp.NewToolResultError("数据尚未加载")
	case errors.Is(err, service.ErrNotFound):
		return mcp.NewToolResultError("装备不存在")
	}
	return mcp.NewToolResultError(err.Error())
}

// formatResults 以 markdown 输出检索结果
func formatResults(resp model.SearchResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# 检索: %s\n\n", strings.Join(resp.QueryTags, ", "))
	if len(resp.Results) == 0 {
		b.WriteString("没有匹配的装备。")
		return b.String()
	}
	fmt.Fprintf(&b, "共 %d 件匹配，显示前 %d 件\n", resp.TotalMatches, len(resp.Results))
	for _, r := range resp.Results {
		fmt.Fprintf(&b, "\n## %s (%s) 匹配分 %.4f\n", r.EquipmentName, r.EquipmentID, r.MatchScore)
		fmt.Fprintf(&b, "- **标签**: %s\n", r.AllLabels)
		if len(r.MatchedLabels) > 0 {
			fmt.Fprintf(&b, "- **命中标签**: %s\n", strings.Join(r.MatchedLabels, ", "))
		}
		if r.AppearanceDescription != "" {
			fmt.Fprintf(&b, "- **描述**: %s\n", r.AppearanceDescription)
		}
	}
	return b.String()
}
