package mcpserver

import (
	"context"
	"testing"

	"lexicon-go/internal/model"
	"lexicon-go/internal/service"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLoader []model.LabelRecord

func (l staticLoader) LoadAll(ctx context.Context) ([]model.LabelRecord, error) {
	return l, nil
}

func newTestServer(t *testing.T, load bool) *Server {
	t.Helper()
	svc := service.NewSearchService(staticLoader{
		{EquipmentID: "1", EquipmentName: "金甲", AllLabels: []string{"gold", "metal"}, AppearanceDescription: "ornate"},
		{EquipmentID: "2", EquipmentName: "布衣", AllLabels: []string{"gold"}},
	}, 100)
	if load {
		_, err := svc.Reload(context.Background())
		require.NoError(t, err)
	}
	return New(svc, 10, "test")
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestSearchTool(t *testing.T) {
	s := newTestServer(t, true)

	res, err := s.handleSearch(context.Background(), callRequest(map[string]any{"tags": "gold, metal", "top_k": float64(1)}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	text := resultText(t, res)
	assert.Contains(t, text, "共 2 件匹配，显示前 1 件")
	assert.Contains(t, text, "金甲 (1) 匹配分 1.0000")
	assert.NotContains(t, text, "布衣")
}

func TestSearchTool_ValidationError(t *testing.T) {
	s := newTestServer(t, true)
	res, err := s.handleSearch(context.Background(), callRequest(map[string]any{"tags": " , "}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestListTagsTool(t *testing.T) {
	res, err := newTestServer(t, true).handleListTags(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "gold, metal")

	res, err = newTestServer(t, false).handleListTags(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestGetEquipmentTool(t *testing.T) {
	s := newTestServer(t, true)

	res, err := s.handleGetEquipment(context.Background(), callRequest(map[string]any{"equipment_id": "1"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "- **描述**: ornate")

	res, err = s.handleGetEquipment(context.Background(), callRequest(map[string]any{"equipment_id": "404"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "装备不存在", resultText(t, res))
}
