// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"lexicon-go/internal/service"
	"lexicon-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SearchHandler 结构体定义了标签检索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
	defaultTopK   int
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService, defaultTopK int) *SearchHandler {
	if defaultTopK < 1 {
		defaultTopK = service.DefaultTopK
	}
	return &SearchHandler{
		searchService: searchService,
		defaultTopK:   defaultTopK,
	}
}

// ListTags 处理 GET /tags。
func (h *SearchHandler) ListTags(c *gin.Context) {
	tags, err := h.searchService.ListTags()
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, tags)
}

// Search 处理 GET /search?tags=a&tags=b&top_k=10&mode=any。
// tags 既可以重复出现，也可以用逗号分隔。
func (h *SearchHandler) Search(c *gin.Context) {
	var tags []string
	for _, raw := range c.QueryArray("tags") {
		tags = append(tags, strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '，' })...)
	}

	topK := h.defaultTopK
	if raw, ok := c.GetQuery("top_k"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid top_k: must be an integer"})
			return
		}
		topK = n
	}

	resp, err := h.searchService.Search(service.SearchQuery{Tags: tags, TopK: topK, Mode: c.Query("mode")})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	log.Debugf("[SearchHandler] 查询 %v 命中 %d 条, 返回 %d 条", resp.QueryTags, resp.TotalMatches, len(resp.Results))
	c.JSON(http.StatusOK, resp)
}

// GetEquipment 处理 GET /equipment/:id。
func (h *SearchHandler) GetEquipment(c *gin.Context) {
	detail, err := h.searchService.Get(c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// Health 处理 GET /healthz。快照未加载时仍返回 200，但 loaded 为 false。
func (h *SearchHandler) Health(c *gin.Context) {
	stats, ok := h.searchService.Stats()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "loaded": ok, "records": stats.Records})
}

// writeServiceError 把 service 层的错误映射为 HTTP 状态码。
func writeServiceError(c *gin.Context, err error) {
	var qve *service.QueryValidationError
	switch {
	case errors.As(err, &qve):
		c.JSON(http.StatusBadRequest, gin.H{"error": qve.Error()})
	case errors.Is(err, service.ErrNotLoaded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "数据尚未加载"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "装备不存在"})
	default:
		log.Error("[SearchHandler] 处理请求失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "内部错误"})
	}
}
