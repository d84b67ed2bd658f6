package handler

import (
	"net/http"

	"lexicon-go/internal/service"
	"lexicon-go/pkg/log"
	"lexicon-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// AdminHandler 负责处理管理接口。
type AdminHandler struct {
	searchService service.SearchService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(searchService service.SearchService) *AdminHandler {
	return &AdminHandler{searchService: searchService}
}

// Reload 处理 POST /admin/reload，重新加载快照。加载失败时旧快照继续提供服务。
func (h *AdminHandler) Reload(c *gin.Context) {
	subject := ""
	if v, ok := c.Get("claims"); ok {
		if claims, ok := v.(*token.CustomClaims); ok {
			subject = claims.Subject
		}
	}
	log.Infof("[AdminHandler] %s 请求重新加载快照", subject)

	stats, err := h.searchService.Reload(c.Request.Context())
	if err != nil {
		log.Error("[AdminHandler] 重新加载快照失败", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "重新加载失败，继续使用旧数据"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
