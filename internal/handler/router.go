package handler

import (
	"lexicon-go/internal/middleware"
	"lexicon-go/internal/service"
	"lexicon-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// NewRouter 组装查询服务的路由。jwtManager 为 nil 时不注册管理接口。
func NewRouter(searchService service.SearchService, defaultTopK int, jwtManager *token.JWTManager) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	searchHandler := NewSearchHandler(searchService, defaultTopK)
	r.GET("/healthz", searchHandler.Health)
	r.GET("/tags", searchHandler.ListTags)
	r.GET("/search", searchHandler.Search)
	r.GET("/equipment/:id", searchHandler.GetEquipment)

	if jwtManager != nil {
		adminHandler := NewAdminHandler(searchService)
		admin := r.Group("/admin", middleware.AdminAuthMiddleware(jwtManager))
		admin.POST("/reload", adminHandler.Reload)
	}
	return r
}
