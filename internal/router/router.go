package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"supplier_feed_v1/internal/controller"
	"supplier_feed_v1/internal/middleware"
)

// Options 路由级配置
type Options struct {
	InstallationID string
	Auth           *middleware.OperatorAuth // nil 表示不校验
	Limiter        *middleware.SyncRateLimiter
	SyncCooldown   time.Duration
	ImportCooldown time.Duration
}

// InitRoutes 注册所有路由
func InitRoutes(r *gin.Engine, feedCtl *controller.FeedController, opts Options) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"code": 0, "message": "ok"})
	})

	api := r.Group("/api")
	if opts.Auth != nil {
		api.Use(opts.Auth.Middleware())
	}
	{
		// feed 搜索、导入、同步
		feed := api.Group("/feed")
		{
			// GET /api/feed/search?q=...
			feed.GET("/search",
				middleware.RefreshRateLimit(opts.Limiter, opts.InstallationID, 0),
				feedCtl.Search,
			)
			// POST /api/feed/import
			feed.POST("/import",
				middleware.SyncRateLimit(opts.Limiter, opts.InstallationID, middleware.SyncTypeImport, opts.ImportCooldown),
				feedCtl.Import,
			)
			// POST /api/feed/sync
			feed.POST("/sync",
				middleware.SyncRateLimit(opts.Limiter, opts.InstallationID, middleware.SyncTypeFeedSync, opts.SyncCooldown),
				feedCtl.TriggerSync,
			)
			feed.GET("/sync/status", feedCtl.SyncStatus)
		}
		// settings 供应商配置
		settings := api.Group("/settings")
		{
			settings.GET("", feedCtl.GetSettings)
			settings.PUT("", feedCtl.SaveSettings)
		}
		// activity 活动日志
		api.GET("/activity", feedCtl.ListActivity)
	}
}
