package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ==================== 操作冷却中间件 ====================

// SyncRateLimit 按安装实例 + 操作类型冷却
//
// 使用示例:
//
//	api.POST("/sync",
//	    middleware.SyncRateLimit(limiter, "default", middleware.SyncTypeFeedSync, 0),
//	    feedCtl.TriggerSync,
//	)
//
// interval 为 0 时使用默认值
func SyncRateLimit(limiter *SyncRateLimiter, installationID string, syncType SyncType, interval time.Duration) gin.HandlerFunc {
	if limiter == nil {
		limiter = GetLimiter()
	}
	if interval == 0 {
		interval = GetInterval(syncType)
	}
	key := InstallationKey(installationID, syncType)

	return func(c *gin.Context) {
		result := limiter.Check(key, interval)
		if !result.Allowed {
			abortCoolingDown(c, syncType, result.RetryAfter)
			return
		}
		c.Next()
	}
}

// RefreshRateLimit 只对 refresh=true 的请求冷却
func RefreshRateLimit(limiter *SyncRateLimiter, installationID string, interval time.Duration) gin.HandlerFunc {
	if limiter == nil {
		limiter = GetLimiter()
	}
	if interval == 0 {
		interval = GetInterval(SyncTypeRefresh)
	}
	key := InstallationKey(installationID, SyncTypeRefresh)

	return func(c *gin.Context) {
		if c.Query("refresh") != "true" && c.Query("refresh") != "1" {
			c.Next()
			return
		}
		result := limiter.Check(key, interval)
		if !result.Allowed {
			abortCoolingDown(c, SyncTypeRefresh, result.RetryAfter)
			return
		}
		c.Next()
	}
}

// ==================== 辅助函数 ====================

func abortCoolingDown(c *gin.Context, syncType SyncType, retry time.Duration) {
	retryAfter := int(retry.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", fmt.Sprint(retryAfter))
	c.JSON(http.StatusTooManyRequests, gin.H{
		"code":    429,
		"message": formatRetryMessage(retry),
		"data": gin.H{
			"retry_after": retryAfter,
			"sync_type":   syncType,
		},
	})
	c.Abort()
}

// formatRetryMessage 格式化重试提示信息
func formatRetryMessage(d time.Duration) string {
	seconds := int(d.Seconds())
	if seconds < 1 {
		seconds = 1
	}

	if seconds < 60 {
		return fmt.Sprintf("操作冷却中，请 %d 秒后重试", seconds)
	}

	minutes := seconds / 60
	remainingSeconds := seconds % 60

	if remainingSeconds == 0 {
		return fmt.Sprintf("操作冷却中，请 %d 分钟后重试", minutes)
	}

	return fmt.Sprintf("操作冷却中，请 %d 分 %d 秒后重试", minutes, remainingSeconds)
}
