package controller

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"supplier_feed_v1/internal/middleware"
	"supplier_feed_v1/internal/model"
	"supplier_feed_v1/internal/service"
	"supplier_feed_v1/pkg/feed"
	"supplier_feed_v1/pkg/fuzzy"
)

// maxImportBody 导入请求体上限
const maxImportBody = 8 << 20

// ==================== 依赖接口 ====================

type searcher interface {
	Search(ctx context.Context, q service.SearchQuery) (*service.SearchResult, error)
}

type importer interface {
	ImportBySKUs(ctx context.Context, skus []string) (*service.ImportResult, error)
	ImportItems(ctx context.Context, items []feed.Value) (*service.ImportResult, error)
}

type syncTrigger interface {
	TriggerSync(ctx context.Context) (*service.SyncResult, error)
	Status() map[string]any
}

type syncState interface {
	Running() bool
}

// FeedControllerDeps 控制器依赖
type FeedControllerDeps struct {
	Search   searcher
	Import   importer
	Tasks    syncTrigger
	Sync     syncState
	Settings *service.SettingsService
	Activity *service.ActivityService
}

// FeedController 供应商 feed 搜索、导入、同步与配置
type FeedController struct {
	search   searcher
	imports  importer
	tasks    syncTrigger
	sync     syncState
	settings *service.SettingsService
	activity *service.ActivityService
}

func NewFeedController(deps FeedControllerDeps) *FeedController {
	return &FeedController{
		search:   deps.Search,
		imports:  deps.Import,
		tasks:    deps.Tasks,
		sync:     deps.Sync,
		settings: deps.Settings,
		activity: deps.Activity,
	}
}

// ==================== 请求结构 ====================

// ImportReq skus 与 items 二选一
type ImportReq struct {
	SKUs  []string     `json:"skus"`
	Items []feed.Value `json:"items"`
}

// ==================== 搜索 ====================

// Search 模糊搜索 feed
// @Summary 搜索供应商商品
// @Tags Feed
// @Param q query string true "关键词"
// @Param sku_only query bool false "仅精确匹配 SKU"
// @Param limit query int false "返回条数" default(50)
// @Param refresh query bool false "跳过 feed 缓存"
// @Success 200 {object} map[string]interface{}
// @Router /api/feed/search [get]
func (ctrl *FeedController) Search(c *gin.Context) {
	keyword := strings.TrimSpace(c.Query("q"))
	if fuzzy.Normalize(keyword) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "关键词不能为空"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(service.DefaultSearchLimit)))

	res, err := ctrl.search.Search(c.Request.Context(), service.SearchQuery{
		Keyword: keyword,
		SKUOnly: queryBool(c, "sku_only"),
		Limit:   limit,
		Refresh: queryBool(c, "refresh"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": res})
}

// ==================== 导入 ====================

// Import 导入为草稿商品
// @Summary 按 SKU 或原始条目导入
// @Tags Feed
// @Param body body ImportReq true "skus 或 items"
// @Success 200 {object} map[string]interface{}
// @Router /api/feed/import [post]
func (ctrl *FeedController) Import(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBody)

	var req ImportReq
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": 413, "message": "请求体过大"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "参数错误: " + err.Error()})
		return
	}

	var (
		res *service.ImportResult
		err error
	)
	switch {
	case len(req.SKUs) > 0 && len(req.Items) > 0:
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "skus 与 items 只能二选一"})
		return
	case len(req.SKUs) > 0:
		res, err = ctrl.imports.ImportBySKUs(c.Request.Context(), req.SKUs)
	case len(req.Items) > 0:
		res, err = ctrl.imports.ImportItems(c.Request.Context(), req.Items)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "未选择任何商品"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	log.Printf("[FeedController] %s 导入 %d 条, 失败 %d 条", operatorName(c), res.Imported, len(res.Errors))
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": res})
}

// ==================== 同步 ====================

// TriggerSync 立即执行一次对账同步
// @Summary 手动同步
// @Tags Sync
// @Success 200 {object} map[string]interface{}
// @Failure 429 {object} map[string]interface{} "冷却中"
// @Router /api/feed/sync [post]
func (ctrl *FeedController) TriggerSync(c *gin.Context) {
	log.Printf("[FeedController] %s 手动触发同步", operatorName(c))

	res, err := ctrl.tasks.TriggerSync(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if res.LockHeld {
		c.JSON(http.StatusOK, gin.H{
			"code":    0,
			"message": service.ErrLockHeld.Error(),
			"data":    res,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": res})
}

// SyncStatus 同步运行状态与下次执行时间
// @Summary 同步状态
// @Tags Sync
// @Success 200 {object} map[string]interface{}
// @Router /api/feed/sync/status [get]
func (ctrl *FeedController) SyncStatus(c *gin.Context) {
	status := ctrl.tasks.Status()
	status["running"] = ctrl.sync != nil && ctrl.sync.Running()
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": status})
}

// ==================== 配置 ====================

// GetSettings 密码只返回掩码
// @Summary 获取供应商配置
// @Tags Settings
// @Success 200 {object} map[string]interface{}
// @Router /api/settings [get]
func (ctrl *FeedController) GetSettings(c *gin.Context) {
	s, err := ctrl.settings.Load(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": s.Masked()})
}

// SaveSettings 非法字段保留原值
// @Summary 保存供应商配置
// @Tags Settings
// @Param body body service.SettingsInput true "配置"
// @Success 200 {object} map[string]interface{}
// @Router /api/settings [put]
func (ctrl *FeedController) SaveSettings(c *gin.Context) {
	var in service.SettingsInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "参数错误: " + err.Error()})
		return
	}

	s, err := ctrl.settings.Save(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}

	log.Printf("[FeedController] %s 更新了供应商配置", operatorName(c))
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "保存成功", "data": s.Masked()})
}

// ==================== 活动日志 ====================

// ListActivity 最新的在前
// @Summary 活动日志
// @Tags Activity
// @Param action query string false "动作筛选"
// @Param limit query int false "条数" default(50)
// @Success 200 {object} map[string]interface{}
// @Router /api/activity [get]
func (ctrl *FeedController) ListActivity(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	logs, err := ctrl.activity.List(c.Request.Context(), strings.TrimSpace(c.Query("action")), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if logs == nil {
		logs = []model.ActivityLog{}
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": logs})
}

// ==================== 辅助函数 ====================

// respondError 只返回错误信息
func respondError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("[FeedController] %s %s 失败: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"code": status, "message": err.Error()})
}

func errorStatus(err error) int {
	var (
		httpErr *service.HTTPError
		authErr *service.AuthError
	)
	switch {
	case service.IsConfigError(err):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrItemInvalid):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrLockHeld):
		return http.StatusConflict
	case errors.As(err, &authErr),
		errors.As(err, &httpErr),
		errors.Is(err, service.ErrInvalidTokenResponse),
		errors.Is(err, service.ErrFeedTooLarge),
		errors.Is(err, service.ErrInvalidFeedFormat):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func queryBool(c *gin.Context, key string) bool {
	v := strings.ToLower(c.Query(key))
	return v == "1" || v == "true"
}

func operatorName(c *gin.Context) string {
	if op := middleware.GetOperator(c); op != "" {
		return op
	}
	return "anonymous"
}
