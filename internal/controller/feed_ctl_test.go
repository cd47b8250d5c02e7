package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"supplier_feed_v1/internal/model"
	"supplier_feed_v1/internal/repository"
	"supplier_feed_v1/internal/service"
	"supplier_feed_v1/pkg/cache"
	"supplier_feed_v1/pkg/feed"
)

// ==================== 测试替身 ====================

type fakeSearch struct {
	last service.SearchQuery
	err  error
}

func (f *fakeSearch) Search(ctx context.Context, q service.SearchQuery) (*service.SearchResult, error) {
	f.last = q
	if f.err != nil {
		return nil, f.err
	}
	return &service.SearchResult{FeedTotal: 2, Matched: 1, Rows: []service.SearchRow{{SKU: "A-1", Price: 18.78, Score: 1}}}, nil
}

type fakeImport struct {
	skus  []string
	items []feed.Value
}

func (f *fakeImport) ImportBySKUs(ctx context.Context, skus []string) (*service.ImportResult, error) {
	f.skus = skus
	return &service.ImportResult{Imported: len(skus), ProductIDs: []int64{1}, Errors: []service.ImportItemError{}}, nil
}

func (f *fakeImport) ImportItems(ctx context.Context, items []feed.Value) (*service.ImportResult, error) {
	f.items = items
	return &service.ImportResult{Imported: len(items), ProductIDs: []int64{}, Errors: []service.ImportItemError{}}, nil
}

type fakeTasks struct {
	result  *service.SyncResult
	err     error
	running bool
}

func (f *fakeTasks) TriggerSync(ctx context.Context) (*service.SyncResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeTasks) Status() map[string]any { return map[string]any{"sync": true} }

func (f *fakeTasks) Running() bool { return f.running }

// ==================== 测试辅助 ====================

type feedTestEnv struct {
	router   *gin.Engine
	search   *fakeSearch
	imports  *fakeImport
	tasks    *fakeTasks
	activity *service.ActivityService
}

func setupFeedCtlTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}
	return db
}

func setupFeedCtlRouter(t *testing.T) *feedTestEnv {
	gin.SetMode(gin.TestMode)
	db := setupFeedCtlTestDB(t)

	env := &feedTestEnv{
		search:   &fakeSearch{},
		imports:  &fakeImport{},
		tasks:    &fakeTasks{result: &service.SyncResult{Trigger: service.TriggerManual, Updated: 3}},
		activity: service.NewActivityService(repository.NewActivityLogRepository(db), 50),
	}
	settings := service.NewSettingsService(repository.NewSettingsRepository(db), cache.NewMemoryStore(), "test", "k", env.activity)

	ctl := NewFeedController(FeedControllerDeps{
		Search:   env.search,
		Import:   env.imports,
		Tasks:    env.tasks,
		Sync:     env.tasks,
		Settings: settings,
		Activity: env.activity,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	api := r.Group("/api")
	{
		api.GET("/feed/search", ctl.Search)
		api.POST("/feed/import", ctl.Import)
		api.POST("/feed/sync", ctl.TriggerSync)
		api.GET("/feed/sync/status", ctl.SyncStatus)
		api.GET("/settings", ctl.GetSettings)
		api.PUT("/settings", ctl.SaveSettings)
		api.GET("/activity", ctl.ListActivity)
	}
	env.router = r
	return env
}

type apiResp struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, apiResp) {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp apiResp
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

// ==================== 搜索 ====================

func TestFeedController_Search(t *testing.T) {
	env := setupFeedCtlRouter(t)

	w, resp := doJSON(t, env.router, http.MethodGet, "/api/feed/search?q=mug&sku_only=1&limit=10&refresh=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.SearchQuery{Keyword: "mug", SKUOnly: true, Limit: 10, Refresh: true}, env.search.last)

	var res service.SearchResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, 2, res.FeedTotal)
	assert.Equal(t, "A-1", res.Rows[0].SKU)

	for _, q := range []string{"", "%21%21%21", "%E2%80%94"} {
		env.search.last = service.SearchQuery{}
		w, _ = doJSON(t, env.router, http.MethodGet, "/api/feed/search?q="+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "q=%s", q)
		assert.Empty(t, env.search.last.Keyword, "不调用搜索")
	}
}

func TestFeedController_SearchErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"配置错误", service.ErrHostNotAllowed, http.StatusBadRequest},
		{"认证失败", &service.AuthError{Code: 401}, http.StatusBadGateway},
		{"feed 非 200", &service.HTTPError{Code: 503}, http.StatusBadGateway},
		{"feed 格式错误", service.ErrInvalidFeedFormat, http.StatusBadGateway},
		{"其他错误", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupFeedCtlRouter(t)
			env.search.err = tt.err

			w, resp := doJSON(t, env.router, http.MethodGet, "/api/feed/search?q=x", nil)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.err.Error(), resp.Message, "只返回错误信息")
		})
	}
}

// ==================== 导入 ====================

func TestFeedController_Import(t *testing.T) {
	env := setupFeedCtlRouter(t)

	w, resp := doJSON(t, env.router, http.MethodPost, "/api/feed/import", gin.H{"skus": []string{"A-1", "B-2"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"A-1", "B-2"}, env.imports.skus)

	var res service.ImportResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, 2, res.Imported)

	w, _ = doJSON(t, env.router, http.MethodPost, "/api/feed/import", `{"items":[{"sku":"X-1","price":"4.5"},"bad"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, env.imports.items, 2)
	assert.Equal(t, "X-1", feed.SKU(env.imports.items[0]))
	assert.Equal(t, feed.KindString, env.imports.items[1].Kind())
}

func TestFeedController_ImportBadRequests(t *testing.T) {
	env := setupFeedCtlRouter(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"空请求", `{}`, http.StatusBadRequest},
		{"二选一", `{"skus":["A-1"],"items":[{"sku":"A-1"}]}`, http.StatusBadRequest},
		{"非法 JSON", `{"skus":`, http.StatusBadRequest},
		{"请求体过大", `{"skus":["` + strings.Repeat("a", maxImportBody) + `"]}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := doJSON(t, env.router, http.MethodPost, "/api/feed/import", tt.body)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

// ==================== 同步 ====================

func TestFeedController_TriggerSync(t *testing.T) {
	env := setupFeedCtlRouter(t)

	w, resp := doJSON(t, env.router, http.MethodPost, "/api/feed/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res service.SyncResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, 3, res.Updated)

	env.tasks.result = &service.SyncResult{LockHeld: true}
	w, resp = doJSON(t, env.router, http.MethodPost, "/api/feed/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.ErrLockHeld.Error(), resp.Message)

	env.tasks.err = &service.SyncError{Stage: "fetch", Err: &service.HTTPError{Code: 500}}
	w, resp = doJSON(t, env.router, http.MethodPost, "/api/feed/sync", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "sync failed at fetch: supplier responded with http 500", resp.Message)
}

func TestFeedController_SyncStatus(t *testing.T) {
	env := setupFeedCtlRouter(t)
	env.tasks.running = true

	w, resp := doJSON(t, env.router, http.MethodGet, "/api/feed/sync/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sync":true,"running":true}`, string(resp.Data))
}

// ==================== 配置与日志 ====================

func TestFeedController_Settings(t *testing.T) {
	env := setupFeedCtlRouter(t)

	w, resp := doJSON(t, env.router, http.MethodPut, "/api/settings", `{
		"api_base": "https://api.supplier.com",
		"endpoint": "feed.json",
		"username": "user",
		"password": "hunter2",
		"vat_percent": "20",
		"profit_percent": 250,
		"shipping_table": "[{\"min\":0,\"max\":1,\"cost\":3}]"
	}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, string(resp.Data), "hunter2")

	w, resp = doJSON(t, env.router, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, "********", got["password"])
	assert.Equal(t, 20.0, got["vat_percent"])
	assert.Equal(t, 100.0, got["profit_percent"])
	assert.Len(t, got["shipping_table"], 1)

	// 保存操作写入活动日志，密码已脱敏
	w, resp = doJSON(t, env.router, http.MethodGet, "/api/activity?action="+model.ActionSettingsSaved, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var logs []model.ActivityLog
	require.NoError(t, json.Unmarshal(resp.Data, &logs))
	require.Len(t, logs, 1)
	assert.NotContains(t, string(logs[0].Data), "hunter2")
	assert.Contains(t, string(logs[0].Data), service.RedactedValue)
}

func TestFeedController_ActivityEmpty(t *testing.T) {
	env := setupFeedCtlRouter(t)

	w, resp := doJSON(t, env.router, http.MethodGet, "/api/activity", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(resp.Data))
}
