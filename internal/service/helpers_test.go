package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-resty/resty/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"supplier_feed_v1/internal/model"
	"supplier_feed_v1/internal/repository"
	"supplier_feed_v1/pkg/feed"
	"supplier_feed_v1/pkg/utils"
)

// ==================== 数据库 ====================

func setupTestDB(t *testing.T) *gorm.DB {
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

// ==================== 配置 ====================

// staticSettings 固定配置，绕过保存时的校验
type staticSettings struct {
	settings *Settings
	err      error
}

func (s *staticSettings) Load(ctx context.Context) (*Settings, error) {
	if s.err != nil {
		return nil, s.err
	}
	copied := *s.settings
	return &copied, nil
}

// ==================== 供应商模拟 ====================

type fakeSupplier struct {
	srv *httptest.Server

	mu          sync.Mutex
	tokenCalls  int
	feedCalls   int
	tokenStatus int
	tokenBody   string
	feedStatus  int
	feedBody    string
	lastAuth    string
	lastCreds   string
}

func newFakeSupplier(t *testing.T) *fakeSupplier {
	f := &fakeSupplier{
		tokenStatus: http.StatusOK,
		tokenBody:   `"tok-1"`,
		feedStatus:  http.StatusOK,
		feedBody:    `[]`,
	}
	f.srv = httptest.NewTLSServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeSupplier) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == AuthPath:
		f.tokenCalls++
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		f.lastCreds = string(buf[:n])
		w.WriteHeader(f.tokenStatus)
		_, _ = w.Write([]byte(f.tokenBody))
	case r.Method == http.MethodGet && r.URL.Path == "/feed/products.json":
		f.feedCalls++
		f.lastAuth = r.Header.Get("Authorization")
		w.WriteHeader(f.feedStatus)
		_, _ = w.Write([]byte(f.feedBody))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeSupplier) set(fn func(f *fakeSupplier)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeSupplier) calls() (token, feed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls, f.feedCalls
}

func (f *fakeSupplier) settings() *Settings {
	return &Settings{
		APIBase:  f.srv.URL,
		Endpoint: "feed/products.json",
		Username: "user",
		Password: "secret",
	}
}

func (f *fakeSupplier) allowed() utils.HostPolicy {
	return utils.AllowHosts([]string{"127.0.0.1"})
}

func (f *fakeSupplier) client() *resty.Client {
	return utils.ConfigureSupplierClient(resty.NewWithClient(f.srv.Client()), f.allowed())
}

// ==================== Feed 模拟 ====================

// stubFeeds 直接返回构造好的 feed
type stubFeeds struct {
	mu       sync.Mutex
	feed     *Feed
	err      error
	calls    int
	bypassed []bool
	block    chan struct{} // 非 nil 时阻塞到关闭
	entered  chan struct{}
}

func newStubFeeds(doc string) *stubFeeds {
	return &stubFeeds{feed: &Feed{Raw: []byte(doc), Doc: feed.MustParse(doc)}}
}

func (s *stubFeeds) FetchFeed(ctx context.Context, bypassCache bool) (*Feed, error) {
	s.mu.Lock()
	s.calls++
	s.bypassed = append(s.bypassed, bypassCache)
	block, entered := s.block, s.entered
	s.entered = nil
	s.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if block != nil {
		<-block
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.feed, nil
}

func (s *stubFeeds) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// ==================== 目录包装 ====================

// countingCatalog 统计分页次数，可注入保存失败
type countingCatalog struct {
	repository.CatalogRepository

	mu        sync.Mutex
	pageCalls int
	saveCalls int
	failSKU   string
}

func (c *countingCatalog) ListWithSKU(ctx context.Context, afterID int64, limit int) ([]model.Product, error) {
	c.mu.Lock()
	c.pageCalls++
	c.mu.Unlock()
	return c.CatalogRepository.ListWithSKU(ctx, afterID, limit)
}

func (c *countingCatalog) Save(ctx context.Context, p *model.Product) (int64, error) {
	c.mu.Lock()
	c.saveCalls++
	fail := c.failSKU != "" && p.SKUValue() == c.failSKU
	c.mu.Unlock()
	if fail {
		return 0, errors.New("写入失败")
	}
	return c.CatalogRepository.Save(ctx, p)
}

// ==================== 活动日志 ====================

type memoryActivity struct {
	mu      sync.Mutex
	entries []activityEntry
}

type activityEntry struct {
	Action string
	Data   any
}

func (m *memoryActivity) Append(ctx context.Context, action string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, activityEntry{Action: action, Data: data})
	return nil
}

func (m *memoryActivity) actions(action string) []activityEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []activityEntry
	for _, e := range m.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func newTestProduct(sku string, price float64, stock int) *model.Product {
	p := &model.Product{Title: "T-" + sku, Price: price, Stock: stock}
	p.SetSKU(sku)
	return p
}
