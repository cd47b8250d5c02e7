package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supplier_feed_v1/internal/model"
	"supplier_feed_v1/internal/repository"
	"supplier_feed_v1/pkg/cache"
	"supplier_feed_v1/pkg/feed"
	"supplier_feed_v1/pkg/pricing"
)

func strPtr(s string) *string { return &s }

// ==================== SettingsService ====================

func TestSettingsService_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := NewSettingsService(repository.NewSettingsRepository(db), cache.NewMemoryStore(), "test", "secret-key", nil)

	empty, err := svc.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", empty.APIBase)
	assert.Empty(t, empty.ShippingTable)

	saved, err := svc.Save(ctx, SettingsInput{
		APIBase:       strPtr("https://api.supplier.com/"),
		Endpoint:      strPtr("rest/V1/products"),
		Username:      strPtr(" user "),
		Password:      strPtr("p@ss"),
		VatPercent:    feed.Number(20),
		PaypalPercent: feed.String("2.9"),
		PaypalFixed:   feed.Number(0.3),
		ProfitPercent: feed.Number(20),
		ShippingTable: feed.MustParse(`[{"min":0,"max":0.1,"cost":2.49}]`),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://api.supplier.com", saved.APIBase)
	assert.Equal(t, "user", saved.Username)

	var row model.SupplierSetting
	require.NoError(t, db.First(&row).Error)
	assert.NotEmpty(t, row.PasswordEnc)
	assert.NotContains(t, row.PasswordEnc, "p@ss", "密码加密落库")

	loaded, err := svc.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p@ss", loaded.Password)
	assert.Equal(t, 2.9, loaded.PaypalPercent)
	assert.Equal(t, []pricing.ShippingBand{{Min: 0, Max: 0.1, Cost: 2.49}}, loaded.ShippingTable)
	assert.Equal(t, 18.78, pricing.Price(10, 0.05, loaded.Fees()))
}

func TestSettingsService_InvalidValuesKeepExisting(t *testing.T) {
	ctx := context.Background()
	svc := NewSettingsService(repository.NewSettingsRepository(setupTestDB(t)), cache.NewMemoryStore(), "test", "k", nil)

	_, err := svc.Save(ctx, SettingsInput{
		APIBase:        strPtr("https://api.supplier.com"),
		Endpoint:       strPtr("feed.json"),
		Password:       strPtr("p1"),
		VatPercent:     feed.Number(20),
		ProfitPercent:  feed.Number(10),
		StockFieldPath: strPtr("inv.qty"),
	})
	require.NoError(t, err)

	got, err := svc.Save(ctx, SettingsInput{
		APIBase:        strPtr("http://api.supplier.com"),
		Endpoint:       strPtr("../etc/passwd"),
		Password:       strPtr(""),
		VatPercent:     feed.String("abc"),
		PaypalPercent:  feed.Number(150),
		ProfitPercent:  feed.Number(-5),
		PaypalFixed:    feed.Number(-1),
		StockFieldPath: strPtr("a..b"),
		ShippingTable:  feed.String("{not json"),
	})
	require.NoError(t, err)

	assert.Equal(t, "https://api.supplier.com", got.APIBase, "非 https 保留原值")
	assert.Equal(t, "feed.json", got.Endpoint)
	assert.Equal(t, "p1", got.Password, "空密码保留原密码")
	assert.Equal(t, 20.0, got.VatPercent, "无法解析保留原值")
	assert.Equal(t, 100.0, got.PaypalPercent, "百分比上限 100")
	assert.Equal(t, 0.0, got.ProfitPercent, "百分比下限 0")
	assert.Equal(t, 0.0, got.PaypalFixed)
	assert.Equal(t, "inv.qty", got.StockFieldPath)
	assert.Empty(t, got.ShippingTable)
}

func TestParseShippingTable(t *testing.T) {
	table, ok := ParseShippingTable(feed.String(`[{"min":1},{"min":2,"max":1,"cost":-3},"x",{"min":"0.5","max":"2","cost":"4.5"}]`))
	require.True(t, ok)
	assert.Equal(t, []pricing.ShippingBand{
		{Min: 1, Max: 1, Cost: 0},
		{Min: 2, Max: 2, Cost: 0},
		{Min: 0.5, Max: 2, Cost: 4.5},
	}, table)

	_, ok = ParseShippingTable(feed.MustParse(`{"min":1}`))
	assert.False(t, ok)
	_, ok = ParseShippingTable(feed.Null())
	assert.False(t, ok)
}

func TestSettingsService_CredentialChangeClearsCaches(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	svc := NewSettingsService(repository.NewSettingsRepository(setupTestDB(t)), store, "test", "k", nil)
	keys := newCacheKeys("test")

	store.Set(keys.token(), "tok", 0)
	store.Set(keys.feed(), &Feed{}, 0)

	_, err := svc.Save(ctx, SettingsInput{VatPercent: feed.Number(5)})
	require.NoError(t, err)
	_, ok := store.Get(keys.token())
	assert.True(t, ok, "未改凭据不清缓存")

	_, err = svc.Save(ctx, SettingsInput{Username: strPtr("other")})
	require.NoError(t, err)
	_, ok = store.Get(keys.token())
	assert.False(t, ok)
	_, ok = store.Get(keys.feed())
	assert.False(t, ok)
}

func TestSettings_Masked(t *testing.T) {
	s := &Settings{Password: "p"}
	assert.Equal(t, "********", s.Masked()["password"])
	assert.Equal(t, "", (&Settings{}).Masked()["password"])
}

// ==================== ActivityService ====================

func TestRedact(t *testing.T) {
	out, err := Redact(map[string]any{
		"user":     "bob",
		"password": "p",
		"nested": map[string]any{
			"API_KEY": "k",
			"list":    []any{map[string]any{"Authorization": "Bearer x", "ok": 1}},
		},
		"access_token": "t",
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "bob", got["user"])
	assert.Equal(t, RedactedValue, got["password"])
	assert.Equal(t, RedactedValue, got["access_token"])

	nested := got["nested"].(map[string]any)
	assert.Equal(t, RedactedValue, nested["API_KEY"])
	item := nested["list"].([]any)[0].(map[string]any)
	assert.Equal(t, RedactedValue, item["Authorization"])
	assert.Equal(t, 1.0, item["ok"])
}

func TestActivityService_Retention(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewActivityLogRepository(setupTestDB(t))
	svc := NewActivityService(repo, 3)

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Append(ctx, model.ActionImport, map[string]any{"n": i, "token": "t"}))
	}

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	logs, err := svc.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.JSONEq(t, fmt.Sprintf(`{"n":4,"token":%q}`, RedactedValue), string(logs[0].Data))
}

// ==================== SKUCache ====================

type fakeLister struct {
	skus      []string
	listCalls int
	findCalls int
}

func (f *fakeLister) ListSKUs(ctx context.Context, limit int) ([]string, error) {
	f.listCalls++
	if len(f.skus) > limit {
		return f.skus[:limit], nil
	}
	return f.skus, nil
}

func (f *fakeLister) FindBySKU(ctx context.Context, sku string) (int64, bool, error) {
	f.findCalls++
	for i, s := range f.skus {
		if s == sku {
			return int64(i + 1), true, nil
		}
	}
	return 0, false, nil
}

func TestSKUCache_AllSKUs(t *testing.T) {
	ctx := context.Background()
	lister := &fakeLister{skus: []string{"ab-1", "B-2", "bad sku"}}
	c := NewSKUCache(lister, cache.NewMemoryStore(), "test")

	set, complete, err := c.AllSKUs(ctx)
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Equal(t, map[string]struct{}{"AB-1": {}, "B-2": {}}, set)

	_, _, err = c.AllSKUs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, lister.listCalls, "命中缓存")

	c.Bump()
	_, _, err = c.AllSKUs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, lister.listCalls, "版本变化后重建")

	ok, err := c.Exists(ctx, " ab-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, lister.findCalls)
}

func TestSKUCache_TooLarge(t *testing.T) {
	ctx := context.Background()
	skus := make([]string, MaxCachedSKUs+1)
	for i := range skus {
		skus[i] = fmt.Sprintf("S-%d", i)
	}
	lister := &fakeLister{skus: skus}
	c := NewSKUCache(lister, cache.NewMemoryStore(), "test")

	set, complete, err := c.AllSKUs(ctx)
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Empty(t, set)

	ok, err := c.Exists(ctx, "S-7")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, lister.findCalls, "回退到单条查询")
}
