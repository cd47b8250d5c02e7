package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"supplier_feed_v1/internal/model"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	// :memory: 每个连接是独立的库
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}
	return db
}

func newProduct(sku string, price float64, stock int) *model.Product {
	p := &model.Product{Title: "T-" + sku, Price: price, Stock: stock}
	p.SetSKU(sku)
	return p
}

// ==================== Catalog ====================

func TestCatalogRepository_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewCatalogRepository(setupTestDB(t))

	id, err := repo.Save(ctx, newProduct("AB-1", 9.5, 3))
	require.NoError(t, err)
	assert.NotZero(t, id)

	got, err := repo.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.ProductStatusDraft, got.Status, "新建默认草稿")
	assert.Equal(t, "AB-1", got.SKUValue())

	foundID, found, err := repo.FindBySKU(ctx, " ab-1 ")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id, foundID)

	_, found, err = repo.FindBySKU(ctx, "AB-2")
	require.NoError(t, err)
	assert.False(t, found)

	got.Price = 12
	got.Status = model.ProductStatusPublish
	_, err = repo.Save(ctx, got)
	require.NoError(t, err)

	reloaded, err := repo.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 12.0, reloaded.Price)
	assert.Equal(t, model.ProductStatusPublish, reloaded.Status)
}

func TestCatalogRepository_DuplicateSKU(t *testing.T) {
	ctx := context.Background()
	repo := NewCatalogRepository(setupTestDB(t))

	_, err := repo.Save(ctx, newProduct("AB-1", 1, 1))
	require.NoError(t, err)

	_, err = repo.Save(ctx, newProduct("AB-1", 2, 2))
	assert.ErrorIs(t, err, ErrDuplicateSKU)

	// 没有 SKU 的商品可以有多个
	_, err = repo.Save(ctx, newProduct("", 1, 1))
	require.NoError(t, err)
	_, err = repo.Save(ctx, newProduct("", 1, 1))
	require.NoError(t, err)
}

func TestCatalogRepository_SetMeta(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewCatalogRepository(db)

	id, err := repo.Save(ctx, newProduct("M-1", 1, 1))
	require.NoError(t, err)

	require.NoError(t, repo.SetMeta(ctx, id, model.MetaFeedSourced, "1"))
	require.NoError(t, repo.SetMeta(ctx, id, model.MetaFeedSourceSKU, "m-1"))
	require.NoError(t, repo.SetMeta(ctx, id, model.MetaFeedSourceSKU, "M-1"))

	var metas []model.ProductMeta
	require.NoError(t, db.Where("product_id = ?", id).Order("meta_key").Find(&metas).Error)
	require.Len(t, metas, 2, "(product_id, meta_key) 唯一")
	assert.Equal(t, model.MetaFeedSourceSKU, metas[0].MetaKey)
	assert.Equal(t, "M-1", metas[0].MetaValue, "重复写入覆盖旧值")
	assert.Equal(t, model.MetaFeedSourced, metas[1].MetaKey)
}

func TestCatalogRepository_ListWithSKU_Keyset(t *testing.T) {
	ctx := context.Background()
	repo := NewCatalogRepository(setupTestDB(t))

	for i := 0; i < 25; i++ {
		sku := fmt.Sprintf("P-%02d", i)
		if i%5 == 0 {
			sku = ""
		}
		_, err := repo.Save(ctx, newProduct(sku, 1, 1))
		require.NoError(t, err)
	}

	var seen []string
	pages := 0
	var after int64
	for {
		page, err := repo.ListWithSKU(ctx, after, 7)
		require.NoError(t, err)
		pages++
		for _, p := range page {
			assert.Greater(t, p.ID, after)
			seen = append(seen, p.SKUValue())
		}
		if len(page) < 7 {
			break
		}
		after = page[len(page)-1].ID
	}

	assert.Len(t, seen, 20, "跳过无 SKU 的记录且不重不漏")
	assert.Equal(t, 3, pages)

	skus, err := repo.ListSKUs(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"P-01", "P-02", "P-03", "P-04", "P-06"}, skus)
}

// ==================== Settings ====================

func TestSettingsRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSettingsRepository(setupTestDB(t))

	got, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Save(ctx, &model.SupplierSetting{
		APIBase:       "https://api.supplier.com",
		VatPercent:    20,
		ShippingTable: datatypes.JSON(`[{"min":0,"max":1,"cost":2.5}]`),
	}))
	require.NoError(t, repo.Save(ctx, &model.SupplierSetting{
		APIBase:    "https://api2.supplier.com",
		VatPercent: 10,
	}))

	got, err = repo.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.SupplierSettingID, got.ID)
	assert.Equal(t, "https://api2.supplier.com", got.APIBase)
	assert.Equal(t, 10.0, got.VatPercent)
}

// ==================== Activity ====================

func TestActivityLogRepository_Trim(t *testing.T) {
	ctx := context.Background()
	repo := NewActivityLogRepository(setupTestDB(t))

	for i := 0; i < 10; i++ {
		require.NoError(t, repo.Create(ctx, &model.ActivityLog{
			Action: model.ActionImport,
			Data:   datatypes.JSON(fmt.Sprintf(`{"n":%d}`, i)),
		}))
	}

	deleted, err := repo.TrimTo(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), deleted)

	logs, err := repo.List(ctx, "", 100)
	require.NoError(t, err)
	require.Len(t, logs, 4)
	assert.JSONEq(t, `{"n":9}`, string(logs[0].Data), "保留最新的记录")
	assert.JSONEq(t, `{"n":6}`, string(logs[3].Data))

	logs, err = repo.List(ctx, model.ActionSyncReport, 100)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
