package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"supplier_feed_v1/internal/model"
)

// ErrDuplicateSKU 写入时唯一索引冲突
var ErrDuplicateSKU = errors.New("sku 已存在")

// ==================== 接口定义 ====================

// CatalogRepository 商品目录仓储
type CatalogRepository interface {
	// FindBySKU 忽略大小写，未找到返回 found=false
	FindBySKU(ctx context.Context, sku string) (id int64, found bool, err error)
	Load(ctx context.Context, id int64) (*model.Product, error)
	// Save ID 为 0 时新建，否则整行更新（不含关联）
	Save(ctx context.Context, product *model.Product) (int64, error)
	SetMeta(ctx context.Context, productID int64, key, value string) error

	// ListWithSKU 按 id 升序的键集分页，只返回带 SKU 的记录
	ListWithSKU(ctx context.Context, afterID int64, limit int) ([]model.Product, error)
	// ListSKUs 最多返回 limit 个 SKU
	ListSKUs(ctx context.Context, limit int) ([]string, error)
}

// ==================== 仓储实现 ====================

type catalogRepo struct {
	db *gorm.DB
}

// NewCatalogRepository 创建商品目录仓储
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepo{db: db}
}

func (r *catalogRepo) FindBySKU(ctx context.Context, sku string) (int64, bool, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("UPPER(sku) = ?", strings.ToUpper(strings.TrimSpace(sku))).
		Order("id ASC").
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[0], true, nil
}

func (r *catalogRepo) Load(ctx context.Context, id int64) (*model.Product, error) {
	var product model.Product
	if err := r.db.WithContext(ctx).First(&product, id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *catalogRepo) Save(ctx context.Context, product *model.Product) (int64, error) {
	db := r.db.WithContext(ctx).Omit(clause.Associations)

	var err error
	if product.ID == 0 {
		if product.Status == "" {
			product.Status = model.ProductStatusDraft
		}
		err = db.Create(product).Error
	} else {
		err = db.Save(product).Error
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateSKU, product.SKUValue())
	}
	if err != nil {
		return 0, err
	}
	return product.ID, nil
}

func (r *catalogRepo) SetMeta(ctx context.Context, productID int64, key, value string) error {
	meta := model.ProductMeta{
		ProductID: productID,
		MetaKey:   key,
		MetaValue: value,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}, {Name: "meta_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"meta_value", "updated_at"}),
	}).Create(&meta).Error
}

func (r *catalogRepo) ListWithSKU(ctx context.Context, afterID int64, limit int) ([]model.Product, error) {
	var products []model.Product
	err := r.db.WithContext(ctx).
		Where("id > ? AND sku IS NOT NULL AND sku <> ''", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&products).Error
	return products, err
}

func (r *catalogRepo) ListSKUs(ctx context.Context, limit int) ([]string, error) {
	var skus []string
	err := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("sku IS NOT NULL AND sku <> ''").
		Order("id ASC").
		Limit(limit).
		Pluck("sku", &skus).Error
	return skus, err
}
