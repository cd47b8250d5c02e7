package model

import "time"

// ==================== 商品状态 ====================

const (
	ProductStatusDraft   = "draft"
	ProductStatusPublish = "publish"
)

// ==================== Meta 键 ====================

const (
	MetaFeedSourced   = "_feed_sourced"
	MetaFeedSourceSKU = "_feed_source_sku"
)

// Product 本地商品目录
// 同步只改价格、库存、标题、描述，状态只在新建时写入
type Product struct {
	BaseModel
	SKU         *string `gorm:"size:100;uniqueIndex" json:"sku"` // 为空表示非 Feed 管理的商品
	Title       string  `gorm:"size:255" json:"title"`
	Description string  `gorm:"type:text" json:"description"`
	Price       float64 `gorm:"type:decimal(12,2);default:0" json:"price"`
	Stock       int     `gorm:"default:0" json:"stock"`
	Status      string  `gorm:"size:20;index;default:draft" json:"status"`

	Metas []ProductMeta `gorm:"foreignKey:ProductID" json:"metas,omitempty"`
}

func (Product) TableName() string {
	return "products"
}

// SKUValue 空指针返回空串
func (p *Product) SKUValue() string {
	if p.SKU == nil {
		return ""
	}
	return *p.SKU
}

// SetSKU 空串存为 NULL，避免唯一索引冲突
func (p *Product) SetSKU(sku string) {
	if sku == "" {
		p.SKU = nil
		return
	}
	p.SKU = &sku
}

// ProductMeta 商品扩展字段，(product_id, meta_key) 唯一
type ProductMeta struct {
	ID        int64     `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	ProductID int64     `gorm:"not null;uniqueIndex:idx_product_meta_key" json:"product_id"`
	MetaKey   string    `gorm:"size:64;not null;uniqueIndex:idx_product_meta_key" json:"meta_key"`
	MetaValue string    `gorm:"type:text" json:"meta_value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ProductMeta) TableName() string {
	return "product_metas"
}
