package model

import (
	"time"

	"gorm.io/gorm"
)

type BaseModel struct {
	ID        int64          `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// AllModels 需要自动迁移的表
func AllModels() []any {
	return []any{
		&SupplierSetting{},
		&Product{},
		&ProductMeta{},
		&ActivityLog{},
	}
}
