package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"supplier_feed_v1/internal/model"
)

// SettingsRepository 供应商配置仓储（单行）
type SettingsRepository interface {
	// Get 未保存过时返回 nil, nil
	Get(ctx context.Context) (*model.SupplierSetting, error)
	Save(ctx context.Context, setting *model.SupplierSetting) error
}

type settingsRepo struct {
	db *gorm.DB
}

// NewSettingsRepository 创建配置仓储
func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &settingsRepo{db: db}
}

func (r *settingsRepo) Get(ctx context.Context) (*model.SupplierSetting, error) {
	var setting model.SupplierSetting
	err := r.db.WithContext(ctx).First(&setting, model.SupplierSettingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

func (r *settingsRepo) Save(ctx context.Context, setting *model.SupplierSetting) error {
	setting.ID = model.SupplierSettingID
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(setting).Error
}
