package repository

import (
	"context"

	"gorm.io/gorm"

	"supplier_feed_v1/internal/model"
)

// ActivityLogRepository 活动日志仓储
type ActivityLogRepository interface {
	Create(ctx context.Context, log *model.ActivityLog) error
	// TrimTo 只保留最新的 max 条，返回删除条数
	TrimTo(ctx context.Context, max int) (int64, error)
	// List 按时间倒序，action 为空时不过滤
	List(ctx context.Context, action string, limit int) ([]model.ActivityLog, error)
	Count(ctx context.Context) (int64, error)
}

type activityLogRepo struct {
	db *gorm.DB
}

// NewActivityLogRepository 创建活动日志仓储
func NewActivityLogRepository(db *gorm.DB) ActivityLogRepository {
	return &activityLogRepo{db: db}
}

func (r *activityLogRepo) Create(ctx context.Context, log *model.ActivityLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *activityLogRepo) TrimTo(ctx context.Context, max int) (int64, error) {
	db := r.db.WithContext(ctx)
	keep := db.Model(&model.ActivityLog{}).Select("id").Order("id DESC").Limit(max)

	result := db.Where("id NOT IN (?)", keep).Delete(&model.ActivityLog{})
	return result.RowsAffected, result.Error
}

func (r *activityLogRepo) List(ctx context.Context, action string, limit int) ([]model.ActivityLog, error) {
	var logs []model.ActivityLog
	query := r.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if action != "" {
		query = query.Where("action = ?", action)
	}
	err := query.Find(&logs).Error
	return logs, err
}

func (r *activityLogRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.ActivityLog{}).Count(&n).Error
	return n, err
}
