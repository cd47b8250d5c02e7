package model

import (
	"time"

	"gorm.io/datatypes"
)

// ActivityLog 业务活动日志，写入前已脱敏
type ActivityLog struct {
	ID        int64          `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	Action    string         `gorm:"size:64;index;comment:动作" json:"action"`
	Data      datatypes.JSON `json:"data"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

func (ActivityLog) TableName() string {
	return "activity_logs"
}

// ==================== 动作常量 ====================

const (
	ActionSyncStart     = "sync_start"
	ActionSyncProgress  = "sync_progress"
	ActionSyncReport    = "sync_report"
	ActionSyncEmptyFeed = "sync_empty_feed"
	ActionSyncFailed    = "sync_failed"
	ActionSyncLocked    = "sync_locked"
	ActionImport        = "import"
	ActionSettingsSaved = "settings_saved"
	ActionArchive       = "feed_archived"
)
