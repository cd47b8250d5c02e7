package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"

	"supplier_feed_v1/internal/model"
	"supplier_feed_v1/internal/repository"
	"supplier_feed_v1/pkg/feed"
)

// RedactedValue 敏感字段替换值
const RedactedValue = "[REDACTED]"

// DefaultActivityLogMax 默认保留条数
const DefaultActivityLogMax = 500

var sensitiveKeys = []string{"password", "token", "api_key", "secret", "auth"}

// ActivityLogger 业务活动日志
type ActivityLogger interface {
	Append(ctx context.Context, action string, data any) error
}

// ==================== ActivityService ====================

type ActivityService struct {
	repo repository.ActivityLogRepository
	max  int
}

func NewActivityService(repo repository.ActivityLogRepository, max int) *ActivityService {
	if max <= 0 {
		max = DefaultActivityLogMax
	}
	return &ActivityService{repo: repo, max: max}
}

// Append 脱敏后写入，并淘汰超出上限的最旧记录
func (s *ActivityService) Append(ctx context.Context, action string, data any) error {
	payload, err := Redact(data)
	if err != nil {
		return fmt.Errorf("序列化活动数据失败: %w", err)
	}

	entry := &model.ActivityLog{
		Action: truncate(action, 64),
		Data:   datatypes.JSON(payload),
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		return fmt.Errorf("写入活动日志失败: %w", err)
	}

	if _, err := s.repo.TrimTo(ctx, s.max); err != nil {
		return fmt.Errorf("清理活动日志失败: %w", err)
	}
	return nil
}

// List 最新的日志在前
func (s *ActivityService) List(ctx context.Context, action string, limit int) ([]model.ActivityLog, error) {
	if limit <= 0 || limit > s.max {
		limit = s.max
	}
	return s.repo.List(ctx, action, limit)
}

// ==================== 脱敏 ====================

// Redact 序列化 data 并递归替换敏感键（键名包含即命中，忽略大小写）
func Redact(data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	v, err := feed.Parse(raw)
	if err != nil {
		return nil, err
	}
	return redactValue(v, 0).MarshalJSON()
}

func redactValue(v feed.Value, depth int) feed.Value {
	if depth > feed.MaxDepth*2 {
		return feed.String(RedactedValue)
	}
	switch v.Kind() {
	case feed.KindMap:
		kv := make([]any, 0, v.Len()*2)
		for _, key := range v.Keys() {
			child, _ := v.Field(key)
			if isSensitiveKey(key) {
				kv = append(kv, key, feed.String(RedactedValue))
				continue
			}
			kv = append(kv, key, redactValue(child, depth+1))
		}
		return feed.Map(kv...)
	case feed.KindList:
		items := make([]feed.Value, 0, v.Len())
		for _, child := range v.Items() {
			items = append(items, redactValue(child, depth+1))
		}
		return feed.List(items...)
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
