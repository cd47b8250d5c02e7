package service

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"supplier_feed_v1/internal/model"
	"supplier_feed_v1/pkg/cache"
	"supplier_feed_v1/pkg/feed"
	"supplier_feed_v1/pkg/pricing"
)

const (
	// SyncPageSize 每页处理的本地商品数
	SyncPageSize = 400
	// LockTTL 同步锁最长持有时间
	LockTTL = 30 * time.Minute
)

// 触发来源
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// FieldChange 字段前后值
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// ProductChange 单个商品的变化
type ProductChange struct {
	ProductID int64                  `json:"product_id"`
	SKU       string                 `json:"sku"`
	Changed   map[string]FieldChange `json:"changed"`
}

// RecordFailure 单条保存失败，不中止同步
type RecordFailure struct {
	ProductID int64  `json:"product_id"`
	SKU       string `json:"sku"`
	Error     string `json:"error"`
}

// SyncResult 一次同步的报告
type SyncResult struct {
	Trigger    string          `json:"trigger"`
	LockHeld   bool            `json:"lock_held"`
	Updated    int             `json:"updated"`
	Pages      int             `json:"pages"`
	Scanned    int             `json:"scanned"`
	Matched    int             `json:"matched"`
	FeedItems  int             `json:"feed_items"`
	Changes    []ProductChange `json:"changes"`
	Failures   []RecordFailure `json:"failures"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// FeedArchiver 同步成功后保存 feed 快照
type FeedArchiver interface {
	Archive(ctx context.Context, raw []byte) (string, error)
}

// ==================== SyncService ====================

type SyncService struct {
	settings SettingsLoader
	feeds    FeedFetcher
	catalog  Catalog
	activity ActivityLogger
	store    cache.Store
	keys     cacheKeys
	archiver FeedArchiver
	pageSize int
	now      func() time.Time
}

func NewSyncService(settings SettingsLoader, feeds FeedFetcher, catalog Catalog, activity ActivityLogger, store cache.Store, installationID string) *SyncService {
	return &SyncService{
		settings: settings,
		feeds:    feeds,
		catalog:  catalog,
		activity: activity,
		store:    store,
		keys:     newCacheKeys(installationID),
		pageSize: SyncPageSize,
		now:      time.Now,
	}
}

// SetArchiver 可选，nil 表示不归档
func (s *SyncService) SetArchiver(a FeedArchiver) {
	s.archiver = a
}

// Running 当前是否持有同步锁
func (s *SyncService) Running() bool {
	_, ok := s.store.Get(s.keys.lock())
	return ok
}

// Run 执行一次同步
// 已有同步在运行时返回 LockHeld=true 且不触碰目录
// 已提交的分页写入不回滚
func (s *SyncService) Run(ctx context.Context, trigger string) (*SyncResult, error) {
	result := &SyncResult{
		Trigger:   trigger,
		Changes:   []ProductChange{},
		Failures:  []RecordFailure{},
		StartedAt: s.now(),
	}

	// 锁值是本次运行的令牌，只释放自己持有的锁
	owner := uuid.NewString()
	if !s.store.Add(s.keys.lock(), owner, LockTTL) {
		result.LockHeld = true
		result.FinishedAt = s.now()
		log.Printf("[SyncService] 已有同步在运行，跳过 (trigger=%s)", trigger)
		s.appendActivity(ctx, model.ActionSyncLocked, map[string]any{"trigger": trigger})
		return result, nil
	}
	defer s.store.CompareAndDelete(s.keys.lock(), owner)

	log.Printf("[SyncService] 开始同步 (trigger=%s)", trigger)
	s.appendActivity(ctx, model.ActionSyncStart, map[string]any{"trigger": trigger})

	err := s.run(ctx, result)
	result.FinishedAt = s.now()
	if err != nil {
		log.Printf("[SyncService] 同步失败: %v", err)
		s.appendActivity(ctx, model.ActionSyncFailed, map[string]any{
			"trigger": trigger,
			"updated": result.Updated,
			"error":   err.Error(),
		})
		return result, err
	}
	return result, nil
}

func (s *SyncService) run(ctx context.Context, result *SyncResult) error {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return &SyncError{Stage: "settings", Err: err}
	}

	f, err := s.feeds.FetchFeed(ctx, true)
	if err != nil {
		return &SyncError{Stage: "fetch", Err: err}
	}

	index := feed.IndexBySKU(f.Products())
	result.FeedItems = len(index)
	if len(index) == 0 {
		log.Printf("[SyncService] feed 为空，无需同步")
		s.appendActivity(ctx, model.ActionSyncEmptyFeed, map[string]any{"trigger": result.Trigger})
		return nil
	}

	extractor := feed.NewExtractor(settings.Overrides())
	fees := settings.Fees()

	var afterID int64
	for {
		page, err := s.catalog.ListWithSKU(ctx, afterID, s.pageSize)
		if err != nil {
			return &SyncError{Stage: "page", Err: err}
		}
		result.Pages++

		for i := range page {
			product := &page[i]
			result.Scanned++

			item, ok := index[feed.NormalizeSKU(product.SKUValue())]
			if !ok {
				continue
			}
			result.Matched++

			change, err := s.apply(ctx, product, extractor.Extract(item), fees)
			if err != nil {
				log.Printf("[SyncService] 更新商品失败 (id=%d sku=%s): %v", product.ID, product.SKUValue(), err)
				result.Failures = append(result.Failures, RecordFailure{
					ProductID: product.ID,
					SKU:       product.SKUValue(),
					Error:     err.Error(),
				})
				continue
			}
			if change != nil {
				result.Updated++
				result.Changes = append(result.Changes, *change)
			}
		}

		log.Printf("[SyncService] 第 %d 页完成: %d 条, 累计更新 %d", result.Pages, len(page), result.Updated)
		s.appendActivity(ctx, model.ActionSyncProgress, map[string]any{
			"batch":   result.Pages,
			"updated": result.Updated,
		})

		if len(page) < s.pageSize {
			break
		}
		afterID = page[len(page)-1].ID
	}

	log.Printf("[SyncService] 同步完成: 扫描 %d, 匹配 %d, 更新 %d, 失败 %d",
		result.Scanned, result.Matched, result.Updated, len(result.Failures))
	s.appendActivity(ctx, model.ActionSyncReport, map[string]any{
		"trigger":  result.Trigger,
		"updated":  result.Updated,
		"pages":    result.Pages,
		"changes":  result.Changes,
		"failures": result.Failures,
	})

	s.archive(ctx, f.Raw)
	return nil
}

// apply 写入价格、库存、标题、描述；状态保持不变
// 只有价格或库存变化才计入报告
func (s *SyncService) apply(ctx context.Context, product *model.Product, fields feed.Fields, fees pricing.Fees) (*ProductChange, error) {
	if pricing.Overweight(fields.Weight, fees.ShippingTable) {
		log.Printf("[SyncService] %s 重量 %.3fkg 超出运费表，按最后一档计价", product.SKUValue(), fields.Weight)
	}

	beforePrice, beforeStock := product.Price, product.Stock
	beforeTitle, beforeDesc := product.Title, product.Description

	product.Price = pricing.Price(fields.Price, fields.Weight, fees)
	product.Stock = fields.Stock
	if fields.Name != "" {
		product.Title = truncate(fields.Name, maxTitleLength)
	}
	if fields.Description != "" {
		product.Description = fields.Description
	}

	priceChanged := !samePrice(beforePrice, product.Price)
	stockChanged := beforeStock != product.Stock
	if !priceChanged && !stockChanged && beforeTitle == product.Title && beforeDesc == product.Description {
		return nil, nil
	}

	if _, err := s.catalog.Save(ctx, product); err != nil {
		return nil, err
	}
	if !priceChanged && !stockChanged {
		return nil, nil
	}

	change := &ProductChange{
		ProductID: product.ID,
		SKU:       product.SKUValue(),
		Changed:   map[string]FieldChange{},
	}
	if priceChanged {
		change.Changed["price"] = FieldChange{From: beforePrice, To: product.Price}
	}
	if stockChanged {
		change.Changed["stock"] = FieldChange{From: beforeStock, To: product.Stock}
	}
	return change, nil
}

func (s *SyncService) archive(ctx context.Context, raw []byte) {
	if s.archiver == nil || len(raw) == 0 {
		return
	}
	location, err := s.archiver.Archive(ctx, raw)
	if err != nil {
		log.Printf("[SyncService] feed 归档失败: %v", err)
		return
	}
	s.appendActivity(ctx, model.ActionArchive, map[string]any{"location": location, "bytes": len(raw)})
}

func (s *SyncService) appendActivity(ctx context.Context, action string, data any) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Append(ctx, action, data); err != nil {
		log.Printf("[SyncService] 写入活动日志失败 (%s): %v", action, err)
	}
}

// samePrice 两位小数下相等
func samePrice(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}
