package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"supplier_feed_v1/internal/model"
	"supplier_feed_v1/internal/repository"
	"supplier_feed_v1/pkg/feed"
	"supplier_feed_v1/pkg/pricing"
)

const (
	// MaxItemPayload 单条导入数据上限
	MaxItemPayload = 64 << 10
	// MaxImportBatch 单次请求最多导入条数
	MaxImportBatch = 500

	maxTitleLength = 255
)

// Catalog 商品目录
type Catalog interface {
	FindBySKU(ctx context.Context, sku string) (int64, bool, error)
	Load(ctx context.Context, id int64) (*model.Product, error)
	Save(ctx context.Context, product *model.Product) (int64, error)
	SetMeta(ctx context.Context, productID int64, key, value string) error
	ListWithSKU(ctx context.Context, afterID int64, limit int) ([]model.Product, error)
	ListSKUs(ctx context.Context, limit int) ([]string, error)
}

// ImportItemError 单条失败
type ImportItemError struct {
	SKU     string `json:"sku"`
	Code    string `json:"code"` // item_invalid | duplicate_sku | save_failed
	Message string `json:"message"`
}

// ImportResult 一次导入的汇总
type ImportResult struct {
	Imported   int               `json:"imported"`
	ProductIDs []int64           `json:"product_ids"`
	Errors     []ImportItemError `json:"errors"`
}

func (r *ImportResult) fail(sku string, err error) {
	code := "save_failed"
	switch {
	case errors.Is(err, ErrItemInvalid):
		code = "item_invalid"
	case errors.Is(err, ErrDuplicateSku):
		code = "duplicate_sku"
	}
	r.Errors = append(r.Errors, ImportItemError{SKU: sku, Code: code, Message: err.Error()})
}

// ==================== ImportService ====================

type ImportService struct {
	settings SettingsLoader
	feeds    FeedFetcher
	catalog  Catalog
	skus     *SKUCache
	activity ActivityLogger
}

func NewImportService(settings SettingsLoader, feeds FeedFetcher, catalog Catalog, skus *SKUCache, activity ActivityLogger) *ImportService {
	return &ImportService{
		settings: settings,
		feeds:    feeds,
		catalog:  catalog,
		skus:     skus,
		activity: activity,
	}
}

// ImportBySKUs 从（缓存的）feed 中按 SKU 取条目后导入
func (s *ImportService) ImportBySKUs(ctx context.Context, skus []string) (*ImportResult, error) {
	if len(skus) > MaxImportBatch {
		return nil, fmt.Errorf("%w: 单次最多导入 %d 条", ErrItemInvalid, MaxImportBatch)
	}
	f, err := s.feeds.FetchFeed(ctx, false)
	if err != nil {
		return nil, err
	}
	index := feed.IndexBySKU(f.Products())

	items := make([]feed.Value, 0, len(skus))
	result := &ImportResult{ProductIDs: []int64{}, Errors: []ImportItemError{}}
	for _, raw := range skus {
		sku := feed.NormalizeSKU(raw)
		if !feed.ValidSKU(sku) {
			result.fail(truncate(raw, feed.MaxSKULength), &itemError{SKU: truncate(raw, feed.MaxSKULength), Kind: ErrItemInvalid, Reason: "malformed sku"})
			continue
		}
		item, ok := index[sku]
		if !ok {
			result.fail(sku, &itemError{SKU: sku, Kind: ErrItemInvalid, Reason: "not in feed"})
			continue
		}
		items = append(items, item)
	}

	return s.importItems(ctx, items, result)
}

// ImportItems 逐条校验、去重、保存；单条失败不影响其他条目
func (s *ImportService) ImportItems(ctx context.Context, items []feed.Value) (*ImportResult, error) {
	if len(items) > MaxImportBatch {
		return nil, fmt.Errorf("%w: 单次最多导入 %d 条", ErrItemInvalid, MaxImportBatch)
	}
	return s.importItems(ctx, items, &ImportResult{ProductIDs: []int64{}, Errors: []ImportItemError{}})
}

func (s *ImportService) importItems(ctx context.Context, items []feed.Value, result *ImportResult) (*ImportResult, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}

	existing, complete, err := s.skus.AllSKUs(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取 SKU 缓存失败: %w", err)
	}

	extractor := feed.NewExtractor(settings.Overrides())
	fees := settings.Fees()
	seen := make(map[string]struct{}, len(items))

	for _, item := range items {
		sku, err := s.validate(item)
		if err != nil {
			result.fail(sku, err)
			continue
		}

		if _, dup := seen[sku]; dup {
			result.fail(sku, &itemError{SKU: sku, Kind: ErrDuplicateSku, Reason: "repeated in batch"})
			continue
		}
		seen[sku] = struct{}{}

		exists, err := s.exists(ctx, sku, existing, complete)
		if err != nil {
			result.fail(sku, fmt.Errorf("查询 SKU 失败: %w", err))
			continue
		}
		if exists {
			result.fail(sku, &itemError{SKU: sku, Kind: ErrDuplicateSku, Reason: "already in catalog"})
			continue
		}

		id, err := s.save(ctx, item, sku, extractor, fees)
		if err != nil {
			result.fail(sku, err)
			continue
		}
		result.Imported++
		result.ProductIDs = append(result.ProductIDs, id)
	}

	if result.Imported > 0 {
		s.skus.Bump()
	}

	log.Printf("[ImportService] 导入完成: 成功 %d, 失败 %d", result.Imported, len(result.Errors))
	if s.activity != nil {
		if err := s.activity.Append(ctx, model.ActionImport, map[string]any{
			"imported":    result.Imported,
			"product_ids": result.ProductIDs,
			"errors":      result.Errors,
		}); err != nil {
			log.Printf("[ImportService] 写入活动日志失败: %v", err)
		}
	}
	return result, nil
}

// validate 返回规范化 SKU
func (s *ImportService) validate(item feed.Value) (string, error) {
	if !item.IsMap() {
		return "", &itemError{Kind: ErrItemInvalid, Reason: "item is not an object"}
	}
	raw, err := item.MarshalJSON()
	if err != nil || len(raw) > MaxItemPayload {
		return truncate(feed.SKU(item), feed.MaxSKULength), &itemError{SKU: truncate(feed.SKU(item), feed.MaxSKULength), Kind: ErrItemInvalid, Reason: "payload too large"}
	}
	sku := feed.NormalizeSKU(feed.SKU(item))
	if !feed.ValidSKU(sku) {
		short := truncate(sku, feed.MaxSKULength)
		return short, &itemError{SKU: short, Kind: ErrItemInvalid, Reason: "missing or malformed sku"}
	}
	return sku, nil
}

func (s *ImportService) exists(ctx context.Context, sku string, existing map[string]struct{}, complete bool) (bool, error) {
	if complete {
		_, ok := existing[sku]
		return ok, nil
	}
	_, found, err := s.catalog.FindBySKU(ctx, sku)
	return found, err
}

// save 新商品一律为草稿，唯一索引兜底并发导入
func (s *ImportService) save(ctx context.Context, item feed.Value, sku string, extractor *feed.Extractor, fees pricing.Fees) (int64, error) {
	fields := extractor.Extract(item)
	if pricing.Overweight(fields.Weight, fees.ShippingTable) {
		log.Printf("[ImportService] %s 重量 %.3fkg 超出运费表，按最后一档计价", sku, fields.Weight)
	}

	title := fields.Name
	if title == "" {
		title = sku
	}
	product := &model.Product{
		Title:       truncate(title, maxTitleLength),
		Description: fields.Description,
		Price:       pricing.Price(fields.Price, fields.Weight, fees),
		Stock:       fields.Stock,
		Status:      model.ProductStatusDraft,
	}
	product.SetSKU(sku)

	id, err := s.catalog.Save(ctx, product)
	if errors.Is(err, repository.ErrDuplicateSKU) {
		return 0, &itemError{SKU: sku, Kind: ErrDuplicateSku, Reason: "already in catalog"}
	}
	if err != nil {
		return 0, fmt.Errorf("保存商品失败: %w", err)
	}

	for key, value := range map[string]string{
		model.MetaFeedSourced:   "1",
		model.MetaFeedSourceSKU: fields.SKU,
	} {
		if err := s.catalog.SetMeta(ctx, id, key, value); err != nil {
			log.Printf("[ImportService] 写入 meta %s 失败 (product=%d): %v", key, id, err)
		}
	}
	return id, nil
}
