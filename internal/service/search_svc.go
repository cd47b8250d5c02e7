package service

import (
	"context"
	"log"
	"strings"

	"supplier_feed_v1/pkg/feed"
	"supplier_feed_v1/pkg/fuzzy"
	"supplier_feed_v1/pkg/pricing"
)

const (
	DefaultSearchLimit = 50
	MaxSearchLimit     = 500
	maxKeywordLength   = 200
)

// SearchQuery 搜索参数
type SearchQuery struct {
	Keyword string
	SKUOnly bool
	Limit   int
	Refresh bool // 跳过 feed 缓存
}

// SearchRow 单条搜索结果
type SearchRow struct {
	SKU        string  `json:"sku"`
	Name       string  `json:"name"`
	Cost       float64 `json:"cost"`
	Weight     float64 `json:"weight"`
	Stock      int     `json:"stock"`
	Price      float64 `json:"price"`
	Score      float64 `json:"score"`
	Exists     bool    `json:"exists"`
	Overweight bool    `json:"overweight"` // 超出所有运费区间，按最后一档计价
}

// SearchResult 搜索汇总
type SearchResult struct {
	FeedTotal int         `json:"feed_total"`
	Matched   int         `json:"matched"`
	Rows      []SearchRow `json:"rows"`
}

// ==================== SearchService ====================

type SearchService struct {
	settings SettingsLoader
	feeds    FeedFetcher
	skus     *SKUCache
	matcher  *fuzzy.Matcher
}

func NewSearchService(settings SettingsLoader, feeds FeedFetcher, skus *SKUCache) *SearchService {
	return &SearchService{
		settings: settings,
		feeds:    feeds,
		skus:     skus,
		matcher:  fuzzy.NewMatcher(),
	}
}

// Search 拉取 feed（默认走缓存），排序后计算售价
func (s *SearchService) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	f, err := s.feeds.FetchFeed(ctx, q.Refresh)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	items := f.Products()
	matches := s.matcher.Rank(items, truncate(strings.TrimSpace(q.Keyword), maxKeywordLength), q.SKUOnly)

	result := &SearchResult{
		FeedTotal: len(items),
		Matched:   len(matches),
		Rows:      make([]SearchRow, 0, min(limit, len(matches))),
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}

	existing, complete, err := s.skus.AllSKUs(ctx)
	if err != nil {
		log.Printf("[SearchService] 读取 SKU 缓存失败: %v", err)
		existing, complete = map[string]struct{}{}, true
	}

	extractor := feed.NewExtractor(settings.Overrides())
	fees := settings.Fees()
	for _, m := range matches {
		fields := extractor.Extract(m.Item)
		row := SearchRow{
			SKU:        fields.SKU,
			Name:       fields.Name,
			Cost:       fields.Price,
			Weight:     fields.Weight,
			Stock:      fields.Stock,
			Price:      pricing.Price(fields.Price, fields.Weight, fees),
			Score:      m.Score,
			Overweight: pricing.Overweight(fields.Weight, fees.ShippingTable),
		}
		if sku := feed.NormalizeSKU(fields.SKU); feed.ValidSKU(sku) {
			if complete {
				_, row.Exists = existing[sku]
			} else if found, err := s.skus.Exists(ctx, sku); err == nil {
				row.Exists = found
			}
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}
