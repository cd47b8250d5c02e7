package service

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"supplier_feed_v1/pkg/cache"
	"supplier_feed_v1/pkg/feed"
)

const (
	skuVersionTTL = 24 * time.Hour
	skuSetTTL     = 5 * time.Minute
	// MaxCachedSKUs 超过该数量不缓存，调用方逐个查询
	MaxCachedSKUs = 50000
)

// skuLister SKUCache 需要的目录能力
type skuLister interface {
	FindBySKU(ctx context.Context, sku string) (int64, bool, error)
	ListSKUs(ctx context.Context, limit int) ([]string, error)
}

// SKUCache 目录 SKU 集合缓存，版本号变化即失效
type SKUCache struct {
	catalog skuLister
	store   cache.Store
	keys    cacheKeys
}

func NewSKUCache(catalog skuLister, store cache.Store, installationID string) *SKUCache {
	return &SKUCache{
		catalog: catalog,
		store:   store,
		keys:    newCacheKeys(installationID),
	}
}

// AllSKUs 返回大写 SKU 集合
// complete=false 表示目录过大未缓存，集合为空
func (c *SKUCache) AllSKUs(ctx context.Context) (skus map[string]struct{}, complete bool, err error) {
	key := c.keys.skuSet(c.version())
	if v, ok := c.store.Get(key); ok {
		if set, ok := v.(map[string]struct{}); ok {
			return set, true, nil
		}
	}

	list, err := c.catalog.ListSKUs(ctx, MaxCachedSKUs+1)
	if err != nil {
		return nil, false, err
	}
	if len(list) > MaxCachedSKUs {
		log.Printf("[SKUCache] 目录 SKU 超过 %d，跳过缓存", MaxCachedSKUs)
		return map[string]struct{}{}, false, nil
	}

	set := make(map[string]struct{}, len(list))
	for _, sku := range list {
		sku = feed.NormalizeSKU(sku)
		if feed.ValidSKU(sku) {
			set[sku] = struct{}{}
		}
	}
	// 并发重建时后写覆盖先写，内容等价
	c.store.Set(key, set, skuSetTTL)
	return set, true, nil
}

// Exists 集合可用时查集合，否则回退到单条查询
func (c *SKUCache) Exists(ctx context.Context, sku string) (bool, error) {
	sku = feed.NormalizeSKU(sku)
	set, complete, err := c.AllSKUs(ctx)
	if err != nil {
		return false, err
	}
	if complete {
		_, ok := set[sku]
		return ok, nil
	}
	_, found, err := c.catalog.FindBySKU(ctx, sku)
	return found, err
}

// Bump 生成新版本号，旧集合随 TTL 过期
func (c *SKUCache) Bump() {
	c.store.Set(c.keys.skuVersion(), uuid.NewString(), skuVersionTTL)
}

func (c *SKUCache) version() string {
	if v, ok := c.store.Get(c.keys.skuVersion()); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	version := uuid.NewString()
	if !c.store.Add(c.keys.skuVersion(), version, skuVersionTTL) {
		// 并发下其他调用方先写入
		if v, ok := c.store.Get(c.keys.skuVersion()); ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return version
}
