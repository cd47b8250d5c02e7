package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"supplier_feed_v1/pkg/cache"
	"supplier_feed_v1/pkg/feed"
	"supplier_feed_v1/pkg/utils"
)

const (
	// FeedTTL feed 缓存时间
	FeedTTL = 10 * time.Minute
	// FeedBodyLimit feed 响应体上限
	FeedBodyLimit = 10 << 20
)

// Feed 一次完整的 feed 快照
type Feed struct {
	Raw       []byte
	Doc       feed.Value
	FetchedAt time.Time
}

// Products 展开信封后的条目
func (f *Feed) Products() []feed.Value {
	return feed.ExtractProducts(f.Doc)
}

// FeedFetcher 获取 feed，bypassCache 强制走网络
type FeedFetcher interface {
	FetchFeed(ctx context.Context, bypassCache bool) (*Feed, error)
}

// tokenSource FeedService 只依赖这两个能力
type tokenSource interface {
	GetToken(ctx context.Context) (string, error)
	Invalidate()
}

// ==================== FeedService ====================

type FeedService struct {
	settings SettingsLoader
	tokens   tokenSource
	client   *resty.Client
	store    cache.Store
	allowed  utils.HostPolicy
	keys     cacheKeys
	now      func() time.Time
}

func NewFeedService(settings SettingsLoader, tokens tokenSource, client *resty.Client, store cache.Store, allowed utils.HostPolicy, installationID string) *FeedService {
	return &FeedService{
		settings: settings,
		tokens:   tokens,
		client:   client,
		store:    store,
		allowed:  allowed,
		keys:     newCacheKeys(installationID),
		now:      time.Now,
	}
}

// FetchFeed 先校验 endpoint 与主机，再读缓存，最后请求网络
func (s *FeedService) FetchFeed(ctx context.Context, bypassCache bool) (*Feed, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := ValidateEndpoint(settings.Endpoint); err != nil {
		return nil, err
	}
	base, err := supplierBase(settings.APIBase, s.allowed)
	if err != nil {
		return nil, err
	}

	if !bypassCache {
		if v, ok := s.store.Get(s.keys.feed()); ok {
			if f, ok := v.(*Feed); ok {
				return f, nil
			}
		}
	}

	token, err := s.tokens.GetToken(ctx)
	if err != nil {
		return nil, err
	}

	start := s.now()
	f, err := s.download(ctx, joinURL(base, settings.Endpoint), token)
	if err != nil {
		log.Printf("[FeedService] 拉取 feed 失败: %v", err)
		return nil, err
	}

	s.store.Set(s.keys.feed(), f, FeedTTL)
	log.Printf("[FeedService] 拉取 feed 成功: %d 字节, %d 条, 耗时 %v",
		len(f.Raw), len(f.Products()), s.now().Sub(start))
	return f, nil
}

// Invalidate 清空 feed 缓存
func (s *FeedService) Invalidate() {
	s.store.Delete(s.keys.feed())
}

func (s *FeedService) download(ctx context.Context, feedURL, token string) (*Feed, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetAuthToken(token).
		Get(feedURL)
	if err != nil {
		return nil, fmt.Errorf("请求 feed 失败: %w", err)
	}

	body, err := utils.ReadResponseBody(resp, FeedBodyLimit)
	if errors.Is(err, utils.ErrBodyTooLarge) {
		return nil, ErrFeedTooLarge
	}
	if err != nil {
		return nil, fmt.Errorf("读取 feed 失败: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		if resp.StatusCode() == http.StatusUnauthorized {
			// token 可能被供应商提前吊销
			s.tokens.Invalidate()
		}
		return nil, &HTTPError{Code: resp.StatusCode()}
	}

	doc, err := feed.Parse(body)
	if err != nil {
		return nil, ErrInvalidFeedFormat
	}
	return &Feed{Raw: body, Doc: doc, FetchedAt: s.now()}, nil
}
