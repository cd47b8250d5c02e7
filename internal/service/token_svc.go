package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"supplier_feed_v1/pkg/cache"
	"supplier_feed_v1/pkg/feed"
	"supplier_feed_v1/pkg/utils"
)

const (
	// AuthPath 供应商 token 接口
	AuthPath = "/rest/V1/integration/customer/token"
	// TokenTTL token 缓存时间
	TokenTTL = 45 * time.Minute

	tokenBodyLimit    = 256 << 10
	maxEndpointLength = 512
)

var endpointPattern = regexp.MustCompile(`^[A-Za-z0-9_\-./?=&%,]+$`)

// ==================== 地址校验 ====================

// ValidateEndpoint 限制 Feed 相对路径的长度与字符集
func ValidateEndpoint(endpoint string) error {
	if endpoint == "" || len(endpoint) > maxEndpointLength {
		return ErrInvalidEndpoint
	}
	lower := strings.ToLower(endpoint)
	if strings.Contains(endpoint, "..") ||
		strings.Contains(endpoint, "//") ||
		strings.Contains(lower, "%2f") ||
		strings.Contains(lower, "%5c") {
		return ErrInvalidEndpoint
	}
	if !endpointPattern.MatchString(endpoint) {
		return ErrInvalidEndpoint
	}
	return nil
}

// supplierBase 校验主机白名单与 https，失败时不发起任何请求
func supplierBase(apiBase string, allowed utils.HostPolicy) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(apiBase))
	if err != nil || u.Hostname() == "" {
		return nil, ErrHostNotAllowed
	}
	if allowed == nil || !allowed(u.Hostname()) {
		return nil, fmt.Errorf("%w: %s", ErrHostNotAllowed, u.Hostname())
	}
	if u.Scheme != "https" {
		return nil, ErrInsecureScheme
	}
	return u, nil
}

func joinURL(base *url.URL, path string) string {
	return strings.TrimRight(base.String(), "/") + "/" + strings.TrimLeft(path, "/")
}

// ==================== TokenService ====================

// TokenService 获取并缓存供应商访问 token
type TokenService struct {
	settings SettingsLoader
	client   *resty.Client
	store    cache.Store
	allowed  utils.HostPolicy
	keys     cacheKeys
}

func NewTokenService(settings SettingsLoader, client *resty.Client, store cache.Store, allowed utils.HostPolicy, installationID string) *TokenService {
	return &TokenService{
		settings: settings,
		client:   client,
		store:    store,
		allowed:  allowed,
		keys:     newCacheKeys(installationID),
	}
}

// GetToken 缓存有效时不发起网络请求
func (s *TokenService) GetToken(ctx context.Context) (string, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return "", err
	}
	base, err := supplierBase(settings.APIBase, s.allowed)
	if err != nil {
		return "", err
	}
	if settings.Username == "" || settings.Password == "" {
		return "", ErrMissingCredentials
	}

	if v, ok := s.store.Get(s.keys.token()); ok {
		if token, ok := v.(string); ok && token != "" {
			return token, nil
		}
	}

	token, err := s.requestToken(ctx, joinURL(base, AuthPath), settings.Username, settings.Password)
	if err != nil {
		return "", err
	}

	s.store.Set(s.keys.token(), token, TokenTTL)
	log.Printf("[TokenService] 获取新 token 成功，缓存 %v", TokenTTL)
	return token, nil
}

// Invalidate 丢弃缓存的 token，下次调用重新认证
func (s *TokenService) Invalidate() {
	s.store.Delete(s.keys.token())
}

func (s *TokenService) requestToken(ctx context.Context, authURL, username, password string) (string, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{
			"username": username,
			"password": password,
		}).
		Post(authURL)
	if err != nil {
		return "", &AuthError{Err: err}
	}

	body, err := utils.ReadResponseBody(resp, tokenBodyLimit)
	if errors.Is(err, utils.ErrBodyTooLarge) {
		return "", fmt.Errorf("%w: body exceeds %d bytes", ErrInvalidTokenResponse, tokenBodyLimit)
	}
	if err != nil {
		return "", &AuthError{Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return "", &AuthError{Code: resp.StatusCode()}
	}

	return parseToken(body)
}

// parseToken 接受 "token" 或 {"token": "..."}
func parseToken(body []byte) (string, error) {
	v, err := feed.Parse(body)
	if err != nil {
		return "", ErrInvalidTokenResponse
	}
	if v.Kind() == feed.KindMap {
		v, _ = v.Field("token")
	}
	if v.Kind() != feed.KindString {
		return "", ErrInvalidTokenResponse
	}
	token := strings.TrimSpace(v.Text())
	if token == "" {
		return "", ErrInvalidTokenResponse
	}
	return token, nil
}
