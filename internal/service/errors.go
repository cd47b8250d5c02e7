package service

import (
	"errors"
	"fmt"
)

// FeedError 供应商接入相关的固定错误
type FeedError string

func (e FeedError) Error() string { return string(e) }

// 配置错误：不发起网络请求
const (
	ErrHostNotAllowed  FeedError = "supplier host is not in the allow-list"
	ErrInsecureScheme  FeedError = "supplier api base must use https"
	ErrInvalidEndpoint FeedError = "invalid feed endpoint"
)

// 认证错误
const (
	ErrMissingCredentials   FeedError = "supplier username or password is empty"
	ErrInvalidTokenResponse FeedError = "invalid token response"
)

// Feed 错误
const (
	ErrFeedTooLarge      FeedError = "feed response exceeds size limit"
	ErrInvalidFeedFormat FeedError = "feed response is not valid json"
)

// 同步 / 导入
const (
	ErrLockHeld     FeedError = "sync is already running"
	ErrItemInvalid  FeedError = "invalid item"
	ErrDuplicateSku FeedError = "duplicate sku"
)

// HTTPError 非 200 响应
type HTTPError struct {
	Code int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("supplier responded with http %d", e.Code)
}

// AuthError token 接口不可达或非 200
type AuthError struct {
	Code int // 网络错误时为 0
	Err  error
}

func (e *AuthError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("supplier authentication failed: http %d", e.Code)
	}
	return fmt.Sprintf("supplier authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// SyncError 同步中止的原因
type SyncError struct {
	Stage string // fetch | page
	Err   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync failed at %s: %v", e.Stage, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// IsConfigError 配置类错误，调用方应提示修改设置
func IsConfigError(err error) bool {
	return errors.Is(err, ErrHostNotAllowed) ||
		errors.Is(err, ErrInsecureScheme) ||
		errors.Is(err, ErrInvalidEndpoint) ||
		errors.Is(err, ErrMissingCredentials)
}

// itemError 单条导入失败，附带 SKU
type itemError struct {
	SKU    string
	Kind   FeedError
	Reason string
}

func (e *itemError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s", e.SKU, e.Kind)
	}
	return fmt.Sprintf("%s: %s (%s)", e.SKU, e.Kind, e.Reason)
}

func (e *itemError) Unwrap() error { return e.Kind }
