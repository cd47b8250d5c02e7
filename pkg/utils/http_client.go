package utils

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// SupplierTimeout 供应商接口统一超时
	SupplierTimeout = 30 * time.Second
	// MaxRedirects 最多跟随的重定向次数
	MaxRedirects = 3
)

var (
	ErrBodyTooLarge   = errors.New("响应体超出大小限制")
	ErrUnsafeRedirect = errors.New("重定向目标不安全")
)

// HostPolicy 判断主机是否在白名单中
type HostPolicy func(host string) bool

// AllowHosts 由白名单构造 HostPolicy，比较时忽略大小写
func AllowHosts(hosts []string) HostPolicy {
	set := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			set[h] = struct{}{}
		}
	}
	return func(host string) bool {
		_, ok := set[strings.ToLower(host)]
		return ok
	}
}

// NewSupplierClient 创建访问供应商接口的 Resty 客户端
// 所有 token / feed 请求都从这里出去
func NewSupplierClient(allowed HostPolicy) *resty.Client {
	return ConfigureSupplierClient(resty.New(), allowed)
}

// ConfigureSupplierClient 在已有客户端上挂载超时、UA 与重定向策略
// 测试中用来包装 httptest 的 TLS 客户端
func ConfigureSupplierClient(client *resty.Client, allowed HostPolicy) *resty.Client {
	return client.
		SetTimeout(SupplierTimeout).
		SetHeader("User-Agent", "Supplier-Feed-Go/1.0").
		SetHeader("Accept", "application/json").
		SetRedirectPolicy(SafeRedirectPolicy(allowed))
}

// SafeRedirectPolicy 最多 3 次重定向，只允许 https 且非内网目标
// 白名单内的主机不受内网判断限制
func SafeRedirectPolicy(allowed HostPolicy) resty.RedirectPolicy {
	return resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
		if len(via) > MaxRedirects {
			return fmt.Errorf("%w: 超过 %d 次重定向", ErrUnsafeRedirect, MaxRedirects)
		}
		if req.URL.Scheme != "https" {
			return fmt.Errorf("%w: 非 https 目标 %s", ErrUnsafeRedirect, req.URL.Scheme)
		}
		host := req.URL.Hostname()
		if allowed != nil && allowed(host) {
			return nil
		}
		if IsInternalHost(host) {
			return fmt.Errorf("%w: 内网主机 %s", ErrUnsafeRedirect, host)
		}
		return nil
	})
}

// IsInternalHost 只检查字面量 IP 与保留主机名，不做 DNS 解析
func IsInternalHost(host string) bool {
	h := strings.ToLower(strings.TrimSuffix(host, "."))
	if h == "" || h == "localhost" ||
		strings.HasSuffix(h, ".localhost") ||
		strings.HasSuffix(h, ".local") ||
		strings.HasSuffix(h, ".internal") {
		return true
	}

	ip := net.ParseIP(strings.Trim(h, "[]"))
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// ReadLimited 读取至多 limit 字节，超出返回 ErrBodyTooLarge
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

// ReadResponseBody 读取未解析的响应体（需配合 SetDoNotParseResponse）并关闭
func ReadResponseBody(resp *resty.Response, limit int64) ([]byte, error) {
	body := resp.RawBody()
	if body == nil {
		return nil, nil
	}
	defer body.Close()
	return ReadLimited(body, limit)
}
