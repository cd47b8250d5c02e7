package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/url"
	"strings"

	"gorm.io/datatypes"

	"supplier_feed_v1/internal/model"
	"supplier_feed_v1/internal/repository"
	"supplier_feed_v1/pkg/cache"
	"supplier_feed_v1/pkg/feed"
	"supplier_feed_v1/pkg/pricing"
	"supplier_feed_v1/pkg/utils"
)

const (
	maxAPIBaseLength  = 255
	maxUsernameLength = 255
	maxPasswordLength = 1024
	maxFieldPathLen   = 255
	maxShippingBands  = 100
)

// Settings 解密后的运行时配置
type Settings struct {
	APIBase        string                 `json:"api_base"`
	Endpoint       string                 `json:"endpoint"`
	Username       string                 `json:"username"`
	Password       string                 `json:"-"`
	VatPercent     float64                `json:"vat_percent"`
	PaypalPercent  float64                `json:"paypal_percent"`
	PaypalFixed    float64                `json:"paypal_fixed"`
	ProfitPercent  float64                `json:"profit_percent"`
	StockFieldPath string                 `json:"stock_field_path"`
	PriceFieldKey  string                 `json:"price_field_key"`
	ShippingTable  []pricing.ShippingBand `json:"shipping_table"`
}

// Fees 定价参数
func (s *Settings) Fees() pricing.Fees {
	return pricing.Fees{
		VatPercent:    s.VatPercent,
		PaypalPercent: s.PaypalPercent,
		PaypalFixed:   s.PaypalFixed,
		ProfitPercent: s.ProfitPercent,
		ShippingTable: s.ShippingTable,
	}
}

// Overrides 字段路径覆盖
func (s *Settings) Overrides() feed.Overrides {
	return feed.Overrides{PriceKey: s.PriceFieldKey, StockPath: s.StockFieldPath}
}

// SettingsInput 保存请求，缺省字段保持原值
type SettingsInput struct {
	APIBase        *string    `json:"api_base"`
	Endpoint       *string    `json:"endpoint"`
	Username       *string    `json:"username"`
	Password       *string    `json:"password"` // 空串保持原密码
	VatPercent     feed.Value `json:"vat_percent"`
	PaypalPercent  feed.Value `json:"paypal_percent"`
	PaypalFixed    feed.Value `json:"paypal_fixed"`
	ProfitPercent  feed.Value `json:"profit_percent"`
	StockFieldPath *string    `json:"stock_field_path"`
	PriceFieldKey  *string    `json:"price_field_key"`
	ShippingTable  feed.Value `json:"shipping_table"` // 数组或 JSON 字符串
}

// SettingsLoader 每次操作开始时读取一次配置
type SettingsLoader interface {
	Load(ctx context.Context) (*Settings, error)
}

// ==================== 服务实现 ====================

type SettingsService struct {
	repo     repository.SettingsRepository
	store    cache.Store
	keys     cacheKeys
	key      []byte
	activity ActivityLogger
}

// NewSettingsService secret 用于派生密码加密密钥
func NewSettingsService(repo repository.SettingsRepository, store cache.Store, installationID, secret string, activity ActivityLogger) *SettingsService {
	return &SettingsService{
		repo:     repo,
		store:    store,
		keys:     newCacheKeys(installationID),
		key:      utils.DeriveKey(secret),
		activity: activity,
	}
}

// Load 读取配置，从未保存时返回零值配置
func (s *SettingsService) Load(ctx context.Context) (*Settings, error) {
	row, err := s.repo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取供应商配置失败: %w", err)
	}
	if row == nil {
		return &Settings{ShippingTable: []pricing.ShippingBand{}}, nil
	}
	return s.fromModel(row), nil
}

// Save 逐字段校验后保存，非法值保留原值
// 接口凭据变化时清空 token 与 feed 缓存
func (s *SettingsService) Save(ctx context.Context, in SettingsInput) (*Settings, error) {
	row, err := s.repo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取供应商配置失败: %w", err)
	}
	if row == nil {
		row = &model.SupplierSetting{}
	}
	current := s.fromModel(row)
	next := *current
	next.ShippingTable = append([]pricing.ShippingBand(nil), current.ShippingTable...)

	if in.APIBase != nil {
		if v, ok := cleanAPIBase(*in.APIBase); ok {
			next.APIBase = v
		} else {
			log.Printf("[Settings] 忽略非法 api_base: %q", truncate(*in.APIBase, 64))
		}
	}
	if in.Endpoint != nil {
		ep := strings.TrimSpace(*in.Endpoint)
		if ep == "" || ValidateEndpoint(ep) == nil {
			next.Endpoint = ep
		} else {
			log.Printf("[Settings] 忽略非法 endpoint: %q", truncate(ep, 64))
		}
	}
	if in.Username != nil {
		if u := strings.TrimSpace(*in.Username); len(u) <= maxUsernameLength {
			next.Username = u
		}
	}
	if in.Password != nil && *in.Password != "" && len(*in.Password) <= maxPasswordLength {
		next.Password = *in.Password
	}

	next.VatPercent = percentOr(in.VatPercent, current.VatPercent)
	next.PaypalPercent = percentOr(in.PaypalPercent, current.PaypalPercent)
	next.ProfitPercent = percentOr(in.ProfitPercent, current.ProfitPercent)
	next.PaypalFixed = nonNegativeOr(in.PaypalFixed, current.PaypalFixed)

	if in.StockFieldPath != nil {
		next.StockFieldPath = fieldPathOr(*in.StockFieldPath, current.StockFieldPath)
	}
	if in.PriceFieldKey != nil {
		next.PriceFieldKey = fieldPathOr(*in.PriceFieldKey, current.PriceFieldKey)
	}
	if table, ok := ParseShippingTable(in.ShippingTable); ok {
		next.ShippingTable = table
	}

	if err := s.toModel(&next, row); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, row); err != nil {
		return nil, fmt.Errorf("保存供应商配置失败: %w", err)
	}

	if credentialsChanged(current, &next) {
		s.store.Delete(s.keys.token())
		s.store.Delete(s.keys.feed())
		log.Printf("[Settings] 接口凭据已变更，清空 token 与 feed 缓存")
	}

	if s.activity != nil {
		if err := s.activity.Append(ctx, model.ActionSettingsSaved, next.Masked()); err != nil {
			log.Printf("[Settings] 写入活动日志失败: %v", err)
		}
	}
	return &next, nil
}

// Masked 对外展示用，密码只显示是否已设置
func (s *Settings) Masked() map[string]any {
	password := ""
	if s.Password != "" {
		password = "********"
	}
	return map[string]any{
		"api_base":         s.APIBase,
		"endpoint":         s.Endpoint,
		"username":         s.Username,
		"password":         password,
		"vat_percent":      s.VatPercent,
		"paypal_percent":   s.PaypalPercent,
		"paypal_fixed":     s.PaypalFixed,
		"profit_percent":   s.ProfitPercent,
		"stock_field_path": s.StockFieldPath,
		"price_field_key":  s.PriceFieldKey,
		"shipping_table":   s.ShippingTable,
	}
}

// ==================== 模型转换 ====================

func (s *SettingsService) fromModel(row *model.SupplierSetting) *Settings {
	out := &Settings{
		APIBase:        row.APIBase,
		Endpoint:       row.Endpoint,
		Username:       row.Username,
		VatPercent:     row.VatPercent,
		PaypalPercent:  row.PaypalPercent,
		PaypalFixed:    row.PaypalFixed,
		ProfitPercent:  row.ProfitPercent,
		StockFieldPath: row.StockFieldPath,
		PriceFieldKey:  row.PriceFieldKey,
		ShippingTable:  []pricing.ShippingBand{},
	}

	if row.PasswordEnc != "" {
		plain, err := utils.DecryptString(s.key, row.PasswordEnc)
		if err != nil {
			// 密钥变更后旧密文无法解密，按未设置处理
			log.Printf("[Settings] 密码解密失败: %v", err)
		} else {
			out.Password = plain
		}
	}

	if len(row.ShippingTable) > 0 {
		if v, err := feed.Parse(row.ShippingTable); err == nil {
			if table, ok := ParseShippingTable(v); ok {
				out.ShippingTable = table
			}
		}
	}
	return out
}

func (s *SettingsService) toModel(in *Settings, row *model.SupplierSetting) error {
	enc, err := utils.EncryptString(s.key, in.Password)
	if err != nil {
		return fmt.Errorf("加密密码失败: %w", err)
	}
	table, err := json.Marshal(in.ShippingTable)
	if err != nil {
		return err
	}

	row.APIBase = in.APIBase
	row.Endpoint = in.Endpoint
	row.Username = in.Username
	row.PasswordEnc = enc
	row.VatPercent = in.VatPercent
	row.PaypalPercent = in.PaypalPercent
	row.PaypalFixed = in.PaypalFixed
	row.ProfitPercent = in.ProfitPercent
	row.StockFieldPath = in.StockFieldPath
	row.PriceFieldKey = in.PriceFieldKey
	row.ShippingTable = datatypes.JSON(table)
	return nil
}

// ==================== 校验 ====================

// ParseShippingTable 接受数组或内容为数组的 JSON 字符串
// 缺失字段按 0 处理，负数归零，max 不小于 min
func ParseShippingTable(v feed.Value) ([]pricing.ShippingBand, bool) {
	if v.Kind() == feed.KindString {
		text := strings.TrimSpace(v.Text())
		if text == "" {
			return []pricing.ShippingBand{}, true
		}
		parsed, err := feed.Parse([]byte(text))
		if err != nil {
			return nil, false
		}
		v = parsed
	}
	if !v.IsList() {
		return nil, false
	}

	table := make([]pricing.ShippingBand, 0, v.Len())
	for _, row := range v.Items() {
		if !row.IsMap() {
			continue
		}
		band := pricing.ShippingBand{
			Min:  bandNumber(row, "min"),
			Max:  bandNumber(row, "max"),
			Cost: bandNumber(row, "cost"),
		}
		if band.Max < band.Min {
			band.Max = band.Min
		}
		table = append(table, band)
		if len(table) == maxShippingBands {
			break
		}
	}
	return table, true
}

func bandNumber(row feed.Value, key string) float64 {
	f, ok := row.Lookup(key)
	if !ok {
		return 0
	}
	n, ok := f.Float()
	if !ok || n < 0 {
		return 0
	}
	return n
}

// cleanAPIBase 只接受不带凭据的 https 地址
func cleanAPIBase(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", true
	}
	if len(raw) > maxAPIBaseLength {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", false
	}
	return strings.TrimRight(raw, "/"), true
}

func percentOr(v feed.Value, fallback float64) float64 {
	f, ok := v.Float()
	if !ok {
		return fallback
	}
	return math.Max(0, math.Min(100, f))
}

func nonNegativeOr(v feed.Value, fallback float64) float64 {
	f, ok := v.Float()
	if !ok {
		return fallback
	}
	return math.Max(0, f)
}

func fieldPathOr(path, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if len(path) > maxFieldPathLen {
		return fallback
	}
	if _, ok := feed.SplitPath(path); !ok {
		return fallback
	}
	return path
}

func credentialsChanged(a, b *Settings) bool {
	return a.APIBase != b.APIBase ||
		a.Endpoint != b.Endpoint ||
		a.Username != b.Username ||
		a.Password != b.Password
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
