package feed

import (
	"math"
	"regexp"
	"strings"
)

var (
	priceKeys = []string{"price", "cost", "price_ex_vat", "price_inc_vat", "base_price", "supplier_price"}

	weightKeys = []string{"weight", "package_weight", "product_weight", "shipping_weight", "extension_attributes.weight"}

	stockKeys = []string{
		"stock", "qty", "quantity", "stock_qty", "stock_quantity", "inventory_quantity",
		"extension_attributes.stock_item.qty",
	}

	stockFlagKeys = []string{"in_stock", "is_in_stock", "stock_status"}

	stockNameHints = []string{"qty", "stock", "quantity"}

	skuKeys         = []string{"sku", "SKU", "product_sku"}
	nameKeys        = []string{"name", "title", "product_name"}
	descriptionKeys = []string{"description", "short_description", "long_description"}
)

var stockFlagVocabulary = map[string]int{
	"in_stock": 1, "instock": 1, "yes": 1, "true": 1, "1": 1,
	"out_of_stock": 0, "outofstock": 0, "no": 0, "false": 0, "0": 0,
}

// MaxSKULength SKU 最大长度
const MaxSKULength = 100

var skuPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidSKU 校验 SKU 字符集与长度
func ValidSKU(sku string) bool {
	return len(sku) > 0 && len(sku) <= MaxSKULength && skuPattern.MatchString(sku)
}

// NormalizeSKU 用于比较的 SKU 形式
func NormalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

// Overrides 设置中的字段路径覆盖
type Overrides struct {
	PriceKey  string
	StockPath string
}

// Fields 规范化后的商品字段
type Fields struct {
	SKU         string
	Name        string
	Description string
	Price       float64
	Weight      float64
	Stock       int
}

// Extractor 从异构的供应商条目中解析价格、重量、库存
type Extractor struct {
	overrides Overrides
}

func NewExtractor(o Overrides) *Extractor {
	return &Extractor{overrides: o}
}

// Extract 解析全部规范字段
func (e *Extractor) Extract(item Value) Fields {
	return Fields{
		SKU:         SKU(item),
		Name:        Text(item, nameKeys...),
		Description: Text(item, descriptionKeys...),
		Price:       e.Price(item),
		Weight:      e.Weight(item),
		Stock:       e.Stock(item),
	}
}

// Price 覆盖键优先，其次固定优先级列表，默认 0
func (e *Extractor) Price(item Value) float64 {
	if e.overrides.PriceKey != "" {
		if f, ok := numberAt(item, e.overrides.PriceKey); ok {
			return nonNegative(f)
		}
	}
	for _, key := range priceKeys {
		if f, ok := numberAt(item, key); ok {
			return nonNegative(f)
		}
	}
	return 0
}

// Weight 单位 kg，默认 0
func (e *Extractor) Weight(item Value) float64 {
	for _, key := range weightKeys {
		if f, ok := numberAt(item, key); ok {
			return nonNegative(f)
		}
	}
	return 0
}

// Stock 覆盖路径 -> 固定键 -> 递归查找 -> 库存状态标记 -> 0
func (e *Extractor) Stock(item Value) int {
	if e.overrides.StockPath != "" {
		if f, ok := numberAt(item, e.overrides.StockPath); ok {
			return toStock(f)
		}
	}
	for _, key := range stockKeys {
		if f, ok := numberAt(item, key); ok {
			return toStock(f)
		}
	}
	if f, ok := searchStock(item, 0); ok {
		return toStock(f)
	}
	for _, key := range stockFlagKeys {
		flag, ok := item.Lookup(key)
		if !ok {
			continue
		}
		if n, ok := stockFlag(flag); ok {
			return n
		}
	}
	return 0
}

// searchStock 深度优先查找名称含 qty/stock/quantity 的数值字段
func searchStock(v Value, depth int) (float64, bool) {
	if depth >= MaxDepth {
		return 0, false
	}
	switch v.kind {
	case KindMap:
		for _, key := range v.keys {
			child := v.fields[key]
			if child.kind == KindMap || child.kind == KindList {
				if f, ok := searchStock(child, depth+1); ok {
					return f, true
				}
				continue
			}
			if !isStockName(key) {
				continue
			}
			if f, ok := child.Float(); ok {
				return f, true
			}
		}
	case KindList:
		for _, child := range v.list {
			if f, ok := searchStock(child, depth+1); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func isStockName(key string) bool {
	lower := strings.ToLower(key)
	for _, hint := range stockNameHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func stockFlag(v Value) (int, bool) {
	switch v.kind {
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case KindNumber:
		if v.num > 0 {
			return 1, true
		}
		return 0, true
	case KindString:
		n, ok := stockFlagVocabulary[strings.ToLower(strings.TrimSpace(v.str))]
		return n, ok
	}
	return 0, false
}

// SKU 原始 SKU（去空白），未找到返回空串
func SKU(item Value) string {
	return strings.TrimSpace(Text(item, skuKeys...))
}

// Text 返回第一个非空标量字段
func Text(item Value, keys ...string) string {
	for _, key := range keys {
		v, ok := item.Lookup(key)
		if !ok {
			continue
		}
		if s := strings.TrimSpace(v.Text()); s != "" {
			return s
		}
	}
	return ""
}

func numberAt(item Value, path string) (float64, bool) {
	v, ok := item.Lookup(path)
	if !ok {
		return 0, false
	}
	return v.Float()
}

func nonNegative(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}

func toStock(f float64) int {
	if f <= 0 {
		return 0
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Floor(f))
}
