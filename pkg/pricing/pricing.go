package pricing

import (
	"github.com/shopspring/decimal"
)

// ShippingBand 重量区间运费
type ShippingBand struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Cost float64 `json:"cost"`
}

// Fees 定价参数，百分比在保存设置时已限制在 [0,100]
type Fees struct {
	VatPercent    float64
	PaypalPercent float64
	PaypalFixed   float64
	ProfitPercent float64
	ShippingTable []ShippingBand
}

var hundred = decimal.NewFromInt(100)

// ShippingForWeight 按存储顺序取第一个 min <= weight <= max 的区间
// 没有匹配时使用最后一个区间的运费，空表运费为 0
func ShippingForWeight(weight float64, table []ShippingBand) float64 {
	cost, _ := shippingForWeight(weight, table)
	return cost
}

// Overweight 重量超出所有区间（将按最后一个区间计费）
func Overweight(weight float64, table []ShippingBand) bool {
	_, matched := shippingForWeight(weight, table)
	return len(table) > 0 && !matched
}

func shippingForWeight(weight float64, table []ShippingBand) (float64, bool) {
	if len(table) == 0 {
		return 0, false
	}
	for _, band := range table {
		if band.Min <= weight && weight <= band.Max {
			return band.Cost, true
		}
	}
	return table[len(table)-1].Cost, false
}

// Price 由成本与重量推导售价
//
//	base     = cost + shipping
//	vat      = base * vat%
//	fee      = fixed + base * paypal%
//	subtotal = base + vat + fee
//	final    = max(0, round(subtotal * (1 + profit%), 2))
func Price(cost, weight float64, fees Fees) float64 {
	base := decimal.NewFromFloat(cost).
		Add(decimal.NewFromFloat(ShippingForWeight(weight, fees.ShippingTable)))

	vat := base.Mul(percent(fees.VatPercent))
	fee := decimal.NewFromFloat(fees.PaypalFixed).Add(base.Mul(percent(fees.PaypalPercent)))
	subtotal := base.Add(vat).Add(fee)

	final := subtotal.Mul(decimal.NewFromInt(1).Add(percent(fees.ProfitPercent))).Round(2)
	if final.IsNegative() {
		return 0
	}
	return final.InexactFloat64()
}

func percent(p float64) decimal.Decimal {
	return decimal.NewFromFloat(p).Div(hundred)
}
