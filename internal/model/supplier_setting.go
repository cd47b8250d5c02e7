package model

import "gorm.io/datatypes"

// SupplierSettingID 配置只有一行
const SupplierSettingID int64 = 1

// SupplierSetting 供应商接入与定价配置
type SupplierSetting struct {
	BaseModel

	// --- 接口 ---
	APIBase     string `gorm:"size:255;comment:API 根地址(https)"`
	Endpoint    string `gorm:"size:512;comment:Feed 相对路径"`
	Username    string `gorm:"size:255"`
	PasswordEnc string `gorm:"type:text;comment:AES-GCM 加密后的密码"`

	// --- 定价 ---
	VatPercent    float64 `gorm:"default:0"`
	PaypalPercent float64 `gorm:"default:0"`
	PaypalFixed   float64 `gorm:"default:0"`
	ProfitPercent float64 `gorm:"default:0"`

	// --- 字段路径覆盖 ---
	StockFieldPath string `gorm:"size:255"`
	PriceFieldKey  string `gorm:"size:255"`

	// --- 运费表 [{min,max,cost}] ---
	ShippingTable datatypes.JSON
}

func (SupplierSetting) TableName() string {
	return "supplier_settings"
}
