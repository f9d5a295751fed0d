package model

import (
	"time"
)

// Store 表示一个实体门店。
//
// 门店在第一次被抓取时惰性创建，(name, city) 唯一，此后不再更新或删除。
type Store struct {
	ID    uint   `gorm:"primaryKey"`                                                 // 内部门店 ID
	Name  string `gorm:"type:varchar(100);uniqueIndex:idx_store_name_city;not null"` // 门店名称
	City  string `gorm:"type:varchar(100);uniqueIndex:idx_store_name_city;not null"` // 城市
	State string `gorm:"type:varchar(8)"`                                            // 州（缩写）

	Products []Product `gorm:"foreignKey:StoreID"`
}

// GPU 表示一种显卡产品型号（跨门店的产品身份）。
//
// FullName 是抓取到的原始商品名，作为自然键（型号解析是启发式的，不可靠），
// Brand/Manufacturer/ModelName 是尽力解析的结果，允许被后续更可信的解析覆盖，
// 但绝不会从已知值回退为 "Unknown"。
type GPU struct {
	ID           uint   `gorm:"primaryKey"`
	Brand        string `gorm:"type:varchar(100)"`                      // 品牌（如 MSI、ASUS）
	Manufacturer string `gorm:"type:varchar(32)"`                       // 芯片厂商: NVIDIA / AMD / Intel / Unknown
	ModelName    string `gorm:"type:varchar(100)"`                      // 解析出的型号（如 "GeForce RTX 5070 Ti"）
	FullName     string `gorm:"type:varchar(191);uniqueIndex;not null"` // 原始商品全名（唯一索引）

	Products []Product `gorm:"foreignKey:GpuID"`
}

// Product 表示某个显卡在某家门店的一个具体在售条目。
//
// (SKU, StoreID) 唯一：同一个 SKU 在两家门店各有一行，从而各自拥有独立的价格历史。
// URL 与图片每次抓取无条件覆盖（freshest wins）；SKU/门店/GPU 关联一经创建不可变。
type Product struct {
	ID               uint   `gorm:"primaryKey"`
	StoreID          uint   `gorm:"uniqueIndex:idx_product_sku_store;not null"`
	GpuID            uint   `gorm:"not null"`
	SKU              string `gorm:"column:sku;type:varchar(32);uniqueIndex:idx_product_sku_store;not null"` // 零售商 SKU 编码
	ProductURL       string `gorm:"type:varchar(512)"` // 商品详情页链接
	LastSeenImageURL string `gorm:"type:varchar(512)"` // 最近一次看到的商品图链接

	Store Store `gorm:"foreignKey:StoreID"`
	Gpu   GPU   `gorm:"foreignKey:GpuID"`
}

// PriceObservation 是价格/库存时间序列中的一个不可变观测点。
//
// 只追加，从不更新或删除。"当前价格" 永远是按 ID 取最大值推导出的视图，
// 不是任何存储字段。重复的相同观测是有意保留的（序列本身承载轮询节奏）。
type PriceObservation struct {
	ID          uint      `gorm:"primaryKey"`
	ProductID   uint      `gorm:"index;not null"`
	Price       float64   `gorm:"type:decimal(10,2);not null"` // 观测到的价格（美元）
	StockStatus string    `gorm:"type:varchar(64)"`            // 原始库存状态文本（如 "25+ IN STOCK"）
	ObservedAt  time.Time `gorm:"autoCreateTime"`              // 观测时间

	Product Product `gorm:"foreignKey:ProductID"`
}
