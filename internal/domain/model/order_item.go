package model

import "time"

// 注文明細。届け先ごとに別の行になる
type OrderItem struct {
	ID      int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID int64 `gorm:"not null;index" json:"order_id"`

	ProductCode         string `gorm:"type:varchar(64);not null" json:"product_code"`
	ProductNameSnapshot string `gorm:"type:varchar(255);not null" json:"name"`
	UnitPriceCents      int64  `gorm:"not null" json:"unit_price"`
	Quantity            int64  `gorm:"not null" json:"quantity"`
	PriceCents          int64  `gorm:"not null" json:"price"`

	Recipient    Recipient `gorm:"embedded;embeddedPrefix:recipient_" json:"recipient"`
	DeliveryDate time.Time `gorm:"type:date;not null" json:"delivery_date"`
	CardMessage  string    `gorm:"type:varchar(500)" json:"card_message"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}
