package model

import "time"

type SubscriptionTier string

const (
	TierClassic SubscriptionTier = "classic"
	TierDeluxe  SubscriptionTier = "deluxe"
	TierLuxe    SubscriptionTier = "luxe"
)

func (t SubscriptionTier) Valid() bool {
	return t == TierClassic || t == TierDeluxe || t == TierLuxe
}

// カタログ上の定期便SKU
func (t SubscriptionTier) ProductSKU() string {
	return "SUB-" + string(t)
}

type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	return f == FrequencyWeekly || f == FrequencyBiweekly || f == FrequencyMonthly
}

// 前回サイクルの日付に1間隔足す（今日基準にはしない）。
// 月次は anchorDay に揃え、月末を超える場合は月末に丸める。
func (f Frequency) Next(prev time.Time, anchorDay int) time.Time {
	prev = DateOnly(prev)
	switch f {
	case FrequencyWeekly:
		return prev.AddDate(0, 0, 7)
	case FrequencyBiweekly:
		return prev.AddDate(0, 0, 14)
	default:
		if anchorDay < 1 {
			anchorDay = prev.Day()
		}
		first := time.Date(prev.Year(), prev.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		last := first.AddDate(0, 1, -1).Day()
		if anchorDay > last {
			anchorDay = last
		}
		return time.Date(first.Year(), first.Month(), anchorDay, 0, 0, 0, 0, time.UTC)
	}
}

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPaused    SubscriptionStatus = "paused"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
)

type Subscription struct {
	ID     int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID int64 `gorm:"not null;index" json:"user_id"`

	Tier      SubscriptionTier   `gorm:"type:varchar(20);not null" json:"tier"`
	Frequency Frequency          `gorm:"type:varchar(20);not null" json:"frequency"`
	Status    SubscriptionStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	ProductSKU string `gorm:"column:product_sku;type:varchar(64);not null" json:"product_sku"`
	PriceCents int64  `gorm:"not null" json:"price"`

	//一時停止・解約中はnil
	NextDeliveryDate *time.Time `gorm:"type:date" json:"next_delivery_date"`
	//月次の基準日
	AnchorDay int `gorm:"not null" json:"-"`
	//一時停止したときのサイクル日（再開の起点）
	PausedFrom *time.Time `gorm:"type:date" json:"-"`

	//注文者（請求先は決済代行側の顧客に紐づく）
	Sender Contact `gorm:"embedded;embeddedPrefix:sender_" json:"sender"`

	AddressID   int64  `gorm:"not null" json:"address_id"`
	CardMessage string `gorm:"type:varchar(500)" json:"card_message"`

	//決済代行側の顧客参照（カード情報ではない）
	Processor   Processor `gorm:"type:varchar(20);not null" json:"processor"`
	CustomerRef string    `gorm:"type:varchar(255);not null" json:"-"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
