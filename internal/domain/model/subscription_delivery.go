package model

import "time"

type DeliveryStatus string

const (
	DeliveryScheduled  DeliveryStatus = "scheduled"
	DeliveryProcessing DeliveryStatus = "processing"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliverySkipped    DeliveryStatus = "skipped"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliveryCancelled  DeliveryStatus = "cancelled"
)

// scheduledには戻さない。failed→processingは再試行、failed→skippedはサイクル放棄
var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryScheduled:  {DeliveryProcessing, DeliverySkipped, DeliveryCancelled},
	DeliveryProcessing: {DeliveryDelivered, DeliveryFailed},
	DeliveryFailed:     {DeliveryProcessing, DeliverySkipped},
}

func (s DeliveryStatus) CanTransitionTo(to DeliveryStatus) bool {
	for _, next := range deliveryTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// まだ終わっていないサイクル（1定期便につき1つだけ）
func (s DeliveryStatus) IsPending() bool {
	return s == DeliveryScheduled || s == DeliveryProcessing || s == DeliveryFailed
}

// 1サイクル分の配達
type SubscriptionDelivery struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	SubscriptionID int64          `gorm:"not null;index" json:"subscription_id"`
	ScheduledDate  time.Time      `gorm:"type:date;not null" json:"scheduled_date"`
	Status         DeliveryStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	//直近の試行で作った注文
	OrderID  *int64 `json:"order_id"`
	Attempts int    `gorm:"not null;default:0" json:"attempts"`

	//利用者が再試行したときの Attempts（ここから数え直す）
	RetryBase int `gorm:"not null;default:0" json:"-"`

	LastError string `gorm:"type:varchar(255)" json:"last_error,omitempty"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// 再試行の残り回数を使い切ったか
func (d SubscriptionDelivery) RetriesExhausted(maxAttempts int) bool {
	return d.Attempts-d.RetryBase >= maxAttempts
}
