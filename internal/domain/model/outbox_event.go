package model

import "time"

type EventType string

const (
	EventOrderConfirmed           EventType = "order.confirmed"
	EventOrderDelivered           EventType = "order.delivered"
	EventOrderNeedsReconciliation EventType = "order.reconciliation_required"
	EventSubscriptionPastDue      EventType = "subscription.past_due"
)

// 状態変更と同じTxで書き、pollerがKafkaへ流す
type OutboxEvent struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID       string     `gorm:"type:uuid;not null;uniqueIndex" json:"event_id"`
	AggregateType string     `gorm:"type:varchar(50);not null" json:"aggregate_type"`
	AggregateID   int64      `gorm:"not null" json:"aggregate_id"`
	EventType     EventType  `gorm:"type:varchar(100);not null" json:"event_type"`
	Payload       string     `gorm:"type:text;not null" json:"payload"`
	CreatedAt     time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
	PublishedAt   *time.Time `gorm:"index" json:"published_at"`
}
