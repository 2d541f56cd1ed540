package model

import "time"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// 許可する遷移。ここに無いものは全部NG（confirmed/deliveredから戻すことはない）
// processing は課金済みなので取り消さない。課金失敗の取り消しは pending のうちに行う
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusConfirmed},
	OrderStatusConfirmed:  {OrderStatusDelivered},
}

func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

func (s OrderStatus) String() string {
	return string(s)
}

// 注文が止まった理由（リプレイ時に同じエラーを返すために保存）
type FailureCode string

const (
	FailureNone               FailureCode = ""
	FailurePaymentDeclined    FailureCode = "payment_declined"
	FailurePaymentUnavailable FailureCode = "payment_unavailable"
	FailureAbandoned          FailureCode = "abandoned"
)

// 手動対応が必要な理由
type ReconciliationReason string

const (
	ReconcileNone                ReconciliationReason = ""
	ReconcileChargeUnknown       ReconciliationReason = "charge_outcome_unknown"
	ReconcileFulfillmentRejected ReconciliationReason = "fulfillment_rejected"
	ReconcileRetriesExhausted    ReconciliationReason = "fulfillment_retries_exhausted"
	ReconcileInconsistent        ReconciliationReason = "inconsistent"
)

type Order struct {
	ID     int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID *int64 `gorm:"index" json:"user_id,omitempty"`

	//定期便から作られた注文ならそのサイクル
	SubscriptionDeliveryID *int64 `gorm:"index" json:"subscription_delivery_id,omitempty"`

	Status    OrderStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	Processor Processor   `gorm:"type:varchar(20);not null" json:"processor"`

	//金額はすべてセント
	SubtotalCents    int64 `gorm:"not null" json:"subtotal"`
	DeliveryFeeCents int64 `gorm:"not null" json:"delivery_fee"`
	TaxCents         int64 `gorm:"not null" json:"tax"`
	TotalCents       int64 `gorm:"not null" json:"total"`

	Sender  Contact       `gorm:"embedded;embeddedPrefix:sender_" json:"sender"`
	Billing PostalAddress `gorm:"embedded;embeddedPrefix:billing_" json:"billing"`

	//フルフィルメント受付後に埋まる
	ExternalConfirmationID *string `gorm:"type:varchar(100);uniqueIndex" json:"external_confirmation_id"`

	ChargeID            *string    `gorm:"type:varchar(100)" json:"-"`
	ChargeAttemptedAt   *time.Time `json:"-"`
	FulfillmentAttempts int        `gorm:"not null;default:0" json:"fulfillment_attempts"`
	NextFulfillmentAt   *time.Time `gorm:"index" json:"-"`

	NeedsReconciliation  bool                 `gorm:"not null;default:false;index" json:"needs_reconciliation"`
	ReconciliationReason ReconciliationReason `gorm:"type:varchar(50)" json:"reconciliation_reason,omitempty"`
	FailureCode          FailureCode          `gorm:"type:varchar(50)" json:"-"`

	IdempotencyKey     string `gorm:"type:varchar(255);not null;uniqueIndex" json:"-"`
	RequestFingerprint string `gorm:"type:varchar(64);not null" json:"-"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// total = subtotal + fee + tax が崩れていないか
func (o Order) TotalConsistent() bool {
	return o.TotalCents == o.SubtotalCents+o.DeliveryFeeCents+o.TaxCents
}

// 課金を投げたが結果が分からないまま止まっている
func (o Order) ChargeOutcomeUnknown() bool {
	return o.Status == OrderStatusPending && o.NeedsReconciliation && o.ReconciliationReason == ReconcileChargeUnknown
}

func (o Order) IsConfirmed() bool {
	return o.ExternalConfirmationID != nil && *o.ExternalConfirmationID != ""
}
