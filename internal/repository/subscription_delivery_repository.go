package repository

import (
	"context"
	"time"

	"florist/internal/domain/model"
)

type DeliveryChanges struct {
	OrderID   *int64
	Attempts  *int
	RetryBase *int
	LastError *string
}

func (c DeliveryChanges) Columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if c.OrderID != nil {
		cols["order_id"] = *c.OrderID
	}
	if c.Attempts != nil {
		cols["attempts"] = *c.Attempts
	}
	if c.RetryBase != nil {
		cols["retry_base"] = *c.RetryBase
	}
	if c.LastError != nil {
		cols["last_error"] = *c.LastError
	}
	return cols
}

func (c DeliveryChanges) Apply(d *model.SubscriptionDelivery) {
	if c.OrderID != nil {
		v := *c.OrderID
		d.OrderID = &v
	}
	if c.Attempts != nil {
		d.Attempts = *c.Attempts
	}
	if c.RetryBase != nil {
		d.RetryBase = *c.RetryBase
	}
	if c.LastError != nil {
		d.LastError = *c.LastError
	}
}

type SubscriptionDeliveryRepository interface {
	//未完了サイクルが既にあればErrDuplicateKey
	Create(ctx context.Context, d model.SubscriptionDelivery) (int64, error)
	FindByID(ctx context.Context, deliveryID int64) (model.SubscriptionDelivery, error)
	FindPendingBySubscriptionID(ctx context.Context, subscriptionID int64) (model.SubscriptionDelivery, bool, error)
	FindByOrderID(ctx context.Context, orderID int64) (model.SubscriptionDelivery, bool, error)
	ListBySubscriptionID(ctx context.Context, subscriptionID int64) ([]model.SubscriptionDelivery, error)

	// status = from のときだけ to にする。0件なら ErrStatusConflict
	Transition(ctx context.Context, deliveryID int64, from, to model.DeliveryStatus, changes DeliveryChanges) error

	//期日が来たscheduledと、retryBefore より前に失敗して再試行できるfailed（どちらも定期便がactiveのもの）
	ListDue(ctx context.Context, today time.Time, retryBefore time.Time, maxAttempts int, limit int) ([]model.SubscriptionDelivery, error)
	//processingのまま止まったもの
	ListStuckProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]model.SubscriptionDelivery, error)
}
