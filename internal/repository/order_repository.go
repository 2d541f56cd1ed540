package repository

import (
	"context"
	"time"

	"florist/internal/domain/model"
)

// statusと一緒に変える列。nilは変更しない
type OrderChanges struct {
	ChargeID               *string
	ChargeAttemptedAt      *time.Time
	ExternalConfirmationID *string
	FulfillmentAttempts    *int
	NextFulfillmentAt      *time.Time
	ClearNextFulfillment   bool
	NeedsReconciliation    *bool
	ReconciliationReason   *model.ReconciliationReason
	FailureCode            *model.FailureCode
}

// gormのUpdatesに渡す列
func (c OrderChanges) Columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if c.ChargeID != nil {
		cols["charge_id"] = *c.ChargeID
	}
	if c.ChargeAttemptedAt != nil {
		cols["charge_attempted_at"] = *c.ChargeAttemptedAt
	}
	if c.ExternalConfirmationID != nil {
		cols["external_confirmation_id"] = *c.ExternalConfirmationID
	}
	if c.FulfillmentAttempts != nil {
		cols["fulfillment_attempts"] = *c.FulfillmentAttempts
	}
	if c.NextFulfillmentAt != nil {
		cols["next_fulfillment_at"] = *c.NextFulfillmentAt
	}
	if c.ClearNextFulfillment {
		cols["next_fulfillment_at"] = nil
	}
	if c.NeedsReconciliation != nil {
		cols["needs_reconciliation"] = *c.NeedsReconciliation
	}
	if c.ReconciliationReason != nil {
		cols["reconciliation_reason"] = string(*c.ReconciliationReason)
	}
	if c.FailureCode != nil {
		cols["failure_code"] = string(*c.FailureCode)
	}
	return cols
}

// メモリ上の注文に同じ変更を当てる
func (c OrderChanges) Apply(o *model.Order) {
	if c.ChargeID != nil {
		v := *c.ChargeID
		o.ChargeID = &v
	}
	if c.ChargeAttemptedAt != nil {
		v := *c.ChargeAttemptedAt
		o.ChargeAttemptedAt = &v
	}
	if c.ExternalConfirmationID != nil {
		v := *c.ExternalConfirmationID
		o.ExternalConfirmationID = &v
	}
	if c.FulfillmentAttempts != nil {
		o.FulfillmentAttempts = *c.FulfillmentAttempts
	}
	if c.NextFulfillmentAt != nil {
		v := *c.NextFulfillmentAt
		o.NextFulfillmentAt = &v
	}
	if c.ClearNextFulfillment {
		o.NextFulfillmentAt = nil
	}
	if c.NeedsReconciliation != nil {
		o.NeedsReconciliation = *c.NeedsReconciliation
	}
	if c.ReconciliationReason != nil {
		o.ReconciliationReason = *c.ReconciliationReason
	}
	if c.FailureCode != nil {
		o.FailureCode = *c.FailureCode
	}
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	FindByConfirmationID(ctx context.Context, confirmationID string) (model.Order, error)
	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error)

	//一意制約違反はErrDuplicateKey
	Create(ctx context.Context, order model.Order) (int64, error)

	//検索（同じキーなら同じ結果を返す）
	FindByIdempotencyKey(ctx context.Context, key string) (model.Order, bool, error)

	// status = from のときだけ to にする。0件なら ErrStatusConflict。
	// from == to なら状態はそのままで列だけ更新。
	Transition(ctx context.Context, orderID int64, from, to model.OrderStatus, changes OrderChanges) error

	// fulfillment_attempts が expected のときだけ+1して lease を取る
	ClaimFulfillmentAttempt(ctx context.Context, orderID int64, expectedAttempts int, leaseUntil time.Time) error

	//フルフィルメント再送が必要なもの
	ListFulfillmentDue(ctx context.Context, now time.Time, limit int) ([]model.Order, error)
	//配達待ち（confirmed）
	ListAwaitingDelivery(ctx context.Context, limit int) ([]model.Order, error)
	//課金前に放置されたpending
	ListAbandonedPending(ctx context.Context, createdBefore time.Time, limit int) ([]model.Order, error)
	//手動対応キュー
	ListNeedsReconciliation(ctx context.Context, page int, limit int) ([]model.Order, int64, error)
}
