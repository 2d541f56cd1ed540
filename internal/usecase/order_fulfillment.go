package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"florist/internal/domain/model"
	repo "florist/internal/repository"
)

// フルフィルメントへ1回送る。結果は注文の状態に反映して返す（エラーは返さない）
func (u *OrderUsecase) submitFulfillment(ctx context.Context, o model.Order, items []model.OrderItem) model.Order {
	ctx = context.WithoutCancel(ctx)
	if o.Status != model.OrderStatusProcessing || o.IsConfirmed() || o.NeedsReconciliation {
		return o
	}

	//送信権を取る（同時に別のワーカーが送らないように）
	now := u.clock.Now()
	lease := now.Add(2 * u.policy.UpstreamTimeout)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		return r.Orders().ClaimFulfillmentAttempt(ctx, o.ID, o.FulfillmentAttempts, lease)
	})
	if err != nil {
		if !errors.Is(err, repo.ErrStatusConflict) {
			u.log.ErrorContext(ctx, "claim fulfillment attempt failed", slog.Int64("order_id", o.ID), slog.Any("error", err))
		}
		return o
	}
	o.FulfillmentAttempts++
	o.NextFulfillmentAt = &lease

	callCtx, cancel := context.WithTimeout(ctx, u.policy.UpstreamTimeout)
	confirmationID, err := u.network.SubmitOrder(callCtx, FulfillmentOrder{
		Reference: fmt.Sprintf("order-%d", o.ID),
		Sender:    o.Sender,
		Items:     items,
		Totals: model.OrderTotals{
			SubtotalCents: o.SubtotalCents,
			DeliveryCents: o.DeliveryFeeCents,
			TaxCents:      o.TaxCents,
			TotalCents:    o.TotalCents,
		},
	})
	cancel()

	switch {
	case err == nil && confirmationID != "":
		return u.confirm(ctx, o, confirmationID)

	case errors.Is(err, ErrFulfillmentRejected):
		u.log.WarnContext(ctx, "fulfillment rejected", slog.Int64("order_id", o.ID), slog.Any("error", err))
		return u.flag(ctx, o, model.ReconcileFulfillmentRejected)

	default:
		if err == nil {
			err = errors.New("empty confirmation id")
		}
		u.log.WarnContext(ctx, "fulfillment submit failed",
			slog.Int64("order_id", o.ID), slog.Int("attempt", o.FulfillmentAttempts), slog.Any("error", err))
		if o.FulfillmentAttempts >= u.policy.FulfillmentMaxAttempts {
			return u.flag(ctx, o, model.ReconcileRetriesExhausted)
		}
		next := u.clock.Now().Add(u.policy.FulfillmentRetryBackoff * time.Duration(o.FulfillmentAttempts))
		if err := u.transition(ctx, &o, model.OrderStatusProcessing, repo.OrderChanges{NextFulfillmentAt: &next}); err != nil {
			u.log.ErrorContext(ctx, "schedule fulfillment retry failed", slog.Int64("order_id", o.ID), slog.Any("error", err))
		}
		return o
	}
}

// 受付済み → confirmed。定期便のサイクルもここで完了にする
func (u *OrderUsecase) confirm(ctx context.Context, o model.Order, confirmationID string) model.Order {
	changes := repo.OrderChanges{ExternalConfirmationID: &confirmationID, ClearNextFulfillment: true}
	now := u.clock.Now()
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if err := r.Orders().Transition(ctx, o.ID, model.OrderStatusProcessing, model.OrderStatusConfirmed, changes); err != nil {
			return err
		}
		confirmed := o
		confirmed.Status = model.OrderStatusConfirmed
		changes.Apply(&confirmed)
		if err := appendOrderEvent(ctx, r, u.ids, confirmed, model.EventOrderConfirmed, now); err != nil {
			return err
		}
		if o.SubscriptionDeliveryID != nil {
			return completeCycle(ctx, r, *o.SubscriptionDeliveryID, o.ID)
		}
		return nil
	})
	if err != nil {
		//先方は受け付けているので、こちらの記録が残らないと二重発注になる
		u.log.ErrorContext(ctx, "record fulfillment confirmation failed",
			slog.Int64("order_id", o.ID), slog.String("confirmation_id", confirmationID), slog.Any("error", err))
		return u.flag(ctx, o, model.ReconcileInconsistent)
	}
	o.Status = model.OrderStatusConfirmed
	changes.Apply(&o)
	u.log.InfoContext(ctx, "order confirmed", slog.Int64("order_id", o.ID), slog.String("confirmation_id", confirmationID))
	return o
}

// 手動対応キューへ。状態はそのまま（返金も取消もしない）
func (u *OrderUsecase) flag(ctx context.Context, o model.Order, reason model.ReconciliationReason) model.Order {
	flagged := true
	changes := repo.OrderChanges{NeedsReconciliation: &flagged, ReconciliationReason: &reason, ClearNextFulfillment: true}
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if err := r.Orders().Transition(ctx, o.ID, o.Status, o.Status, changes); err != nil {
			return err
		}
		after := o
		changes.Apply(&after)
		return appendOrderEvent(ctx, r, u.ids, after, model.EventOrderNeedsReconciliation, u.clock.Now())
	})
	if err != nil {
		u.log.ErrorContext(ctx, "flag order for reconciliation failed",
			slog.Int64("order_id", o.ID), slog.String("reason", string(reason)), slog.Any("error", err))
		return o
	}
	changes.Apply(&o)
	u.log.WarnContext(ctx, "order needs reconciliation", slog.Int64("order_id", o.ID), slog.String("reason", string(reason)))
	return o
}

// 期日が来た再送をまとめて処理。処理した件数を返す
func (u *OrderUsecase) RetryDueFulfillments(ctx context.Context) (int, error) {
	var orders []model.Order
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		orders, err = r.Orders().ListFulfillmentDue(ctx, u.clock.Now(), u.policy.BatchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, o := range orders {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if _, err := u.RetryFulfillment(ctx, o.ID); err != nil {
			u.log.WarnContext(ctx, "fulfillment retry failed", slog.Int64("order_id", o.ID), slog.Any("error", err))
			continue
		}
		n++
	}
	return n, nil
}

// 1件だけ再送（ワーカーと管理画面から）
func (u *OrderUsecase) RetryFulfillment(ctx context.Context, orderID int64) (OrderOutput, error) {
	var (
		o     model.Order
		items []model.OrderItem
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		o, err = r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		items, err = r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}
	if o.Status != model.OrderStatusProcessing || o.IsConfirmed() {
		return OrderOutput{}, NewHTTPError(http.StatusConflict, "order is not awaiting fulfillment")
	}

	o = u.submitFulfillment(ctx, o, items)
	return toOrderOutput(o, items), nil
}

// 配達完了の通知（webhookとポーリング共通）。同じ通知が何度来ても結果は同じ
func (u *OrderUsecase) ApplyDeliverySignal(ctx context.Context, confirmationID string) error {
	if confirmationID == "" {
		return InvalidInput("missing confirmation id")
	}
	now := u.clock.Now()
	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByConfirmationID(ctx, confirmationID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if o.Status == model.OrderStatusDelivered {
			return nil
		}
		if o.Status != model.OrderStatusConfirmed {
			return NewHTTPError(http.StatusConflict, "order is not confirmed")
		}
		err = r.Orders().Transition(ctx, o.ID, model.OrderStatusConfirmed, model.OrderStatusDelivered, repo.OrderChanges{})
		if errors.Is(err, repo.ErrStatusConflict) {
			//同時に来た通知に負けた
			return nil
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		o.Status = model.OrderStatusDelivered
		return appendOrderEvent(ctx, r, u.ids, o, model.EventOrderDelivered, now)
	})
}

// confirmed の注文を先方に問い合わせて配達済みを反映する
func (u *OrderUsecase) PollDeliveries(ctx context.Context) (int, error) {
	var orders []model.Order
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		orders, err = r.Orders().ListAwaitingDelivery(ctx, u.policy.BatchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, o := range orders {
		if !o.IsConfirmed() {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, u.policy.UpstreamTimeout)
		status, err := u.network.OrderStatus(callCtx, *o.ExternalConfirmationID)
		cancel()
		if err != nil {
			u.log.WarnContext(ctx, "fulfillment status poll failed", slog.Int64("order_id", o.ID), slog.Any("error", err))
			continue
		}
		if status != FulfillmentDelivered {
			continue
		}
		if err := u.ApplyDeliverySignal(ctx, *o.ExternalConfirmationID); err != nil {
			u.log.WarnContext(ctx, "apply delivered status failed", slog.Int64("order_id", o.ID), slog.Any("error", err))
			continue
		}
		n++
	}
	return n, nil
}

// 課金に進まなかった古い pending を取り消す
func (u *OrderUsecase) CancelAbandonedPending(ctx context.Context) (int, error) {
	cutoff := u.clock.Now().Add(-u.policy.PendingOrderTTL)
	var orders []model.Order
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		orders, err = r.Orders().ListAbandonedPending(ctx, cutoff, u.policy.BatchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	n := 0
	code := model.FailureAbandoned
	for _, o := range orders {
		//課金を試した注文は触らない
		if o.ChargeAttemptedAt != nil || o.NeedsReconciliation {
			continue
		}
		err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			return r.Orders().Transition(ctx, o.ID, model.OrderStatusPending, model.OrderStatusCancelled, repo.OrderChanges{FailureCode: &code})
		})
		if errors.Is(err, repo.ErrStatusConflict) {
			continue
		}
		if err != nil {
			return n, err
		}
		u.log.InfoContext(ctx, "abandoned pending order cancelled", slog.Int64("order_id", o.ID))
		n++
	}
	return n, nil
}
