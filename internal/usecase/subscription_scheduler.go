package usecase

import (
	"context"
	"errors"
	"log/slog"

	"florist/internal/domain/model"
	repo "florist/internal/repository"
)

// 1回のTickで処理した件数
type TickReport struct {
	AbandonedOrders    int `json:"abandoned_orders"`
	RecoveredCycles    int `json:"recovered_cycles"`
	Rescheduled        int `json:"rescheduled"`
	CyclesRun          int `json:"cycles_run"`
	FulfillmentRetried int `json:"fulfillment_retried"`
	Delivered          int `json:"delivered"`
}

var errSkipCycle = errors.New("cycle not runnable")

// 定期実行の入口。各ステップの失敗はログに出して次へ進む
func (u *SubscriptionUsecase) Tick(ctx context.Context) (TickReport, error) {
	var (
		report TickReport
		errs   []error
	)
	step := func(name string, fn func() (int, error), dst *int) {
		if ctx.Err() != nil {
			return
		}
		n, err := fn()
		*dst = n
		if err != nil {
			u.log.ErrorContext(ctx, "scheduler step failed", slog.String("step", name), slog.Any("error", err))
			errs = append(errs, err)
		}
	}

	step("cancel_abandoned", func() (int, error) { return u.orders.CancelAbandonedPending(ctx) }, &report.AbandonedOrders)
	step("recover_stuck", func() (int, error) { return u.recoverStuckCycles(ctx) }, &report.RecoveredCycles)
	step("reschedule", func() (int, error) { return u.rescheduleOrphans(ctx) }, &report.Rescheduled)
	step("run_due", func() (int, error) { return u.runDueCycles(ctx) }, &report.CyclesRun)
	step("retry_fulfillment", func() (int, error) { return u.orders.RetryDueFulfillments(ctx) }, &report.FulfillmentRetried)
	step("poll_delivered", func() (int, error) { return u.orders.PollDeliveries(ctx) }, &report.Delivered)

	u.log.InfoContext(ctx, "scheduler tick",
		slog.Int("abandoned_orders", report.AbandonedOrders),
		slog.Int("recovered_cycles", report.RecoveredCycles),
		slog.Int("rescheduled", report.Rescheduled),
		slog.Int("cycles_run", report.CyclesRun),
		slog.Int("fulfillment_retried", report.FulfillmentRetried),
		slog.Int("delivered", report.Delivered))

	if ctx.Err() != nil {
		errs = append(errs, ctx.Err())
	}
	return report, errors.Join(errs...)
}

func (u *SubscriptionUsecase) runDueCycles(ctx context.Context) (int, error) {
	now := u.clock.Now()
	today := model.DateOnly(now)
	var due []model.SubscriptionDelivery
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		due, err = r.Deliveries().ListDue(ctx, today, now.Add(-u.policy.RetryBackoff), u.policy.MaxAttempts, u.policy.BatchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, d := range due {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		err := u.runCycle(ctx, d)
		if errors.Is(err, errSkipCycle) {
			continue
		}
		if err != nil {
			u.log.WarnContext(ctx, "subscription cycle failed", slog.Int64("delivery_id", d.ID), slog.Any("error", err))
		}
		n++
	}
	return n, nil
}

// scheduled / failed → processing にしてから注文を出す
func (u *SubscriptionUsecase) runCycle(ctx context.Context, d model.SubscriptionDelivery) error {
	var sub model.Subscription
	attempt := d.Attempts + 1
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		sub, err = r.Subscriptions().FindByID(ctx, d.SubscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != model.SubscriptionActive {
			return errSkipCycle
		}
		if d.Status == model.DeliveryFailed && d.RetriesExhausted(u.policy.MaxAttempts) {
			return errSkipCycle
		}
		err = r.Deliveries().Transition(ctx, d.ID, d.Status, model.DeliveryProcessing, repo.DeliveryChanges{Attempts: &attempt})
		if errors.Is(err, repo.ErrStatusConflict) {
			//別のTickが先に取った
			return errSkipCycle
		}
		return err
	})
	if err != nil {
		return err
	}
	d.Status = model.DeliveryProcessing
	d.Attempts = attempt
	return u.placeCycle(ctx, sub, d)
}

func (u *SubscriptionUsecase) placeCycle(ctx context.Context, sub model.Subscription, d model.SubscriptionDelivery) error {
	out, err := u.placeCycleOrder(ctx, sub, d)
	return u.settleCycle(ctx, sub, d, out, err)
}

func (u *SubscriptionUsecase) placeCycleOrder(ctx context.Context, sub model.Subscription, d model.SubscriptionDelivery) (OrderOutput, error) {
	addr, err := u.addresses.FindByID(ctx, sub.AddressID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return OrderOutput{}, InvalidInput("delivery address not found")
		}
		return OrderOutput{}, err
	}
	//再試行で日付が過ぎていたら今日届ける
	deliverOn := d.ScheduledDate
	if today := model.DateOnly(u.clock.Now()); deliverOn.Before(today) {
		deliverOn = today
	}
	//毎サイクル見積もりを取り直す
	quote, err := u.delivery.Quote(ctx, addr.Zip, deliverOn)
	if err != nil {
		return OrderOutput{}, err
	}
	return u.orders.PlaceSubscriptionOrder(ctx, sub, d, addr.ToRecipient(), quote)
}

// 注文の結果をサイクルに反映する。
// confirmed になった場合は注文側の確定処理でサイクルも完了済み
func (u *SubscriptionUsecase) settleCycle(ctx context.Context, sub model.Subscription, d model.SubscriptionDelivery, out OrderOutput, placeErr error) error {
	if placeErr == nil {
		if out.Status == string(model.OrderStatusProcessing) {
			orderID := out.ID
			err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
				return r.Deliveries().Transition(ctx, d.ID, model.DeliveryProcessing, model.DeliveryProcessing, repo.DeliveryChanges{OrderID: &orderID})
			})
			if err != nil && !errors.Is(err, repo.ErrStatusConflict) {
				return err
			}
		}
		u.log.InfoContext(ctx, "subscription cycle placed",
			slog.Int64("subscription_id", sub.ID), slog.Int64("delivery_id", d.ID),
			slog.Int64("order_id", out.ID), slog.String("order_status", out.Status))
		return nil
	}

	lastError := "internal"
	if de, ok := AsDomainError(placeErr); ok {
		lastError = string(de.Kind)
	}
	exhausted := d.RetriesExhausted(u.policy.MaxAttempts)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		err := r.Deliveries().Transition(ctx, d.ID, model.DeliveryProcessing, model.DeliveryFailed, repo.DeliveryChanges{LastError: &lastError})
		if err != nil {
			return err
		}
		if !exhausted {
			return nil
		}
		//試行を使い切った。日付は進めない
		status := model.SubscriptionPastDue
		if err := r.Subscriptions().UpdateIfStatus(ctx, sub.ID, model.SubscriptionActive, repo.SubscriptionChanges{Status: &status}); err != nil {
			if errors.Is(err, repo.ErrStatusConflict) {
				return nil
			}
			return err
		}
		return appendOutbox(ctx, r, u.ids, "subscription", sub.ID, model.EventSubscriptionPastDue, subscriptionEventPayload{
			SubscriptionID: sub.ID,
			DeliveryID:     d.ID,
			Status:         status,
			OccurredAt:     u.clock.Now(),
		})
	})
	if err != nil && !errors.Is(err, repo.ErrStatusConflict) {
		return err
	}
	u.log.WarnContext(ctx, "subscription cycle failed",
		slog.Int64("subscription_id", sub.ID), slog.Int64("delivery_id", d.ID),
		slog.Int("attempt", d.Attempts), slog.Bool("past_due", exhausted), slog.Any("error", placeErr))
	return nil
}

// processing のまま注文が紐づいていないサイクルを同じキーでやり直す
func (u *SubscriptionUsecase) recoverStuckCycles(ctx context.Context) (int, error) {
	cutoff := u.clock.Now().Add(-u.policy.StuckAfter)
	var stuck []model.SubscriptionDelivery
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		stuck, err = r.Deliveries().ListStuckProcessing(ctx, cutoff, u.policy.BatchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, d := range stuck {
		var sub model.Subscription
		err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			var err error
			sub, err = r.Subscriptions().FindByID(ctx, d.SubscriptionID)
			return err
		})
		if err != nil {
			u.log.WarnContext(ctx, "load subscription for stuck cycle failed", slog.Int64("delivery_id", d.ID), slog.Any("error", err))
			continue
		}
		u.log.WarnContext(ctx, "recovering stuck subscription cycle", slog.Int64("delivery_id", d.ID), slog.Int("attempt", d.Attempts))
		if err := u.placeCycle(ctx, sub, d); err != nil {
			u.log.WarnContext(ctx, "stuck cycle recovery failed", slog.Int64("delivery_id", d.ID), slog.Any("error", err))
			continue
		}
		n++
	}
	return n, nil
}

// active なのに次のサイクルが無いもの（完了処理の途中で落ちた等）を補う
func (u *SubscriptionUsecase) rescheduleOrphans(ctx context.Context) (int, error) {
	var subs []model.Subscription
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		subs, err = r.Subscriptions().ListActiveWithoutPendingDelivery(ctx, u.policy.BatchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, s := range subs {
		if err := u.Advance(ctx, s.ID); err != nil {
			u.log.WarnContext(ctx, "reschedule subscription failed", slog.Int64("subscription_id", s.ID), slog.Any("error", err))
			continue
		}
		n++
	}
	return n, nil
}
