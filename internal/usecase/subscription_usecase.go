package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"florist/internal/domain/model"
	repo "florist/internal/repository"
)

type SchedulerPolicy struct {
	//1サイクルの課金試行の上限（超えたら past_due）
	MaxAttempts int
	//failed を次に試すまでの間隔
	RetryBackoff time.Duration
	//processing のまま放置されたとみなす時間
	StuckAfter time.Duration
	BatchSize  int
}

func DefaultSchedulerPolicy() SchedulerPolicy {
	return SchedulerPolicy{MaxAttempts: 3, RetryBackoff: time.Hour, StuckAfter: 15 * time.Minute, BatchSize: 50}
}

// 定期便のスケジュール管理。サイクルの注文は OrderUsecase に任せる
type SubscriptionUsecase struct {
	tx        repo.TransactionManager
	addresses repo.AddressRepository
	products  repo.ProductRepository
	delivery  *DeliveryUsecase
	orders    *OrderUsecase
	gateway   PaymentGateway
	clock     Clock
	ids       IDGenerator
	log       *slog.Logger
	policy    SchedulerPolicy
}

func NewSubscriptionUsecase(
	tx repo.TransactionManager,
	addresses repo.AddressRepository,
	products repo.ProductRepository,
	delivery *DeliveryUsecase,
	orders *OrderUsecase,
	gateway PaymentGateway,
	clock Clock,
	ids IDGenerator,
	log *slog.Logger,
	policy SchedulerPolicy,
) *SubscriptionUsecase {
	return &SubscriptionUsecase{
		tx:        tx,
		addresses: addresses,
		products:  products,
		delivery:  delivery,
		orders:    orders,
		gateway:   gateway,
		clock:     clock,
		ids:       ids,
		log:       log,
		policy:    policy,
	}
}

type CreateSubscriptionInput struct {
	Tier              model.SubscriptionTier
	Frequency         model.Frequency
	AddressID         int64
	FirstDeliveryDate time.Time
	CardMessage       string
	Sender            model.Contact
	//決済代行側で作った顧客（カード情報はここには来ない）
	CustomerRef string
}

type DeliveryOutput struct {
	ID            int64  `json:"id"`
	ScheduledDate string `json:"scheduled_date"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	OrderID       *int64 `json:"order_id"`
	LastError     string `json:"last_error,omitempty"`
}

type SubscriptionOutput struct {
	ID               int64           `json:"id"`
	Tier             string          `json:"tier"`
	Frequency        string          `json:"frequency"`
	Status           string          `json:"status"`
	Price            int64           `json:"price"`
	NextDeliveryDate *string         `json:"next_delivery_date"`
	AddressID        int64           `json:"address_id"`
	CardMessage      string          `json:"card_message"`
	PendingDelivery  *DeliveryOutput `json:"pending_delivery"`
}

func (u *SubscriptionUsecase) Create(ctx context.Context, userID int64, in CreateSubscriptionInput) (SubscriptionOutput, error) {
	if userID <= 0 {
		return SubscriptionOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if !in.Tier.Valid() {
		return SubscriptionOutput{}, InvalidInput("invalid tier")
	}
	if !in.Frequency.Valid() {
		return SubscriptionOutput{}, InvalidInput("invalid frequency")
	}
	if in.AddressID <= 0 {
		return SubscriptionOutput{}, InvalidInput("invalid address_id")
	}
	if strings.TrimSpace(in.CustomerRef) == "" {
		return SubscriptionOutput{}, InvalidInput("missing customer_ref")
	}
	if missing := in.Sender.MissingFields("sender."); len(missing) > 0 {
		return SubscriptionOutput{}, InvalidInput("missing or invalid: " + strings.Join(missing, ", "))
	}
	if len(in.CardMessage) > 500 {
		return SubscriptionOutput{}, InvalidInput("card message too long")
	}
	first := model.DateOnly(in.FirstDeliveryDate)
	today := model.DateOnly(u.clock.Now())
	if in.FirstDeliveryDate.IsZero() || !first.After(today) {
		return SubscriptionOutput{}, InvalidInput("first delivery date must be in the future")
	}

	//住所の存在確認＋所有チェック
	addr, err := u.ownedAddress(ctx, userID, in.AddressID)
	if err != nil {
		return SubscriptionOutput{}, err
	}

	p, err := u.products.FindBySKU(ctx, in.Tier.ProductSKU())
	if errors.Is(err, repo.ErrNotFound) || (err == nil && !p.IsActive) {
		return SubscriptionOutput{}, InvalidInput("tier not available")
	}
	if err != nil {
		return SubscriptionOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	//初回が届けられる日か
	if _, err := u.delivery.Quote(ctx, addr.Zip, first); err != nil {
		return SubscriptionOutput{}, err
	}

	sub := model.Subscription{
		UserID:           userID,
		Tier:             in.Tier,
		Frequency:        in.Frequency,
		Status:           model.SubscriptionActive,
		ProductSKU:       p.SKU,
		PriceCents:       p.PriceCents,
		NextDeliveryDate: &first,
		AnchorDay:        first.Day(),
		Sender:           in.Sender,
		AddressID:        in.AddressID,
		CardMessage:      in.CardMessage,
		Processor:        u.gateway.Processor(),
		CustomerRef:      strings.TrimSpace(in.CustomerRef),
	}
	var d model.SubscriptionDelivery
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		id, err := r.Subscriptions().Create(ctx, sub)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		sub.ID = id
		d = model.SubscriptionDelivery{SubscriptionID: id, ScheduledDate: first, Status: model.DeliveryScheduled}
		d.ID, err = r.Deliveries().Create(ctx, d)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		return nil
	})
	if err != nil {
		return SubscriptionOutput{}, err
	}
	u.log.InfoContext(ctx, "subscription created", slog.Int64("subscription_id", sub.ID), slog.String("tier", string(sub.Tier)))
	return toSubscriptionOutput(sub, &d), nil
}

func (u *SubscriptionUsecase) List(ctx context.Context, userID int64) ([]SubscriptionOutput, error) {
	if userID <= 0 {
		return []SubscriptionOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	var outs []SubscriptionOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		subs, err := r.Subscriptions().ListByUserID(ctx, userID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		outs = make([]SubscriptionOutput, 0, len(subs))
		for _, s := range subs {
			d, found, err := r.Deliveries().FindPendingBySubscriptionID(ctx, s.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if found {
				outs = append(outs, toSubscriptionOutput(s, &d))
			} else {
				outs = append(outs, toSubscriptionOutput(s, nil))
			}
		}
		return nil
	})
	if err != nil {
		return []SubscriptionOutput{}, err
	}
	return outs, nil
}

// scheduled のサイクルだけ飛ばせる。課金はしない
func (u *SubscriptionUsecase) Skip(ctx context.Context, userID int64, deliveryID int64) (SubscriptionOutput, error) {
	var out SubscriptionOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		d, sub, err := ownedDelivery(ctx, r, userID, deliveryID)
		if err != nil {
			return err
		}
		if d.Status != model.DeliveryScheduled {
			return NewHTTPError(http.StatusConflict, "only scheduled deliveries can be skipped")
		}
		if sub.Status != model.SubscriptionActive {
			return NewHTTPError(http.StatusConflict, "subscription is not active")
		}
		if err := r.Deliveries().Transition(ctx, d.ID, model.DeliveryScheduled, model.DeliverySkipped, repo.DeliveryChanges{}); err != nil {
			return conflictOrDBError(err)
		}
		next, err := advanceFrom(ctx, r, &sub, d.ScheduledDate)
		if err != nil {
			return conflictOrDBError(err)
		}
		out = toSubscriptionOutput(sub, next)
		return nil
	})
	if err != nil {
		return SubscriptionOutput{}, err
	}
	return out, nil
}

// 一時停止。scheduled のサイクルは取り消す（processing は最後まで走らせる）
func (u *SubscriptionUsecase) Pause(ctx context.Context, userID int64, subscriptionID int64) (SubscriptionOutput, error) {
	var out SubscriptionOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		sub, err := ownedSubscription(ctx, r, userID, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != model.SubscriptionActive {
			return NewHTTPError(http.StatusConflict, "only active subscriptions can be paused")
		}

		pausedFrom := model.DateOnly(u.clock.Now())
		if sub.NextDeliveryDate != nil {
			pausedFrom = *sub.NextDeliveryDate
		}
		d, found, err := r.Deliveries().FindPendingBySubscriptionID(ctx, sub.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if found {
			switch d.Status {
			case model.DeliveryScheduled:
				if err := r.Deliveries().Transition(ctx, d.ID, model.DeliveryScheduled, model.DeliveryCancelled, repo.DeliveryChanges{}); err != nil {
					return conflictOrDBError(err)
				}
				pausedFrom = d.ScheduledDate
			default:
				//走っているサイクルの次から止める
				pausedFrom = sub.Frequency.Next(d.ScheduledDate, sub.AnchorDay)
			}
		}

		status := model.SubscriptionPaused
		changes := repo.SubscriptionChanges{Status: &status, ClearNextDeliveryDate: true, PausedFrom: &pausedFrom}
		if err := r.Subscriptions().UpdateIfStatus(ctx, sub.ID, model.SubscriptionActive, changes); err != nil {
			return conflictOrDBError(err)
		}
		changes.Apply(&sub)
		out = toSubscriptionOutput(sub, nil)
		return nil
	})
	if err != nil {
		return SubscriptionOutput{}, err
	}
	return out, nil
}

// 再開。止めた日から同じ間隔で数えて、明日以降の最初のサイクルを予約する
func (u *SubscriptionUsecase) Resume(ctx context.Context, userID int64, subscriptionID int64) (SubscriptionOutput, error) {
	today := model.DateOnly(u.clock.Now())
	var out SubscriptionOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		sub, err := ownedSubscription(ctx, r, userID, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != model.SubscriptionPaused {
			return NewHTTPError(http.StatusConflict, "subscription is not paused")
		}

		from := today
		if sub.PausedFrom != nil {
			from = *sub.PausedFrom
		}
		next := rollForward(sub, from, today)

		status := model.SubscriptionActive
		changes := repo.SubscriptionChanges{Status: &status, NextDeliveryDate: &next, ClearPausedFrom: true}

		//止める前のサイクルがまだ processing なら、その完了時に次が予約される
		pending, found, err := r.Deliveries().FindPendingBySubscriptionID(ctx, sub.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		var d *model.SubscriptionDelivery
		if found {
			d = &pending
		} else {
			created := model.SubscriptionDelivery{SubscriptionID: sub.ID, ScheduledDate: next, Status: model.DeliveryScheduled}
			created.ID, err = r.Deliveries().Create(ctx, created)
			if err != nil {
				return conflictOrDBError(err)
			}
			d = &created
		}

		if err := r.Subscriptions().UpdateIfStatus(ctx, sub.ID, model.SubscriptionPaused, changes); err != nil {
			return conflictOrDBError(err)
		}
		changes.Apply(&sub)
		out = toSubscriptionOutput(sub, d)
		return nil
	})
	if err != nil {
		return SubscriptionOutput{}, err
	}
	return out, nil
}

// 解約。processing のサイクルはそのまま完了させる
func (u *SubscriptionUsecase) Cancel(ctx context.Context, userID int64, subscriptionID int64) (SubscriptionOutput, error) {
	var out SubscriptionOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		sub, err := ownedSubscription(ctx, r, userID, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status == model.SubscriptionCancelled {
			out = toSubscriptionOutput(sub, nil)
			return nil
		}

		d, found, err := r.Deliveries().FindPendingBySubscriptionID(ctx, sub.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if found {
			switch d.Status {
			case model.DeliveryScheduled:
				err = r.Deliveries().Transition(ctx, d.ID, model.DeliveryScheduled, model.DeliveryCancelled, repo.DeliveryChanges{})
			case model.DeliveryFailed:
				err = r.Deliveries().Transition(ctx, d.ID, model.DeliveryFailed, model.DeliverySkipped, repo.DeliveryChanges{})
			}
			if err != nil {
				return conflictOrDBError(err)
			}
		}

		status := model.SubscriptionCancelled
		changes := repo.SubscriptionChanges{Status: &status, ClearNextDeliveryDate: true, ClearPausedFrom: true}
		if err := r.Subscriptions().UpdateIfStatus(ctx, sub.ID, sub.Status, changes); err != nil {
			return conflictOrDBError(err)
		}
		changes.Apply(&sub)
		out = toSubscriptionOutput(sub, nil)
		return nil
	})
	if err != nil {
		return SubscriptionOutput{}, err
	}
	return out, nil
}

// past_due の再試行。試行回数を数え直し、バックオフ後のTickで課金する
func (u *SubscriptionUsecase) Retry(ctx context.Context, userID int64, subscriptionID int64) (SubscriptionOutput, error) {
	var out SubscriptionOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		sub, err := ownedSubscription(ctx, r, userID, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != model.SubscriptionPastDue {
			return NewHTTPError(http.StatusConflict, "subscription is not past due")
		}
		d, found, err := r.Deliveries().FindPendingBySubscriptionID(ctx, sub.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if !found || d.Status != model.DeliveryFailed {
			return NewHTTPError(http.StatusConflict, "no failed delivery to retry")
		}

		base := d.Attempts
		changes := repo.DeliveryChanges{RetryBase: &base}
		if err := r.Deliveries().Transition(ctx, d.ID, model.DeliveryFailed, model.DeliveryFailed, changes); err != nil {
			return conflictOrDBError(err)
		}
		changes.Apply(&d)

		status := model.SubscriptionActive
		subChanges := repo.SubscriptionChanges{Status: &status}
		if err := r.Subscriptions().UpdateIfStatus(ctx, sub.ID, model.SubscriptionPastDue, subChanges); err != nil {
			return conflictOrDBError(err)
		}
		subChanges.Apply(&sub)
		out = toSubscriptionOutput(sub, &d)
		return nil
	})
	if err != nil {
		return SubscriptionOutput{}, err
	}
	return out, nil
}

// 失敗したサイクルを諦めて次へ進む（failed → skipped）
func (u *SubscriptionUsecase) Abandon(ctx context.Context, userID int64, deliveryID int64) (SubscriptionOutput, error) {
	var out SubscriptionOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		d, sub, err := ownedDelivery(ctx, r, userID, deliveryID)
		if err != nil {
			return err
		}
		if d.Status != model.DeliveryFailed {
			return NewHTTPError(http.StatusConflict, "only failed deliveries can be abandoned")
		}
		if sub.Status != model.SubscriptionActive && sub.Status != model.SubscriptionPastDue {
			return NewHTTPError(http.StatusConflict, "subscription is not active")
		}
		if err := r.Deliveries().Transition(ctx, d.ID, model.DeliveryFailed, model.DeliverySkipped, repo.DeliveryChanges{}); err != nil {
			return conflictOrDBError(err)
		}
		if sub.Status == model.SubscriptionPastDue {
			status := model.SubscriptionActive
			changes := repo.SubscriptionChanges{Status: &status}
			if err := r.Subscriptions().UpdateIfStatus(ctx, sub.ID, model.SubscriptionPastDue, changes); err != nil {
				return conflictOrDBError(err)
			}
			changes.Apply(&sub)
		}
		next, err := advanceFrom(ctx, r, &sub, d.ScheduledDate)
		if err != nil {
			return conflictOrDBError(err)
		}
		out = toSubscriptionOutput(sub, next)
		return nil
	})
	if err != nil {
		return SubscriptionOutput{}, err
	}
	return out, nil
}

// 決済代行の請求ポータル（カードの変更などは先方の画面で行う）
func (u *SubscriptionUsecase) CreatePortalSession(ctx context.Context, userID int64, returnURL string) (string, error) {
	if userID <= 0 {
		return "", NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	var customerRef string
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		subs, err := r.Subscriptions().ListByUserID(ctx, userID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		for _, s := range subs {
			if s.Status != model.SubscriptionCancelled && s.Processor == u.gateway.Processor() {
				customerRef = s.CustomerRef
				return nil
			}
		}
		return NewHTTPError(http.StatusNotFound, "no subscription")
	})
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, u.orders.policy.UpstreamTimeout)
	defer cancel()
	url, err := u.gateway.CreatePortalSession(callCtx, customerRef, returnURL)
	if err != nil {
		u.log.WarnContext(ctx, "portal session failed", slog.Int64("user_id", userID), slog.Any("error", err))
		if _, ok := AsDomainError(err); ok {
			return "", err
		}
		return "", ErrPaymentUnavailable
	}
	return url, nil
}

// 未完了サイクルが無い active な定期便に次のサイクルを作る
func (u *SubscriptionUsecase) Advance(ctx context.Context, subscriptionID int64) error {
	today := model.DateOnly(u.clock.Now())
	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		sub, err := r.Subscriptions().FindByID(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != model.SubscriptionActive {
			return nil
		}
		if _, found, err := r.Deliveries().FindPendingBySubscriptionID(ctx, sub.ID); err != nil || found {
			return err
		}
		history, err := r.Deliveries().ListBySubscriptionID(ctx, sub.ID)
		if err != nil {
			return err
		}

		var next time.Time
		var last *model.SubscriptionDelivery
		for i := range history {
			if last == nil || history[i].ScheduledDate.After(last.ScheduledDate) {
				last = &history[i]
			}
		}
		switch {
		case last != nil:
			next = rollForward(sub, sub.Frequency.Next(last.ScheduledDate, sub.AnchorDay), today)
		case sub.NextDeliveryDate != nil:
			next = rollForward(sub, *sub.NextDeliveryDate, today)
		default:
			next = rollForward(sub, today, today)
		}

		if _, err := r.Deliveries().Create(ctx, model.SubscriptionDelivery{SubscriptionID: sub.ID, ScheduledDate: next, Status: model.DeliveryScheduled}); err != nil {
			if errors.Is(err, repo.ErrDuplicateKey) {
				return nil
			}
			return err
		}
		return r.Subscriptions().UpdateIfStatus(ctx, sub.ID, model.SubscriptionActive, repo.SubscriptionChanges{NextDeliveryDate: &next})
	})
}

// 前回サイクルの日付に1間隔足して次のサイクルを作る（active のときだけ）
func advanceFrom(ctx context.Context, r repo.TxRepos, sub *model.Subscription, prev time.Time) (*model.SubscriptionDelivery, error) {
	if sub.Status != model.SubscriptionActive {
		return nil, nil
	}
	next := sub.Frequency.Next(prev, sub.AnchorDay)
	d := model.SubscriptionDelivery{SubscriptionID: sub.ID, ScheduledDate: next, Status: model.DeliveryScheduled}
	id, err := r.Deliveries().Create(ctx, d)
	if err != nil {
		return nil, err
	}
	d.ID = id
	changes := repo.SubscriptionChanges{NextDeliveryDate: &next}
	if err := r.Subscriptions().UpdateIfStatus(ctx, sub.ID, sub.Status, changes); err != nil {
		return nil, err
	}
	changes.Apply(sub)
	return &d, nil
}

// 注文が confirmed になったサイクルを完了にして次を予約する。
// サイクルの delivered は先方の受付済みを指す。実際の配達完了は注文の delivered で見る
func completeCycle(ctx context.Context, r repo.TxRepos, deliveryID int64, orderID int64) error {
	d, err := r.Deliveries().FindByID(ctx, deliveryID)
	if err != nil {
		return err
	}
	if d.Status == model.DeliveryDelivered {
		return nil
	}
	if err := r.Deliveries().Transition(ctx, d.ID, model.DeliveryProcessing, model.DeliveryDelivered, repo.DeliveryChanges{OrderID: &orderID}); err != nil {
		return err
	}
	sub, err := r.Subscriptions().FindByID(ctx, d.SubscriptionID)
	if err != nil {
		return err
	}
	_, err = advanceFrom(ctx, r, &sub, d.ScheduledDate)
	return err
}

// from から間隔を足していき、today より後の最初の日
func rollForward(sub model.Subscription, from, today time.Time) time.Time {
	next := model.DateOnly(from)
	for !next.After(today) {
		next = sub.Frequency.Next(next, sub.AnchorDay)
	}
	return next
}

func (u *SubscriptionUsecase) ownedAddress(ctx context.Context, userID, addressID int64) (model.Address, error) {
	owned, err := u.addresses.IsOwnedByUser(ctx, addressID, userID)
	if err != nil {
		return model.Address{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	if !owned {
		return model.Address{}, NewHTTPError(http.StatusNotFound, "address not found")
	}
	addr, err := u.addresses.FindByID(ctx, addressID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Address{}, NewHTTPError(http.StatusNotFound, "address not found")
	}
	if err != nil {
		return model.Address{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	return addr, nil
}

func ownedSubscription(ctx context.Context, r repo.TxRepos, userID, subscriptionID int64) (model.Subscription, error) {
	if userID <= 0 {
		return model.Subscription{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	sub, err := r.Subscriptions().FindByID(ctx, subscriptionID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Subscription{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return model.Subscription{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	//他人の定期便は存在しない扱い
	if sub.UserID != userID {
		return model.Subscription{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	return sub, nil
}

func ownedDelivery(ctx context.Context, r repo.TxRepos, userID, deliveryID int64) (model.SubscriptionDelivery, model.Subscription, error) {
	if userID <= 0 {
		return model.SubscriptionDelivery{}, model.Subscription{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	d, err := r.Deliveries().FindByID(ctx, deliveryID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.SubscriptionDelivery{}, model.Subscription{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return model.SubscriptionDelivery{}, model.Subscription{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	sub, err := ownedSubscription(ctx, r, userID, d.SubscriptionID)
	if err != nil {
		return model.SubscriptionDelivery{}, model.Subscription{}, err
	}
	return d, sub, nil
}

func conflictOrDBError(err error) error {
	if errors.Is(err, repo.ErrStatusConflict) || errors.Is(err, repo.ErrDuplicateKey) {
		return NewHTTPError(http.StatusConflict, "subscription changed, please reload")
	}
	if _, ok := AsHTTPError(err); ok {
		return err
	}
	return NewHTTPError(http.StatusInternalServerError, "db error")
}

func toDeliveryOutput(d model.SubscriptionDelivery) DeliveryOutput {
	return DeliveryOutput{
		ID:            d.ID,
		ScheduledDate: d.ScheduledDate.Format(model.DateLayout),
		Status:        string(d.Status),
		Attempts:      d.Attempts,
		OrderID:       d.OrderID,
		LastError:     d.LastError,
	}
}

func toSubscriptionOutput(s model.Subscription, pending *model.SubscriptionDelivery) SubscriptionOutput {
	out := SubscriptionOutput{
		ID:          s.ID,
		Tier:        string(s.Tier),
		Frequency:   string(s.Frequency),
		Status:      string(s.Status),
		Price:       s.PriceCents,
		AddressID:   s.AddressID,
		CardMessage: s.CardMessage,
	}
	if s.NextDeliveryDate != nil {
		v := s.NextDeliveryDate.Format(model.DateLayout)
		out.NextDeliveryDate = &v
	}
	if pending != nil {
		d := toDeliveryOutput(*pending)
		out.PendingDelivery = &d
	}
	return out
}
