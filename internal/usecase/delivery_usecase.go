package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"florist/internal/domain/model"

	"golang.org/x/sync/singleflight"
)

const deliveryLookupTimeout = 5 * time.Second

// 配達可否と配送料の解決。料金はネットワークが返したものだけを使う
type DeliveryUsecase struct {
	network    FulfillmentNetwork
	clock      Clock
	log        *slog.Logger
	quoteTTL   time.Duration
	defaultFee int64

	//同じZIPへの同時問い合わせを1本にまとめる
	group singleflight.Group
}

func NewDeliveryUsecase(network FulfillmentNetwork, clock Clock, log *slog.Logger, quoteTTL time.Duration, defaultFee int64) *DeliveryUsecase {
	if quoteTTL <= 0 {
		quoteTTL = 10 * time.Minute
	}
	return &DeliveryUsecase{
		network:    network,
		clock:      clock,
		log:        log,
		quoteTTL:   quoteTTL,
		defaultFee: defaultFee,
	}
}

// 配達可能日の一覧。1件も無ければ ErrNotDeliverable
func (u *DeliveryUsecase) Resolve(ctx context.Context, zip string) ([]model.DeliveryDateOption, error) {
	//ネットワークに出る前にZIPを確認
	if !model.ValidZip(zip) {
		return nil, InvalidInput("invalid zip")
	}

	//相乗りした呼び出し元もいるので、最初の呼び出し元のキャンセルは引き継がない
	v, err, shared := u.group.Do(zip, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryLookupTimeout)
		defer cancel()
		return u.network.DeliveryDates(callCtx, zip)
	})
	if err != nil {
		if errors.Is(err, ErrNotDeliverable) {
			return nil, ErrNotDeliverable
		}
		u.log.WarnContext(ctx, "delivery dates lookup failed", slog.String("zip", zip), slog.Any("error", err))
		if _, ok := AsDomainError(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrFulfillmentUnavailable, err)
	}
	options := v.([]model.DeliveryDateOption)
	if shared {
		u.log.DebugContext(ctx, "delivery dates lookup shared", slog.String("zip", zip))
	}

	for _, o := range options {
		if o.Available {
			//共有スライスを呼び出し側に触らせない
			out := make([]model.DeliveryDateOption, len(options))
			copy(out, options)
			return out, nil
		}
	}
	return nil, ErrNotDeliverable
}

// (zip, date) の見積もり。有効期限付き
func (u *DeliveryUsecase) Quote(ctx context.Context, zip string, date time.Time) (model.DeliveryQuote, error) {
	if date.IsZero() {
		return model.DeliveryQuote{}, InvalidInput("invalid date")
	}
	date = model.DateOnly(date)

	options, err := u.Resolve(ctx, zip)
	if err != nil {
		return model.DeliveryQuote{}, err
	}

	for _, o := range options {
		if !model.DateOnly(o.Date).Equal(date) {
			continue
		}
		if !o.Available {
			break
		}
		now := u.clock.Now()
		return model.DeliveryQuote{
			Zip:       zip,
			Date:      date,
			FeeCents:  o.FeeCents,
			QuotedAt:  now,
			ExpiresAt: now.Add(u.quoteTTL),
		}, nil
	}
	return model.DeliveryQuote{}, ErrNotDeliverable
}

// 期限切れなら取り直す。まだ有効ならそのまま
func (u *DeliveryUsecase) Refresh(ctx context.Context, q model.DeliveryQuote) (model.DeliveryQuote, error) {
	if !q.IsStale(u.clock.Now()) {
		return q, nil
	}
	return u.Quote(ctx, q.Zip, q.Date)
}

// 画面の仮表示用。注文の金額には使わない
func (u *DeliveryUsecase) DefaultFee() int64 {
	return u.defaultFee
}
