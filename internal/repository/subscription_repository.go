package repository

import (
	"context"
	"time"

	"florist/internal/domain/model"
)

type SubscriptionChanges struct {
	Status                *model.SubscriptionStatus
	NextDeliveryDate      *time.Time
	ClearNextDeliveryDate bool
	PausedFrom            *time.Time
	ClearPausedFrom       bool
}

func (c SubscriptionChanges) Columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if c.Status != nil {
		cols["status"] = string(*c.Status)
	}
	if c.NextDeliveryDate != nil {
		cols["next_delivery_date"] = *c.NextDeliveryDate
	}
	if c.ClearNextDeliveryDate {
		cols["next_delivery_date"] = nil
	}
	if c.PausedFrom != nil {
		cols["paused_from"] = *c.PausedFrom
	}
	if c.ClearPausedFrom {
		cols["paused_from"] = nil
	}
	return cols
}

func (c SubscriptionChanges) Apply(s *model.Subscription) {
	if c.Status != nil {
		s.Status = *c.Status
	}
	if c.NextDeliveryDate != nil {
		v := *c.NextDeliveryDate
		s.NextDeliveryDate = &v
	}
	if c.ClearNextDeliveryDate {
		s.NextDeliveryDate = nil
	}
	if c.PausedFrom != nil {
		v := *c.PausedFrom
		s.PausedFrom = &v
	}
	if c.ClearPausedFrom {
		s.PausedFrom = nil
	}
}

type SubscriptionRepository interface {
	Create(ctx context.Context, sub model.Subscription) (int64, error)
	FindByID(ctx context.Context, subscriptionID int64) (model.Subscription, error)
	ListByUserID(ctx context.Context, userID int64) ([]model.Subscription, error)

	// status = from のときだけ更新。0件なら ErrStatusConflict
	UpdateIfStatus(ctx context.Context, subscriptionID int64, from model.SubscriptionStatus, changes SubscriptionChanges) error

	//activeなのに未完了サイクルが無いもの
	ListActiveWithoutPendingDelivery(ctx context.Context, limit int) ([]model.Subscription, error)
}
