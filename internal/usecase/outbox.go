package usecase

import (
	"context"
	"encoding/json"
	"time"

	"florist/internal/domain/model"
	repo "florist/internal/repository"
)

type orderEventPayload struct {
	OrderID                int64                      `json:"order_id"`
	Status                 model.OrderStatus          `json:"status"`
	TotalCents             int64                      `json:"total"`
	ExternalConfirmationID *string                    `json:"external_confirmation_id,omitempty"`
	Reason                 model.ReconciliationReason `json:"reason,omitempty"`
	OccurredAt             time.Time                  `json:"occurred_at"`
}

type subscriptionEventPayload struct {
	SubscriptionID int64                    `json:"subscription_id"`
	DeliveryID     int64                    `json:"delivery_id"`
	Status         model.SubscriptionStatus `json:"status"`
	OccurredAt     time.Time                `json:"occurred_at"`
}

// 状態変更と同じTxで積む
func appendOutbox(ctx context.Context, r repo.TxRepos, ids IDGenerator, aggregateType string, aggregateID int64, eventType model.EventType, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return r.Outbox().Create(ctx, model.OutboxEvent{
		EventID:       ids.NewID(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       string(b),
	})
}

func appendOrderEvent(ctx context.Context, r repo.TxRepos, ids IDGenerator, o model.Order, eventType model.EventType, at time.Time) error {
	return appendOutbox(ctx, r, ids, "order", o.ID, eventType, orderEventPayload{
		OrderID:                o.ID,
		Status:                 o.Status,
		TotalCents:             o.TotalCents,
		ExternalConfirmationID: o.ExternalConfirmationID,
		Reason:                 o.ReconciliationReason,
		OccurredAt:             at,
	})
}
