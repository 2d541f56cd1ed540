package repository

import (
	"context"
	"time"

	"florist/internal/domain/model"
)

type OutboxRepository interface {
	Create(ctx context.Context, event model.OutboxEvent) error
	ListUnpublished(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkPublished(ctx context.Context, eventID int64, at time.Time) error
}
