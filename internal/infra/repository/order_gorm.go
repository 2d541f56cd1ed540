package repository

import (
	"context"
	"errors"
	"time"

	"florist/internal/domain/model"
	repo "florist/internal/repository"

	"gorm.io/gorm"
)

type OrderGormRepository struct {
	db *gorm.DB
}

func NewOrderGormRepository(db *gorm.DB) *OrderGormRepository {
	return &OrderGormRepository{db: db}
}

func (r *OrderGormRepository) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	var o model.Order
	err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Order{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (r *OrderGormRepository) FindByConfirmationID(ctx context.Context, confirmationID string) (model.Order, error) {
	var o model.Order
	err := r.db.WithContext(ctx).Where("external_confirmation_id = ?", confirmationID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Order{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (r *OrderGormRepository) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return []model.Order{}, 0, err
	}

	var items []model.Order
	offset := (page - 1) * limit
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id desc").
		Limit(limit).
		Offset(offset).
		Find(&items).Error
	if err != nil {
		return []model.Order{}, 0, err
	}

	return items, total, nil
}

func (r *OrderGormRepository) Create(ctx context.Context, order model.Order) (int64, error) {
	if err := r.db.WithContext(ctx).Create(&order).Error; err != nil {
		if isUniqueViolation(err) {
			return 0, repo.ErrDuplicateKey
		}
		return 0, err
	}
	return order.ID, nil
}

func (r *OrderGormRepository) FindByIdempotencyKey(ctx context.Context, key string) (model.Order, bool, error) {
	var o model.Order
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&o).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Order{}, false, nil
	}
	if err != nil {
		return model.Order{}, false, err
	}
	return o, true, nil
}

func (r *OrderGormRepository) Transition(ctx context.Context, orderID int64, from, to model.OrderStatus, changes repo.OrderChanges) error {
	cols := changes.Columns()
	if from != to {
		cols["status"] = string(to)
	}
	cols["updated_at"] = time.Now()

	//status = from のときだけ
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(cols)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return repo.ErrDuplicateKey
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrStatusConflict
	}
	return nil
}

func (r *OrderGormRepository) ClaimFulfillmentAttempt(ctx context.Context, orderID int64, expectedAttempts int, leaseUntil time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ? AND fulfillment_attempts = ? AND external_confirmation_id IS NULL",
			orderID, model.OrderStatusProcessing, expectedAttempts).
		Updates(map[string]interface{}{
			"fulfillment_attempts": gorm.Expr("fulfillment_attempts + 1"),
			"next_fulfillment_at":  leaseUntil,
			"updated_at":           time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrStatusConflict
	}
	return nil
}

func (r *OrderGormRepository) ListFulfillmentDue(ctx context.Context, now time.Time, limit int) ([]model.Order, error) {
	var items []model.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND external_confirmation_id IS NULL AND needs_reconciliation = ? AND next_fulfillment_at <= ?",
			model.OrderStatusProcessing, false, now).
		Order("next_fulfillment_at asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return []model.Order{}, err
	}
	return items, nil
}

func (r *OrderGormRepository) ListAwaitingDelivery(ctx context.Context, limit int) ([]model.Order, error) {
	var items []model.Order
	//古い順（取りこぼしを作らない）
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OrderStatusConfirmed).
		Order("updated_at asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return []model.Order{}, err
	}
	return items, nil
}

func (r *OrderGormRepository) ListAbandonedPending(ctx context.Context, createdBefore time.Time, limit int) ([]model.Order, error) {
	var items []model.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND charge_attempted_at IS NULL AND needs_reconciliation = ? AND created_at < ?",
			model.OrderStatusPending, false, createdBefore).
		Order("id asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return []model.Order{}, err
	}
	return items, nil
}

func (r *OrderGormRepository) ListNeedsReconciliation(ctx context.Context, page int, limit int) ([]model.Order, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Order{}).Where("needs_reconciliation = ?", true)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return []model.Order{}, 0, err
	}

	var items []model.Order
	offset := (page - 1) * limit
	if err := q.Order("updated_at asc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return []model.Order{}, 0, err
	}
	return items, total, nil
}
