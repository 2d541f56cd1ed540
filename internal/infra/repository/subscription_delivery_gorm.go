package repository

import (
	"context"
	"errors"
	"time"

	"florist/internal/domain/model"
	repo "florist/internal/repository"

	"gorm.io/gorm"
)

// 部分ユニークインデックスの対象と同じ
var pendingDeliveryStatuses = []string{
	string(model.DeliveryScheduled),
	string(model.DeliveryProcessing),
	string(model.DeliveryFailed),
}

type SubscriptionDeliveryGormRepository struct {
	db *gorm.DB
}

func NewSubscriptionDeliveryGormRepository(db *gorm.DB) *SubscriptionDeliveryGormRepository {
	return &SubscriptionDeliveryGormRepository{db: db}
}

func (r *SubscriptionDeliveryGormRepository) Create(ctx context.Context, d model.SubscriptionDelivery) (int64, error) {
	if err := r.db.WithContext(ctx).Create(&d).Error; err != nil {
		if isUniqueViolation(err) {
			return 0, repo.ErrDuplicateKey
		}
		return 0, err
	}
	return d.ID, nil
}

func (r *SubscriptionDeliveryGormRepository) FindByID(ctx context.Context, deliveryID int64) (model.SubscriptionDelivery, error) {
	var d model.SubscriptionDelivery
	err := r.db.WithContext(ctx).Where("id = ?", deliveryID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.SubscriptionDelivery{}, repo.ErrNotFound
	}
	if err != nil {
		return model.SubscriptionDelivery{}, err
	}
	return d, nil
}

func (r *SubscriptionDeliveryGormRepository) FindPendingBySubscriptionID(ctx context.Context, subscriptionID int64) (model.SubscriptionDelivery, bool, error) {
	var d model.SubscriptionDelivery
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND status IN ?", subscriptionID, pendingDeliveryStatuses).
		First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.SubscriptionDelivery{}, false, nil
	}
	if err != nil {
		return model.SubscriptionDelivery{}, false, err
	}
	return d, true, nil
}

func (r *SubscriptionDeliveryGormRepository) FindByOrderID(ctx context.Context, orderID int64) (model.SubscriptionDelivery, bool, error) {
	var d model.SubscriptionDelivery
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.SubscriptionDelivery{}, false, nil
	}
	if err != nil {
		return model.SubscriptionDelivery{}, false, err
	}
	return d, true, nil
}

func (r *SubscriptionDeliveryGormRepository) ListBySubscriptionID(ctx context.Context, subscriptionID int64) ([]model.SubscriptionDelivery, error) {
	var list []model.SubscriptionDelivery
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("scheduled_date asc, id asc").
		Find(&list).Error; err != nil {
		return []model.SubscriptionDelivery{}, err
	}
	return list, nil
}

func (r *SubscriptionDeliveryGormRepository) Transition(ctx context.Context, deliveryID int64, from, to model.DeliveryStatus, changes repo.DeliveryChanges) error {
	cols := changes.Columns()
	if from != to {
		cols["status"] = string(to)
	}
	cols["updated_at"] = time.Now()

	res := r.db.WithContext(ctx).Model(&model.SubscriptionDelivery{}).
		Where("id = ? AND status = ?", deliveryID, from).
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

func (r *SubscriptionDeliveryGormRepository) ListDue(ctx context.Context, today time.Time, retryBefore time.Time, maxAttempts int, limit int) ([]model.SubscriptionDelivery, error) {
	var list []model.SubscriptionDelivery
	err := r.db.WithContext(ctx).
		Select("subscription_deliveries.*").
		Joins("JOIN subscriptions ON subscriptions.id = subscription_deliveries.subscription_id AND subscriptions.status = ?", model.SubscriptionActive).
		Where(
			"(subscription_deliveries.status = ? AND subscription_deliveries.scheduled_date <= ?) OR "+
				"(subscription_deliveries.status = ? AND subscription_deliveries.updated_at <= ? AND subscription_deliveries.attempts - subscription_deliveries.retry_base < ?)",
			model.DeliveryScheduled, today,
			model.DeliveryFailed, retryBefore, maxAttempts,
		).
		Order("subscription_deliveries.scheduled_date asc, subscription_deliveries.id asc").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return []model.SubscriptionDelivery{}, err
	}
	return list, nil
}

func (r *SubscriptionDeliveryGormRepository) ListStuckProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]model.SubscriptionDelivery, error) {
	var list []model.SubscriptionDelivery
	err := r.db.WithContext(ctx).
		Where("status = ? AND order_id IS NULL AND updated_at < ?", model.DeliveryProcessing, updatedBefore).
		Order("id asc").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return []model.SubscriptionDelivery{}, err
	}
	return list, nil
}
