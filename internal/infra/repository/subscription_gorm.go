package repository

import (
	"context"
	"errors"
	"time"

	"florist/internal/domain/model"
	repo "florist/internal/repository"

	"gorm.io/gorm"
)

type SubscriptionGormRepository struct {
	db *gorm.DB
}

func NewSubscriptionGormRepository(db *gorm.DB) *SubscriptionGormRepository {
	return &SubscriptionGormRepository{db: db}
}

func (r *SubscriptionGormRepository) Create(ctx context.Context, sub model.Subscription) (int64, error) {
	if err := r.db.WithContext(ctx).Create(&sub).Error; err != nil {
		return 0, err
	}
	return sub.ID, nil
}

func (r *SubscriptionGormRepository) FindByID(ctx context.Context, subscriptionID int64) (model.Subscription, error) {
	var s model.Subscription
	err := r.db.WithContext(ctx).Where("id = ?", subscriptionID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Subscription{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Subscription{}, err
	}
	return s, nil
}

func (r *SubscriptionGormRepository) ListByUserID(ctx context.Context, userID int64) ([]model.Subscription, error) {
	var list []model.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id desc").
		Find(&list).Error; err != nil {
		return []model.Subscription{}, err
	}
	return list, nil
}

func (r *SubscriptionGormRepository) UpdateIfStatus(ctx context.Context, subscriptionID int64, from model.SubscriptionStatus, changes repo.SubscriptionChanges) error {
	cols := changes.Columns()
	cols["updated_at"] = time.Now()

	res := r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("id = ? AND status = ?", subscriptionID, from).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrStatusConflict
	}
	return nil
}

func (r *SubscriptionGormRepository) ListActiveWithoutPendingDelivery(ctx context.Context, limit int) ([]model.Subscription, error) {
	var list []model.Subscription
	err := r.db.WithContext(ctx).
		Where("status = ?", model.SubscriptionActive).
		Where("NOT EXISTS (SELECT 1 FROM subscription_deliveries d WHERE d.subscription_id = subscriptions.id AND d.status IN ?)",
			pendingDeliveryStatuses).
		Order("id asc").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return []model.Subscription{}, err
	}
	return list, nil
}
