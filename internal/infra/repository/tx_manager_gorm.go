package repository

import (
	"context"

	repo "florist/internal/repository"

	"gorm.io/gorm"
)

type txReposGorm struct {
	orders        repo.OrderRepository
	orderItems    repo.OrderItemRepository
	subscriptions repo.SubscriptionRepository
	deliveries    repo.SubscriptionDeliveryRepository
	outbox        repo.OutboxRepository
}

func (r *txReposGorm) Orders() repo.OrderRepository                    { return r.orders }
func (r *txReposGorm) OrderItems() repo.OrderItemRepository            { return r.orderItems }
func (r *txReposGorm) Subscriptions() repo.SubscriptionRepository      { return r.subscriptions }
func (r *txReposGorm) Deliveries() repo.SubscriptionDeliveryRepository { return r.deliveries }
func (r *txReposGorm) Outbox() repo.OutboxRepository                   { return r.outbox }

type TxManagerGorm struct {
	db *gorm.DB
}

func NewTxManagerGorm(db *gorm.DB) *TxManagerGorm {
	return &TxManagerGorm{db: db}
}

func (tm *TxManagerGorm) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	return tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		//repoはtxを持ったDBで作り直す
		r := &txReposGorm{
			orders:        NewOrderGormRepository(tx),
			orderItems:    NewOrderItemGormRepository(tx),
			subscriptions: NewSubscriptionGormRepository(tx),
			deliveries:    NewSubscriptionDeliveryGormRepository(tx),
			outbox:        NewOutboxGormRepository(tx),
		}
		return fn(r)
	})
}
