package handler_test

import (
	"context"
	"sync"
	"time"

	"florist/internal/domain/model"
	repo "florist/internal/repository"
)

// 注文まわりだけのインメモリ Tx（定期便のリポジトリは持たない）
type orderStore struct {
	mu     sync.Mutex
	now    time.Time
	seq    int64
	orders map[int64]model.Order
	items  map[int64][]model.OrderItem
	outbox []model.OutboxEvent
}

func newOrderStore(now time.Time) *orderStore {
	return &orderStore{now: now, orders: map[int64]model.Order{}, items: map[int64][]model.OrderItem{}}
}

func (s *orderStore) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := make(map[int64]model.Order, len(s.orders))
	for k, v := range s.orders {
		orders[k] = v
	}
	items := make(map[int64][]model.OrderItem, len(s.items))
	for k, v := range s.items {
		items[k] = v
	}
	seq, outbox := s.seq, len(s.outbox)
	if err := fn(storeRepos{s}); err != nil {
		s.orders, s.items, s.seq, s.outbox = orders, items, seq, s.outbox[:outbox]
		return err
	}
	return nil
}

func (s *orderStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *orderStore) nextID() int64 {
	s.seq++
	return s.seq
}

type storeRepos struct{ s *orderStore }

func (r storeRepos) Orders() repo.OrderRepository                    { return storeOrders{s: r.s} }
func (r storeRepos) OrderItems() repo.OrderItemRepository            { return storeItems{r.s} }
func (r storeRepos) Subscriptions() repo.SubscriptionRepository      { return nil }
func (r storeRepos) Deliveries() repo.SubscriptionDeliveryRepository { return nil }
func (r storeRepos) Outbox() repo.OutboxRepository                   { return storeOutbox{r.s} }

// 一覧系は使わない
type storeOrders struct {
	repo.OrderRepository
	s *orderStore
}

func (m storeOrders) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	o, ok := m.s.orders[orderID]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

func (m storeOrders) Create(ctx context.Context, order model.Order) (int64, error) {
	for _, o := range m.s.orders {
		if o.IdempotencyKey == order.IdempotencyKey {
			return 0, repo.ErrDuplicateKey
		}
	}
	order.ID = m.s.nextID()
	order.CreatedAt = m.s.now
	order.UpdatedAt = m.s.now
	m.s.orders[order.ID] = order
	return order.ID, nil
}

func (m storeOrders) FindByIdempotencyKey(ctx context.Context, key string) (model.Order, bool, error) {
	for _, o := range m.s.orders {
		if o.IdempotencyKey == key {
			return o, true, nil
		}
	}
	return model.Order{}, false, nil
}

func (m storeOrders) Transition(ctx context.Context, orderID int64, from, to model.OrderStatus, changes repo.OrderChanges) error {
	o, ok := m.s.orders[orderID]
	if !ok || o.Status != from {
		return repo.ErrStatusConflict
	}
	o.Status = to
	changes.Apply(&o)
	m.s.orders[orderID] = o
	return nil
}

func (m storeOrders) ClaimFulfillmentAttempt(ctx context.Context, orderID int64, expectedAttempts int, leaseUntil time.Time) error {
	o, ok := m.s.orders[orderID]
	if !ok || o.Status != model.OrderStatusProcessing || o.FulfillmentAttempts != expectedAttempts || o.ExternalConfirmationID != nil {
		return repo.ErrStatusConflict
	}
	o.FulfillmentAttempts++
	o.NextFulfillmentAt = &leaseUntil
	m.s.orders[orderID] = o
	return nil
}

type storeItems struct{ s *orderStore }

func (m storeItems) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	for _, it := range items {
		it.ID = m.s.nextID()
		it.OrderID = orderID
		m.s.items[orderID] = append(m.s.items[orderID], it)
	}
	return nil
}

func (m storeItems) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	return append([]model.OrderItem{}, m.s.items[orderID]...), nil
}

type storeOutbox struct{ s *orderStore }

func (m storeOutbox) Create(ctx context.Context, event model.OutboxEvent) error {
	event.ID = m.s.nextID()
	m.s.outbox = append(m.s.outbox, event)
	return nil
}

func (m storeOutbox) ListUnpublished(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	return nil, nil
}

func (m storeOutbox) MarkPublished(ctx context.Context, eventID int64, at time.Time) error {
	return nil
}
