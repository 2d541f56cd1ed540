package usecase_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"florist/internal/domain/model"
	repo "florist/internal/repository"
)

// テスト用のインメモリDB。WithinTx の中はロックを取り、エラーなら元に戻す
type memStore struct {
	mu    sync.Mutex
	clock *fakeClock

	seq        int64
	orders     map[int64]model.Order
	items      map[int64][]model.OrderItem
	subs       map[int64]model.Subscription
	deliveries map[int64]model.SubscriptionDelivery
	outbox     []model.OutboxEvent
	products   map[string]model.Product
	addresses  map[int64]model.Address
	audit      []model.AuditLog

	txCount int
}

func newMemStore(clock *fakeClock) *memStore {
	return &memStore{
		clock:      clock,
		orders:     map[int64]model.Order{},
		items:      map[int64][]model.OrderItem{},
		subs:       map[int64]model.Subscription{},
		deliveries: map[int64]model.SubscriptionDelivery{},
		products:   map[string]model.Product{},
		addresses:  map[int64]model.Address{},
	}
}

func (s *memStore) nextID() int64 {
	s.seq++
	return s.seq
}

type memSnapshot struct {
	seq        int64
	orders     map[int64]model.Order
	items      map[int64][]model.OrderItem
	subs       map[int64]model.Subscription
	deliveries map[int64]model.SubscriptionDelivery
	outbox     []model.OutboxEvent
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		seq:        s.seq,
		orders:     make(map[int64]model.Order, len(s.orders)),
		items:      make(map[int64][]model.OrderItem, len(s.items)),
		subs:       make(map[int64]model.Subscription, len(s.subs)),
		deliveries: make(map[int64]model.SubscriptionDelivery, len(s.deliveries)),
		outbox:     append([]model.OutboxEvent(nil), s.outbox...),
	}
	for k, v := range s.orders {
		snap.orders[k] = v
	}
	for k, v := range s.items {
		snap.items[k] = append([]model.OrderItem(nil), v...)
	}
	for k, v := range s.subs {
		snap.subs[k] = v
	}
	for k, v := range s.deliveries {
		snap.deliveries[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.seq = snap.seq
	s.orders = snap.orders
	s.items = snap.items
	s.subs = snap.subs
	s.deliveries = snap.deliveries
	s.outbox = snap.outbox
}

func (s *memStore) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++
	snap := s.snapshot()
	if err := fn(memRepos{s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// テストから直接読む
func (s *memStore) order(id int64) model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *memStore) orderByKey(key string) (model.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.IdempotencyKey == key {
			return o, true
		}
	}
	return model.Order{}, false
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) sub(id int64) model.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[id]
}

func (s *memStore) delivery(id int64) model.SubscriptionDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliveries[id]
}

func (s *memStore) deliveriesOf(subID int64) []model.SubscriptionDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SubscriptionDelivery
	for _, d := range s.deliveries {
		if d.SubscriptionID == subID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) pendingOf(subID int64) []model.SubscriptionDelivery {
	var out []model.SubscriptionDelivery
	for _, d := range s.deliveriesOf(subID) {
		if d.Status.IsPending() {
			out = append(out, d)
		}
	}
	return out
}

func (s *memStore) events(t model.EventType) []model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OutboxEvent
	for _, e := range s.outbox {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) addProduct(p model.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.SKU] = p
}

func (s *memStore) addAddress(a model.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addresses[a.ID] = a
}

// テストの前提を直接書き換える
func (s *memStore) updateOrder(id int64, fn func(o *model.Order)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[id]
	fn(&o)
	s.orders[id] = o
}

func (s *memStore) updateDelivery(id int64, fn func(d *model.SubscriptionDelivery)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.deliveries[id]
	fn(&d)
	s.deliveries[id] = d
}

type memRepos struct{ s *memStore }

func (r memRepos) Orders() repo.OrderRepository                    { return memOrders{r.s} }
func (r memRepos) OrderItems() repo.OrderItemRepository            { return memOrderItems{r.s} }
func (r memRepos) Subscriptions() repo.SubscriptionRepository      { return memSubs{r.s} }
func (r memRepos) Deliveries() repo.SubscriptionDeliveryRepository { return memDeliveries{r.s} }
func (r memRepos) Outbox() repo.OutboxRepository                   { return memOutbox{r.s} }

// ---- orders ----

type memOrders struct{ s *memStore }

func (m memOrders) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	o, ok := m.s.orders[orderID]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

func (m memOrders) FindByConfirmationID(ctx context.Context, confirmationID string) (model.Order, error) {
	for _, o := range m.s.orders {
		if o.ExternalConfirmationID != nil && *o.ExternalConfirmationID == confirmationID {
			return o, nil
		}
	}
	return model.Order{}, repo.ErrNotFound
}

func (m memOrders) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	var all []model.Order
	for _, o := range m.s.orders {
		if o.UserID != nil && *o.UserID == userID {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return paginate(all, page, limit), int64(len(all)), nil
}

func (m memOrders) Create(ctx context.Context, order model.Order) (int64, error) {
	for _, o := range m.s.orders {
		if o.IdempotencyKey == order.IdempotencyKey {
			return 0, repo.ErrDuplicateKey
		}
	}
	order.ID = m.s.nextID()
	order.CreatedAt = m.s.clock.Now()
	order.UpdatedAt = order.CreatedAt
	m.s.orders[order.ID] = order
	return order.ID, nil
}

func (m memOrders) FindByIdempotencyKey(ctx context.Context, key string) (model.Order, bool, error) {
	for _, o := range m.s.orders {
		if o.IdempotencyKey == key {
			return o, true, nil
		}
	}
	return model.Order{}, false, nil
}

func (m memOrders) Transition(ctx context.Context, orderID int64, from, to model.OrderStatus, changes repo.OrderChanges) error {
	o, ok := m.s.orders[orderID]
	if !ok || o.Status != from {
		return repo.ErrStatusConflict
	}
	o.Status = to
	changes.Apply(&o)
	o.UpdatedAt = m.s.clock.Now()
	m.s.orders[orderID] = o
	return nil
}

func (m memOrders) ClaimFulfillmentAttempt(ctx context.Context, orderID int64, expectedAttempts int, leaseUntil time.Time) error {
	o, ok := m.s.orders[orderID]
	if !ok || o.Status != model.OrderStatusProcessing || o.FulfillmentAttempts != expectedAttempts || o.ExternalConfirmationID != nil {
		return repo.ErrStatusConflict
	}
	o.FulfillmentAttempts++
	o.NextFulfillmentAt = &leaseUntil
	m.s.orders[orderID] = o
	return nil
}

func (m memOrders) ListFulfillmentDue(ctx context.Context, now time.Time, limit int) ([]model.Order, error) {
	return m.filter(limit, func(o model.Order) bool {
		return o.Status == model.OrderStatusProcessing && o.ExternalConfirmationID == nil && !o.NeedsReconciliation &&
			o.NextFulfillmentAt != nil && !o.NextFulfillmentAt.After(now)
	}), nil
}

func (m memOrders) ListAwaitingDelivery(ctx context.Context, limit int) ([]model.Order, error) {
	return m.filter(limit, func(o model.Order) bool { return o.Status == model.OrderStatusConfirmed }), nil
}

func (m memOrders) ListAbandonedPending(ctx context.Context, createdBefore time.Time, limit int) ([]model.Order, error) {
	return m.filter(limit, func(o model.Order) bool {
		return o.Status == model.OrderStatusPending && o.ChargeAttemptedAt == nil && !o.NeedsReconciliation && o.CreatedAt.Before(createdBefore)
	}), nil
}

func (m memOrders) ListNeedsReconciliation(ctx context.Context, page int, limit int) ([]model.Order, int64, error) {
	all := m.filter(0, func(o model.Order) bool { return o.NeedsReconciliation })
	return paginate(all, page, limit), int64(len(all)), nil
}

func (m memOrders) filter(limit int, keep func(model.Order) bool) []model.Order {
	var out []model.Order
	for _, o := range m.s.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func paginate(all []model.Order, page, limit int) []model.Order {
	start := (page - 1) * limit
	if start >= len(all) {
		return []model.Order{}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

// ---- order items ----

type memOrderItems struct{ s *memStore }

func (m memOrderItems) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	for _, it := range items {
		it.ID = m.s.nextID()
		it.OrderID = orderID
		it.CreatedAt = m.s.clock.Now()
		m.s.items[orderID] = append(m.s.items[orderID], it)
	}
	return nil
}

func (m memOrderItems) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	return append([]model.OrderItem{}, m.s.items[orderID]...), nil
}

// ---- subscriptions ----

type memSubs struct{ s *memStore }

func (m memSubs) Create(ctx context.Context, sub model.Subscription) (int64, error) {
	sub.ID = m.s.nextID()
	sub.CreatedAt = m.s.clock.Now()
	m.s.subs[sub.ID] = sub
	return sub.ID, nil
}

func (m memSubs) FindByID(ctx context.Context, subscriptionID int64) (model.Subscription, error) {
	sub, ok := m.s.subs[subscriptionID]
	if !ok {
		return model.Subscription{}, repo.ErrNotFound
	}
	return sub, nil
}

func (m memSubs) ListByUserID(ctx context.Context, userID int64) ([]model.Subscription, error) {
	var out []model.Subscription
	for _, s := range m.s.subs {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memSubs) UpdateIfStatus(ctx context.Context, subscriptionID int64, from model.SubscriptionStatus, changes repo.SubscriptionChanges) error {
	sub, ok := m.s.subs[subscriptionID]
	if !ok || sub.Status != from {
		return repo.ErrStatusConflict
	}
	changes.Apply(&sub)
	m.s.subs[subscriptionID] = sub
	return nil
}

func (m memSubs) ListActiveWithoutPendingDelivery(ctx context.Context, limit int) ([]model.Subscription, error) {
	var out []model.Subscription
	for _, sub := range m.s.subs {
		if sub.Status != model.SubscriptionActive {
			continue
		}
		pending := false
		for _, d := range m.s.deliveries {
			if d.SubscriptionID == sub.ID && d.Status.IsPending() {
				pending = true
			}
		}
		if !pending {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- deliveries ----

type memDeliveries struct{ s *memStore }

func (m memDeliveries) Create(ctx context.Context, d model.SubscriptionDelivery) (int64, error) {
	//部分一意インデックスと同じ制約
	for _, existing := range m.s.deliveries {
		if existing.SubscriptionID == d.SubscriptionID && existing.Status.IsPending() {
			return 0, repo.ErrDuplicateKey
		}
	}
	d.ID = m.s.nextID()
	d.CreatedAt = m.s.clock.Now()
	d.UpdatedAt = d.CreatedAt
	m.s.deliveries[d.ID] = d
	return d.ID, nil
}

func (m memDeliveries) FindByID(ctx context.Context, deliveryID int64) (model.SubscriptionDelivery, error) {
	d, ok := m.s.deliveries[deliveryID]
	if !ok {
		return model.SubscriptionDelivery{}, repo.ErrNotFound
	}
	return d, nil
}

func (m memDeliveries) FindPendingBySubscriptionID(ctx context.Context, subscriptionID int64) (model.SubscriptionDelivery, bool, error) {
	for _, d := range m.s.deliveries {
		if d.SubscriptionID == subscriptionID && d.Status.IsPending() {
			return d, true, nil
		}
	}
	return model.SubscriptionDelivery{}, false, nil
}

func (m memDeliveries) FindByOrderID(ctx context.Context, orderID int64) (model.SubscriptionDelivery, bool, error) {
	for _, d := range m.s.deliveries {
		if d.OrderID != nil && *d.OrderID == orderID {
			return d, true, nil
		}
	}
	return model.SubscriptionDelivery{}, false, nil
}

func (m memDeliveries) ListBySubscriptionID(ctx context.Context, subscriptionID int64) ([]model.SubscriptionDelivery, error) {
	var out []model.SubscriptionDelivery
	for _, d := range m.s.deliveries {
		if d.SubscriptionID == subscriptionID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledDate.Before(out[j].ScheduledDate) })
	return out, nil
}

func (m memDeliveries) Transition(ctx context.Context, deliveryID int64, from, to model.DeliveryStatus, changes repo.DeliveryChanges) error {
	d, ok := m.s.deliveries[deliveryID]
	if !ok || d.Status != from {
		return repo.ErrStatusConflict
	}
	d.Status = to
	changes.Apply(&d)
	d.UpdatedAt = m.s.clock.Now()
	m.s.deliveries[deliveryID] = d
	return nil
}

func (m memDeliveries) ListDue(ctx context.Context, today time.Time, retryBefore time.Time, maxAttempts int, limit int) ([]model.SubscriptionDelivery, error) {
	var out []model.SubscriptionDelivery
	for _, d := range m.s.deliveries {
		if m.s.subs[d.SubscriptionID].Status != model.SubscriptionActive {
			continue
		}
		due := d.Status == model.DeliveryScheduled && !d.ScheduledDate.After(today)
		retry := d.Status == model.DeliveryFailed && !d.UpdatedAt.After(retryBefore) && d.Attempts-d.RetryBase < maxAttempts
		if due || retry {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memDeliveries) ListStuckProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]model.SubscriptionDelivery, error) {
	var out []model.SubscriptionDelivery
	for _, d := range m.s.deliveries {
		if d.Status == model.DeliveryProcessing && d.OrderID == nil && d.UpdatedAt.Before(updatedBefore) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- outbox ----

type memOutbox struct{ s *memStore }

func (m memOutbox) Create(ctx context.Context, event model.OutboxEvent) error {
	event.ID = m.s.nextID()
	event.CreatedAt = m.s.clock.Now()
	m.s.outbox = append(m.s.outbox, event)
	return nil
}

func (m memOutbox) ListUnpublished(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var out []model.OutboxEvent
	for _, e := range m.s.outbox {
		if e.PublishedAt == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m memOutbox) MarkPublished(ctx context.Context, eventID int64, at time.Time) error {
	for i := range m.s.outbox {
		if m.s.outbox[i].ID == eventID {
			m.s.outbox[i].PublishedAt = &at
		}
	}
	return nil
}

// ---- catalog / addresses / audit ----
// 監査ログは Tx の中から呼ばれるのでロックしない

type memProducts struct{ s *memStore }

func (m memProducts) FindBySKU(ctx context.Context, sku string) (model.Product, error) {
	p, ok := m.s.products[sku]
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

type memAddresses struct{ s *memStore }

func (m memAddresses) FindByID(ctx context.Context, addressID int64) (model.Address, error) {
	a, ok := m.s.addresses[addressID]
	if !ok {
		return model.Address{}, repo.ErrNotFound
	}
	return a, nil
}

func (m memAddresses) IsOwnedByUser(ctx context.Context, addressID, userID int64) (bool, error) {
	a, ok := m.s.addresses[addressID]
	return ok && a.UserID == userID, nil
}

type memAudit struct{ s *memStore }

func (m memAudit) Create(ctx context.Context, log model.AuditLog) error {
	log.ID = m.s.nextID()
	m.s.audit = append(m.s.audit, log)
	return nil
}

func (m memAudit) List(ctx context.Context, filter repo.AuditLogFilter) ([]model.AuditLog, error) {
	var out []model.AuditLog
	for _, l := range m.s.audit {
		if filter.ResourceID != nil && l.ResourceID != *filter.ResourceID {
			continue
		}
		if filter.ResourceType != nil && l.ResourceType != *filter.ResourceType {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}
