package usecase_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"florist/internal/domain/model"
	"florist/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("00000000-0000-0000-0000-%012d", g.n)
}

// =====================
// 外部サービスの mock
// =====================

type networkMock struct{ mock.Mock }

func (m *networkMock) DeliveryDates(ctx context.Context, zip string) ([]model.DeliveryDateOption, error) {
	args := m.Called(ctx, zip)
	dates, _ := args.Get(0).([]model.DeliveryDateOption)
	return dates, args.Error(1)
}

func (m *networkMock) GetTotal(ctx context.Context, zip string, date time.Time, subtotalCents int64) (model.OrderTotals, error) {
	args := m.Called(ctx, zip, date, subtotalCents)
	totals, _ := args.Get(0).(model.OrderTotals)
	return totals, args.Error(1)
}

func (m *networkMock) SubmitOrder(ctx context.Context, order usecase.FulfillmentOrder) (string, error) {
	args := m.Called(ctx, order)
	return args.String(0), args.Error(1)
}

func (m *networkMock) OrderStatus(ctx context.Context, confirmationID string) (usecase.FulfillmentStatus, error) {
	args := m.Called(ctx, confirmationID)
	status, _ := args.Get(0).(usecase.FulfillmentStatus)
	return status, args.Error(1)
}

type gatewayMock struct {
	mock.Mock
	processor model.Processor
}

func (m *gatewayMock) Processor() model.Processor { return m.processor }

func (m *gatewayMock) PublishableKey() string { return "pk_test" }

func (m *gatewayMock) Charge(ctx context.Context, req usecase.ChargeRequest) (usecase.ChargeResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(usecase.ChargeResult)
	return res, args.Error(1)
}

func (m *gatewayMock) CreatePortalSession(ctx context.Context, customerRef string, returnURL string) (string, error) {
	args := m.Called(ctx, customerRef, returnURL)
	return args.String(0), args.Error(1)
}

type memCartStore struct {
	mu    sync.Mutex
	carts map[string]model.Cart
	err   error
}

func newMemCartStore() *memCartStore {
	return &memCartStore{carts: map[string]model.Cart{}}
}

func (s *memCartStore) Get(ctx context.Context, sessionID string) (*model.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	c, ok := s.carts[sessionID]
	if !ok {
		return nil, nil
	}
	c.Items = append([]model.CartItem(nil), c.Items...)
	return &c, nil
}

func (s *memCartStore) Save(ctx context.Context, cart *model.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	c := *cart
	c.Items = append([]model.CartItem(nil), cart.Items...)
	s.carts[cart.SessionID] = c
	return nil
}

func (s *memCartStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	delete(s.carts, sessionID)
	return nil
}

func (s *memCartStore) has(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.carts[sessionID]
	return ok
}

// =====================
// 組み立て
// =====================

type harness struct {
	clock    *fakeClock
	store    *memStore
	carts    *memCartStore
	network  *networkMock
	gateway  *gatewayMock
	delivery *usecase.DeliveryUsecase
	cart     *usecase.CartUsecase
	orders   *usecase.OrderUsecase
	subs     *usecase.SubscriptionUsecase
	admin    *usecase.AdminOrderUsecase
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	clock := &fakeClock{now: now}
	store := newMemStore(clock)
	carts := newMemCartStore()
	network := new(networkMock)
	gateway := &gatewayMock{processor: model.ProcessorStripe}
	ids := &seqIDs{}
	log := discardLogger()

	policy := usecase.DefaultOrderPolicy()
	policy.PaymentRetryBackoff = 0

	delivery := usecase.NewDeliveryUsecase(network, clock, log, 10*time.Minute, 1299)
	orders := usecase.NewOrderUsecase(store, memProducts{store}, carts, delivery, network, gateway, clock, ids, log, policy)
	subs := usecase.NewSubscriptionUsecase(store, memAddresses{store}, memProducts{store}, delivery, orders, gateway, clock, ids, log, usecase.DefaultSchedulerPolicy())

	return &harness{
		clock:    clock,
		store:    store,
		carts:    carts,
		network:  network,
		gateway:  gateway,
		delivery: delivery,
		cart:     usecase.NewCartUsecase(carts, memProducts{store}, clock, log),
		orders:   orders,
		subs:     subs,
		admin:    usecase.NewAdminOrderUsecase(store, memAudit{store}, orders, clock),
	}
}

func date(s string) time.Time {
	d, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

var (
	roses = model.Product{ID: 1, SKU: "ROSE-12", Name: "A dozen red roses", PriceCents: 4900, IsActive: true}
	tulip = model.Product{ID: 2, SKU: "TULIP-10", Name: "Spring tulips", PriceCents: 3500, IsActive: true}
	luxe  = model.Product{ID: 3, SKU: "SUB-luxe", Name: "Luxe monthly", PriceCents: 8900, IsActive: true}
)

func recipient(zip string) model.Recipient {
	return model.Recipient{
		Name:  "Dana Reyes",
		Phone: "415-555-0100",
		Address: model.PostalAddress{
			Line1: "100 Market St",
			City:  "San Francisco",
			State: "CA",
			Zip:   zip,
		},
	}
}

func sender() model.Contact {
	return model.Contact{Name: "Sam Ortiz", Email: "sam@example.com", Phone: "212-555-0101"}
}

func billing() model.PostalAddress {
	return model.PostalAddress{Line1: "1 Main St", City: "Brooklyn", State: "NY", Zip: "11201"}
}

func stripeToken(expires time.Time) model.PaymentToken {
	return model.PaymentToken{Processor: model.ProcessorStripe, Value: "tok_visa", ExpiresAt: expires}
}

// chargeKey は決済代行に渡る冪等キーの形
func isOrderChargeKey(req usecase.ChargeRequest) bool {
	return strings.HasPrefix(req.IdempotencyKey, "order-")
}

func assertHTTPStatus(t *testing.T, err error, status int) {
	t.Helper()
	he, ok := usecase.AsHTTPError(err)
	if assert.True(t, ok, "want HTTPError, got %v", err) {
		assert.Equal(t, status, he.Status)
	}
}
