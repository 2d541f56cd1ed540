package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"florist/internal/config"
	"florist/internal/domain/model"
	"florist/internal/handler"
	"florist/internal/infra/cache"
	repo "florist/internal/repository"
	"florist/internal/server"
	"florist/internal/usecase"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var handlerNow = time.Date(2024, 5, 30, 15, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type productFake map[string]model.Product

func (p productFake) FindBySKU(ctx context.Context, sku string) (model.Product, error) {
	prod, ok := p[sku]
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	return prod, nil
}

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

// chargeID が空なら決済代行は落ちている扱い
type gatewayFake struct {
	processor model.Processor

	mu       sync.Mutex
	chargeID string
	keys     []string
}

func (g *gatewayFake) Processor() model.Processor { return g.processor }
func (g *gatewayFake) PublishableKey() string     { return "pk_test_123" }
func (g *gatewayFake) Charge(ctx context.Context, req usecase.ChargeRequest) (usecase.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys = append(g.keys, req.IdempotencyKey)
	if g.chargeID == "" {
		return usecase.ChargeResult{}, usecase.ErrPaymentUnavailable
	}
	return usecase.ChargeResult{ChargeID: g.chargeID}, nil
}
func (g *gatewayFake) CreatePortalSession(ctx context.Context, customerRef string, returnURL string) (string, error) {
	return "", usecase.ErrPaymentUnavailable
}

func (g *gatewayFake) succeed(chargeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chargeID = chargeID
}

func (g *gatewayFake) chargeKeys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.keys...)
}

type signalFake struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (s *signalFake) ApplyDeliverySignal(ctx context.Context, confirmationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, confirmationID)
	return s.err
}

func (s *signalFake) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

const (
	testJWTSecret     = "test-secret"
	testWebhookSecret = "whsec_test"
)

type testEnv struct {
	e       *echo.Echo
	network *networkMock
	gateway *gatewayFake
	orders  *orderStore
	signals *signalFake
	redis   *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := cache.NewCartRedisStore(rdb, time.Hour)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := fixedClock{now: handlerNow}
	network := new(networkMock)
	gateway := &gatewayFake{processor: model.ProcessorStripe}
	products := productFake{
		"ROSES-12":  {ID: 1, SKU: "ROSES-12", Name: "Dozen Red Roses", PriceCents: 4900, IsActive: true},
		"TULIP-OLD": {ID: 2, SKU: "TULIP-OLD", Name: "Old Tulips", PriceCents: 2500, IsActive: false},
	}
	signals := &signalFake{}

	//定期便と管理画面のDBパスはここでは通さない（tx は nil）
	orderTx := newOrderStore(handlerNow)
	delivery := usecase.NewDeliveryUsecase(network, clock, log, 10*time.Minute, 1299)
	carts := usecase.NewCartUsecase(store, products, clock, log)
	orders := usecase.NewOrderUsecase(orderTx, products, store, delivery, network, gateway, clock, usecase.UUIDGenerator{}, log, usecase.DefaultOrderPolicy())
	subs := usecase.NewSubscriptionUsecase(nil, nil, products, delivery, orders, gateway, clock, usecase.UUIDGenerator{}, log, usecase.DefaultSchedulerPolicy())
	admin := usecase.NewAdminOrderUsecase(nil, nil, orders, clock)

	cfg := config.Config{JWTSecret: testJWTSecret, CartTTL: time.Hour, GoEnv: "dev"}
	e := server.New(cfg, log, server.Handlers{
		Delivery:     handler.NewDeliveryHandler(delivery),
		Cart:         handler.NewCartHandler(carts),
		Order:        handler.NewOrderHandler(orders, carts),
		Payment:      handler.NewPaymentHandler(gateway),
		Subscription: handler.NewSubscriptionHandler(subs),
		Webhook:      handler.NewWebhookHandler(signals, testWebhookSecret),
		AdminOrder:   handler.NewAdminOrderHandler(admin),
	})

	return &testEnv{e: e, network: network, gateway: gateway, orders: orderTx, signals: signals, redis: mr}
}

type request struct {
	method  string
	path    string
	body    any
	raw     []byte
	bearer  string
	cookies []*http.Cookie
	headers map[string]string
}

func (env *testEnv) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	switch {
	case r.raw != nil:
		body = bytes.NewReader(r.raw)
	case r.body != nil:
		b, err := json.Marshal(r.body)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}

	req := httptest.NewRequest(r.method, r.path, body)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if r.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.bearer)
	}
	for _, ck := range r.cookies {
		req.AddCookie(ck)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, userID int64, role string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": userID, "role": role, "exp": time.Now().Add(time.Hour).Unix()}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return s
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func date(s string) time.Time {
	d, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}
