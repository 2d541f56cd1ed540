package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"florist/internal/domain/model"
	"florist/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var deliveryNow = time.Date(2024, 5, 30, 15, 0, 0, 0, time.UTC)

func TestDeliveryUsecase_Resolve_InvalidZip_NoNetwork(t *testing.T) {
	for _, zip := range []string{"", "9410", "941022", "94l02", " 94102"} {
		h := newHarness(t, deliveryNow)
		_, err := h.delivery.Resolve(context.Background(), zip)
		assert.ErrorIs(t, err, usecase.ErrInvalidInput, zip)
		assert.Empty(t, h.network.Calls)
	}
}

func TestDeliveryUsecase_Resolve_Success(t *testing.T) {
	h := newHarness(t, deliveryNow)
	h.network.On("DeliveryDates", mock.Anything, "94102").Return([]model.DeliveryDateOption{
		{Date: date("2024-06-01"), FeeCents: 1499, Available: true},
		{Date: date("2024-06-02"), FeeCents: 1999, Available: false},
	}, nil).Once()

	options, err := h.delivery.Resolve(context.Background(), "94102")
	require.NoError(t, err)
	require.Len(t, options, 2)
	assert.Equal(t, int64(1499), options[0].FeeCents)
}

func TestDeliveryUsecase_Resolve_NotDeliverable(t *testing.T) {
	cases := []struct {
		name    string
		options []model.DeliveryDateOption
		err     error
	}{
		{"upstream says no", nil, fmt.Errorf("%w: zip outside area", usecase.ErrNotDeliverable)},
		{"empty list", []model.DeliveryDateOption{}, nil},
		{"nothing available", []model.DeliveryDateOption{{Date: date("2024-06-01"), FeeCents: 1499}}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, deliveryNow)
			h.network.On("DeliveryDates", mock.Anything, "99501").Return(tc.options, tc.err)

			_, err := h.delivery.Resolve(context.Background(), "99501")
			assert.ErrorIs(t, err, usecase.ErrNotDeliverable)
			de, ok := usecase.AsDomainError(err)
			require.True(t, ok)
			assert.Equal(t, "we don't deliver there", de.Message)
		})
	}
}

func TestDeliveryUsecase_Resolve_Unavailable(t *testing.T) {
	h := newHarness(t, deliveryNow)
	h.network.On("DeliveryDates", mock.Anything, "94102").Return(nil, errors.New("connection reset"))

	_, err := h.delivery.Resolve(context.Background(), "94102")
	assert.ErrorIs(t, err, usecase.ErrFulfillmentUnavailable)
	de, ok := usecase.AsDomainError(err)
	require.True(t, ok)
	//上流の文言は出さない
	assert.NotContains(t, de.Message, "connection reset")
	assert.True(t, de.Retryable())
}

func TestDeliveryUsecase_Resolve_CallerCancelDoesNotReachNetwork(t *testing.T) {
	h := newHarness(t, deliveryNow)
	var (
		upstreamErr error
		hasDeadline bool
	)
	h.network.On("DeliveryDates", mock.Anything, "94102").Run(func(args mock.Arguments) {
		callCtx := args.Get(0).(context.Context)
		upstreamErr = callCtx.Err()
		_, hasDeadline = callCtx.Deadline()
	}).Return([]model.DeliveryDateOption{
		{Date: date("2024-06-01"), FeeCents: 1499, Available: true},
	}, nil).Once()

	//呼び出し元が先に切れても上流への問い合わせは続ける
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	options, err := h.delivery.Resolve(ctx, "94102")
	require.NoError(t, err)
	require.Len(t, options, 1)
	assert.NoError(t, upstreamErr)
	assert.True(t, hasDeadline)
}

func TestDeliveryUsecase_Quote(t *testing.T) {
	h := newHarness(t, deliveryNow)
	h.network.On("DeliveryDates", mock.Anything, "94102").Return([]model.DeliveryDateOption{
		{Date: date("2024-06-01"), FeeCents: 1499, Available: true},
		{Date: date("2024-06-02"), FeeCents: 1999, Available: false},
	}, nil)

	q, err := h.delivery.Quote(context.Background(), "94102", date("2024-06-01"))
	require.NoError(t, err)
	assert.Equal(t, int64(1499), q.FeeCents)
	assert.Equal(t, deliveryNow, q.QuotedAt)
	assert.Equal(t, deliveryNow.Add(10*time.Minute), q.ExpiresAt)
	assert.False(t, q.IsStale(deliveryNow.Add(9*time.Minute)))
	assert.True(t, q.IsStale(deliveryNow.Add(10*time.Minute)))

	_, err = h.delivery.Quote(context.Background(), "94102", date("2024-06-02"))
	assert.ErrorIs(t, err, usecase.ErrNotDeliverable)

	_, err = h.delivery.Quote(context.Background(), "94102", date("2024-06-03"))
	assert.ErrorIs(t, err, usecase.ErrNotDeliverable)

	_, err = h.delivery.Quote(context.Background(), "94102", time.Time{})
	assert.ErrorIs(t, err, usecase.ErrInvalidInput)
}

func TestDeliveryUsecase_Refresh(t *testing.T) {
	h := newHarness(t, deliveryNow)
	h.network.On("DeliveryDates", mock.Anything, "94102").Return([]model.DeliveryDateOption{
		{Date: date("2024-06-01"), FeeCents: 1499, Available: true},
	}, nil).Once()
	h.network.On("DeliveryDates", mock.Anything, "94102").Return([]model.DeliveryDateOption{
		{Date: date("2024-06-01"), FeeCents: 1799, Available: true},
	}, nil).Once()

	q, err := h.delivery.Quote(context.Background(), "94102", date("2024-06-01"))
	require.NoError(t, err)

	//期限内はそのまま
	same, err := h.delivery.Refresh(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, q, same)
	h.network.AssertNumberOfCalls(t, "DeliveryDates", 1)

	h.clock.Advance(11 * time.Minute)
	fresh, err := h.delivery.Refresh(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, int64(1799), fresh.FeeCents)
	assert.Equal(t, h.clock.Now(), fresh.QuotedAt)
	h.network.AssertNumberOfCalls(t, "DeliveryDates", 2)
}

func TestDeliveryUsecase_DefaultFee(t *testing.T) {
	h := newHarness(t, deliveryNow)
	assert.Equal(t, int64(1299), h.delivery.DefaultFee())
	assert.Empty(t, h.network.Calls)
}
