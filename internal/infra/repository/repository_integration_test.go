//go:build integration

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"florist/internal/domain/model"
	"florist/internal/infra/db"
	repo "florist/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("florist"),
		postgres.WithUsername("florist"),
		postgres.WithPassword("florist"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	gdb, err := db.Connect(dsn, db.PoolConfig{MaxOpenConns: 5})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	require.NoError(t, db.RunMigrations(gdb))
	//2回目は変更なし
	require.NoError(t, db.RunMigrations(gdb))
	return gdb
}

func newTestOrder(key string) model.Order {
	return model.Order{
		Status:             model.OrderStatusPending,
		Processor:          model.ProcessorStripe,
		SubtotalCents:      4900,
		DeliveryFeeCents:   1499,
		TaxCents:           404,
		TotalCents:         6803,
		Sender:             model.Contact{Name: "Ann", Email: "ann@example.com"},
		Billing:            model.PostalAddress{Line1: "1 Main St", City: "Austin", State: "TX", Zip: "78701"},
		IdempotencyKey:     key,
		RequestFingerprint: "fp-" + key,
	}
}

func TestOrderRepository_CreateAndIdempotencyKey(t *testing.T) {
	gdb := setupTestDB(t)
	ctx := context.Background()
	orders := NewOrderGormRepository(gdb)

	id, err := orders.Create(ctx, newTestOrder("key-1"))
	require.NoError(t, err)
	assert.Positive(t, id)

	got, ok, err := orders.FindByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, got.ID)
	assert.True(t, got.TotalConsistent())

	_, err = orders.Create(ctx, newTestOrder("key-1"))
	assert.ErrorIs(t, err, repo.ErrDuplicateKey)

	_, ok, err = orders.FindByIdempotencyKey(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = orders.FindByID(ctx, 999999)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestOrderRepository_TotalCheckConstraint(t *testing.T) {
	gdb := setupTestDB(t)
	orders := NewOrderGormRepository(gdb)

	o := newTestOrder("bad-total")
	o.TotalCents = 1
	_, err := orders.Create(context.Background(), o)
	assert.Error(t, err)
}

func TestOrderRepository_TransitionIsConditional(t *testing.T) {
	gdb := setupTestDB(t)
	ctx := context.Background()
	orders := NewOrderGormRepository(gdb)

	id, err := orders.Create(ctx, newTestOrder("key-2"))
	require.NoError(t, err)

	now := time.Now().UTC()
	chargeID := "ch_1"
	require.NoError(t, orders.Transition(ctx, id, model.OrderStatusPending, model.OrderStatusProcessing, repo.OrderChanges{
		ChargeID:          &chargeID,
		ChargeAttemptedAt: &now,
		NextFulfillmentAt: &now,
	}))

	//もう pending ではない
	err = orders.Transition(ctx, id, model.OrderStatusPending, model.OrderStatusCancelled, repo.OrderChanges{})
	assert.ErrorIs(t, err, repo.ErrStatusConflict)

	got, err := orders.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusProcessing, got.Status)
	require.NotNil(t, got.ChargeID)
	assert.Equal(t, "ch_1", *got.ChargeID)
}

func TestOrderRepository_ClaimFulfillmentAttempt(t *testing.T) {
	gdb := setupTestDB(t)
	ctx := context.Background()
	orders := NewOrderGormRepository(gdb)

	id, err := orders.Create(ctx, newTestOrder("key-3"))
	require.NoError(t, err)
	past := time.Now().Add(-time.Minute)
	require.NoError(t, orders.Transition(ctx, id, model.OrderStatusPending, model.OrderStatusProcessing, repo.OrderChanges{NextFulfillmentAt: &past}))

	due, err := orders.ListFulfillmentDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	lease := time.Now().Add(time.Minute)
	require.NoError(t, orders.ClaimFulfillmentAttempt(ctx, id, 0, lease))
	//同じ expected で2回目は取れない
	assert.ErrorIs(t, orders.ClaimFulfillmentAttempt(ctx, id, 0, lease), repo.ErrStatusConflict)

	due, err = orders.ListFulfillmentDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	confirmation := "FN-100"
	require.NoError(t, orders.Transition(ctx, id, model.OrderStatusProcessing, model.OrderStatusConfirmed, repo.OrderChanges{
		ExternalConfirmationID: &confirmation,
		ClearNextFulfillment:   true,
	}))
	got, err := orders.FindByConfirmationID(ctx, "FN-100")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, 1, got.FulfillmentAttempts)
	assert.Nil(t, got.NextFulfillmentAt)
}

func TestOrderRepository_ListNeedsReconciliation(t *testing.T) {
	gdb := setupTestDB(t)
	ctx := context.Background()
	orders := NewOrderGormRepository(gdb)

	flagged := true
	reason := model.ReconcileChargeUnknown
	for i := 0; i < 3; i++ {
		id, err := orders.Create(ctx, newTestOrder(uuid.NewString()))
		require.NoError(t, err)
		if i == 1 {
			continue
		}
		require.NoError(t, orders.Transition(ctx, id, model.OrderStatusPending, model.OrderStatusPending, repo.OrderChanges{
			NeedsReconciliation:  &flagged,
			ReconciliationReason: &reason,
		}))
	}

	items, total, err := orders.ListNeedsReconciliation(ctx, 1, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, items, 1)
	assert.Equal(t, model.ReconcileChargeUnknown, items[0].ReconciliationReason)
}

func createSubscription(t *testing.T, gdb *gorm.DB, status model.SubscriptionStatus) model.Subscription {
	t.Helper()
	ctx := context.Background()

	addr := model.Address{
		UserID:        7,
		Name:          "Bo",
		Phone:         "5125550100",
		PostalAddress: model.PostalAddress{Line1: "2 Oak Ave", City: "Austin", State: "TX", Zip: "78701"},
	}
	require.NoError(t, gdb.WithContext(ctx).Create(&addr).Error)

	next := model.DateOnly(time.Now())
	sub := model.Subscription{
		UserID:           7,
		Tier:             model.TierClassic,
		Frequency:        model.FrequencyWeekly,
		Status:           status,
		ProductSKU:       model.TierClassic.ProductSKU(),
		PriceCents:       3999,
		NextDeliveryDate: &next,
		AnchorDay:        next.Day(),
		Sender:           model.Contact{Name: "Ann", Email: "ann@example.com"},
		AddressID:        addr.ID,
		Processor:        model.ProcessorStripe,
		CustomerRef:      "cus_123",
	}
	id, err := NewSubscriptionGormRepository(gdb).Create(ctx, sub)
	require.NoError(t, err)
	sub.ID = id
	return sub
}

func TestSubscriptionDeliveryRepository_OnePendingCycle(t *testing.T) {
	gdb := setupTestDB(t)
	ctx := context.Background()
	deliveries := NewSubscriptionDeliveryGormRepository(gdb)
	sub := createSubscription(t, gdb, model.SubscriptionActive)

	today := model.DateOnly(time.Now())
	id, err := deliveries.Create(ctx, model.SubscriptionDelivery{SubscriptionID: sub.ID, ScheduledDate: today, Status: model.DeliveryScheduled})
	require.NoError(t, err)

	//未完了サイクルは1つだけ
	_, err = deliveries.Create(ctx, model.SubscriptionDelivery{SubscriptionID: sub.ID, ScheduledDate: today.AddDate(0, 0, 7), Status: model.DeliveryScheduled})
	assert.ErrorIs(t, err, repo.ErrDuplicateKey)

	pending, ok, err := deliveries.FindPendingBySubscriptionID(ctx, sub.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, pending.ID)

	require.NoError(t, deliveries.Transition(ctx, id, model.DeliveryScheduled, model.DeliverySkipped, repo.DeliveryChanges{}))
	_, ok, err = deliveries.FindPendingBySubscriptionID(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	//終わったサイクルがあれば次を作れる
	_, err = deliveries.Create(ctx, model.SubscriptionDelivery{SubscriptionID: sub.ID, ScheduledDate: today.AddDate(0, 0, 7), Status: model.DeliveryScheduled})
	require.NoError(t, err)

	list, err := deliveries.ListBySubscriptionID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSubscriptionDeliveryRepository_ListDue(t *testing.T) {
	gdb := setupTestDB(t)
	ctx := context.Background()
	deliveries := NewSubscriptionDeliveryGormRepository(gdb)

	today := model.DateOnly(time.Now())
	active := createSubscription(t, gdb, model.SubscriptionActive)
	paused := createSubscription(t, gdb, model.SubscriptionPaused)
	failed := createSubscription(t, gdb, model.SubscriptionActive)
	future := createSubscription(t, gdb, model.SubscriptionActive)

	dueID, err := deliveries.Create(ctx, model.SubscriptionDelivery{SubscriptionID: active.ID, ScheduledDate: today, Status: model.DeliveryScheduled})
	require.NoError(t, err)
	_, err = deliveries.Create(ctx, model.SubscriptionDelivery{SubscriptionID: paused.ID, ScheduledDate: today, Status: model.DeliveryScheduled})
	require.NoError(t, err)
	_, err = deliveries.Create(ctx, model.SubscriptionDelivery{SubscriptionID: future.ID, ScheduledDate: today.AddDate(0, 0, 3), Status: model.DeliveryScheduled})
	require.NoError(t, err)
	//試行を使い切った失敗は対象外
	_, err = deliveries.Create(ctx, model.SubscriptionDelivery{SubscriptionID: failed.ID, ScheduledDate: today, Status: model.DeliveryFailed, Attempts: 3})
	require.NoError(t, err)

	list, err := deliveries.ListDue(ctx, today, time.Now().Add(time.Minute), 3, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, dueID, list[0].ID)
}

func TestSubscriptionRepository_UpdateIfStatus(t *testing.T) {
	gdb := setupTestDB(t)
	ctx := context.Background()
	subs := NewSubscriptionGormRepository(gdb)
	sub := createSubscription(t, gdb, model.SubscriptionActive)

	paused := model.SubscriptionPaused
	cancelled := model.SubscriptionCancelled
	require.NoError(t, subs.UpdateIfStatus(ctx, sub.ID, model.SubscriptionActive, repo.SubscriptionChanges{Status: &paused}))
	err := subs.UpdateIfStatus(ctx, sub.ID, model.SubscriptionActive, repo.SubscriptionChanges{Status: &cancelled})
	assert.ErrorIs(t, err, repo.ErrStatusConflict)

	got, err := subs.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionPaused, got.Status)
}

func TestTxManager_RollbackAndOutbox(t *testing.T) {
	gdb := setupTestDB(t)
	ctx := context.Background()
	tx := NewTxManagerGorm(gdb)

	boom := errors.New("boom")
	err := tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Orders().Create(ctx, newTestOrder("rolled-back")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, ok, err := NewOrderGormRepository(gdb).FindByIdempotencyKey(ctx, "rolled-back")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tx.WithinTx(ctx, func(r repo.TxRepos) error {
		id, err := r.Orders().Create(ctx, newTestOrder("committed"))
		if err != nil {
			return err
		}
		return r.Outbox().Create(ctx, model.OutboxEvent{
			EventID:       uuid.NewString(),
			AggregateType: "order",
			AggregateID:   id,
			EventType:     model.EventOrderConfirmed,
			Payload:       `{"order_id":1}`,
		})
	}))

	outbox := NewOutboxGormRepository(gdb)
	events, err := outbox.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.NoError(t, outbox.MarkPublished(ctx, events[0].ID, time.Now()))
	assert.ErrorIs(t, outbox.MarkPublished(ctx, events[0].ID, time.Now()), repo.ErrNotFound)

	events, err = outbox.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestProductRepository_FindBySKU(t *testing.T) {
	gdb := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, gdb.Create(&model.Product{SKU: "ROSES-12", Name: "Dozen Roses", PriceCents: 4900, IsActive: true}).Error)

	products := NewProductGormRepository(gdb)
	p, err := products.FindBySKU(ctx, "ROSES-12")
	require.NoError(t, err)
	assert.EqualValues(t, 4900, p.PriceCents)

	require.NoError(t, gdb.Delete(&p).Error)
	_, err = products.FindBySKU(ctx, "ROSES-12")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}
