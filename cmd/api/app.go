package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"florist/internal/config"
	"florist/internal/domain/model"
	"florist/internal/handler"
	"florist/internal/infra/cache"
	"florist/internal/infra/db"
	"florist/internal/infra/fulfillment"
	"florist/internal/infra/payment"
	"florist/internal/infra/publisher"
	infraRepo "florist/internal/infra/repository"
	"florist/internal/server"
	"florist/internal/usecase"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// 依存の組み立て（serve / tick 共通）
type app struct {
	cfg config.Config
	log *slog.Logger

	db    *gorm.DB
	redis *redis.Client
	tx    *infraRepo.TxManagerGorm

	gateway payment.Adapter

	delivery      *usecase.DeliveryUsecase
	carts         *usecase.CartUsecase
	orders        *usecase.OrderUsecase
	subscriptions *usecase.SubscriptionUsecase
	admin         *usecase.AdminOrderUsecase
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.GoEnv == "dev" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func newApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	//DB接続
	gdb, err := db.Connect(cfg.DatabaseURL, db.PoolConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		closeDB(gdb, log)
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	clock := usecase.SystemClock{}
	ids := usecase.UUIDGenerator{}

	gateway, err := payment.New(payment.Config{
		Processor: model.Processor(cfg.PaymentProcessor),
		Timeout:   cfg.UpstreamTimeout,
		Stripe: payment.StripeConfig{
			BaseURL:        cfg.StripeBaseURL,
			PublishableKey: cfg.StripePublishableKey,
			SecretKey:      cfg.StripeSecretKey,
		},
		AuthorizeNet: payment.AuthorizeNetConfig{
			BaseURL:        cfg.AuthorizeNetBaseURL,
			APILoginID:     cfg.AuthorizeNetAPILoginID,
			TransactionKey: cfg.AuthorizeNetTransactionKey,
			ClientKey:      cfg.AuthorizeNetClientKey,
			PortalURL:      cfg.AuthorizeNetPortalURL,
		},
	}, clock, log)
	if err != nil {
		_ = rdb.Close()
		closeDB(gdb, log)
		return nil, err
	}

	network := fulfillment.NewClient(fulfillment.Config{
		BaseURL: cfg.FulfillmentBaseURL,
		APIKey:  cfg.FulfillmentAPIKey,
		Timeout: cfg.UpstreamTimeout,
	}, log)

	//Repository（GORM実装）生成
	tx := infraRepo.NewTxManagerGorm(gdb)
	products := infraRepo.NewProductGormRepository(gdb)
	addresses := infraRepo.NewAddressGormRepository(gdb)
	audit := infraRepo.NewAuditLogGormRepository(gdb)
	carts := cache.NewCartRedisStore(rdb, cfg.CartTTL)

	orderPolicy := usecase.DefaultOrderPolicy()
	orderPolicy.UpstreamTimeout = cfg.UpstreamTimeout
	orderPolicy.PaymentMaxAttempts = cfg.PaymentMaxAttempts
	orderPolicy.FulfillmentMaxAttempts = cfg.FulfillmentMaxAttempts
	orderPolicy.FulfillmentRetryBackoff = cfg.FulfillmentRetryBackoff
	orderPolicy.PendingOrderTTL = cfg.PendingOrderTTL

	schedulerPolicy := usecase.DefaultSchedulerPolicy()
	schedulerPolicy.MaxAttempts = cfg.SubscriptionMaxAttempts

	//Usecase生成
	delivery := usecase.NewDeliveryUsecase(network, clock, log, cfg.QuoteTTL, cfg.DefaultDeliveryFeeCents)
	orders := usecase.NewOrderUsecase(tx, products, carts, delivery, network, gateway, clock, ids, log, orderPolicy)

	return &app{
		cfg:           cfg,
		log:           log,
		db:            gdb,
		redis:         rdb,
		tx:            tx,
		gateway:       gateway,
		delivery:      delivery,
		carts:         usecase.NewCartUsecase(carts, products, clock, log),
		orders:        orders,
		subscriptions: usecase.NewSubscriptionUsecase(tx, addresses, products, delivery, orders, gateway, clock, ids, log, schedulerPolicy),
		admin:         usecase.NewAdminOrderUsecase(tx, audit, orders, clock),
	}, nil
}

// Handler生成
func (a *app) handlers() server.Handlers {
	return server.Handlers{
		Delivery:     handler.NewDeliveryHandler(a.delivery),
		Cart:         handler.NewCartHandler(a.carts),
		Order:        handler.NewOrderHandler(a.orders, a.carts),
		Payment:      handler.NewPaymentHandler(a.gateway),
		Subscription: handler.NewSubscriptionHandler(a.subscriptions),
		Webhook:      handler.NewWebhookHandler(a.orders, a.cfg.FulfillmentWebhookSecret),
		AdminOrder:   handler.NewAdminOrderHandler(a.admin),
	}
}

// KAFKA_BROKERS が無ければ nil
func (a *app) outboxPoller() *publisher.OutboxPoller {
	if len(a.cfg.KafkaBrokers) == 0 {
		return nil
	}
	writer := publisher.NewKafkaWriter(a.cfg.KafkaTopic, a.cfg.KafkaBrokers...)
	return publisher.NewOutboxPoller(a.tx, writer, a.log, time.Second)
}

func (a *app) Close() {
	if err := a.redis.Close(); err != nil {
		a.log.Warn("redis close failed", slog.Any("error", err))
	}
	closeDB(a.db, a.log)
}

func closeDB(gdb *gorm.DB, log *slog.Logger) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("database close failed", slog.Any("error", err))
	}
}
