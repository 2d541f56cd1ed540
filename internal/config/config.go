package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Configはアプリ全体の設定
type Config struct {
	Port  string // サーバーポート（8080）
	GoEnv string // dev/prod

	DatabaseURL string // 直接指定が無ければ POSTGRES_* から組み立てる

	RedisAddr string
	CartTTL   time.Duration

	JWTSecret string // IdPと共有する署名シークレット

	PaymentProcessor string // stripe / authorizenet

	StripeBaseURL        string
	StripePublishableKey string
	StripeSecretKey      string

	AuthorizeNetBaseURL        string
	AuthorizeNetAPILoginID     string
	AuthorizeNetTransactionKey string
	AuthorizeNetClientKey      string
	AuthorizeNetPortalURL      string

	FulfillmentBaseURL       string
	FulfillmentAPIKey        string
	FulfillmentWebhookSecret string

	QuoteTTL                time.Duration
	UpstreamTimeout         time.Duration
	FulfillmentMaxAttempts  int
	FulfillmentRetryBackoff time.Duration
	PaymentMaxAttempts      int
	SubscriptionMaxAttempts int
	PendingOrderTTL         time.Duration
	DefaultDeliveryFeeCents int64 // 表示用のみ
	SchedulerInterval       time.Duration

	KafkaBrokers []string // 空なら outbox の送信はしない
	KafkaTopic   string
}

var defaults = map[string]any{
	"PORT":                      "8080",
	"GO_ENV":                    "dev",
	"POSTGRES_HOST":             "localhost",
	"POSTGRES_PORT":             5432,
	"REDIS_ADDR":                "localhost:6379",
	"CART_TTL":                  "72h",
	"STRIPE_BASE_URL":           "https://api.stripe.com",
	"AUTHORIZENET_BASE_URL":     "https://apitest.authorize.net",
	"AUTHORIZENET_PORTAL_URL":   "https://test.authorize.net/customer/manage",
	"QUOTE_TTL":                 "10m",
	"UPSTREAM_TIMEOUT":          "5s",
	"FULFILLMENT_MAX_ATTEMPTS":  3,
	"FULFILLMENT_RETRY_BACKOFF": "2m",
	"PAYMENT_MAX_ATTEMPTS":      2,
	"SUBSCRIPTION_MAX_ATTEMPTS": 3,
	"PENDING_ORDER_TTL":         "30m",
	"DEFAULT_DELIVERY_FEE":      1299,
	"SCHEDULER_INTERVAL":        "1m",
	"KAFKA_TOPIC":               "florist.events",
}

// Loadは .env と CONFIG_FILE(yaml) を読む。環境変数が優先
func Load() (Config, error) {
	//.envは無くてもよい
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:  v.GetString("PORT"),
		GoEnv: v.GetString("GO_ENV"),

		DatabaseURL: v.GetString("DATABASE_URL"),

		RedisAddr: v.GetString("REDIS_ADDR"),
		CartTTL:   v.GetDuration("CART_TTL"),

		JWTSecret: v.GetString("JWT_SECRET"),

		PaymentProcessor: strings.ToLower(v.GetString("PAYMENT_PROCESSOR")),

		StripeBaseURL:        v.GetString("STRIPE_BASE_URL"),
		StripePublishableKey: v.GetString("STRIPE_PUBLISHABLE_KEY"),
		StripeSecretKey:      v.GetString("STRIPE_SECRET_KEY"),

		AuthorizeNetBaseURL:        v.GetString("AUTHORIZENET_BASE_URL"),
		AuthorizeNetAPILoginID:     v.GetString("AUTHORIZENET_API_LOGIN_ID"),
		AuthorizeNetTransactionKey: v.GetString("AUTHORIZENET_TRANSACTION_KEY"),
		AuthorizeNetClientKey:      v.GetString("AUTHORIZENET_CLIENT_KEY"),
		AuthorizeNetPortalURL:      v.GetString("AUTHORIZENET_PORTAL_URL"),

		FulfillmentBaseURL:       v.GetString("FULFILLMENT_BASE_URL"),
		FulfillmentAPIKey:        v.GetString("FULFILLMENT_API_KEY"),
		FulfillmentWebhookSecret: v.GetString("FULFILLMENT_WEBHOOK_SECRET"),

		QuoteTTL:                v.GetDuration("QUOTE_TTL"),
		UpstreamTimeout:         v.GetDuration("UPSTREAM_TIMEOUT"),
		FulfillmentMaxAttempts:  v.GetInt("FULFILLMENT_MAX_ATTEMPTS"),
		FulfillmentRetryBackoff: v.GetDuration("FULFILLMENT_RETRY_BACKOFF"),
		PaymentMaxAttempts:      v.GetInt("PAYMENT_MAX_ATTEMPTS"),
		SubscriptionMaxAttempts: v.GetInt("SUBSCRIPTION_MAX_ATTEMPTS"),
		PendingOrderTTL:         v.GetDuration("PENDING_ORDER_TTL"),
		DefaultDeliveryFeeCents: v.GetInt64("DEFAULT_DELIVERY_FEE"),
		SchedulerInterval:       v.GetDuration("SCHEDULER_INTERVAL"),

		KafkaBrokers: splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:   v.GetString("KAFKA_TOPIC"),
	}

	if cfg.DatabaseURL == "" {
		dsn, err := postgresDSN(v)
		if err != nil {
			return Config{}, err
		}
		cfg.DatabaseURL = dsn
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DATABASE_URL が無いときは POSTGRES_* から作る
func postgresDSN(v *viper.Viper) (string, error) {
	user := v.GetString("POSTGRES_USER")
	if user == "" {
		return "", fmt.Errorf("DATABASE_URL or POSTGRES_USER is required")
	}
	password := v.GetString("POSTGRES_PASSWORD")
	if password == "" {
		return "", fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	dbName := v.GetString("POSTGRES_DB")
	if dbName == "" {
		return "", fmt.Errorf("POSTGRES_DB is required")
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, password),
		Host:     fmt.Sprintf("%s:%d", v.GetString("POSTGRES_HOST"), v.GetInt("POSTGRES_PORT")),
		Path:     "/" + dbName,
		RawQuery: "sslmode=disable",
	}
	return u.String(), nil
}

// 必須チェック
func (c Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	switch c.PaymentProcessor {
	case "stripe":
		if c.StripePublishableKey == "" || c.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_PUBLISHABLE_KEY and STRIPE_SECRET_KEY are required")
		}
	case "authorizenet":
		if c.AuthorizeNetAPILoginID == "" || c.AuthorizeNetTransactionKey == "" || c.AuthorizeNetClientKey == "" {
			return fmt.Errorf("AUTHORIZENET_API_LOGIN_ID, AUTHORIZENET_TRANSACTION_KEY and AUTHORIZENET_CLIENT_KEY are required")
		}
	case "":
		return fmt.Errorf("PAYMENT_PROCESSOR is required")
	default:
		return fmt.Errorf("PAYMENT_PROCESSOR must be stripe or authorizenet: %q", c.PaymentProcessor)
	}

	if c.FulfillmentBaseURL == "" {
		return fmt.Errorf("FULFILLMENT_BASE_URL is required")
	}
	if c.FulfillmentAPIKey == "" {
		return fmt.Errorf("FULFILLMENT_API_KEY is required")
	}
	if c.FulfillmentWebhookSecret == "" {
		return fmt.Errorf("FULFILLMENT_WEBHOOK_SECRET is required")
	}

	if c.QuoteTTL <= 0 || c.UpstreamTimeout <= 0 || c.SchedulerInterval <= 0 || c.PendingOrderTTL <= 0 {
		return fmt.Errorf("durations must be positive")
	}
	if c.FulfillmentMaxAttempts < 1 || c.PaymentMaxAttempts < 1 || c.SubscriptionMaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	return nil
}

// ListenAddr は ":8080" 形式で返す
func (c Config) ListenAddr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
