package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://florist:florist@db:5432/florist?sslmode=disable")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PAYMENT_PROCESSOR", "stripe")
	t.Setenv("STRIPE_PUBLISHABLE_KEY", "pk_test")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test")
	t.Setenv("FULFILLMENT_BASE_URL", "http://network.local")
	t.Setenv("FULFILLMENT_API_KEY", "key")
	t.Setenv("FULFILLMENT_WEBHOOK_SECRET", "whsec")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr())
	assert.Equal(t, "stripe", cfg.PaymentProcessor)
	assert.Equal(t, 10*time.Minute, cfg.QuoteTTL)
	assert.Equal(t, 5*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, 3, cfg.FulfillmentMaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.FulfillmentRetryBackoff)
	assert.Equal(t, 2, cfg.PaymentMaxAttempts)
	assert.Equal(t, 3, cfg.SubscriptionMaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.PendingOrderTTL)
	assert.Equal(t, int64(1299), cfg.DefaultDeliveryFeeCents)
	assert.Equal(t, time.Minute, cfg.SchedulerInterval)
	assert.Equal(t, 72*time.Hour, cfg.CartTTL)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", ":9090")
	t.Setenv("QUOTE_TTL", "90s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr())
	assert.Equal(t, 90*time.Second, cfg.QuoteTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestLoad_PostgresFallback(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_USER", "florist")
	t.Setenv("POSTGRES_PASSWORD", "p@ss")
	t.Setenv("POSTGRES_DB", "shop")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_PORT", "5433")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://florist:p%40ss@db:5433/shop?sslmode=disable", cfg.DatabaseURL)
}

func TestLoad_YAMLFile(t *testing.T) {
	setRequiredEnv(t)
	path := filepath.Join(t.TempDir(), "florist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("quote_ttl: 15m\nscheduler_interval: 30s\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.QuoteTTL)
	assert.Equal(t, 30*time.Second, cfg.SchedulerInterval)
}

func TestLoad_RequiredFields(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"jwt secret", "JWT_SECRET", ""},
		{"processor", "PAYMENT_PROCESSOR", ""},
		{"unknown processor", "PAYMENT_PROCESSOR", "paypal"},
		{"stripe secret", "STRIPE_SECRET_KEY", ""},
		{"fulfillment url", "FULFILLMENT_BASE_URL", ""},
		{"webhook secret", "FULFILLMENT_WEBHOOK_SECRET", ""},
		{"attempts", "PAYMENT_MAX_ATTEMPTS", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_AuthorizeNetRequiresClientKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PAYMENT_PROCESSOR", "authorizenet")
	t.Setenv("AUTHORIZENET_API_LOGIN_ID", "login")
	t.Setenv("AUTHORIZENET_TRANSACTION_KEY", "txkey")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("AUTHORIZENET_CLIENT_KEY", "client")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "authorizenet", cfg.PaymentProcessor)
}
