package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnv_Defaults(t *testing.T) {
	for _, key := range []string{"HTTP_PORT", "ADMIN_RESET_ENABLED", "DB_DRIVER", "DB_LOCK_TIMEOUT_MS", "SALES_TAX_RATE", "KAFKA_ENABLED", "RECONCILE_INTERVAL"} {
		t.Setenv(key, "")
	}
	// t.Setenv cannot unset, so empty strings exercise the parse fallbacks
	// for the typed getters and the literal value for getEnv.
	cfg := LoadEnv()

	assert.Equal(t, 5*time.Second, cfg.Database.LockTimeout())
	assert.True(t, decimal.RequireFromString("0.15").Equal(cfg.Sales.TaxRate))
	assert.False(t, cfg.Kafka.Enabled)
	assert.False(t, cfg.Server.AdminResetEnabled)
	assert.Equal(t, time.Hour, cfg.Reconcile.Interval)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadEnv_Overrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("ADMIN_RESET_ENABLED", "true")
	t.Setenv("DB_DRIVER", "pgx")
	t.Setenv("DB_DSN", "postgres://stock@localhost/stock")
	t.Setenv("DB_LOCK_TIMEOUT_MS", "250")
	t.Setenv("SALES_TAX_RATE", "0.08")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("RECONCILE_INTERVAL", "15m")

	cfg := LoadEnv()

	assert.Equal(t, "9090", cfg.Server.HTTPPort)
	assert.True(t, cfg.Server.AdminResetEnabled)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, "postgres://stock@localhost/stock", cfg.Database.DSN)
	assert.Equal(t, 250*time.Millisecond, cfg.Database.LockTimeout())
	assert.True(t, decimal.RequireFromString("0.08").Equal(cfg.Sales.TaxRate))
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 15*time.Minute, cfg.Reconcile.Interval)
}

func TestLoadEnv_NegativeTaxRate_FallsBack(t *testing.T) {
	t.Setenv("SALES_TAX_RATE", "-0.2")

	cfg := LoadEnv()

	assert.True(t, decimal.RequireFromString("0.15").Equal(cfg.Sales.TaxRate))
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggerConfig{Level: "debug", Encoding: "console"})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	logger, err = NewLogger(LoggerConfig{Level: "warn", Encoding: "json"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1), "debug disabled at warn")

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}
