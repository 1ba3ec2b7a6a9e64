/*
config.go - Process configuration from the environment

PURPOSE:
  Collects every tunable of the stock server in one struct. Values come
  from environment variables (cmd/server loads a .env file first when one
  exists); anything unset falls back to a default that runs a single-node
  SQLite deployment with Kafka disabled.

VARIABLES:
  HTTP_PORT            listen port                      (8080)
  ADMIN_RESET_ENABLED  mount POST /api/admin/reset      (false)
  LOG_LEVEL            debug|info|warn|error            (info)
  LOG_ENCODING         json|console                     (json)
  DB_DRIVER            sqlite3|pgx|memory               (sqlite3)
  DB_DSN               file path or postgres URL        (./data/stock.db)
  DB_LOCK_TIMEOUT_MS   row lock wait before Busy        (5000)
  DB_MAX_OPEN_CONNS    pool size, 0 = driver default    (0)
  SALES_TAX_RATE       fraction applied to subtotals    (0.15)
  RETRY_MAX_ATTEMPTS   attempts for Busy operations     (3)
  KAFKA_ENABLED        start the order listener         (false)
  KAFKA_BROKERS        comma separated                  (localhost:9092)
  KAFKA_TOPIC_ORDERS   completed order events           (orders.completed)
  KAFKA_GROUP_ID       consumer group                   (stock-engine)
  RECONCILE_INTERVAL   Go duration, 0 disables          (1h)

SEE ALSO:
  - cmd/server/main.go: Flags override HTTP_PORT and DB_DSN
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Server    ServerConfig
	Logger    LoggerConfig
	Database  DatabaseConfig
	Sales     SalesConfig
	Retry     RetryConfig
	Kafka     KafkaConfig
	Reconcile ReconcileConfig
}

type ServerConfig struct {
	HTTPPort string
	// AdminResetEnabled mounts the route that drops every table, ledger
	// included. Development only.
	AdminResetEnabled bool
}

type LoggerConfig struct {
	Level    string
	Encoding string
}

type DatabaseConfig struct {
	Driver        string
	DSN           string
	LockTimeoutMS int
	MaxOpenConns  int
}

// LockTimeout is LockTimeoutMS as a duration.
func (c DatabaseConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

type SalesConfig struct {
	TaxRate decimal.Decimal
}

type RetryConfig struct {
	MaxAttempts int
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
	GroupID string
}

type ReconcileConfig struct {
	Interval time.Duration
}

func LoadEnv() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:          getEnv("HTTP_PORT", "8080"),
			AdminResetEnabled: getEnvBool("ADMIN_RESET_ENABLED", false),
		},
		Logger: LoggerConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", "json"),
		},
		Database: DatabaseConfig{
			Driver:        getEnv("DB_DRIVER", "sqlite3"),
			DSN:           getEnv("DB_DSN", "./data/stock.db"),
			LockTimeoutMS: getEnvInt("DB_LOCK_TIMEOUT_MS", 5000),
			MaxOpenConns:  getEnvInt("DB_MAX_OPEN_CONNS", 0),
		},
		Sales: SalesConfig{
			TaxRate: getEnvDecimal("SALES_TAX_RATE", decimal.RequireFromString("0.15")),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC_ORDERS", "orders.completed"),
			GroupID: getEnv("KAFKA_GROUP_ID", "stock-engine"),
		},
		Reconcile: ReconcileConfig{
			Interval: getEnvDuration("RECONCILE_INTERVAL", time.Hour),
		},
	}
}

// NewLogger builds the process logger. "console" encoding gets zap's
// development config (colored levels, stack traces on warn); anything else
// gets the production JSON config.
func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Encoding == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zc.Build()
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := decimal.NewFromString(value); err == nil && !d.IsNegative() {
			return d
		}
	}
	return fallback
}
