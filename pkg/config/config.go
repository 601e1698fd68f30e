// Package config loads FluxPay's configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config is the full process configuration, assembled from its sub-configs.
type Config struct {
	App         AppConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Saga        SagaConfig
	Outbox      OutboxConfig
	Idempotency IdempotencyConfig
	Refund      RefundConfig
	Webhook     WebhookConfig
	Tenant      TenantConfig
	PgClient    PgClientConfig
}

// AppConfig carries general process settings.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"fluxpay-engine"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	HTTPPort  int    `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// PostgresConfig configures the primary datastore.
type PostgresConfig struct {
	Host            string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port            int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User            string        `env:"POSTGRES_USER" envDefault:"fluxpay"`
	Password        string        `env:"POSTGRES_PASSWORD" envDefault:"fluxpay"`
	Database        string        `env:"POSTGRES_DATABASE" envDefault:"fluxpay"`
	SSLMode         string        `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	MaxOpenConns    int           `env:"POSTGRES_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"POSTGRES_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"POSTGRES_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN returns a libpq-style connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig configures the idempotency cache tier.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr returns the host:port Redis address.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig configures the outbox publisher's broker.
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	Topic   string   `env:"KAFKA_TOPIC" envDefault:"fluxpay.events"`
}

// SagaConfig controls saga orchestrator timing, per spec.md §6.
type SagaConfig struct {
	Timeout                time.Duration `env:"SAGA_TIMEOUT" envDefault:"30s"`
	StepTimeout             time.Duration `env:"SAGA_STEP_TIMEOUT" envDefault:"10s"`
	CompensationMaxRetries  int           `env:"SAGA_COMPENSATION_MAX_RETRIES" envDefault:"3"`
	CompensationRetryDelay  time.Duration `env:"SAGA_COMPENSATION_RETRY_DELAY" envDefault:"2s"`
	RecoverySweepInterval   time.Duration `env:"SAGA_RECOVERY_SWEEP_INTERVAL" envDefault:"15s"`
	RecoveryStuckThreshold  time.Duration `env:"SAGA_RECOVERY_STUCK_THRESHOLD" envDefault:"2m"`
	RecoveryLeaseDuration   time.Duration `env:"SAGA_RECOVERY_LEASE_DURATION" envDefault:"30s"`
}

// OutboxConfig controls transactional outbox publishing, per spec.md §6.
type OutboxConfig struct {
	BatchSize      int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	MaxRetries     int           `env:"OUTBOX_MAX_RETRIES" envDefault:"5"`
	RetentionDays  int           `env:"OUTBOX_RETENTION_DAYS" envDefault:"14"`
	ClaimTimeout   time.Duration `env:"OUTBOX_CLAIM_TIMEOUT" envDefault:"30s"`
	PollInterval   time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	CleanupInterval time.Duration `env:"OUTBOX_CLEANUP_INTERVAL" envDefault:"1h"`
}

// IdempotencyConfig controls the two-tier idempotency guard, per spec.md §6.
type IdempotencyConfig struct {
	TTL           time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	SweepInterval time.Duration `env:"IDEMPOTENCY_SWEEP_INTERVAL" envDefault:"10m"`
}

// RefundConfig controls refund eligibility windows, per spec.md §6.
type RefundConfig struct {
	PeriodDays       int `env:"REFUND_PERIOD_DAYS" envDefault:"90"`
	MaxPartialRefunds int `env:"REFUND_MAX_PARTIAL_REFUNDS" envDefault:"5"`
}

// WebhookConfig controls outbound webhook delivery retry behavior, per spec.md §6.
type WebhookConfig struct {
	DefaultMaxRetries int           `env:"WEBHOOK_DEFAULT_MAX_RETRIES" envDefault:"5"`
	BaseBackoff       time.Duration `env:"WEBHOOK_BASE_BACKOFF" envDefault:"1s"`
	MaxBackoff        time.Duration `env:"WEBHOOK_MAX_BACKOFF" envDefault:"5m"`
	WorkerConcurrency int           `env:"WEBHOOK_WORKER_CONCURRENCY" envDefault:"8"`
	DeliveryTimeout   time.Duration `env:"WEBHOOK_DELIVERY_TIMEOUT" envDefault:"10s"`
}

// TenantConfig toggles ambient tenant enforcement.
type TenantConfig struct {
	Enabled bool `env:"TENANT_ENABLED" envDefault:"true"`
}

// PgClientConfig configures the outbound PgClient HTTP adapter and its breaker.
type PgClientConfig struct {
	BaseURL            string        `env:"PGCLIENT_BASE_URL" envDefault:"http://localhost:9100"`
	Timeout            time.Duration `env:"PGCLIENT_TIMEOUT" envDefault:"5s"`
	BreakerMinRequests uint32        `env:"PGCLIENT_BREAKER_MIN_REQUESTS" envDefault:"5"`
	BreakerFailureRatio float64      `env:"PGCLIENT_BREAKER_FAILURE_RATIO" envDefault:"0.5"`
	BreakerOpenTimeout time.Duration `env:"PGCLIENT_BREAKER_OPEN_TIMEOUT" envDefault:"30s"`
}

// Load parses configuration from the environment, loading a local .env file if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile parses configuration after loading the given .env file.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("loading env file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// IsDevelopment reports whether App.Env is "development".
func (c *Config) IsDevelopment() bool { return c.App.Env == "development" }

// IsProduction reports whether App.Env is "production".
func (c *Config) IsProduction() bool { return c.App.Env == "production" }
