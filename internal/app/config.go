package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/service/router"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Транспорты событий саги.
const (
	TransportLoopback = "loopback"
	TransportKafka    = "kafka"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// RedisAddr переключает складской леджер на Redis-бэкенд.
	RedisAddr string

	EventTransport     string
	KafkaBrokers       []string
	KafkaGroupPrefix   string
	ConsumerMaxRetries int

	OutboxPollInterval     time.Duration
	OutboxBatchSize        int
	OutboxMaxAttempts      int
	OutboxRetryDelay       time.Duration
	OutboxBacklogThreshold int

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
	ClaimTTL                    time.Duration

	PaymentSweepInterval  time.Duration
	PaymentPendingTimeout time.Duration

	HandlerRetry router.RetryConfig
}

// DefaultConfig возвращает конфигурацию для локального запуска:
// in-memory хранилище и loopback-доставка событий без внешних брокеров.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		EventTransport:     TransportLoopback,
		KafkaGroupPrefix:   "fulfillment",
		ConsumerMaxRetries: 3,

		OutboxPollInterval:     time.Second,
		OutboxBatchSize:        100,
		OutboxMaxAttempts:      3,
		OutboxRetryDelay:       50 * time.Millisecond,
		OutboxBacklogThreshold: 1000,

		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		ClaimTTL:                    24 * time.Hour,

		PaymentSweepInterval:  time.Minute,
		PaymentPendingTimeout: 5 * time.Minute,

		HandlerRetry: router.DefaultRetryConfig(),
	}
}

// LoadConfig строит конфигурацию из переменных окружения с префиксом
// FULFILLMENT_, не заданные переменные оставляют значения по умолчанию.
func LoadConfig() Config {
	cfg := DefaultConfig()

	cfg.HTTPAddr = envString("FULFILLMENT_HTTP_ADDR", cfg.HTTPAddr)
	cfg.GRPCAddr = envString("FULFILLMENT_GRPC_ADDR", cfg.GRPCAddr)
	cfg.MetricsAddr = envString("FULFILLMENT_METRICS_ADDR", cfg.MetricsAddr)

	cfg.StorageDriver = envString("FULFILLMENT_STORAGE_DRIVER", cfg.StorageDriver)
	cfg.PostgresDSN = envString("FULFILLMENT_POSTGRES_DSN", cfg.PostgresDSN)
	cfg.PostgresAutoMigrate = envBool("FULFILLMENT_POSTGRES_AUTO_MIGRATE", cfg.PostgresAutoMigrate)
	cfg.RedisAddr = envString("FULFILLMENT_REDIS_ADDR", cfg.RedisAddr)

	cfg.EventTransport = envString("FULFILLMENT_EVENT_TRANSPORT", cfg.EventTransport)
	cfg.KafkaBrokers = parseBrokers(envString("FULFILLMENT_KAFKA_BROKERS", strings.Join(cfg.KafkaBrokers, ",")))
	cfg.KafkaGroupPrefix = envString("FULFILLMENT_KAFKA_GROUP_PREFIX", cfg.KafkaGroupPrefix)
	cfg.ConsumerMaxRetries = envInt("FULFILLMENT_CONSUMER_MAX_RETRIES", cfg.ConsumerMaxRetries)

	cfg.OutboxPollInterval = envDuration("FULFILLMENT_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = envInt("FULFILLMENT_OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxAttempts = envInt("FULFILLMENT_OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts)
	cfg.OutboxRetryDelay = envDuration("FULFILLMENT_OUTBOX_RETRY_DELAY", cfg.OutboxRetryDelay)
	cfg.OutboxBacklogThreshold = envInt("FULFILLMENT_OUTBOX_BACKLOG_THRESHOLD", cfg.OutboxBacklogThreshold)

	cfg.IdempotencyCleanupInterval = envDuration("FULFILLMENT_IDEMPOTENCY_CLEANUP_INTERVAL", cfg.IdempotencyCleanupInterval)
	cfg.IdempotencyCleanupBatchSize = envInt("FULFILLMENT_IDEMPOTENCY_CLEANUP_BATCH_SIZE", cfg.IdempotencyCleanupBatchSize)
	cfg.ClaimTTL = envDuration("FULFILLMENT_CLAIM_TTL", cfg.ClaimTTL)

	cfg.PaymentSweepInterval = envDuration("FULFILLMENT_PAYMENT_SWEEP_INTERVAL", cfg.PaymentSweepInterval)
	cfg.PaymentPendingTimeout = envDuration("FULFILLMENT_PAYMENT_PENDING_TIMEOUT", cfg.PaymentPendingTimeout)

	cfg.HandlerRetry.MaxAttempts = envInt("FULFILLMENT_HANDLER_MAX_ATTEMPTS", cfg.HandlerRetry.MaxAttempts)

	return cfg
}

// Validate проверяет согласованность конфигурации перед запуском.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres storage requires FULFILLMENT_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.StorageDriver)
	}

	switch c.EventTransport {
	case TransportLoopback:
	case TransportKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("kafka transport requires FULFILLMENT_KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("unsupported event transport: %s", c.EventTransport)
	}

	if c.OutboxPollInterval <= 0 {
		return fmt.Errorf("outbox poll interval must be > 0")
	}
	if c.OutboxBatchSize <= 0 {
		return fmt.Errorf("outbox batch size must be > 0")
	}
	if c.IdempotencyCleanupInterval <= 0 {
		return fmt.Errorf("idempotency cleanup interval must be > 0")
	}
	if c.ClaimTTL <= 0 {
		return fmt.Errorf("claim ttl must be > 0")
	}
	if c.PaymentPendingTimeout <= 0 {
		return fmt.Errorf("payment pending timeout must be > 0")
	}

	return nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		broker := strings.TrimSpace(chunk)
		if broker == "" {
			continue
		}
		brokers = append(brokers, broker)
	}
	return brokers
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}
