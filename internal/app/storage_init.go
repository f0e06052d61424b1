package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/fulfillment/internal/storage/redis"
)

// storages объединяет все репозитории приложения вместе с низкоуровневыми
// подключениями, которые нужно закрывать при остановке.
type storages struct {
	orders        domain.OrderRepository
	outbox        domain.OutboxRepository
	stock         domain.StockLedger
	attempts      domain.PaymentAttemptRepository
	ledger        domain.IdempotencyLedger
	notifications domain.NotificationRepository

	store *postgres.Store
	redis *goredis.Client
}

// initStorage собирает репозитории по выбранному драйверу. RedisAddr
// переключает складской леджер на Redis независимо от основного драйвера.
func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (*storages, error) {
	s := &storages{}

	switch cfg.StorageDriver {
	case StorageDriverMemory:
		s.orders = memory.NewOrderRepository()
		s.outbox = memory.NewOutboxRepository()
		s.stock = memory.NewStockLedger()
		s.attempts = memory.NewPaymentAttemptRepository()
		s.ledger = memory.NewIdempotencyLedger()
		s.notifications = memory.NewNotificationRepository()
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		s.store = store
		s.orders = postgres.NewOrderRepository(store)
		s.outbox = postgres.NewOutboxRepository(store)
		s.stock = postgres.NewStockLedger(store)
		s.attempts = postgres.NewPaymentAttemptRepository(store)
		s.ledger = postgres.NewIdempotencyLedger(store)
		s.notifications = postgres.NewNotificationRepository(store)
		logger.Info("using postgres storage")
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}

	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			s.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		s.redis = client
		s.stock = redisstore.NewStockLedger(client)
		logger.WithField("addr", cfg.RedisAddr).Info("stock ledger backed by redis")
	}

	return s, nil
}

// Close закрывает подключения к внешним хранилищам.
func (s *storages) Close() {
	if s == nil {
		return
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}
