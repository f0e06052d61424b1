package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/loopback"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/idempotency"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/notification"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/order"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/payment"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/saga"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

// demoStockLevel задаёт стартовый остаток по каждому SKU демо-каталога
// для in-memory запуска.
const demoStockLevel = 100

// demoCatalog возвращает каталог демонстрационных SKU.
// NOTE: В production окружении каталог должен приходить из внешнего
// каталожного сервиса, а остатки — из системы поставок.
func demoCatalog() *inventory.StaticCatalog {
	return inventory.NewStaticCatalog(map[string]int64{
		"sku-analog-kit": 149900,
		"sku-headphones": 25900,
		"sku-usb-cable":  9900,
	})
}

// Dependencies содержит все зависимости приложения.
type Dependencies struct {
	Config Config
	Logger *log.Entry

	Storage *storages

	Orders      *order.Service
	Notifier    *notification.Dispatcher
	Coordinator *saga.Coordinator

	OutboxWorker  *outbox.Worker
	CleanupWorker *idempotency.CleanupWorker
	SweepWorker   *payment.SweepWorker

	KafkaProducer *kafka.Producer
	Consumers     []*kafka.Consumer

	Health *healthcheck.Handler
}

// NewDependencies создаёт и связывает все зависимости приложения:
// хранилища, сервисы саги, транспорт событий и фоновые воркеры.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	storage, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Storage: storage,
	}

	catalog := demoCatalog()
	if cfg.StorageDriver == StorageDriverMemory && cfg.RedisAddr == "" {
		if err := seedDemoStock(ctx, storage, catalog); err != nil {
			return nil, fmt.Errorf("seed demo stock: %w", err)
		}
	}

	var producer *kafka.Producer
	if cfg.EventTransport == TransportKafka {
		producer, err = initKafkaProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			storage.Close()
			return nil, fmt.Errorf("init kafka producer: %w", err)
		}
		deps.KafkaProducer = producer
	}

	dlqSink := newDeadLetterSink(producer)

	machine := order.NewMachine(storage.orders, storage.outbox, nil)
	inventorySvc := inventory.NewService(storage.stock, storage.outbox, nil)
	orchestrator := payment.NewOrchestrator(storage.attempts, storage.orders, payment.NewMockProvider(), storage.outbox, nil)
	notifier := notification.NewDispatcher(storage.notifications, nil)

	coordinator := saga.NewCoordinator(storage.ledger, dlqSink, saga.Handlers{
		Machine:   machine,
		Inventory: inventorySvc,
		Payment:   orchestrator,
		Notifier:  notifier,
	}, cfg.HandlerRetry, logger)
	for _, r := range coordinator.Routers() {
		r.SetClaimTTL(cfg.ClaimTTL)
	}

	deps.Orders = order.NewService(storage.orders, catalog, storage.outbox, nil)
	deps.Notifier = notifier
	deps.Coordinator = coordinator

	outboxOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if cfg.EventTransport == TransportKafka {
		publisher := kafka.NewOutboxPublisher(producer)
		outboxOpts = append(outboxOpts, outbox.WithDLQPublisher(kafka.NewDeadLetterPublisher(producer)))
		deps.OutboxWorker = outbox.NewWorker(storage.outbox, publisher, outboxOpts...)
	} else {
		publisher := loopback.NewPublisher(coordinator, logger)
		deps.OutboxWorker = outbox.NewWorker(storage.outbox, publisher, outboxOpts...)
	}

	deps.CleanupWorker = idempotency.NewCleanupWorker(storage.ledger,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	deps.SweepWorker = payment.NewSweepWorker(storage.attempts, storage.outbox,
		payment.WithSweepLogger(logger.WithField("component", "payment-sweep")),
		payment.WithSweepInterval(cfg.PaymentSweepInterval),
		payment.WithPendingTimeout(cfg.PaymentPendingTimeout),
	)

	if cfg.EventTransport == TransportKafka {
		consumers, err := initSagaConsumers(cfg, coordinator, producer)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("init kafka consumers: %w", err)
		}
		deps.Consumers = consumers
	}

	deps.Health = buildHealthHandler(storage, cfg.OutboxBacklogThreshold)

	return deps, nil
}

// newDeadLetterSink выбирает приёмник мёртвых писем: Kafka-топик при
// наличии продюсера, иначе in-memory сток.
func newDeadLetterSink(producer *kafka.Producer) domain.DeadLetterSink {
	if producer != nil {
		return kafka.NewDeadLetterSink(producer)
	}
	return memory.NewDeadLetterSink()
}

// buildHealthHandler регистрирует проверки живости внешних зависимостей
// и backlog-а outbox.
func buildHealthHandler(storage *storages, backlogThreshold int) *healthcheck.Handler {
	handler := healthcheck.NewHandler(version.String())

	if storage.store != nil {
		handler.RegisterChecker("postgres", healthcheck.NewPingChecker("postgres", storage.store.Ping))
	}
	if storage.redis != nil {
		handler.RegisterChecker("redis", healthcheck.NewPingChecker("redis", func(ctx context.Context) error {
			return storage.redis.Ping(ctx).Err()
		}))
	}
	handler.RegisterChecker("outbox", healthcheck.NewBacklogChecker("outbox", backlogThreshold, func() (int, error) {
		stats, err := storage.outbox.Stats()
		if err != nil {
			return 0, err
		}
		return stats.PendingCount, nil
	}))

	return handler
}

// seedDemoStock заводит стартовые остатки для каждого SKU демо-каталога.
func seedDemoStock(ctx context.Context, storage *storages, catalog *inventory.StaticCatalog) error {
	for _, sku := range catalog.SKUs() {
		if err := storage.stock.SetStock(ctx, sku, demoStockLevel); err != nil {
			return err
		}
	}
	return nil
}

// Close останавливает consumers и закрывает внешние подключения.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	for _, consumer := range d.Consumers {
		if err := consumer.Stop(); err != nil {
			d.Logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}
	closeKafka(d.KafkaProducer, d.Logger)
	d.Storage.Close()
}
