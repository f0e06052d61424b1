package domain

import (
	"context"
	"time"
)

// StockLedger владеет счётчиками стока и резервами. Обновления по одному
// SKU сериализуются (single-writer-per-key); блокировка никогда не
// удерживается через внешние вызовы.
type StockLedger interface {
	// Reserve атомарно удерживает сток под все позиции заказа.
	// Всё-или-ничего: при нехватке любой позиции ни один резерв не
	// создаётся и возвращается *InsufficientStockError. Повторный вызов
	// для заказа с уже созданными резервами — no-op.
	Reserve(ctx context.Context, orderID string, items []OrderItem) error
	// Release возвращает все held-резервы заказа в доступный сток.
	// Идемпотентна: отсутствие held-резервов — не ошибка.
	Release(ctx context.Context, orderID string) error
	// Consume окончательно списывает held-резервы заказа после оплаты.
	// Идемпотентна по той же причине, что и Release.
	Consume(ctx context.Context, orderID string) error
	// SetStock задаёт доступное количество товара (внешняя поставка).
	SetStock(ctx context.Context, sku string, available int64) error
	// GetStock возвращает текущие счётчики по товару.
	GetStock(ctx context.Context, sku string) (StockLevel, error)
	// Reservations возвращает резервы заказа (для компенсаций и тестов).
	Reservations(ctx context.Context, orderID string) ([]Reservation, error)
}

// CatalogService — синхронная точечная выборка данных товара. Только
// информационная: решение о доступности стока принимает исключительно
// StockLedger.Reserve.
type CatalogService interface {
	Lookup(ctx context.Context, sku string) (CatalogItem, error)
}

// CatalogItem — снимок данных товара на момент запроса.
type CatalogItem struct {
	SKU        string
	PriceMinor int64
}

// PaymentProvider описывает внешний платёжный шаг.
type PaymentProvider interface {
	// Charge инициирует списание; возвращает ссылку на транзакцию.
	// Отказ провайдера приходит как ErrPaymentDeclined.
	Charge(ctx context.Context, orderID string, amountMinor int64, currency string) (txRef string, err error)
}

// PaymentAttemptRepository хранит платёжные попытки.
type PaymentAttemptRepository interface {
	// Claim создаёт pending-попытку. Если попытка по заказу уже есть,
	// возвращает её вместе с ErrPaymentAttemptExists — повторный триггер
	// не должен приводить к повторному списанию.
	Claim(attempt PaymentAttempt) (PaymentAttempt, error)
	// Get возвращает попытку заказа или ErrPaymentAttemptNotFound.
	Get(orderID string) (PaymentAttempt, error)
	// MarkOutcome фиксирует исход pending-попытки. Повторная фиксация
	// того же исхода — no-op; смена уже зафиксированного терминального
	// исхода запрещена и возвращает ErrPaymentOutcomeSettled.
	MarkOutcome(orderID string, outcome PaymentOutcome, txRef, reason string) error
	// ListPendingBefore возвращает попытки, зависшие в pending с момента
	// раньше cutoff (для фонового разбора).
	ListPendingBefore(cutoff time.Time, limit int) ([]PaymentAttempt, error)
}

// IdempotencyLedger хранит записи об обработанных событиях.
// Claim/Commit образуют скобки одной логической транзакции обработчика:
// упавший обработчик освобождает захват, и повторная доставка ретраится.
type IdempotencyLedger interface {
	// Claim атомарно захватывает пару (event_id, consumer).
	// ErrEventAlreadyProcessed — событие уже обработано (дубль);
	// ErrEventInFlight — захвачено параллельным обработчиком.
	Claim(eventID, consumer string, ttlAt time.Time) error
	// Commit помечает захваченную пару обработанной.
	Commit(eventID, consumer string) error
	// Release снимает захват после неудачной обработки.
	Release(eventID, consumer string) error
	// DeleteExpired удаляет записи с ttl <= before (окно реплея ограничено).
	DeleteExpired(before time.Time, limit int) (int, error)
}

// DeadLetterSink принимает события, обработку которых пришлось прекратить.
type DeadLetterSink interface {
	Store(ctx context.Context, letter DeadLetter) error
}

// NotificationRepository хранит записи уведомлений (документное хранилище).
type NotificationRepository interface {
	Append(notification Notification) error
	ListByOrder(orderID string) ([]Notification, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
