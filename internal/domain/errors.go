package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отсутствующего SKU.
	ErrSKURequired = errors.New("sku is required")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	// Внутренняя ошибка: вызывающий перечитывает заказ и повторяет переход.
	ErrOrderVersionConflict = errors.New("order version conflict")

	// ErrInvalidTransition — событие неприменимо к текущему статусу заказа.
	// Такие события не ретраятся, а уходят в dead-letter на разбор.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrUnknownSKU — товар не известен каталогу/складу.
	ErrUnknownSKU = errors.New("unknown sku")
	// ErrInsufficientStock — на складе не хватает товара; ветка саги
	// завершается в stock_rejected.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrPaymentDeclined — провайдер отклонил платёж (бизнес-исход, не сбой).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentTimeout — платёж не разрешился за отведённый срок.
	ErrPaymentTimeout = errors.New("payment attempt timed out")
	// ErrPaymentAttemptExists — попытка оплаты по заказу уже существует.
	ErrPaymentAttemptExists = errors.New("payment attempt already exists")
	// ErrPaymentAttemptNotFound — попытка оплаты не найдена.
	ErrPaymentAttemptNotFound = errors.New("payment attempt not found")
	// ErrPaymentOutcomeSettled — у попытки уже зафиксирован другой
	// терминальный исход, менять его нельзя.
	ErrPaymentOutcomeSettled = errors.New("payment outcome already settled")

	// ErrEventAlreadyProcessed — пара (event_id, consumer) уже обработана.
	ErrEventAlreadyProcessed = errors.New("event already processed")
	// ErrEventInFlight — пара (event_id, consumer) захвачена другим обработчиком.
	ErrEventInFlight = errors.New("event is being processed")
	// ErrEventClaimNotFound — запись обработки не найдена при commit/release.
	ErrEventClaimNotFound = errors.New("processed event claim not found")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrUnknownEventType — тип события не известен маршрутизатору.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrTransient маркирует временные инфраструктурные сбои: такие ошибки
	// маршрутизатор ретраит с backoff.
	ErrTransient = errors.New("transient failure")
	// ErrPermanent маркирует неустранимые ошибки (битое событие, нарушение
	// доменного инварианта): сразу в dead-letter, без ретраев.
	ErrPermanent = errors.New("permanent failure")
)

// InsufficientStockError уточняет ErrInsufficientStock: какой SKU не хватило
// и сколько было доступно на момент проверки.
type InsufficientStockError struct {
	SKU       string
	Requested int32
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for sku %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

// Unwrap позволяет errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// Transient оборачивает ошибку как временную для retry-политики маршрутизатора.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Permanent оборачивает ошибку как неустранимую (сразу dead-letter).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsTransient проверяет, относится ли ошибка к временным сбоям.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsPermanent проверяет, относится ли ошибка к неустранимым.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// IsInvalidTransition проверяет, является ли ошибка отказом машины статусов.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}
