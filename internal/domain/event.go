package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType определяет тип события саги.
type EventType string

const (
	// EventTypeOrderCreated публикуется сервисом заказов при создании заказа.
	EventTypeOrderCreated EventType = "order.created"
	// EventTypeInventoryReserved — склад удержал резерв по всем позициям.
	EventTypeInventoryReserved EventType = "inventory.reserved"
	// EventTypeInventoryRejected — складу не хватило товара, резерв не создан.
	EventTypeInventoryRejected EventType = "inventory.rejected"
	// EventTypeInventoryReleased — резервы возвращены в доступный сток
	// в ходе компенсации после неудачной оплаты.
	EventTypeInventoryReleased EventType = "inventory.released"
	// EventTypePaymentStarted — платёжная попытка захвачена и запущена.
	EventTypePaymentStarted EventType = "payment.started"
	// EventTypePaymentSucceeded — провайдер подтвердил списание.
	EventTypePaymentSucceeded EventType = "payment.succeeded"
	// EventTypePaymentFailed — платёж отклонён или не разрешился вовремя.
	EventTypePaymentFailed EventType = "payment.failed"
	// EventTypeOrderUpdated — статус заказа изменился (для уведомлений).
	EventTypeOrderUpdated EventType = "order.updated"
	// EventTypeOrderCancelled — заказ отменён (компенсация или админ).
	EventTypeOrderCancelled EventType = "order.cancelled"
)

// Event — неизменяемый конверт события. Key служит ключом партиционирования:
// события одного заказа доставляются по порядку и никогда параллельно.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewEvent собирает конверт с новым уникальным идентификатором.
func NewEvent(eventType EventType, key string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Key:        key,
		Payload:    data,
		OccurredAt: time.Now().UTC(),
	}, nil
}

// OrderCreatedPayload — полезная нагрузка order.created.
type OrderCreatedPayload struct {
	OrderID     string             `json:"order_id"`
	CustomerID  string             `json:"customer_id"`
	Currency    string             `json:"currency"`
	AmountMinor int64              `json:"amount_minor"`
	Items       []OrderItemPayload `json:"items"`
}

// OrderItemPayload — позиция заказа в событии (без служебных полей).
type OrderItemPayload struct {
	SKU            string `json:"sku"`
	Qty            int32  `json:"qty"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

// ReservationOutcomePayload — полезная нагрузка inventory.reserved,
// inventory.rejected и inventory.released.
type ReservationOutcomePayload struct {
	OrderID string `json:"order_id"`
	// Reason заполняется только для отказов.
	Reason string `json:"reason,omitempty"`
	// FailedSKU называет позицию, на которой резервирование сорвалось.
	FailedSKU string `json:"failed_sku,omitempty"`
}

// PaymentOutcomePayload — полезная нагрузка payment.started,
// payment.succeeded и payment.failed.
type PaymentOutcomePayload struct {
	OrderID     string `json:"order_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	TxRef       string `json:"tx_ref,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// OrderStatusPayload — полезная нагрузка order.updated и order.cancelled.
type OrderStatusPayload struct {
	OrderID    string      `json:"order_id"`
	CustomerID string      `json:"customer_id"`
	Status     OrderStatus `json:"status"`
	Reason     string      `json:"reason,omitempty"`
}

// DeadLetter — событие, обработку которого пришлось прекратить;
// хранится для ручного разбора оператором.
type DeadLetter struct {
	Event    Event     `json:"event"`
	Consumer string    `json:"consumer"`
	Reason   string    `json:"reason"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failed_at"`
}
