package domain

import "time"

// OrderStatus описывает жизненный цикл заказа в саге фулфилмента.
type OrderStatus string

const (
	// OrderStatusCreated — заказ создан, событие order.created ещё не опубликовано.
	OrderStatusCreated OrderStatus = "created"
	// OrderStatusStockPending — ожидаем решение склада по резервированию.
	OrderStatusStockPending OrderStatus = "stock_pending"
	// OrderStatusStockReserved — товары зарезервированы, оплата ещё не начата.
	OrderStatusStockReserved OrderStatus = "stock_reserved"
	// OrderStatusPaymentPending — платёжная попытка запущена.
	OrderStatusPaymentPending OrderStatus = "payment_pending"
	// OrderStatusConfirmed — оплата прошла, заказ подтверждён.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusStockRejected — склад отклонил резерв; терминальный статус.
	OrderStatusStockRejected OrderStatus = "stock_rejected"
	// OrderStatusPaymentFailed — платёж отклонён, начинается компенсация.
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
	// OrderStatusCompensating — идёт возврат резервов склада.
	OrderStatusCompensating OrderStatus = "compensating"
	// OrderStatusCancelled — заказ отменён; терминальный статус.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusShipped — заказ отгружен (админский переход из confirmed).
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ доставлен; терминальный статус.
	OrderStatusDelivered OrderStatus = "delivered"
)

// IsTerminal сообщает, достиг ли статус конца жизненного цикла.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusStockRejected, OrderStatusCancelled, OrderStatusDelivered:
		return true
	default:
		return false
	}
}

// IsCancelable сообщает, допустима ли ещё административная отмена.
// Отменять можно только заказы, не дошедшие до терминального статуса
// и не находящиеся в компенсации.
func (s OrderStatus) IsCancelable() bool {
	switch s {
	case OrderStatusCreated, OrderStatusStockPending, OrderStatusStockReserved, OrderStatusPaymentPending:
		return true
	default:
		return false
	}
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string
	// SKU — внешний идентификатор товара.
	SKU string
	// Qty — количество единиц товара.
	Qty int32
	// UnitPriceMinor — цена за единицу в минимальных денежных единицах,
	// зафиксированная в момент создания заказа.
	UnitPriceMinor int64
	// CreatedAt фиксирует момент добавления позиции в заказ.
	CreatedAt time.Time
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID            string
	CustomerID    string
	Status        OrderStatus
	FailureReason string
	Currency      string
	AmountMinor   int64
	Items         []OrderItem
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	// Сумма неизменна после создания, расхождение — всегда ошибка.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.UnitPriceMinor
	}
	if calc != o.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
