package domain

import "fmt"

// transitionTable — статическая таблица переходов машины статусов заказа:
// (текущий статус, тип события) → следующий статус. Всё, чего нет в таблице,
// отклоняется как ErrInvalidTransition — это и есть защита от событий,
// пришедших не по порядку.
var transitionTable = map[OrderStatus]map[EventType]OrderStatus{
	OrderStatusCreated: {
		EventTypeOrderCreated: OrderStatusStockPending,
	},
	OrderStatusStockPending: {
		EventTypeInventoryReserved: OrderStatusStockReserved,
		EventTypeInventoryRejected: OrderStatusStockRejected,
	},
	OrderStatusStockReserved: {
		EventTypePaymentStarted: OrderStatusPaymentPending,
	},
	OrderStatusPaymentPending: {
		EventTypePaymentSucceeded: OrderStatusConfirmed,
		EventTypePaymentFailed:    OrderStatusPaymentFailed,
	},
	// payment.failed применяется дважды: payment_pending → payment_failed →
	// compensating, каждый переход фиксируется отдельным сохранением.
	OrderStatusPaymentFailed: {
		EventTypePaymentFailed: OrderStatusCompensating,
	},
	OrderStatusCompensating: {
		EventTypeInventoryReleased: OrderStatusCancelled,
	},
}

// adminTransitions перечисляет разрешённые административные переходы,
// не управляемые событиями саги.
var adminTransitions = map[OrderStatus]OrderStatus{
	OrderStatusConfirmed: OrderStatusShipped,
	OrderStatusShipped:   OrderStatusDelivered,
}

// Transition возвращает следующий статус заказа для входящего события либо
// ErrInvalidTransition, если событие неприменимо к текущему статусу.
// Функция чистая: сохранение нового статуса — забота вызывающего.
func Transition(order Order, event Event) (OrderStatus, error) {
	byEvent, ok := transitionTable[order.Status]
	if !ok {
		return "", fmt.Errorf("%w: event %s on terminal or unknown status %s", ErrInvalidTransition, event.Type, order.Status)
	}
	next, ok := byEvent[event.Type]
	if !ok {
		return "", fmt.Errorf("%w: event %s on status %s", ErrInvalidTransition, event.Type, order.Status)
	}
	return next, nil
}

// AdminTransition проверяет административный переход (ship/deliver).
func AdminTransition(current, target OrderStatus) error {
	if next, ok := adminTransitions[current]; ok && next == target {
		return nil
	}
	return fmt.Errorf("%w: admin transition %s -> %s", ErrInvalidTransition, current, target)
}

// SourceStatuses возвращает статусы, из которых событие данного типа
// допустимо. Используется координатором как каузальная таблица и тестами
// как оракул валидных путей.
func SourceStatuses(eventType EventType) []OrderStatus {
	var sources []OrderStatus
	for status, byEvent := range transitionTable {
		if _, ok := byEvent[eventType]; ok {
			sources = append(sources, status)
		}
	}
	return sources
}
