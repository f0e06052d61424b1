package order

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

// Machine применяет события саги к статусу заказа. Единственный писатель
// статуса: остальные сервисы сообщают об исходах событиями, но никогда не
// мутируют заказ напрямую.
type Machine struct {
	orders  domain.OrderRepository
	outbox  domain.OutboxRepository
	logger  *log.Entry
	metrics *metrics.SagaMetrics
}

// NewMachine создаёт машину статусов поверх репозитория заказов.
func NewMachine(orders domain.OrderRepository, outbox domain.OutboxRepository, logger *log.Entry) *Machine {
	if logger == nil {
		logger = log.New().WithField("component", "order-machine")
	}
	return &Machine{
		orders:  orders,
		outbox:  outbox,
		logger:  logger,
		metrics: metrics.NewSagaMetrics(),
	}
}

// NewMachineWithoutMetrics создаёт машину статусов без метрик (для тестов).
func NewMachineWithoutMetrics(orders domain.OrderRepository, outbox domain.OutboxRepository, logger *log.Entry) *Machine {
	m := NewMachine(orders, outbox, logger)
	m.metrics = nil
	return m
}

// Apply переводит заказ по таблице переходов для входящего события.
// Конфликт версий разрешается перечитыванием заказа и повторным вычислением
// перехода. Событие, неприменимое к текущему статусу, возвращает
// ErrInvalidTransition — такие события не ретраятся.
//
// payment.failed проходит два перехода за одну доставку: payment_pending →
// payment_failed → compensating. Промежуточный статус фиксируется отдельным
// сохранением, чтобы он был наблюдаем и попал в свой order.updated; при
// сбое между сохранениями повторная доставка продолжит с payment_failed.
func (m *Machine) Apply(_ context.Context, event domain.Event) error {
	applied, err := m.applyOnce(event)
	if err != nil {
		return err
	}
	if applied == domain.OrderStatusPaymentFailed {
		if _, err := m.applyOnce(event); err != nil {
			return err
		}
	}
	return nil
}

// applyOnce выполняет один переход по таблице и сохраняет заказ.
func (m *Machine) applyOnce(event domain.Event) (domain.OrderStatus, error) {
	const maxRetries = 3
	const baseDelay = 10 * time.Millisecond

	reason := failureReason(event)

	for attempt := 0; attempt < maxRetries; attempt++ {
		order, err := m.orders.Get(event.Key)
		if err != nil {
			return "", domain.Permanent(err)
		}

		next, err := domain.Transition(order, event)
		if err != nil {
			if m.metrics != nil {
				m.metrics.RecordInvalidTransition()
			}
			m.logger.WithFields(log.Fields{
				"order_id": order.ID,
				"status":   order.Status,
				"event":    event.Type,
			}).Warn("event is not applicable to current order status")
			return "", err
		}

		order.Status = next
		if reason != "" {
			order.FailureReason = reason
		}
		order.UpdatedAt = time.Now().UTC()

		if err := m.orders.Save(order); err != nil {
			if domain.IsVersionConflict(err) && attempt < maxRetries-1 {
				m.logger.WithFields(log.Fields{
					"order_id": order.ID,
					"attempt":  attempt + 1,
				}).Warn("version conflict detected, retrying")
				time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
				continue
			}
			return "", domain.Transient(err)
		}

		if m.metrics != nil {
			m.metrics.RecordStatusTransition(string(next))
		}
		m.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"event":    event.Type,
			"status":   next,
		}).Info("order status advanced")

		m.emitStatusEvents(order)
		return next, nil
	}

	return "", domain.Transient(domain.ErrOrderVersionConflict)
}

// emitStatusEvents кладёт в outbox order.updated и, для отменённого заказа,
// order.cancelled — его подхватывает склад для снятия резервов.
func (m *Machine) emitStatusEvents(order domain.Order) {
	m.enqueue(domain.EventTypeOrderUpdated, order)
	if order.Status == domain.OrderStatusCancelled {
		m.enqueue(domain.EventTypeOrderCancelled, order)
	}
}

func (m *Machine) enqueue(eventType domain.EventType, order domain.Order) {
	payload := domain.OrderStatusPayload{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Status:     order.Status,
		Reason:     order.FailureReason,
	}

	event, err := domain.NewEvent(eventType, order.ID, payload)
	if err != nil {
		m.logger.WithError(err).WithField("order_id", order.ID).Error("marshal status event failed")
		return
	}
	envelope, err := json.Marshal(event)
	if err != nil {
		m.logger.WithError(err).WithField("order_id", order.ID).Error("marshal event envelope failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(eventType),
		Payload:       envelope,
	}
	if _, err := m.outbox.Enqueue(msg); err != nil {
		m.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("enqueue status event failed")
		return
	}
	if m.metrics != nil {
		m.metrics.RecordOutboxEvent()
	}
}

// failureReason извлекает причину отказа из событий отказов; для остальных
// событий возвращает пустую строку.
func failureReason(event domain.Event) string {
	switch event.Type {
	case domain.EventTypeInventoryRejected:
		var payload domain.ReservationOutcomePayload
		if err := json.Unmarshal(event.Payload, &payload); err == nil {
			return payload.Reason
		}
	case domain.EventTypePaymentFailed:
		var payload domain.PaymentOutcomePayload
		if err := json.Unmarshal(event.Payload, &payload); err == nil {
			return payload.Reason
		}
	}
	return ""
}
