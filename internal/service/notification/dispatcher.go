package notification

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

// Dispatcher превращает статусные события заказа в записи уведомлений.
// Реальной доставки (email, push) здесь нет: запись в хранилище и есть
// факт уведомления, внешние каналы подключаются поверх него.
type Dispatcher struct {
	repo    domain.NotificationRepository
	logger  *log.Entry
	metrics *metrics.SagaMetrics
}

// NewDispatcher создаёт диспетчер уведомлений.
func NewDispatcher(repo domain.NotificationRepository, logger *log.Entry) *Dispatcher {
	if logger == nil {
		logger = log.New().WithField("component", "notification-dispatcher")
	}
	return &Dispatcher{
		repo:    repo,
		logger:  logger,
		metrics: metrics.NewSagaMetrics(),
	}
}

// NewDispatcherWithoutMetrics создаёт диспетчер без метрик (для тестов).
func NewDispatcherWithoutMetrics(repo domain.NotificationRepository, logger *log.Entry) *Dispatcher {
	d := NewDispatcher(repo, logger)
	d.metrics = nil
	return d
}

// HandleStatusEvent записывает уведомление по order.updated / order.cancelled.
func (d *Dispatcher) HandleStatusEvent(_ context.Context, event domain.Event) error {
	var payload domain.OrderStatusPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return domain.Permanent(fmt.Errorf("decode status payload: %w", err))
	}
	if payload.OrderID == "" {
		payload.OrderID = event.Key
	}

	notification := domain.Notification{
		OrderID:    payload.OrderID,
		CustomerID: payload.CustomerID,
		Kind:       event.Type,
		Message:    statusMessage(payload),
	}
	if err := d.repo.Append(notification); err != nil {
		return domain.Transient(err)
	}

	if d.metrics != nil {
		d.metrics.RecordNotification()
	}
	d.logger.WithFields(log.Fields{
		"order_id": payload.OrderID,
		"status":   payload.Status,
	}).Info("notification recorded")
	return nil
}

// ListByOrder возвращает уведомления по заказу.
func (d *Dispatcher) ListByOrder(_ context.Context, orderID string) ([]domain.Notification, error) {
	if orderID == "" {
		return nil, domain.ErrOrderIDRequired
	}
	return d.repo.ListByOrder(orderID)
}

func statusMessage(payload domain.OrderStatusPayload) string {
	switch payload.Status {
	case domain.OrderStatusConfirmed:
		return fmt.Sprintf("order %s is confirmed", payload.OrderID)
	case domain.OrderStatusShipped:
		return fmt.Sprintf("order %s has been shipped", payload.OrderID)
	case domain.OrderStatusDelivered:
		return fmt.Sprintf("order %s has been delivered", payload.OrderID)
	case domain.OrderStatusStockRejected:
		return fmt.Sprintf("order %s was rejected: %s", payload.OrderID, payload.Reason)
	case domain.OrderStatusCancelled:
		if payload.Reason != "" {
			return fmt.Sprintf("order %s was cancelled: %s", payload.OrderID, payload.Reason)
		}
		return fmt.Sprintf("order %s was cancelled", payload.OrderID)
	default:
		return fmt.Sprintf("order %s status changed to %s", payload.OrderID, payload.Status)
	}
}
