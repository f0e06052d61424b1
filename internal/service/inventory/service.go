package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

// Service обрабатывает события саги на стороне склада. Нехватка стока —
// не ошибка обработчика, а бизнес-исход: он публикуется событием
// inventory.rejected, и обработка события считается успешной.
type Service struct {
	ledger  domain.StockLedger
	outbox  domain.OutboxRepository
	logger  *log.Entry
	metrics *metrics.SagaMetrics
}

// NewService создаёт складской сервис.
func NewService(ledger domain.StockLedger, outbox domain.OutboxRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "inventory-service")
	}
	return &Service{
		ledger:  ledger,
		outbox:  outbox,
		logger:  logger,
		metrics: metrics.NewSagaMetrics(),
	}
}

// NewServiceWithoutMetrics создаёт складской сервис без метрик (для тестов).
func NewServiceWithoutMetrics(ledger domain.StockLedger, outbox domain.OutboxRepository, logger *log.Entry) *Service {
	s := NewService(ledger, outbox, logger)
	s.metrics = nil
	return s
}

// HandleOrderCreated резервирует сток под весь заказ (всё-или-ничего)
// и публикует исход: inventory.reserved либо inventory.rejected.
func (s *Service) HandleOrderCreated(ctx context.Context, event domain.Event) error {
	var payload domain.OrderCreatedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return domain.Permanent(fmt.Errorf("decode order.created payload: %w", err))
	}

	items := make([]domain.OrderItem, 0, len(payload.Items))
	for _, item := range payload.Items {
		items = append(items, domain.OrderItem{
			SKU:            item.SKU,
			Qty:            item.Qty,
			UnitPriceMinor: item.UnitPriceMinor,
		})
	}

	err := s.ledger.Reserve(ctx, payload.OrderID, items)
	switch {
	case err == nil:
		if s.metrics != nil {
			s.metrics.RecordReservation("held")
		}
		s.logger.WithField("order_id", payload.OrderID).Info("stock reserved")
		s.emit(domain.EventTypeInventoryReserved, payload.OrderID, domain.ReservationOutcomePayload{
			OrderID: payload.OrderID,
		})
		return nil

	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrUnknownSKU):
		outcome := domain.ReservationOutcomePayload{
			OrderID: payload.OrderID,
			Reason:  err.Error(),
		}
		var shortfall *domain.InsufficientStockError
		if errors.As(err, &shortfall) {
			outcome.FailedSKU = shortfall.SKU
		}

		if s.metrics != nil {
			s.metrics.RecordReservation("rejected")
		}
		s.logger.WithFields(log.Fields{
			"order_id": payload.OrderID,
			"reason":   outcome.Reason,
		}).Warn("stock reservation rejected")
		s.emit(domain.EventTypeInventoryRejected, payload.OrderID, outcome)
		return nil

	default:
		return domain.Transient(err)
	}
}

// HandlePaymentSucceeded окончательно списывает резервы оплаченного заказа.
func (s *Service) HandlePaymentSucceeded(ctx context.Context, event domain.Event) error {
	if err := s.ledger.Consume(ctx, event.Key); err != nil {
		return domain.Transient(err)
	}
	if s.metrics != nil {
		s.metrics.RecordReservation("consumed")
	}
	s.logger.WithField("order_id", event.Key).Info("stock consumed")
	return nil
}

// HandlePaymentFailed — компенсация: возвращает резервы в доступный сток
// и публикует inventory.released, завершая отмену заказа.
func (s *Service) HandlePaymentFailed(ctx context.Context, event domain.Event) error {
	if err := s.ledger.Release(ctx, event.Key); err != nil {
		return domain.Transient(err)
	}
	if s.metrics != nil {
		s.metrics.RecordReservation("released")
	}
	s.logger.WithField("order_id", event.Key).Info("stock released after payment failure")
	s.emit(domain.EventTypeInventoryReleased, event.Key, domain.ReservationOutcomePayload{
		OrderID: event.Key,
	})
	return nil
}

// HandleOrderCancelled снимает резервы отменённого заказа. Событие
// inventory.released здесь не публикуется: заказ уже в терминальном статусе.
func (s *Service) HandleOrderCancelled(ctx context.Context, event domain.Event) error {
	if err := s.ledger.Release(ctx, event.Key); err != nil {
		return domain.Transient(err)
	}
	if s.metrics != nil {
		s.metrics.RecordReservation("released")
	}
	s.logger.WithField("order_id", event.Key).Info("stock released after cancellation")
	return nil
}

func (s *Service) emit(eventType domain.EventType, orderID string, payload any) {
	event, err := domain.NewEvent(eventType, orderID, payload)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("marshal inventory event failed")
		return
	}
	envelope, err := json.Marshal(event)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("marshal event envelope failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "inventory",
		AggregateID:   orderID,
		EventType:     string(eventType),
		Payload:       envelope,
	}
	if _, err := s.outbox.Enqueue(msg); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Error("enqueue inventory event failed")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}
}
