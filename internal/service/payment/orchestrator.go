package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

const (
	defaultChargeTimeout = 10 * time.Second
	defaultMethod        = "card"
)

// Orchestrator запускает оплату в ответ на inventory.reserved.
// Захват платёжной попытки (одна на заказ) стоит до обращения к провайдеру,
// поэтому повторная доставка события не приводит к повторному списанию.
type Orchestrator struct {
	attempts      domain.PaymentAttemptRepository
	orders        domain.OrderRepository
	provider      domain.PaymentProvider
	outbox        domain.OutboxRepository
	logger        *log.Entry
	metrics       *metrics.SagaMetrics
	chargeTimeout time.Duration
}

// NewOrchestrator создаёт платёжный оркестратор.
func NewOrchestrator(
	attempts domain.PaymentAttemptRepository,
	orders domain.OrderRepository,
	provider domain.PaymentProvider,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "payment-orchestrator")
	}
	return &Orchestrator{
		attempts:      attempts,
		orders:        orders,
		provider:      provider,
		outbox:        outbox,
		logger:        logger,
		metrics:       metrics.NewSagaMetrics(),
		chargeTimeout: defaultChargeTimeout,
	}
}

// NewOrchestratorWithoutMetrics создаёт оркестратор без метрик (для тестов).
func NewOrchestratorWithoutMetrics(
	attempts domain.PaymentAttemptRepository,
	orders domain.OrderRepository,
	provider domain.PaymentProvider,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *Orchestrator {
	o := NewOrchestrator(attempts, orders, provider, outbox, logger)
	o.metrics = nil
	return o
}

// SetChargeTimeout ограничивает время одного обращения к провайдеру.
func (o *Orchestrator) SetChargeTimeout(timeout time.Duration) {
	if timeout > 0 {
		o.chargeTimeout = timeout
	}
}

// HandleInventoryReserved захватывает платёжную попытку и проводит списание.
// Исход всегда публикуется событием: payment.succeeded или payment.failed;
// перед обращением к провайдеру публикуется payment.started.
func (o *Orchestrator) HandleInventoryReserved(ctx context.Context, event domain.Event) error {
	orderID := event.Key

	order, err := o.orders.Get(orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Permanent(err)
		}
		return domain.Transient(err)
	}

	attempt, err := o.attempts.Claim(domain.PaymentAttempt{
		OrderID:     orderID,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		Method:      defaultMethod,
	})
	if err != nil {
		if errors.Is(err, domain.ErrPaymentAttemptExists) {
			return o.handleExistingAttempt(attempt)
		}
		return domain.Transient(err)
	}

	o.emit(domain.EventTypePaymentStarted, orderID, domain.PaymentOutcomePayload{
		OrderID:     orderID,
		AmountMinor: attempt.AmountMinor,
		Currency:    attempt.Currency,
	})

	chargeCtx, cancel := context.WithTimeout(ctx, o.chargeTimeout)
	defer cancel()

	txRef, chargeErr := o.provider.Charge(chargeCtx, orderID, attempt.AmountMinor, attempt.Currency)
	if chargeErr != nil {
		reason := chargeErr.Error()
		if errors.Is(chargeErr, context.DeadlineExceeded) {
			reason = domain.ErrPaymentTimeout.Error()
		}
		return o.settle(attempt, domain.PaymentOutcomeFailed, "", reason)
	}

	return o.settle(attempt, domain.PaymentOutcomeSucceeded, txRef, "")
}

// handleExistingAttempt — повторный триггер оплаты. Записанный исход
// переобъявляется событием; незавершённую попытку разрешит sweep-воркер.
func (o *Orchestrator) handleExistingAttempt(attempt domain.PaymentAttempt) error {
	switch attempt.Outcome {
	case domain.PaymentOutcomeSucceeded:
		o.emit(domain.EventTypePaymentSucceeded, attempt.OrderID, outcomePayload(attempt))
	case domain.PaymentOutcomeFailed:
		o.emit(domain.EventTypePaymentFailed, attempt.OrderID, outcomePayload(attempt))
	default:
		o.logger.WithField("order_id", attempt.OrderID).Warn("payment attempt still pending, skipping duplicate trigger")
	}
	return nil
}

func (o *Orchestrator) settle(attempt domain.PaymentAttempt, outcome domain.PaymentOutcome, txRef, reason string) error {
	if err := o.attempts.MarkOutcome(attempt.OrderID, outcome, txRef, reason); err != nil {
		if errors.Is(err, domain.ErrPaymentOutcomeSettled) {
			// Попытку уже разрешили конкурентно (sweep-воркер против
			// медленного провайдера). Записанный исход окончателен —
			// переобъявляем его, а не свой.
			recorded, getErr := o.attempts.Get(attempt.OrderID)
			if getErr != nil {
				return domain.Transient(getErr)
			}
			o.logger.WithFields(log.Fields{
				"order_id":  attempt.OrderID,
				"recorded":  recorded.Outcome,
				"attempted": outcome,
			}).Warn("payment outcome already settled, keeping recorded outcome")
			return o.handleExistingAttempt(recorded)
		}
		return domain.Transient(err)
	}

	attempt.Outcome = outcome
	attempt.TxRef = txRef
	attempt.Reason = reason

	if o.metrics != nil {
		o.metrics.RecordPayment(string(outcome))
	}

	switch outcome {
	case domain.PaymentOutcomeSucceeded:
		o.logger.WithFields(log.Fields{
			"order_id": attempt.OrderID,
			"tx_ref":   txRef,
		}).Info("payment succeeded")
		o.emit(domain.EventTypePaymentSucceeded, attempt.OrderID, outcomePayload(attempt))
	case domain.PaymentOutcomeFailed:
		o.logger.WithFields(log.Fields{
			"order_id": attempt.OrderID,
			"reason":   reason,
		}).Warn("payment failed")
		o.emit(domain.EventTypePaymentFailed, attempt.OrderID, outcomePayload(attempt))
	}

	return nil
}

func (o *Orchestrator) emit(eventType domain.EventType, orderID string, payload any) {
	event, err := domain.NewEvent(eventType, orderID, payload)
	if err != nil {
		o.logger.WithError(err).WithField("order_id", orderID).Error("marshal payment event failed")
		return
	}
	envelope, err := json.Marshal(event)
	if err != nil {
		o.logger.WithError(err).WithField("order_id", orderID).Error("marshal event envelope failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "payment",
		AggregateID:   orderID,
		EventType:     string(eventType),
		Payload:       envelope,
	}
	if _, err := o.outbox.Enqueue(msg); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Error("enqueue payment event failed")
		return
	}
	if o.metrics != nil {
		o.metrics.RecordOutboxEvent()
	}
}

func outcomePayload(attempt domain.PaymentAttempt) domain.PaymentOutcomePayload {
	return domain.PaymentOutcomePayload{
		OrderID:     attempt.OrderID,
		AmountMinor: attempt.AmountMinor,
		Currency:    attempt.Currency,
		TxRef:       attempt.TxRef,
		Reason:      attempt.Reason,
	}
}
