package router

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

const defaultClaimTTL = 24 * time.Hour

// HandlerFunc обрабатывает одно событие саги. Классификация ошибки
// определяет судьбу события: transient ретраится, permanent и
// ErrInvalidTransition уходят в dead-letter.
type HandlerFunc func(ctx context.Context, event domain.Event) error

// RetryConfig задаёт политику ретраев временных сбоев внутри одной доставки.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig — политика по умолчанию: до 5 попыток с экспоненциальным
// backoff от 100ms до 5s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2,
	}
}

func (c RetryConfig) normalize() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 2
	}
	return c
}

// delay возвращает паузу перед попыткой attempt (нумерация с 1).
func (c RetryConfig) delay(attempt int) time.Duration {
	d := c.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.BackoffFactor)
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// Router доставляет события одному потребителю саги. Перед обработчиком
// стоит ledger обработанных событий: дубль и конкурентный захват
// подтверждаются без повторного вызова обработчика, поэтому обработчики
// могут полагаться на at-least-once доставку без двойных эффектов.
type Router struct {
	consumer string
	ledger   domain.IdempotencyLedger
	dlq      domain.DeadLetterSink
	handlers map[domain.EventType]HandlerFunc
	logger   *log.Entry
	metrics  *metrics.SagaMetrics
	retry    RetryConfig
	claimTTL time.Duration
}

// NewRouter создаёт маршрутизатор для именованного потребителя.
func NewRouter(consumer string, ledger domain.IdempotencyLedger, dlq domain.DeadLetterSink, retry RetryConfig, logger *log.Entry) *Router {
	if logger == nil {
		logger = log.New().WithField("component", "router-"+consumer)
	}
	return &Router{
		consumer: consumer,
		ledger:   ledger,
		dlq:      dlq,
		handlers: make(map[domain.EventType]HandlerFunc),
		logger:   logger,
		metrics:  metrics.NewSagaMetrics(),
		retry:    retry.normalize(),
		claimTTL: defaultClaimTTL,
	}
}

// NewRouterWithoutMetrics создаёт маршрутизатор без метрик (для тестов).
func NewRouterWithoutMetrics(consumer string, ledger domain.IdempotencyLedger, dlq domain.DeadLetterSink, retry RetryConfig, logger *log.Entry) *Router {
	r := NewRouter(consumer, ledger, dlq, retry, logger)
	r.metrics = nil
	return r
}

// Consumer возвращает имя потребителя.
func (r *Router) Consumer() string {
	return r.consumer
}

// Register привязывает обработчик к типу события. Повторная регистрация
// типа замещает предыдущий обработчик.
func (r *Router) Register(eventType domain.EventType, handler HandlerFunc) {
	r.handlers[eventType] = handler
}

// Handles сообщает, подписан ли потребитель на тип события.
func (r *Router) Handles(eventType domain.EventType) bool {
	_, ok := r.handlers[eventType]
	return ok
}

// SetClaimTTL задаёт срок жизни записи об обработанном событии.
func (r *Router) SetClaimTTL(ttl time.Duration) {
	if ttl > 0 {
		r.claimTTL = ttl
	}
}

// Dispatch обрабатывает одну доставку события. Возвращённая ошибка означает
// «доставку нельзя подтверждать»: транспорт доставит событие повторно.
func (r *Router) Dispatch(ctx context.Context, event domain.Event) error {
	handler, ok := r.handlers[event.Type]
	if !ok {
		// Потребитель не подписан: подтверждаем без обработки.
		return nil
	}
	if event.ID == "" {
		return r.deadLetter(ctx, event, 0, "event has no id")
	}

	if err := r.ledger.Claim(event.ID, r.consumer, time.Now().UTC().Add(r.claimTTL)); err != nil {
		switch {
		case errors.Is(err, domain.ErrEventAlreadyProcessed):
			r.recordResult("duplicate")
			r.logger.WithFields(log.Fields{
				"event_id": event.ID,
				"event":    event.Type,
			}).Debug("duplicate delivery suppressed")
			return nil
		case errors.Is(err, domain.ErrEventInFlight):
			// Захват держит параллельный обработчик — либо он остался от
			// упавшего. Доставку не подтверждаем: повторная попытка увидит
			// зафиксированный результат или перехватит просроченный захват.
			r.recordResult("inflight")
			r.logger.WithFields(log.Fields{
				"event_id": event.ID,
				"event":    event.Type,
			}).Debug("event claim held elsewhere, delivery deferred")
			return domain.Transient(err)
		default:
			return domain.Transient(err)
		}
	}

	start := time.Now()
	err := r.process(ctx, handler, event)
	if r.metrics != nil {
		r.metrics.ObserveHandlerDuration(r.consumer, time.Since(start))
	}

	switch {
	case err == nil:
		if commitErr := r.ledger.Commit(event.ID, r.consumer); commitErr != nil {
			r.logger.WithError(commitErr).WithField("event_id", event.ID).Error("commit processed event failed")
			return domain.Transient(commitErr)
		}
		r.recordResult("ok")
		return nil

	case domain.IsPermanent(err), domain.IsInvalidTransition(err):
		if dlqErr := r.deadLetter(ctx, event, 1, err.Error()); dlqErr != nil {
			return dlqErr
		}
		return nil

	default:
		// Transient исчерпал ретраи: снимаем захват и ждём повторной доставки.
		if releaseErr := r.ledger.Release(event.ID, r.consumer); releaseErr != nil {
			r.logger.WithError(releaseErr).WithField("event_id", event.ID).Error("release event claim failed")
		}
		r.recordResult("error")
		return err
	}
}

// process вызывает обработчик, ретрая временные сбои с backoff.
func (r *Router) process(ctx context.Context, handler HandlerFunc, event domain.Event) error {
	var err error
	for attempt := 1; attempt <= r.retry.MaxAttempts; attempt++ {
		err = handler(ctx, event)
		if err == nil || !domain.IsTransient(err) {
			return err
		}

		if attempt == r.retry.MaxAttempts {
			break
		}

		r.recordResult("retried")
		r.logger.WithError(err).WithFields(log.Fields{
			"event_id": event.ID,
			"event":    event.Type,
			"attempt":  attempt,
		}).Warn("transient failure, retrying")

		timer := time.NewTimer(r.retry.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.Transient(ctx.Err())
		case <-timer.C:
		}
	}
	return err
}

// deadLetter прекращает обработку события: письмо уходит в DLQ, а запись
// в ledger фиксируется как обработанная, чтобы дубли не плодили писем.
func (r *Router) deadLetter(ctx context.Context, event domain.Event, attempts int, reason string) error {
	letter := domain.DeadLetter{
		Event:    event,
		Consumer: r.consumer,
		Reason:   reason,
		Attempts: attempts,
		FailedAt: time.Now().UTC(),
	}
	if err := r.dlq.Store(ctx, letter); err != nil {
		r.logger.WithError(err).WithField("event_id", event.ID).Error("store dead letter failed")
		return domain.Transient(err)
	}

	if event.ID != "" {
		if err := r.ledger.Commit(event.ID, r.consumer); err != nil && !errors.Is(err, domain.ErrEventClaimNotFound) {
			r.logger.WithError(err).WithField("event_id", event.ID).Error("commit dead-lettered event failed")
		}
	}

	r.recordResult("dead_letter")
	r.logger.WithFields(log.Fields{
		"event_id": event.ID,
		"event":    event.Type,
		"reason":   reason,
	}).Warn("event moved to dead letter queue")
	return nil
}

func (r *Router) recordResult(result string) {
	if r.metrics != nil {
		r.metrics.RecordEventProcessed(r.consumer, result)
	}
}
