package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	defaultSweepInterval  = time.Minute
	defaultPendingTimeout = 5 * time.Minute
	defaultSweepBatchSize = 100
	pendingTimeoutReason  = "payment did not resolve in time"
)

var (
	paymentSweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_payment_sweep_runs_total",
		Help: "Total number of stuck payment sweep runs grouped by result.",
	}, []string{"result"})
	paymentSweepResolvedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_payment_sweep_resolved_total",
		Help: "Total number of stuck pending payment attempts resolved as failed.",
	})
)

// SweepOptions задаёт параметры воркера разбора зависших платежей.
type SweepOptions struct {
	Logger         *log.Entry
	Interval       time.Duration
	PendingTimeout time.Duration
	BatchSize      int
}

// SweepOption настраивает SweepWorker.
type SweepOption func(*SweepOptions)

// WithSweepLogger задаёт logger для воркера.
func WithSweepLogger(logger *log.Entry) SweepOption {
	return func(opts *SweepOptions) {
		opts.Logger = logger
	}
}

// WithSweepInterval задаёт интервал между циклами разбора.
func WithSweepInterval(interval time.Duration) SweepOption {
	return func(opts *SweepOptions) {
		opts.Interval = interval
	}
}

// WithPendingTimeout задаёт возраст pending-попытки, после которого она
// считается зависшей.
func WithPendingTimeout(timeout time.Duration) SweepOption {
	return func(opts *SweepOptions) {
		opts.PendingTimeout = timeout
	}
}

// WithSweepBatchSize задаёт размер выборки за один цикл.
func WithSweepBatchSize(batchSize int) SweepOption {
	return func(opts *SweepOptions) {
		opts.BatchSize = batchSize
	}
}

// SweepWorker периодически находит платёжные попытки, зависшие в pending
// (обработчик упал между захватом и фиксацией исхода), помечает их
// неуспешными и публикует payment.failed — сага продолжает компенсацию.
type SweepWorker struct {
	attempts       domain.PaymentAttemptRepository
	outbox         domain.OutboxRepository
	logger         *log.Entry
	interval       time.Duration
	pendingTimeout time.Duration
	batchSize      int
}

// NewSweepWorker создаёт воркер разбора зависших платежей.
func NewSweepWorker(attempts domain.PaymentAttemptRepository, outbox domain.OutboxRepository, options ...SweepOption) *SweepWorker {
	opts := SweepOptions{
		Interval:       defaultSweepInterval,
		PendingTimeout: defaultPendingTimeout,
		BatchSize:      defaultSweepBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "payment-sweep-worker")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.PendingTimeout <= 0 {
		opts.PendingTimeout = defaultPendingTimeout
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatchSize
	}

	return &SweepWorker{
		attempts:       attempts,
		outbox:         outbox,
		logger:         logger,
		interval:       opts.Interval,
		pendingTimeout: opts.PendingTimeout,
		batchSize:      opts.BatchSize,
	}
}

// Run запускает периодический разбор до отмены ctx.
func (w *SweepWorker) Run(ctx context.Context) {
	if w.attempts == nil {
		w.logger.Warn("payment sweep worker is disabled: attempts repo is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx, time.Now().UTC())
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context, now time.Time) {
	resolved, err := w.SweepOnce(ctx, now)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		paymentSweepRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("payment sweep run failed")
		return
	}

	paymentSweepRunsTotal.WithLabelValues("ok").Inc()
	if resolved > 0 {
		w.logger.WithField("resolved", resolved).Info("stuck payment attempts resolved")
	}
}

// SweepOnce выполняет один цикл разбора и возвращает число разрешённых попыток.
func (w *SweepWorker) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	cutoff := now.Add(-w.pendingTimeout)

	stuck, err := w.attempts.ListPendingBefore(cutoff, w.batchSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, attempt := range stuck {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}

		if err := w.attempts.MarkOutcome(attempt.OrderID, domain.PaymentOutcomeFailed, "", pendingTimeoutReason); err != nil {
			if errors.Is(err, domain.ErrPaymentOutcomeSettled) {
				// Провайдер успел разрешить попытку между выборкой и
				// фиксацией: исход принадлежит ему.
				w.logger.WithField("order_id", attempt.OrderID).Info("stuck payment settled concurrently, skipping")
				continue
			}
			w.logger.WithError(err).WithField("order_id", attempt.OrderID).Warn("mark stuck payment failed")
			continue
		}

		attempt.Outcome = domain.PaymentOutcomeFailed
		attempt.Reason = pendingTimeoutReason
		w.emitFailed(attempt)

		resolved++
		paymentSweepResolvedTotal.Inc()
	}

	return resolved, nil
}

func (w *SweepWorker) emitFailed(attempt domain.PaymentAttempt) {
	event, err := domain.NewEvent(domain.EventTypePaymentFailed, attempt.OrderID, outcomePayload(attempt))
	if err != nil {
		w.logger.WithError(err).WithField("order_id", attempt.OrderID).Error("marshal payment.failed failed")
		return
	}
	envelope, err := json.Marshal(event)
	if err != nil {
		w.logger.WithError(err).WithField("order_id", attempt.OrderID).Error("marshal event envelope failed")
		return
	}

	if _, err := w.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "payment",
		AggregateID:   attempt.OrderID,
		EventType:     string(domain.EventTypePaymentFailed),
		Payload:       envelope,
	}); err != nil {
		w.logger.WithError(err).WithField("order_id", attempt.OrderID).Error("enqueue payment.failed failed")
	}
}
