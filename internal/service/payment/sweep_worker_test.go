package payment

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func TestSweepWorkerResolvesStuckPending(t *testing.T) {
	attempts := memory.NewPaymentAttemptRepository()
	outbox := memory.NewOutboxRepository()

	if _, err := attempts.Claim(domain.PaymentAttempt{
		OrderID:     "order-stuck-1",
		AmountMinor: 5000,
		Currency:    "RUB",
		Method:      "card",
	}); err != nil {
		t.Fatalf("seed attempt: %v", err)
	}

	worker := NewSweepWorker(attempts, outbox, WithPendingTimeout(5*time.Minute))

	// Попытка только что создана, разрешать её рано.
	resolved, err := worker.SweepOnce(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if resolved != 0 {
		t.Fatalf("expected fresh attempt to be left alone, resolved %d", resolved)
	}

	// С точки зрения будущего цикла попытка зависла.
	resolved, err = worker.SweepOnce(context.Background(), time.Now().UTC().Add(10*time.Minute))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if resolved != 1 {
		t.Fatalf("expected 1 resolved attempt, got %d", resolved)
	}

	attempt, err := attempts.Get("order-stuck-1")
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if attempt.Outcome != domain.PaymentOutcomeFailed {
		t.Fatalf("expected failed outcome, got %q", attempt.Outcome)
	}
	if attempt.Reason == "" {
		t.Fatal("expected failure reason to be recorded")
	}

	events := pendingEnvelopes(t, outbox)
	if len(events) != 1 || events[0].Type != domain.EventTypePaymentFailed {
		t.Fatalf("expected payment.failed event, got %v", eventTypes(events))
	}
}

func TestSweepWorkerIgnoresSettledAttempts(t *testing.T) {
	attempts := memory.NewPaymentAttemptRepository()
	outbox := memory.NewOutboxRepository()

	if _, err := attempts.Claim(domain.PaymentAttempt{
		OrderID:     "order-settled-1",
		AmountMinor: 5000,
		Currency:    "RUB",
		Method:      "card",
	}); err != nil {
		t.Fatalf("seed attempt: %v", err)
	}
	if err := attempts.MarkOutcome("order-settled-1", domain.PaymentOutcomeSucceeded, "tx-1", ""); err != nil {
		t.Fatalf("settle attempt: %v", err)
	}

	worker := NewSweepWorker(attempts, outbox)

	resolved, err := worker.SweepOnce(context.Background(), time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if resolved != 0 {
		t.Fatalf("expected no resolutions, got %d", resolved)
	}
	if events := pendingEnvelopes(t, outbox); len(events) != 0 {
		t.Fatalf("expected no events, got %v", eventTypes(events))
	}
}

func TestSweepWorkerStopsOnContextCancel(t *testing.T) {
	attempts := memory.NewPaymentAttemptRepository()
	outbox := memory.NewOutboxRepository()

	worker := NewSweepWorker(attempts, outbox, WithSweepInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

// racingAttempts отдаёт зависшую попытку, которую провайдер разрешает между
// выборкой и фиксацией исхода.
type racingAttempts struct {
	domain.PaymentAttemptRepository
	stale domain.PaymentAttempt
}

func (r *racingAttempts) ListPendingBefore(time.Time, int) ([]domain.PaymentAttempt, error) {
	return []domain.PaymentAttempt{r.stale}, nil
}

func (r *racingAttempts) MarkOutcome(string, domain.PaymentOutcome, string, string) error {
	return domain.ErrPaymentOutcomeSettled
}

func TestSweepWorkerSkipsConcurrentlySettledAttempt(t *testing.T) {
	outbox := memory.NewOutboxRepository()
	attempts := &racingAttempts{stale: domain.PaymentAttempt{
		OrderID:     "order-race-2",
		AmountMinor: 5000,
		Currency:    "RUB",
		Method:      "card",
		Outcome:     domain.PaymentOutcomePending,
	}}

	worker := NewSweepWorker(attempts, outbox)

	resolved, err := worker.SweepOnce(context.Background(), time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if resolved != 0 {
		t.Fatalf("expected no resolutions for settled attempt, got %d", resolved)
	}
	// Исход принадлежит провайдеру: payment.failed не публикуется.
	if events := pendingEnvelopes(t, outbox); len(events) != 0 {
		t.Fatalf("expected no events, got %v", eventTypes(events))
	}
}
