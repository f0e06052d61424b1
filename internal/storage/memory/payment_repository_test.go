package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestPaymentRepositoryClaimIsUnique(t *testing.T) {
	repo := NewPaymentAttemptRepository()

	attempt := domain.PaymentAttempt{
		OrderID:     "order-1",
		AmountMinor: 500,
		Currency:    "RUB",
		Method:      "card",
	}

	first, err := repo.Claim(attempt)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if first.ID == "" || first.Outcome != domain.PaymentOutcomePending {
		t.Fatalf("unexpected claimed attempt: %+v", first)
	}

	// Повторный триггер платежа по тому же заказу возвращает уже
	// существующую попытку, а не создаёт вторую.
	second, err := repo.Claim(attempt)
	if !errors.Is(err, domain.ErrPaymentAttemptExists) {
		t.Fatalf("expected ErrPaymentAttemptExists, got %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate claim returned another attempt: %s vs %s", second.ID, first.ID)
	}
}

func TestPaymentRepositoryMarkOutcome(t *testing.T) {
	repo := NewPaymentAttemptRepository()

	if _, err := repo.Claim(domain.PaymentAttempt{OrderID: "order-1", AmountMinor: 500, Currency: "RUB", Method: "card"}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := repo.MarkOutcome("order-1", domain.PaymentOutcomeSucceeded, "tx-123", ""); err != nil {
		t.Fatalf("mark outcome: %v", err)
	}
	// Повторная фиксация того же исхода — no-op.
	if err := repo.MarkOutcome("order-1", domain.PaymentOutcomeSucceeded, "tx-123", ""); err != nil {
		t.Fatalf("repeated mark outcome: %v", err)
	}

	attempt, err := repo.Get("order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if attempt.Outcome != domain.PaymentOutcomeSucceeded || attempt.TxRef != "tx-123" {
		t.Fatalf("unexpected attempt after outcome: %+v", attempt)
	}

	if err := repo.MarkOutcome("missing", domain.PaymentOutcomeFailed, "", "declined"); !errors.Is(err, domain.ErrPaymentAttemptNotFound) {
		t.Fatalf("expected ErrPaymentAttemptNotFound, got %v", err)
	}
}

func TestPaymentRepositoryOutcomeIsImmutable(t *testing.T) {
	repo := NewPaymentAttemptRepository()

	if _, err := repo.Claim(domain.PaymentAttempt{OrderID: "order-1", AmountMinor: 500, Currency: "RUB", Method: "card"}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.MarkOutcome("order-1", domain.PaymentOutcomeFailed, "", "pending timeout"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	// Расчётную попытку нельзя перевести в другой исход: запоздавший
	// результат провайдера не перезаписывает решение sweep-воркера.
	if err := repo.MarkOutcome("order-1", domain.PaymentOutcomeSucceeded, "tx-late", ""); !errors.Is(err, domain.ErrPaymentOutcomeSettled) {
		t.Fatalf("expected ErrPaymentOutcomeSettled, got %v", err)
	}

	attempt, err := repo.Get("order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if attempt.Outcome != domain.PaymentOutcomeFailed {
		t.Fatalf("settled outcome was overwritten: %+v", attempt)
	}
	if attempt.TxRef != "" {
		t.Fatalf("tx ref leaked into settled attempt: %q", attempt.TxRef)
	}
}

func TestPaymentRepositoryListPendingBefore(t *testing.T) {
	repo := NewPaymentAttemptRepository()

	for _, orderID := range []string{"order-1", "order-2", "order-3"} {
		if _, err := repo.Claim(domain.PaymentAttempt{OrderID: orderID, AmountMinor: 100, Currency: "RUB", Method: "card"}); err != nil {
			t.Fatalf("claim %s: %v", orderID, err)
		}
	}
	if err := repo.MarkOutcome("order-2", domain.PaymentOutcomeFailed, "", "declined"); err != nil {
		t.Fatalf("mark outcome: %v", err)
	}

	pending, err := repo.ListPendingBefore(time.Now().UTC().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending attempts, got %d", len(pending))
	}
	for _, attempt := range pending {
		if attempt.Outcome != domain.PaymentOutcomePending {
			t.Fatalf("non-pending attempt in result: %+v", attempt)
		}
	}

	// Свежие pending-попытки не считаются зависшими.
	stuck, err := repo.ListPendingBefore(time.Now().UTC().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(stuck) != 0 {
		t.Fatalf("expected no stuck attempts, got %d", len(stuck))
	}
}
