package postgres

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestPaymentRepository_PostgresOutcomeIsImmutable(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewPaymentAttemptRepository(store)

	if _, err := repo.Claim(domain.PaymentAttempt{
		OrderID:     "order-settle-1",
		AmountMinor: 5000,
		Currency:    "RUB",
		Method:      "card",
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := repo.MarkOutcome("order-settle-1", domain.PaymentOutcomeFailed, "", "pending timeout"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	// Повторная фиксация того же исхода — no-op.
	if err := repo.MarkOutcome("order-settle-1", domain.PaymentOutcomeFailed, "", "pending timeout"); err != nil {
		t.Fatalf("repeated mark failed: %v", err)
	}

	// Запоздавший успех провайдера не перезаписывает расчётную попытку.
	if err := repo.MarkOutcome("order-settle-1", domain.PaymentOutcomeSucceeded, "tx-late", ""); !errors.Is(err, domain.ErrPaymentOutcomeSettled) {
		t.Fatalf("expected ErrPaymentOutcomeSettled, got %v", err)
	}

	attempt, err := repo.Get("order-settle-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if attempt.Outcome != domain.PaymentOutcomeFailed || attempt.TxRef != "" {
		t.Fatalf("settled outcome was overwritten: %+v", attempt)
	}
}
