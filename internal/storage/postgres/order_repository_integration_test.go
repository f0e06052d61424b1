package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestOrderRepository_PostgresCreateGetListAndSave(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	order1 := sampleOrder("order-1", "customer-1", now.Add(-2*time.Minute))
	order2 := sampleOrder("order-2", "customer-1", now.Add(-time.Minute))

	if err := repo.Create(order1); err != nil {
		t.Fatalf("create order1: %v", err)
	}
	if err := repo.Create(order2); err != nil {
		t.Fatalf("create order2: %v", err)
	}
	if err := repo.Create(order1); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("duplicate create must conflict, got %v", err)
	}

	got, err := repo.Get(order1.ID)
	if err != nil {
		t.Fatalf("get order1: %v", err)
	}
	if got.ID != order1.ID || got.CustomerID != order1.CustomerID || got.Status != order1.Status {
		t.Fatalf("unexpected order payload: %+v", got)
	}
	if len(got.Items) != 1 || got.Items[0].SKU != "sku-a" {
		t.Fatalf("unexpected order items: %+v", got.Items)
	}

	listed, err := repo.ListByCustomer("customer-1", 1)
	if err != nil {
		t.Fatalf("list by customer with limit: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != order2.ID {
		t.Fatalf("unexpected list result with limit: %+v", listed)
	}

	got.Status = domain.OrderStatusStockPending
	got.UpdatedAt = now.Add(time.Minute)
	if err := repo.Save(got); err != nil {
		t.Fatalf("save order: %v", err)
	}

	// Сохранение со старой версией должно отклоняться.
	got.Status = domain.OrderStatusStockRejected
	if err := repo.Save(got); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	fresh, err := repo.Get(order1.ID)
	if err != nil {
		t.Fatalf("get order1 after save: %v", err)
	}
	if fresh.Status != domain.OrderStatusStockPending {
		t.Fatalf("stale save must not win: %s", fresh.Status)
	}
	if fresh.Version != got.Version+1 {
		t.Fatalf("save must bump version: %d", fresh.Version)
	}

	if err := repo.Save(sampleOrder("missing", "customer-1", now)); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
