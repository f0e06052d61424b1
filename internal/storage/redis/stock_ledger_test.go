package redis

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func cleanupOrder(ctx context.Context, client *redis.Client, orderID string, skus ...string) {
	client.Del(ctx, reservationMetaKeyPrefix+orderID, reservationItemsKeyPrefix+orderID)
	for _, sku := range skus {
		client.Del(ctx, stockAvailableKeyPrefix+sku, stockReservedKeyPrefix+sku)
	}
}

func TestRedisStockLedgerReserveAndRelease(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	ledger := NewStockLedger(client)
	cleanupOrder(ctx, client, "order-1", "sku-a", "sku-b")

	if err := ledger.SetStock(ctx, "sku-a", 10); err != nil {
		t.Fatalf("set stock: %v", err)
	}
	if err := ledger.SetStock(ctx, "sku-b", 4); err != nil {
		t.Fatalf("set stock: %v", err)
	}

	items := []domain.OrderItem{
		{SKU: "sku-a", Qty: 3, UnitPriceMinor: 100},
		{SKU: "sku-b", Qty: 2, UnitPriceMinor: 50},
	}
	if err := ledger.Reserve(ctx, "order-1", items); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	// Повторный вызов — no-op.
	if err := ledger.Reserve(ctx, "order-1", items); err != nil {
		t.Fatalf("duplicate reserve: %v", err)
	}

	level, err := ledger.GetStock(ctx, "sku-a")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if level.Available != 7 || level.Reserved != 3 {
		t.Fatalf("unexpected counters: available=%d reserved=%d", level.Available, level.Reserved)
	}

	if err := ledger.Release(ctx, "order-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := ledger.Release(ctx, "order-1"); err != nil {
		t.Fatalf("repeated release: %v", err)
	}

	level, err = ledger.GetStock(ctx, "sku-a")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if level.Available != 10 || level.Reserved != 0 {
		t.Fatalf("release must restore stock: available=%d reserved=%d", level.Available, level.Reserved)
	}

	reservations, err := ledger.Reservations(ctx, "order-1")
	if err != nil {
		t.Fatalf("reservations: %v", err)
	}
	for _, res := range reservations {
		if res.State != domain.ReservationStateReleased {
			t.Fatalf("expected released reservation, got %s", res.State)
		}
	}
}

func TestRedisStockLedgerAllOrNothing(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	ledger := NewStockLedger(client)
	cleanupOrder(ctx, client, "order-1", "sku-a", "sku-b")

	if err := ledger.SetStock(ctx, "sku-a", 10); err != nil {
		t.Fatalf("set stock: %v", err)
	}
	if err := ledger.SetStock(ctx, "sku-b", 1); err != nil {
		t.Fatalf("set stock: %v", err)
	}

	err := ledger.Reserve(ctx, "order-1", []domain.OrderItem{
		{SKU: "sku-a", Qty: 2, UnitPriceMinor: 100},
		{SKU: "sku-b", Qty: 2, UnitPriceMinor: 50},
	})

	var shortfall *domain.InsufficientStockError
	if !errors.As(err, &shortfall) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if shortfall.SKU != "sku-b" || shortfall.Available != 1 {
		t.Fatalf("unexpected shortfall: %+v", shortfall)
	}

	level, err := ledger.GetStock(ctx, "sku-a")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if level.Available != 10 || level.Reserved != 0 {
		t.Fatalf("partial reservation leaked: available=%d reserved=%d", level.Available, level.Reserved)
	}
}

func TestRedisStockLedgerUnknownSKU(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	ledger := NewStockLedger(client)
	cleanupOrder(ctx, client, "order-1", "ghost")

	err := ledger.Reserve(ctx, "order-1", []domain.OrderItem{{SKU: "ghost", Qty: 1, UnitPriceMinor: 10}})
	if !errors.Is(err, domain.ErrUnknownSKU) {
		t.Fatalf("expected ErrUnknownSKU, got %v", err)
	}
}

func TestRedisStockLedgerConcurrentReserve(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	ledger := NewStockLedger(client)

	const workers = 10
	orderIDs := make([]string, workers)
	for i := range orderIDs {
		orderIDs[i] = "order-concurrent-" + string(rune('a'+i))
		cleanupOrder(ctx, client, orderIDs[i])
	}
	cleanupOrder(ctx, client, "order-none", "sku-hot")

	if err := ledger.SetStock(ctx, "sku-hot", 5); err != nil {
		t.Fatalf("set stock: %v", err)
	}

	results := make(chan error, workers)
	var wg sync.WaitGroup
	for _, orderID := range orderIDs {
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			results <- ledger.Reserve(ctx, orderID, []domain.OrderItem{{SKU: "sku-hot", Qty: 1, UnitPriceMinor: 10}})
		}(orderID)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientStock):
		default:
			t.Fatalf("unexpected reserve error: %v", err)
		}
	}

	if succeeded != 5 {
		t.Fatalf("expected exactly 5 successful reservations, got %d", succeeded)
	}

	level, err := ledger.GetStock(ctx, "sku-hot")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if level.Available != 0 || level.Reserved != 5 {
		t.Fatalf("oversell detected: available=%d reserved=%d", level.Available, level.Reserved)
	}
}
