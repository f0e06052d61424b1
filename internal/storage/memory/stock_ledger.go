package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// skuCounter — счётчики одного товара со своим замком: single-writer-per-key,
// глобальной блокировки стока нет.
type skuCounter struct {
	mu        sync.Mutex
	available int64
	reserved  int64
}

// stockLedgerInMemory — in-memory реализация StockLedger для разработки и тестов.
type stockLedgerInMemory struct {
	mu       sync.RWMutex // защищает карту counters, не сами счётчики
	counters map[string]*skuCounter

	resMu        sync.Mutex
	reservations map[string][]domain.Reservation
}

// NewStockLedger создаёт in-memory реализацию StockLedger.
func NewStockLedger() domain.StockLedger {
	return &stockLedgerInMemory{
		counters:     make(map[string]*skuCounter),
		reservations: make(map[string][]domain.Reservation),
	}
}

// Reserve атомарно удерживает сток под все позиции заказа (всё-или-ничего).
// Замки SKU берутся в отсортированном порядке и держатся только на время
// проверки и мутации счётчиков — никакого I/O под замком.
func (l *stockLedgerInMemory) Reserve(_ context.Context, orderID string, items []domain.OrderItem) error {
	if orderID == "" {
		return domain.ErrOrderIDRequired
	}
	if len(items) == 0 {
		return domain.ErrItemsRequired
	}

	// Сворачиваем позиции по SKU: на пару (order, sku) — один резерв.
	qtyBySKU := make(map[string]int32, len(items))
	for _, item := range items {
		if item.SKU == "" {
			return domain.ErrSKURequired
		}
		if item.Qty <= 0 {
			return domain.ErrItemQtyInvalid
		}
		qtyBySKU[item.SKU] += item.Qty
	}

	// Повторный триггер для заказа с уже созданными резервами — no-op.
	// События одного заказа не обрабатываются параллельно (per-key ordering),
	// поэтому проверку и запись не нужно держать под одним замком.
	l.resMu.Lock()
	_, exists := l.reservations[orderID]
	l.resMu.Unlock()
	if exists {
		return nil
	}

	skus := make([]string, 0, len(qtyBySKU))
	for sku := range qtyBySKU {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	counters := make([]*skuCounter, 0, len(skus))
	for _, sku := range skus {
		counter, err := l.counter(sku)
		if err != nil {
			return err
		}
		counters = append(counters, counter)
	}

	locked := 0
	unlockAll := func() {
		for i := locked - 1; i >= 0; i-- {
			counters[i].mu.Unlock()
		}
	}

	for _, counter := range counters {
		counter.mu.Lock()
		locked++
	}

	// Сначала проверяем весь набор, потом мутируем: частичных резервов не бывает.
	for i, sku := range skus {
		qty := qtyBySKU[sku]
		if counters[i].available < int64(qty) {
			shortfall := &domain.InsufficientStockError{
				SKU:       sku,
				Requested: qty,
				Available: counters[i].available,
			}
			unlockAll()
			return shortfall
		}
	}

	now := time.Now().UTC()
	held := make([]domain.Reservation, 0, len(skus))
	for i, sku := range skus {
		qty := qtyBySKU[sku]
		counters[i].available -= int64(qty)
		counters[i].reserved += int64(qty)
		held = append(held, domain.Reservation{
			ID:        uuid.NewString(),
			OrderID:   orderID,
			SKU:       sku,
			Qty:       qty,
			State:     domain.ReservationStateHeld,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	unlockAll()

	l.resMu.Lock()
	l.reservations[orderID] = held
	l.resMu.Unlock()
	return nil
}

// Release возвращает held-резервы заказа в доступный сток. Идемпотентна.
func (l *stockLedgerInMemory) Release(_ context.Context, orderID string) error {
	return l.settle(orderID, domain.ReservationStateReleased)
}

// Consume окончательно списывает held-резервы заказа. Идемпотентна.
func (l *stockLedgerInMemory) Consume(_ context.Context, orderID string) error {
	return l.settle(orderID, domain.ReservationStateConsumed)
}

func (l *stockLedgerInMemory) settle(orderID string, target domain.ReservationState) error {
	l.resMu.Lock()
	defer l.resMu.Unlock()

	held := l.reservations[orderID]
	now := time.Now().UTC()

	for i := range held {
		if held[i].State != domain.ReservationStateHeld {
			continue
		}

		counter, err := l.counter(held[i].SKU)
		if err != nil {
			return err
		}

		counter.mu.Lock()
		counter.reserved -= int64(held[i].Qty)
		if target == domain.ReservationStateReleased {
			counter.available += int64(held[i].Qty)
		}
		counter.mu.Unlock()

		held[i].State = target
		held[i].UpdatedAt = now
	}

	return nil
}

// SetStock задаёт доступное количество товара (внешняя поставка).
func (l *stockLedgerInMemory) SetStock(_ context.Context, sku string, available int64) error {
	if sku == "" {
		return domain.ErrSKURequired
	}

	l.mu.Lock()
	counter, ok := l.counters[sku]
	if !ok {
		counter = &skuCounter{}
		l.counters[sku] = counter
	}
	l.mu.Unlock()

	counter.mu.Lock()
	counter.available = available
	counter.mu.Unlock()
	return nil
}

// GetStock возвращает текущие счётчики по товару.
func (l *stockLedgerInMemory) GetStock(_ context.Context, sku string) (domain.StockLevel, error) {
	l.mu.RLock()
	counter, ok := l.counters[sku]
	l.mu.RUnlock()
	if !ok {
		return domain.StockLevel{}, domain.ErrUnknownSKU
	}

	counter.mu.Lock()
	level := domain.StockLevel{SKU: sku, Available: counter.available, Reserved: counter.reserved}
	counter.mu.Unlock()
	return level, nil
}

// Reservations возвращает копию резервов заказа.
func (l *stockLedgerInMemory) Reservations(_ context.Context, orderID string) ([]domain.Reservation, error) {
	l.resMu.Lock()
	defer l.resMu.Unlock()

	held := l.reservations[orderID]
	result := make([]domain.Reservation, len(held))
	copy(result, held)
	return result, nil
}

// counter возвращает счётчик товара или ErrUnknownSKU, если товар
// не заводился через SetStock.
func (l *stockLedgerInMemory) counter(sku string) (*skuCounter, error) {
	l.mu.RLock()
	counter, ok := l.counters[sku]
	l.mu.RUnlock()
	if !ok {
		return nil, domain.ErrUnknownSKU
	}
	return counter, nil
}

var _ domain.StockLedger = (*stockLedgerInMemory)(nil)
