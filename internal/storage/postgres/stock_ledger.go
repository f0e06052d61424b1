package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type stockLedger struct {
	db *sql.DB
}

// NewStockLedger создаёт PostgreSQL-реализацию StockLedger.
func NewStockLedger(store *Store) domain.StockLedger {
	return &stockLedger{db: store.DB()}
}

// Reserve удерживает сток под все позиции заказа одной транзакцией.
// Строки stock_levels блокируются через SELECT ... FOR UPDATE в
// отсортированном по SKU порядке, что исключает deadlock между
// конкурентными заказами с пересекающимися наборами товаров.
func (l *stockLedger) Reserve(ctx context.Context, orderID string, items []domain.OrderItem) error {
	if orderID == "" {
		return domain.ErrOrderIDRequired
	}
	if len(items) == 0 {
		return domain.ErrItemsRequired
	}

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

	skus := make([]string, 0, len(qtyBySKU))
	for sku := range qtyBySKU {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := l.db.BeginTx(opCtx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Повторный триггер для заказа с уже созданными резервами — no-op.
	var existing int
	if err = tx.QueryRowContext(opCtx, `
		SELECT COUNT(*) FROM reservations WHERE order_id = $1
	`, orderID).Scan(&existing); err != nil {
		return fmt.Errorf("check existing reservations: %w", err)
	}
	if existing > 0 {
		return tx.Commit()
	}

	// Проверяем весь набор до первой мутации: частичных резервов не бывает.
	for _, sku := range skus {
		var available int64
		err = tx.QueryRowContext(opCtx, `
			SELECT available FROM stock_levels WHERE sku = $1 FOR UPDATE
		`, sku).Scan(&available)
		if errors.Is(err, sql.ErrNoRows) {
			err = domain.ErrUnknownSKU
			return err
		}
		if err != nil {
			return fmt.Errorf("lock stock level %s: %w", sku, err)
		}

		if available < int64(qtyBySKU[sku]) {
			err = &domain.InsufficientStockError{
				SKU:       sku,
				Requested: qtyBySKU[sku],
				Available: available,
			}
			return err
		}
	}

	now := time.Now().UTC()
	for _, sku := range skus {
		qty := qtyBySKU[sku]
		if _, err = tx.ExecContext(opCtx, `
			UPDATE stock_levels
			SET available = available - $1,
			    reserved = reserved + $1,
			    updated_at = $2
			WHERE sku = $3
		`, qty, now, sku); err != nil {
			return fmt.Errorf("reserve stock %s: %w", sku, err)
		}

		if _, err = tx.ExecContext(opCtx, `
			INSERT INTO reservations (id, order_id, sku, qty, state, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, uuid.NewString(), orderID, sku, qty, string(domain.ReservationStateHeld), now, now); err != nil {
			return fmt.Errorf("insert reservation %s: %w", sku, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit reserve: %w", err)
	}

	return nil
}

// Release возвращает held-резервы заказа в доступный сток. Идемпотентна.
func (l *stockLedger) Release(ctx context.Context, orderID string) error {
	return l.settle(ctx, orderID, domain.ReservationStateReleased)
}

// Consume окончательно списывает held-резервы заказа. Идемпотентна.
func (l *stockLedger) Consume(ctx context.Context, orderID string) error {
	return l.settle(ctx, orderID, domain.ReservationStateConsumed)
}

func (l *stockLedger) settle(ctx context.Context, orderID string, target domain.ReservationState) error {
	if orderID == "" {
		return domain.ErrOrderIDRequired
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := l.db.BeginTx(opCtx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(opCtx, `
		SELECT r.sku, r.qty
		FROM reservations r
		JOIN stock_levels s ON s.sku = r.sku
		WHERE r.order_id = $1
		  AND r.state = $2
		ORDER BY r.sku
		FOR UPDATE OF r, s
	`, orderID, string(domain.ReservationStateHeld))
	if err != nil {
		return fmt.Errorf("lock reservations: %w", err)
	}

	type heldRow struct {
		sku string
		qty int32
	}
	held := make([]heldRow, 0)
	for rows.Next() {
		var row heldRow
		if err = rows.Scan(&row.sku, &row.qty); err != nil {
			rows.Close()
			return fmt.Errorf("scan reservation: %w", err)
		}
		held = append(held, row)
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate reservations: %w", err)
	}
	rows.Close()

	// Заказ без held-резервов: компенсировать нечего.
	if len(held) == 0 {
		return tx.Commit()
	}

	now := time.Now().UTC()
	for _, row := range held {
		restore := int64(0)
		if target == domain.ReservationStateReleased {
			restore = int64(row.qty)
		}
		if _, err = tx.ExecContext(opCtx, `
			UPDATE stock_levels
			SET available = available + $1,
			    reserved = reserved - $2,
			    updated_at = $3
			WHERE sku = $4
		`, restore, row.qty, now, row.sku); err != nil {
			return fmt.Errorf("settle stock %s: %w", row.sku, err)
		}
	}

	if _, err = tx.ExecContext(opCtx, `
		UPDATE reservations
		SET state = $1,
		    updated_at = $2
		WHERE order_id = $3
		  AND state = $4
	`, string(target), now, orderID, string(domain.ReservationStateHeld)); err != nil {
		return fmt.Errorf("settle reservations: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit settle: %w", err)
	}

	return nil
}

// SetStock задаёт доступное количество товара (внешняя поставка).
func (l *stockLedger) SetStock(ctx context.Context, sku string, available int64) error {
	if sku == "" {
		return domain.ErrSKURequired
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := l.db.ExecContext(opCtx, `
		INSERT INTO stock_levels (sku, available, reserved, updated_at)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (sku) DO UPDATE
		SET available = EXCLUDED.available,
		    updated_at = EXCLUDED.updated_at
	`, sku, available, time.Now().UTC()); err != nil {
		return fmt.Errorf("set stock: %w", err)
	}
	return nil
}

// GetStock возвращает текущие счётчики по товару.
func (l *stockLedger) GetStock(ctx context.Context, sku string) (domain.StockLevel, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var level domain.StockLevel
	err := l.db.QueryRowContext(opCtx, `
		SELECT sku, available, reserved FROM stock_levels WHERE sku = $1
	`, sku).Scan(&level.SKU, &level.Available, &level.Reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockLevel{}, domain.ErrUnknownSKU
	}
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("select stock level: %w", err)
	}

	return level, nil
}

// Reservations возвращает резервы заказа.
func (l *stockLedger) Reservations(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := l.db.QueryContext(opCtx, `
		SELECT id, order_id, sku, qty, state, created_at, updated_at
		FROM reservations
		WHERE order_id = $1
		ORDER BY sku
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select reservations: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Reservation, 0)
	for rows.Next() {
		var res domain.Reservation
		var state string
		if err := rows.Scan(&res.ID, &res.OrderID, &res.SKU, &res.Qty, &state, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		res.State = domain.ReservationState(state)
		result = append(result, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}

	return result, nil
}

var _ domain.StockLedger = (*stockLedger)(nil)
