package domain

import "time"

// ReservationState отражает состояние резерва товара на складе.
type ReservationState string

const (
	// ReservationStateHeld — сток удержан под заказ, оплата не завершена.
	ReservationStateHeld ReservationState = "held"
	// ReservationStateReleased — резерв снят, количество возвращено в доступный сток.
	ReservationStateReleased ReservationState = "released"
	// ReservationStateConsumed — сток списан окончательно после успешной оплаты.
	ReservationStateConsumed ReservationState = "consumed"
)

// Reservation описывает удержание товара под конкретный заказ.
// На пару (OrderID, SKU) создаётся не более одного резерва.
type Reservation struct {
	ID        string
	OrderID   string
	SKU       string
	Qty       int32
	State     ReservationState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет, корректно ли заполнены ключевые поля резерва.
func (r *Reservation) Validate() []error {
	var errs []error

	if r.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if r.SKU == "" {
		errs = append(errs, ErrSKURequired)
	}
	if r.Qty <= 0 {
		errs = append(errs, ErrItemQtyInvalid)
	}

	return errs
}

// StockLevel — счётчики стока по товару. Инвариант: Available >= 0 всегда,
// Available и Reserved меняются атомарно вместе с состоянием резервов.
type StockLevel struct {
	SKU       string
	Available int64
	Reserved  int64
}
