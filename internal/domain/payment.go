package domain

import "time"

// PaymentOutcome описывает исход платёжной попытки.
type PaymentOutcome string

const (
	// PaymentOutcomePending — попытка создана, провайдер ещё не ответил.
	PaymentOutcomePending PaymentOutcome = "pending"
	// PaymentOutcomeSucceeded — деньги списаны, заказ можно подтверждать.
	PaymentOutcomeSucceeded PaymentOutcome = "succeeded"
	// PaymentOutcomeFailed — отказ провайдера или таймаут.
	PaymentOutcomeFailed PaymentOutcome = "failed"
)

// PaymentAttempt — платёжная попытка по заказу. На заказ допускается
// не более одной записи: уникальность по OrderID и есть защита от
// повторного списания при дублях событий.
type PaymentAttempt struct {
	ID          string
	OrderID     string
	AmountMinor int64
	Currency    string
	Method      string
	Outcome     PaymentOutcome
	TxRef       string // Пустой, пока провайдер не вернул ссылку на транзакцию.
	Reason      string // Заполняется для отказов.
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate проверяет корректность полей попытки и возвращает ошибки, если они есть.
func (p *PaymentAttempt) Validate() []error {
	var errs []error

	if p.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if p.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if p.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}

	return errs
}
