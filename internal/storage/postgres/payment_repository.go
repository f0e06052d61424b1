package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type paymentRepository struct {
	db *sql.DB
}

// NewPaymentAttemptRepository создаёт PostgreSQL-реализацию PaymentAttemptRepository.
func NewPaymentAttemptRepository(store *Store) domain.PaymentAttemptRepository {
	return &paymentRepository{db: store.DB()}
}

// Claim создаёт pending-попытку. Уникальный констрейнт по order_id
// гарантирует одну попытку на заказ: дубль возвращает существующую
// запись вместе с ErrPaymentAttemptExists.
func (r *paymentRepository) Claim(attempt domain.PaymentAttempt) (domain.PaymentAttempt, error) {
	if errs := attempt.Validate(); len(errs) != 0 {
		return domain.PaymentAttempt{}, errs[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	attempt.Outcome = domain.PaymentOutcomePending
	attempt.CreatedAt = now
	attempt.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_attempts (
			id, order_id, amount_minor, currency, method, outcome, tx_ref, reason, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		attempt.ID, attempt.OrderID, attempt.AmountMinor, attempt.Currency, attempt.Method,
		string(attempt.Outcome), attempt.TxRef, attempt.Reason, attempt.CreatedAt, attempt.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := r.Get(attempt.OrderID)
			if getErr != nil {
				return domain.PaymentAttempt{}, fmt.Errorf("load existing payment attempt: %w", getErr)
			}
			return existing, domain.ErrPaymentAttemptExists
		}
		return domain.PaymentAttempt{}, fmt.Errorf("insert payment attempt: %w", err)
	}

	return attempt, nil
}

func (r *paymentRepository) Get(orderID string) (domain.PaymentAttempt, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var attempt domain.PaymentAttempt
	var outcome string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, amount_minor, currency, method, outcome, tx_ref, reason, created_at, updated_at
		FROM payment_attempts
		WHERE order_id = $1
	`, orderID).Scan(
		&attempt.ID, &attempt.OrderID, &attempt.AmountMinor, &attempt.Currency, &attempt.Method,
		&outcome, &attempt.TxRef, &attempt.Reason, &attempt.CreatedAt, &attempt.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PaymentAttempt{}, domain.ErrPaymentAttemptNotFound
		}
		return domain.PaymentAttempt{}, fmt.Errorf("select payment attempt: %w", err)
	}
	attempt.Outcome = domain.PaymentOutcome(outcome)

	return attempt, nil
}

// MarkOutcome фиксирует исход pending-попытки. Повторная фиксация того же
// исхода — no-op. Исход терминален: расчётную попытку перевести в другой
// исход нельзя — возвращается ErrPaymentOutcomeSettled.
func (r *paymentRepository) MarkOutcome(orderID string, outcome domain.PaymentOutcome, txRef, reason string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE payment_attempts
		SET outcome = $1,
		    tx_ref = $2,
		    reason = $3,
		    updated_at = $4
		WHERE order_id = $5
		  AND outcome = 'pending'
	`, string(outcome), txRef, reason, time.Now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("mark payment outcome: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("payment rows affected: %w", err)
	}
	if affected == 0 {
		existing, getErr := r.Get(orderID)
		if getErr != nil {
			return getErr
		}
		if existing.Outcome == outcome {
			// Тот же исход уже зафиксирован — повторная доставка события.
			return nil
		}
		return domain.ErrPaymentOutcomeSettled
	}

	return nil
}

func (r *paymentRepository) ListPendingBefore(cutoff time.Time, limit int) ([]domain.PaymentAttempt, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, amount_minor, currency, method, outcome, tx_ref, reason, created_at, updated_at
		FROM payment_attempts
		WHERE outcome = 'pending'
		  AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending payment attempts: %w", err)
	}
	defer rows.Close()

	result := make([]domain.PaymentAttempt, 0, limit)
	for rows.Next() {
		var attempt domain.PaymentAttempt
		var outcome string
		if err := rows.Scan(
			&attempt.ID, &attempt.OrderID, &attempt.AmountMinor, &attempt.Currency, &attempt.Method,
			&outcome, &attempt.TxRef, &attempt.Reason, &attempt.CreatedAt, &attempt.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan payment attempt: %w", err)
		}
		attempt.Outcome = domain.PaymentOutcome(outcome)
		result = append(result, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment attempts: %w", err)
	}

	return result, nil
}

var _ domain.PaymentAttemptRepository = (*paymentRepository)(nil)
