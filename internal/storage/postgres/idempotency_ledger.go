package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// staleClaimAfter — срок, после которого processing-захват считается
// брошенным и может быть перехвачен повторной доставкой.
const staleClaimAfter = 5 * time.Minute

type idempotencyLedger struct {
	db *sql.DB
}

// NewIdempotencyLedger создаёт PostgreSQL-реализацию IdempotencyLedger.
func NewIdempotencyLedger(store *Store) domain.IdempotencyLedger {
	return &idempotencyLedger{db: store.DB()}
}

// Claim атомарно захватывает пару (event_id, consumer). Атомарность
// обеспечивает первичный ключ processed_events: из двух конкурентных
// вставок ровно одна проходит.
func (l *idempotencyLedger) Claim(eventID, consumer string, ttlAt time.Time) error {
	eventID = strings.TrimSpace(eventID)
	consumer = strings.TrimSpace(consumer)
	if eventID == "" || consumer == "" {
		return domain.ErrEventClaimNotFound
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(24 * time.Hour)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO processed_events (event_id, consumer, status, ttl_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, eventID, consumer, string(domain.ProcessedStatusProcessing), ttlAt, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return l.reclaimStale(ctx, eventID, consumer, ttlAt, now)
		}
		return fmt.Errorf("claim processed event: %w", err)
	}

	return nil
}

// reclaimStale перехватывает processing-запись, брошенную упавшим
// обработчиком: захват старше staleClaimAfter переоформляется на нового
// вызывающего. Живые записи классифицируются как дубль или in-flight.
func (l *idempotencyLedger) reclaimStale(ctx context.Context, eventID, consumer string, ttlAt, now time.Time) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE processed_events
		SET ttl_at = $1,
		    updated_at = $2
		WHERE event_id = $3
		  AND consumer = $4
		  AND status = $5
		  AND updated_at < $6
	`, ttlAt, now, eventID, consumer, string(domain.ProcessedStatusProcessing), now.Add(-staleClaimAfter))
	if err != nil {
		return fmt.Errorf("reclaim processed event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("processed event rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	return l.classifyExisting(ctx, eventID, consumer)
}

func (l *idempotencyLedger) classifyExisting(ctx context.Context, eventID, consumer string) error {
	var status string
	err := l.db.QueryRowContext(ctx, `
		SELECT status FROM processed_events WHERE event_id = $1 AND consumer = $2
	`, eventID, consumer).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		// Запись исчезла между вставкой и чтением: параллельный Release.
		return domain.ErrEventInFlight
	}
	if err != nil {
		return fmt.Errorf("read processed event: %w", err)
	}

	if domain.ProcessedStatus(status) == domain.ProcessedStatusDone {
		return domain.ErrEventAlreadyProcessed
	}
	return domain.ErrEventInFlight
}

// Commit помечает захваченную пару обработанной.
func (l *idempotencyLedger) Commit(eventID, consumer string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := l.db.ExecContext(ctx, `
		UPDATE processed_events
		SET status = $1,
		    updated_at = $2
		WHERE event_id = $3
		  AND consumer = $4
	`, string(domain.ProcessedStatusDone), time.Now().UTC(), eventID, consumer)
	if err != nil {
		return fmt.Errorf("commit processed event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("processed event rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrEventClaimNotFound
	}

	return nil
}

// Release снимает захват после неудачной обработки. Зафиксированную
// обработку снять нельзя.
func (l *idempotencyLedger) Release(eventID, consumer string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := l.db.ExecContext(ctx, `
		DELETE FROM processed_events
		WHERE event_id = $1
		  AND consumer = $2
		  AND status = $3
	`, eventID, consumer, string(domain.ProcessedStatusProcessing))
	if err != nil {
		return fmt.Errorf("release processed event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("processed event rows affected: %w", err)
	}
	if affected == 0 {
		return l.classifyMissing(ctx, eventID, consumer)
	}

	return nil
}

func (l *idempotencyLedger) classifyMissing(ctx context.Context, eventID, consumer string) error {
	var status string
	err := l.db.QueryRowContext(ctx, `
		SELECT status FROM processed_events WHERE event_id = $1 AND consumer = $2
	`, eventID, consumer).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrEventClaimNotFound
	}
	if err != nil {
		return fmt.Errorf("read processed event: %w", err)
	}
	return domain.ErrEventAlreadyProcessed
}

// DeleteExpired удаляет записи с ttl <= before порциями limit.
func (l *idempotencyLedger) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		res sql.Result
		err error
	)

	if limit > 0 {
		res, err = l.db.ExecContext(ctx, `
			DELETE FROM processed_events
			WHERE (event_id, consumer) IN (
				SELECT event_id, consumer
				FROM processed_events
				WHERE ttl_at <= $1
				ORDER BY ttl_at ASC
				LIMIT $2
			)
		`, before, limit)
	} else {
		res, err = l.db.ExecContext(ctx, `
			DELETE FROM processed_events
			WHERE ttl_at <= $1
		`, before)
	}
	if err != nil {
		return 0, fmt.Errorf("delete expired processed events: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("processed event rows affected: %w", err)
	}

	return int(affected), nil
}

var _ domain.IdempotencyLedger = (*idempotencyLedger)(nil)
