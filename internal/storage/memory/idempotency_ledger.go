package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// staleClaimAfter — срок, после которого processing-захват считается
// брошенным и может быть перехвачен повторной доставкой. Заметно больше
// любого дедлайна обработчика.
const staleClaimAfter = 5 * time.Minute

type ledgerKey struct {
	eventID  string
	consumer string
}

// idempotencyLedgerInMemory хранит записи обработки событий по паре
// (event_id, consumer).
type idempotencyLedgerInMemory struct {
	mu    sync.Mutex
	items map[ledgerKey]domain.ProcessedEventRecord
}

// NewIdempotencyLedger создаёт in-memory реализацию IdempotencyLedger.
func NewIdempotencyLedger() domain.IdempotencyLedger {
	return &idempotencyLedgerInMemory{
		items: make(map[ledgerKey]domain.ProcessedEventRecord),
	}
}

// Claim атомарно захватывает пару (event_id, consumer).
func (l *idempotencyLedgerInMemory) Claim(eventID, consumer string, ttlAt time.Time) error {
	key, err := makeLedgerKey(eventID, consumer)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(24 * time.Hour)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	createdAt := now
	if existing, ok := l.items[key]; ok {
		if existing.Status == domain.ProcessedStatusDone {
			return domain.ErrEventAlreadyProcessed
		}
		if now.Sub(existing.UpdatedAt) < staleClaimAfter {
			return domain.ErrEventInFlight
		}
		// Захват просрочен: обработчик упал между Claim и Commit/Release.
		// Перехватываем, иначе повторные доставки никогда не обработаются.
		createdAt = existing.CreatedAt
	}

	l.items[key] = domain.ProcessedEventRecord{
		EventID:   eventID,
		Consumer:  consumer,
		Status:    domain.ProcessedStatusProcessing,
		TTLAt:     ttlAt,
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
	return nil
}

// Commit помечает захваченную пару обработанной.
func (l *idempotencyLedgerInMemory) Commit(eventID, consumer string) error {
	key, err := makeLedgerKey(eventID, consumer)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.items[key]
	if !ok {
		return domain.ErrEventClaimNotFound
	}
	record.Status = domain.ProcessedStatusDone
	record.UpdatedAt = time.Now().UTC()
	l.items[key] = record
	return nil
}

// Release снимает захват после неудачной обработки, чтобы повторная
// доставка события могла быть обработана заново.
func (l *idempotencyLedgerInMemory) Release(eventID, consumer string) error {
	key, err := makeLedgerKey(eventID, consumer)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.items[key]
	if !ok {
		return domain.ErrEventClaimNotFound
	}
	// Зафиксированную обработку снять нельзя.
	if record.Status == domain.ProcessedStatusDone {
		return domain.ErrEventAlreadyProcessed
	}
	delete(l.items, key)
	return nil
}

// DeleteExpired удаляет записи с ttl <= before порциями limit.
func (l *idempotencyLedgerInMemory) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, record := range l.items {
		if record.TTLAt.After(before) {
			continue
		}

		delete(l.items, key)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}

	return removed, nil
}

func makeLedgerKey(eventID, consumer string) (ledgerKey, error) {
	eventID = strings.TrimSpace(eventID)
	consumer = strings.TrimSpace(consumer)
	if eventID == "" || consumer == "" {
		return ledgerKey{}, domain.ErrEventClaimNotFound
	}
	return ledgerKey{eventID: eventID, consumer: consumer}, nil
}

var _ domain.IdempotencyLedger = (*idempotencyLedgerInMemory)(nil)
