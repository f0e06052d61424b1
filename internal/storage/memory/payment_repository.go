package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// paymentRepositoryInMemory хранит платёжные попытки по ключу order_id.
type paymentRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.PaymentAttempt
}

// NewPaymentAttemptRepository создаёт in-memory реализацию PaymentAttemptRepository.
func NewPaymentAttemptRepository() domain.PaymentAttemptRepository {
	return &paymentRepositoryInMemory{
		items: make(map[string]domain.PaymentAttempt),
	}
}

// Claim создаёт pending-попытку. Уникальность по заказу эмулирует
// уникальный констрейнт БД: дубль возвращает уже существующую запись.
func (r *paymentRepositoryInMemory) Claim(attempt domain.PaymentAttempt) (domain.PaymentAttempt, error) {
	if errs := attempt.Validate(); len(errs) != 0 {
		return domain.PaymentAttempt{}, errs[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[attempt.OrderID]; ok {
		return existing, domain.ErrPaymentAttemptExists
	}

	now := time.Now().UTC()
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	attempt.Outcome = domain.PaymentOutcomePending
	attempt.CreatedAt = now
	attempt.UpdatedAt = now

	r.items[attempt.OrderID] = attempt
	return attempt, nil
}

// Get возвращает попытку заказа или ErrPaymentAttemptNotFound.
func (r *paymentRepositoryInMemory) Get(orderID string) (domain.PaymentAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	attempt, ok := r.items[orderID]
	if !ok {
		return domain.PaymentAttempt{}, domain.ErrPaymentAttemptNotFound
	}
	return attempt, nil
}

// MarkOutcome фиксирует исход pending-попытки. Повторная фиксация того же
// исхода — no-op: компенсация может ретраиться. Исход терминален: попытку,
// уже расчитанную провайдером или sweep-воркером, перевести в другой исход
// нельзя — возвращается ErrPaymentOutcomeSettled.
func (r *paymentRepositoryInMemory) MarkOutcome(orderID string, outcome domain.PaymentOutcome, txRef, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempt, ok := r.items[orderID]
	if !ok {
		return domain.ErrPaymentAttemptNotFound
	}
	if attempt.Outcome == outcome {
		return nil
	}
	if attempt.Outcome != domain.PaymentOutcomePending {
		return domain.ErrPaymentOutcomeSettled
	}

	attempt.Outcome = outcome
	attempt.TxRef = txRef
	attempt.Reason = reason
	attempt.UpdatedAt = time.Now().UTC()
	r.items[orderID] = attempt
	return nil
}

// ListPendingBefore возвращает попытки, зависшие в pending раньше cutoff.
func (r *paymentRepositoryInMemory) ListPendingBefore(cutoff time.Time, limit int) ([]domain.PaymentAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.PaymentAttempt, 0)
	for _, attempt := range r.items {
		if attempt.Outcome != domain.PaymentOutcomePending {
			continue
		}
		if !attempt.CreatedAt.Before(cutoff) {
			continue
		}
		result = append(result, attempt)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

var _ domain.PaymentAttemptRepository = (*paymentRepositoryInMemory)(nil)
