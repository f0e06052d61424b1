package memory

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// notificationRepositoryInMemory — in-memory журнал отправленных уведомлений.
type notificationRepositoryInMemory struct {
	mu      sync.RWMutex
	byOrder map[string][]domain.Notification
}

// NewNotificationRepository создаёт in-memory журнал уведомлений.
func NewNotificationRepository() *notificationRepositoryInMemory {
	return &notificationRepositoryInMemory{byOrder: make(map[string][]domain.Notification)}
}

// Append сохраняет запись об отправленном уведомлении.
func (r *notificationRepositoryInMemory) Append(notification domain.Notification) error {
	if notification.OrderID == "" {
		return domain.ErrOrderIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	r.byOrder[notification.OrderID] = append(r.byOrder[notification.OrderID], notification)
	return nil
}

// ListByOrder возвращает уведомления заказа в порядке отправки.
func (r *notificationRepositoryInMemory) ListByOrder(orderID string) ([]domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.byOrder[orderID]
	result := make([]domain.Notification, len(stored))
	copy(result, stored)

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].SentAt.Before(result[j].SentAt)
	})

	return result, nil
}

var _ domain.NotificationRepository = (*notificationRepositoryInMemory)(nil)
