package domain

import "time"

// ProcessedStatus описывает жизненный цикл записи обработки события.
type ProcessedStatus string

const (
	// ProcessedStatusProcessing — пара (event_id, consumer) захвачена,
	// обработчик ещё выполняется.
	ProcessedStatusProcessing ProcessedStatus = "processing"
	// ProcessedStatusDone — обработка завершена, повторные доставки отбрасываются.
	ProcessedStatusDone ProcessedStatus = "done"
)

// ProcessedEventRecord фиксирует факт обработки события конкретным
// потребителем. Уникальность пары (EventID, Consumer) и даёт идемпотентную
// обработку при at-least-once доставке.
type ProcessedEventRecord struct {
	EventID   string
	Consumer  string
	Status    ProcessedStatus
	TTLAt     time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s ProcessedStatus) Valid() bool {
	switch s {
	case ProcessedStatusProcessing, ProcessedStatusDone:
		return true
	default:
		return false
	}
}

// Notification — запись уведомления клиента о событии заказа.
// Хранится как документ: перекрёстных инвариантов с другими сущностями нет.
type Notification struct {
	ID         string
	OrderID    string
	CustomerID string
	Kind       EventType
	Message    string
	SentAt     time.Time
}
