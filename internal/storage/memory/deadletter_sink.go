package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// deadLetterSinkInMemory — in-memory приёмник недоставленных событий.
// Используется в тестах и в конфигурации без Kafka.
type deadLetterSinkInMemory struct {
	mu      sync.RWMutex
	letters []domain.DeadLetter
}

// NewDeadLetterSink создаёт in-memory приёмник dead-letter очереди.
func NewDeadLetterSink() *deadLetterSinkInMemory {
	return &deadLetterSinkInMemory{}
}

// Store сохраняет событие вместе с причиной отказа.
func (s *deadLetterSinkInMemory) Store(_ context.Context, letter domain.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.letters = append(s.letters, letter)
	return nil
}

// Letters возвращает копию накопленных событий (используется в тестах).
func (s *deadLetterSinkInMemory) Letters() []domain.DeadLetter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DeadLetter, len(s.letters))
	copy(result, s.letters)
	return result
}

var _ domain.DeadLetterSink = (*deadLetterSinkInMemory)(nil)
