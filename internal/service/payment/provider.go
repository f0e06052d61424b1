package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// MockProvider — конфигурируемый платёжный провайдер для разработки и
// тестов. По умолчанию подтверждает списание.
type MockProvider struct {
	mu sync.Mutex

	ChargeErr error
	Delay     time.Duration

	ChargeCalls int
}

// NewMockProvider возвращает провайдер с успешным сценарием по умолчанию.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Charge возвращает заранее настроенный результат и считает вызовы.
// Delay позволяет моделировать зависший вызов провайдера: списание
// прерывается отменой контекста.
func (m *MockProvider) Charge(ctx context.Context, orderID string, amountMinor int64, currency string) (string, error) {
	m.mu.Lock()
	m.ChargeCalls++
	delay := m.Delay
	chargeErr := m.ChargeErr
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	if chargeErr != nil {
		return "", chargeErr
	}
	return "tx-" + uuid.NewString(), nil
}

// Calls возвращает число обращений к провайдеру.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ChargeCalls
}

var _ domain.PaymentProvider = (*MockProvider)(nil)
