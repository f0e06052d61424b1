package loopback

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Dispatcher доставляет событие потребителям саги.
type Dispatcher interface {
	Dispatch(ctx context.Context, event domain.Event) error
}

// Publisher замыкает outbox на координатор внутри одного процесса: вместо
// брокера событие сразу уходит потребителям. Используется в дев-режиме без
// Kafka и в интеграционных тестах саги.
type Publisher struct {
	dispatcher Dispatcher
	logger     *log.Entry
}

// NewPublisher создаёт in-process publisher поверх координатора.
func NewPublisher(dispatcher Dispatcher, logger *log.Entry) *Publisher {
	if logger == nil {
		logger = log.New().WithField("component", "loopback-publisher")
	}
	return &Publisher{dispatcher: dispatcher, logger: logger}
}

// Publish разбирает конверт события и доставляет его потребителям.
// Ошибка доставки возвращается наружу: outbox worker оставит сообщение
// pending и повторит публикацию.
func (p *Publisher) Publish(msg domain.OutboxMessage) error {
	var event domain.Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("decode event envelope: %w", err)
	}
	return p.dispatcher.Dispatch(context.Background(), event)
}

var _ domain.OutboxPublisher = (*Publisher)(nil)
