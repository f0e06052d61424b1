package kafka

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// DeadLetterSink публикует отбракованные маршрутизатором события в DLQ-топик.
// Ключ — заказ, поэтому письма одного заказа ложатся в одну партицию рядом
// с его обычными событиями.
type DeadLetterSink struct {
	producer *Producer
}

// NewDeadLetterSink создаёт Kafka-сток для dead-letter событий.
func NewDeadLetterSink(producer *Producer) *DeadLetterSink {
	return &DeadLetterSink{producer: producer}
}

// Store публикует письмо в DLQ-топик.
func (s *DeadLetterSink) Store(_ context.Context, letter domain.DeadLetter) error {
	if s == nil || s.producer == nil {
		return fmt.Errorf("kafka dead letter sink is not initialized")
	}

	key := letter.Event.Key
	if key == "" {
		key = letter.Event.ID
	}
	return s.producer.PublishEvent(TopicDeadLetterQueue, key, letter)
}

var _ domain.DeadLetterSink = (*DeadLetterSink)(nil)
