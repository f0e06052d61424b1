package kafka

import (
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в Kafka. Payload сообщения
// уже содержит полный конверт события, поэтому он уходит в топик как есть;
// все события саги публикуются в общий топик с ключом-идентификатором
// заказа, чтобы сохранить причинный порядок между шагами.
type OutboxTopicPublisher struct {
	producer *Producer
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer) domain.OutboxPublisher {
	return &OutboxTopicPublisher{producer: producer}
}

func (p *OutboxTopicPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}

	return p.producer.PublishRaw(TopicSagaEvents, key, msg.Payload, nil)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)

// DeadLetterTopicPublisher публикует сообщения, исчерпавшие попытки
// доставки, в DLQ-топик.
type DeadLetterTopicPublisher struct {
	producer *Producer
}

// NewDeadLetterPublisher создаёт паблишер для DLQ-топика.
func NewDeadLetterPublisher(producer *Producer) domain.OutboxPublisher {
	return &DeadLetterTopicPublisher{producer: producer}
}

func (p *DeadLetterTopicPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka dlq publisher is not initialized")
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}

	return p.producer.PublishRaw(TopicDeadLetterQueue, key, msg.Payload, nil)
}

var _ domain.OutboxPublisher = (*DeadLetterTopicPublisher)(nil)
