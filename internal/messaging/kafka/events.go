package kafka

// Topics фулфилмент-саги. Все события саги идут в один топик с ключом
// order_id: события одного заказа попадают в одну партицию, и каждый
// потребитель видит их строго в порядке публикации. Разнесение по топикам
// на семейства событий ломало бы причинный порядок между шагами саги:
// разные топики не дают взаимных гарантий очерёдности.
const (
	TopicSagaEvents      = "fulfillment.saga.events"
	TopicDeadLetterQueue = "fulfillment.dlq"
)

// Kafka headers для retry логики.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// SagaTopics возвращает топики, на которые подписываются потребители саги.
func SagaTopics() []string {
	return []string{TopicSagaEvents}
}
