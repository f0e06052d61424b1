package app

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/saga"
)

// sagaConsumers перечисляет группы потребителей саги: каждая получает
// собственный consumer group и свой маршрутизатор.
var sagaConsumers = []string{
	saga.ConsumerOrder,
	saga.ConsumerInventory,
	saga.ConsumerPayment,
	saga.ConsumerNotification,
}

// initKafkaProducer создаёт Kafka producer для списка брокеров.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// initSagaConsumers создаёт consumer group на каждого участника саги.
// Все группы читают общий топик саги: события одного заказа приходят
// каждому участнику в порядке публикации. Маршрутизатор сам пропускает
// типы, на которые участник не подписан, идемпотентный леджер прикрывает
// повторные доставки.
func initSagaConsumers(cfg Config, coordinator *saga.Coordinator, dlqProducer *kafka.Producer) ([]*kafka.Consumer, error) {
	topics := kafka.SagaTopics()

	consumers := make([]*kafka.Consumer, 0, len(sagaConsumers))
	for _, name := range sagaConsumers {
		router := coordinator.RouterFor(name)
		if router == nil {
			continue
		}

		groupID := cfg.KafkaGroupPrefix + "-" + name
		consumer, err := kafka.NewConsumerWithDLQ(
			cfg.KafkaBrokers,
			groupID,
			topics,
			kafka.NewDispatchHandler(router),
			dlqProducer,
			cfg.ConsumerMaxRetries,
		)
		if err != nil {
			for _, started := range consumers {
				_ = started.Stop()
			}
			return nil, fmt.Errorf("create consumer group %s: %w", groupID, err)
		}

		consumers = append(consumers, consumer)
	}

	return consumers, nil
}
