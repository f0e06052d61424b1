package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
)

func routerLetterBytes(t *testing.T, eventType, key string) []byte {
	t.Helper()

	letter := routerDLQPayload{
		Event: domain.Event{
			ID:      "evt-1",
			Type:    domain.EventType(eventType),
			Key:     key,
			Payload: json.RawMessage(`{"order_id":"` + key + `"}`),
		},
		Consumer: "order",
		Reason:   "invalid transition",
	}
	encoded, err := json.Marshal(letter)
	if err != nil {
		t.Fatalf("marshal letter: %v", err)
	}
	return encoded
}

func TestExtractReplayMessageConsumerFormat(t *testing.T) {
	value, _ := json.Marshal(map[string]any{
		"original_topic": kafka.TopicSagaEvents,
		"original_key":   "order-1",
		"original_value": `{"id":"evt-9","type":"payment.failed","key":"order-1"}`,
		"error_message":  "handler failed",
	})

	msg, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: value})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !ok {
		t.Fatal("expected message to be replayable")
	}
	if msg.topic != kafka.TopicSagaEvents {
		t.Errorf("expected topic %s, got %s", kafka.TopicSagaEvents, msg.topic)
	}
	if msg.key != "order-1" {
		t.Errorf("expected key order-1, got %s", msg.key)
	}
	if string(msg.value) != `{"id":"evt-9","type":"payment.failed","key":"order-1"}` {
		t.Errorf("unexpected value: %s", msg.value)
	}
}

func TestExtractReplayMessageRouterFormat(t *testing.T) {
	msg, ok, err := extractReplayMessage(&sarama.ConsumerMessage{
		Value: routerLetterBytes(t, "inventory.reserved", "order-7"),
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !ok {
		t.Fatal("expected message to be replayable")
	}
	if msg.topic != kafka.TopicSagaEvents {
		t.Errorf("expected topic %s, got %s", kafka.TopicSagaEvents, msg.topic)
	}
	if msg.key != "order-7" {
		t.Errorf("expected key order-7, got %s", msg.key)
	}

	var event domain.Event
	if err := json.Unmarshal(msg.value, &event); err != nil {
		t.Fatalf("decode replayed event: %v", err)
	}
	if event.ID != "evt-1" || event.Type != "inventory.reserved" {
		t.Errorf("unexpected event: %+v", event)
	}
}

func TestExtractReplayMessageOutboxFormat(t *testing.T) {
	envelope := `{"id":"evt-4","type":"order.created","key":"order-4"}`
	value, _ := json.Marshal(map[string]any{
		"outbox_id":     "outbox-4",
		"aggregate_id":  "order-4",
		"event_type":    "order.created",
		"payload":       json.RawMessage(envelope),
		"publish_error": "broker unreachable",
	})

	msg, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: value})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !ok {
		t.Fatal("expected message to be replayable")
	}
	if msg.topic != kafka.TopicSagaEvents {
		t.Errorf("expected topic %s, got %s", kafka.TopicSagaEvents, msg.topic)
	}
	if msg.key != "order-4" {
		t.Errorf("expected key order-4, got %s", msg.key)
	}
	if string(msg.value) != envelope {
		t.Errorf("unexpected value: %s", msg.value)
	}
}

func TestExtractReplayMessageUnknownFormat(t *testing.T) {
	_, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(`{"foo":"bar"}`)})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ok {
		t.Fatal("expected unknown payload to be skipped")
	}

	_, ok, err = extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(`not json`)})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ok {
		t.Fatal("expected malformed payload to be skipped")
	}
}

type stubOffsetClient struct {
	partitions []int32
	oldest     int64
	newest     int64
}

func (s *stubOffsetClient) GetOffset(_ string, _ int32, at int64) (int64, error) {
	if at == sarama.OffsetOldest {
		return s.oldest, nil
	}
	return s.newest, nil
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) { return s.partitions, nil }
func (s *stubOffsetClient) Close() error                       { return nil }

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error                             { return nil }

type stubConsumerSource struct {
	pc *stubPartitionConsumer
}

func (s *stubConsumerSource) ConsumePartition(string, int32, int64) (partitionConsumer, error) {
	return s.pc, nil
}

func (s *stubConsumerSource) Close() error { return nil }

type stubReplayProducer struct {
	sent []*sarama.ProducerMessage
}

func (s *stubReplayProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	s.sent = append(s.sent, msg)
	return 0, int64(len(s.sent)), nil
}

func (s *stubReplayProducer) Close() error { return nil }

func newReplayFixture(t *testing.T, values ...[]byte) (*stubOffsetClient, *stubConsumerSource) {
	t.Helper()

	pc := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage, len(values)),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	for i, value := range values {
		pc.messages <- &sarama.ConsumerMessage{
			Topic:  kafka.TopicDeadLetterQueue,
			Offset: int64(i),
			Value:  value,
		}
	}

	client := &stubOffsetClient{
		partitions: []int32{0},
		oldest:     0,
		newest:     int64(len(values)),
	}
	return client, &stubConsumerSource{pc: pc}
}

func TestRunReplayDryRunScansAllMessages(t *testing.T) {
	client, consumer := newReplayFixture(t,
		routerLetterBytes(t, "order.created", "order-1"),
		[]byte(`{"unrelated":"payload"}`),
	)

	cfg := config{
		sourceTopic: kafka.TopicDeadLetterQueue,
		limit:       10,
		execute:     false,
		idleTimeout: 100 * time.Millisecond,
	}

	if err := runReplay(context.Background(), cfg, client, consumer, nil); err != nil {
		t.Fatalf("runReplay: %v", err)
	}
}

func TestRunReplayExecutePublishes(t *testing.T) {
	client, consumer := newReplayFixture(t,
		routerLetterBytes(t, "payment.succeeded", "order-2"),
	)
	producer := &stubReplayProducer{}

	cfg := config{
		sourceTopic: kafka.TopicDeadLetterQueue,
		limit:       10,
		execute:     true,
		idleTimeout: 100 * time.Millisecond,
	}

	if err := runReplay(context.Background(), cfg, client, consumer, producer); err != nil {
		t.Fatalf("runReplay: %v", err)
	}

	if len(producer.sent) != 1 {
		t.Fatalf("expected 1 replayed message, got %d", len(producer.sent))
	}
	if producer.sent[0].Topic != kafka.TopicSagaEvents {
		t.Errorf("expected topic %s, got %s", kafka.TopicSagaEvents, producer.sent[0].Topic)
	}
}

func TestRunReplayExecuteRequiresProducer(t *testing.T) {
	client, consumer := newReplayFixture(t)

	cfg := config{
		sourceTopic: kafka.TopicDeadLetterQueue,
		limit:       10,
		execute:     true,
		idleTimeout: 100 * time.Millisecond,
	}

	if err := runReplay(context.Background(), cfg, client, consumer, nil); err == nil {
		t.Fatal("expected error without producer in execute mode")
	}
}

func TestParseBrokers(t *testing.T) {
	brokers := parseBrokers("a:9092, ,b:9092,")
	if len(brokers) != 2 || brokers[0] != "a:9092" || brokers[1] != "b:9092" {
		t.Errorf("unexpected brokers: %v", brokers)
	}
}
