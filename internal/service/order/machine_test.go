package order

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func seedOrderAt(t *testing.T, orders domain.OrderRepository, id string, status domain.OrderStatus) domain.Order {
	t.Helper()

	now := time.Now().UTC()
	order := domain.Order{
		ID:          id,
		CustomerID:  "customer-1",
		Status:      status,
		Currency:    "RUB",
		AmountMinor: 99900,
		Items: []domain.OrderItem{
			{ID: id + "-item-1", SKU: "sku-a", Qty: 1, UnitPriceMinor: 99900, CreatedAt: now},
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := orders.Create(order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func sagaEvent(t *testing.T, eventType domain.EventType, orderID string, payload any) domain.Event {
	t.Helper()

	if payload == nil {
		payload = map[string]string{"order_id": orderID}
	}
	event, err := domain.NewEvent(eventType, orderID, payload)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	return event
}

func outboxTypes(t *testing.T, outbox interface{ AllPending() []domain.OutboxMessage }) []string {
	t.Helper()

	msgs := outbox.AllPending()
	types := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		types = append(types, msg.EventType)
	}
	return types
}

func TestMachineAdvancesHappyPath(t *testing.T) {
	orders := memory.NewOrderRepository()
	outbox := memory.NewOutboxRepository()
	machine := NewMachineWithoutMetrics(orders, outbox, nil)

	order := seedOrderAt(t, orders, "order-m-1", domain.OrderStatusCreated)

	steps := []struct {
		eventType domain.EventType
		want      domain.OrderStatus
	}{
		{domain.EventTypeOrderCreated, domain.OrderStatusStockPending},
		{domain.EventTypeInventoryReserved, domain.OrderStatusStockReserved},
		{domain.EventTypePaymentStarted, domain.OrderStatusPaymentPending},
		{domain.EventTypePaymentSucceeded, domain.OrderStatusConfirmed},
	}
	for _, step := range steps {
		if err := machine.Apply(context.Background(), sagaEvent(t, step.eventType, order.ID, nil)); err != nil {
			t.Fatalf("apply %s: %v", step.eventType, err)
		}
		got, err := orders.Get(order.ID)
		if err != nil {
			t.Fatalf("get order: %v", err)
		}
		if got.Status != step.want {
			t.Fatalf("after %s expected status %q, got %q", step.eventType, step.want, got.Status)
		}
	}

	types := outboxTypes(t, outbox)
	if len(types) != len(steps) {
		t.Fatalf("expected %d order.updated events, got %v", len(steps), types)
	}
	for _, eventType := range types {
		if eventType != string(domain.EventTypeOrderUpdated) {
			t.Fatalf("unexpected event %q", eventType)
		}
	}
}

func TestMachinePaymentFailedPersistsBothHops(t *testing.T) {
	orders := memory.NewOrderRepository()
	outbox := memory.NewOutboxRepository()
	machine := NewMachineWithoutMetrics(orders, outbox, nil)

	order := seedOrderAt(t, orders, "order-m-2", domain.OrderStatusPaymentPending)

	payload := domain.PaymentOutcomePayload{OrderID: order.ID, Reason: "card declined"}
	if err := machine.Apply(context.Background(), sagaEvent(t, domain.EventTypePaymentFailed, order.ID, payload)); err != nil {
		t.Fatalf("apply payment.failed: %v", err)
	}

	got, err := orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != domain.OrderStatusCompensating {
		t.Fatalf("expected compensating, got %q", got.Status)
	}
	if got.FailureReason != "card declined" {
		t.Fatalf("expected failure reason to be recorded, got %q", got.FailureReason)
	}
	// Два перехода — два сохранения: история версий и события статусов
	// показывают промежуточный payment_failed, а не перепрыгивают его.
	if got.Version != order.Version+2 {
		t.Fatalf("expected two saves, version went %d -> %d", order.Version, got.Version)
	}

	statuses := statusUpdates(t, outbox)
	want := []domain.OrderStatus{domain.OrderStatusPaymentFailed, domain.OrderStatusCompensating}
	if len(statuses) != len(want) || statuses[0] != want[0] || statuses[1] != want[1] {
		t.Fatalf("expected status updates %v, got %v", want, statuses)
	}
}

// statusUpdates декодирует статусы из order.updated, лежащих в outbox.
func statusUpdates(t *testing.T, outbox interface{ AllPending() []domain.OutboxMessage }) []domain.OrderStatus {
	t.Helper()

	var statuses []domain.OrderStatus
	for _, msg := range outbox.AllPending() {
		if msg.EventType != string(domain.EventTypeOrderUpdated) {
			continue
		}
		var event domain.Event
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		var payload domain.OrderStatusPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			t.Fatalf("unmarshal status payload: %v", err)
		}
		statuses = append(statuses, payload.Status)
	}
	return statuses
}

func TestMachinePaymentFailedResumesFromIntermediate(t *testing.T) {
	orders := memory.NewOrderRepository()
	outbox := memory.NewOutboxRepository()
	machine := NewMachineWithoutMetrics(orders, outbox, nil)

	// Сбой между сохранениями оставил заказ в payment_failed; повторная
	// доставка того же события доводит его до compensating.
	order := seedOrderAt(t, orders, "order-m-2b", domain.OrderStatusPaymentFailed)

	payload := domain.PaymentOutcomePayload{OrderID: order.ID, Reason: "card declined"}
	if err := machine.Apply(context.Background(), sagaEvent(t, domain.EventTypePaymentFailed, order.ID, payload)); err != nil {
		t.Fatalf("apply payment.failed: %v", err)
	}

	got, err := orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != domain.OrderStatusCompensating {
		t.Fatalf("expected compensating, got %q", got.Status)
	}
}

func TestMachineReleaseCancelsOrder(t *testing.T) {
	orders := memory.NewOrderRepository()
	outbox := memory.NewOutboxRepository()
	machine := NewMachineWithoutMetrics(orders, outbox, nil)

	order := seedOrderAt(t, orders, "order-m-3", domain.OrderStatusCompensating)

	if err := machine.Apply(context.Background(), sagaEvent(t, domain.EventTypeInventoryReleased, order.ID, nil)); err != nil {
		t.Fatalf("apply inventory.released: %v", err)
	}

	got, err := orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %q", got.Status)
	}

	types := outboxTypes(t, outbox)
	if len(types) != 2 || types[0] != string(domain.EventTypeOrderUpdated) || types[1] != string(domain.EventTypeOrderCancelled) {
		t.Fatalf("expected order.updated followed by order.cancelled, got %v", types)
	}
}

func TestMachineRejectsOutOfOrderEvent(t *testing.T) {
	orders := memory.NewOrderRepository()
	outbox := memory.NewOutboxRepository()
	machine := NewMachineWithoutMetrics(orders, outbox, nil)

	order := seedOrderAt(t, orders, "order-m-4", domain.OrderStatusConfirmed)

	err := machine.Apply(context.Background(), sagaEvent(t, domain.EventTypeInventoryReserved, order.ID, nil))
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	got, err := orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != domain.OrderStatusConfirmed {
		t.Fatalf("status must not change, got %q", got.Status)
	}
	if types := outboxTypes(t, outbox); len(types) != 0 {
		t.Fatalf("expected no events, got %v", types)
	}
}

func TestMachineRejectionStoresReason(t *testing.T) {
	orders := memory.NewOrderRepository()
	outbox := memory.NewOutboxRepository()
	machine := NewMachineWithoutMetrics(orders, outbox, nil)

	order := seedOrderAt(t, orders, "order-m-5", domain.OrderStatusStockPending)

	payload := domain.ReservationOutcomePayload{OrderID: order.ID, Reason: "insufficient stock", FailedSKU: "sku-a"}
	if err := machine.Apply(context.Background(), sagaEvent(t, domain.EventTypeInventoryRejected, order.ID, payload)); err != nil {
		t.Fatalf("apply inventory.rejected: %v", err)
	}

	got, err := orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != domain.OrderStatusStockRejected {
		t.Fatalf("expected stock_rejected, got %q", got.Status)
	}
	if got.FailureReason != "insufficient stock" {
		t.Fatalf("unexpected failure reason %q", got.FailureReason)
	}
}

func TestMachineUnknownOrderIsPermanent(t *testing.T) {
	orders := memory.NewOrderRepository()
	outbox := memory.NewOutboxRepository()
	machine := NewMachineWithoutMetrics(orders, outbox, nil)

	err := machine.Apply(context.Background(), sagaEvent(t, domain.EventTypeOrderCreated, "order-ghost", nil))
	if err == nil {
		t.Fatal("expected error for unknown order")
	}
	if !domain.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestMachineStatusPayloadCarriesCustomer(t *testing.T) {
	orders := memory.NewOrderRepository()
	outbox := memory.NewOutboxRepository()
	machine := NewMachineWithoutMetrics(orders, outbox, nil)

	order := seedOrderAt(t, orders, "order-m-6", domain.OrderStatusCreated)

	if err := machine.Apply(context.Background(), sagaEvent(t, domain.EventTypeOrderCreated, order.ID, nil)); err != nil {
		t.Fatalf("apply order.created: %v", err)
	}

	msgs := outbox.AllPending()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	var event domain.Event
	if err := json.Unmarshal(msgs[0].Payload, &event); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	var payload domain.OrderStatusPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.CustomerID != order.CustomerID || payload.Status != domain.OrderStatusStockPending {
		t.Fatalf("unexpected payload %+v", payload)
	}
}
