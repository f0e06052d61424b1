package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSagaMetrics_Counters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSagaMetricsWithRegisterer(registry)

	m.RecordOrderCreated()
	m.RecordOrderCreated()
	m.RecordStatusTransition("confirmed")
	m.RecordInvalidTransition()
	m.RecordEventProcessed("payment", "ok")
	m.RecordEventProcessed("payment", "duplicate")
	m.RecordReservation("held")
	m.RecordPayment("succeeded")
	m.RecordNotification()
	m.RecordOutboxEvent()
	m.ObserveHandlerDuration("inventory", 10*time.Millisecond)

	if got := testutil.ToFloat64(m.ordersCreated); got != 2 {
		t.Fatalf("orders created: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.statusTransitions.WithLabelValues("confirmed")); got != 1 {
		t.Fatalf("status transitions: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.eventsProcessed.WithLabelValues("payment", "duplicate")); got != 1 {
		t.Fatalf("duplicate events: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.payments.WithLabelValues("succeeded")); got != 1 {
		t.Fatalf("payments: got %v, want 1", got)
	}
}

func TestSagaMetrics_DoubleRegistrationReusesCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()

	first := newSagaMetricsWithRegisterer(registry)
	second := newSagaMetricsWithRegisterer(registry)

	first.RecordOrderCreated()
	second.RecordOrderCreated()

	if got := testutil.ToFloat64(first.ordersCreated); got != 2 {
		t.Fatalf("expected shared collector with value 2, got %v", got)
	}
}
