package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics содержит метрики хореографической саги фулфилмента.
type SagaMetrics struct {
	// Счётчики заказов и переходов машины статусов
	ordersCreated      prometheus.Counter
	statusTransitions  *prometheus.CounterVec
	invalidTransitions prometheus.Counter

	// Обработка событий маршрутизатором
	eventsProcessed *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec

	// Доменные счётчики склада и платежей
	reservations *prometheus.CounterVec
	payments     *prometheus.CounterVec

	// Уведомления и outbox
	notifications prometheus.Counter
	outboxEvents  prometheus.Counter
}

// NewSagaMetrics создаёт новый экземпляр метрик саги.
func NewSagaMetrics() *SagaMetrics {
	return newSagaMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newSagaMetricsWithRegisterer(registerer prometheus.Registerer) *SagaMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SagaMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_orders_created_total",
			Help: "Total number of orders accepted into the saga",
		}),
		statusTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_order_transitions_total",
			Help: "Total number of order status transitions grouped by target status",
		}, []string{"to"}),
		invalidTransitions: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_invalid_transitions_total",
			Help: "Total number of events rejected by the order state machine",
		}),
		eventsProcessed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_events_processed_total",
			Help: "Total number of routed events grouped by consumer and result",
		}, []string{"consumer", "result"}),
		handlerDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "fulfillment_handler_duration_seconds",
			Help:    "Duration of event handler executions in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"consumer"}),
		reservations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_reservations_total",
			Help: "Total number of stock reservation operations grouped by result",
		}, []string{"result"}),
		payments: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_payments_total",
			Help: "Total number of payment attempts grouped by outcome",
		}, []string{"outcome"}),
		notifications: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_notifications_total",
			Help: "Total number of customer notifications recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_outbox_events_total",
			Help: "Total number of events enqueued into the transactional outbox",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик принятых заказов.
func (m *SagaMetrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
}

// RecordStatusTransition фиксирует переход заказа в новый статус.
func (m *SagaMetrics) RecordStatusTransition(to string) {
	m.statusTransitions.WithLabelValues(to).Inc()
}

// RecordInvalidTransition фиксирует отказ машины статусов.
func (m *SagaMetrics) RecordInvalidTransition() {
	m.invalidTransitions.Inc()
}

// RecordEventProcessed фиксирует итог маршрутизации события.
// result: ok | duplicate | retried | dead_letter.
func (m *SagaMetrics) RecordEventProcessed(consumer, result string) {
	m.eventsProcessed.WithLabelValues(consumer, result).Inc()
}

// ObserveHandlerDuration записывает время выполнения обработчика.
func (m *SagaMetrics) ObserveHandlerDuration(consumer string, duration time.Duration) {
	m.handlerDuration.WithLabelValues(consumer).Observe(duration.Seconds())
}

// RecordReservation фиксирует операцию склада.
// result: held | rejected | released | consumed.
func (m *SagaMetrics) RecordReservation(result string) {
	m.reservations.WithLabelValues(result).Inc()
}

// RecordPayment фиксирует исход платёжной попытки.
func (m *SagaMetrics) RecordPayment(outcome string) {
	m.payments.WithLabelValues(outcome).Inc()
}

// RecordNotification увеличивает счётчик уведомлений.
func (m *SagaMetrics) RecordNotification() {
	m.notifications.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий, положенных в outbox.
func (m *SagaMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
