package saga

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/notification"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/order"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/payment"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/router"
)

// Имена потребителей саги. Под каждое имя заводится отдельный ledger-scope
// и отдельная consumer group в брокере.
const (
	ConsumerOrder        = "order"
	ConsumerInventory    = "inventory"
	ConsumerPayment      = "payment"
	ConsumerNotification = "notification"
)

// Handlers собирает обработчики событий всех участников саги.
type Handlers struct {
	Machine   *order.Machine
	Inventory *inventory.Service
	Payment   *payment.Orchestrator
	Notifier  *notification.Dispatcher
}

// Coordinator связывает события саги с обработчиками участников.
// Хореография: координатор не держит состояния и не командует сервисами,
// он только маршрутизирует каждое событие всем подписанным потребителям
// через их идемпотентные маршрутизаторы.
type Coordinator struct {
	routers []*router.Router
	logger  *log.Entry
}

// NewCoordinator собирает маршрутизаторы потребителей и таблицу подписок.
func NewCoordinator(ledger domain.IdempotencyLedger, dlq domain.DeadLetterSink, handlers Handlers, retry router.RetryConfig, logger *log.Entry) *Coordinator {
	if logger == nil {
		logger = log.New().WithField("component", "saga-coordinator")
	}

	c := &Coordinator{logger: logger}

	if handlers.Machine != nil {
		r := router.NewRouter(ConsumerOrder, ledger, dlq, retry, logger.WithField("consumer", ConsumerOrder))
		r.Register(domain.EventTypeOrderCreated, handlers.Machine.Apply)
		r.Register(domain.EventTypeInventoryReserved, handlers.Machine.Apply)
		r.Register(domain.EventTypeInventoryRejected, handlers.Machine.Apply)
		r.Register(domain.EventTypeInventoryReleased, handlers.Machine.Apply)
		r.Register(domain.EventTypePaymentStarted, handlers.Machine.Apply)
		r.Register(domain.EventTypePaymentSucceeded, handlers.Machine.Apply)
		r.Register(domain.EventTypePaymentFailed, handlers.Machine.Apply)
		c.routers = append(c.routers, r)
	}

	if handlers.Inventory != nil {
		r := router.NewRouter(ConsumerInventory, ledger, dlq, retry, logger.WithField("consumer", ConsumerInventory))
		r.Register(domain.EventTypeOrderCreated, handlers.Inventory.HandleOrderCreated)
		r.Register(domain.EventTypePaymentSucceeded, handlers.Inventory.HandlePaymentSucceeded)
		r.Register(domain.EventTypePaymentFailed, handlers.Inventory.HandlePaymentFailed)
		r.Register(domain.EventTypeOrderCancelled, handlers.Inventory.HandleOrderCancelled)
		c.routers = append(c.routers, r)
	}

	if handlers.Payment != nil {
		r := router.NewRouter(ConsumerPayment, ledger, dlq, retry, logger.WithField("consumer", ConsumerPayment))
		r.Register(domain.EventTypeInventoryReserved, handlers.Payment.HandleInventoryReserved)
		c.routers = append(c.routers, r)
	}

	if handlers.Notifier != nil {
		r := router.NewRouter(ConsumerNotification, ledger, dlq, retry, logger.WithField("consumer", ConsumerNotification))
		r.Register(domain.EventTypeOrderUpdated, handlers.Notifier.HandleStatusEvent)
		r.Register(domain.EventTypeOrderCancelled, handlers.Notifier.HandleStatusEvent)
		c.routers = append(c.routers, r)
	}

	return c
}

// Routers возвращает маршрутизаторы всех потребителей: транспортный слой
// заводит по consumer group на каждый.
func (c *Coordinator) Routers() []*router.Router {
	return c.routers
}

// RouterFor возвращает маршрутизатор потребителя по имени.
func (c *Coordinator) RouterFor(consumer string) *router.Router {
	for _, r := range c.routers {
		if r.Consumer() == consumer {
			return r
		}
	}
	return nil
}

// Dispatch доставляет событие всем подписанным потребителям. Ошибка одного
// потребителя не мешает остальным: всё собирается в одну ошибку, и
// транспорт повторит доставку — ledger отсеет уже обработавших.
func (c *Coordinator) Dispatch(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, r := range c.routers {
		if !r.Handles(event.Type) {
			continue
		}
		if err := r.Dispatch(ctx, event); err != nil {
			c.logger.WithError(err).WithFields(log.Fields{
				"consumer": r.Consumer(),
				"event":    event.Type,
				"event_id": event.ID,
			}).Warn("event dispatch failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
