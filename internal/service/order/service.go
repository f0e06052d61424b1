package order

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

// ItemInput — позиция заказа, как её присылает клиент. Цена позиции
// берётся из каталога, а не из запроса.
type ItemInput struct {
	SKU string
	Qty int32
}

// Service реализует клиентские и административные операции над заказами.
type Service struct {
	orders  domain.OrderRepository
	catalog domain.CatalogService
	outbox  domain.OutboxRepository
	logger  *log.Entry
	metrics *metrics.SagaMetrics
}

// NewService создаёт сервис заказов.
func NewService(orders domain.OrderRepository, catalog domain.CatalogService, outbox domain.OutboxRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}
	return &Service{
		orders:  orders,
		catalog: catalog,
		outbox:  outbox,
		logger:  logger,
		metrics: metrics.NewSagaMetrics(),
	}
}

// NewServiceWithoutMetrics создаёт сервис заказов без метрик (для тестов).
func NewServiceWithoutMetrics(orders domain.OrderRepository, catalog domain.CatalogService, outbox domain.OutboxRepository, logger *log.Entry) *Service {
	s := NewService(orders, catalog, outbox, logger)
	s.metrics = nil
	return s
}

// CreateOrder валидирует запрос, фиксирует заказ со статусом `created`
// и кладёт order.created в outbox — с этого события начинается сага.
func (s *Service) CreateOrder(ctx context.Context, customerID, currency string, inputs []ItemInput) (domain.Order, error) {
	if customerID == "" {
		return domain.Order{}, domain.ErrCustomerRequired
	}
	if currency == "" {
		return domain.Order{}, domain.ErrCurrencyRequired
	}
	if len(inputs) == 0 {
		return domain.Order{}, domain.ErrItemsRequired
	}

	now := time.Now().UTC()
	orderID := uuid.NewString()

	items := make([]domain.OrderItem, 0, len(inputs))
	var amountMinor int64
	for _, input := range inputs {
		if input.SKU == "" {
			return domain.Order{}, domain.ErrSKURequired
		}
		if input.Qty <= 0 {
			return domain.Order{}, domain.ErrItemQtyInvalid
		}

		catalogItem, err := s.catalog.Lookup(ctx, input.SKU)
		if err != nil {
			return domain.Order{}, err
		}

		items = append(items, domain.OrderItem{
			ID:             uuid.NewString(),
			SKU:            input.SKU,
			Qty:            input.Qty,
			UnitPriceMinor: catalogItem.PriceMinor,
			CreatedAt:      now,
		})
		amountMinor += int64(input.Qty) * catalogItem.PriceMinor
	}

	order := domain.Order{
		ID:          orderID,
		CustomerID:  customerID,
		Status:      domain.OrderStatusCreated,
		Currency:    currency,
		AmountMinor: amountMinor,
		Items:       items,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		return domain.Order{}, errs[0]
	}

	if err := s.orders.Create(order); err != nil {
		return domain.Order{}, err
	}

	payload := domain.OrderCreatedPayload{
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		Currency:    order.Currency,
		AmountMinor: order.AmountMinor,
		Items:       itemPayloads(order.Items),
	}
	s.enqueue(domain.EventTypeOrderCreated, order.ID, payload)

	if s.metrics != nil {
		s.metrics.RecordOrderCreated()
	}
	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"amount":      order.AmountMinor,
	}).Info("order created")

	return order, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(_ context.Context, id string) (domain.Order, error) {
	if id == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	return s.orders.Get(id)
}

// ListByCustomer возвращает заказы клиента, свежие первыми.
func (s *Service) ListByCustomer(_ context.Context, customerID string, limit int) ([]domain.Order, error) {
	if customerID == "" {
		return nil, domain.ErrCustomerRequired
	}
	return s.orders.ListByCustomer(customerID, limit)
}

// Ship переводит подтверждённый заказ в shipped.
func (s *Service) Ship(ctx context.Context, id string) (domain.Order, error) {
	return s.adminTransition(ctx, id, domain.OrderStatusShipped)
}

// Deliver переводит отгруженный заказ в delivered.
func (s *Service) Deliver(ctx context.Context, id string) (domain.Order, error) {
	return s.adminTransition(ctx, id, domain.OrderStatusDelivered)
}

// Cancel отменяет заказ, ещё не прошедший оплату. Снятие резервов делает
// склад, реагируя на order.cancelled.
func (s *Service) Cancel(_ context.Context, id, reason string) (domain.Order, error) {
	const maxRetries = 3

	for attempt := 0; attempt < maxRetries; attempt++ {
		order, err := s.orders.Get(id)
		if err != nil {
			return domain.Order{}, err
		}
		if order.Status == domain.OrderStatusCancelled {
			return order, nil
		}
		if !order.Status.IsCancelable() {
			return domain.Order{}, domain.ErrInvalidTransition
		}

		order.Status = domain.OrderStatusCancelled
		order.FailureReason = reason
		order.UpdatedAt = time.Now().UTC()

		if err := s.orders.Save(order); err != nil {
			if domain.IsVersionConflict(err) && attempt < maxRetries-1 {
				continue
			}
			return domain.Order{}, err
		}
		order.Version++

		statusPayload := domain.OrderStatusPayload{
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			Status:     order.Status,
			Reason:     reason,
		}
		s.enqueue(domain.EventTypeOrderCancelled, order.ID, statusPayload)
		s.enqueue(domain.EventTypeOrderUpdated, order.ID, statusPayload)

		if s.metrics != nil {
			s.metrics.RecordStatusTransition(string(order.Status))
		}
		s.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"reason":   reason,
		}).Info("order cancelled")

		return order, nil
	}

	return domain.Order{}, domain.ErrOrderVersionConflict
}

func (s *Service) adminTransition(_ context.Context, id string, target domain.OrderStatus) (domain.Order, error) {
	const maxRetries = 3

	for attempt := 0; attempt < maxRetries; attempt++ {
		order, err := s.orders.Get(id)
		if err != nil {
			return domain.Order{}, err
		}
		if order.Status == target {
			return order, nil
		}
		if err := domain.AdminTransition(order.Status, target); err != nil {
			return domain.Order{}, err
		}

		order.Status = target
		order.UpdatedAt = time.Now().UTC()

		if err := s.orders.Save(order); err != nil {
			if domain.IsVersionConflict(err) && attempt < maxRetries-1 {
				continue
			}
			return domain.Order{}, err
		}
		order.Version++

		s.enqueue(domain.EventTypeOrderUpdated, order.ID, domain.OrderStatusPayload{
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			Status:     order.Status,
		})

		if s.metrics != nil {
			s.metrics.RecordStatusTransition(string(target))
		}

		return order, nil
	}

	return domain.Order{}, domain.ErrOrderVersionConflict
}

func (s *Service) enqueue(eventType domain.EventType, orderID string, payload any) {
	event, err := domain.NewEvent(eventType, orderID, payload)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("marshal event failed")
		return
	}
	envelope, err := json.Marshal(event)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("marshal event envelope failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     string(eventType),
		Payload:       envelope,
	}
	if _, err := s.outbox.Enqueue(msg); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Error("enqueue event failed")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}
}

func itemPayloads(items []domain.OrderItem) []domain.OrderItemPayload {
	result := make([]domain.OrderItemPayload, 0, len(items))
	for _, item := range items {
		result = append(result, domain.OrderItemPayload{
			SKU:            item.SKU,
			Qty:            item.Qty,
			UnitPriceMinor: item.UnitPriceMinor,
		})
	}
	return result
}
