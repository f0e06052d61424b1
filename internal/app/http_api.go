package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/notification"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/order"
)

const defaultListLimit = 50

// API реализует HTTP-интерфейс для заказов и уведомлений.
type API struct {
	orders   *order.Service
	notifier *notification.Dispatcher
	logger   *log.Entry
}

// NewAPI создаёт HTTP API поверх сервиса заказов.
func NewAPI(orders *order.Service, notifier *notification.Dispatcher, logger *log.Entry) *API {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &API{orders: orders, notifier: notifier, logger: logger}
}

// Routes собирает маршруты API.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/orders", a.createOrder)
	mux.HandleFunc("GET /api/v1/orders", a.listOrders)
	mux.HandleFunc("GET /api/v1/orders/{id}", a.getOrder)
	mux.HandleFunc("POST /api/v1/orders/{id}/cancel", a.cancelOrder)
	mux.HandleFunc("POST /api/v1/orders/{id}/ship", a.shipOrder)
	mux.HandleFunc("POST /api/v1/orders/{id}/deliver", a.deliverOrder)
	mux.HandleFunc("GET /api/v1/orders/{id}/notifications", a.listNotifications)
	return mux
}

type createOrderRequest struct {
	CustomerID string             `json:"customer_id"`
	Currency   string             `json:"currency"`
	Items      []orderItemRequest `json:"items"`
}

type orderItemRequest struct {
	SKU string `json:"sku"`
	Qty int32  `json:"qty"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type orderResponse struct {
	ID            string              `json:"id"`
	CustomerID    string              `json:"customer_id"`
	Status        string              `json:"status"`
	FailureReason string              `json:"failure_reason,omitempty"`
	Currency      string              `json:"currency"`
	AmountMinor   int64               `json:"amount_minor"`
	Items         []orderItemResponse `json:"items"`
	Version       int64               `json:"version"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

type orderItemResponse struct {
	SKU            string `json:"sku"`
	Qty            int32  `json:"qty"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

type notificationResponse struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	SentAt     time.Time `json:"sent_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	inputs := make([]order.ItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		inputs = append(inputs, order.ItemInput{SKU: item.SKU, Qty: item.Qty})
	}

	created, err := a.orders.CreateOrder(r.Context(), req.CustomerID, req.Currency, inputs)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(created))
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	found, err := a.orders.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(found))
}

func (a *API) listOrders(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		writeError(w, http.StatusBadRequest, "customer_id query parameter is required")
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	orders, err := a.orders.ListByCustomer(r.Context(), customerID, limit)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	responses := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		responses = append(responses, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, responses)
}

func (a *API) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if r.Body != nil {
		// Тело опционально, причина по умолчанию пустая.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	cancelled, err := a.orders.Cancel(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(cancelled))
}

func (a *API) shipOrder(w http.ResponseWriter, r *http.Request) {
	shipped, err := a.orders.Ship(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(shipped))
}

func (a *API) deliverOrder(w http.ResponseWriter, r *http.Request) {
	delivered, err := a.orders.Deliver(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(delivered))
}

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := a.notifier.ListByOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	responses := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		responses = append(responses, notificationResponse{
			ID:         n.ID,
			OrderID:    n.OrderID,
			CustomerID: n.CustomerID,
			Kind:       string(n.Kind),
			Message:    n.Message,
			SentAt:     n.SentAt,
		})
	}
	writeJSON(w, http.StatusOK, responses)
}

// writeDomainError транслирует доменные ошибки в HTTP-статусы.
func (a *API) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case domain.IsInvalidTransition(err), domain.IsVersionConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	case isValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.WithError(err).Error("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func isValidationError(err error) bool {
	for _, validation := range []error{
		domain.ErrCustomerRequired,
		domain.ErrCurrencyRequired,
		domain.ErrItemsRequired,
		domain.ErrOrderIDRequired,
		domain.ErrSKURequired,
		domain.ErrItemQtyInvalid,
		domain.ErrItemPriceInvalid,
		domain.ErrUnknownSKU,
	} {
		if errors.Is(err, validation) {
			return true
		}
	}
	return false
}

func toOrderResponse(o domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemResponse{
			SKU:            item.SKU,
			Qty:            item.Qty,
			UnitPriceMinor: item.UnitPriceMinor,
		})
	}
	return orderResponse{
		ID:            o.ID,
		CustomerID:    o.CustomerID,
		Status:        string(o.Status),
		FailureReason: o.FailureReason,
		Currency:      o.Currency,
		AmountMinor:   o.AmountMinor,
		Items:         items,
		Version:       o.Version,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
