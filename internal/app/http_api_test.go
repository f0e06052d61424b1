package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/notification"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/order"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

type apiFixture struct {
	api           *API
	handler       http.Handler
	orders        domain.OrderRepository
	notifications domain.NotificationRepository
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	orders := memory.NewOrderRepository()
	outbox := memory.NewOutboxRepository()
	notifications := memory.NewNotificationRepository()

	catalog := inventory.NewStaticCatalog(map[string]int64{
		"sku-a": 149900,
		"sku-b": 25000,
	})
	orderSvc := order.NewServiceWithoutMetrics(orders, catalog, outbox, nil)
	notifier := notification.NewDispatcherWithoutMetrics(notifications, nil)

	api := NewAPI(orderSvc, notifier, nil)
	return &apiFixture{
		api:           api,
		handler:       api.Routes(),
		orders:        orders,
		notifications: notifications,
	}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeOrder(t *testing.T, rec *httptest.ResponseRecorder) orderResponse {
	t.Helper()

	var resp orderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode order response: %v", err)
	}
	return resp
}

func TestCreateOrderEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/orders", `{
		"customer_id": "customer-1",
		"currency": "RUB",
		"items": [{"sku": "sku-a", "qty": 2}, {"sku": "sku-b", "qty": 1}]
	}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeOrder(t, rec)
	if resp.ID == "" {
		t.Error("expected order id in response")
	}
	if resp.Status != string(domain.OrderStatusCreated) {
		t.Errorf("expected status created, got %s", resp.Status)
	}
	if want := int64(2*149900 + 25000); resp.AmountMinor != want {
		t.Errorf("expected amount %d, got %d", want, resp.AmountMinor)
	}
	if len(resp.Items) != 2 {
		t.Errorf("expected 2 items, got %d", len(resp.Items))
	}
}

func TestCreateOrderEndpointValidation(t *testing.T) {
	f := newAPIFixture(t)

	testCases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"customer_id":`},
		{"missing customer", `{"currency": "RUB", "items": [{"sku": "sku-a", "qty": 1}]}`},
		{"missing items", `{"customer_id": "customer-1", "currency": "RUB", "items": []}`},
		{"unknown sku", `{"customer_id": "customer-1", "currency": "RUB", "items": [{"sku": "sku-x", "qty": 1}]}`},
		{"zero qty", `{"customer_id": "customer-1", "currency": "RUB", "items": [{"sku": "sku-a", "qty": 0}]}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/orders", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestGetOrderEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	created := decodeOrder(t, f.do(t, http.MethodPost, "/api/v1/orders",
		`{"customer_id": "customer-1", "currency": "RUB", "items": [{"sku": "sku-a", "qty": 1}]}`))

	rec := f.do(t, http.MethodGet, "/api/v1/orders/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decodeOrder(t, rec); got.ID != created.ID {
		t.Errorf("expected order %s, got %s", created.ID, got.ID)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/orders/no-such-order", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown order, got %d", rec.Code)
	}
}

func TestListOrdersEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	for range 3 {
		f.do(t, http.MethodPost, "/api/v1/orders",
			`{"customer_id": "customer-1", "currency": "RUB", "items": [{"sku": "sku-a", "qty": 1}]}`)
	}
	f.do(t, http.MethodPost, "/api/v1/orders",
		`{"customer_id": "customer-2", "currency": "RUB", "items": [{"sku": "sku-b", "qty": 1}]}`)

	rec := f.do(t, http.MethodGet, "/api/v1/orders?customer_id=customer-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listed []orderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 3 {
		t.Errorf("expected 3 orders, got %d", len(listed))
	}

	rec = f.do(t, http.MethodGet, "/api/v1/orders?customer_id=customer-1&limit=2", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode limited list: %v", err)
	}
	if len(listed) != 2 {
		t.Errorf("expected 2 orders with limit, got %d", len(listed))
	}

	rec = f.do(t, http.MethodGet, "/api/v1/orders", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without customer_id, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/orders?customer_id=customer-1&limit=zero", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestCancelOrderEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	created := decodeOrder(t, f.do(t, http.MethodPost, "/api/v1/orders",
		`{"customer_id": "customer-1", "currency": "RUB", "items": [{"sku": "sku-a", "qty": 1}]}`))

	rec := f.do(t, http.MethodPost, "/api/v1/orders/"+created.ID+"/cancel", `{"reason": "changed my mind"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cancelled := decodeOrder(t, rec)
	if cancelled.Status != string(domain.OrderStatusCancelled) {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.FailureReason != "changed my mind" {
		t.Errorf("expected cancellation reason, got %q", cancelled.FailureReason)
	}

	// Отгрузка отменённого заказа невозможна.
	rec = f.do(t, http.MethodPost, "/api/v1/orders/"+created.ID+"/ship", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for ship after cancel, got %d", rec.Code)
	}
}

func TestShipAndDeliverEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	now := time.Now().UTC()
	seeded := domain.Order{
		ID:          "order-confirmed",
		CustomerID:  "customer-1",
		Status:      domain.OrderStatusConfirmed,
		Currency:    "RUB",
		AmountMinor: 149900,
		Items: []domain.OrderItem{
			{ID: "order-confirmed-item-1", SKU: "sku-a", Qty: 1, UnitPriceMinor: 149900, CreatedAt: now},
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.orders.Create(seeded); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/api/v1/orders/order-confirmed/ship", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for ship, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeOrder(t, rec); got.Status != string(domain.OrderStatusShipped) {
		t.Errorf("expected shipped, got %s", got.Status)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/orders/order-confirmed/deliver", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for deliver, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeOrder(t, rec); got.Status != string(domain.OrderStatusDelivered) {
		t.Errorf("expected delivered, got %s", got.Status)
	}
}

func TestListNotificationsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	if err := f.notifications.Append(domain.Notification{
		ID:         "notif-1",
		OrderID:    "order-1",
		CustomerID: "customer-1",
		Kind:       domain.EventTypeOrderUpdated,
		Message:    "order confirmed, payment received",
		SentAt:     time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed notification: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/orders/order-1/notifications", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var listed []notificationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode notifications: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(listed))
	}
	if listed[0].Message != "order confirmed, payment received" {
		t.Errorf("unexpected message: %q", listed[0].Message)
	}
}
