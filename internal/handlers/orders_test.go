package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/vitrineapp/vitrine/internal/events"
	"github.com/vitrineapp/vitrine/internal/models"
	"github.com/vitrineapp/vitrine/internal/services"
)

func newOrderHandlers(orders ...*models.Order) (*Handlers, *stubOrderStore) {
	store := newStubOrderStore(orders...)
	return &Handlers{
		orderService: services.NewOrderService(store, events.NewBus(nil), nil),
		logger:       testLogger(),
	}, store
}

func TestGetOrder_GuestTokenRequired(t *testing.T) {
	t.Parallel()

	order := guestOrder()
	h, _ := newOrderHandlers(order)

	tests := []struct {
		name       string
		query      string
		wantStatus int
	}{
		{name: "missing token", query: "", wantStatus: http.StatusNotFound},
		{name: "wrong token", query: "?access_token=tok_wrong", wantStatus: http.StatusNotFound},
		{name: "correct token", query: "?access_token=tok_guest_view", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/api/orders/"+order.OrderNumber+tt.query, nil)
			req = mux.SetURLVars(req, map[string]string{"number": order.OrderNumber})
			rec := httptest.NewRecorder()

			h.GetOrder(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && !strings.Contains(rec.Body.String(), order.OrderNumber) {
				t.Fatalf("body missing order number: %s", rec.Body.String())
			}
		})
	}
}

func TestGetOrder_RegisteredOrderIsPublicByNumber(t *testing.T) {
	t.Parallel()

	order := guestOrder()
	order.AccessToken = ""
	h, _ := newOrderHandlers(order)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/"+order.OrderNumber, nil)
	req = mux.SetURLVars(req, map[string]string{"number": order.OrderNumber})
	rec := httptest.NewRecorder()

	h.GetOrder(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	t.Parallel()

	h, _ := newOrderHandlers()

	req := httptest.NewRequest(http.MethodGet, "/api/orders/ORD-NOPE42", nil)
	req = mux.SetURLVars(req, map[string]string{"number": "ORD-NOPE42"})
	rec := httptest.NewRecorder()

	h.GetOrder(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestShipOrder(t *testing.T) {
	t.Parallel()

	order := guestOrder()
	order.Status = models.OrderProcessing
	h, store := newOrderHandlers(order)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/"+order.ID.String()+"/ship",
		strings.NewReader(`{"tracking_number":"BR123456789"}`))
	req = mux.SetURLVars(req, map[string]string{"id": order.ID.String()})
	rec := httptest.NewRecorder()

	h.ShipOrder(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	updated, _ := store.GetByID(req.Context(), order.ID)
	if updated.Status != models.OrderShipped || updated.TrackingNumber != "BR123456789" {
		t.Fatalf("unexpected order after ship: %+v", updated)
	}
}

func TestShipOrder_ErrorMapping(t *testing.T) {
	t.Parallel()

	pending := guestOrder()
	h, _ := newOrderHandlers(pending)

	tests := []struct {
		name       string
		id         string
		body       string
		wantStatus int
	}{
		{
			name:       "tracking required",
			id:         pending.ID.String(),
			body:       `{"tracking_number":""}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			// Pending orders cannot ship directly.
			name:       "invalid transition",
			id:         pending.ID.String(),
			body:       `{"tracking_number":"BR1"}`,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "malformed id",
			id:         "not-a-uuid",
			body:       `{"tracking_number":"BR1"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/api/orders/"+tt.id+"/ship", strings.NewReader(tt.body))
			req = mux.SetURLVars(req, map[string]string{"id": tt.id})
			rec := httptest.NewRecorder()

			h.ShipOrder(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()

	order := guestOrder()
	h, store := newOrderHandlers(order)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/"+order.ID.String()+"/cancel", nil)
	req = mux.SetURLVars(req, map[string]string{"id": order.ID.String()})
	rec := httptest.NewRecorder()

	h.CancelOrder(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	updated, _ := store.GetByID(req.Context(), order.ID)
	if updated.Status != models.OrderCancelled {
		t.Fatalf("status = %q, want cancelled", updated.Status)
	}
}
