package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/vitrineapp/vitrine/internal/db"
	"github.com/vitrineapp/vitrine/internal/events"
	"github.com/vitrineapp/vitrine/internal/gateway"
	"github.com/vitrineapp/vitrine/internal/models"
	"github.com/vitrineapp/vitrine/internal/services"
)

type stubCartStore struct {
	carts map[uuid.UUID]*models.Cart
}

func newStubCartStore(carts ...*models.Cart) *stubCartStore {
	s := &stubCartStore{carts: make(map[uuid.UUID]*models.Cart)}
	for _, c := range carts {
		s.carts[c.ID] = c
	}
	return s
}

func (s *stubCartStore) GetByID(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	cart, ok := s.carts[cartID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return cart, nil
}

func (s *stubCartStore) MarkConverted(ctx context.Context, q db.Querier, cartID uuid.UUID) error {
	s.carts[cartID].Status = models.CartConverted
	return nil
}

func checkoutCart() *models.Cart {
	return &models.Cart{
		ID:     uuid.New(),
		Status: models.CartActive,
		Items: []models.CartItem{
			{ProductID: uuid.New(), ProductName: "Caneca", UnitPriceCents: 2500, Quantity: 2},
		},
	}
}

func newCheckoutHandlers(gw *stubGateway, carts *stubCartStore) *Handlers {
	orders := newStubOrderStore()
	payments := newStubPaymentStore()
	paySvc := services.NewPaymentService(orders, payments, stubPool{}, gw, stubAudit{}, events.NewBus(nil), nil)
	return &Handlers{
		checkoutService: services.NewCheckoutService(carts, orders, stubPool{}, paySvc, events.NewBus(nil), nil),
		logger:          testLogger(),
	}
}

func postCheckout(h *Handlers, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Checkout(rec, req)
	return rec
}

func guestCheckoutBody(cartID uuid.UUID, extra string) string {
	return `{
		"cart_id": "` + cartID.String() + `",
		"guest_name": "Maria Silva",
		"guest_email": "maria@example.com",
		"guest_cpf": "123.456.789-09",
		"guest_phone": "+55 11 91234-5678",
		"shipping_address": {"line1": "Rua das Flores 100", "city": "São Paulo", "state": "SP", "postal_code": "01000-000", "country": "BR"},
		"shipping": {"code": "sedex", "carrier": "Correios", "price_cents": 1500, "delivery_days_max": 5}` + extra + `
	}`
}

func TestCheckout_CreatesGuestOrder(t *testing.T) {
	t.Parallel()

	cart := checkoutCart()
	h := newCheckoutHandlers(&stubGateway{}, newStubCartStore(cart))

	rec := postCheckout(h, guestCheckoutBody(cart.ID, ""))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Order       *models.Order   `json:"order"`
		AccessToken string          `json:"access_token"`
		Payment     *models.Payment `json:"payment"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Error("guest checkout must return the access token")
	}
	if !strings.HasPrefix(resp.Order.OrderNumber, "ORD-") {
		t.Errorf("order number = %q", resp.Order.OrderNumber)
	}
	if resp.Payment != nil {
		t.Error("no payment was requested")
	}
	if cart.Status != models.CartConverted {
		t.Error("cart was not converted")
	}
}

func TestCheckout_WithCardPayment(t *testing.T) {
	t.Parallel()

	cart := checkoutCart()
	gw := &stubGateway{cardResult: gateway.PaymentResult{
		Success:       true,
		Status:        models.PaymentApproved,
		TransactionID: "stub_tx",
		CardBrand:     "visa",
		CardLastFour:  "4242",
	}}
	h := newCheckoutHandlers(gw, newStubCartStore(cart))

	payment := `,
		"payment": {"method": "credit_card", "installments": 3, "card": {"number": "4242424242424242", "cvv": "123", "brand": "visa"}}`
	rec := postCheckout(h, guestCheckoutBody(cart.ID, payment))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Payment      *models.Payment `json:"payment"`
		PaymentError string          `json:"payment_error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.PaymentError != "" {
		t.Fatalf("payment error = %q", resp.PaymentError)
	}
	if resp.Payment == nil || resp.Payment.Status != models.PaymentApproved {
		t.Fatalf("payment = %+v, want approved", resp.Payment)
	}
	if resp.Payment.Installments != 3 {
		t.Errorf("installments = %d, want 3", resp.Payment.Installments)
	}
}

func TestCheckout_Validation(t *testing.T) {
	t.Parallel()

	cart := checkoutCart()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "missing cart id",
			body:       `{"guest_name": "Maria Silva"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown cart",
			body:       guestCheckoutBody(uuid.New(), ""),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "card payment without card data",
			body:       guestCheckoutBody(cart.ID, `, "payment": {"method": "credit_card"}`),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown payment method",
			body:       guestCheckoutBody(cart.ID, `, "payment": {"method": "barter"}`),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing guest phone",
			body:       strings.Replace(guestCheckoutBody(cart.ID, ""), `"+55 11 91234-5678"`, `""`, 1),
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newCheckoutHandlers(&stubGateway{}, newStubCartStore(checkoutCart(), cart))
			rec := postCheckout(h, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}
