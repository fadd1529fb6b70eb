package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vitrineapp/vitrine/internal/db"
	"github.com/vitrineapp/vitrine/internal/gateway"
	"github.com/vitrineapp/vitrine/internal/models"
	"github.com/vitrineapp/vitrine/internal/paymentlog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubTx struct {
	pgx.Tx
}

func (stubTx) Commit(ctx context.Context) error   { return nil }
func (stubTx) Rollback(ctx context.Context) error { return nil }

type stubPool struct{}

func (stubPool) Begin(ctx context.Context) (pgx.Tx, error) { return stubTx{}, nil }

// stubOrderStore backs the order and payment services with a fixed set of
// orders. Transitions flip status without re-checking SQL guards; the
// services already gate on the transition graph.
type stubOrderStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
}

func newStubOrderStore(orders ...*models.Order) *stubOrderStore {
	s := &stubOrderStore{orders: make(map[uuid.UUID]*models.Order)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *stubOrderStore) Create(ctx context.Context, q db.Querier, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order
	return nil
}

func (s *stubOrderStore) GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *order
	return &copied, nil
}

func (s *stubOrderStore) GetByIDForUpdate(ctx context.Context, q db.Querier, orderID uuid.UUID) (*models.Order, error) {
	return s.GetByID(ctx, orderID)
}

func (s *stubOrderStore) GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.OrderNumber == orderNumber {
			copied := *order
			return &copied, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *stubOrderStore) GetByAccessToken(ctx context.Context, token string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.AccessToken == token {
			copied := *order
			return &copied, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *stubOrderStore) setStatus(orderID uuid.UUID, status models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return db.ErrNotFound
	}
	order.Status = status
	return nil
}

func (s *stubOrderStore) setPaymentStatus(orderID uuid.UUID, status models.OrderPaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return db.ErrNotFound
	}
	order.PaymentStatus = status
	return nil
}

func (s *stubOrderStore) MarkProcessing(ctx context.Context, orderID uuid.UUID) error {
	return s.setStatus(orderID, models.OrderProcessing)
}

func (s *stubOrderStore) MarkShipped(ctx context.Context, orderID uuid.UUID, trackingNumber string) error {
	s.mu.Lock()
	if order, ok := s.orders[orderID]; ok {
		order.TrackingNumber = trackingNumber
	}
	s.mu.Unlock()
	return s.setStatus(orderID, models.OrderShipped)
}

func (s *stubOrderStore) MarkCompleted(ctx context.Context, orderID uuid.UUID) error {
	return s.setStatus(orderID, models.OrderCompleted)
}

func (s *stubOrderStore) MarkCancelled(ctx context.Context, orderID uuid.UUID) error {
	return s.setStatus(orderID, models.OrderCancelled)
}

func (s *stubOrderStore) MarkRefunded(ctx context.Context, orderID uuid.UUID) error {
	return s.setStatus(orderID, models.OrderRefunded)
}

func (s *stubOrderStore) MarkPaid(ctx context.Context, q db.Querier, orderID uuid.UUID) error {
	return s.setPaymentStatus(orderID, models.OrderPaymentPaid)
}

func (s *stubOrderStore) MarkPaymentFailed(ctx context.Context, q db.Querier, orderID uuid.UUID) error {
	return s.setPaymentStatus(orderID, models.OrderPaymentFailed)
}

func (s *stubOrderStore) MarkPaymentRefunded(ctx context.Context, q db.Querier, orderID uuid.UUID) error {
	return s.setPaymentStatus(orderID, models.OrderPaymentRefunded)
}

type stubPaymentStore struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*models.Payment
}

func newStubPaymentStore(payments ...*models.Payment) *stubPaymentStore {
	s := &stubPaymentStore{payments: make(map[uuid.UUID]*models.Payment)}
	for _, p := range payments {
		s.payments[p.ID] = p
	}
	return s
}

func (s *stubPaymentStore) Create(ctx context.Context, q db.Querier, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *payment
	s.payments[payment.ID] = &copied
	return nil
}

func (s *stubPaymentStore) GetByID(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[paymentID]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *payment
	return &copied, nil
}

func (s *stubPaymentStore) GetByIDForUpdate(ctx context.Context, q db.Querier, paymentID uuid.UUID) (*models.Payment, error) {
	return s.GetByID(ctx, paymentID)
}

func (s *stubPaymentStore) GetByTransactionID(ctx context.Context, gatewayName, transactionID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, payment := range s.payments {
		if payment.Gateway == gatewayName && payment.GatewayTransactionID == transactionID {
			copied := *payment
			return &copied, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *stubPaymentStore) GetByOrder(ctx context.Context, orderID uuid.UUID) ([]*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Payment
	for _, payment := range s.payments {
		if payment.OrderID == orderID {
			copied := *payment
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *stubPaymentStore) MarkApproved(ctx context.Context, q db.Querier, paymentID uuid.UUID) error {
	return s.apply(paymentID, func(p *models.Payment) { p.Status = models.PaymentApproved })
}

func (s *stubPaymentStore) ApplyStatus(ctx context.Context, q db.Querier, paymentID uuid.UUID, status models.PaymentStatus, errorCode, errorMessage string) error {
	return s.apply(paymentID, func(p *models.Payment) {
		p.Status = status
		p.ErrorCode = errorCode
		p.ErrorMessage = errorMessage
	})
}

func (s *stubPaymentStore) ApplyPartialRefund(ctx context.Context, q db.Querier, paymentID uuid.UUID, amountCents int64) error {
	return s.apply(paymentID, func(p *models.Payment) { p.RefundedAmountCents += amountCents })
}

func (s *stubPaymentStore) MarkRefunded(ctx context.Context, q db.Querier, paymentID uuid.UUID) error {
	return s.apply(paymentID, func(p *models.Payment) {
		p.Status = models.PaymentRefunded
		p.RefundedAmountCents = p.AmountCents
	})
}

func (s *stubPaymentStore) apply(paymentID uuid.UUID, mutate func(*models.Payment)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[paymentID]
	if !ok {
		return db.ErrNotFound
	}
	mutate(payment)
	return nil
}

type stubAudit struct{}

func (stubAudit) Record(ctx context.Context, entry paymentlog.Entry) {}

// stubGateway returns scripted webhook and card outcomes.
type stubGateway struct {
	name         string
	cardResult   gateway.PaymentResult
	webhookEvent gateway.WebhookEvent
	webhookErr   error
}

func (g *stubGateway) Name() string {
	if g.name == "" {
		return "mock"
	}
	return g.name
}

func (g *stubGateway) Available() bool   { return true }
func (g *stubGateway) PublicKey() string { return "pk_stub" }
func (g *stubGateway) Sandbox() bool     { return true }

func (g *stubGateway) ProcessCard(ctx context.Context, order *models.Order, card gateway.CardData) gateway.PaymentResult {
	return g.cardResult
}

func (g *stubGateway) GeneratePix(ctx context.Context, order *models.Order) (gateway.PixData, gateway.PaymentResult) {
	return gateway.PixData{TransactionID: "pix_stub", Code: "00020126"}, gateway.PaymentResult{
		Success: true, Status: models.PaymentPending, TransactionID: "pix_stub", Pending: true,
	}
}

func (g *stubGateway) GenerateBankSlip(ctx context.Context, order *models.Order) (gateway.BankSlipData, gateway.PaymentResult) {
	return gateway.BankSlipData{TransactionID: "slip_stub", Barcode: "23790"}, gateway.PaymentResult{
		Success: true, Status: models.PaymentPending, TransactionID: "slip_stub", Pending: true,
	}
}

func (g *stubGateway) CheckStatus(ctx context.Context, payment *models.Payment) (models.PaymentStatus, error) {
	return payment.Status, nil
}

func (g *stubGateway) Refund(ctx context.Context, payment *models.Payment, amountCents int64) gateway.RefundResult {
	return gateway.RefundResult{Success: true, RefundID: "re_stub", AmountCents: amountCents}
}

func (g *stubGateway) ParseWebhook(r *http.Request, body []byte) (gateway.WebhookEvent, error) {
	return g.webhookEvent, g.webhookErr
}

func guestOrder() *models.Order {
	return &models.Order{
		ID:            uuid.New(),
		OrderNumber:   "ORD-ABC234",
		Status:        models.OrderPending,
		PaymentStatus: models.OrderPaymentPending,
		TotalCents:    10000,
		GuestName:     "Maria Silva",
		GuestEmail:    "maria@example.com",
		AccessToken:   "tok_guest_view",
	}
}
