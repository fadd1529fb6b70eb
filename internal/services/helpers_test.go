package services

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vitrineapp/vitrine/internal/db"
	"github.com/vitrineapp/vitrine/internal/gateway"
	"github.com/vitrineapp/vitrine/internal/models"
	"github.com/vitrineapp/vitrine/internal/paymentlog"
)

// fakeTx satisfies pgx.Tx for the handful of calls the services make.
// Anything beyond Commit and Rollback panics through the embedded nil.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakePool struct {
	mu       sync.Mutex
	beginErr error
	txs      []*fakeTx
}

func (p *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	tx := &fakeTx{}
	p.txs = append(p.txs, tx)
	return tx, nil
}

func (p *fakePool) committedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, tx := range p.txs {
		if tx.committed {
			n++
		}
	}
	return n
}

type fakeCartStore struct {
	mu        sync.Mutex
	carts     map[uuid.UUID]*models.Cart
	converted []uuid.UUID
}

func newFakeCartStore(carts ...*models.Cart) *fakeCartStore {
	s := &fakeCartStore{carts: make(map[uuid.UUID]*models.Cart)}
	for _, c := range carts {
		s.carts[c.ID] = c
	}
	return s
}

func (s *fakeCartStore) GetByID(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.carts[cartID]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *cart
	return &copied, nil
}

func (s *fakeCartStore) MarkConverted(ctx context.Context, q db.Querier, cartID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.carts[cartID]
	if !ok || cart.Status != models.CartActive {
		return db.ErrInvalidStatusTransition
	}
	cart.Status = models.CartConverted
	s.converted = append(s.converted, cartID)
	return nil
}

// fakeOrderStore emulates the SQL transition guards in memory.
type fakeOrderStore struct {
	mu             sync.Mutex
	orders         map[uuid.UUID]*models.Order
	createErrs     []error
	createdNumbers []string
}

func newFakeOrderStore(orders ...*models.Order) *fakeOrderStore {
	s := &fakeOrderStore{orders: make(map[uuid.UUID]*models.Order)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *fakeOrderStore) Create(ctx context.Context, q db.Querier, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createdNumbers = append(s.createdNumbers, order.OrderNumber)
	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		if err != nil {
			return err
		}
	}
	copied := *order
	s.orders[order.ID] = &copied
	return nil
}

func (s *fakeOrderStore) GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *order
	return &copied, nil
}

func (s *fakeOrderStore) GetByIDForUpdate(ctx context.Context, q db.Querier, orderID uuid.UUID) (*models.Order, error) {
	return s.GetByID(ctx, orderID)
}

func (s *fakeOrderStore) GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
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

func (s *fakeOrderStore) GetByAccessToken(ctx context.Context, token string) (*models.Order, error) {
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

func (s *fakeOrderStore) MarkPaid(ctx context.Context, q db.Querier, orderID uuid.UUID) error {
	return s.updatePayment(orderID, models.OrderPaymentPaid, models.OrderPaymentPending, models.OrderPaymentFailed)
}

func (s *fakeOrderStore) MarkPaymentFailed(ctx context.Context, q db.Querier, orderID uuid.UUID) error {
	return s.updatePayment(orderID, models.OrderPaymentFailed, models.OrderPaymentPending)
}

func (s *fakeOrderStore) MarkPaymentRefunded(ctx context.Context, q db.Querier, orderID uuid.UUID) error {
	return s.updatePayment(orderID, models.OrderPaymentRefunded, models.OrderPaymentPaid)
}

func (s *fakeOrderStore) updatePayment(orderID uuid.UUID, to models.OrderPaymentStatus, from ...models.OrderPaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return db.ErrNotFound
	}
	for _, allowed := range from {
		if order.PaymentStatus == allowed {
			order.PaymentStatus = to
			if to == models.OrderPaymentPaid {
				now := time.Now()
				order.PaidAt = &now
			}
			return nil
		}
	}
	return db.ErrInvalidStatusTransition
}

func (s *fakeOrderStore) MarkProcessing(ctx context.Context, orderID uuid.UUID) error {
	return s.updateStatus(orderID, models.OrderProcessing, "", models.OrderPending)
}

func (s *fakeOrderStore) MarkShipped(ctx context.Context, orderID uuid.UUID, trackingNumber string) error {
	return s.updateStatus(orderID, models.OrderShipped, trackingNumber, models.OrderProcessing)
}

func (s *fakeOrderStore) MarkCompleted(ctx context.Context, orderID uuid.UUID) error {
	return s.updateStatus(orderID, models.OrderCompleted, "", models.OrderShipped)
}

func (s *fakeOrderStore) MarkCancelled(ctx context.Context, orderID uuid.UUID) error {
	return s.updateStatus(orderID, models.OrderCancelled, "", models.OrderPending, models.OrderProcessing)
}

func (s *fakeOrderStore) MarkRefunded(ctx context.Context, orderID uuid.UUID) error {
	return s.updateStatus(orderID, models.OrderRefunded, "", models.OrderCompleted)
}

func (s *fakeOrderStore) updateStatus(orderID uuid.UUID, to models.OrderStatus, tracking string, from ...models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return db.ErrNotFound
	}
	for _, allowed := range from {
		if order.Status == allowed {
			order.Status = to
			if tracking != "" {
				order.TrackingNumber = tracking
			}
			return nil
		}
	}
	return db.ErrInvalidStatusTransition
}

type fakePaymentStore struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*models.Payment
}

func newFakePaymentStore(payments ...*models.Payment) *fakePaymentStore {
	s := &fakePaymentStore{payments: make(map[uuid.UUID]*models.Payment)}
	for _, p := range payments {
		s.payments[p.ID] = p
	}
	return s
}

func (s *fakePaymentStore) Create(ctx context.Context, q db.Querier, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *payment
	s.payments[payment.ID] = &copied
	return nil
}

func (s *fakePaymentStore) GetByID(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[paymentID]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *payment
	return &copied, nil
}

func (s *fakePaymentStore) GetByIDForUpdate(ctx context.Context, q db.Querier, paymentID uuid.UUID) (*models.Payment, error) {
	return s.GetByID(ctx, paymentID)
}

func (s *fakePaymentStore) GetByTransactionID(ctx context.Context, gatewayName, transactionID string) (*models.Payment, error) {
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

func (s *fakePaymentStore) GetByOrder(ctx context.Context, orderID uuid.UUID) ([]*models.Payment, error) {
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

func (s *fakePaymentStore) MarkApproved(ctx context.Context, q db.Querier, paymentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[paymentID]
	if !ok {
		return db.ErrNotFound
	}
	if payment.Status.Terminal() {
		return db.ErrInvalidStatusTransition
	}
	payment.Status = models.PaymentApproved
	now := time.Now()
	payment.PaidAt = &now
	return nil
}

func (s *fakePaymentStore) ApplyStatus(ctx context.Context, q db.Querier, paymentID uuid.UUID, status models.PaymentStatus, errorCode, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[paymentID]
	if !ok {
		return db.ErrNotFound
	}
	if payment.Status.Terminal() {
		return db.ErrInvalidStatusTransition
	}
	payment.Status = status
	payment.ErrorCode = errorCode
	payment.ErrorMessage = errorMessage
	return nil
}

func (s *fakePaymentStore) ApplyPartialRefund(ctx context.Context, q db.Querier, paymentID uuid.UUID, amountCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[paymentID]
	if !ok {
		return db.ErrNotFound
	}
	if payment.Status != models.PaymentApproved || payment.RefundedAmountCents+amountCents > payment.AmountCents {
		return db.ErrInvalidStatusTransition
	}
	payment.RefundedAmountCents += amountCents
	now := time.Now()
	payment.RefundedAt = &now
	return nil
}

func (s *fakePaymentStore) MarkRefunded(ctx context.Context, q db.Querier, paymentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[paymentID]
	if !ok {
		return db.ErrNotFound
	}
	if payment.Status != models.PaymentApproved {
		return db.ErrInvalidStatusTransition
	}
	payment.Status = models.PaymentRefunded
	payment.RefundedAmountCents = payment.AmountCents
	now := time.Now()
	payment.RefundedAt = &now
	return nil
}

// fakeGateway returns scripted results.
type fakeGateway struct {
	name          string
	available     bool
	cardResult    gateway.PaymentResult
	pixData       gateway.PixData
	pixResult     gateway.PaymentResult
	slipData      gateway.BankSlipData
	slipResult    gateway.PaymentResult
	checkStatus   models.PaymentStatus
	checkErr      error
	refundResult  gateway.RefundResult
	webhookEvent  gateway.WebhookEvent
	webhookErr    error
	refundedCents int64
}

func (g *fakeGateway) Name() string {
	if g.name == "" {
		return "mock"
	}
	return g.name
}

func (g *fakeGateway) Available() bool   { return g.available }
func (g *fakeGateway) PublicKey() string { return "pk_fake" }
func (g *fakeGateway) Sandbox() bool     { return true }

func (g *fakeGateway) ProcessCard(ctx context.Context, order *models.Order, card gateway.CardData) gateway.PaymentResult {
	return g.cardResult
}

func (g *fakeGateway) GeneratePix(ctx context.Context, order *models.Order) (gateway.PixData, gateway.PaymentResult) {
	return g.pixData, g.pixResult
}

func (g *fakeGateway) GenerateBankSlip(ctx context.Context, order *models.Order) (gateway.BankSlipData, gateway.PaymentResult) {
	return g.slipData, g.slipResult
}

func (g *fakeGateway) CheckStatus(ctx context.Context, payment *models.Payment) (models.PaymentStatus, error) {
	return g.checkStatus, g.checkErr
}

func (g *fakeGateway) Refund(ctx context.Context, payment *models.Payment, amountCents int64) gateway.RefundResult {
	g.refundedCents = amountCents
	return g.refundResult
}

func (g *fakeGateway) ParseWebhook(r *http.Request, body []byte) (gateway.WebhookEvent, error) {
	return g.webhookEvent, g.webhookErr
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []paymentlog.Entry
}

func (a *fakeAudit) Record(ctx context.Context, entry paymentlog.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *fakeAudit) recorded() []paymentlog.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]paymentlog.Entry(nil), a.entries...)
}

func activeCart() *models.Cart {
	return &models.Cart{
		ID:     uuid.New(),
		Status: models.CartActive,
		Items: []models.CartItem{
			{ProductID: uuid.New(), ProductName: "Caneca", UnitPriceCents: 2500, Quantity: 2},
			{ProductID: uuid.New(), ProductName: "Camiseta", UnitPriceCents: 5000, Quantity: 1},
		},
	}
}

func pendingOrder() *models.Order {
	return &models.Order{
		ID:            uuid.New(),
		OrderNumber:   "ORD-TEST42",
		Status:        models.OrderPending,
		PaymentStatus: models.OrderPaymentPending,
		TotalCents:    10000,
		GuestEmail:    "maria@example.com",
	}
}

func approvedPayment(orderID uuid.UUID) *models.Payment {
	return &models.Payment{
		ID:                   uuid.New(),
		OrderID:              orderID,
		Method:               models.MethodCreditCard,
		Status:               models.PaymentApproved,
		AmountCents:          10000,
		Gateway:              "mock",
		GatewayTransactionID: "mock_tx",
	}
}
