// Package services holds the business operations behind the HTTP surface:
// checkout, payments, order lifecycle and webhook reconciliation.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vitrineapp/vitrine/internal/crypto"
	"github.com/vitrineapp/vitrine/internal/db"
	"github.com/vitrineapp/vitrine/internal/events"
	"github.com/vitrineapp/vitrine/internal/gateway"
	"github.com/vitrineapp/vitrine/internal/logging"
	"github.com/vitrineapp/vitrine/internal/models"
	"github.com/vitrineapp/vitrine/internal/observability"
)

const (
	orderNumberPrefix      = "ORD-"
	orderNumberLength      = 6
	maxOrderNumberAttempts = 5
)

var (
	ErrCartNotFound       = errors.New("cart not found")
	ErrCartNotActive      = errors.New("cart is not active")
	ErrEmptyCart          = errors.New("cart has no items")
	ErrGuestInfoRequired  = errors.New("guest checkout requires name, email, cpf and phone")
	ErrAddressIncomplete  = errors.New("shipping address is incomplete")
	ErrCardDataRequired   = errors.New("card payment requires card data")
	ErrUnsupportedPayment = errors.New("unsupported payment method")
)

type checkoutCartStore interface {
	GetByID(ctx context.Context, cartID uuid.UUID) (*models.Cart, error)
	MarkConverted(ctx context.Context, q db.Querier, cartID uuid.UUID) error
}

type checkoutOrderStore interface {
	Create(ctx context.Context, q db.Querier, order *models.Order) error
}

// txBeginner is satisfied by *pgxpool.Pool.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// checkoutPayments is the slice of PaymentService checkout needs for the
// first payment attempt on a freshly created order.
type checkoutPayments interface {
	ProcessCard(ctx context.Context, orderID uuid.UUID, card gateway.CardData, installmentQty int) (*models.Payment, error)
	GeneratePix(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	GenerateBankSlip(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
}

// CheckoutInput is everything needed to turn a cart into an order. Exactly
// one of UserID or the guest fields identifies the customer.
type CheckoutInput struct {
	CartID uuid.UUID
	UserID *uuid.UUID

	GuestName  string
	GuestEmail string
	GuestCPF   string
	GuestPhone string

	ShippingAddress models.Address
	Shipping        models.ShippingOption
	DiscountCents   int64

	// PaymentMethod, when set, runs the first payment attempt as part of
	// the checkout. Card payments additionally need Card.
	PaymentMethod models.PaymentMethod
	Card          *gateway.CardData
	Installments  int
}

// CheckoutResult is what one checkout call produced. Payment is nil when no
// payment method was requested; PaymentErr is set when the order committed
// but the attempt could not run, so the caller retries via the payments API.
type CheckoutResult struct {
	Order      *models.Order
	Payment    *models.Payment
	PaymentErr error
}

// CheckoutService converts active carts into durable orders. The order row,
// its item snapshots and the cart conversion commit in one transaction.
type CheckoutService struct {
	carts    checkoutCartStore
	orders   checkoutOrderStore
	pool     txBeginner
	payments checkoutPayments
	bus      *events.Bus
	logger   *slog.Logger
}

func NewCheckoutService(carts checkoutCartStore, orders checkoutOrderStore, pool txBeginner, payments checkoutPayments, bus *events.Bus, logger *slog.Logger) *CheckoutService {
	return &CheckoutService{
		carts:    carts,
		orders:   orders,
		pool:     pool,
		payments: payments,
		bus:      bus,
		logger:   logger,
	}
}

func (s *CheckoutService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// CompleteCheckout creates the order and, when a payment method is given,
// runs the first payment attempt against it. Item names and prices are
// frozen from the cart at this moment; later catalog edits cannot change
// them. A failed attempt never rolls the committed order back.
func (s *CheckoutService) CompleteCheckout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	span := sentry.StartSpan(
		ctx,
		"service.checkout.complete_checkout",
		sentry.WithOpName("service.checkout"),
		sentry.WithDescription("CompleteCheckout"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	cart, err := s.carts.GetByID(ctx, input.CartID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart.Status != models.CartActive {
		return nil, ErrCartNotActive
	}
	if len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}
	if err := validateCustomer(input); err != nil {
		return nil, err
	}
	if err := validateAddress(input.ShippingAddress); err != nil {
		return nil, err
	}
	if err := s.validatePaymentRequest(input); err != nil {
		return nil, err
	}

	order, err := s.buildOrder(cart, input)
	if err != nil {
		return nil, err
	}

	if err := s.persistOrder(ctx, order, cart.ID); err != nil {
		return nil, err
	}

	meter := observability.MeterFromContext(ctx)
	meter.Count("checkout.order_created", 1)

	s.loggerFromContext(ctx).Info("order created",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"total_cents", order.TotalCents,
		"guest", order.IsGuest())

	s.bus.Publish(ctx, events.OrderCreated{Order: order})

	result := &CheckoutResult{Order: order}
	if input.PaymentMethod == "" {
		return result, nil
	}

	payment, err := s.attemptPayment(ctx, order.ID, input)
	if err != nil {
		// The order and cart conversion are already committed; the
		// customer retries the payment through the payments API.
		meter.Count("checkout.payment_attempt_failed", 1)
		s.loggerFromContext(ctx).Warn("checkout payment attempt failed",
			"order_id", order.ID,
			"method", input.PaymentMethod,
			"error", err)
		result.PaymentErr = err
		return result, nil
	}
	result.Payment = payment
	return result, nil
}

// validatePaymentRequest rejects malformed payment input before the order is
// committed, so a typo cannot convert the cart.
func (s *CheckoutService) validatePaymentRequest(input CheckoutInput) error {
	switch input.PaymentMethod {
	case "":
		return nil
	case models.MethodCreditCard:
		if input.Card == nil {
			return ErrCardDataRequired
		}
	case models.MethodPix, models.MethodBankSlip:
	default:
		return ErrUnsupportedPayment
	}
	if s.payments == nil {
		return ErrUnsupportedPayment
	}
	return nil
}

func (s *CheckoutService) attemptPayment(ctx context.Context, orderID uuid.UUID, input CheckoutInput) (*models.Payment, error) {
	switch input.PaymentMethod {
	case models.MethodCreditCard:
		return s.payments.ProcessCard(ctx, orderID, *input.Card, input.Installments)
	case models.MethodPix:
		return s.payments.GeneratePix(ctx, orderID)
	case models.MethodBankSlip:
		return s.payments.GenerateBankSlip(ctx, orderID)
	default:
		return nil, ErrUnsupportedPayment
	}
}

// persistOrder commits the order and the cart conversion atomically,
// regenerating the order number on the rare collision.
func (s *CheckoutService) persistOrder(ctx context.Context, order *models.Order, cartID uuid.UUID) error {
	for attempt := 1; ; attempt++ {
		number, err := newOrderNumber()
		if err != nil {
			return err
		}
		order.OrderNumber = number

		err = s.runCheckoutTx(ctx, order, cartID)
		if err == nil {
			return nil
		}
		if errors.Is(err, db.ErrDuplicateOrderNumber) && attempt < maxOrderNumberAttempts {
			s.loggerFromContext(ctx).Warn("order number collision, retrying",
				"order_number", number, "attempt", attempt)
			continue
		}
		return err
	}
}

func (s *CheckoutService) runCheckoutTx(ctx context.Context, order *models.Order, cartID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.orders.Create(ctx, tx, order); err != nil {
		return err
	}
	if err := s.carts.MarkConverted(ctx, tx, cartID); err != nil {
		return fmt.Errorf("failed to convert cart: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit checkout: %w", err)
	}
	return nil
}

func (s *CheckoutService) buildOrder(cart *models.Cart, input CheckoutInput) (*models.Order, error) {
	subtotal := cart.SubtotalCents()
	total := subtotal + input.Shipping.PriceCents - input.DiscountCents
	if total < 0 {
		total = 0
	}

	order := &models.Order{
		ID:            uuid.New(),
		Status:        models.OrderPending,
		PaymentStatus: models.OrderPaymentPending,

		SubtotalCents: subtotal,
		ShippingCents: input.Shipping.PriceCents,
		DiscountCents: input.DiscountCents,
		TotalCents:    total,

		UserID:     input.UserID,
		GuestName:  strings.TrimSpace(input.GuestName),
		GuestEmail: strings.TrimSpace(input.GuestEmail),
		GuestCPF:   strings.TrimSpace(input.GuestCPF),
		GuestPhone: strings.TrimSpace(input.GuestPhone),

		ShippingAddress: input.ShippingAddress,
		ShippingMethod:  input.Shipping.Code,
		ShippingCarrier: input.Shipping.Carrier,
		ShippingDays:    input.Shipping.DeliveryDaysMax,

		CartID: cart.ID,
	}

	if order.IsGuest() {
		token, err := crypto.NewAccessToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate access token: %w", err)
		}
		order.AccessToken = token
	}

	for _, item := range cart.Items {
		order.Items = append(order.Items, models.OrderItem{
			ID:             uuid.New(),
			OrderID:        order.ID,
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			VariantName:    item.VariantName,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
			SubtotalCents:  item.UnitPriceCents * int64(item.Quantity),
		})
	}
	return order, nil
}

func validateCustomer(input CheckoutInput) error {
	if input.UserID != nil {
		return nil
	}
	if strings.TrimSpace(input.GuestName) == "" ||
		strings.TrimSpace(input.GuestEmail) == "" ||
		strings.TrimSpace(input.GuestCPF) == "" ||
		strings.TrimSpace(input.GuestPhone) == "" {
		return ErrGuestInfoRequired
	}
	return nil
}

func validateAddress(addr models.Address) error {
	if addr.Line1 == "" || addr.City == "" || addr.State == "" || addr.PostalCode == "" {
		return ErrAddressIncomplete
	}
	return nil
}

func newOrderNumber() (string, error) {
	code, err := crypto.RandomCode(orderNumberLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate order number: %w", err)
	}
	return orderNumberPrefix + code, nil
}
