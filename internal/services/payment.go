package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"

	"github.com/vitrineapp/vitrine/internal/db"
	"github.com/vitrineapp/vitrine/internal/events"
	"github.com/vitrineapp/vitrine/internal/gateway"
	"github.com/vitrineapp/vitrine/internal/logging"
	"github.com/vitrineapp/vitrine/internal/models"
	"github.com/vitrineapp/vitrine/internal/observability"
	"github.com/vitrineapp/vitrine/internal/paymentlog"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrOrderNotPayable      = errors.New("order cannot accept a new payment")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentNotRefundable = errors.New("payment cannot be refunded")
	ErrRefundAmountInvalid  = errors.New("refund amount exceeds the refundable balance")
	ErrGatewayUnavailable   = errors.New("payment gateway is not configured")
)

type paymentOrderStore interface {
	GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetByIDForUpdate(ctx context.Context, q db.Querier, orderID uuid.UUID) (*models.Order, error)
	MarkPaid(ctx context.Context, q db.Querier, orderID uuid.UUID) error
	MarkPaymentFailed(ctx context.Context, q db.Querier, orderID uuid.UUID) error
	MarkPaymentRefunded(ctx context.Context, q db.Querier, orderID uuid.UUID) error
}

type paymentStore interface {
	Create(ctx context.Context, q db.Querier, payment *models.Payment) error
	GetByID(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	GetByIDForUpdate(ctx context.Context, q db.Querier, paymentID uuid.UUID) (*models.Payment, error)
	GetByTransactionID(ctx context.Context, gatewayName, transactionID string) (*models.Payment, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) ([]*models.Payment, error)
	MarkApproved(ctx context.Context, q db.Querier, paymentID uuid.UUID) error
	ApplyStatus(ctx context.Context, q db.Querier, paymentID uuid.UUID, status models.PaymentStatus, errorCode, errorMessage string) error
	ApplyPartialRefund(ctx context.Context, q db.Querier, paymentID uuid.UUID, amountCents int64) error
	MarkRefunded(ctx context.Context, q db.Querier, paymentID uuid.UUID) error
}

// auditLog is the always-on recording sink; see paymentlog.Service.
type auditLog interface {
	Record(ctx context.Context, entry paymentlog.Entry)
}

// PaymentService runs charges through the configured gateway and keeps the
// payment and order rows consistent. Every gateway interaction is recorded in
// the audit log before the method returns.
type PaymentService struct {
	orders   paymentOrderStore
	payments paymentStore
	pool     txBeginner
	gateway  gateway.Gateway
	audit    auditLog
	bus      *events.Bus
	logger   *slog.Logger
}

func NewPaymentService(
	orders paymentOrderStore,
	payments paymentStore,
	pool txBeginner,
	gw gateway.Gateway,
	audit auditLog,
	bus *events.Bus,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		orders:   orders,
		payments: payments,
		pool:     pool,
		gateway:  gw,
		audit:    audit,
		bus:      bus,
		logger:   logger,
	}
}

func (s *PaymentService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// Gateway exposes the active provider for read-only surfaces such as the
// installment quote endpoint.
func (s *PaymentService) Gateway() gateway.Gateway {
	return s.gateway
}

// ProcessCard charges a card for the order. Declines come back as a payment
// row in a declined status with a nil error; only infrastructure problems
// return an error.
func (s *PaymentService) ProcessCard(ctx context.Context, orderID uuid.UUID, card gateway.CardData, installmentQty int) (*models.Payment, error) {
	span := sentry.StartSpan(
		ctx,
		"service.payment.process_card",
		sentry.WithOpName("service.payment"),
		sentry.WithDescription("ProcessCard"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	order, err := s.payableOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if installmentQty < 1 {
		installmentQty = 1
	}

	start := time.Now()
	result := s.gateway.ProcessCard(ctx, order, card)
	s.audit.Record(ctx, paymentlog.Entry{
		Action:        "process_card",
		Status:        string(result.Status),
		Gateway:       s.gateway.Name(),
		OrderID:       &order.ID,
		TransactionID: result.TransactionID,
		Request: map[string]any{
			"amount_cents": order.TotalCents,
			"installments": installmentQty,
			"card_number":  card.Number,
			"cvv":          card.CVV,
			"card_brand":   card.Brand,
		},
		Response:     resultPayload(result),
		ErrorMessage: result.ErrorMessage,
		Duration:     time.Since(start),
	})

	payment := &models.Payment{
		ID:                   uuid.New(),
		OrderID:              order.ID,
		Method:               models.MethodCreditCard,
		Status:               result.Status,
		AmountCents:          order.TotalCents,
		Installments:         installmentQty,
		Gateway:              s.gateway.Name(),
		GatewayTransactionID: result.TransactionID,
		CardBrand:            result.CardBrand,
		CardLastFour:         result.CardLastFour,
		ErrorCode:            result.ErrorCode,
		ErrorMessage:         result.ErrorMessage,
	}
	if result.Status == models.PaymentApproved {
		now := time.Now()
		payment.PaidAt = &now
	}

	if err := s.persistAttempt(ctx, order, payment); err != nil {
		return nil, err
	}

	meter := observability.MeterFromContext(ctx)
	meter.Count("payment.card_processed", 1, sentry.WithAttributes(
		attribute.String("status", string(payment.Status)),
		attribute.String("gateway", payment.Gateway),
	))

	if payment.Status == models.PaymentApproved {
		order.PaymentStatus = models.OrderPaymentPaid
		s.bus.Publish(ctx, events.PaymentConfirmed{Order: order, Payment: payment})
	}
	return payment, nil
}

// GeneratePix creates a pending pix payment with its copy-paste code.
func (s *PaymentService) GeneratePix(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	order, err := s.payableOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	data, result := s.gateway.GeneratePix(ctx, order)
	s.audit.Record(ctx, paymentlog.Entry{
		Action:        "generate_pix",
		Status:        string(result.Status),
		Gateway:       s.gateway.Name(),
		OrderID:       &order.ID,
		TransactionID: result.TransactionID,
		Request:       map[string]any{"amount_cents": order.TotalCents},
		Response:      resultPayload(result),
		ErrorMessage:  result.ErrorMessage,
		Duration:      time.Since(start),
	})
	if !result.Success {
		return nil, fmt.Errorf("gateway refused pix generation: %s", result.ErrorMessage)
	}

	payment := &models.Payment{
		ID:                   uuid.New(),
		OrderID:              order.ID,
		Method:               models.MethodPix,
		Status:               models.PaymentPending,
		AmountCents:          order.TotalCents,
		Installments:         1,
		Gateway:              s.gateway.Name(),
		GatewayTransactionID: data.TransactionID,
		PixCode:              data.Code,
		PixQRCode:            data.QRCodeImage,
	}
	if !data.ExpiresAt.IsZero() {
		expires := data.ExpiresAt
		payment.ExpiresAt = &expires
	}

	if err := s.payments.Create(ctx, nil, payment); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	return payment, nil
}

// GenerateBankSlip creates a pending boleto payment with its barcode and
// download link.
func (s *PaymentService) GenerateBankSlip(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	order, err := s.payableOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	data, result := s.gateway.GenerateBankSlip(ctx, order)
	s.audit.Record(ctx, paymentlog.Entry{
		Action:        "generate_bank_slip",
		Status:        string(result.Status),
		Gateway:       s.gateway.Name(),
		OrderID:       &order.ID,
		TransactionID: result.TransactionID,
		Request:       map[string]any{"amount_cents": order.TotalCents},
		Response:      resultPayload(result),
		ErrorMessage:  result.ErrorMessage,
		Duration:      time.Since(start),
	})
	if !result.Success {
		return nil, fmt.Errorf("gateway refused bank slip generation: %s", result.ErrorMessage)
	}

	payment := &models.Payment{
		ID:                   uuid.New(),
		OrderID:              order.ID,
		Method:               models.MethodBankSlip,
		Status:               models.PaymentPending,
		AmountCents:          order.TotalCents,
		Installments:         1,
		Gateway:              s.gateway.Name(),
		GatewayTransactionID: data.TransactionID,
		BoletoBarcode:        data.Barcode,
		BoletoURL:            data.URL,
	}
	if !data.DueDate.IsZero() {
		due := data.DueDate
		payment.ExpiresAt = &due
	}

	if err := s.payments.Create(ctx, nil, payment); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	return payment, nil
}

// CheckStatus polls the gateway for a pending payment and applies whatever
// it learns under the same rules as a webhook.
func (s *PaymentService) CheckStatus(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	if payment.Status.Terminal() {
		return payment, nil
	}

	start := time.Now()
	status, err := s.gateway.CheckStatus(ctx, payment)
	errorMessage := ""
	if err != nil {
		errorMessage = err.Error()
	}
	s.audit.Record(ctx, paymentlog.Entry{
		Action:        "check_status",
		Status:        string(status),
		Gateway:       s.gateway.Name(),
		OrderID:       &payment.OrderID,
		PaymentID:     &payment.ID,
		TransactionID: payment.GatewayTransactionID,
		Response:      map[string]any{"status": string(status)},
		ErrorMessage:  errorMessage,
		Duration:      time.Since(start),
	})
	if err != nil {
		return nil, fmt.Errorf("gateway status check failed: %w", err)
	}

	if status == payment.Status {
		return payment, nil
	}
	if err := s.ApplyGatewayStatus(ctx, payment, status, nil); err != nil {
		return nil, err
	}
	return s.payments.GetByID(ctx, payment.ID)
}

// Refund returns money on an approved payment. A partial amount leaves the
// payment approved with its refunded balance bumped; refunding the remainder
// flips payment and order to refunded.
func (s *PaymentService) Refund(ctx context.Context, paymentID uuid.UUID, amountCents int64) (*models.Payment, error) {
	span := sentry.StartSpan(
		ctx,
		"service.payment.refund",
		sentry.WithOpName("service.payment"),
		sentry.WithDescription("Refund"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	if !payment.CanBeRefunded() {
		return nil, ErrPaymentNotRefundable
	}

	remaining := payment.RemainingRefundableCents()
	if amountCents <= 0 {
		amountCents = remaining
	}
	if amountCents > remaining {
		return nil, ErrRefundAmountInvalid
	}

	start := time.Now()
	result := s.gateway.Refund(ctx, payment, amountCents)
	s.audit.Record(ctx, paymentlog.Entry{
		Action:        "refund",
		Status:        refundStatusLabel(result.Success),
		Gateway:       s.gateway.Name(),
		OrderID:       &payment.OrderID,
		PaymentID:     &payment.ID,
		TransactionID: payment.GatewayTransactionID,
		Request:       map[string]any{"amount_cents": amountCents},
		Response: map[string]any{
			"refund_id":    result.RefundID,
			"amount_cents": result.AmountCents,
		},
		ErrorMessage: result.ErrorMessage,
		Duration:     time.Since(start),
	})
	if !result.Success {
		return nil, fmt.Errorf("gateway refund failed: %s", result.ErrorMessage)
	}

	full := amountCents == remaining
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if full {
		if err := s.payments.MarkRefunded(ctx, tx, payment.ID); err != nil {
			return nil, fmt.Errorf("failed to mark payment refunded: %w", err)
		}
		if err := s.orders.MarkPaymentRefunded(ctx, tx, payment.OrderID); err != nil && !errors.Is(err, db.ErrInvalidStatusTransition) {
			return nil, fmt.Errorf("failed to mark order refunded: %w", err)
		}
	} else {
		if err := s.payments.ApplyPartialRefund(ctx, tx, payment.ID, amountCents); err != nil {
			return nil, fmt.Errorf("failed to apply partial refund: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit refund: %w", err)
	}

	meter := observability.MeterFromContext(ctx)
	refundKind := "partial"
	if full {
		refundKind = "full"
	}
	meter.Count("payment.refunded", 1, sentry.WithAttributes(
		attribute.String("kind", refundKind),
	))

	return s.payments.GetByID(ctx, payment.ID)
}

// PaymentsForOrder lists attempts newest first.
func (s *PaymentService) PaymentsForOrder(ctx context.Context, orderID uuid.UUID) ([]*models.Payment, error) {
	return s.payments.GetByOrder(ctx, orderID)
}

// ApplyGatewayStatus moves a payment to a gateway-reported status and keeps
// the order in step. Terminal payments never regress; a stale or duplicate
// report is a silent no-op.
func (s *PaymentService) ApplyGatewayStatus(ctx context.Context, payment *models.Payment, status models.PaymentStatus, metadata map[string]any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.payments.GetByIDForUpdate(ctx, tx, payment.ID)
	if err != nil {
		return fmt.Errorf("failed to lock payment: %w", err)
	}
	if current.Status == status {
		return nil
	}
	if current.Status.Terminal() {
		s.loggerFromContext(ctx).Info("ignoring status downgrade for terminal payment",
			"payment_id", current.ID,
			"current", current.Status,
			"reported", status)
		return nil
	}

	switch status {
	case models.PaymentApproved:
		if err := s.payments.MarkApproved(ctx, tx, current.ID); err != nil {
			return fmt.Errorf("failed to approve payment: %w", err)
		}
		if err := s.orders.MarkPaid(ctx, tx, current.OrderID); err != nil && !errors.Is(err, db.ErrInvalidStatusTransition) {
			return fmt.Errorf("failed to mark order paid: %w", err)
		}
	case models.PaymentRefunded:
		if amount, ok := partialRefundAmount(metadata); ok && amount < current.RemainingRefundableCents() {
			if err := s.payments.ApplyPartialRefund(ctx, tx, current.ID, amount); err != nil {
				return fmt.Errorf("failed to apply partial refund: %w", err)
			}
		} else {
			if err := s.payments.MarkRefunded(ctx, tx, current.ID); err != nil {
				return fmt.Errorf("failed to mark payment refunded: %w", err)
			}
			if err := s.orders.MarkPaymentRefunded(ctx, tx, current.OrderID); err != nil && !errors.Is(err, db.ErrInvalidStatusTransition) {
				return fmt.Errorf("failed to mark order refunded: %w", err)
			}
		}
	case models.PaymentDeclined, models.PaymentFailed, models.PaymentCancelled:
		if err := s.payments.ApplyStatus(ctx, tx, current.ID, status, "", ""); err != nil {
			return fmt.Errorf("failed to apply payment status: %w", err)
		}
		if err := s.orders.MarkPaymentFailed(ctx, tx, current.OrderID); err != nil && !errors.Is(err, db.ErrInvalidStatusTransition) {
			return fmt.Errorf("failed to mark order payment failed: %w", err)
		}
	case models.PaymentPending:
		if err := s.payments.ApplyStatus(ctx, tx, current.ID, status, "", ""); err != nil {
			return fmt.Errorf("failed to apply payment status: %w", err)
		}
	default:
		return fmt.Errorf("unknown payment status %q", status)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit status change: %w", err)
	}

	if status == models.PaymentApproved {
		if order, err := s.orders.GetByID(ctx, current.OrderID); err == nil {
			s.bus.Publish(ctx, events.PaymentConfirmed{Order: order, Payment: current})
		}
	}
	return nil
}

// persistAttempt stores a card attempt and syncs the order payment status in
// one transaction.
func (s *PaymentService) persistAttempt(ctx context.Context, order *models.Order, payment *models.Payment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.payments.Create(ctx, tx, payment); err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	switch payment.Status {
	case models.PaymentApproved:
		if err := s.orders.MarkPaid(ctx, tx, order.ID); err != nil {
			return fmt.Errorf("failed to mark order paid: %w", err)
		}
	case models.PaymentDeclined, models.PaymentFailed:
		if err := s.orders.MarkPaymentFailed(ctx, tx, order.ID); err != nil && !errors.Is(err, db.ErrInvalidStatusTransition) {
			return fmt.Errorf("failed to mark order payment failed: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit payment: %w", err)
	}
	return nil
}

func (s *PaymentService) payableOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if s.gateway == nil || !s.gateway.Available() {
		return nil, ErrGatewayUnavailable
	}
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if !order.IsPayable() {
		return nil, ErrOrderNotPayable
	}
	return order, nil
}

func resultPayload(result gateway.PaymentResult) map[string]any {
	return map[string]any{
		"success":        result.Success,
		"status":         string(result.Status),
		"transaction_id": result.TransactionID,
		"error_code":     result.ErrorCode,
	}
}

func refundStatusLabel(success bool) string {
	if success {
		return "refunded"
	}
	return "refund_failed"
}

// partialRefundAmount reads the optional partial amount a webhook can carry.
// JSON decoding may deliver it as float64.
func partialRefundAmount(metadata map[string]any) (int64, bool) {
	raw, ok := metadata["partial_amount"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int64:
		return v, v > 0
	case int:
		return int64(v), v > 0
	case float64:
		return int64(v), v > 0
	default:
		return 0, false
	}
}
