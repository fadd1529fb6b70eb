package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/vitrineapp/vitrine/internal/cache"
	"github.com/vitrineapp/vitrine/internal/db"
	"github.com/vitrineapp/vitrine/internal/gateway"
	"github.com/vitrineapp/vitrine/internal/logging"
	"github.com/vitrineapp/vitrine/internal/models"
	"github.com/vitrineapp/vitrine/internal/observability"
	"github.com/vitrineapp/vitrine/internal/paymentlog"
)

// Dedupe entries outlive any realistic redelivery window.
const webhookDedupeTTL = 24 * time.Hour

var (
	ErrUnknownGateway     = errors.New("unknown payment gateway")
	ErrUnknownTransaction = errors.New("webhook references an unknown transaction")
)

type webhookPaymentStore interface {
	GetByTransactionID(ctx context.Context, gatewayName, transactionID string) (*models.Payment, error)
}

type statusApplier interface {
	ApplyGatewayStatus(ctx context.Context, payment *models.Payment, status models.PaymentStatus, metadata map[string]any) error
}

// WebhookService reconciles asynchronous gateway notifications. Processing
// is idempotent: an event id that was already handled is acknowledged
// without touching the database again.
type WebhookService struct {
	registry      *gateway.Registry
	payments      webhookPaymentStore
	applier       statusApplier
	cacheProvider cache.Provider
	audit         auditLog
	logger        *slog.Logger
}

func NewWebhookService(
	registry *gateway.Registry,
	payments webhookPaymentStore,
	applier statusApplier,
	cacheProvider cache.Provider,
	audit auditLog,
	logger *slog.Logger,
) *WebhookService {
	return &WebhookService{
		registry:      registry,
		payments:      payments,
		applier:       applier,
		cacheProvider: cacheProvider,
		audit:         audit,
		logger:        logger,
	}
}

func (s *WebhookService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// Handle verifies, dedupes and applies one webhook delivery. Signature and
// payload errors pass through for the handler to map onto HTTP statuses.
func (s *WebhookService) Handle(ctx context.Context, gatewayName string, r *http.Request, body []byte) error {
	span := sentry.StartSpan(
		ctx,
		"service.webhook.handle",
		sentry.WithOpName("service.webhook"),
		sentry.WithDescription("Handle"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	gw, ok := s.registry.Get(gatewayName)
	if !ok {
		return ErrUnknownGateway
	}

	event, err := gw.ParseWebhook(r, body)
	if err != nil {
		return err
	}

	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(
		attribute.String("webhook.gateway", gatewayName),
		attribute.String("webhook.status", string(event.Status)),
	)
	meter.Count("webhook.received", 1)

	logger := s.loggerFromContext(ctx).With(
		"gateway", gatewayName,
		"event_id", event.EventID,
		"transaction_id", event.TransactionID)

	dedupeKey := cache.WebhookKey(gatewayName, event.EventID)
	if s.cacheProvider != nil {
		if _, err := s.cacheProvider.Get(ctx, dedupeKey); err == nil {
			logger.Info("skipping duplicate webhook delivery")
			meter.Count("webhook.duplicate", 1)
			return nil
		}
	}

	payment, err := s.payments.GetByTransactionID(ctx, gatewayName, event.TransactionID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			logger.Warn("webhook for unknown transaction")
			meter.Count("webhook.unknown_transaction", 1)
			return ErrUnknownTransaction
		}
		return fmt.Errorf("failed to load payment: %w", err)
	}

	start := time.Now()
	applyErr := s.applier.ApplyGatewayStatus(ctx, payment, event.Status, event.Metadata)
	errorMessage := ""
	if applyErr != nil {
		errorMessage = applyErr.Error()
	}
	s.audit.Record(ctx, paymentlog.Entry{
		Action:        "webhook",
		Status:        string(event.Status),
		Gateway:       gatewayName,
		OrderID:       &payment.OrderID,
		PaymentID:     &payment.ID,
		TransactionID: event.TransactionID,
		Request: map[string]any{
			"event_id": event.EventID,
			"metadata": event.Metadata,
		},
		ErrorMessage: errorMessage,
		Duration:     time.Since(start),
	})
	if applyErr != nil {
		return fmt.Errorf("failed to apply webhook status: %w", applyErr)
	}

	if s.cacheProvider != nil {
		if err := s.cacheProvider.Set(ctx, dedupeKey, "1", webhookDedupeTTL); err != nil {
			logger.Warn("failed to store webhook dedupe key", "error", err)
		}
	}

	meter.Count("webhook.processed", 1)
	logger.Info("webhook applied", "status", event.Status)
	return nil
}
