package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitrineapp/vitrine/internal/config"
	"github.com/vitrineapp/vitrine/internal/installments"
	"github.com/vitrineapp/vitrine/internal/logging"
	"github.com/vitrineapp/vitrine/internal/paymentlog"
	"github.com/vitrineapp/vitrine/internal/services"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MB

// Handlers provides the HTTP surface of the checkout and payment API.
type Handlers struct {
	config             *config.Config
	db                 *pgxpool.Pool
	checkoutService    *services.CheckoutService
	orderService       *services.OrderService
	paymentService     *services.PaymentService
	webhookService     *services.WebhookService
	installmentService *installments.Service
	auditService       *paymentlog.Service
	webhookLimiter     *ipRateLimiter
	logger             *slog.Logger
}

type Dependencies struct {
	Config             *config.Config
	DB                 *pgxpool.Pool
	CheckoutService    *services.CheckoutService
	OrderService       *services.OrderService
	PaymentService     *services.PaymentService
	WebhookService     *services.WebhookService
	InstallmentService *installments.Service
	AuditService       *paymentlog.Service
	Logger             *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("handlers dependencies: db is required")
	}
	if deps.CheckoutService == nil {
		return nil, fmt.Errorf("handlers dependencies: checkoutService is required")
	}
	if deps.OrderService == nil {
		return nil, fmt.Errorf("handlers dependencies: orderService is required")
	}
	if deps.PaymentService == nil {
		return nil, fmt.Errorf("handlers dependencies: paymentService is required")
	}
	if deps.WebhookService == nil {
		return nil, fmt.Errorf("handlers dependencies: webhookService is required")
	}
	if deps.InstallmentService == nil {
		return nil, fmt.Errorf("handlers dependencies: installmentService is required")
	}
	if deps.AuditService == nil {
		return nil, fmt.Errorf("handlers dependencies: auditService is required")
	}

	return &Handlers{
		config:             deps.Config,
		db:                 deps.DB,
		checkoutService:    deps.CheckoutService,
		orderService:       deps.OrderService,
		paymentService:     deps.PaymentService,
		webhookService:     deps.WebhookService,
		installmentService: deps.InstallmentService,
		auditService:       deps.AuditService,
		webhookLimiter:     newIPRateLimiter(deps.Config.WebhookRateLimitRPS, deps.Config.WebhookRateLimitBurst),
		logger:             logger.With("component", "handlers"),
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if err := h.db.Ping(ctx); err != nil {
		logger.Error("database health check failed", "error", err)
		http.Error(w, "Database unhealthy", http.StatusServiceUnavailable)
		return
	}

	h.respondJSON(w, r, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, r, http.StatusOK, map[string]string{
		"service": "vitrine",
		"gateway": h.paymentService.Gateway().Name(),
	})
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.loggerFromContext(r.Context()).Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.respondJSON(w, r, status, map[string]string{"error": message})
}

// decodeJSON rejects unknown fields so client typos fail loudly instead of
// silently dropping input.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
