package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vitrineapp/vitrine/internal/config"
	"github.com/vitrineapp/vitrine/internal/handlers"
)

type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	handlers   *handlers.Handlers
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger, h *handlers.Handlers) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handlers are required")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: h,
	}

	router := s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

func (s *Server) Run() error {
	s.logger.Info("server starting", "port", s.cfg.Port)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) buildRouter() *mux.Router {
	h := s.handlers

	r := mux.NewRouter()
	r.Use(h.RequestLogger)
	r.Use(h.MetricsContext)
	r.Use(h.SecurityHeaders)
	r.HandleFunc("/", h.Root).Methods("GET").Name("root")
	r.HandleFunc("/health", h.Health).Methods("GET").Name("health")

	webhookRouter := r.PathPrefix("/webhooks").Subrouter()
	webhookRouter.Use(h.WebhookRateLimit)
	webhookRouter.HandleFunc("/{gateway}", h.GatewayWebhook).Methods("POST").Name("webhooks.gateway")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/installments", h.InstallmentQuote).Methods("GET").Name("api.installments")
	api.HandleFunc("/checkout", h.Checkout).Methods("POST").Name("api.checkout")
	api.HandleFunc("/orders/{number}", h.GetOrder).Methods("GET").Name("api.orders.get")
	api.HandleFunc("/orders/{id}/payments", h.CreatePayment).Methods("POST").Name("api.orders.payments.create")
	api.HandleFunc("/orders/{id}/payments", h.ListOrderPayments).Methods("GET").Name("api.orders.payments.list")
	api.HandleFunc("/orders/{id}/processing", h.MarkOrderProcessing).Methods("POST").Name("api.orders.processing")
	api.HandleFunc("/orders/{id}/ship", h.ShipOrder).Methods("POST").Name("api.orders.ship")
	api.HandleFunc("/orders/{id}/complete", h.CompleteOrder).Methods("POST").Name("api.orders.complete")
	api.HandleFunc("/orders/{id}/cancel", h.CancelOrder).Methods("POST").Name("api.orders.cancel")
	api.HandleFunc("/orders/{id}/refund", h.RefundOrder).Methods("POST").Name("api.orders.refund")
	api.HandleFunc("/orders/{id}/logs", h.ListOrderAuditLog).Methods("GET").Name("api.orders.logs")
	api.HandleFunc("/payments/{id}", h.GetPayment).Methods("GET").Name("api.payments.get")
	api.HandleFunc("/payments/{id}/refund", h.RefundPayment).Methods("POST").Name("api.payments.refund")
	api.HandleFunc("/payments/{id}/logs", h.ListPaymentAuditLog).Methods("GET").Name("api.payments.logs")
	api.HandleFunc("/payment-logs", h.SearchPaymentLogs).Methods("GET").Name("api.paymentlogs.search")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})

	return r
}
