package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vitrineapp/vitrine/internal/gateway"
	"github.com/vitrineapp/vitrine/internal/services"
)

// GatewayWebhook receives asynchronous payment notifications. Unknown
// transactions are acknowledged with 200 so the sender stops retrying;
// bad signatures and malformed payloads are rejected without mutation.
func (h *Handlers) GatewayWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)
	gatewayName := mux.Vars(r)["gateway"]

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("failed to read webhook body", "error", err, "gateway", gatewayName)
		http.Error(w, "Invalid webhook", http.StatusBadRequest)
		return
	}

	err = h.webhookService.Handle(ctx, gatewayName, r, body)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, services.ErrUnknownGateway):
		http.Error(w, "Unknown gateway", http.StatusNotFound)
	case errors.Is(err, gateway.ErrInvalidSignature):
		logger.Warn("webhook signature verification failed", "gateway", gatewayName)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
	case errors.Is(err, gateway.ErrInvalidPayload), errors.Is(err, gateway.ErrMissingTransaction):
		logger.Warn("malformed webhook payload", "gateway", gatewayName, "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
	case errors.Is(err, services.ErrUnknownTransaction):
		// Acknowledge so the gateway stops redelivering.
		w.WriteHeader(http.StatusOK)
	default:
		logger.Error("failed to process webhook", "gateway", gatewayName, "error", err)
		http.Error(w, "Processing failed", http.StatusInternalServerError)
	}
}
