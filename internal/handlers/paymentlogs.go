package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vitrineapp/vitrine/internal/db"
	"github.com/vitrineapp/vitrine/internal/models"
)

const (
	defaultLogSearchLimit = 50
	maxLogSearchLimit     = 500
)

// ListPaymentAuditLog returns the redacted gateway interaction history for a
// payment, newest first.
func (h *Handlers) ListPaymentAuditLog(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	logs, err := h.auditService.ForPayment(r.Context(), paymentID)
	if err != nil {
		h.loggerFromContext(r.Context()).Error("failed to list payment logs", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "failed to list payment logs")
		return
	}
	if logs == nil {
		logs = []*models.PaymentLog{}
	}
	h.respondJSON(w, r, http.StatusOK, logs)
}

// ListOrderAuditLog returns the redacted gateway interaction history for
// every payment attempt on an order, newest first.
func (h *Handlers) ListOrderAuditLog(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	logs, err := h.auditService.ForOrder(r.Context(), orderID)
	if err != nil {
		h.loggerFromContext(r.Context()).Error("failed to list order logs", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "failed to list order logs")
		return
	}
	if logs == nil {
		logs = []*models.PaymentLog{}
	}
	h.respondJSON(w, r, http.StatusOK, logs)
}

// SearchPaymentLogs filters the audit trail by gateway, action, status,
// transaction id substring and time window.
func (h *Handlers) SearchPaymentLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := db.LogFilter{
		Gateway:          strings.TrimSpace(q.Get("gateway")),
		Action:           strings.TrimSpace(q.Get("action")),
		Status:           strings.TrimSpace(q.Get("status")),
		TransactionIDSub: strings.TrimSpace(q.Get("transaction_id")),
		Limit:            defaultLogSearchLimit,
	}

	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.respondError(w, r, http.StatusBadRequest, "from must be an RFC 3339 timestamp")
			return
		}
		filter.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.respondError(w, r, http.StatusBadRequest, "to must be an RFC 3339 timestamp")
			return
		}
		filter.To = to
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxLogSearchLimit {
			h.respondError(w, r, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		filter.Limit = limit
	}

	logs, err := h.auditService.Search(r.Context(), filter)
	if err != nil {
		h.loggerFromContext(r.Context()).Error("failed to search payment logs", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "failed to search payment logs")
		return
	}
	if logs == nil {
		logs = []*models.PaymentLog{}
	}
	h.respondJSON(w, r, http.StatusOK, logs)
}
