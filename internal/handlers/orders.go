package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/vitrineapp/vitrine/internal/models"
	"github.com/vitrineapp/vitrine/internal/services"
)

// GetOrder looks an order up by its public number. Guest orders additionally
// require the access token handed out at checkout.
func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderNumber := mux.Vars(r)["number"]

	order, err := h.orderService.GetByOrderNumber(r.Context(), orderNumber)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			h.respondError(w, r, http.StatusNotFound, "order not found")
			return
		}
		h.loggerFromContext(r.Context()).Error("failed to load order", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "failed to load order")
		return
	}

	if order.AccessToken != "" {
		token := strings.TrimSpace(r.URL.Query().Get("access_token"))
		if subtle.ConstantTimeCompare([]byte(token), []byte(order.AccessToken)) != 1 {
			// Not 401: do not reveal that the order number exists.
			h.respondError(w, r, http.StatusNotFound, "order not found")
			return
		}
	}

	h.respondJSON(w, r, http.StatusOK, order)
}

// ListOrderPayments returns every payment attempt for an order, newest first.
func (h *Handlers) ListOrderPayments(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	if _, err := h.orderService.GetByID(r.Context(), orderID); err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			h.respondError(w, r, http.StatusNotFound, "order not found")
			return
		}
		h.loggerFromContext(r.Context()).Error("failed to load order", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "failed to load order")
		return
	}

	payments, err := h.paymentService.PaymentsForOrder(r.Context(), orderID)
	if err != nil {
		h.loggerFromContext(r.Context()).Error("failed to list payments", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "failed to list payments")
		return
	}
	if payments == nil {
		payments = []*models.Payment{}
	}
	h.respondJSON(w, r, http.StatusOK, payments)
}

type shipOrderRequest struct {
	TrackingNumber string `json:"tracking_number"`
}

func (h *Handlers) MarkOrderProcessing(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, func(orderID uuid.UUID) (*models.Order, error) {
		return h.orderService.MarkProcessing(r.Context(), orderID)
	})
}

func (h *Handlers) ShipOrder(w http.ResponseWriter, r *http.Request) {
	var req shipOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	h.transitionOrder(w, r, func(orderID uuid.UUID) (*models.Order, error) {
		return h.orderService.Ship(r.Context(), orderID, req.TrackingNumber)
	})
}

func (h *Handlers) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, func(orderID uuid.UUID) (*models.Order, error) {
		return h.orderService.Complete(r.Context(), orderID)
	})
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, func(orderID uuid.UUID) (*models.Order, error) {
		return h.orderService.Cancel(r.Context(), orderID)
	})
}

func (h *Handlers) RefundOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, func(orderID uuid.UUID) (*models.Order, error) {
		return h.orderService.MarkRefunded(r.Context(), orderID)
	})
}

func (h *Handlers) transitionOrder(w http.ResponseWriter, r *http.Request, apply func(uuid.UUID) (*models.Order, error)) {
	orderID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	order, err := apply(orderID)
	switch {
	case err == nil:
		h.respondJSON(w, r, http.StatusOK, order)
	case errors.Is(err, services.ErrOrderNotFound):
		h.respondError(w, r, http.StatusNotFound, "order not found")
	case errors.Is(err, services.ErrTrackingRequired):
		h.respondError(w, r, http.StatusBadRequest, "tracking_number is required")
	case errors.Is(err, services.ErrInvalidTransition):
		h.respondError(w, r, http.StatusConflict, err.Error())
	default:
		h.loggerFromContext(r.Context()).Error("order transition failed", "error", err, "order_id", orderID)
		h.respondError(w, r, http.StatusInternalServerError, "order transition failed")
	}
}

func (h *Handlers) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
