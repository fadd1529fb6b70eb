package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/vitrineapp/vitrine/internal/models"
	"github.com/vitrineapp/vitrine/internal/services"
)

type checkoutRequest struct {
	CartID uuid.UUID  `json:"cart_id"`
	UserID *uuid.UUID `json:"user_id,omitempty"`

	GuestName  string `json:"guest_name,omitempty"`
	GuestEmail string `json:"guest_email,omitempty"`
	GuestCPF   string `json:"guest_cpf,omitempty"`
	GuestPhone string `json:"guest_phone,omitempty"`

	ShippingAddress models.Address        `json:"shipping_address"`
	Shipping        models.ShippingOption `json:"shipping"`
	DiscountCents   int64                 `json:"discount_cents,omitempty"`

	// Payment, when present, runs the first payment attempt in the same
	// call. Omitting it leaves the order awaiting a separate payment
	// request.
	Payment *checkoutPaymentRequest `json:"payment,omitempty"`
}

type checkoutPaymentRequest struct {
	Method       string       `json:"method"`
	Card         *cardRequest `json:"card,omitempty"`
	Installments int          `json:"installments,omitempty"`
}

type checkoutResponse struct {
	Order *models.Order `json:"order"`

	// AccessToken is returned once at creation for guest orders; the order
	// payload itself never serializes it.
	AccessToken string `json:"access_token,omitempty"`

	Payment *models.Payment `json:"payment,omitempty"`

	// PaymentError reports an attempt that could not run after the order
	// was committed; the client retries through the payments API.
	PaymentError string `json:"payment_error,omitempty"`
}

// Checkout converts a cart into an order, optionally paying for it in the
// same call.
func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.CartID == uuid.Nil {
		h.respondError(w, r, http.StatusBadRequest, "cart_id is required")
		return
	}

	input := services.CheckoutInput{
		CartID:          req.CartID,
		UserID:          req.UserID,
		GuestName:       req.GuestName,
		GuestEmail:      req.GuestEmail,
		GuestCPF:        req.GuestCPF,
		GuestPhone:      req.GuestPhone,
		ShippingAddress: req.ShippingAddress,
		Shipping:        req.Shipping,
		DiscountCents:   req.DiscountCents,
	}
	if req.Payment != nil {
		input.PaymentMethod = models.PaymentMethod(req.Payment.Method)
		input.Installments = req.Payment.Installments
		if req.Payment.Card != nil {
			card := req.Payment.Card.toCardData()
			input.Card = &card
		}
	}

	result, err := h.checkoutService.CompleteCheckout(r.Context(), input)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrCartNotFound):
		h.respondError(w, r, http.StatusNotFound, "cart not found")
		return
	case errors.Is(err, services.ErrCartNotActive):
		h.respondError(w, r, http.StatusConflict, "cart was already converted or abandoned")
		return
	case errors.Is(err, services.ErrEmptyCart),
		errors.Is(err, services.ErrGuestInfoRequired),
		errors.Is(err, services.ErrAddressIncomplete),
		errors.Is(err, services.ErrCardDataRequired),
		errors.Is(err, services.ErrUnsupportedPayment):
		h.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	default:
		h.loggerFromContext(r.Context()).Error("checkout failed", "error", err, "cart_id", req.CartID)
		h.respondError(w, r, http.StatusInternalServerError, "checkout failed")
		return
	}

	resp := checkoutResponse{
		Order:       result.Order,
		AccessToken: result.Order.AccessToken,
		Payment:     result.Payment,
	}
	if result.PaymentErr != nil {
		if errors.Is(result.PaymentErr, services.ErrGatewayUnavailable) {
			resp.PaymentError = "payment gateway is not configured"
		} else {
			resp.PaymentError = "payment attempt failed, retry via the payments API"
		}
	}
	h.respondJSON(w, r, http.StatusCreated, resp)
}
