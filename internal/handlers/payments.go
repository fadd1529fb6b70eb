package handlers

import (
	"errors"
	"net/http"

	"github.com/vitrineapp/vitrine/internal/gateway"
	"github.com/vitrineapp/vitrine/internal/models"
	"github.com/vitrineapp/vitrine/internal/services"
)

type createPaymentRequest struct {
	Method string `json:"method"`

	// Card fields are used only when method is credit_card. The number and
	// cvv never reach storage unredacted; see the payment audit log.
	Card         *cardRequest `json:"card,omitempty"`
	Installments int          `json:"installments,omitempty"`
}

type cardRequest struct {
	Number     string `json:"number,omitempty"`
	HolderName string `json:"holder_name,omitempty"`
	ExpMonth   int    `json:"exp_month,omitempty"`
	ExpYear    int    `json:"exp_year,omitempty"`
	CVV        string `json:"cvv,omitempty"`
	Brand      string `json:"brand,omitempty"`
	Token      string `json:"token,omitempty"`
}

func (c *cardRequest) toCardData() gateway.CardData {
	return gateway.CardData{
		Number:     c.Number,
		HolderName: c.HolderName,
		ExpMonth:   c.ExpMonth,
		ExpYear:    c.ExpYear,
		CVV:        c.CVV,
		Brand:      c.Brand,
		Token:      c.Token,
	}
}

// CreatePayment starts a payment attempt for an order. Card payments settle
// synchronously; pix and bank slip come back pending until the gateway
// notifies us.
func (h *Handlers) CreatePayment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req createPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var payment *models.Payment
	var err error
	switch models.PaymentMethod(req.Method) {
	case models.MethodCreditCard:
		if req.Card == nil {
			h.respondError(w, r, http.StatusBadRequest, "card is required for credit_card payments")
			return
		}
		payment, err = h.paymentService.ProcessCard(r.Context(), orderID, req.Card.toCardData(), req.Installments)
	case models.MethodPix:
		payment, err = h.paymentService.GeneratePix(r.Context(), orderID)
	case models.MethodBankSlip:
		payment, err = h.paymentService.GenerateBankSlip(r.Context(), orderID)
	default:
		h.respondError(w, r, http.StatusBadRequest, "method must be one of credit_card, pix, bank_slip")
		return
	}

	switch {
	case err == nil:
		h.respondJSON(w, r, http.StatusCreated, payment)
	case errors.Is(err, services.ErrOrderNotFound):
		h.respondError(w, r, http.StatusNotFound, "order not found")
	case errors.Is(err, services.ErrOrderNotPayable):
		h.respondError(w, r, http.StatusConflict, "order cannot accept a new payment")
	case errors.Is(err, services.ErrGatewayUnavailable):
		h.respondError(w, r, http.StatusServiceUnavailable, "payment gateway is not configured")
	default:
		h.loggerFromContext(r.Context()).Error("payment failed", "error", err, "order_id", orderID)
		h.respondError(w, r, http.StatusInternalServerError, "payment failed")
	}
}

// GetPayment refreshes a pending payment against the gateway and returns
// the current row.
func (h *Handlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	payment, err := h.paymentService.CheckStatus(r.Context(), paymentID)
	switch {
	case err == nil:
		h.respondJSON(w, r, http.StatusOK, payment)
	case errors.Is(err, services.ErrPaymentNotFound):
		h.respondError(w, r, http.StatusNotFound, "payment not found")
	default:
		h.loggerFromContext(r.Context()).Error("payment status check failed", "error", err, "payment_id", paymentID)
		h.respondError(w, r, http.StatusInternalServerError, "status check failed")
	}
}

type refundRequest struct {
	// AmountCents of zero refunds the full remaining balance.
	AmountCents int64 `json:"amount_cents,omitempty"`
}

func (h *Handlers) RefundPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	payment, err := h.paymentService.Refund(r.Context(), paymentID, req.AmountCents)
	switch {
	case err == nil:
		h.respondJSON(w, r, http.StatusOK, payment)
	case errors.Is(err, services.ErrPaymentNotFound):
		h.respondError(w, r, http.StatusNotFound, "payment not found")
	case errors.Is(err, services.ErrPaymentNotRefundable):
		h.respondError(w, r, http.StatusConflict, "payment cannot be refunded")
	case errors.Is(err, services.ErrRefundAmountInvalid):
		h.respondError(w, r, http.StatusBadRequest, "amount exceeds the refundable balance")
	default:
		h.loggerFromContext(r.Context()).Error("refund failed", "error", err, "payment_id", paymentID)
		h.respondError(w, r, http.StatusInternalServerError, "refund failed")
	}
}
