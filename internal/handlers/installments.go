package handlers

import (
	"net/http"
	"strconv"
	"strings"
)

// minQuoteAmountCents rejects quotes below one real; nothing in the store
// sells for less.
const minQuoteAmountCents = 100

// InstallmentQuote returns the available installment plans for an amount.
// Results are cached per (amount, brand) inside the service.
func (h *Handlers) InstallmentQuote(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	rawAmount := strings.TrimSpace(query.Get("amount"))
	if rawAmount == "" {
		h.respondError(w, r, http.StatusBadRequest, "amount is required")
		return
	}
	amount, err := strconv.ParseInt(rawAmount, 10, 64)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "amount must be an integer in centavos")
		return
	}
	if amount < minQuoteAmountCents {
		h.respondError(w, r, http.StatusBadRequest, "amount is below the minimum")
		return
	}

	cardBrand := strings.ToLower(strings.TrimSpace(query.Get("card_brand")))
	plans := h.installmentService.Quote(r.Context(), amount, cardBrand)
	h.respondJSON(w, r, http.StatusOK, plans)
}
