package models

import (
	"time"

	"github.com/google/uuid"
)

type PaymentMethod string

const (
	MethodCreditCard PaymentMethod = "credit_card"
	MethodPix        PaymentMethod = "pix"
	MethodBankSlip   PaymentMethod = "bank_slip"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentApproved  PaymentStatus = "approved"
	PaymentDeclined  PaymentStatus = "declined"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Terminal reports whether the status admits no further automatic
// transition. Declined and failed payments stay non-terminal so a later
// gateway confirmation can still land.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentApproved, PaymentRefunded, PaymentCancelled:
		return true
	default:
		return false
	}
}

// Payment is one gateway attempt against an order. Retries create new rows;
// an existing row is only updated by status checks and webhooks.
type Payment struct {
	ID      uuid.UUID     `json:"id"`
	OrderID uuid.UUID     `json:"order_id"`
	Method  PaymentMethod `json:"method"`
	Status  PaymentStatus `json:"status"`

	AmountCents  int64 `json:"amount_cents"`
	Installments int   `json:"installments"`

	Gateway              string `json:"gateway"`
	GatewayTransactionID string `json:"gateway_transaction_id"`

	CardBrand    string `json:"card_brand,omitempty"`
	CardLastFour string `json:"card_last_four,omitempty"`

	PixCode   string `json:"pix_code,omitempty"`
	PixQRCode string `json:"pix_qr_code,omitempty"`

	BoletoBarcode string `json:"boleto_barcode,omitempty"`
	BoletoURL     string `json:"boleto_url,omitempty"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	RefundedAmountCents int64      `json:"refunded_amount_cents"`
	RefundedAt          *time.Time `json:"refunded_at,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	PaidAt    *time.Time `json:"paid_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CanBeRefunded reports whether any amount can still be returned.
func (p *Payment) CanBeRefunded() bool {
	if p.Status != PaymentApproved {
		return false
	}
	return p.RefundedAmountCents < p.AmountCents
}

// RemainingRefundableCents is the amount not yet refunded.
func (p *Payment) RemainingRefundableCents() int64 {
	remaining := p.AmountCents - p.RefundedAmountCents
	if remaining < 0 {
		return 0
	}
	return remaining
}
