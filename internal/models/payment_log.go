package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentLog is one append-only audit row per gateway interaction. Payloads
// are stored after redaction; rows are purged by the retention job only.
type PaymentLog struct {
	ID            uuid.UUID      `json:"id"`
	Action        string         `json:"action"`
	Status        string         `json:"status"`
	Gateway       string         `json:"gateway"`
	OrderID       *uuid.UUID     `json:"order_id,omitempty"`
	PaymentID     *uuid.UUID     `json:"payment_id,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Request       map[string]any `json:"request,omitempty"`
	Response      map[string]any `json:"response,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	DurationMs    int64          `json:"duration_ms"`
	CreatedAt     time.Time      `json:"created_at"`
}
