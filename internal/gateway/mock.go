package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vitrineapp/vitrine/internal/crypto"
	"github.com/vitrineapp/vitrine/internal/models"
)

// MockSignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const MockSignatureHeader = "X-Mock-Signature"

// Card tokens recognized by the mock gateway. Any other token, and any raw
// card number, is approved.
const (
	MockTokenApproved     = "tok_approved"
	MockTokenDeclined     = "tok_declined"
	MockTokenPending      = "tok_pending"
	MockTokenInsufficient = "tok_insufficient_funds"
	MockTokenError        = "tok_gateway_error"
)

const (
	mockPixExpiry     = 30 * time.Minute
	mockBankSlipDays  = 3
	mockSlipLinkValid = 7 * 24 * time.Hour
)

// MockConfig configures the deterministic test gateway.
type MockConfig struct {
	WebhookSecret string
	PublicKey     string
	// BaseURL prefixes generated bank slip download links.
	BaseURL string
	// MaxInstallments and InterestFreeUpTo shape the quoted tariff table.
	MaxInstallments  int
	InterestFreeUpTo int
	MonthlyRatePct   float64
}

// Mock is a deterministic in-process gateway. Outcomes are selected by card
// token, transactions are remembered in memory so CheckStatus can answer, and
// webhooks are signed with a shared HMAC secret.
type Mock struct {
	cfg MockConfig

	mu       sync.Mutex
	statuses map[string]models.PaymentStatus
}

func NewMock(cfg MockConfig) *Mock {
	if cfg.MaxInstallments <= 0 {
		cfg.MaxInstallments = 12
	}
	if cfg.InterestFreeUpTo <= 0 {
		cfg.InterestFreeUpTo = 3
	}
	if cfg.MonthlyRatePct <= 0 {
		cfg.MonthlyRatePct = 1.99
	}
	return &Mock{
		cfg:      cfg,
		statuses: make(map[string]models.PaymentStatus),
	}
}

func (m *Mock) Name() string      { return "mock" }
func (m *Mock) Available() bool   { return m.cfg.WebhookSecret != "" }
func (m *Mock) PublicKey() string { return m.cfg.PublicKey }
func (m *Mock) Sandbox() bool     { return true }

func (m *Mock) ProcessCard(ctx context.Context, order *models.Order, card CardData) PaymentResult {
	txID := m.newTransactionID()
	result := PaymentResult{
		Success:       true,
		Status:        models.PaymentApproved,
		TransactionID: txID,
		CardBrand:     card.Brand,
		CardLastFour:  card.LastFour(),
	}

	switch card.Token {
	case MockTokenDeclined:
		result = PaymentResult{
			Status:        models.PaymentDeclined,
			TransactionID: txID,
			ErrorCode:     "card_declined",
			ErrorMessage:  "the card was declined by the issuer",
			CardBrand:     card.Brand,
			CardLastFour:  card.LastFour(),
		}
	case MockTokenInsufficient:
		result = PaymentResult{
			Status:        models.PaymentDeclined,
			TransactionID: txID,
			ErrorCode:     "insufficient_funds",
			ErrorMessage:  "the card has insufficient funds",
			CardBrand:     card.Brand,
			CardLastFour:  card.LastFour(),
		}
	case MockTokenPending:
		result = PaymentResult{
			Status:        models.PaymentPending,
			TransactionID: txID,
			Pending:       true,
			CardBrand:     card.Brand,
			CardLastFour:  card.LastFour(),
		}
	case MockTokenError:
		return FailedResult(ErrCodeGatewayError, "simulated gateway outage")
	}

	m.remember(txID, result.Status)
	return result
}

func (m *Mock) GeneratePix(ctx context.Context, order *models.Order) (PixData, PaymentResult) {
	txID := m.newTransactionID()
	m.remember(txID, models.PaymentPending)

	code := fmt.Sprintf("00020126vitrine%s5204000053039865802BR", strings.ReplaceAll(uuid.NewString(), "-", ""))
	return PixData{
			TransactionID: txID,
			Code:          code,
			QRCodeImage:   "data:image/png;base64,",
			ExpiresAt:     time.Now().Add(mockPixExpiry),
		}, PaymentResult{
			Success:       true,
			Status:        models.PaymentPending,
			TransactionID: txID,
			Pending:       true,
		}
}

func (m *Mock) GenerateBankSlip(ctx context.Context, order *models.Order) (BankSlipData, PaymentResult) {
	txID := m.newTransactionID()
	m.remember(txID, models.PaymentPending)

	dueDate := time.Now().AddDate(0, 0, mockBankSlipDays)
	url, err := m.slipURL(txID)
	if err != nil {
		return BankSlipData{}, FailedResult(ErrCodeGatewayError, fmt.Sprintf("failed to sign bank slip link: %v", err))
	}
	return BankSlipData{
			TransactionID: txID,
			Barcode:       fmt.Sprintf("23790%05d90000%014d", order.TotalCents%100000, order.TotalCents),
			URL:           url,
			DueDate:       dueDate,
		}, PaymentResult{
			Success:       true,
			Status:        models.PaymentPending,
			TransactionID: txID,
			Pending:       true,
		}
}

// slipURL signs a short-lived download link so slips cannot be enumerated by
// transaction id.
func (m *Mock) slipURL(txID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": txID,
		"exp": time.Now().Add(mockSlipLinkValid).Unix(),
		"iat": time.Now().Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.cfg.WebhookSecret))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/mock/bank-slips/%s?token=%s", strings.TrimRight(m.cfg.BaseURL, "/"), txID, token), nil
}

// VerifySlipToken checks a bank slip download token and returns the
// transaction id it was issued for.
func (m *Mock) VerifySlipToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return []byte(m.cfg.WebhookSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid bank slip token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid bank slip token claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("bank slip token missing subject")
	}
	return sub, nil
}

func (m *Mock) CheckStatus(ctx context.Context, payment *models.Payment) (models.PaymentStatus, error) {
	if payment.GatewayTransactionID == "" {
		return payment.Status, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if status, ok := m.statuses[payment.GatewayTransactionID]; ok {
		return status, nil
	}
	return payment.Status, nil
}

func (m *Mock) Refund(ctx context.Context, payment *models.Payment, amountCents int64) RefundResult {
	if payment.Status != models.PaymentApproved {
		return RefundResult{
			ErrorCode:    "not_refundable",
			ErrorMessage: fmt.Sprintf("payment in status %q cannot be refunded", payment.Status),
		}
	}
	if amountCents >= payment.RemainingRefundableCents() {
		m.remember(payment.GatewayTransactionID, models.PaymentRefunded)
	}
	return RefundResult{
		Success:     true,
		RefundID:    "re_" + m.newTransactionID(),
		AmountCents: amountCents,
	}
}

type mockWebhookPayload struct {
	ID            string         `json:"id"`
	TransactionID string         `json:"transaction_id"`
	Status        string         `json:"status"`
	Metadata      map[string]any `json:"metadata"`
}

func (m *Mock) ParseWebhook(r *http.Request, body []byte) (WebhookEvent, error) {
	signature := r.Header.Get(MockSignatureHeader)
	if !crypto.VerifySignature(m.cfg.WebhookSecret, body, signature) {
		return WebhookEvent{}, ErrInvalidSignature
	}

	var payload mockWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload.TransactionID == "" {
		return WebhookEvent{}, ErrMissingTransaction
	}
	if payload.ID == "" {
		return WebhookEvent{}, fmt.Errorf("%w: missing event id", ErrInvalidPayload)
	}

	status := mockStatus(payload.Status)
	m.remember(payload.TransactionID, status)
	return WebhookEvent{
		EventID:       payload.ID,
		TransactionID: payload.TransactionID,
		Status:        status,
		Metadata:      payload.Metadata,
	}, nil
}

func (m *Mock) InstallmentRates(ctx context.Context, amountCents int64, cardBrand string) ([]InstallmentRate, error) {
	rates := make([]InstallmentRate, 0, m.cfg.MaxInstallments)
	for q := 1; q <= m.cfg.MaxInstallments; q++ {
		rate := m.cfg.MonthlyRatePct
		if q <= m.cfg.InterestFreeUpTo {
			rate = 0
		}
		rates = append(rates, InstallmentRate{Quantity: q, MonthlyRatePct: rate})
	}
	return rates, nil
}

// SignWebhook produces the signature header value for a webhook body, for
// callers that simulate deliveries against this gateway.
func (m *Mock) SignWebhook(body []byte) (string, error) {
	return crypto.SignPayload(m.cfg.WebhookSecret, body)
}

func (m *Mock) newTransactionID() string {
	return "mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (m *Mock) remember(txID string, status models.PaymentStatus) {
	if txID == "" {
		return
	}
	m.mu.Lock()
	m.statuses[txID] = status
	m.mu.Unlock()
}

// mockStatus maps the mock wire vocabulary onto canonical statuses. Unknown
// values fail closed.
func mockStatus(s string) models.PaymentStatus {
	switch strings.ToLower(s) {
	case "approved", "paid":
		return models.PaymentApproved
	case "pending", "processing":
		return models.PaymentPending
	case "declined":
		return models.PaymentDeclined
	case "cancelled", "expired":
		return models.PaymentCancelled
	case "refunded":
		return models.PaymentRefunded
	default:
		return models.PaymentFailed
	}
}
