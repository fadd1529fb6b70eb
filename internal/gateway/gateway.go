// Package gateway abstracts external payment providers behind a single
// capability interface with a canonical status vocabulary.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/vitrineapp/vitrine/internal/models"
)

// Webhook parse failures map onto HTTP statuses at the handler: signature
// problems reject with 401, payload problems with 400.
var (
	ErrInvalidSignature   = errors.New("webhook signature invalid or missing")
	ErrInvalidPayload     = errors.New("webhook payload malformed")
	ErrMissingTransaction = errors.New("webhook payload missing transaction id")
)

// CardData is the raw card input for a charge. It must never be persisted;
// only brand and last four digits survive into the Payment row.
type CardData struct {
	Number       string
	HolderName   string
	ExpMonth     int
	ExpYear      int
	CVV          string
	Brand        string
	Installments int
	// Token is a gateway-issued single-use token. When set, gateways charge
	// the token instead of the PAN.
	Token string
}

// LastFour returns the trailing digits used for receipts and audit rows.
func (c CardData) LastFour() string {
	if len(c.Number) < 4 {
		return ""
	}
	return c.Number[len(c.Number)-4:]
}

// PaymentResult is the uniform outcome of a charge attempt. Gateways convert
// every transport or vendor failure into a result; they never panic or return
// raw HTTP errors to callers.
type PaymentResult struct {
	Success       bool
	Status        models.PaymentStatus
	TransactionID string
	ErrorCode     string
	ErrorMessage  string
	Pending       bool
	CardBrand     string
	CardLastFour  string
	Metadata      map[string]any
}

// ErrCodeGatewayError is the stable error code for transport-level failures.
const ErrCodeGatewayError = "gateway_error"

// FailedResult builds the canonical failed outcome for a transport error.
func FailedResult(code, message string) PaymentResult {
	if code == "" {
		code = ErrCodeGatewayError
	}
	return PaymentResult{
		Success:      false,
		Status:       models.PaymentFailed,
		ErrorCode:    code,
		ErrorMessage: message,
	}
}

type PixData struct {
	TransactionID string
	Code          string
	QRCodeImage   string
	ExpiresAt     time.Time
}

type BankSlipData struct {
	TransactionID string
	Barcode       string
	URL           string
	DueDate       time.Time
}

type RefundResult struct {
	Success      bool
	RefundID     string
	AmountCents  int64
	ErrorCode    string
	ErrorMessage string
}

// WebhookEvent is the gateway-neutral form of an asynchronous notification.
type WebhookEvent struct {
	EventID       string
	TransactionID string
	Status        models.PaymentStatus
	Metadata      map[string]any
}

// Gateway is implemented once per provider. Status vocabularies are mapped to
// the canonical set inside each implementation; unknown vendor statuses map
// to Failed, never to an approval.
type Gateway interface {
	Name() string
	// Available reports whether credentials are configured.
	Available() bool
	PublicKey() string
	Sandbox() bool

	ProcessCard(ctx context.Context, order *models.Order, card CardData) PaymentResult
	GeneratePix(ctx context.Context, order *models.Order) (PixData, PaymentResult)
	GenerateBankSlip(ctx context.Context, order *models.Order) (BankSlipData, PaymentResult)
	CheckStatus(ctx context.Context, payment *models.Payment) (models.PaymentStatus, error)
	Refund(ctx context.Context, payment *models.Payment, amountCents int64) RefundResult
	// ParseWebhook verifies the request signature and decodes the payload.
	ParseWebhook(r *http.Request, body []byte) (WebhookEvent, error)
}

// InstallmentRate is a per-quantity monthly interest rate quoted by a
// gateway. A zero rate means the merchant absorbs the cost.
type InstallmentRate struct {
	Quantity       int
	MonthlyRatePct float64
}

// TariffProvider is an optional capability: gateways that can quote live
// installment tariffs implement it and the installment service prefers their
// rates over the static configuration.
type TariffProvider interface {
	InstallmentRates(ctx context.Context, amountCents int64, cardBrand string) ([]InstallmentRate, error)
}

// Registry maps gateway names to implementations. Dispatch is a pure lookup;
// entries are registered once at wiring time.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	byName := make(map[string]Gateway, len(gateways))
	for _, gw := range gateways {
		if gw != nil {
			byName[gw.Name()] = gw
		}
	}
	return &Registry{gateways: byName}
}

func (r *Registry) Get(name string) (Gateway, bool) {
	gw, ok := r.gateways[name]
	return gw, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
