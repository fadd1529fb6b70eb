package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/vitrineapp/vitrine/internal/models"
	"github.com/vitrineapp/vitrine/internal/observability"
)

const stripeSignatureHeader = "Stripe-Signature"

// StripeConfig carries the credentials for the live provider.
type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string

	// Timeout bounds every outbound call; zero falls back to the default.
	Timeout time.Duration
}

const defaultStripeTimeout = 15 * time.Second

// Stripe charges cards through PaymentIntents and reconciles through signed
// webhook events. Pix and boleto ride the same PaymentIntent flow with their
// respective payment method types.
type Stripe struct {
	cfg    StripeConfig
	client *stripe.Client
}

func NewStripe(cfg StripeConfig) *Stripe {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultStripeTimeout
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: observability.NewHTTPClient(timeout),
	})
	return &Stripe{
		cfg: cfg,
		client: stripe.NewClient(cfg.SecretKey, stripe.WithBackends(&stripe.Backends{
			API:     backend,
			Connect: backend,
			Uploads: backend,
		})),
	}
}

func (s *Stripe) Name() string      { return "stripe" }
func (s *Stripe) Available() bool   { return s.cfg.SecretKey != "" }
func (s *Stripe) PublicKey() string { return s.cfg.PublishableKey }

func (s *Stripe) Sandbox() bool {
	return strings.HasPrefix(s.cfg.SecretKey, "sk_test_")
}

func (s *Stripe) ProcessCard(ctx context.Context, order *models.Order, card CardData) PaymentResult {
	if card.Token == "" {
		return FailedResult("missing_token", "card charges require a tokenized payment method")
	}

	params := &stripe.PaymentIntentCreateParams{
		Amount:             stripe.Int64(order.TotalCents),
		Currency:           stripe.String("brl"),
		PaymentMethod:      stripe.String(card.Token),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
		Description:        stripe.String(fmt.Sprintf("Order %s", order.OrderNumber)),
		Metadata:           map[string]string{"order_number": order.OrderNumber},
	}
	intent, err := s.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return stripeFailure(err)
	}

	result := PaymentResult{
		TransactionID: intent.ID,
		Status:        stripeIntentStatus(intent.Status),
		CardBrand:     card.Brand,
		CardLastFour:  card.LastFour(),
	}
	result.Success = result.Status == models.PaymentApproved || result.Status == models.PaymentPending
	result.Pending = result.Status == models.PaymentPending
	if !result.Success {
		result.ErrorCode = "payment_not_completed"
		result.ErrorMessage = fmt.Sprintf("payment intent finished in status %q", intent.Status)
	}
	return result
}

func (s *Stripe) GeneratePix(ctx context.Context, order *models.Order) (PixData, PaymentResult) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:             stripe.Int64(order.TotalCents),
		Currency:           stripe.String("brl"),
		PaymentMethodTypes: stripe.StringSlice([]string{"pix"}),
		Description:        stripe.String(fmt.Sprintf("Order %s", order.OrderNumber)),
		Metadata:           map[string]string{"order_number": order.OrderNumber},
	}
	intent, err := s.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return PixData{}, stripeFailure(err)
	}

	data := PixData{TransactionID: intent.ID}
	if na := intent.NextAction; na != nil && na.PixDisplayQRCode != nil {
		data.Code = na.PixDisplayQRCode.Data
		data.QRCodeImage = na.PixDisplayQRCode.ImageURLPNG
		if na.PixDisplayQRCode.ExpiresAt > 0 {
			data.ExpiresAt = time.Unix(na.PixDisplayQRCode.ExpiresAt, 0)
		}
	}
	return data, PaymentResult{
		Success:       true,
		Status:        models.PaymentPending,
		TransactionID: intent.ID,
		Pending:       true,
	}
}

func (s *Stripe) GenerateBankSlip(ctx context.Context, order *models.Order) (BankSlipData, PaymentResult) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:             stripe.Int64(order.TotalCents),
		Currency:           stripe.String("brl"),
		PaymentMethodTypes: stripe.StringSlice([]string{"boleto"}),
		Description:        stripe.String(fmt.Sprintf("Order %s", order.OrderNumber)),
		Metadata:           map[string]string{"order_number": order.OrderNumber},
	}
	intent, err := s.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return BankSlipData{}, stripeFailure(err)
	}

	data := BankSlipData{TransactionID: intent.ID}
	if na := intent.NextAction; na != nil && na.BoletoDisplayDetails != nil {
		data.Barcode = na.BoletoDisplayDetails.Number
		data.URL = na.BoletoDisplayDetails.HostedVoucherURL
		if na.BoletoDisplayDetails.ExpiresAt > 0 {
			data.DueDate = time.Unix(na.BoletoDisplayDetails.ExpiresAt, 0)
		}
	}
	return data, PaymentResult{
		Success:       true,
		Status:        models.PaymentPending,
		TransactionID: intent.ID,
		Pending:       true,
	}
}

func (s *Stripe) CheckStatus(ctx context.Context, payment *models.Payment) (models.PaymentStatus, error) {
	if payment.GatewayTransactionID == "" {
		return "", fmt.Errorf("payment %s has no gateway transaction id", payment.ID)
	}
	intent, err := s.client.V1PaymentIntents.Retrieve(ctx, payment.GatewayTransactionID, nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch payment intent: %w", err)
	}
	return stripeIntentStatus(intent.Status), nil
}

func (s *Stripe) Refund(ctx context.Context, payment *models.Payment, amountCents int64) RefundResult {
	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(payment.GatewayTransactionID),
		Amount:        stripe.Int64(amountCents),
	}
	refund, err := s.client.V1Refunds.Create(ctx, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			return RefundResult{
				ErrorCode:    string(stripeErr.Code),
				ErrorMessage: stripeErr.Msg,
			}
		}
		return RefundResult{
			ErrorCode:    ErrCodeGatewayError,
			ErrorMessage: err.Error(),
		}
	}
	return RefundResult{
		Success:     true,
		RefundID:    refund.ID,
		AmountCents: refund.Amount,
	}
}

func (s *Stripe) ParseWebhook(r *http.Request, body []byte) (WebhookEvent, error) {
	signature := r.Header.Get(stripeSignatureHeader)
	if signature == "" {
		return WebhookEvent{}, ErrInvalidSignature
	}
	event, err := webhook.ConstructEvent(body, signature, s.cfg.WebhookSecret)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch event.Type {
	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
			return WebhookEvent{}, ErrMissingTransaction
		}
		metadata := map[string]any{}
		if charge.AmountRefunded > 0 && charge.AmountRefunded < charge.Amount {
			metadata["partial_amount"] = charge.AmountRefunded
		}
		return WebhookEvent{
			EventID:       event.ID,
			TransactionID: charge.PaymentIntent.ID,
			Status:        models.PaymentRefunded,
			Metadata:      metadata,
		}, nil
	default:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if intent.ID == "" {
			return WebhookEvent{}, ErrMissingTransaction
		}
		return WebhookEvent{
			EventID:       event.ID,
			TransactionID: intent.ID,
			Status:        stripeEventStatus(event.Type, intent.Status),
			Metadata:      map[string]any{"event_type": string(event.Type)},
		}, nil
	}
}

// stripeFailure converts client errors into failed results; card declines
// keep the issuer's code so checkouts can show a useful message.
func stripeFailure(err error) PaymentResult {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		result := FailedResult(string(stripeErr.Code), stripeErr.Msg)
		if stripeErr.Code == stripe.ErrorCodeCardDeclined {
			result.Status = models.PaymentDeclined
		}
		return result
	}
	return FailedResult(ErrCodeGatewayError, err.Error())
}

// stripeIntentStatus maps PaymentIntent statuses onto the canonical set.
// Anything unrecognized maps to Failed rather than to an approval.
func stripeIntentStatus(status stripe.PaymentIntentStatus) models.PaymentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return models.PaymentApproved
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresConfirmation:
		return models.PaymentPending
	case stripe.PaymentIntentStatusCanceled:
		return models.PaymentCancelled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return models.PaymentFailed
	default:
		return models.PaymentFailed
	}
}

func stripeEventStatus(eventType stripe.EventType, status stripe.PaymentIntentStatus) models.PaymentStatus {
	switch eventType {
	case "payment_intent.succeeded":
		return models.PaymentApproved
	case "payment_intent.payment_failed":
		return models.PaymentFailed
	case "payment_intent.canceled":
		return models.PaymentCancelled
	case "payment_intent.processing":
		return models.PaymentPending
	default:
		return stripeIntentStatus(status)
	}
}
