package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitrineapp/vitrine/internal/models"
)

type PaymentStore struct {
	pool *pgxpool.Pool
}

func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

const paymentColumns = `id, order_id, method, status, amount_cents, installments,
	gateway, gateway_transaction_id, card_brand, card_last_four,
	pix_code, pix_qr_code, boleto_barcode, boleto_url, expires_at,
	refunded_amount_cents, refunded_at, error_code, error_message,
	paid_at, created_at, updated_at`

// terminalStatuses guards every status write: a payment already in one of
// these never regresses, no matter what a later webhook or check says.
const terminalStatuses = `'approved', 'refunded', 'cancelled'`

func (s *PaymentStore) Create(ctx context.Context, q Querier, payment *models.Payment) error {
	if q == nil {
		q = s.pool
	}
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}

	query := `
		INSERT INTO payments (
			id, order_id, method, status, amount_cents, installments,
			gateway, gateway_transaction_id, card_brand, card_last_four,
			pix_code, pix_qr_code, boleto_barcode, boleto_url, expires_at,
			error_code, error_message, paid_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, NOW(), NOW()
		)
		RETURNING created_at, updated_at`
	err := q.QueryRow(ctx, query,
		payment.ID, payment.OrderID, string(payment.Method), string(payment.Status),
		payment.AmountCents, payment.Installments,
		payment.Gateway, textOrNull(payment.GatewayTransactionID),
		textOrNull(payment.CardBrand), textOrNull(payment.CardLastFour),
		textOrNull(payment.PixCode), textOrNull(payment.PixQRCode),
		textOrNull(payment.BoletoBarcode), textOrNull(payment.BoletoURL),
		payment.ExpiresAt,
		textOrNull(payment.ErrorCode), textOrNull(payment.ErrorMessage),
		payment.PaidAt,
	).Scan(&payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (s *PaymentStore) GetByID(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	return s.getOne(ctx, s.pool, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID)
}

func (s *PaymentStore) GetByTransactionID(ctx context.Context, gateway, transactionID string) (*models.Payment, error) {
	return s.getOne(ctx, s.pool,
		`SELECT `+paymentColumns+` FROM payments WHERE gateway = $1 AND gateway_transaction_id = $2`,
		gateway, transactionID)
}

// GetByIDForUpdate row-locks the payment inside the caller's transaction. The
// re-read under lock is what makes concurrent reconciliation sources safe.
func (s *PaymentStore) GetByIDForUpdate(ctx context.Context, q Querier, paymentID uuid.UUID) (*models.Payment, error) {
	return s.getOne(ctx, q, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, paymentID)
}

func (s *PaymentStore) GetByOrder(ctx context.Context, orderID uuid.UUID) ([]*models.Payment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 ORDER BY created_at DESC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

// MarkApproved moves a non-terminal payment to approved and stamps paid_at.
func (s *PaymentStore) MarkApproved(ctx context.Context, q Querier, paymentID uuid.UUID) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE payments
		SET status = 'approved', paid_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status NOT IN (` + terminalStatuses + `)`
	return s.guardedExec(ctx, q, query, paymentID)
}

// ApplyStatus applies a non-approved canonical status under the terminal
// guard. Approvals go through MarkApproved so paid_at is always stamped.
func (s *PaymentStore) ApplyStatus(ctx context.Context, q Querier, paymentID uuid.UUID, status models.PaymentStatus, errorCode, errorMessage string) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE payments
		SET status = $2, error_code = $3, error_message = $4, updated_at = NOW()
		WHERE id = $1 AND status NOT IN (` + terminalStatuses + `)`
	return s.guardedExec(ctx, q, query, paymentID, string(status), textOrNull(errorCode), textOrNull(errorMessage))
}

// ApplyPartialRefund accumulates refunded_amount_cents without changing
// status. The WHERE clause refuses refunds past the original amount.
func (s *PaymentStore) ApplyPartialRefund(ctx context.Context, q Querier, paymentID uuid.UUID, amountCents int64) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE payments
		SET refunded_amount_cents = refunded_amount_cents + $2, updated_at = NOW()
		WHERE id = $1 AND status = 'approved'
			AND refunded_amount_cents + $2 <= amount_cents`
	return s.guardedExec(ctx, q, query, paymentID, amountCents)
}

// MarkRefunded is the full-refund transition: status refunded, refunded_at
// stamped, refunded_amount_cents set to the full amount.
func (s *PaymentStore) MarkRefunded(ctx context.Context, q Querier, paymentID uuid.UUID) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE payments
		SET status = 'refunded', refunded_amount_cents = amount_cents,
			refunded_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'approved'`
	return s.guardedExec(ctx, q, query, paymentID)
}

func (s *PaymentStore) guardedExec(ctx context.Context, q Querier, query string, args ...any) error {
	cmdTag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrInvalidStatusTransition
	}
	return nil
}

func (s *PaymentStore) getOne(ctx context.Context, q Querier, query string, args ...any) (*models.Payment, error) {
	payment, err := scanPayment(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return payment, nil
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var (
		payment                  models.Payment
		method, status           string
		transactionID            pgtype.Text
		cardBrand, cardLastFour  pgtype.Text
		pixCode, pixQRCode       pgtype.Text
		boletoBarcode, boletoURL pgtype.Text
		errorCode, errorMessage  pgtype.Text
		expiresAt, refundedAt    pgtype.Timestamptz
		paidAt                   pgtype.Timestamptz
	)

	err := row.Scan(
		&payment.ID, &payment.OrderID, &method, &status,
		&payment.AmountCents, &payment.Installments,
		&payment.Gateway, &transactionID, &cardBrand, &cardLastFour,
		&pixCode, &pixQRCode, &boletoBarcode, &boletoURL, &expiresAt,
		&payment.RefundedAmountCents, &refundedAt, &errorCode, &errorMessage,
		&paidAt, &payment.CreatedAt, &payment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	payment.Method = models.PaymentMethod(method)
	payment.Status = models.PaymentStatus(status)
	payment.GatewayTransactionID = transactionID.String
	payment.CardBrand = cardBrand.String
	payment.CardLastFour = cardLastFour.String
	payment.PixCode = pixCode.String
	payment.PixQRCode = pixQRCode.String
	payment.BoletoBarcode = boletoBarcode.String
	payment.BoletoURL = boletoURL.String
	payment.ErrorCode = errorCode.String
	payment.ErrorMessage = errorMessage.String
	if expiresAt.Valid {
		payment.ExpiresAt = &expiresAt.Time
	}
	if refundedAt.Valid {
		payment.RefundedAt = &refundedAt.Time
	}
	if paidAt.Valid {
		payment.PaidAt = &paidAt.Time
	}

	return &payment, nil
}
