package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitrineapp/vitrine/internal/models"
)

type PaymentLogStore struct {
	pool *pgxpool.Pool
}

func NewPaymentLogStore(pool *pgxpool.Pool) *PaymentLogStore {
	return &PaymentLogStore{pool: pool}
}

// LogFilter narrows Search. Zero values are ignored.
type LogFilter struct {
	Gateway          string
	Status           string
	Action           string
	TransactionIDSub string
	From             time.Time
	To               time.Time
	Limit            int
}

func (s *PaymentLogStore) Create(ctx context.Context, entry *models.PaymentLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	requestJSON, err := marshalPayload(entry.Request)
	if err != nil {
		return fmt.Errorf("failed to encode request payload: %w", err)
	}
	responseJSON, err := marshalPayload(entry.Response)
	if err != nil {
		return fmt.Errorf("failed to encode response payload: %w", err)
	}

	query := `
		INSERT INTO payment_logs (
			id, action, status, gateway, order_id, payment_id, transaction_id,
			request_payload, response_payload, error_message, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		RETURNING created_at`
	err = s.pool.QueryRow(ctx, query,
		entry.ID, entry.Action, entry.Status, entry.Gateway,
		entry.OrderID, entry.PaymentID, textOrNull(entry.TransactionID),
		requestJSON, responseJSON, textOrNull(entry.ErrorMessage), entry.DurationMs,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment log: %w", err)
	}
	return nil
}

func (s *PaymentLogStore) GetByPayment(ctx context.Context, paymentID uuid.UUID) ([]*models.PaymentLog, error) {
	return s.query(ctx,
		`SELECT `+paymentLogColumns+` FROM payment_logs WHERE payment_id = $1 ORDER BY created_at DESC`,
		paymentID)
}

func (s *PaymentLogStore) GetByOrder(ctx context.Context, orderID uuid.UUID) ([]*models.PaymentLog, error) {
	return s.query(ctx,
		`SELECT `+paymentLogColumns+` FROM payment_logs WHERE order_id = $1 ORDER BY created_at DESC`,
		orderID)
}

func (s *PaymentLogStore) Search(ctx context.Context, filter LogFilter) ([]*models.PaymentLog, error) {
	var (
		conditions []string
		args       []any
	)
	addCondition := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.Gateway != "" {
		addCondition("gateway = $%d", filter.Gateway)
	}
	if filter.Status != "" {
		addCondition("status = $%d", filter.Status)
	}
	if filter.Action != "" {
		addCondition("action = $%d", filter.Action)
	}
	if filter.TransactionIDSub != "" {
		addCondition("transaction_id ILIKE $%d", "%"+filter.TransactionIDSub+"%")
	}
	if !filter.From.IsZero() {
		addCondition("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		addCondition("created_at <= $%d", filter.To)
	}

	query := `SELECT ` + paymentLogColumns + ` FROM payment_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	return s.query(ctx, query, args...)
}

// DeleteOlderThan removes rows past the retention cutoff and returns how many
// were deleted. Plain DELETE on old rows does not contend with active writes.
func (s *PaymentLogStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cmdTag, err := s.pool.Exec(ctx, `DELETE FROM payment_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete payment logs: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

const paymentLogColumns = `id, action, status, gateway, order_id, payment_id,
	transaction_id, request_payload, response_payload, error_message, duration_ms, created_at`

func (s *PaymentLogStore) query(ctx context.Context, query string, args ...any) ([]*models.PaymentLog, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.PaymentLog
	for rows.Next() {
		var (
			entry         models.PaymentLog
			transactionID pgtype.Text
			errorMessage  pgtype.Text
			requestJSON   []byte
			responseJSON  []byte
		)
		err := rows.Scan(&entry.ID, &entry.Action, &entry.Status, &entry.Gateway,
			&entry.OrderID, &entry.PaymentID, &transactionID,
			&requestJSON, &responseJSON, &errorMessage, &entry.DurationMs, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment log: %w", err)
		}
		entry.TransactionID = transactionID.String
		entry.ErrorMessage = errorMessage.String
		if requestJSON != nil {
			if err := json.Unmarshal(requestJSON, &entry.Request); err != nil {
				return nil, fmt.Errorf("failed to decode request payload: %w", err)
			}
		}
		if responseJSON != nil {
			if err := json.Unmarshal(responseJSON, &entry.Response); err != nil {
				return nil, fmt.Errorf("failed to decode response payload: %w", err)
			}
		}
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}

func marshalPayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}
