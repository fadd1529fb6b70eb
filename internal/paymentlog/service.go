package paymentlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vitrineapp/vitrine/internal/db"
	"github.com/vitrineapp/vitrine/internal/logging"
	"github.com/vitrineapp/vitrine/internal/models"
)

// Entry is one gateway interaction to record. Request and Response are
// sanitized before persistence.
type Entry struct {
	Action        string
	Status        string
	Gateway       string
	OrderID       *uuid.UUID
	PaymentID     *uuid.UUID
	TransactionID string
	Request       map[string]any
	Response      map[string]any
	ErrorMessage  string
	Duration      time.Duration
}

type logStore interface {
	Create(ctx context.Context, entry *models.PaymentLog) error
	GetByPayment(ctx context.Context, paymentID uuid.UUID) ([]*models.PaymentLog, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) ([]*models.PaymentLog, error)
	Search(ctx context.Context, filter db.LogFilter) ([]*models.PaymentLog, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service writes audit rows. Recording is best effort: a failed insert is
// logged and swallowed so it can never fail the payment flow it documents.
type Service struct {
	store  logStore
	logger *slog.Logger
}

func NewService(store logStore, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

func (s *Service) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

func (s *Service) Record(ctx context.Context, entry Entry) {
	if s == nil || s.store == nil {
		return
	}
	row := &models.PaymentLog{
		Action:        entry.Action,
		Status:        entry.Status,
		Gateway:       entry.Gateway,
		OrderID:       entry.OrderID,
		PaymentID:     entry.PaymentID,
		TransactionID: entry.TransactionID,
		Request:       Sanitize(entry.Request),
		Response:      Sanitize(entry.Response),
		ErrorMessage:  entry.ErrorMessage,
		DurationMs:    entry.Duration.Milliseconds(),
	}
	if err := s.store.Create(ctx, row); err != nil {
		s.loggerFromContext(ctx).Error("failed to record payment log",
			"error", err,
			"action", entry.Action,
			"gateway", entry.Gateway,
			"transaction_id", entry.TransactionID)
	}
}

func (s *Service) ForPayment(ctx context.Context, paymentID uuid.UUID) ([]*models.PaymentLog, error) {
	return s.store.GetByPayment(ctx, paymentID)
}

func (s *Service) ForOrder(ctx context.Context, orderID uuid.UUID) ([]*models.PaymentLog, error) {
	return s.store.GetByOrder(ctx, orderID)
}

func (s *Service) Search(ctx context.Context, filter db.LogFilter) ([]*models.PaymentLog, error) {
	return s.store.Search(ctx, filter)
}

// Cleanup deletes audit rows older than the retention window and returns the
// number removed.
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return s.store.DeleteOlderThan(ctx, cutoff)
}
