package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/vitrineapp/vitrine/internal/db"
	"github.com/vitrineapp/vitrine/internal/events"
	"github.com/vitrineapp/vitrine/internal/logging"
	"github.com/vitrineapp/vitrine/internal/models"
)

var (
	ErrInvalidTransition = errors.New("order status transition not allowed")
	ErrTrackingRequired  = errors.New("shipping an order requires a tracking number")
)

type orderLifecycleStore interface {
	GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	GetByAccessToken(ctx context.Context, token string) (*models.Order, error)
	MarkProcessing(ctx context.Context, orderID uuid.UUID) error
	MarkShipped(ctx context.Context, orderID uuid.UUID, trackingNumber string) error
	MarkCompleted(ctx context.Context, orderID uuid.UUID) error
	MarkCancelled(ctx context.Context, orderID uuid.UUID) error
	MarkRefunded(ctx context.Context, orderID uuid.UUID) error
}

// OrderService drives the order lifecycle. Transitions are guarded in SQL,
// so two concurrent requests cannot both win; asking for the status the
// order already has is a no-op that fires no event.
type OrderService struct {
	orders orderLifecycleStore
	bus    *events.Bus
	logger *slog.Logger
}

func NewOrderService(orders orderLifecycleStore, bus *events.Bus, logger *slog.Logger) *OrderService {
	return &OrderService{
		orders: orders,
		bus:    bus,
		logger: logger,
	}
}

func (s *OrderService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

func (s *OrderService) GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return order, err
}

func (s *OrderService) GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	order, err := s.orders.GetByOrderNumber(ctx, strings.TrimSpace(orderNumber))
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return order, err
}

// GetByAccessToken serves guest order lookups.
func (s *OrderService) GetByAccessToken(ctx context.Context, token string) (*models.Order, error) {
	if token == "" {
		return nil, ErrOrderNotFound
	}
	order, err := s.orders.GetByAccessToken(ctx, token)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return order, err
}

func (s *OrderService) MarkProcessing(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.transition(ctx, orderID, models.OrderProcessing, func() error {
		return s.orders.MarkProcessing(ctx, orderID)
	})
}

func (s *OrderService) Ship(ctx context.Context, orderID uuid.UUID, trackingNumber string) (*models.Order, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return nil, ErrTrackingRequired
	}
	return s.transition(ctx, orderID, models.OrderShipped, func() error {
		return s.orders.MarkShipped(ctx, orderID, trackingNumber)
	})
}

func (s *OrderService) Complete(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.transition(ctx, orderID, models.OrderCompleted, func() error {
		return s.orders.MarkCompleted(ctx, orderID)
	})
}

func (s *OrderService) Cancel(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.transition(ctx, orderID, models.OrderCancelled, func() error {
		return s.orders.MarkCancelled(ctx, orderID)
	})
}

func (s *OrderService) MarkRefunded(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.transition(ctx, orderID, models.OrderRefunded, func() error {
		return s.orders.MarkRefunded(ctx, orderID)
	})
}

func (s *OrderService) transition(ctx context.Context, orderID uuid.UUID, target models.OrderStatus, apply func() error) (*models.Order, error) {
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == target {
		return order, nil
	}
	if !order.Status.CanTransitionTo(target) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, order.Status, target)
	}

	old := order.Status
	if err := apply(); err != nil {
		if errors.Is(err, db.ErrInvalidStatusTransition) {
			// Lost the race; re-read to report what actually happened.
			if current, readErr := s.GetByID(ctx, orderID); readErr == nil && current.Status == target {
				return current, nil
			}
			return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, old, target)
		}
		return nil, err
	}

	updated, err := s.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	s.loggerFromContext(ctx).Info("order status changed",
		"order_id", orderID,
		"order_number", updated.OrderNumber,
		"from", old,
		"to", updated.Status)
	s.bus.Publish(ctx, events.OrderStatusChanged{Order: updated, Old: old, New: updated.Status})
	return updated, nil
}
