package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/vitrineapp/vitrine/internal/db"
	"github.com/vitrineapp/vitrine/internal/events"
	"github.com/vitrineapp/vitrine/internal/models"
)

func newOrderService(orders ...*models.Order) (*OrderService, *fakeOrderStore, *events.Bus) {
	store := newFakeOrderStore(orders...)
	bus := events.NewBus(nil)
	return NewOrderService(store, bus, nil), store, bus
}

func TestOrderLifecycle_FullPath(t *testing.T) {
	t.Parallel()

	order := pendingOrder()
	svc, _, _ := newOrderService(order)
	ctx := context.Background()

	updated, err := svc.MarkProcessing(ctx, order.ID)
	if err != nil {
		t.Fatalf("processing: %v", err)
	}
	if updated.Status != models.OrderProcessing {
		t.Fatalf("status = %q", updated.Status)
	}

	updated, err = svc.Ship(ctx, order.ID, "BR123456789")
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	if updated.Status != models.OrderShipped || updated.TrackingNumber != "BR123456789" {
		t.Fatalf("unexpected order after ship: %+v", updated)
	}

	updated, err = svc.Complete(ctx, order.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if updated.Status != models.OrderCompleted {
		t.Fatalf("status = %q", updated.Status)
	}

	updated, err = svc.MarkRefunded(ctx, order.ID)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if updated.Status != models.OrderRefunded {
		t.Fatalf("status = %q", updated.Status)
	}
}

func TestShip_RequiresTracking(t *testing.T) {
	t.Parallel()

	order := pendingOrder()
	order.Status = models.OrderProcessing
	svc, _, _ := newOrderService(order)

	if _, err := svc.Ship(context.Background(), order.ID, "   "); !errors.Is(err, ErrTrackingRequired) {
		t.Fatalf("error = %v, want tracking required", err)
	}
}

func TestTransition_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from models.OrderStatus
		call func(*OrderService, context.Context, uuid.UUID) (*models.Order, error)
	}{
		{
			name: "ship from pending",
			from: models.OrderPending,
			call: func(s *OrderService, ctx context.Context, id uuid.UUID) (*models.Order, error) {
				return s.Ship(ctx, id, "BR1")
			},
		},
		{
			name: "complete from pending",
			from: models.OrderPending,
			call: (*OrderService).Complete,
		},
		{
			name: "cancel after shipping",
			from: models.OrderShipped,
			call: (*OrderService).Cancel,
		},
		{
			name: "refund before completion",
			from: models.OrderProcessing,
			call: (*OrderService).MarkRefunded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			order := pendingOrder()
			order.Status = tt.from
			svc, _, _ := newOrderService(order)

			if _, err := tt.call(svc, context.Background(), order.ID); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("error = %v, want invalid transition", err)
			}
		})
	}
}

func TestTransition_SameStatusIsNoOp(t *testing.T) {
	t.Parallel()

	order := pendingOrder()
	order.Status = models.OrderProcessing
	svc, _, bus := newOrderService(order)

	var mu sync.Mutex
	var published []events.Event
	bus.Subscribe(subscriberFunc(func(ctx context.Context, event events.Event) {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, event)
	}))

	updated, err := svc.MarkProcessing(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bus.Wait()

	if updated.Status != models.OrderProcessing {
		t.Fatalf("status = %q", updated.Status)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(published) != 0 {
		t.Fatalf("no-op transition published %d events", len(published))
	}
}

func TestTransition_PublishesStatusChanged(t *testing.T) {
	t.Parallel()

	order := pendingOrder()
	svc, _, bus := newOrderService(order)

	changed := make(chan events.OrderStatusChanged, 1)
	bus.Subscribe(subscriberFunc(func(ctx context.Context, event events.Event) {
		if e, ok := event.(events.OrderStatusChanged); ok {
			changed <- e
		}
	}))

	if _, err := svc.MarkProcessing(context.Background(), order.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bus.Wait()

	select {
	case e := <-changed:
		if e.Old != models.OrderPending || e.New != models.OrderProcessing {
			t.Fatalf("event = %s to %s", e.Old, e.New)
		}
	default:
		t.Fatal("no status change event")
	}
}

func TestTransition_LostRaceAtTarget(t *testing.T) {
	t.Parallel()

	// The guard rejects but a concurrent writer already moved the order to
	// the requested status; the caller should see success.
	order := pendingOrder()
	order.Status = models.OrderProcessing
	store := newFakeOrderStore(order)
	svc := NewOrderService(&racingOrderStore{fakeOrderStore: store, target: models.OrderShipped}, events.NewBus(nil), nil)

	updated, err := svc.Ship(context.Background(), order.ID, "BR9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != models.OrderShipped {
		t.Fatalf("status = %q, want shipped", updated.Status)
	}
}

func TestOrderLookups(t *testing.T) {
	t.Parallel()

	order := pendingOrder()
	order.AccessToken = "tok_guest"
	svc, _, _ := newOrderService(order)
	ctx := context.Background()

	if got, err := svc.GetByOrderNumber(ctx, " ORD-TEST42 "); err != nil || got.ID != order.ID {
		t.Fatalf("by number: %v %v", got, err)
	}
	if got, err := svc.GetByAccessToken(ctx, "tok_guest"); err != nil || got.ID != order.ID {
		t.Fatalf("by token: %v %v", got, err)
	}
	if _, err := svc.GetByAccessToken(ctx, ""); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("empty token error = %v", err)
	}
	if _, err := svc.GetByID(ctx, uuid.New()); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("missing id error = %v", err)
	}
	if _, err := svc.GetByOrderNumber(ctx, "ORD-NOPE"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("missing number error = %v", err)
	}
}

// racingOrderStore fails the guarded write but flips the order to the target
// first, simulating a concurrent winner.
type racingOrderStore struct {
	*fakeOrderStore
	target models.OrderStatus
}

func (s *racingOrderStore) MarkShipped(ctx context.Context, orderID uuid.UUID, trackingNumber string) error {
	if err := s.fakeOrderStore.MarkShipped(ctx, orderID, trackingNumber); err != nil {
		return err
	}
	// Report a lost race even though the row now holds the target status.
	return db.ErrInvalidStatusTransition
}
