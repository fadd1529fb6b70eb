// Package events delivers domain events to in-process subscribers without
// putting the subscribers on the request path.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vitrineapp/vitrine/internal/logging"
	"github.com/vitrineapp/vitrine/internal/models"
)

type Event interface {
	Name() string
}

// OrderCreated fires after an order and its items are committed.
type OrderCreated struct {
	Order *models.Order
}

func (OrderCreated) Name() string { return "order.created" }

// OrderStatusChanged fires after a successful status transition.
type OrderStatusChanged struct {
	Order *models.Order
	Old   models.OrderStatus
	New   models.OrderStatus
}

func (OrderStatusChanged) Name() string { return "order.status_changed" }

// PaymentConfirmed fires when a payment reaches approved, whether through a
// synchronous charge or a webhook.
type PaymentConfirmed struct {
	Order   *models.Order
	Payment *models.Payment
}

func (PaymentConfirmed) Name() string { return "payment.confirmed" }

type Subscriber interface {
	HandleEvent(ctx context.Context, event Event)
}

// Bus fans events out to subscribers on their own goroutines. Subscribers are
// registered once at wiring time; a panicking subscriber is logged and does
// not take down its siblings.
type Bus struct {
	subscribers []Subscriber
	logger      *slog.Logger
	wg          sync.WaitGroup
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

func (b *Bus) Subscribe(subscribers ...Subscriber) {
	for _, s := range subscribers {
		if s != nil {
			b.subscribers = append(b.subscribers, s)
		}
	}
}

// Publish delivers asynchronously. The context is detached from request
// cancellation so subscribers finish even after the response is written.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if b == nil || event == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, sub := range b.subscribers {
		sub := sub
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logging.FromContext(ctx, b.logger).Error("event subscriber panicked",
						"event", event.Name(), "panic", r)
				}
			}()
			sub.HandleEvent(ctx, event)
		}()
	}
}

// Wait blocks until in-flight deliveries drain. Used during shutdown and in
// tests.
func (b *Bus) Wait() {
	b.wg.Wait()
}
