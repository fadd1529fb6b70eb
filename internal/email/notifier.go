package email

import (
	"context"
	"log/slog"

	"github.com/vitrineapp/vitrine/internal/events"
	"github.com/vitrineapp/vitrine/internal/logging"
	"github.com/vitrineapp/vitrine/internal/models"
)

// notificationPolicy decides which events email the customer. Satisfied by
// the merchant settings file.
type notificationPolicy interface {
	NotifyOrderCreated() bool
	ShouldNotify(status models.OrderStatus) bool
}

// Notifier subscribes to order events and emails the customer. Send failures
// are logged and dropped; email never blocks or fails an order operation.
type Notifier struct {
	provider Provider
	renderer *Renderer
	policy   notificationPolicy
	logger   *slog.Logger
}

func NewNotifier(provider Provider, renderer *Renderer, policy notificationPolicy, logger *slog.Logger) *Notifier {
	return &Notifier{
		provider: provider,
		renderer: renderer,
		policy:   policy,
		logger:   logger,
	}
}

func (n *Notifier) HandleEvent(ctx context.Context, event events.Event) {
	if n == nil || n.provider == nil || n.renderer == nil {
		return
	}

	switch e := event.(type) {
	case events.OrderCreated:
		if !n.policy.NotifyOrderCreated() {
			return
		}
		message, err := n.renderer.OrderConfirmation(NewOrderInfo(e.Order))
		if err != nil {
			n.log(ctx).Error("failed to render order confirmation", "error", err, "order_number", e.Order.OrderNumber)
			return
		}
		n.send(ctx, e.Order, message)
	case events.OrderStatusChanged:
		if !n.policy.ShouldNotify(e.New) {
			return
		}
		message, err := n.renderer.OrderStatus(NewOrderInfo(e.Order))
		if err != nil {
			n.log(ctx).Error("failed to render status email", "error", err, "order_number", e.Order.OrderNumber, "status", e.New)
			return
		}
		n.send(ctx, e.Order, message)
	}
}

func (n *Notifier) send(ctx context.Context, order *models.Order, message *Email) {
	to := order.GuestEmail
	if to == "" {
		return
	}
	message.To = to
	if err := n.provider.SendEmail(ctx, message); err != nil {
		n.log(ctx).Error("failed to send order email",
			"error", err,
			"order_number", order.OrderNumber,
			"subject", message.Subject)
		return
	}
	n.log(ctx).Info("order email sent", "order_number", order.OrderNumber, "subject", message.Subject)
}

func (n *Notifier) log(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, n.logger)
}
