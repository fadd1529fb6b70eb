package models

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
	OrderRefunded   OrderStatus = "refunded"
)

type OrderPaymentStatus string

const (
	OrderPaymentPending  OrderPaymentStatus = "pending"
	OrderPaymentPaid     OrderPaymentStatus = "paid"
	OrderPaymentFailed   OrderPaymentStatus = "failed"
	OrderPaymentRefunded OrderPaymentStatus = "refunded"
)

// Order is the durable snapshot created at checkout completion. Money fields
// are integer minor-currency units (centavos). Item and address fields are
// frozen at creation; only status and timestamp fields mutate afterwards.
type Order struct {
	ID            uuid.UUID          `json:"id"`
	OrderNumber   string             `json:"order_number"`
	Status        OrderStatus        `json:"status"`
	PaymentStatus OrderPaymentStatus `json:"payment_status"`

	SubtotalCents int64 `json:"subtotal_cents"`
	ShippingCents int64 `json:"shipping_cents"`
	DiscountCents int64 `json:"discount_cents"`
	TotalCents    int64 `json:"total_cents"`

	// Exactly one of UserID or the guest fields is set.
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	GuestName  string     `json:"guest_name,omitempty"`
	GuestEmail string     `json:"guest_email,omitempty"`
	GuestCPF   string     `json:"guest_cpf,omitempty"`
	GuestPhone string     `json:"guest_phone,omitempty"`

	ShippingAddress Address `json:"shipping_address"`

	ShippingMethod  string `json:"shipping_method"`
	ShippingCarrier string `json:"shipping_carrier"`
	ShippingDays    int    `json:"shipping_days"`

	CartID uuid.UUID `json:"cart_id"`

	// AccessToken lets guest customers view their order without an account.
	AccessToken string `json:"-"`

	Items []OrderItem `json:"items,omitempty"`

	PlacedAt    time.Time  `json:"placed_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	ShippedAt   *time.Time `json:"shipped_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`

	TrackingNumber string `json:"tracking_number,omitempty"`
}

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// OrderItem is an immutable snapshot of a cart line at order time. It is never
// re-derived from the catalog, so later price or name edits cannot change it.
type OrderItem struct {
	ID             uuid.UUID `json:"id"`
	OrderID        uuid.UUID `json:"order_id"`
	ProductID      uuid.UUID `json:"product_id"`
	ProductName    string    `json:"product_name"`
	VariantName    string    `json:"variant_name,omitempty"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Quantity       int       `json:"quantity"`
	SubtotalCents  int64     `json:"subtotal_cents"`
}

func (o *Order) IsGuest() bool {
	return o.UserID == nil
}

// CanBeCancelled reports whether the order is still in a cancellable state.
func (o *Order) CanBeCancelled() bool {
	switch o.Status {
	case OrderPending, OrderProcessing:
		return true
	default:
		return false
	}
}

// IsPayable reports whether a new payment attempt may be made for the order.
func (o *Order) IsPayable() bool {
	if o.PaymentStatus == OrderPaymentPaid || o.PaymentStatus == OrderPaymentRefunded {
		return false
	}
	switch o.Status {
	case OrderPending, OrderProcessing:
		return true
	default:
		return false
	}
}

// NextOrderStatuses is the fixed transition graph for Order.Status.
var NextOrderStatuses = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderShipped, OrderCancelled},
	OrderShipped:    {OrderCompleted},
	OrderCompleted:  {OrderRefunded},
}

// CanTransitionTo reports whether status may move directly to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range NextOrderStatuses[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
