package models

import (
	"time"

	"github.com/google/uuid"
)

type CartStatus string

const (
	CartActive    CartStatus = "active"
	CartConverted CartStatus = "converted"
	CartAbandoned CartStatus = "abandoned"
)

// Cart is the collaborator contract the checkout consumes: line items plus a
// status that flips to converted exactly once. Pricing rules live upstream.
type Cart struct {
	ID        uuid.UUID  `json:"id"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	Status    CartStatus `json:"status"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type CartItem struct {
	ProductID      uuid.UUID `json:"product_id"`
	ProductName    string    `json:"product_name"`
	VariantName    string    `json:"variant_name,omitempty"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Quantity       int       `json:"quantity"`
}

func (c *Cart) SubtotalCents() int64 {
	var subtotal int64
	for _, item := range c.Items {
		subtotal += item.UnitPriceCents * int64(item.Quantity)
	}
	return subtotal
}

// ShippingOption is the shipping collaborator contract. The selected option's
// code, cost and delivery window are copied onto the order at checkout.
type ShippingOption struct {
	Code            string `json:"code"`
	Name            string `json:"name"`
	PriceCents      int64  `json:"price_cents"`
	DeliveryDaysMin int    `json:"delivery_days_min"`
	DeliveryDaysMax int    `json:"delivery_days_max"`
	Carrier         string `json:"carrier"`
}
