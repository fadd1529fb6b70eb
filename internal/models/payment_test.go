package models

import "testing"

func TestPaymentStatusTerminal(t *testing.T) {
	t.Parallel()

	terminal := map[PaymentStatus]bool{
		PaymentApproved:  true,
		PaymentRefunded:  true,
		PaymentCancelled: true,
		PaymentPending:   false,
		PaymentDeclined:  false,
		PaymentFailed:    false,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("Terminal(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestPaymentRefundAccounting(t *testing.T) {
	t.Parallel()

	payment := &Payment{Status: PaymentApproved, AmountCents: 10000}
	if !payment.CanBeRefunded() {
		t.Fatal("fresh approved payment must be refundable")
	}
	if got := payment.RemainingRefundableCents(); got != 10000 {
		t.Fatalf("remaining = %d, want 10000", got)
	}

	payment.RefundedAmountCents = 5000
	if !payment.CanBeRefunded() {
		t.Fatal("partially refunded payment must stay refundable")
	}
	if got := payment.RemainingRefundableCents(); got != 5000 {
		t.Fatalf("remaining = %d, want 5000", got)
	}

	payment.RefundedAmountCents = 10000
	if payment.CanBeRefunded() {
		t.Fatal("fully refunded payment must not be refundable")
	}
	if got := payment.RemainingRefundableCents(); got != 0 {
		t.Fatalf("remaining = %d, want 0", got)
	}
}

func TestPaymentRefundRequiresApproval(t *testing.T) {
	t.Parallel()

	for _, status := range []PaymentStatus{PaymentPending, PaymentDeclined, PaymentFailed, PaymentCancelled, PaymentRefunded} {
		payment := &Payment{Status: status, AmountCents: 10000}
		if payment.CanBeRefunded() {
			t.Errorf("payment in %s must not be refundable", status)
		}
	}
}

func TestCartSubtotal(t *testing.T) {
	t.Parallel()

	cart := &Cart{Items: []CartItem{
		{UnitPriceCents: 5000, Quantity: 2},
		{UnitPriceCents: 1500, Quantity: 1},
	}}
	if got := cart.SubtotalCents(); got != 11500 {
		t.Fatalf("subtotal = %d, want 11500", got)
	}
}
