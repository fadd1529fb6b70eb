package installments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vitrineapp/vitrine/internal/cache"
	"github.com/vitrineapp/vitrine/internal/gateway"
)

type staticTariffGateway struct {
	gateway.Gateway
	rates []gateway.InstallmentRate
	err   error
	calls int
}

func (g *staticTariffGateway) Name() string    { return "mock" }
func (g *staticTariffGateway) Available() bool { return true }

func (g *staticTariffGateway) InstallmentRates(ctx context.Context, amountCents int64, cardBrand string) ([]gateway.InstallmentRate, error) {
	g.calls++
	return g.rates, g.err
}

func newTestService(t *testing.T, gw gateway.Gateway) *Service {
	t.Helper()
	provider, err := cache.NewMemoryProvider()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { provider.Close() })
	return NewService(gw, provider, testOptions(), time.Minute, nil)
}

func TestServiceQuote_UsesGatewayTariffs(t *testing.T) {
	t.Parallel()

	gw := &staticTariffGateway{rates: []gateway.InstallmentRate{
		{Quantity: 1},
		{Quantity: 2, MonthlyRatePct: 4.5},
	}}
	svc := newTestService(t, gw)

	plans := svc.Quote(context.Background(), 10000, "visa")
	if len(plans) != 2 {
		t.Fatalf("got %d plans, want 2", len(plans))
	}
	if plans[1].InterestRatePct != 4.5 {
		t.Fatalf("rate = %v, want the gateway tariff", plans[1].InterestRatePct)
	}
}

func TestServiceQuote_CachesPerAmountAndBrand(t *testing.T) {
	t.Parallel()

	gw := &staticTariffGateway{rates: []gateway.InstallmentRate{{Quantity: 1}}}
	svc := newTestService(t, gw)

	ctx := context.Background()
	svc.Quote(ctx, 10000, "visa")
	svc.Quote(ctx, 10000, "visa")
	if gw.calls != 1 {
		t.Fatalf("gateway called %d times, want 1", gw.calls)
	}

	svc.Quote(ctx, 10000, "mastercard")
	if gw.calls != 2 {
		t.Fatalf("gateway called %d times, want 2 after a new brand", gw.calls)
	}
}

func TestServiceQuote_FallsBackWhenTariffLookupFails(t *testing.T) {
	t.Parallel()

	gw := &staticTariffGateway{err: errors.New("gateway down")}
	svc := newTestService(t, gw)

	plans := svc.Quote(context.Background(), 10000, "visa")
	if len(plans) != 12 {
		t.Fatalf("got %d plans, want the static table of 12", len(plans))
	}
}

func TestServiceQuote_NeverReturnsEmptyForPayableAmount(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, &staticTariffGateway{rates: nil})

	plans := svc.Quote(context.Background(), 100, "visa")
	if len(plans) != 1 || plans[0].Quantity != 1 {
		t.Fatalf("expected the single payment fallback, got %v", plans)
	}

	if plans := svc.Quote(context.Background(), 0, "visa"); plans != nil {
		t.Fatalf("expected nil for a zero amount, got %v", plans)
	}
}
