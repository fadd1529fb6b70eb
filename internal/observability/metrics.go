// Package observability carries the request-scoped sentry meter through
// context and instruments outbound HTTP, so checkout and payment counters
// (order_created, webhook.applied, payment attempts) land on the span that
// produced them.
package observability

import (
	"context"

	"github.com/getsentry/sentry-go"
)

type meterContextKey struct{}

// WithMeter returns a context carrying meter. The HTTP middleware installs
// one per request; a nil meter gets a fresh one so callers never panic.
func WithMeter(ctx context.Context, meter sentry.Meter) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if meter == nil {
		meter = sentry.NewMeter(ctx)
	}
	return context.WithValue(ctx, meterContextKey{}, meter.WithCtx(ctx))
}

// MeterFromContext returns the request's meter, rebound to ctx so counts
// attach to the current span. Background work without a meter in context
// gets a standalone one.
func MeterFromContext(ctx context.Context) sentry.Meter {
	if ctx == nil {
		ctx = context.Background()
	}
	if meter, ok := ctx.Value(meterContextKey{}).(sentry.Meter); ok && meter != nil {
		return meter.WithCtx(ctx)
	}
	return sentry.NewMeter(ctx).WithCtx(ctx)
}
