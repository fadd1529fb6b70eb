// Package cache provides the shared cache used for webhook idempotency keys
// and installment plan lookups.
package cache

import (
	"context"
	"fmt"
	"time"
)

type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type Config struct {
	Provider              string
	RedisConnectionString string
}

func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryProvider()
	case "redis":
		return NewRedisProvider(cfg.RedisConnectionString)
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", cfg.Provider)
	}
}

// WebhookKey dedupes deliveries of the same gateway event.
func WebhookKey(gateway, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", gateway, eventID)
}

// InstallmentKey caches installment plans per amount and card brand.
func InstallmentKey(amountCents int64, cardBrand string) string {
	if cardBrand == "" {
		cardBrand = "any"
	}
	return fmt.Sprintf("installments:%d:%s", amountCents, cardBrand)
}
