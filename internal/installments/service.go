package installments

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/vitrineapp/vitrine/internal/cache"
	"github.com/vitrineapp/vitrine/internal/gateway"
	"github.com/vitrineapp/vitrine/internal/logging"
)

const defaultPlanCacheTTL = 5 * time.Minute

// Service quotes installment plans, preferring live gateway tariffs and
// caching the result per amount and card brand. It always returns at least
// the single-payment plan.
type Service struct {
	gateway       gateway.Gateway
	cacheProvider cache.Provider
	opts          Options
	ttl           time.Duration
	logger        *slog.Logger
}

func NewService(gw gateway.Gateway, cacheProvider cache.Provider, opts Options, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = defaultPlanCacheTTL
	}
	if opts.MaxInstallments <= 0 {
		opts = DefaultOptions()
	}
	return &Service{
		gateway:       gw,
		cacheProvider: cacheProvider,
		opts:          opts,
		ttl:           ttl,
		logger:        logger,
	}
}

func (s *Service) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// Quote returns the plan table for an amount. Cache and tariff failures
// degrade to the static configuration; they never surface to the caller.
func (s *Service) Quote(ctx context.Context, amountCents int64, cardBrand string) []Plan {
	if amountCents <= 0 {
		return nil
	}

	cacheKey := cache.InstallmentKey(amountCents, cardBrand)
	if s.cacheProvider != nil {
		if cached, err := s.cacheProvider.Get(ctx, cacheKey); err == nil {
			var plans []Plan
			if err := json.Unmarshal([]byte(cached), &plans); err == nil && len(plans) > 0 {
				return plans
			}
		}
	}

	plans := s.compute(ctx, amountCents, cardBrand)
	if len(plans) == 0 {
		plans = []Plan{buildPlan(amountCents, 1, 0)}
	}

	if s.cacheProvider != nil {
		if encoded, err := json.Marshal(plans); err == nil {
			if err := s.cacheProvider.Set(ctx, cacheKey, string(encoded), s.ttl); err != nil {
				s.loggerFromContext(ctx).Warn("failed to cache installment plans", "error", err, "cache_key", cacheKey)
			}
		}
	}
	return plans
}

func (s *Service) compute(ctx context.Context, amountCents int64, cardBrand string) []Plan {
	if tariffs, ok := s.gateway.(gateway.TariffProvider); ok && s.gateway.Available() {
		rates, err := tariffs.InstallmentRates(ctx, amountCents, cardBrand)
		if err != nil {
			s.loggerFromContext(ctx).Warn("gateway tariff lookup failed, using static rates",
				"error", err, "gateway", s.gateway.Name())
		} else if plans := CalculateWithRates(amountCents, rates, s.opts); len(plans) > 0 {
			return plans
		}
	}
	return Calculate(amountCents, s.opts)
}
