package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"

	"github.com/vitrineapp/vitrine/internal/cache"
	"github.com/vitrineapp/vitrine/internal/config"
	"github.com/vitrineapp/vitrine/internal/db"
	"github.com/vitrineapp/vitrine/internal/email"
	"github.com/vitrineapp/vitrine/internal/events"
	"github.com/vitrineapp/vitrine/internal/gateway"
	"github.com/vitrineapp/vitrine/internal/handlers"
	"github.com/vitrineapp/vitrine/internal/installments"
	"github.com/vitrineapp/vitrine/internal/logging"
	"github.com/vitrineapp/vitrine/internal/paymentlog"
	"github.com/vitrineapp/vitrine/internal/services"
	"github.com/vitrineapp/vitrine/internal/settings"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *pgxpool.Pool
	CacheProvider cache.Provider
	Bus           *events.Bus
	Handlers      *handlers.Handlers

	cleanupCancel context.CancelFunc
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	database, err := db.Connect(startupCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	cacheProvider, err := cache.NewProvider(cache.Config{
		Provider:              cfg.CacheProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize cache provider: %w", err)
	}

	storeSettings, err := settings.Load(cfg.SettingsFile)
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to load store settings: %w", err)
	}

	orderStore := db.NewOrderStore(database)
	paymentStore := db.NewPaymentStore(database)
	cartStore := db.NewCartStore(database)
	logStore := db.NewPaymentLogStore(database)

	installmentOpts := storeSettings.InstallmentOptions()
	mockGateway := gateway.NewMock(gateway.MockConfig{
		WebhookSecret:    cfg.MockWebhookSecret,
		PublicKey:        cfg.MockPublicKey,
		BaseURL:          cfg.BaseURL,
		MaxInstallments:  installmentOpts.MaxInstallments,
		InterestFreeUpTo: installmentOpts.InterestFreeInstallments,
		MonthlyRatePct:   installmentOpts.MonthlyInterestRatePct,
	})

	var stripeGateway *gateway.Stripe
	if cfg.StripeSecretKey != "" {
		stripeGateway = gateway.NewStripe(gateway.StripeConfig{
			SecretKey:      cfg.StripeSecretKey,
			PublishableKey: cfg.StripePublishableKey,
			WebhookSecret:  cfg.StripeWebhookSecret,
			Timeout:        cfg.GatewayTimeout,
		})
	}

	var activeGateway gateway.Gateway
	switch cfg.PaymentGateway {
	case "stripe":
		activeGateway = stripeGateway
	default:
		activeGateway = mockGateway
	}

	var registry *gateway.Registry
	if stripeGateway != nil {
		registry = gateway.NewRegistry(mockGateway, stripeGateway)
	} else {
		registry = gateway.NewRegistry(mockGateway)
	}

	bus := events.NewBus(logger.With("component", "events"))

	if cfg.EmailEnabled() {
		provider, err := email.NewProvider(email.Config{
			APIKey: cfg.ResendAPIKey,
			From:   cfg.EmailFrom,
		})
		if err != nil {
			closeCacheProvider(logger, cacheProvider)
			database.Close()
			return nil, fmt.Errorf("failed to initialize email provider: %w", err)
		}
		renderer, err := email.NewRenderer()
		if err != nil {
			closeCacheProvider(logger, cacheProvider)
			database.Close()
			return nil, fmt.Errorf("failed to initialize email templates: %w", err)
		}
		bus.Subscribe(email.NewNotifier(provider, renderer, storeSettings, logger.With("component", "email_notifier")))

		// Surface a bad API key at startup instead of on the first
		// notification, without blocking boot on the email vendor.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := provider.ValidateAPIKey(ctx); err != nil {
				logger.Warn("email provider API key validation failed", "error", err)
			}
		}()
	}

	auditService := paymentlog.NewService(logStore, logger.With("component", "payment_log"))
	orderService := services.NewOrderService(orderStore, bus, logger.With("component", "order_service"))
	paymentService := services.NewPaymentService(orderStore, paymentStore, database, activeGateway, auditService, bus, logger.With("component", "payment_service"))
	checkoutService := services.NewCheckoutService(cartStore, orderStore, database, paymentService, bus, logger.With("component", "checkout_service"))
	webhookService := services.NewWebhookService(registry, paymentStore, paymentService, cacheProvider, auditService, logger.With("component", "webhook_service"))
	installmentService := installments.NewService(activeGateway, cacheProvider, installmentOpts, cfg.InstallmentCacheTTL, logger.With("component", "installment_service"))

	h, err := handlers.New(handlers.Dependencies{
		Config:             cfg,
		DB:                 database,
		CheckoutService:    checkoutService,
		OrderService:       orderService,
		PaymentService:     paymentService,
		WebhookService:     webhookService,
		InstallmentService: installmentService,
		AuditService:       auditService,
		Logger:             logger,
	})
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	go runLogRetention(cleanupCtx, auditService, cfg.PaymentLogRetentionDays, cfg.PaymentLogCleanupEvery, logger)

	return &App{
		Config:        cfg,
		Logger:        logger,
		DB:            database,
		CacheProvider: cacheProvider,
		Bus:           bus,
		Handlers:      h,
		cleanupCancel: cleanupCancel,
	}, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cleanupCancel != nil {
		a.cleanupCancel()
	}
	if a.Bus != nil {
		// Let in-flight notification handlers drain.
		a.Bus.Wait()
	}
	if a.CacheProvider != nil {
		closeCacheProvider(a.Logger, a.CacheProvider)
	}
	if a.DB != nil {
		a.DB.Close()
	}
	sentry.Flush(2 * time.Second)
}

// runLogRetention purges expired payment log rows on a fixed interval.
func runLogRetention(ctx context.Context, audit *paymentlog.Service, retentionDays int, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := audit.Cleanup(ctx, retentionDays)
			if err != nil {
				logger.Error("payment log cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("payment log cleanup completed", "removed", removed, "retention_days", retentionDays)
			}
		}
	}
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var base slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "json":
		base = slog.NewJSONHandler(os.Stdout, opts)
	default:
		base = tint.NewHandler(os.Stdout, &tint.Options{Level: cfg.LogLevel})
	}

	if cfg.SentryDSN == "" {
		return slog.New(base), nil
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		EnableTracing:    true,
		TracesSampleRate: 1.0,
		EnableLogs:       true,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}

	sentryHandler := sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   []slog.Level{slog.LevelWarn, slog.LevelError},
	}.NewSentryHandler(context.Background())

	return slog.New(logging.MultiHandler(base, sentryHandler)), nil
}

func closeCacheProvider(logger *slog.Logger, provider cache.Provider) {
	if provider == nil {
		return
	}
	if err := provider.Close(); err != nil && logger != nil {
		logger.Warn("failed to close cache provider", "error", err)
	}
}
