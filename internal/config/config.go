package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080" validate:"omitempty,url"`

	// PaymentGateway selects the active gateway from the static registry.
	PaymentGateway string `env:"PAYMENT_GATEWAY" envDefault:"mock" validate:"oneof=mock stripe"`

	StripeSecretKey      string `env:"STRIPE_SECRET_KEY"`
	StripePublishableKey string `env:"STRIPE_PUBLISHABLE_KEY"`
	StripeWebhookSecret  string `env:"STRIPE_WEBHOOK_SECRET"`

	MockWebhookSecret string `env:"MOCK_WEBHOOK_SECRET" envDefault:"mock-webhook-secret"`
	MockPublicKey     string `env:"MOCK_PUBLIC_KEY" envDefault:"pk_mock_sandbox"`

	CacheProvider         string `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis"`

	SettingsFile string `env:"SETTINGS_FILE" envDefault:"vitrine.yaml"`

	ResendAPIKey string `env:"RESEND_API_KEY"`
	EmailFrom    string `env:"EMAIL_FROM" validate:"omitempty,email"`

	WebhookRateLimitRPS   float64 `env:"WEBHOOK_RATE_LIMIT_RPS" envDefault:"10"`
	WebhookRateLimitBurst int     `env:"WEBHOOK_RATE_LIMIT_BURST" envDefault:"20"`

	GatewayTimeout      time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"15s"`
	InstallmentCacheTTL time.Duration `env:"INSTALLMENT_CACHE_TTL" envDefault:"10m"`

	PaymentLogRetentionDays int           `env:"PAYMENT_LOG_RETENTION_DAYS" envDefault:"90" validate:"min=1"`
	PaymentLogCleanupEvery  time.Duration `env:"PAYMENT_LOG_CLEANUP_EVERY" envDefault:"24h"`

	SentryDSN string `env:"SENTRY_DSN"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	Port      string     `env:"PORT" envDefault:"8080"`
}

var configValidator = validator.New()

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	if c.PaymentGateway == "stripe" {
		if strings.TrimSpace(c.StripeSecretKey) == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required when PAYMENT_GATEWAY is stripe")
		}
		if strings.TrimSpace(c.StripeWebhookSecret) == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when PAYMENT_GATEWAY is stripe")
		}
	}

	hasResendKey := strings.TrimSpace(c.ResendAPIKey) != ""
	hasFrom := strings.TrimSpace(c.EmailFrom) != ""
	if hasResendKey != hasFrom {
		return fmt.Errorf("RESEND_API_KEY and EMAIL_FROM must be set together")
	}

	if c.WebhookRateLimitRPS <= 0 {
		return fmt.Errorf("WEBHOOK_RATE_LIMIT_RPS must be positive")
	}
	if c.WebhookRateLimitBurst < 1 {
		return fmt.Errorf("WEBHOOK_RATE_LIMIT_BURST must be at least 1")
	}

	return nil
}

// EmailEnabled reports whether outbound notification email is configured.
func (c *Config) EmailEnabled() bool {
	return strings.TrimSpace(c.ResendAPIKey) != "" && strings.TrimSpace(c.EmailFrom) != ""
}
