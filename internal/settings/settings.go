// Package settings loads merchant-tunable behavior from a YAML file:
// installment terms and which order changes trigger customer email.
package settings

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/vitrineapp/vitrine/internal/installments"
	"github.com/vitrineapp/vitrine/internal/models"
)

type Settings struct {
	Installments  InstallmentSettings  `yaml:"installments"`
	Notifications NotificationSettings `yaml:"notifications"`
}

type InstallmentSettings struct {
	Max                 int     `yaml:"max" validate:"min=1"`
	InterestFree        int     `yaml:"interest_free" validate:"min=0"`
	MonthlyRatePct      float64 `yaml:"monthly_rate_pct" validate:"min=0"`
	MinInstallmentCents int64   `yaml:"min_installment_cents" validate:"min=0"`
}

type NotificationSettings struct {
	OrderCreated bool     `yaml:"order_created"`
	Statuses     []string `yaml:"statuses" validate:"dive,oneof=pending processing shipped completed cancelled refunded"`
}

var settingsValidator = validator.New()

// Default mirrors what a merchant gets before any settings file exists.
func Default() *Settings {
	return &Settings{
		Installments: InstallmentSettings{
			Max:                 12,
			InterestFree:        3,
			MonthlyRatePct:      1.99,
			MinInstallmentCents: 500,
		},
		Notifications: NotificationSettings{
			OrderCreated: true,
			Statuses:     []string{"processing", "shipped", "completed", "cancelled", "refunded"},
		},
	}
}

// Load reads settings from path. A missing file is not an error; defaults
// apply until the merchant writes one.
func Load(path string) (*Settings, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults, so partial files only override
// what they mention.
func Parse(data []byte) (*Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := settingsValidator.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// InstallmentOptions adapts the file values for the plan calculator.
func (s *Settings) InstallmentOptions() installments.Options {
	return installments.Options{
		MaxInstallments:          s.Installments.Max,
		InterestFreeInstallments: s.Installments.InterestFree,
		MonthlyInterestRatePct:   s.Installments.MonthlyRatePct,
		MinInstallmentCents:      s.Installments.MinInstallmentCents,
	}
}

// ShouldNotify reports whether a transition into status emails the customer.
func (s *Settings) ShouldNotify(status models.OrderStatus) bool {
	for _, enabled := range s.Notifications.Statuses {
		if enabled == string(status) {
			return true
		}
	}
	return false
}

func (s *Settings) NotifyOrderCreated() bool {
	return s.Notifications.OrderCreated
}
