// Package email sends transactional order email through Resend.
package email

import (
	"context"
	"fmt"
)

type Provider interface {
	SendEmail(ctx context.Context, email *Email) error
	ValidateAPIKey(ctx context.Context) error
}

type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type Config struct {
	APIKey string
	From   string
}

func NewProvider(config Config) (Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("RESEND_API_KEY is required to send email")
	}
	if config.From == "" {
		return nil, fmt.Errorf("EMAIL_FROM is required to send email")
	}
	return NewResendProvider(config.APIKey, config.From), nil
}
