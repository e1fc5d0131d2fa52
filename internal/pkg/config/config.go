// Package config loads the typed service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/PayRelay/internal/pkg/env"
	"github.com/go-playground/validator/v10"
)

// Config is the validated runtime configuration
type Config struct {
	AppHost string
	AppPort string `validate:"required,numeric"`

	// Webhooks
	WebhookSignatureKey string        `validate:"required"`
	PublicBaseURL       string        `validate:"omitempty,url"`
	MaxAttempts         int           `validate:"gte=1,lte=20"`
	RetryBaseDelay      time.Duration `validate:"gt=0"`
	RetryMaxDelay       time.Duration `validate:"gtefield=RetryBaseDelay"`
	Workers             int           `validate:"gte=1,lte=64"`
	ProcessTimeout      time.Duration `validate:"gt=0"`
	VisibilityTimeout   time.Duration `validate:"gtefield=ProcessTimeout"`
	StaleReceivedAfter  time.Duration `validate:"gt=0"`

	// Reconciliation
	ReconcileEnabled  bool
	ReconcileWindow   time.Duration `validate:"gt=0"`
	ReconcileInterval time.Duration `validate:"gt=0"`

	// Square API
	SquareBaseURL    string  `validate:"required,url"`
	SquareToken      string  `validate:"required_with=SquareLocationID"`
	SquareAPIVersion string  `validate:"required"`
	SquareLocationID string
	SquareRateRPS    float64 `validate:"gt=0"`

	// Registration linking
	RegistrationLinkTTL time.Duration `validate:"gt=0"`

	// Admin surface
	AdminJWTSecret      string
	MetricsUser         string
	MetricsPasswordHash string `validate:"required_with=MetricsUser"`

	OTELEndpoint string
}

// Load reads the configuration and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		AppHost: env.GetEnv("APP_HOST", "0.0.0.0"),
		AppPort: env.GetEnv("APP_PORT", "4000"),

		WebhookSignatureKey: env.GetEnv("SQUARE_WEBHOOK_SIGNATURE_KEY", ""),
		PublicBaseURL:       strings.TrimRight(env.GetEnv("PUBLIC_BASE_URL", ""), "/"),
		MaxAttempts:         env.GetInt("WEBHOOK_MAX_ATTEMPTS", 3),
		RetryBaseDelay:      env.GetDuration("WEBHOOK_RETRY_BASE_DELAY", 30*time.Second),
		RetryMaxDelay:       env.GetDuration("WEBHOOK_RETRY_MAX_DELAY", 15*time.Minute),
		Workers:             env.GetInt("WEBHOOK_WORKERS", 5),
		ProcessTimeout:      env.GetDuration("WEBHOOK_PROCESS_TIMEOUT", 30*time.Second),
		VisibilityTimeout:   env.GetDuration("WEBHOOK_VISIBILITY_TIMEOUT", 5*time.Minute),
		StaleReceivedAfter:  env.GetDuration("WEBHOOK_STALE_RECEIVED_AFTER", 2*time.Minute),

		ReconcileEnabled:  env.GetBool("RECONCILE_ENABLED", true),
		ReconcileWindow:   env.GetDuration("RECONCILE_WINDOW", 24*time.Hour),
		ReconcileInterval: env.GetDuration("RECONCILE_INTERVAL", time.Hour),

		SquareBaseURL:    strings.TrimRight(env.GetEnv("SQUARE_API_BASE_URL", "https://connect.squareupsandbox.com"), "/"),
		SquareToken:      env.GetEnv("SQUARE_ACCESS_TOKEN", ""),
		SquareAPIVersion: env.GetEnv("SQUARE_API_VERSION", "2024-06-04"),
		SquareLocationID: env.GetEnv("SQUARE_LOCATION_ID", ""),
		SquareRateRPS:    env.GetFloat("SQUARE_RATE_LIMIT_RPS", 10),

		RegistrationLinkTTL: env.GetDuration("REGISTRATION_LINK_TTL", 48*time.Hour),

		AdminJWTSecret:      env.GetEnv("ADMIN_JWT_SECRET", ""),
		MetricsUser:         env.GetEnv("METRICS_USER", ""),
		MetricsPasswordHash: env.GetEnv("METRICS_PASSWORD_HASH", ""),

		OTELEndpoint: env.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and reports all violations at once.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ListenAddr returns host:port for the HTTP server
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.AppHost, c.AppPort)
}
