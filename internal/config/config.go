// Package config defines the global configuration structure for the PitchCraft
// platform. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved from the OS environment, with a dotenv file as a
// lower-priority source for local development. Any missing required value or
// invalid format causes the application to fail immediately on startup.
package config

import (
	"time"

	"pitchcraft/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the PitchCraft platform.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"pitchcraft-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server     ServerConfig
	Database   DatabaseConfig
	Billing    BillingConfig
	Generation GenerationConfig
	Auth       AuthConfig
	Quota      QuotaConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public URLs for checkout redirects (no trailing slash).
	AppURL string `envconfig:"APP_URL" default:"http://localhost:8080" validate:"required,url"`

	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`

	// CorsAllowedOrigins lists origins permitted to call the API from a
	// browser. "*" allows any origin.
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`

	// CallTimeout bounds every durable-backend call. Expiry is treated as
	// a backend failure and triggers storage failover rather than a retry.
	CallTimeout time.Duration `envconfig:"DB_CALL_TIMEOUT" default:"3s"`
}

// BillingConfig holds Stripe payment integration credentials and keys.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	// PriceIDs maps plan tiers to Stripe price identifiers, as a JSON
	// object: {"pro": "price_...", "agency": "price_..."}.
	PriceIDs string `envconfig:"STRIPE_PRICE_IDS_JSON" default:"{}" validate:"json"`
}

// GenerationConfig holds the external message-generation collaborator settings.
type GenerationConfig struct {
	APIKey      SecretString  `envconfig:"GENERATION_API_KEY" validate:"required"`
	EndpointURL string        `envconfig:"GENERATION_ENDPOINT_URL" validate:"required,url"`
	Model       string        `envconfig:"GENERATION_MODEL" default:"gpt-4o-mini"`
	Timeout     time.Duration `envconfig:"GENERATION_TIMEOUT" default:"45s"`
}

// AuthConfig holds session signing secrets and credential hashing parameters.
type AuthConfig struct {
	SessionKey SecretString  `envconfig:"SESSION_KEY" validate:"required,min=32"`
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"720h"`
	BcryptCost int           `envconfig:"BCRYPT_COST" default:"10" validate:"min=4,max=31"`
}

// QuotaConfig holds metering constants that are independent of the plan catalog.
type QuotaConfig struct {
	// AnonymousAllowance is the lifetime number of generations permitted
	// per anonymous fingerprint before login is required. It never resets.
	AnonymousAllowance int `envconfig:"ANONYMOUS_ALLOWANCE" default:"3" validate:"min=0"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
