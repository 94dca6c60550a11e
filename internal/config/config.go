// Package config defines the process configuration for planguard. It is loaded
// once at startup and is immutable thereafter.
//
// Values are resolved with the priority OS environment > .env file > defaults.
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"planguard/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Store and usage backends.
const (
	BackendPostgres = "postgres"
	BackendSupabase = "supabase"
	BackendStore    = "store"
	BackendRedis    = "redis"
)

// Metrics backends.
const (
	MetricsNone       = "none"
	MetricsPrometheus = "prometheus"
	MetricsCloudWatch = "cloudwatch"
)

// Config is the top-level configuration. Sub-components receive only the
// section they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"planguard"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Store         StoreConfig
	Usage         UsageConfig
	Billing       BillingConfig
	Observability ObservabilityConfig
	Security      SecurityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

// StoreConfig selects where subscription rows live.
type StoreConfig struct {
	Backend string `envconfig:"STORE_BACKEND" default:"postgres" validate:"oneof=postgres supabase"`

	DatabaseURL     SecretString  `envconfig:"DATABASE_URL" validate:"required_if=Backend postgres"`
	MaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns        int32         `envconfig:"DB_MIN_CONNS" default:"1" validate:"min=0,ltefield=MaxConns"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	MaxConnIdleTime time.Duration `envconfig:"DB_MAX_CONN_IDLE_TIME" default:"5m"`
	AutoMigrate     bool          `envconfig:"DB_AUTO_MIGRATE" default:"false"`

	SupabaseURL            string       `envconfig:"SUPABASE_URL" validate:"required_if=Backend supabase,omitempty,url"`
	SupabaseServiceRoleKey SecretString `envconfig:"SUPABASE_SERVICE_ROLE_KEY" validate:"required_if=Backend supabase"`
}

// UsageConfig selects where daily counters live. "store" keeps them next to
// the subscription rows.
type UsageConfig struct {
	Backend    string        `envconfig:"USAGE_BACKEND" default:"store" validate:"oneof=store redis"`
	RedisURL   SecretString  `envconfig:"REDIS_URL" validate:"required_if=Backend redis"`
	CounterTTL time.Duration `envconfig:"USAGE_COUNTER_TTL" default:"48h"`
}

// BillingConfig holds Stripe credentials, price ids and handler bounds.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	StripeAPIBase       string       `envconfig:"STRIPE_API_BASE" default:"https://api.stripe.com" validate:"url"`

	PriceBasic string `envconfig:"STRIPE_PRICE_BASIC"`
	PricePro   string `envconfig:"STRIPE_PRICE_PRO"`
	PriceTeam  string `envconfig:"STRIPE_PRICE_TEAM"`

	SuccessURL string `envconfig:"CHECKOUT_SUCCESS_URL" validate:"required,url"`
	CancelURL  string `envconfig:"CHECKOUT_CANCEL_URL" validate:"required,url"`

	ProviderTimeout time.Duration `envconfig:"STRIPE_TIMEOUT" default:"10s"`
	StoreTimeout    time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`
	OrphanGrace     time.Duration `envconfig:"WEBHOOK_ORPHAN_GRACE" default:"1h"`
}

// Prices returns the configured plan → price id pairs.
func (b BillingConfig) Prices() map[types.PlanID]string {
	return map[types.PlanID]string{
		types.PlanBasic: b.PriceBasic,
		types.PlanPro:   b.PricePro,
		types.PlanTeam:  b.PriceTeam,
	}
}

// ObservabilityConfig holds metrics settings.
type ObservabilityConfig struct {
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=none prometheus cloudwatch"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"planguard"`
	AWSRegion       string `envconfig:"AWS_REGION" default:"us-east-1"`
}

// SecurityConfig holds CORS settings and the header carrying the identity
// resolved by the upstream auth layer.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	IdentityHeader     string   `envconfig:"IDENTITY_HEADER" default:"X-User-ID"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
