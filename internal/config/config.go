// Package config defines the process configuration for the facility PM
// services. Configuration is loaded once at startup and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> struct tag defaults (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"facilitypm/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Work order integration modes.
const (
	WorkOrderModeLocal  = "local"
	WorkOrderModeRemote = "remote"
)

// Config is the top-level configuration struct. Sub-components receive only
// the subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"facilitypm"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server     ServerConfig
	Database   DatabaseConfig
	Auth       AuthConfig
	PM         PMConfig
	WorkOrders WorkOrderConfig
	AWS        AWSConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"` // Fail fast when pool exhausted
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSigningKey SecretString `envconfig:"JWT_SIGNING_KEY" validate:"required,min=32"`
	JWTIssuer     string       `envconfig:"JWT_ISSUER"`
}

// PMConfig holds preventive maintenance scheduling tunables.
type PMConfig struct {
	HorizonDays      int    `envconfig:"PM_HORIZON_DAYS" default:"180" validate:"min=1,max=3660"`
	CalendarDays     int    `envconfig:"PM_CALENDAR_DAYS" default:"90" validate:"min=1,max=3660"`
	SweepConcurrency int    `envconfig:"PM_SWEEP_CONCURRENCY" default:"4" validate:"min=1,max=64"`
	SweepSchedule    string `envconfig:"PM_SWEEP_CRON" default:"0 6 * * *"`
	// LocalTrigger runs the sweep in-process on SweepSchedule instead of
	// relying on an external scheduler invoking pm-sweeper.
	LocalTrigger bool `envconfig:"PM_LOCAL_TRIGGER" default:"false"`
}

// WorkOrderConfig selects where generated work orders are written. In local
// mode they go to the work_orders table in the same transaction as the
// occurrence update; in remote mode they are created through the work order
// service API.
type WorkOrderConfig struct {
	Mode    string        `envconfig:"WORK_ORDER_MODE" default:"local" validate:"oneof=local remote"`
	BaseURL string        `envconfig:"WORK_ORDER_BASE_URL" validate:"required_if=Mode remote,omitempty,url"`
	APIKey  SecretString  `envconfig:"WORK_ORDER_API_KEY" validate:"required_if=Mode remote"`
	Timeout time.Duration `envconfig:"WORK_ORDER_TIMEOUT" default:"10s"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// CompletionQueueURL receives work order completion events. Empty means
	// completions are applied synchronously by the API.
	CompletionQueueURL string `envconfig:"COMPLETION_QUEUE_URL" validate:"omitempty,url"`
	MetricNamespace    string `envconfig:"METRIC_NAMESPACE" default:"FacilityPM"`
	EnableMetrics      bool   `envconfig:"ENABLE_METRICS" default:"false"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
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
