// Package config loads process configuration from the environment.
//
// A .env file in the working directory is read first if present; real
// environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/amp-labs/osf-moderation/notify"
	"github.com/amp-labs/osf-moderation/store/postgres"
)

var (
	ErrParsingConfig = errors.New("failed to parse configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Notification senders.
const (
	SenderLog      = "log"
	SenderPostmark = "postmark"
)

const developmentEnv = "development"

// Config is everything osfctl reads from the environment.
type Config struct {
	Env          string `env:"OSF_ENV"           envDefault:"development"`
	Domain       string `env:"OSF_DOMAIN"        envDefault:"http://localhost:5000/"`
	SupportEmail string `env:"OSF_SUPPORT_EMAIL" envDefault:"support@osf.io"`
	ContactEmail string `env:"OSF_CONTACT_EMAIL" envDefault:"contact@osf.io"`

	DBDriver  string          `env:"DB_DRIVER"  envDefault:"memory"`
	DBMigrate bool            `env:"DB_MIGRATE" envDefault:"false"`
	Postgres  postgres.Config

	TokenSecret string `env:"SANCTION_TOKEN_SECRET"`
	// TokenTTL makes approval links expire. Zero keeps them valid until used.
	TokenTTL time.Duration `env:"SANCTION_TOKEN_TTL" envDefault:"0s"`

	NotifySender     string                `env:"NOTIFY_SENDER"      envDefault:"log"`
	NotifyWorkers    int                   `env:"NOTIFY_WORKERS"     envDefault:"4"`
	NotifyMaxRetries uint                  `env:"NOTIFY_MAX_RETRIES" envDefault:"3"`
	Postmark         notify.PostmarkConfig

	LogJSON  bool   `env:"LOG_JSON"  envDefault:"false"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	OTelEnabled     bool          `env:"OTEL_ENABLED"                envDefault:"false"`
	OTelEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelServiceName string        `env:"OTEL_SERVICE_NAME"           envDefault:"osfctl"`
	OTelTimeout     time.Duration `env:"OTEL_EXPORTER_OTLP_TIMEOUT"  envDefault:"5s"`

	AutoApproveAfter time.Duration `env:"APPROVAL_AUTO_APPROVE_AFTER" envDefault:"48h"`
}

// Load reads .env, then the process environment.
func Load() (*Config, error) {
	// The file is optional.
	_ = godotenv.Load()

	return parse(env.Options{})
}

// FromMap parses vars instead of the process environment.
func FromMap(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config

	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, errors.Join(ErrParsingConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// IsDevelopment reports whether OSF_ENV is development.
func (c *Config) IsDevelopment() bool {
	return c.Env == developmentEnv
}

// Validate checks the combinations env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.DBDriver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, fmt.Errorf("%w: DB_DSN is required for driver %q", ErrInvalidConfig, c.DBDriver))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unknown DB_DRIVER %q", ErrInvalidConfig, c.DBDriver))
	}

	switch c.NotifySender {
	case SenderLog, SenderPostmark:
	default:
		errs = append(errs, fmt.Errorf("%w: unknown NOTIFY_SENDER %q", ErrInvalidConfig, c.NotifySender))
	}

	if c.TokenSecret == "" && !c.IsDevelopment() {
		errs = append(errs, fmt.Errorf("%w: SANCTION_TOKEN_SECRET is required in %s", ErrInvalidConfig, c.Env))
	}

	if c.TokenTTL < 0 {
		errs = append(errs, fmt.Errorf("%w: SANCTION_TOKEN_TTL must not be negative", ErrInvalidConfig))
	}

	if c.AutoApproveAfter <= 0 {
		errs = append(errs, fmt.Errorf("%w: APPROVAL_AUTO_APPROVE_AFTER must be positive", ErrInvalidConfig))
	}

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Level parses LOG_LEVEL.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level

	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("%w: LOG_LEVEL %q: %w", ErrInvalidConfig, c.LogLevel, err)
	}

	return level, nil
}

// Secret returns the token signing secret. Development falls back to a fixed
// value so local runs need no setup.
func (c *Config) Secret() []byte {
	if c.TokenSecret == "" {
		return []byte("osf-development-secret")
	}

	return []byte(c.TokenSecret)
}
