package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"donatrack/pkg/s3"
)

// Config holds runtime configuration shared by the donatrack processes.
type Config struct {
	Addr               string        `env:"ADDR, default=:8080"`
	DBDSN              string        `env:"DB_DSN, required"`
	DBMaxConns         int32         `env:"DB_MAX_CONNS, default=20"`
	DBConnectTimeout   time.Duration `env:"DB_CONNECT_TIMEOUT, default=5s"`
	DBStatementTimeout time.Duration `env:"DB_STATEMENT_TIMEOUT, default=15s"`
	MutationTimeout    time.Duration `env:"MUTATION_TIMEOUT, default=10s"`
	TokenSigningKey    string        `env:"TOKEN_SIGNING_KEY"`
	TokenTTL           time.Duration `env:"TOKEN_TTL, default=12h"`
	NATSURL            string        `env:"NATS_URL"`
	OTLPEndpoint       string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	AllowedOrigins     []string      `env:"CORS_ALLOWED_ORIGINS, default=http://localhost:5173"`
	RateLimitPerMinute int           `env:"RATE_LIMIT_PER_MINUTE, default=300"`
	Timezone           string        `env:"TIMEZONE, default=UTC"`
	ReportBucket       string        `env:"REPORT_BUCKET"`
	ReportURLTTL       time.Duration `env:"REPORT_URL_TTL, default=15m"`
	ReportRecipients   []string      `env:"REPORT_AGE_RECIPIENTS"`
	LogLevel           string        `env:"LOG_LEVEL, default=info"`
	LogFormat          string        `env:"LOG_FORMAT, default=json"`
	SMTP               SMTP          `env:", prefix=SMTP_"`
	S3                 s3.Config     `env:", prefix=S3_"`
	Organization       string        `env:"ORGANIZATION_NAME, default=Donatrack"`
}

// SMTP configures receipt delivery in the notifier.
type SMTP struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT, default=587"`
	User     string `env:"USER"`
	Password string `env:"PASS"`
	From     string `env:"FROM, default=receipts@donatrack.local"`
}

// Load reads a local .env file when present and then the process
// environment.
func Load(ctx context.Context) (Config, error) {
	_ = godotenv.Load()
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom populates a Config from l.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return Config{}, err
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}
	if cfg.DBMaxConns < 1 {
		return Config{}, errors.New("DB_MAX_CONNS must be positive")
	}
	return cfg, nil
}

// Location resolves TIMEZONE.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	return loc, nil
}

// RequireAPI checks the settings only the HTTP API needs.
func (c Config) RequireAPI() error {
	if len(c.TokenSigningKey) < 32 {
		return errors.New("TOKEN_SIGNING_KEY must be at least 32 bytes")
	}
	if c.RateLimitPerMinute < 1 {
		return errors.New("RATE_LIMIT_PER_MINUTE must be positive")
	}
	return nil
}
