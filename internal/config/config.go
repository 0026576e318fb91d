// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the OTLP gRPC ingestion listener (default :4317).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// HTTPAddr is the query API + OTLP/HTTP listener (default :3000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL selects the store: sqlite://path (default) or postgres://...
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// AutoMigrate applies pending migrations at server startup.
	AutoMigrate bool `mapstructure:"AUTO_MIGRATE"`
	// LogLevel is trace, debug, info, warn or error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the application environment (e.g. "development", "production"). Production runs gin in release mode.
	Env string `mapstructure:"APP_ENV"`
	// CORSOrigins is a comma-separated list of dashboard origins allowed by the API.
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	// IngestMaxInflight bounds records admitted concurrently into the store.
	IngestMaxInflight int `mapstructure:"INGEST_MAX_INFLIGHT"`
	// StorageMaxRetries bounds serialization-conflict retries per write.
	StorageMaxRetries int `mapstructure:"STORAGE_MAX_RETRIES"`
	// SessionIdleTimeout closes sessions not seen for this long; 0 disables the reaper.
	SessionIdleTimeout time.Duration `mapstructure:"SESSION_IDLE_TIMEOUT"`
	// ShutdownTimeout bounds graceful shutdown and pipeline drain.
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	// ReportTimezone is the IANA zone used for daily buckets and the heatmap.
	ReportTimezone string `mapstructure:"REPORT_TIMEZONE"`
	// MonthlyBudgetUSD is the budget compared against month-to-date cost.
	MonthlyBudgetUSD float64 `mapstructure:"MONTHLY_BUDGET_USD"`

	// Analytics cache (optional). Empty RedisURL disables it.
	RedisURL          string        `mapstructure:"REDIS_URL"`
	AnalyticsCacheTTL time.Duration `mapstructure:"ANALYTICS_CACHE_TTL"`

	// Classified-record mirror (optional). When Kafka brokers are set, accepted records are published.
	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for classified records (default codescope-telemetry).
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// Self telemetry. Empty endpoint disables OTLP export of the service's own traces, metrics and logs.
	OTelEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Ingest auth. When the public key is set (PEM or path), ingestion requires a Bearer JWT.
	IngestJWTPublicKey string `mapstructure:"INGEST_JWT_PUBLIC_KEY"`
	// IngestJWTPrivateKey is only used by scopectl to issue tokens.
	IngestJWTPrivateKey string        `mapstructure:"INGEST_JWT_PRIVATE_KEY"`
	IngestJWTIssuer     string        `mapstructure:"INGEST_JWT_ISSUER"`
	IngestJWTAudience   string        `mapstructure:"INGEST_JWT_AUDIENCE"`
	IngestJWTTTL        time.Duration `mapstructure:"INGEST_JWT_TTL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key; AutomaticEnv only reaches keys Viper knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("GRPC_ADDR", ":4317")
	v.SetDefault("HTTP_ADDR", ":3000")
	v.SetDefault("DATABASE_URL", "sqlite://./codescope.db")
	v.SetDefault("AUTO_MIGRATE", true)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("CORS_ORIGINS", "")
	v.SetDefault("INGEST_MAX_INFLIGHT", 256)
	v.SetDefault("STORAGE_MAX_RETRIES", 5)
	v.SetDefault("SESSION_IDLE_TIMEOUT", "30m")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("REPORT_TIMEZONE", "UTC")
	v.SetDefault("MONTHLY_BUDGET_USD", 500.0)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("ANALYTICS_CACHE_TTL", "30s")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "codescope-telemetry")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "codescope")
	v.SetDefault("INGEST_JWT_PUBLIC_KEY", "")
	v.SetDefault("INGEST_JWT_PRIVATE_KEY", "")
	v.SetDefault("INGEST_JWT_ISSUER", "codescope")
	v.SetDefault("INGEST_JWT_AUDIENCE", "codescope-ingest")
	v.SetDefault("INGEST_JWT_TTL", "0s")
}

// Validate checks addresses, bounds and the reporting timezone.
func (c *Config) Validate() error {
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.GRPCAddr == c.HTTPAddr {
		return errors.New("config: GRPC_ADDR and HTTP_ADDR must differ")
	}
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL must be set")
	}
	if c.IngestMaxInflight <= 0 {
		return errors.New("config: INGEST_MAX_INFLIGHT must be positive")
	}
	if c.StorageMaxRetries < 0 {
		return errors.New("config: STORAGE_MAX_RETRIES must not be negative")
	}
	if c.SessionIdleTimeout < 0 {
		return errors.New("config: SESSION_IDLE_TIMEOUT must not be negative")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("config: SHUTDOWN_TIMEOUT must be positive")
	}
	if c.MonthlyBudgetUSD <= 0 {
		return errors.New("config: MONTHLY_BUDGET_USD must be positive")
	}
	if c.AnalyticsCacheTTL < 0 {
		return errors.New("config: ANALYTICS_CACHE_TTL must not be negative")
	}
	if _, err := time.LoadLocation(c.ReportTimezone); err != nil {
		return fmt.Errorf("config: REPORT_TIMEZONE %q: %w", c.ReportTimezone, err)
	}
	return nil
}

// Location returns the reporting timezone. Validate guarantees it loads; UTC is the fallback.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ReportTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Production reports whether APP_ENV is production.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the mirror.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// CORSOriginList returns the allowed dashboard origins.
func (c *Config) CORSOriginList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.CORSOrigins)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
