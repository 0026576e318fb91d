package config

import (
	"slices"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddr != ":4317" || cfg.HTTPAddr != ":3000" {
		t.Errorf("addrs = %q, %q", cfg.GRPCAddr, cfg.HTTPAddr)
	}
	if cfg.DatabaseURL != "sqlite://./codescope.db" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if !cfg.AutoMigrate {
		t.Error("AutoMigrate should default to true")
	}
	if cfg.IngestMaxInflight != 256 {
		t.Errorf("IngestMaxInflight = %d, want 256", cfg.IngestMaxInflight)
	}
	if cfg.StorageMaxRetries != 5 {
		t.Errorf("StorageMaxRetries = %d, want 5", cfg.StorageMaxRetries)
	}
	if cfg.SessionIdleTimeout != 30*time.Minute {
		t.Errorf("SessionIdleTimeout = %v, want 30m", cfg.SessionIdleTimeout)
	}
	if cfg.AnalyticsCacheTTL != 30*time.Second {
		t.Errorf("AnalyticsCacheTTL = %v, want 30s", cfg.AnalyticsCacheTTL)
	}
	if cfg.MonthlyBudgetUSD != 500 {
		t.Errorf("MonthlyBudgetUSD = %v, want 500", cfg.MonthlyBudgetUSD)
	}
	if cfg.Location() != time.UTC {
		t.Errorf("Location = %v, want UTC", cfg.Location())
	}
	if cfg.TelemetryKafkaTopic != "codescope-telemetry" {
		t.Errorf("TelemetryKafkaTopic = %q", cfg.TelemetryKafkaTopic)
	}
	if cfg.IngestJWTPublicKey != "" || cfg.IngestJWTTTL != 0 {
		t.Errorf("ingest auth should be disabled by default: %q %v", cfg.IngestJWTPublicKey, cfg.IngestJWTTTL)
	}
	if cfg.Production() {
		t.Error("default env is not production")
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	t.Setenv("GRPC_ADDR", ":9090")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/codescope")
	t.Setenv("INGEST_MAX_INFLIGHT", "32")
	t.Setenv("SESSION_IDLE_TIMEOUT", "0s")
	t.Setenv("MONTHLY_BUDGET_USD", "1250.5")
	t.Setenv("AUTO_MIGRATE", "false")
	t.Setenv("APP_ENV", "Production")
	t.Setenv("INGEST_JWT_TTL", "720h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":9090")
	}
	if !strings.HasPrefix(cfg.DatabaseURL, "postgres://") {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.IngestMaxInflight != 32 {
		t.Errorf("IngestMaxInflight = %d, want 32", cfg.IngestMaxInflight)
	}
	if cfg.SessionIdleTimeout != 0 {
		t.Errorf("SessionIdleTimeout = %v, want 0 (reaper disabled)", cfg.SessionIdleTimeout)
	}
	if cfg.MonthlyBudgetUSD != 1250.5 {
		t.Errorf("MonthlyBudgetUSD = %v", cfg.MonthlyBudgetUSD)
	}
	if cfg.AutoMigrate {
		t.Error("AutoMigrate should be false")
	}
	if !cfg.Production() {
		t.Error("APP_ENV=Production should be production")
	}
	if cfg.IngestJWTTTL != 720*time.Hour {
		t.Errorf("IngestJWTTTL = %v", cfg.IngestJWTTTL)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	testCases := []struct {
		name, key, value, wantErr string
	}{
		{"same listeners", "HTTP_ADDR", ":4317", "must differ"},
		{"zero inflight", "INGEST_MAX_INFLIGHT", "0", "INGEST_MAX_INFLIGHT"},
		{"negative retries", "STORAGE_MAX_RETRIES", "-1", "STORAGE_MAX_RETRIES"},
		{"negative idle timeout", "SESSION_IDLE_TIMEOUT", "-5m", "SESSION_IDLE_TIMEOUT"},
		{"zero budget", "MONTHLY_BUDGET_USD", "0", "MONTHLY_BUDGET_USD"},
		{"unknown timezone", "REPORT_TIMEZONE", "Not/AZone", "REPORT_TIMEZONE"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if err == nil {
				t.Fatalf("Load with %s=%q: want error", tc.key, tc.value)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	base := Config{
		GRPCAddr:          ":4317",
		HTTPAddr:          ":3000",
		DatabaseURL:       "sqlite://x.db",
		IngestMaxInflight: 1,
		ShutdownTimeout:   time.Second,
		MonthlyBudgetUSD:  1,
		ReportTimezone:    "UTC",
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}
	for name, mutate := range map[string]func(c *Config){
		"grpc addr":    func(c *Config) { c.GRPCAddr = "" },
		"http addr":    func(c *Config) { c.HTTPAddr = "" },
		"database url": func(c *Config) { c.DatabaseURL = "" },
		"shutdown":     func(c *Config) { c.ShutdownTimeout = 0 },
	} {
		c := base
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: want error", name)
		}
	}
}

func TestLists(t *testing.T) {
	cfg := &Config{
		KafkaBrokers: " kafka-1:9092, ,kafka-2:9092 ",
		CORSOrigins:  "http://localhost:5173,https://dash.example.com",
	}
	if got := cfg.KafkaBrokersList(); !slices.Equal(got, []string{"kafka-1:9092", "kafka-2:9092"}) {
		t.Errorf("KafkaBrokersList = %v", got)
	}
	if got := cfg.CORSOriginList(); len(got) != 2 || got[1] != "https://dash.example.com" {
		t.Errorf("CORSOriginList = %v", got)
	}
	if got := (&Config{}).KafkaBrokersList(); got != nil {
		t.Errorf("empty brokers = %v, want nil", got)
	}
	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil || nilCfg.CORSOriginList() != nil {
		t.Error("nil config lists should be nil")
	}
}
