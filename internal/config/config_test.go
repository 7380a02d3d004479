package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
)

func TestConstants(t *testing.T) {
	if DefaultConcurrency != 3 {
		t.Errorf("DefaultConcurrency = %d, want 3", DefaultConcurrency)
	}
	if MaxConcurrency != 10 {
		t.Errorf("MaxConcurrency = %d, want 10", MaxConcurrency)
	}
	if MaxDelay != 2*time.Second {
		t.Errorf("MaxDelay = %v, want 2s", MaxDelay)
	}
	if DefaultSequentialDelay != time.Second {
		t.Errorf("DefaultSequentialDelay = %v, want 1s", DefaultSequentialDelay)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.API.Addr != ":8080" {
		t.Errorf("API.Addr = %s, want :8080", cfg.API.Addr)
	}
	if cfg.Redis.URL != "localhost:6379" {
		t.Errorf("Redis.URL = %s, want localhost:6379", cfg.Redis.URL)
	}
	if cfg.Dispatch.Concurrency != DefaultConcurrency {
		t.Errorf("Dispatch.Concurrency = %d, want %d", cfg.Dispatch.Concurrency, DefaultConcurrency)
	}
	if cfg.Transport.Provider != ProviderHTTP {
		t.Errorf("Transport.Provider = %s, want http", cfg.Transport.Provider)
	}
	if cfg.Transport.SMTP.Port != 587 || !cfg.Transport.SMTP.TLS {
		t.Errorf("SMTP defaults = %+v", cfg.Transport.SMTP)
	}
	if cfg.Activity.Capacity != 1000 {
		t.Errorf("Activity.Capacity = %d, want 1000", cfg.Activity.Capacity)
	}
	if cfg.Metrics.Provider != "noop" {
		t.Errorf("Metrics.Provider = %s, want noop", cfg.Metrics.Provider)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/bulkmail")
	t.Setenv("API_ADDR", ":9090")
	t.Setenv("DISPATCH_CONCURRENCY", "5")
	t.Setenv("DISPATCH_DELAY", "250ms")
	t.Setenv("MAIL_TRANSPORT", "SMTP")
	t.Setenv("SMTP_PORT", "465")
	t.Setenv("SMTP_SSL", "true")
	t.Setenv("AUTH_ENABLED", "yes")
	t.Setenv("API_KEYS", "key-one, key-two,,")
	t.Setenv("TRACING_SAMPLE_RATE", "0.25")
	t.Setenv("API_CLIENT_RATE_LIMIT", "20")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.URL != "postgres://localhost/bulkmail" {
		t.Errorf("Database.URL = %s", cfg.Database.URL)
	}
	if cfg.API.Addr != ":9090" {
		t.Errorf("API.Addr = %s, want :9090", cfg.API.Addr)
	}
	if cfg.Dispatch.Concurrency != 5 {
		t.Errorf("Dispatch.Concurrency = %d, want 5", cfg.Dispatch.Concurrency)
	}
	if cfg.Dispatch.Delay != 250*time.Millisecond {
		t.Errorf("Dispatch.Delay = %v, want 250ms", cfg.Dispatch.Delay)
	}
	if cfg.Transport.Provider != ProviderSMTP {
		t.Errorf("Transport.Provider = %s, want smtp", cfg.Transport.Provider)
	}
	if cfg.Transport.SMTP.Port != 465 || !cfg.Transport.SMTP.SSL {
		t.Errorf("SMTP = %+v", cfg.Transport.SMTP)
	}
	if !cfg.Auth.Enabled {
		t.Error("Auth.Enabled should be true")
	}
	if len(cfg.Auth.APIKeys) != 2 || cfg.Auth.APIKeys[1] != "key-two" {
		t.Errorf("Auth.APIKeys = %v", cfg.Auth.APIKeys)
	}
	if cfg.Tracing.SampleRate != 0.25 {
		t.Errorf("Tracing.SampleRate = %v, want 0.25", cfg.Tracing.SampleRate)
	}
	if cfg.API.ClientRateLimit != 20 || cfg.API.SendRateLimit != 10 {
		t.Errorf("API rate limits = %d/%d, want 20/10", cfg.API.ClientRateLimit, cfg.API.SendRateLimit)
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "bulkmail.yaml")
	content := `
database:
  url: postgres://yaml/bulkmail
dispatch:
  concurrency: 7
  delay: 1s
  template_engine: liquid
transport:
  provider: resend
  resend:
    api_key: re_test
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DISPATCH_CONCURRENCY", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.URL != "postgres://yaml/bulkmail" {
		t.Errorf("Database.URL = %s", cfg.Database.URL)
	}
	if cfg.Dispatch.Concurrency != 2 {
		t.Errorf("env should override yaml, got %d", cfg.Dispatch.Concurrency)
	}
	if cfg.Dispatch.Delay != time.Second {
		t.Errorf("Dispatch.Delay = %v, want 1s", cfg.Dispatch.Delay)
	}
	if cfg.Dispatch.TemplateEngine != "liquid" {
		t.Errorf("TemplateEngine = %s, want liquid", cfg.Dispatch.TemplateEngine)
	}
	if cfg.Dispatch.SendTimeout != DefaultSendTimeout {
		t.Errorf("unset yaml keys should keep defaults, got %v", cfg.Dispatch.SendTimeout)
	}
	if err := cfg.ValidateServer(); err != nil {
		t.Errorf("ValidateServer() = %v", err)
	}
}

func TestLoad_BadFile(t *testing.T) {
	clearEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(path, []byte("dispatch: [unterminated"), 0o600)
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestLoadConfig_InvalidEnvValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISPATCH_CONCURRENCY", "lots")
	t.Setenv("DISPATCH_DELAY", "soon")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Dispatch.Concurrency != DefaultConcurrency {
		t.Errorf("invalid int should fall back, got %d", cfg.Dispatch.Concurrency)
	}
	if cfg.Dispatch.Delay != DefaultDelay {
		t.Errorf("invalid duration should fall back, got %v", cfg.Dispatch.Delay)
	}
}

func TestValidateServer(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"missing database", func(c *Config) {}, ErrDatabaseURLRequired},
		{"missing redis", func(c *Config) { c.Database.URL = "postgres://x"; c.Redis.URL = "" }, ErrRedisURLRequired},
		{"auth without keys", func(c *Config) { c.Database.URL = "postgres://x"; c.Auth.Enabled = true }, ErrAPIKeysRequired},
		{"unknown provider", func(c *Config) { c.Database.URL = "postgres://x"; c.Transport.Provider = "pigeon" }, ErrUnknownProvider},
		{"resend without key", func(c *Config) { c.Database.URL = "postgres://x"; c.Transport.Provider = ProviderResend }, ErrResendKeyRequired},
		{"http without url", func(c *Config) { c.Database.URL = "postgres://x"; c.Transport.HTTP.URL = "" }, ErrMailAPIURLRequired},
		{"valid", func(c *Config) { c.Database.URL = "postgres://x" }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.ValidateServer()
			if !errors.Is(err, tt.want) {
				t.Errorf("ValidateServer() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDispatchConfig_Clamp(t *testing.T) {
	d := Default().Dispatch

	tests := []struct {
		name string
		in   domain.RunConfig
		want domain.RunConfig
	}{
		{"within bounds", domain.RunConfig{Concurrency: 4, Delay: time.Second}, domain.RunConfig{Concurrency: 4, Delay: time.Second}},
		{"zero concurrency uses default", domain.RunConfig{}, domain.RunConfig{Concurrency: DefaultConcurrency}},
		{"too many", domain.RunConfig{Concurrency: 50}, domain.RunConfig{Concurrency: MaxConcurrency}},
		{"negative delay", domain.RunConfig{Concurrency: 1, Delay: -time.Second}, domain.RunConfig{Concurrency: 1}},
		{"long delay", domain.RunConfig{Concurrency: 1, Delay: time.Minute}, domain.RunConfig{Concurrency: 1, Delay: MaxDelay}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Clamp(tt.in); got != tt.want {
				t.Errorf("Clamp(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}

	if rc := d.RunConfig(); rc.Concurrency != DefaultConcurrency || rc.Delay != DefaultDelay {
		t.Errorf("RunConfig() = %+v", rc)
	}
}

func TestValidateEndpointURL(t *testing.T) {
	valid := []string{
		"http://localhost:5000/send-email",
		"https://mail.example.com/api/send",
	}
	for _, u := range valid {
		if err := ValidateEndpointURL(u); err != nil {
			t.Errorf("ValidateEndpointURL(%q) = %v", u, err)
		}
	}

	invalid := []struct {
		url  string
		want error
	}{
		{"", ErrInvalidURL},
		{"ftp://example.com/", ErrInvalidURLScheme},
		{"http://" + strings.Repeat("a", MaxURLLength), ErrURLTooLong},
		{"://missing-scheme", ErrInvalidURL},
		{"/relative/path", ErrInvalidURL},
	}
	for _, tt := range invalid {
		if err := ValidateEndpointURL(tt.url); !errors.Is(err, tt.want) {
			t.Errorf("ValidateEndpointURL(%.30q) = %v, want %v", tt.url, err, tt.want)
		}
	}
}

func TestGetEnvHelpers(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_VAR", "value")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_DUR", "5s")
	t.Setenv("TEST_BOOL", "1")
	t.Setenv("TEST_FLOAT", "0.5")

	if got := getEnv("TEST_VAR", "d"); got != "value" {
		t.Errorf("getEnv = %s", got)
	}
	if got := getEnv("TEST_UNSET", "d"); got != "d" {
		t.Errorf("getEnv default = %s", got)
	}
	if got := getEnvInt("TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt = %d", got)
	}
	if got := getEnvDuration("TEST_DUR", 0); got != 5*time.Second {
		t.Errorf("getEnvDuration = %v", got)
	}
	if !getEnvBool("TEST_BOOL", false) {
		t.Error("getEnvBool should be true")
	}
	if got := getEnvFloat("TEST_FLOAT", 0); got != 0.5 {
		t.Errorf("getEnvFloat = %v", got)
	}
	if got := getEnvList("TEST_UNSET"); got != nil {
		t.Errorf("getEnvList = %v", got)
	}
}

// clearEnv blanks all variables LoadConfig reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"CONFIG_FILE",
		"DATABASE_URL", "DATABASE_MAX_CONNS", "DATABASE_MIN_CONNS",
		"DATABASE_MAX_CONN_LIFETIME", "DATABASE_MAX_CONN_IDLE_TIME", "AUTO_MIGRATE",
		"REDIS_URL", "REDIS_POOL_SIZE", "REDIS_READ_TIMEOUT", "REDIS_WRITE_TIMEOUT",
		"API_ADDR", "API_READ_TIMEOUT", "API_WRITE_TIMEOUT",
		"API_IDLE_TIMEOUT", "API_SHUTDOWN_TIMEOUT", "API_MAX_UPLOAD_BYTES",
		"API_GLOBAL_RATE_LIMIT", "API_CLIENT_RATE_LIMIT", "API_SEND_RATE_LIMIT",
		"AUTH_ENABLED", "API_KEYS",
		"DISPATCH_CONCURRENCY", "DISPATCH_DELAY", "DISPATCH_SEQUENTIAL_DELAY",
		"DISPATCH_SEND_TIMEOUT", "TEMPLATE_ENGINE", "AUDIT_BUFFER", "AUDIT_WORKERS",
		"RUN_LOCK_TTL", "DISPATCH_SHUTDOWN_TIMEOUT",
		"MAIL_TRANSPORT", "MAIL_TIMEOUT", "MAIL_API_URL",
		"SMTP_HOST", "SMTP_PORT", "SMTP_SSL", "SMTP_TLS",
		"AWS_REGION", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "RESEND_API_KEY",
		"METRICS_PROVIDER", "METRICS_SERVICE_NAME", "SERVICE_VERSION", "ENVIRONMENT",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
		"TRACING_ENABLED", "TRACING_SAMPLE_RATE", "TRACING_INSECURE", "TRACING_SERVICE_NAME",
		"ACTIVITY_CAPACITY", "ACTIVITY_SUBSCRIBER_BUFFER", "DRAFT_TTL", "PROGRESS_TTL",
	}
	for _, v := range envVars {
		t.Setenv(v, "")
	}
}
