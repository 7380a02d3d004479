package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
)

const (
	// MaxURLLength is the maximum allowed URL length.
	MaxURLLength = 2048

	// DefaultConcurrency is the default number of sends per batch window.
	DefaultConcurrency = 3

	// MaxConcurrency is the largest batch window an operator may choose.
	MaxConcurrency = 10

	// DefaultDelay is the default pause before issuing each send.
	DefaultDelay = 500 * time.Millisecond

	// MaxDelay is the largest per-send delay an operator may choose.
	MaxDelay = 2 * time.Second

	// DefaultSequentialDelay is the fixed gap between sends in sequential mode.
	DefaultSequentialDelay = time.Second

	// DefaultSendTimeout bounds a single send.
	DefaultSendTimeout = 30 * time.Second
)

// Transport provider names.
const (
	ProviderHTTP   = "http"
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderResend = "resend"
)

// Config holds all application configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	API       APIConfig       `yaml:"api"`
	Auth      AuthConfig      `yaml:"auth"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Transport TransportConfig `yaml:"transport"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Activity  ActivityConfig  `yaml:"activity"`
	Drafts    DraftConfig     `yaml:"drafts"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// APIConfig holds API server configuration.
type APIConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	GlobalRateLimit int           `yaml:"global_rate_limit"` // Requests per second across all clients (0 = unlimited)
	ClientRateLimit int           `yaml:"client_rate_limit"` // Requests per second per API key (0 = unlimited)
	SendRateLimit   int           `yaml:"send_rate_limit"`   // Sends and connection tests per minute per API key
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	Enabled bool     `yaml:"enabled"`
	APIKeys []string `yaml:"api_keys"`
}

// DispatchConfig holds campaign dispatch settings.
type DispatchConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	Delay           time.Duration `yaml:"delay"`
	SequentialDelay time.Duration `yaml:"sequential_delay"`
	SendTimeout     time.Duration `yaml:"send_timeout"`
	TemplateEngine  string        `yaml:"template_engine"`
	AuditBuffer     int           `yaml:"audit_buffer"`
	AuditWorkers    int           `yaml:"audit_workers"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TransportConfig selects and configures the outbound mail transport.
type TransportConfig struct {
	Provider string        `yaml:"provider"`
	Timeout  time.Duration `yaml:"timeout"`
	HTTP     HTTPConfig    `yaml:"http"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	SES      SESConfig     `yaml:"ses"`
	Resend   ResendConfig  `yaml:"resend"`
}

// HTTPConfig configures the HTTP mail-API transport.
type HTTPConfig struct {
	URL string `yaml:"url"`
}

// SMTPConfig configures the SMTP transport. Credentials come from the
// campaign's sender identity.
type SMTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	SSL  bool   `yaml:"ssl"`
	TLS  bool   `yaml:"tls"`
}

// SESConfig configures the Amazon SES transport.
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// ResendConfig configures the Resend transport.
type ResendConfig struct {
	APIKey string `yaml:"api_key"`
}

// MetricsConfig holds metrics provider configuration.
type MetricsConfig struct {
	Provider       string `yaml:"provider"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
	Endpoint       string `yaml:"endpoint"`
}

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
}

// ActivityConfig sizes the in-memory activity log.
type ActivityConfig struct {
	Capacity         int `yaml:"capacity"`
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// DraftConfig holds draft and progress retention.
type DraftConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	ProgressTTL time.Duration `yaml:"progress_ttl"`
}

// Validation errors.
var (
	ErrDatabaseURLRequired = errors.New("DATABASE_URL environment variable is required")
	ErrRedisURLRequired    = errors.New("REDIS_URL environment variable is required")
	ErrAPIKeysRequired     = errors.New("API_KEYS must be set when AUTH_ENABLED is true")
	ErrInvalidURL          = errors.New("invalid URL format")
	ErrInvalidURLScheme    = errors.New("URL scheme must be http or https")
	ErrURLTooLong          = fmt.Errorf("URL exceeds maximum length of %d characters", MaxURLLength)
	ErrUnknownProvider     = errors.New("unknown transport provider")
	ErrMailAPIURLRequired  = errors.New("MAIL_API_URL is required for the http transport")
	ErrResendKeyRequired   = errors.New("RESEND_API_KEY is required for the resend transport")
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			MaxConns:        20,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			URL:          "localhost:6379",
			PoolSize:     20,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		API: APIConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    0, // SSE streams stay open
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  5 << 20,
			SendRateLimit:   10,
		},
		Auth: AuthConfig{Enabled: false},
		Dispatch: DispatchConfig{
			Concurrency:     DefaultConcurrency,
			Delay:           DefaultDelay,
			SequentialDelay: DefaultSequentialDelay,
			SendTimeout:     DefaultSendTimeout,
			TemplateEngine:  "placeholder",
			AuditBuffer:     1024,
			AuditWorkers:    4,
			LockTTL:         6 * time.Hour,
			ShutdownTimeout: 30 * time.Second,
		},
		Transport: TransportConfig{
			Provider: ProviderHTTP,
			Timeout:  DefaultSendTimeout,
			HTTP:     HTTPConfig{URL: "http://localhost:5000/send-email"},
			SMTP:     SMTPConfig{Host: "smtp.gmail.com", Port: 587, TLS: true},
			SES:      SESConfig{Region: "us-east-1"},
		},
		Metrics: MetricsConfig{
			Provider:       "noop",
			ServiceName:    "bulkmail",
			ServiceVersion: "dev",
			Environment:    "development",
		},
		Tracing: TracingConfig{
			SampleRate:  1.0,
			Insecure:    true,
			ServiceName: "bulkmail",
		},
		Activity: ActivityConfig{Capacity: 1000, SubscriberBuffer: 100},
		Drafts:   DraftConfig{TTL: 30 * 24 * time.Hour, ProgressTTL: 24 * time.Hour},
	}
}

// LoadConfig loads configuration from the optional YAML file named by
// CONFIG_FILE, then applies environment overrides.
func LoadConfig() (*Config, error) {
	return Load(os.Getenv("CONFIG_FILE"))
}

// Load reads defaults, then the YAML file at path when non-empty, then
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	// Database config
	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxConns = int32(getEnvInt("DATABASE_MAX_CONNS", int(cfg.Database.MaxConns)))
	cfg.Database.MinConns = int32(getEnvInt("DATABASE_MIN_CONNS", int(cfg.Database.MinConns)))
	cfg.Database.MaxConnLifetime = getEnvDuration("DATABASE_MAX_CONN_LIFETIME", cfg.Database.MaxConnLifetime)
	cfg.Database.MaxConnIdleTime = getEnvDuration("DATABASE_MAX_CONN_IDLE_TIME", cfg.Database.MaxConnIdleTime)
	cfg.Database.AutoMigrate = getEnvBool("AUTO_MIGRATE", cfg.Database.AutoMigrate)

	// Redis config
	cfg.Redis.URL = getEnv("REDIS_URL", cfg.Redis.URL)
	cfg.Redis.PoolSize = getEnvInt("REDIS_POOL_SIZE", cfg.Redis.PoolSize)
	cfg.Redis.ReadTimeout = getEnvDuration("REDIS_READ_TIMEOUT", cfg.Redis.ReadTimeout)
	cfg.Redis.WriteTimeout = getEnvDuration("REDIS_WRITE_TIMEOUT", cfg.Redis.WriteTimeout)

	// API config
	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.API.ReadTimeout = getEnvDuration("API_READ_TIMEOUT", cfg.API.ReadTimeout)
	cfg.API.WriteTimeout = getEnvDuration("API_WRITE_TIMEOUT", cfg.API.WriteTimeout)
	cfg.API.IdleTimeout = getEnvDuration("API_IDLE_TIMEOUT", cfg.API.IdleTimeout)
	cfg.API.ShutdownTimeout = getEnvDuration("API_SHUTDOWN_TIMEOUT", cfg.API.ShutdownTimeout)
	cfg.API.MaxUploadBytes = int64(getEnvInt("API_MAX_UPLOAD_BYTES", int(cfg.API.MaxUploadBytes)))
	cfg.API.GlobalRateLimit = getEnvInt("API_GLOBAL_RATE_LIMIT", cfg.API.GlobalRateLimit)
	cfg.API.ClientRateLimit = getEnvInt("API_CLIENT_RATE_LIMIT", cfg.API.ClientRateLimit)
	cfg.API.SendRateLimit = getEnvInt("API_SEND_RATE_LIMIT", cfg.API.SendRateLimit)

	// Auth config
	cfg.Auth.Enabled = getEnvBool("AUTH_ENABLED", cfg.Auth.Enabled)
	if keys := getEnvList("API_KEYS"); len(keys) > 0 {
		cfg.Auth.APIKeys = keys
	}

	// Dispatch config
	cfg.Dispatch.Concurrency = getEnvInt("DISPATCH_CONCURRENCY", cfg.Dispatch.Concurrency)
	cfg.Dispatch.Delay = getEnvDuration("DISPATCH_DELAY", cfg.Dispatch.Delay)
	cfg.Dispatch.SequentialDelay = getEnvDuration("DISPATCH_SEQUENTIAL_DELAY", cfg.Dispatch.SequentialDelay)
	cfg.Dispatch.SendTimeout = getEnvDuration("DISPATCH_SEND_TIMEOUT", cfg.Dispatch.SendTimeout)
	cfg.Dispatch.TemplateEngine = getEnv("TEMPLATE_ENGINE", cfg.Dispatch.TemplateEngine)
	cfg.Dispatch.AuditBuffer = getEnvInt("AUDIT_BUFFER", cfg.Dispatch.AuditBuffer)
	cfg.Dispatch.AuditWorkers = getEnvInt("AUDIT_WORKERS", cfg.Dispatch.AuditWorkers)
	cfg.Dispatch.LockTTL = getEnvDuration("RUN_LOCK_TTL", cfg.Dispatch.LockTTL)
	cfg.Dispatch.ShutdownTimeout = getEnvDuration("DISPATCH_SHUTDOWN_TIMEOUT", cfg.Dispatch.ShutdownTimeout)

	// Transport config
	cfg.Transport.Provider = strings.ToLower(getEnv("MAIL_TRANSPORT", cfg.Transport.Provider))
	cfg.Transport.Timeout = getEnvDuration("MAIL_TIMEOUT", cfg.Transport.Timeout)
	cfg.Transport.HTTP.URL = getEnv("MAIL_API_URL", cfg.Transport.HTTP.URL)
	cfg.Transport.SMTP.Host = getEnv("SMTP_HOST", cfg.Transport.SMTP.Host)
	cfg.Transport.SMTP.Port = getEnvInt("SMTP_PORT", cfg.Transport.SMTP.Port)
	cfg.Transport.SMTP.SSL = getEnvBool("SMTP_SSL", cfg.Transport.SMTP.SSL)
	cfg.Transport.SMTP.TLS = getEnvBool("SMTP_TLS", cfg.Transport.SMTP.TLS)
	cfg.Transport.SES.Region = getEnv("AWS_REGION", cfg.Transport.SES.Region)
	cfg.Transport.SES.AccessKey = getEnv("AWS_ACCESS_KEY_ID", cfg.Transport.SES.AccessKey)
	cfg.Transport.SES.SecretKey = getEnv("AWS_SECRET_ACCESS_KEY", cfg.Transport.SES.SecretKey)
	cfg.Transport.Resend.APIKey = getEnv("RESEND_API_KEY", cfg.Transport.Resend.APIKey)

	// Metrics config
	cfg.Metrics.Provider = getEnv("METRICS_PROVIDER", cfg.Metrics.Provider)
	cfg.Metrics.ServiceName = getEnv("METRICS_SERVICE_NAME", cfg.Metrics.ServiceName)
	cfg.Metrics.ServiceVersion = getEnv("SERVICE_VERSION", cfg.Metrics.ServiceVersion)
	cfg.Metrics.Environment = getEnv("ENVIRONMENT", cfg.Metrics.Environment)
	cfg.Metrics.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Metrics.Endpoint)

	// Tracing config
	cfg.Tracing.Enabled = getEnvBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.SampleRate = getEnvFloat("TRACING_SAMPLE_RATE", cfg.Tracing.SampleRate)
	cfg.Tracing.Insecure = getEnvBool("TRACING_INSECURE", cfg.Tracing.Insecure)
	cfg.Tracing.ServiceName = getEnv("TRACING_SERVICE_NAME", cfg.Tracing.ServiceName)

	// Activity and drafts
	cfg.Activity.Capacity = getEnvInt("ACTIVITY_CAPACITY", cfg.Activity.Capacity)
	cfg.Activity.SubscriberBuffer = getEnvInt("ACTIVITY_SUBSCRIBER_BUFFER", cfg.Activity.SubscriberBuffer)
	cfg.Drafts.TTL = getEnvDuration("DRAFT_TTL", cfg.Drafts.TTL)
	cfg.Drafts.ProgressTTL = getEnvDuration("PROGRESS_TTL", cfg.Drafts.ProgressTTL)
}

// ValidateServer checks what the API server needs beyond the defaults.
func (c *Config) ValidateServer() error {
	if c.Database.URL == "" {
		return ErrDatabaseURLRequired
	}
	if c.Redis.URL == "" {
		return ErrRedisURLRequired
	}
	if c.Auth.Enabled && len(c.Auth.APIKeys) == 0 {
		return ErrAPIKeysRequired
	}
	return c.Transport.Validate()
}

// Validate checks the selected provider has what it needs.
func (t TransportConfig) Validate() error {
	switch t.Provider {
	case ProviderHTTP:
		if t.HTTP.URL == "" {
			return ErrMailAPIURLRequired
		}
		return ValidateEndpointURL(t.HTTP.URL)
	case ProviderSMTP, ProviderSES:
		return nil
	case ProviderResend:
		if t.Resend.APIKey == "" {
			return ErrResendKeyRequired
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, t.Provider)
	}
}

// RunConfig returns the operator defaults as a run configuration.
func (d DispatchConfig) RunConfig() domain.RunConfig {
	return d.Clamp(domain.RunConfig{Concurrency: d.Concurrency, Delay: d.Delay})
}

// Clamp bounds a requested run configuration to the operator limits.
// A concurrency below one selects the configured default.
func (d DispatchConfig) Clamp(rc domain.RunConfig) domain.RunConfig {
	if rc.Concurrency < 1 {
		rc.Concurrency = max(d.Concurrency, 1)
	}
	rc.Concurrency = min(rc.Concurrency, MaxConcurrency)
	rc.Delay = min(max(rc.Delay, 0), MaxDelay)
	return rc
}

// ValidateEndpointURL validates an outbound HTTP endpoint URL.
func ValidateEndpointURL(rawURL string) error {
	if rawURL == "" {
		return ErrInvalidURL
	}

	if len(rawURL) > MaxURLLength {
		return ErrURLTooLong
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return ErrInvalidURL
	}

	// Only allow http and https schemes
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrInvalidURLScheme
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
