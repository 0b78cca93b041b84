package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Chargily       ChargilyConfig       `mapstructure:"chargily"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Worker         WorkerConfig         `mapstructure:"worker"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
	Auth           AuthConfig           `mapstructure:"auth"`
	InstanceID     string               `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
	// WebhookRateLimit is requests per minute per client IP on the webhook route.
	WebhookRateLimit int `mapstructure:"webhook_rate_limit"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// ChargilyConfig configures the Chargily Pay v2 gateway.
type ChargilyConfig struct {
	APIKey                  string        `mapstructure:"api_key"`
	BaseURL                 string        `mapstructure:"base_url"`
	WebhookSecret           string        `mapstructure:"webhook_secret"`
	Currency                string        `mapstructure:"currency"`
	Locale                  string        `mapstructure:"locale"`
	Timeout                 time.Duration `mapstructure:"timeout"`
	StatusRetries           int           `mapstructure:"status_retries"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
	UseMock                 bool          `mapstructure:"use_mock"`
}

type ReconciliationConfig struct {
	// LockBackend is "redis" (shared across instances) or "local" (one process).
	LockBackend      string        `mapstructure:"lock_backend"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
	LockRetries      int           `mapstructure:"lock_retries"`
	LockRetryDelay   time.Duration `mapstructure:"lock_retry_delay"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	StaleAfter       time.Duration `mapstructure:"stale_after"`
	SweepBatchSize   int           `mapstructure:"sweep_batch_size"`
	SweepConcurrency int           `mapstructure:"sweep_concurrency"`
}

type WorkerConfig struct {
	BatchSize          int64         `mapstructure:"batch_size"`
	BlockDuration      time.Duration `mapstructure:"block_duration"`
	OutboxPollInterval time.Duration `mapstructure:"outbox_poll_interval"`
	ConsumerGroup      string        `mapstructure:"consumer_group"`
	IdempotencyTTL     time.Duration `mapstructure:"idempotency_ttl"`
	OutboxRetention    time.Duration `mapstructure:"outbox_retention"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
	MaxDeliveries      int64         `mapstructure:"max_deliveries"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables, e.g. INVOICING_CHARGILY_API_KEY
	v.SetEnvPrefix("INVOICING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read from config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/invoicing")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Chargily.Currency = strings.ToUpper(cfg.Chargily.Currency)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if len(c.Chargily.Currency) != 3 {
		errs = append(errs, fmt.Errorf("chargily.currency must be a 3-letter ISO code"))
	}
	if c.Chargily.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("chargily.timeout must be positive"))
	}
	if c.Reconciliation.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("reconciliation.lock_ttl must be positive"))
	} else if c.Reconciliation.LockTTL <= c.Chargily.Timeout {
		// checkout holds the invoice lock across the gateway call
		errs = append(errs, fmt.Errorf("reconciliation.lock_ttl must exceed chargily.timeout"))
	}
	switch c.Reconciliation.LockBackend {
	case "", "redis", "local":
	default:
		errs = append(errs, fmt.Errorf("reconciliation.lock_backend must be redis or local, got %q", c.Reconciliation.LockBackend))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
		if c.Chargily.UseMock {
			errs = append(errs, fmt.Errorf("chargily.use_mock not allowed in production"))
		}
		if c.Chargily.APIKey == "" {
			errs = append(errs, fmt.Errorf("chargily.api_key required in production"))
		}
		if c.Chargily.WebhookSecret == "" {
			errs = append(errs, fmt.Errorf("chargily.webhook_secret required in production"))
		}
	}

	// JWT secret length validation
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.webhook_rate_limit", 600)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "invoicing")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "invoicing")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Chargily defaults
	v.SetDefault("chargily.api_key", "")
	v.SetDefault("chargily.base_url", "https://pay.chargily.net/test/api/v2")
	v.SetDefault("chargily.webhook_secret", "")
	v.SetDefault("chargily.currency", "DZD")
	v.SetDefault("chargily.locale", "en")
	v.SetDefault("chargily.timeout", "10s")
	v.SetDefault("chargily.status_retries", 3)
	v.SetDefault("chargily.circuit_breaker_threshold", 10)
	v.SetDefault("chargily.circuit_breaker_timeout", "30s")
	v.SetDefault("chargily.use_mock", false)

	// Reconciliation defaults
	v.SetDefault("reconciliation.lock_backend", "redis")
	v.SetDefault("reconciliation.lock_ttl", "30s")
	v.SetDefault("reconciliation.lock_retries", 20)
	v.SetDefault("reconciliation.lock_retry_delay", "50ms")
	v.SetDefault("reconciliation.sweep_interval", "1m")
	v.SetDefault("reconciliation.stale_after", "15m")
	v.SetDefault("reconciliation.sweep_batch_size", 50)
	v.SetDefault("reconciliation.sweep_concurrency", 4)

	// Worker defaults
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.block_duration", "1s")
	v.SetDefault("worker.outbox_poll_interval", "2s")
	v.SetDefault("worker.consumer_group", "invoice-event-consumers")
	v.SetDefault("worker.idempotency_ttl", "24h")
	v.SetDefault("worker.outbox_retention", "168h")
	v.SetDefault("worker.cleanup_interval", "1h")
	v.SetDefault("worker.max_deliveries", 5)

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", true)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_expiry", "24h")

	// Instance ID
	v.SetDefault("instance_id", "invoicing-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL returns the DSN in URL form, as golang-migrate expects it.
func (c *DatabaseConfig) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
