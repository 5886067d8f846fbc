package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/meterline/pkg/billing"
	"github.com/platinummonkey/meterline/pkg/money"
	"github.com/platinummonkey/meterline/pkg/observability"
	"github.com/platinummonkey/meterline/pkg/storage/postgres"
	"github.com/platinummonkey/meterline/pkg/webhooks"
)

// ConfigFileEnv names the optional YAML file loaded before environment overrides
const ConfigFileEnv = "METERLINE_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Webhooks      WebhookConfig       `yaml:"webhooks"`
	Billing       BillingConfig       `yaml:"billing"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// HealthPort serves /health and /metrics for the billing scheduler
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig holds the PostgreSQL primary and replicas
type DatabaseConfig struct {
	URL                  string        `yaml:"url"`
	ReplicaURLs          []string      `yaml:"replica_urls"`
	MaxConns             int           `yaml:"max_conns"`
	MinConns             int           `yaml:"min_conns"`
	Timeout              time.Duration `yaml:"timeout"`
	MaxLifetime          time.Duration `yaml:"max_lifetime"`
	MaxIdleTime          time.Duration `yaml:"max_idle_time"`
	ReplicaCheckInterval time.Duration `yaml:"replica_check_interval"`
	AutoMigrate          bool          `yaml:"auto_migrate"`
}

// RedisConfig holds the optional Redis used for run locks and the plan cache
type RedisConfig struct {
	URL          string        `yaml:"url"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	PoolSize     int           `yaml:"pool_size"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
	PlanCacheTTL time.Duration `yaml:"plan_cache_ttl"`
}

// ArchiveConfig holds the optional S3 bucket issued invoices are written to
type ArchiveConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
	CreateBucket bool   `yaml:"create_bucket"`
}

// WebhookConfig holds the optional endpoints told about issued invoices
type WebhookConfig struct {
	URLs        []string      `yaml:"urls"`
	Secret      string        `yaml:"secret"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// BillingConfig holds invoice numbering and scheduler settings
type BillingConfig struct {
	InvoicePrefix   string        `yaml:"invoice_prefix"`
	TaxRate         string        `yaml:"tax_rate"`
	PaymentTermDays int           `yaml:"payment_term_days"`
	Concurrency     int           `yaml:"concurrency"`
	DefaultCurrency string        `yaml:"default_currency"`
	PlanCacheSize   int           `yaml:"plan_cache_size"`
	PlanCacheTTL    time.Duration `yaml:"plan_cache_ttl"`
	NotifyTimeout   time.Duration `yaml:"notify_timeout"`
	RunTimeout      time.Duration `yaml:"run_timeout"`

	// Schedule and OverdueSchedule are standard five-field cron specs
	Schedule        string `yaml:"schedule"`
	OverdueSchedule string `yaml:"overdue_schedule"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	sched := billing.DefaultSchedulerConfig()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			MaxConns:             20,
			MinConns:             5,
			Timeout:              10 * time.Second,
			MaxLifetime:          30 * time.Minute,
			MaxIdleTime:          5 * time.Minute,
			ReplicaCheckInterval: 30 * time.Second,
		},
		Redis: RedisConfig{
			MaxRetries:   3,
			PoolSize:     10,
			LockTTL:      postgres.DefaultRunLockTTL,
			PlanCacheTTL: postgres.DefaultPlanCacheTTL,
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
		},
		Webhooks: WebhookConfig{
			Timeout:     10 * time.Second,
			MaxAttempts: 5,
		},
		Billing: BillingConfig{
			InvoicePrefix:   billing.DefaultInvoicePrefix,
			TaxRate:         sched.TaxRate.String(),
			PaymentTermDays: sched.PaymentTermDays,
			Concurrency:     sched.Concurrency,
			DefaultCurrency: sched.DefaultCurrency,
			PlanCacheSize:   sched.PlanCacheSize,
			PlanCacheTTL:    sched.PlanCacheTTL,
			NotifyTimeout:   30 * time.Second,
			RunTimeout:      2 * time.Hour,
			Schedule:        "0 2 1 * *",
			OverdueSchedule: "15 * * * *",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "meterline",
			OTelServiceVersion: "dev",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads the file named by METERLINE_CONFIG_FILE, if any, then
// applies environment overrides and validates the result
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(ConfigFileEnv))
}

// Load builds configuration from defaults, the YAML file at path (skipped
// when empty) and METERLINE_* environment variables, in that order
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	parse := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	// Server
	c.Server.Host = getEnv("METERLINE_HOST", c.Server.Host)
	c.Server.Port = getEnv("METERLINE_PORT", c.Server.Port)
	c.Server.HealthPort = getEnv("METERLINE_HEALTH_PORT", c.Server.HealthPort)
	parse(getEnvDuration("METERLINE_READ_TIMEOUT", &c.Server.ReadTimeout))
	parse(getEnvDuration("METERLINE_WRITE_TIMEOUT", &c.Server.WriteTimeout))
	parse(getEnvDuration("METERLINE_IDLE_TIMEOUT", &c.Server.IdleTimeout))
	parse(getEnvDuration("METERLINE_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout))
	parse(getEnvInt64("METERLINE_MAX_BODY_BYTES", &c.Server.MaxBodyBytes))

	// Database
	c.Database.URL = getEnv("METERLINE_DATABASE_URL", c.Database.URL)
	if replicas := os.Getenv("METERLINE_DATABASE_REPLICA_URLS"); replicas != "" {
		c.Database.ReplicaURLs = postgres.ParseReplicaURLs(replicas)
	}
	parse(getEnvInt("METERLINE_DATABASE_MAX_CONNS", &c.Database.MaxConns))
	parse(getEnvInt("METERLINE_DATABASE_MIN_CONNS", &c.Database.MinConns))
	parse(getEnvDuration("METERLINE_DATABASE_TIMEOUT", &c.Database.Timeout))
	parse(getEnvDuration("METERLINE_DATABASE_REPLICA_CHECK_INTERVAL", &c.Database.ReplicaCheckInterval))
	c.Database.AutoMigrate = getEnvBool("METERLINE_DATABASE_AUTO_MIGRATE", c.Database.AutoMigrate)

	// Redis
	c.Redis.URL = getEnv("METERLINE_REDIS_URL", c.Redis.URL)
	c.Redis.Password = getEnv("METERLINE_REDIS_PASSWORD", c.Redis.Password)
	parse(getEnvInt("METERLINE_REDIS_DB", &c.Redis.DB))
	parse(getEnvInt("METERLINE_REDIS_MAX_RETRIES", &c.Redis.MaxRetries))
	parse(getEnvInt("METERLINE_REDIS_POOL_SIZE", &c.Redis.PoolSize))
	parse(getEnvDuration("METERLINE_REDIS_LOCK_TTL", &c.Redis.LockTTL))
	parse(getEnvDuration("METERLINE_REDIS_PLAN_CACHE_TTL", &c.Redis.PlanCacheTTL))

	// Archive
	c.Archive.Endpoint = getEnv("METERLINE_S3_ENDPOINT", c.Archive.Endpoint)
	c.Archive.Region = getEnv("METERLINE_S3_REGION", c.Archive.Region)
	c.Archive.Bucket = getEnv("METERLINE_S3_BUCKET", c.Archive.Bucket)
	c.Archive.AccessKey = getEnv("METERLINE_S3_ACCESS_KEY", c.Archive.AccessKey)
	c.Archive.SecretKey = getEnv("METERLINE_S3_SECRET_KEY", c.Archive.SecretKey)
	c.Archive.UsePathStyle = getEnvBool("METERLINE_S3_USE_PATH_STYLE", c.Archive.UsePathStyle)
	c.Archive.CreateBucket = getEnvBool("METERLINE_S3_CREATE_BUCKET", c.Archive.CreateBucket)

	// Webhooks
	if urls := os.Getenv("METERLINE_WEBHOOK_URLS"); urls != "" {
		c.Webhooks.URLs = splitList(urls)
	}
	c.Webhooks.Secret = getEnv("METERLINE_WEBHOOK_SECRET", c.Webhooks.Secret)
	parse(getEnvDuration("METERLINE_WEBHOOK_TIMEOUT", &c.Webhooks.Timeout))
	parse(getEnvInt("METERLINE_WEBHOOK_MAX_ATTEMPTS", &c.Webhooks.MaxAttempts))

	// Billing
	c.Billing.InvoicePrefix = getEnv("METERLINE_INVOICE_PREFIX", c.Billing.InvoicePrefix)
	c.Billing.TaxRate = getEnv("METERLINE_TAX_RATE", c.Billing.TaxRate)
	c.Billing.DefaultCurrency = getEnv("METERLINE_DEFAULT_CURRENCY", c.Billing.DefaultCurrency)
	parse(getEnvInt("METERLINE_PAYMENT_TERM_DAYS", &c.Billing.PaymentTermDays))
	parse(getEnvInt("METERLINE_SCHEDULER_CONCURRENCY", &c.Billing.Concurrency))
	parse(getEnvInt("METERLINE_PLAN_CACHE_SIZE", &c.Billing.PlanCacheSize))
	parse(getEnvDuration("METERLINE_PLAN_CACHE_TTL", &c.Billing.PlanCacheTTL))
	parse(getEnvDuration("METERLINE_NOTIFY_TIMEOUT", &c.Billing.NotifyTimeout))
	parse(getEnvDuration("METERLINE_RUN_TIMEOUT", &c.Billing.RunTimeout))
	c.Billing.Schedule = getEnv("METERLINE_BILLING_SCHEDULE", c.Billing.Schedule)
	c.Billing.OverdueSchedule = getEnv("METERLINE_OVERDUE_SCHEDULE", c.Billing.OverdueSchedule)

	// Observability
	c.Observability.LogLevel = getEnv("METERLINE_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsEnabled = getEnvBool("METERLINE_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("METERLINE_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("METERLINE_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("METERLINE_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("METERLINE_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("METERLINE_OTEL_INSECURE", c.Observability.OTelInsecure)
	parse(getEnvFloat("METERLINE_OTEL_SAMPLE_RATIO", &c.Observability.OTelSampleRatio))

	return errors.Join(errs...)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required (METERLINE_DATABASE_URL)")
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("database max conns must be positive")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database min conns (%d) exceeds max conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	if c.Archive.Bucket == "" && c.Archive.Endpoint != "" {
		return fmt.Errorf("S3 bucket is required when an S3 endpoint is set")
	}

	if c.Webhooks.Enabled() {
		if _, err := webhooks.NewNotifier(c.Webhooks.NotifierConfig(), nil); err != nil {
			return err
		}
	}

	if strings.TrimSpace(c.Billing.InvoicePrefix) == "" {
		return fmt.Errorf("invoice prefix is required")
	}
	if _, err := c.Billing.SchedulerConfig(); err != nil {
		return err
	}
	if _, err := cron.ParseStandard(c.Billing.Schedule); err != nil {
		return fmt.Errorf("invalid billing schedule %q: %w", c.Billing.Schedule, err)
	}
	if _, err := cron.ParseStandard(c.Billing.OverdueSchedule); err != nil {
		return fmt.Errorf("invalid overdue schedule %q: %w", c.Billing.OverdueSchedule, err)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// SchedulerConfig converts the billing section into scheduler parameters
func (b BillingConfig) SchedulerConfig() (billing.SchedulerConfig, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(b.TaxRate))
	if err != nil {
		return billing.SchedulerConfig{}, fmt.Errorf("invalid tax rate %q: %w", b.TaxRate, err)
	}
	if err := money.ValidateTaxRate(rate); err != nil {
		return billing.SchedulerConfig{}, fmt.Errorf("invalid default tax rate: %w", err)
	}
	if b.PaymentTermDays < 0 {
		return billing.SchedulerConfig{}, fmt.Errorf("payment term days must not be negative")
	}
	if b.Concurrency < 1 {
		return billing.SchedulerConfig{}, fmt.Errorf("scheduler concurrency must be at least 1")
	}
	if !isCurrencyCode(b.DefaultCurrency) {
		return billing.SchedulerConfig{}, fmt.Errorf("invalid default currency %q", b.DefaultCurrency)
	}

	return billing.SchedulerConfig{
		TaxRate:         rate,
		PaymentTermDays: b.PaymentTermDays,
		Concurrency:     b.Concurrency,
		DefaultCurrency: strings.ToUpper(b.DefaultCurrency),
		PlanCacheSize:   b.PlanCacheSize,
		PlanCacheTTL:    b.PlanCacheTTL,
	}, nil
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

// ConnectionConfig converts the database section for the connection manager
func (d DatabaseConfig) ConnectionConfig() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		PrimaryURL:  d.URL,
		ReplicaURLs: d.ReplicaURLs,
		MaxConns:    d.MaxConns,
		MinConns:    d.MinConns,
		Timeout:     d.Timeout,
		MaxLifetime: d.MaxLifetime,
		MaxIdleTime: d.MaxIdleTime,
	}
}

// Enabled reports whether Redis is configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// ClientConfig converts the Redis section for postgres.NewRedisClient
func (r RedisConfig) ClientConfig() postgres.RedisConfig {
	return postgres.RedisConfig{
		URL:        r.URL,
		Password:   r.Password,
		DB:         r.DB,
		MaxRetries: r.MaxRetries,
		PoolSize:   r.PoolSize,
	}
}

// Enabled reports whether the invoice archive is configured
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// S3Config converts the archive section for postgres.NewS3Client
func (a ArchiveConfig) S3Config() postgres.S3Config {
	return postgres.S3Config{
		Endpoint:     a.Endpoint,
		Region:       a.Region,
		Bucket:       a.Bucket,
		AccessKey:    a.AccessKey,
		SecretKey:    a.SecretKey,
		UsePathStyle: a.UsePathStyle,
	}
}

// Enabled reports whether any webhook endpoint is configured
func (w WebhookConfig) Enabled() bool {
	return len(w.URLs) > 0
}

// NotifierConfig converts the webhook section for webhooks.NewNotifier.
// Every endpoint shares the one signing secret.
func (w WebhookConfig) NotifierConfig() webhooks.Config {
	endpoints := make([]webhooks.Endpoint, 0, len(w.URLs))
	for _, u := range w.URLs {
		endpoints = append(endpoints, webhooks.Endpoint{URL: u, Secret: w.Secret})
	}
	return webhooks.Config{
		Endpoints: endpoints,
		Timeout:   w.Timeout,
		Retry:     webhooks.RetryConfig{MaxAttempts: w.MaxAttempts},
	}
}

// OTel converts the observability section for observability.InitOTel
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Level parses LogLevel
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt overwrites dst when key is set; malformed values are errors
func getEnvInt(key string, dst *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer for %s: %q", key, value)
	}
	*dst = intVal
	return nil
}

// getEnvInt64 overwrites dst when key is set
func getEnvInt64(key string, dst *int64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	intVal, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer for %s: %q", key, value)
	}
	*dst = intVal
	return nil
}

// getEnvFloat overwrites dst when key is set
func getEnvFloat(key string, dst *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid number for %s: %q", key, value)
	}
	*dst = f
	return nil
}

// getEnvDuration overwrites dst when key is set
func getEnvDuration(key string, dst *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %q", key, value)
	}
	*dst = duration
	return nil
}

func splitList(value string) []string {
	var result []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
