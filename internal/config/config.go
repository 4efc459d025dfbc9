package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	SES        SESConfig        `yaml:"ses"`
	Sending    SendingConfig    `yaml:"sending"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Validation ValidationConfig `yaml:"validation"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                int      `yaml:"port"`
	Host                string   `yaml:"host"`
	AllowedOrigins      []string `yaml:"allowed_origins"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr is host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// WriteTimeout bounds a response, including a synchronous send batch.
func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// DatabaseConfig holds the PostgreSQL connection. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig enables the shared rate limiter and distributed locks.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	FromEmail        string `yaml:"from_email"`
	FromName         string `yaml:"from_name"`
	ReplyTo          string `yaml:"reply_to"`
	ConfigurationSet string `yaml:"configuration_set"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// From is the RFC 5322 sender address.
func (c SESConfig) From() string {
	if c.FromName == "" {
		return c.FromEmail
	}
	return fmt.Sprintf("%s <%s>", c.FromName, c.FromEmail)
}

// SendingConfig tunes the send pipeline.
type SendingConfig struct {
	BatchSize      int `yaml:"batch_size"`
	RatePerWindow  int `yaml:"rate_per_window"`
	WindowMillis   int `yaml:"window_ms"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
	LockTTLSeconds int `yaml:"lock_ttl_seconds"`
}

// Window returns the rate limiting window as a duration
func (c SendingConfig) Window() time.Duration {
	return time.Duration(c.WindowMillis) * time.Millisecond
}

// Timeout bounds one send batch.
func (c SendingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LockTTL bounds how long a crashed sender can hold a campaign lock.
func (c SendingConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// TrackingConfig holds the public tracking origin and signing secret.
type TrackingConfig struct {
	BaseURL     string `yaml:"base_url"`
	Secret      string `yaml:"secret"`
	SQSQueueURL string `yaml:"sqs_queue_url"`
	SQSRegion   string `yaml:"sqs_region"`
}

// SchedulerConfig controls the due-campaign sweep.
type SchedulerConfig struct {
	// Cron is a standard 5-field expression; empty disables the in-process
	// schedule and leaves only the HTTP trigger.
	Cron   string `yaml:"cron"`
	Secret string `yaml:"secret"`
}

// ValidationConfig controls contact email validation. Without a ZeroBounce
// key only the DNS checks run.
type ValidationConfig struct {
	ZeroBounceAPIKey string `yaml:"zerobounce_api_key"`
	ZeroBounceURL    string `yaml:"zerobounce_url"`
	CacheTTLHours    int    `yaml:"cache_ttl_hours"`
	// RatePerSecond paces multi-address requests.
	RatePerSecond int `yaml:"rate_per_second"`
}

// CacheTTL is how long a verdict stays in Redis.
func (c ValidationConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether email addresses are masked in logs (default on).
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads the YAML file at path and applies defaults. A missing file
// yields the defaults alone.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 300
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.Sending.BatchSize == 0 {
		cfg.Sending.BatchSize = 200
	}
	if cfg.Sending.RatePerWindow == 0 {
		cfg.Sending.RatePerWindow = 14
	}
	if cfg.Sending.WindowMillis == 0 {
		cfg.Sending.WindowMillis = 1000
	}
	if cfg.Sending.TimeoutSeconds == 0 {
		cfg.Sending.TimeoutSeconds = 280
	}
	if cfg.Sending.LockTTLSeconds == 0 {
		cfg.Sending.LockTTLSeconds = 600
	}
	if cfg.Tracking.BaseURL == "" {
		cfg.Tracking.BaseURL = "http://localhost:8080"
	}
	cfg.Tracking.BaseURL = strings.TrimRight(cfg.Tracking.BaseURL, "/")
	if cfg.Tracking.SQSRegion == "" {
		cfg.Tracking.SQSRegion = cfg.SES.Region
	}
	if cfg.Validation.CacheTTLHours == 0 {
		cfg.Validation.CacheTTLHours = 30 * 24
	}
	if cfg.Validation.RatePerSecond == 0 {
		cfg.Validation.RatePerSecond = 5
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads a .env file when present, then the YAML file, then
// applies environment overrides.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("SES_FROM_EMAIL"); v != "" {
		cfg.SES.FromEmail = v
	}
	if v := os.Getenv("SES_FROM_NAME"); v != "" {
		cfg.SES.FromName = v
	}
	if v := os.Getenv("SES_CONFIGURATION_SET"); v != "" {
		cfg.SES.ConfigurationSet = v
	}
	if v := os.Getenv("APP_URL"); v != "" {
		cfg.Tracking.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("APP_SECRET"); v != "" {
		cfg.Tracking.Secret = v
	}
	if v := os.Getenv("TRACKING_SQS_QUEUE_URL"); v != "" {
		cfg.Tracking.SQSQueueURL = v
	}
	if v := os.Getenv("CRON_SECRET"); v != "" {
		cfg.Scheduler.Secret = v
	}
	if v := os.Getenv("SEND_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sending.BatchSize = n
		}
	}
	if v := os.Getenv("ZEROBOUNCE_API_KEY"); v != "" {
		cfg.Validation.ZeroBounceAPIKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}

// Validate reports settings the server cannot run without.
func (cfg *Config) Validate() error {
	var missing []string
	if cfg.SES.FromEmail == "" {
		missing = append(missing, "ses.from_email (SES_FROM_EMAIL)")
	}
	if cfg.Tracking.Secret == "" {
		missing = append(missing, "tracking.secret (APP_SECRET)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
