package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Coinflow  CoinflowConfig  `yaml:"coinflow"`
	API       APIConfig       `yaml:"api"`
	Collector CollectorConfig `yaml:"collector"`
	Storage   StorageConfig   `yaml:"storage"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type CoinflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type APIConfig struct {
	BaseURL   string          `yaml:"base_url"`
	Key       string          `yaml:"key"`
	UserAgent string          `yaml:"user_agent"`
	Timeout   time.Duration   `yaml:"timeout"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type CollectorConfig struct {
	Symbol         string `yaml:"symbol"`
	Interval       string `yaml:"interval"`
	WindowHours    int    `yaml:"window_hours"`
	SleepSeconds   int    `yaml:"sleep_seconds"`
	PrintJSON      bool   `yaml:"print_json"`
	RetentionEvery int    `yaml:"retention_every"`
}

type StorageConfig struct {
	DataDir   string          `yaml:"data_dir"`
	Retention RetentionConfig `yaml:"retention"`
	S3        S3Config        `yaml:"s3"`
}

type RetentionConfig struct {
	MaxSnapshots   int   `yaml:"max_snapshots"`
	MaxStreamBytes int64 `yaml:"max_stream_bytes"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

const (
	defaultBaseURL        = "https://api.coinalyze.net/v1"
	defaultInterval       = "5min"
	defaultWindowHours    = 6
	defaultSleepSeconds   = 60
	defaultRetentionEvery = 60
	defaultMaxSnapshots   = 1000
	defaultMaxStreamBytes = 200 * 1024 * 1024
)

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)
	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = defaultBaseURL
	}
	if cfg.API.UserAgent == "" {
		cfg.API.UserAgent = "coinflow/" + cfg.Coinflow.Version
	}
	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = 20 * time.Second
	}
	if cfg.API.RateLimit.RequestsPerSecond <= 0 {
		cfg.API.RateLimit.RequestsPerSecond = 4
	}
	if cfg.API.RateLimit.BurstSize <= 0 {
		cfg.API.RateLimit.BurstSize = 4
	}
	if cfg.API.Retry.MaxAttempts <= 0 {
		cfg.API.Retry.MaxAttempts = 6
	}
	if cfg.API.Retry.BaseDelay <= 0 {
		cfg.API.Retry.BaseDelay = 800 * time.Millisecond
	}
	if cfg.API.Retry.MaxDelay <= 0 {
		cfg.API.Retry.MaxDelay = time.Minute
	}
	if cfg.Collector.Interval == "" {
		cfg.Collector.Interval = defaultInterval
	}
	if cfg.Collector.WindowHours <= 0 {
		cfg.Collector.WindowHours = defaultWindowHours
	}
	if cfg.Collector.SleepSeconds <= 0 {
		cfg.Collector.SleepSeconds = defaultSleepSeconds
	}
	if cfg.Collector.RetentionEvery <= 0 {
		cfg.Collector.RetentionEvery = defaultRetentionEvery
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.Storage.Retention.MaxSnapshots <= 0 {
		cfg.Storage.Retention.MaxSnapshots = defaultMaxSnapshots
	}
	if cfg.Storage.Retention.MaxStreamBytes <= 0 {
		cfg.Storage.Retention.MaxStreamBytes = defaultMaxStreamBytes
	}
	if cfg.Webhook.Timeout <= 0 {
		cfg.Webhook.Timeout = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COINALYZE_API_KEY"); v != "" {
		cfg.API.Key = strings.TrimSpace(v)
	} else if v := os.Getenv("API_KEY"); v != "" {
		cfg.API.Key = strings.TrimSpace(v)
	}
	if v := os.Getenv("COINALYZE_BASE"); v != "" {
		cfg.API.BaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("SYMBOL"); v != "" {
		cfg.Collector.Symbol = strings.TrimSpace(v)
	}
	if v := os.Getenv("INTERVAL"); v != "" {
		cfg.Collector.Interval = strings.TrimSpace(v)
	}
	if v := os.Getenv("WINDOW_HOURS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.Collector.WindowHours = n
		}
	}
	if v := os.Getenv("SLEEP_SECONDS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.Collector.SleepSeconds = n
		}
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = strings.TrimSpace(v)
	}
	if v := os.Getenv("DISCORD_WEBHOOK"); v != "" {
		cfg.Webhook.URL = strings.TrimSpace(v)
	} else if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Webhook.URL = strings.TrimSpace(v)
	}

	if cfg.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			cfg.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	cfg.Storage.S3.Bucket = strings.TrimSpace(cfg.Storage.S3.Bucket)
}

func validateConfig(cfg *Config) error {
	if cfg.Coinflow.Name == "" {
		return fmt.Errorf("coinflow.name is required")
	}

	if cfg.Coinflow.Version == "" {
		return fmt.Errorf("coinflow.version is required")
	}

	if cfg.API.Key == "" {
		return fmt.Errorf("api.key is required (set COINALYZE_API_KEY)")
	}

	if cfg.Collector.WindowHours <= 0 {
		return fmt.Errorf("collector.window_hours must be greater than 0")
	}
	if cfg.Collector.SleepSeconds <= 0 {
		return fmt.Errorf("collector.sleep_seconds must be greater than 0")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
