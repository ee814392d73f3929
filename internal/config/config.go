package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN          string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL          string `env:"RABBITMQ_URL,required=true"`
	RedisURL             string `env:"REDIS_URL,required=true"`
	StorageDir           string `env:"STORAGE_DIR,default=./uploads"`
	NotifyWebhookURL     string `env:"NOTIFY_WEBHOOK_URL"`
	APIPort              int    `env:"API_PORT,default=8080"`
	WorkerHTTPPort       int    `env:"WORKER_HTTP_PORT,default=9091"`
	MaxUploadBytes       int    `env:"MAX_UPLOAD_BYTES,default=33554432"`
	LogLevel             string `env:"LOG_LEVEL,default=info"`
	WorkerConcurrency    int    `env:"WORKER_CONCURRENCY,default=4"`
	WorkerPrefetch       int    `env:"WORKER_PREFETCH,default=1"`
	DefaultInvoiceStatus string `env:"DEFAULT_INVOICE_STATUS,default=draft"`
	RowRetryAttempts     int    `env:"ROW_RETRY_ATTEMPTS,default=3"`
	JobMaxAttempts       int    `env:"JOB_MAX_ATTEMPTS,default=3"`

	RawRowRetryDelay       string `env:"ROW_RETRY_DELAY,default=150ms"`
	RawJobRetryDelays      string `env:"JOB_RETRY_DELAYS,default=30s|120s|300s"`
	RawBatchLockTTL        string `env:"BATCH_LOCK_TTL,default=2m"`
	RawPendingScanInterval string `env:"PENDING_SCAN_INTERVAL,default=30s"`
	RawPendingScanAge      string `env:"PENDING_SCAN_AGE,default=2m"`

	RowRetryDelay       time.Duration
	JobRetryDelays      []time.Duration
	BatchLockTTL        time.Duration
	PendingScanInterval time.Duration
	PendingScanAge      time.Duration
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) parseDurations() error {
	var err error
	if c.RowRetryDelay, err = parseDuration("ROW_RETRY_DELAY", c.RawRowRetryDelay); err != nil {
		return err
	}
	if c.BatchLockTTL, err = parseDuration("BATCH_LOCK_TTL", c.RawBatchLockTTL); err != nil {
		return err
	}
	if c.PendingScanInterval, err = parseDuration("PENDING_SCAN_INTERVAL", c.RawPendingScanInterval); err != nil {
		return err
	}
	if c.PendingScanAge, err = parseDuration("PENDING_SCAN_AGE", c.RawPendingScanAge); err != nil {
		return err
	}

	// Commas separate struct tag options, so the list uses '|' and accepts ',' too.
	raw := strings.NewReplacer(",", "|", " ", "").Replace(c.RawJobRetryDelays)
	c.JobRetryDelays = c.JobRetryDelays[:0]
	for _, part := range strings.Split(raw, "|") {
		if part == "" {
			continue
		}
		d, err := parseDuration("JOB_RETRY_DELAYS", part)
		if err != nil {
			return err
		}
		c.JobRetryDelays = append(c.JobRetryDelays, d)
	}
	if len(c.JobRetryDelays) == 0 {
		return fmt.Errorf("JOB_RETRY_DELAYS must list at least one delay")
	}
	return nil
}

func (c *Config) validate() error {
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be >= 1")
	}
	if c.RowRetryAttempts < 1 {
		return fmt.Errorf("ROW_RETRY_ATTEMPTS must be >= 1")
	}
	if c.JobMaxAttempts < 1 {
		return fmt.Errorf("JOB_MAX_ATTEMPTS must be >= 1")
	}
	if c.MaxUploadBytes < 1 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be >= 1")
	}
	return nil
}

func parseDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return d, nil
}
