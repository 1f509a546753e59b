// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Storage, ledger and queue backends.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
	StorageMinIO = "minio"

	LedgerMemory   = "memory"
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"

	QueueMemory = "memory"
	QueueNATS   = "nats"
)

// Static errors for configuration validation.
var (
	// ErrInvalidConfig wraps field validation failures.
	ErrInvalidConfig = errors.New("config: invalid configuration")
	// ErrS3BucketRequired is returned when STORAGE_DRIVER=s3 lacks S3_BUCKET or S3_REGION.
	ErrS3BucketRequired = errors.New("config: S3_BUCKET and S3_REGION are required for s3 storage")
	// ErrMinIOEndpointRequired is returned when STORAGE_DRIVER=minio lacks MINIO_ENDPOINT or MINIO_BUCKET.
	ErrMinIOEndpointRequired = errors.New("config: MINIO_ENDPOINT and MINIO_BUCKET are required for minio storage")
	// ErrDatabaseURLRequired is returned when LEDGER_DRIVER=postgres lacks DATABASE_URL.
	ErrDatabaseURLRequired = errors.New("config: DATABASE_URL is required for postgres ledger")
	// ErrNATSURLRequired is returned when QUEUE_DRIVER=nats lacks NATS_URL.
	ErrNATSURLRequired = errors.New("config: NATS_URL is required for nats queue")
	// ErrMemoryQueueNeedsWorker is returned when the in-process queue has no embedded worker.
	ErrMemoryQueueNeedsWorker = errors.New("config: QUEUE_DRIVER=memory requires EMBEDDED_WORKER")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port               int      `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS, default=*" json:"cors_allowed_origins"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"

	// Scratch space for worker attempts
	TempDir string `env:"TEMP_DIR, default=/tmp/frame-extractor" json:"temp_dir"`

	// Object store settings
	StorageDriver    string `env:"STORAGE_DRIVER, default=local" json:"storage_driver" validate:"oneof=local s3 minio"`
	LocalStoragePath string `env:"LOCAL_STORAGE_PATH, default=./data/objects" json:"local_storage_path"`
	PublicBaseURL    string `env:"PUBLIC_BASE_URL, default=http://localhost:8080" json:"public_base_url" validate:"omitempty,url"`
	URLSigningSecret string `env:"URL_SIGNING_SECRET" json:"-"` // Masked in JSON

	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3PublicURL        string `env:"S3_PUBLIC_URL" json:"s3_public_url,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	MinIOEndpoint  string `env:"MINIO_ENDPOINT" json:"minio_endpoint,omitempty"`
	MinIOAccessKey string `env:"MINIO_ACCESS_KEY" json:"-"` // Masked in JSON
	MinIOSecretKey string `env:"MINIO_SECRET_KEY" json:"-"` // Masked in JSON
	MinIOBucket    string `env:"MINIO_BUCKET" json:"minio_bucket,omitempty"`
	MinIOUseSSL    bool   `env:"MINIO_USE_SSL, default=false" json:"minio_use_ssl"`

	// Ledger settings
	LedgerDriver string `env:"LEDGER_DRIVER, default=sqlite" json:"ledger_driver" validate:"oneof=memory sqlite postgres"`
	DatabaseURL  string `env:"DATABASE_URL" json:"-"` // Masked in JSON
	SQLitePath   string `env:"SQLITE_PATH, default=./data/frames.db" json:"sqlite_path"`

	// Queue and worker settings
	QueueDriver          string        `env:"QUEUE_DRIVER, default=memory" json:"queue_driver" validate:"oneof=memory nats"`
	NATSURL              string        `env:"NATS_URL" json:"nats_url,omitempty"`
	EmbeddedWorker       bool          `env:"EMBEDDED_WORKER, default=true" json:"embedded_worker"`
	WorkerConcurrency    int           `env:"WORKER_CONCURRENCY, default=1" json:"worker_concurrency" validate:"min=1,max=64"`
	WorkerMaxAttempts    int           `env:"WORKER_MAX_ATTEMPTS, default=3" json:"worker_max_attempts" validate:"min=1,max=20"`
	WorkerRetryBaseDelay time.Duration `env:"WORKER_RETRY_BASE_DELAY, default=1s" json:"worker_retry_base_delay" validate:"gt=0"`
	ReconcileInterval    time.Duration `env:"RECONCILE_INTERVAL, default=1m" json:"reconcile_interval" validate:"gt=0"`
	ReconcileAfter       time.Duration `env:"RECONCILE_AFTER, default=2m" json:"reconcile_after" validate:"gt=0"`
	// Finished memory queue entries are evicted after these ages.
	QueueCompletedRetention time.Duration `env:"QUEUE_COMPLETED_RETENTION, default=1h" json:"queue_completed_retention" validate:"gt=0"`
	QueueFailedRetention    time.Duration `env:"QUEUE_FAILED_RETENTION, default=24h" json:"queue_failed_retention" validate:"gt=0"`

	// Retrieval settings
	SignedURLExpiry time.Duration `env:"SIGNED_URL_EXPIRY, default=1h" json:"signed_url_expiry" validate:"gt=0"`

	// Media settings
	FFmpegPath        string  `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath       string  `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`
	MaxSourceDuration float64 `env:"MAX_SOURCE_DURATION, default=60" json:"max_source_duration" validate:"gt=0"`

	// Status events
	RabbitMQURL      string `env:"RABBITMQ_URL" json:"-"` // Masked in JSON
	RabbitMQExchange string `env:"RABBITMQ_EXCHANGE, default=frame-extractor" json:"rabbitmq_exchange"`

	// Observability
	MetricsPort          int    `env:"METRICS_PORT, default=9090" json:"metrics_port" validate:"min=1,max=65535"`
	OTelExporterEndpoint string `env:"OTEL_EXPORTER_ENDPOINT" json:"otel_exporter_endpoint,omitempty"`
}

// Load reads an optional .env file, then configuration from environment
// variables using go-envconfig. Variables already set in the environment
// take precedence over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and that the selected backends are configured.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %s=%s", ErrInvalidConfig, fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch c.StorageDriver {
	case StorageS3:
		if !c.S3Enabled() {
			return ErrS3BucketRequired
		}
	case StorageMinIO:
		if c.MinIOEndpoint == "" || c.MinIOBucket == "" {
			return ErrMinIOEndpointRequired
		}
	}
	if c.LedgerDriver == LedgerPostgres && c.DatabaseURL == "" {
		return ErrDatabaseURLRequired
	}
	if c.QueueDriver == QueueNATS && c.NATSURL == "" {
		return ErrNATSURLRequired
	}
	if c.QueueDriver == QueueMemory && !c.EmbeddedWorker {
		return ErrMemoryQueueNeedsWorker
	}
	return nil
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// EventsEnabled reports whether status events are published to RabbitMQ.
func (c *Config) EventsEnabled() bool {
	return c.RabbitMQURL != ""
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, StorageDriver: %s, LedgerDriver: %s, QueueDriver: %s, EmbeddedWorker: %t, WorkerConcurrency: %d, WorkerMaxAttempts: %d, TempDir: %s, S3Bucket: %s, MinIOBucket: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.StorageDriver,
		c.LedgerDriver,
		c.QueueDriver,
		c.EmbeddedWorker,
		c.WorkerConcurrency,
		c.WorkerMaxAttempts,
		c.TempDir,
		c.S3Bucket,
		c.MinIOBucket,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
