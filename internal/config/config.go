// Package config defines the global configuration for the Companion backend.
// Configuration is loaded once at process initialization and is immutable
// thereafter, following 12-Factor principles.
//
// Any missing required value or invalid format fails the process immediately
// on startup; workers refuse to consume jobs with a broken configuration.
package config

import (
	"time"

	"companion/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific subsets they require.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"oneof=local dev staging prod"`
	Production  bool   `envconfig:"PRODUCTION" default:"false"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Queue    QueueConfig
	Email    EmailConfig
	Dispatch DispatchConfig
	Crypto   CryptoConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// AppBaseURL is embedded in reminder emails as the check-in link target
	// (no trailing slash).
	AppBaseURL string `envconfig:"APP_BASE_URL" validate:"required,url"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	// URL is normalized by the loader: a postgres:// scheme is rewritten to
	// postgresql:// so either form works.
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// QueueConfig holds the job broker queue URLs.
type QueueConfig struct {
	Region        string `envconfig:"AWS_REGION" default:"us-east-1"`
	ChunkQueueURL string `envconfig:"SQS_CHUNK_QUEUE" validate:"required,url"`
	SendQueueURL  string `envconfig:"SQS_SEND_QUEUE" validate:"required,url"`

	// EndpointURL supports LocalStack; empty in production.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EmailConfig holds SMTP submission credentials.
type EmailConfig struct {
	SystemEmail    string       `envconfig:"SYSTEM_EMAIL" validate:"required,email"`
	SystemPassword SecretString `envconfig:"SYSTEM_EMAIL_PASSWORD" validate:"required"`
	SMTPServer     string       `envconfig:"SMTP_SERVER" validate:"required"`
	SMTPPort       int          `envconfig:"SMTP_PORT" default:"587"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"Companion"`
}

// DispatchConfig holds dispatcher and worker tunables.
type DispatchConfig struct {
	// WindowMinutes is the dispatcher tick cadence and due-window size.
	WindowMinutes int `envconfig:"DISPATCH_WINDOW_MINUTES" default:"30"`
	// ChunkSize is the number of reminder ids per chunk job.
	ChunkSize int `envconfig:"DISPATCH_CHUNK_SIZE" default:"50"`
	// QueueDrainLimit caps email queue entries claimed per worker pass.
	QueueDrainLimit int `envconfig:"EMAIL_QUEUE_DRAIN_LIMIT" default:"50"`
	// QueueDrainWorkers bounds concurrent deliveries during a drain pass.
	QueueDrainWorkers int `envconfig:"EMAIL_QUEUE_DRAIN_WORKERS" default:"4"`
}

// CryptoConfig holds the check-in note encryption key.
type CryptoConfig struct {
	// NoteEncryptionKey is the hex-encoded 32-byte key for check-in note
	// encryption. Required only by the migrate-encryption command and the
	// services that read encrypted notes.
	NoteEncryptionKey SecretString `envconfig:"NOTE_ENCRYPTION_KEY"`
}

// MetricsConfig holds telemetry settings.
type MetricsConfig struct {
	Namespace string `envconfig:"METRIC_NAMESPACE" default:"Companion"`
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure parsing environment values into their
	// target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
