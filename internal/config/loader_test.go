package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequiredEnv sets the minimum environment for a successful Load.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_BASE_URL", "https://app.example.org")
	t.Setenv("DATABASE_URL", "postgresql://u:p@localhost:5432/companion")
	t.Setenv("SQS_CHUNK_QUEUE", "https://sqs.us-east-1.amazonaws.com/1/chunks")
	t.Setenv("SQS_SEND_QUEUE", "https://sqs.us-east-1.amazonaws.com/1/sends")
	t.Setenv("SYSTEM_EMAIL", "reminders@example.org")
	t.Setenv("SYSTEM_EMAIL_PASSWORD", "s3cret")
	t.Setenv("SMTP_SERVER", "smtp.example.org")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Environment)
	assert.False(t, cfg.Production)
	assert.Equal(t, 587, cfg.Email.SMTPPort)
	assert.Equal(t, 30, cfg.Dispatch.WindowMinutes)
	assert.Equal(t, 50, cfg.Dispatch.ChunkSize)
	assert.Equal(t, "Companion", cfg.Metrics.Namespace)
	assert.Equal(t, time.UTC, time.Local)
}

func TestLoad_NormalizesPostgresScheme(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/companion")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgresql://u:p@localhost:5432/companion", cfg.Database.URL.Unmask())
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SYSTEM_EMAIL", "")

	_, err := Load()
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ErrValidation, cfgErr.Type)
	assert.Contains(t, cfgErr.Message, "SystemEmail")
}

func TestLoad_SecretStringValidatesUnmaskedValue(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SYSTEM_EMAIL_PASSWORD", "")

	// The custom type registration feeds the unmasked value to the required
	// tag, so an empty secret fails validation like any other string.
	_, err := Load()
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ErrValidation, cfgErr.Type)
	assert.Contains(t, cfgErr.Message, "SystemPassword")
}

func TestLoad_InvalidEmail(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SYSTEM_EMAIL", "not-an-address")

	_, err := Load()
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ErrValidation, cfgErr.Type)
}

func TestLoad_ParseFailure(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SMTP_PORT", "not-a-number")

	_, err := Load()
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ErrParsing, cfgErr.Type)
}

func TestNormalizeDatabaseURL(t *testing.T) {
	assert.Equal(t,
		"postgresql://x", NormalizeDatabaseURL("postgres://x").Unmask())
	assert.Equal(t,
		"postgresql://x", NormalizeDatabaseURL("postgresql://x").Unmask())
	assert.Equal(t,
		"mysql://x", NormalizeDatabaseURL("mysql://x").Unmask())
}

func TestSecretStringRedaction(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "***REDACTED***", cfg.Email.SystemPassword.String())
	assert.Equal(t, "s3cret", cfg.Email.SystemPassword.Unmask())
}
