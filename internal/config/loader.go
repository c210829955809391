// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs in window math.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Normalize the database URL scheme.
//  5. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"companion/internal/types"
)

// ConfigError is a diagnostic error type returned by Load to aid debugging.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load loads and validates the Companion configuration from the environment.
func Load() (*Config, error) {
	// Step 1: pin the process timezone to UTC. Every window computation and
	// last_sent comparison assumes it.
	time.Local = time.UTC

	// Step 2: load a .env file if present. godotenv does not override
	// variables already set in the environment.
	_ = godotenv.Load()

	// Step 3: process envconfig tags.
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment variables",
			Err:     err,
		}
	}

	// Step 4: normalize the database URL scheme.
	cfg.Database.URL = NormalizeDatabaseURL(cfg.Database.URL)

	// Step 5: validate.
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// NormalizeDatabaseURL rewrites a postgres:// scheme to postgresql:// so both
// common connection string forms are accepted.
func NormalizeDatabaseURL(url SecretString) SecretString {
	raw := url.Unmask()
	if strings.HasPrefix(raw, "postgres://") {
		return SecretString("postgresql://" + strings.TrimPrefix(raw, "postgres://"))
	}
	return url
}

// validate runs struct validation over the config and maps failures into a
// ConfigError listing every failed field.
func validate(cfg *Config) error {
	v := validator.New()

	// SecretString fields validate against their unmasked value.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if s, ok := field.Interface().(types.SecretString); ok {
			return s.Unmask()
		}
		return nil
	}, types.SecretString(""))

	if err := v.Struct(cfg); err != nil {
		var invalid validator.ValidationErrors
		if ok := errorsAs(err, &invalid); ok {
			fields := make([]string, 0, len(invalid))
			for _, fe := range invalid {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return &ConfigError{
				Type:    ErrValidation,
				Message: "invalid configuration: " + strings.Join(fields, ", "),
				Err:     err,
			}
		}
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return nil
}

// errorsAs is a tiny indirection over errors.As kept separate so validate
// reads linearly.
func errorsAs(err error, target *validator.ValidationErrors) bool {
	if ve, ok := err.(validator.ValidationErrors); ok {
		*target = ve
		return true
	}
	return false
}
