package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and services use these instead of hardcoded
// strings so the API layer and logs stay consistent.
const (
	// Validation (400)
	ErrCodeValidationMissingField  ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidTime   ErrorCode = "validation_invalid_time"
	ErrCodeValidationInvalidOffset ErrorCode = "validation_invalid_timezone_offset"
	ErrCodeValidationInvalidLang   ErrorCode = "validation_invalid_language"
	ErrCodeValidationInvalidType   ErrorCode = "validation_invalid_reminder_type"

	// Not Found (404)
	ErrCodeNotFoundClient   ErrorCode = "not_found_client"
	ErrCodeNotFoundReminder ErrorCode = "not_found_reminder"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamSMTP       ErrorCode = "upstream_smtp_unavailable"
	ErrCodeUpstreamThrottled  ErrorCode = "upstream_smtp_throttled"
	ErrCodeBreakerOpen        ErrorCode = "upstream_breaker_open"

	// Permanent email failures
	ErrCodeEmailInvalidRecipient ErrorCode = "email_invalid_recipient"

	// Configuration
	ErrCodeConfigInvalid ErrorCode = "config_invalid"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. Domain and repository
// errors are expressed as AppError to enable consistent formatting, HTTP
// status mapping, and errors.Is/As chains.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
