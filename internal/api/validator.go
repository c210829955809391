package api

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"companion/internal/types"
)

// Validator wraps go-playground/validator and translates its field errors
// into the pipeline's AppError validation codes.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator for API request structs.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// ValidateStruct validates a request struct, returning a 400-mapped AppError
// on the first failing field.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	fe := fieldErrs[0]
	appErr := types.NewAppError(fieldErrorCode(fe), fieldErrorMessage(fe), err)
	appErr.Details = map[string]any{"field": fe.Field()}
	return appErr
}

// fieldErrorCode maps a failing field and tag to the matching validation
// error code.
func fieldErrorCode(fe validator.FieldError) types.ErrorCode {
	if fe.Tag() == "required" {
		return types.ErrCodeValidationMissingField
	}
	switch fe.Field() {
	case "LocalTime":
		return types.ErrCodeValidationInvalidTime
	case "TimezoneOffsetMinutes":
		return types.ErrCodeValidationInvalidOffset
	case "Language":
		return types.ErrCodeValidationInvalidLang
	}
	return types.ErrCodeValidationMissingField
}

func fieldErrorMessage(fe validator.FieldError) string {
	if fe.Tag() == "required" {
		return "missing required field: " + fe.Field()
	}
	return "invalid value for field: " + fe.Field()
}
