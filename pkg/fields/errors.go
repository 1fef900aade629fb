// Package fields stores and validates typed task field values.
package fields

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidValue indicates a raw value failed type-specific validation.
	ErrInvalidValue = errors.New("invalid field value")

	// ErrRequired indicates a required field was left empty.
	ErrRequired = errors.New("field is required")

	// ErrUnknownType indicates a field declares a type with no validator.
	ErrUnknownType = errors.New("unknown field type")

	// ErrUnknownField indicates a value was submitted for a field the task does not have.
	ErrUnknownField = errors.New("unknown field")
)

// ValidationError identifies the field whose value was rejected.
type ValidationError struct {
	APIName string // Field api_name shown to the user
	Message string // Human-readable reason
	Err     error  // Underlying error
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("field %s: %s", e.APIName, e.Message)
	}

	return fmt.Sprintf("field %s: %v", e.APIName, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewValidationError creates a validation error for the given field.
func NewValidationError(apiName, message string, err error) *ValidationError {
	return &ValidationError{
		APIName: apiName,
		Message: message,
		Err:     err,
	}
}

// IsValidationError checks if an error is a field validation error.
func IsValidationError(err error) bool {
	var validationErr *ValidationError

	return errors.As(err, &validationErr)
}
