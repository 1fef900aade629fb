package templates

import (
	"errors"
	"fmt"
)

// Template service errors.
var (
	ErrInvalidTemplate   = errors.New("invalid template")
	ErrDuplicateAPIName  = errors.New("duplicate api_name")
	ErrDuplicateNumber   = errors.New("duplicate task number")
	ErrUnknownParent     = errors.New("unknown parent task")
	ErrCyclicParents     = errors.New("task parents form a cycle")
	ErrInvalidDueDate    = errors.New("invalid due date source")
	ErrMissingSelections = errors.New("selection field has no selections")
	ErrUnknownFieldType  = errors.New("unknown field type")
	ErrInvalidPerformer  = errors.New("performer does not belong to the account")
	ErrAccountMismatch   = errors.New("template belongs to another account")
	ErrTemplateNotFound  = errors.New("template not found")
	ErrAccountNotFound   = errors.New("account not found")
)

// ServiceError wraps template service errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func invalid(op, message string, err error) *ServiceError {
	return &ServiceError{Op: op, Code: "invalid_template", Message: message, Err: errors.Join(ErrInvalidTemplate, err)}
}

// IsValidationError reports whether err rejects the template content.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidTemplate)
}

// IsNotFound reports whether err refers to a missing template or account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound) || errors.Is(err, ErrAccountNotFound)
}
