// Package conditions evaluates rule/predicate trees against workflow fields.
package conditions

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownField indicates a predicate references a field the template does not declare.
	ErrUnknownField = errors.New("predicate references unknown field")

	// ErrFieldTypeMismatch indicates a predicate field type differs from the declared field type.
	ErrFieldTypeMismatch = errors.New("predicate field type does not match field")

	// ErrUnsupportedOperator indicates an operator has no meaning for the field type.
	ErrUnsupportedOperator = errors.New("operator not supported for field type")

	// ErrMissingValue indicates an operator needs a predicate value.
	ErrMissingValue = errors.New("predicate value is required")

	// ErrUnknownSelection indicates a predicate value names no selection of the field.
	ErrUnknownSelection = errors.New("predicate references unknown selection")

	// ErrEmptyCondition indicates a condition or rule has nothing to evaluate.
	ErrEmptyCondition = errors.New("condition must have rules with predicates")
)

// EvaluationError describes a malformed condition found while validating a template.
type EvaluationError struct {
	Task      string // Task api_name owning the condition
	Condition string // Condition api_name
	Field     string // Predicate field api_name, if any
	Err       error  // Underlying error
}

func (e *EvaluationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("condition %s of task %s: field %s: %v", e.Condition, e.Task, e.Field, e.Err)
	}

	return fmt.Sprintf("condition %s of task %s: %v", e.Condition, e.Task, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

func (e *EvaluationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsEvaluationError checks if an error is a malformed condition error.
func IsEvaluationError(err error) bool {
	var evaluationErr *EvaluationError

	return errors.As(err, &evaluationErr)
}
