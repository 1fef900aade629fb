package engine

import (
	"errors"
	"fmt"

	"github.com/dukex/taskflow/pkg/conditions"
	"github.com/dukex/taskflow/pkg/fields"
	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/performers"
)

var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrTemplateNotFound = errors.New("template not found")
	ErrAccountNotFound  = errors.New("account not found")
	ErrTaskNotFound     = errors.New("task not found")

	// ErrIllegalTransition is returned when the current state forbids the operation.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrConcurrencyConflict is returned when another operation saved the workflow first.
	ErrConcurrencyConflict = errors.New("workflow was modified concurrently")

	ErrPermissionDenied = errors.New("permission denied")

	// ErrSkippedTask is returned when a revert would enter a skipped branch.
	ErrSkippedTask = errors.New("task is skipped")

	// ErrAccountGated is returned when billing or seat limits block the operation.
	ErrAccountGated = errors.New("account is not allowed to run workflows")
)

// Error describes a failed engine command.
type Error struct {
	Op         string
	WorkflowID string
	Task       int // Task number, zero when not task specific
	Message    string
	Err        error
}

func (e *Error) Error() string {
	target := "workflow " + e.WorkflowID
	if e.Task > 0 {
		target = fmt.Sprintf("task %d of workflow %s", e.Task, e.WorkflowID)
	}

	if e.Message != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, target, e.Message, e.Err)
	}

	return fmt.Sprintf("%s %s: %v", e.Op, target, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func illegal(op, workflowID string, task int, message string) *Error {
	return &Error{Op: op, WorkflowID: workflowID, Task: task, Message: message, Err: ErrIllegalTransition}
}

func skippedTarget(op, workflowID string, task *models.Task) *Error {
	return &Error{
		Op:         op,
		WorkflowID: workflowID,
		Task:       task.Number,
		Message:    "cannot revert to skipped task " + task.Name,
		Err:        errors.Join(ErrIllegalTransition, ErrSkippedTask),
	}
}

func denied(op, workflowID string) *Error {
	return &Error{Op: op, WorkflowID: workflowID, Err: ErrPermissionDenied}
}

// IsIllegalTransition reports whether err was caused by a forbidden state change.
func IsIllegalTransition(err error) bool {
	return errors.Is(err, ErrIllegalTransition)
}

func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

func IsPermissionError(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsNotFound reports whether err refers to a missing workflow, template, account or task.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTaskNotFound)
}

// IsValidationError reports whether err was caused by caller input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrSkippedTask) ||
		fields.IsValidationError(err) ||
		conditions.IsEvaluationError(err) ||
		performers.IsResolutionError(err)
}

// IsConflictError reports whether err should be retried or shown as a conflict.
func IsConflictError(err error) bool {
	return IsIllegalTransition(err) || IsConcurrencyConflict(err) || errors.Is(err, ErrAccountGated)
}
