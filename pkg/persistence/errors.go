package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowAlreadyExists indicates a workflow with the same identifier already exists.
	ErrWorkflowAlreadyExists = errors.New("workflow already exists")

	// ErrVersionConflict indicates the workflow changed since it was loaded.
	ErrVersionConflict = errors.New("workflow version conflict")

	ErrTemplateNotFound   = errors.New("template not found")
	ErrAccountNotFound    = errors.New("account not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
)

// WorkflowError wraps workflow storage errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save")
	WorkflowID string
	Version    int64 // Version the caller expected, if applicable
	Err        error
}

func (e *WorkflowError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("%s operation failed for workflow %s at version %d: %v", e.Op, e.WorkflowID, e.Version, e.Err)
	}

	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for workflow errors.
func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// NewVersionConflict reports a failed optimistic save.
func NewVersionConflict(workflowID string, version int64) *WorkflowError {
	return &WorkflowError{
		Op:         "Save",
		WorkflowID: workflowID,
		Version:    version,
		Err:        ErrVersionConflict,
	}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsVersionConflict checks if an error indicates a concurrent modification.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

func IsAccountNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}
