// Package performers resolves raw performer specifications into task performers.
package performers

import (
	"errors"
	"fmt"

	"github.com/dukex/taskflow/pkg/models"
)

var (
	// ErrUserNotFound indicates a referenced user does not belong to the account.
	ErrUserNotFound = errors.New("user not found in account")

	// ErrGroupNotFound indicates a referenced group does not belong to the account.
	ErrGroupNotFound = errors.New("group not found in account")

	// ErrPerformerNotFound indicates the task has no such performer to remove.
	ErrPerformerNotFound = errors.New("performer not found on task")

	// ErrLastPerformer indicates removing the performer would leave the task unassigned.
	ErrLastPerformer = errors.New("cannot remove the last performer of a task")

	// ErrNoFallback indicates neither a starter nor an account owner can take the task.
	ErrNoFallback = errors.New("no fallback performer available")
)

// ResolutionError wraps performer resolution failures with the task and reference involved.
type ResolutionError struct {
	Task string               // Task api_name
	Type models.PerformerType // Performer type being resolved
	ID   int64                // User or group id, zero when not applicable
	Err  error                // Underlying error
}

func (e *ResolutionError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("resolve performers of task %s: %s %d: %v", e.Task, e.Type, e.ID, e.Err)
	}

	return fmt.Sprintf("resolve performers of task %s: %v", e.Task, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

func (e *ResolutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsResolutionError checks if an error is a performer resolution error.
func IsResolutionError(err error) bool {
	var resolutionErr *ResolutionError

	return errors.As(err, &resolutionErr)
}
