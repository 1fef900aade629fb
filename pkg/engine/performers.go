package engine

import (
	"context"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/performers"
)

type PerformerRequest struct {
	WorkflowID string
	TaskNumber int
	Type       models.PerformerType // user or group
	ID         int64
	UserID     int64 // Acting user
}

// AddPerformer assigns a user or group to a task as a manual edit that survives template re-sync.
func (e *Engine) AddPerformer(ctx context.Context, req PerformerRequest) (*models.Workflow, error) {
	return e.mutate(ctx, "add_performer", req.WorkflowID, &req.UserID, false, func(ctx context.Context, t *txn) error {
		task, err := e.editableTask(t, req)
		if err != nil {
			return err
		}

		if err := e.checkGate(ctx, t); err != nil {
			return err
		}

		result, err := e.resolver.AddDirect(ctx, t.account, task, req.Type, req.ID)
		if err != nil {
			return &Error{Op: t.op, WorkflowID: t.workflow.ID, Task: task.Number, Err: err}
		}

		e.applyResult(t, task, result)

		return nil
	})
}

// RemovePerformer marks a performer as manually removed. The task may complete as a result
// when the remaining performers already satisfy its completion policy.
func (e *Engine) RemovePerformer(ctx context.Context, req PerformerRequest) (*models.Workflow, error) {
	return e.mutate(ctx, "remove_performer", req.WorkflowID, &req.UserID, false, func(ctx context.Context, t *txn) error {
		task, err := e.editableTask(t, req)
		if err != nil {
			return err
		}

		result, err := e.resolver.RemoveDirect(ctx, task, req.Type, req.ID)
		if err != nil {
			return &Error{Op: t.op, WorkflowID: t.workflow.ID, Task: task.Number, Err: err}
		}

		e.applyResult(t, task, result)

		return e.completeIfSatisfied(ctx, t, task)
	})
}

func (e *Engine) editableTask(t *txn, req PerformerRequest) (*models.Task, error) {
	if !canManage(t, req.UserID) {
		return nil, denied(t.op, t.workflow.ID)
	}

	task, err := e.task(t, req.TaskNumber)
	if err != nil {
		return nil, err
	}

	if task.Status.IsTerminal() {
		return nil, illegal(t.op, t.workflow.ID, task.Number, "task is "+string(task.Status))
	}

	return task, nil
}

// applyResult adds new performers to the workflow members and notifies them when the task
// is running. Pending tasks notify on activation instead.
func (e *Engine) applyResult(t *txn, task *models.Task, result *performers.Result) {
	for _, id := range result.Assigned {
		t.workflow.AddMember(id)
	}

	if task.Status != models.TaskStatusActive {
		return
	}

	t.notifyAssigned(task, result.Assigned)
	t.notifyRemoved(task, result.Removed)
}
