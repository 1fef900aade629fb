package engine

import (
	"context"
	"time"

	"github.com/dukex/taskflow/pkg/events"
	"github.com/dukex/taskflow/pkg/fields"
	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/performers"
)

type CompleteTaskRequest struct {
	WorkflowID string
	TaskNumber int
	UserID     int64
	Values     map[string]any // Raw values keyed by task field api_name
}

// CompleteTask stores the submitted field values and records the user's completion. The task
// completes, and the workflow advances, once its completion policy is satisfied.
func (e *Engine) CompleteTask(ctx context.Context, req CompleteTaskRequest) (*models.Workflow, error) {
	return e.mutate(ctx, "complete_task", req.WorkflowID, &req.UserID, false, func(ctx context.Context, t *txn) error {
		task, err := e.task(t, req.TaskNumber)
		if err != nil {
			return err
		}

		if task.Status != models.TaskStatusActive {
			return illegal(t.op, t.workflow.ID, task.Number, "task is "+string(task.Status))
		}

		if !task.IsPerformer(req.UserID) {
			return &Error{Op: t.op, WorkflowID: t.workflow.ID, Task: task.Number, Err: ErrPermissionDenied}
		}

		if err := e.setValues(ctx, t, task.Fields, req.Values); err != nil {
			return err
		}

		if err := fields.ValidateRequired(task.Fields); err != nil {
			return &Error{Op: t.op, WorkflowID: t.workflow.ID, Task: task.Number, Err: err}
		}

		performers.MarkCompleted(task, req.UserID, t.now)

		if !performers.IsSatisfied(task) {
			e.logger.InfoContext(ctx, "Task completed by performer, waiting for others",
				"workflow_id", t.workflow.ID,
				"task_number", task.Number,
				"user_id", req.UserID,
			)

			return nil
		}

		e.complete(ctx, t, task)

		return e.advance(ctx, t)
	})
}

// Revert sends the workflow back to an earlier completed task. toTask zero means the
// closest completed parent of the current task. Every task depending on the target or
// numbered after it returns to PENDING and the target becomes ACTIVE again.
func (e *Engine) Revert(ctx context.Context, workflowID string, toTask int, userID int64) (*models.Workflow, error) {
	return e.mutate(ctx, "revert", workflowID, &userID, false, func(ctx context.Context, t *txn) error {
		if !canManage(t, userID) && !performsActiveTask(t.workflow, userID) {
			return denied(t.op, t.workflow.ID)
		}

		if t.workflow.Status == models.WorkflowStatusDone {
			return illegal(t.op, t.workflow.ID, 0, "workflow is completed")
		}

		target, err := e.revertTarget(t, toTask)
		if err != nil {
			return err
		}

		for _, task := range t.workflow.Tasks {
			if task != target && (task.Number > target.Number || dependsOn(t.workflow, task, target)) {
				e.rewind(t, task)
			}
		}

		reset(target)

		if err := e.activate(ctx, t, target); err != nil {
			return err
		}

		if err := e.advance(ctx, t); err != nil {
			return err
		}

		t.activity(events.ActivityReverted, target)

		e.logger.InfoContext(ctx, "Workflow reverted", "workflow_id", t.workflow.ID, "task_number", target.Number)

		return nil
	})
}

func (e *Engine) revertTarget(t *txn, toTask int) (*models.Task, error) {
	if toTask > 0 {
		target, err := e.task(t, toTask)
		if err != nil {
			return nil, err
		}

		switch target.Status {
		case models.TaskStatusCompleted:
			return target, nil
		case models.TaskStatusSkipped:
			return nil, skippedTarget(t.op, t.workflow.ID, target)
		default:
			return nil, illegal(t.op, t.workflow.ID, target.Number, "task is "+string(target.Status))
		}
	}

	current, ok := t.workflow.TaskByNumber(t.workflow.CurrentTask)
	if !ok || len(current.Parents) == 0 {
		return nil, illegal(t.op, t.workflow.ID, t.workflow.CurrentTask, "first task cannot be reverted")
	}

	var target, blocking *models.Task

	for _, apiName := range current.Parents {
		parent, ok := t.workflow.TaskByAPIName(apiName)
		if !ok {
			continue
		}

		switch {
		case parent.Status == models.TaskStatusCompleted && (target == nil || parent.Number > target.Number):
			target = parent
		case parent.Status == models.TaskStatusSkipped && (blocking == nil || parent.Number < blocking.Number):
			blocking = parent
		}
	}

	if target != nil {
		return target, nil
	}

	if blocking != nil {
		return nil, skippedTarget(t.op, t.workflow.ID, blocking)
	}

	return nil, illegal(t.op, t.workflow.ID, current.Number, "no completed task to revert to")
}

// dependsOn reports whether task is a transitive dependent of ancestor.
func dependsOn(workflow *models.Workflow, task, ancestor *models.Task) bool {
	visited := make(map[string]struct{})
	queue := append([]string(nil), task.Parents...)

	for len(queue) > 0 {
		apiName := queue[0]
		queue = queue[1:]

		if apiName == ancestor.APIName {
			return true
		}

		if _, ok := visited[apiName]; ok {
			continue
		}

		visited[apiName] = struct{}{}

		if parent, ok := workflow.TaskByAPIName(apiName); ok {
			queue = append(queue, parent.Parents...)
		}
	}

	return false
}

// rewind resets a task to PENDING, telling current performers it was taken from them.
func (e *Engine) rewind(t *txn, task *models.Task) {
	if task.Status.IsRunning() {
		t.notifyRemoved(task, task.EffectiveUserIDs())
	}

	if task.Status != models.TaskStatusPending {
		reset(task)
	}
}

// ReturnTo reopens a task that was already reached. Tasks numbered after it return to PENDING.
// Conditions are not evaluated; the task is activated directly.
func (e *Engine) ReturnTo(ctx context.Context, workflowID string, taskNumber int, userID int64) (*models.Workflow, error) {
	return e.mutate(ctx, "return_to", workflowID, &userID, false, func(ctx context.Context, t *txn) error {
		if !canManage(t, userID) {
			return denied(t.op, t.workflow.ID)
		}

		target, err := e.task(t, taskNumber)
		if err != nil {
			return err
		}

		if target.Status == models.TaskStatusPending || target.Status.IsRunning() {
			return illegal(t.op, t.workflow.ID, target.Number, "task is "+string(target.Status))
		}

		for _, task := range t.workflow.Tasks {
			if task.Number > target.Number {
				e.rewind(t, task)
			}
		}

		reset(target)

		if err := e.activate(ctx, t, target); err != nil {
			return err
		}

		e.refreshStatus(ctx, t)
		t.activity(events.ActivityReturned, target)

		e.logger.InfoContext(ctx, "Workflow returned to task", "workflow_id", t.workflow.ID, "task_number", target.Number)

		return nil
	})
}

// ForceComplete finishes every running task, skips every pending one and completes the workflow.
func (e *Engine) ForceComplete(ctx context.Context, workflowID string, userID int64) (*models.Workflow, error) {
	return e.mutate(ctx, "force_complete", workflowID, &userID, false, func(ctx context.Context, t *txn) error {
		if !canManage(t, userID) {
			return denied(t.op, t.workflow.ID)
		}

		if t.workflow.Status == models.WorkflowStatusDone {
			return illegal(t.op, t.workflow.ID, 0, "workflow is completed")
		}

		for _, task := range sortedTasks(t.workflow) {
			switch {
			case task.Status.IsRunning():
				e.complete(ctx, t, task)
			case task.Status == models.TaskStatusPending:
				e.skip(ctx, t, task)
			}
		}

		e.refreshStatus(ctx, t)
		t.activity(events.ActivityForceCompleted, nil)

		return nil
	})
}

// ForceDelay snoozes every active task. A zero until keeps them delayed until ForceResume.
func (e *Engine) ForceDelay(ctx context.Context, workflowID string, until time.Time, userID int64) (*models.Workflow, error) {
	return e.mutate(ctx, "force_delay", workflowID, &userID, false, func(ctx context.Context, t *txn) error {
		if !canManage(t, userID) {
			return denied(t.op, t.workflow.ID)
		}

		if !until.IsZero() && !until.After(t.now) {
			return illegal(t.op, t.workflow.ID, 0, "delay must end in the future")
		}

		delayed := 0

		for _, task := range t.workflow.Tasks {
			if task.Status == models.TaskStatusActive {
				delay(t, task, until)
				delayed++
			}
		}

		if delayed == 0 {
			return illegal(t.op, t.workflow.ID, 0, "workflow has no active tasks")
		}

		e.refreshStatus(ctx, t)
		t.activity(events.ActivityDelayed, nil)

		return nil
	})
}

// ForceResume reactivates every delayed task regardless of its delay.
func (e *Engine) ForceResume(ctx context.Context, workflowID string, userID int64) (*models.Workflow, error) {
	return e.mutate(ctx, "force_resume", workflowID, &userID, false, func(ctx context.Context, t *txn) error {
		if !canManage(t, userID) {
			return denied(t.op, t.workflow.ID)
		}

		resumed := 0

		for _, task := range sortedTasks(t.workflow) {
			if task.Status == models.TaskStatusDelayed {
				e.resume(ctx, t, task)
				resumed++
			}
		}

		if resumed == 0 {
			return illegal(t.op, t.workflow.ID, 0, "workflow is not delayed")
		}

		e.refreshStatus(ctx, t)
		t.activity(events.ActivityResumed, nil)

		return nil
	})
}

// DelayTask snoozes a single active task until the given time.
func (e *Engine) DelayTask(ctx context.Context, workflowID string, taskNumber int, until time.Time, userID int64) (*models.Workflow, error) {
	return e.mutate(ctx, "delay_task", workflowID, &userID, false, func(ctx context.Context, t *txn) error {
		task, err := e.task(t, taskNumber)
		if err != nil {
			return err
		}

		if !canManage(t, userID) && !task.IsPerformer(userID) {
			return denied(t.op, t.workflow.ID)
		}

		if task.Status != models.TaskStatusActive {
			return illegal(t.op, t.workflow.ID, task.Number, "task is "+string(task.Status))
		}

		if !until.After(t.now) {
			return illegal(t.op, t.workflow.ID, task.Number, "delay must end in the future")
		}

		delay(t, task, until)
		e.refreshStatus(ctx, t)
		t.activity(events.ActivityDelayed, task)

		return nil
	})
}

func delay(t *txn, task *models.Task, until time.Time) {
	task.Status = models.TaskStatusDelayed
	task.DelayedUntil = nil

	if !until.IsZero() {
		task.DelayedUntil = &until
		t.scheduleResume(until)
	}
}

// ResumeDue reactivates delayed tasks whose delay ended at or before now. It is a no-op
// when nothing is due, so the scheduler may call it more than once.
func (e *Engine) ResumeDue(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return e.mutate(ctx, "resume_due", workflowID, nil, false, func(ctx context.Context, t *txn) error {
		var resumed []*models.Task

		for _, task := range sortedTasks(t.workflow) {
			if task.Status == models.TaskStatusDelayed && task.DelayedUntil != nil && !task.DelayedUntil.After(t.now) {
				e.resume(ctx, t, task)
				resumed = append(resumed, task)
			}
		}

		if len(resumed) == 0 {
			t.noop = true

			return nil
		}

		e.refreshStatus(ctx, t)

		for _, task := range resumed {
			t.activity(events.ActivityResumed, task)
		}

		return nil
	})
}

// Terminate soft-deletes the workflow. Terminating it again succeeds without changes.
func (e *Engine) Terminate(ctx context.Context, workflowID string, userID int64) error {
	_, err := e.mutate(ctx, "terminate", workflowID, &userID, true, func(ctx context.Context, t *txn) error {
		if t.workflow.IsTerminated() {
			t.noop = true

			return nil
		}

		if !canManage(t, userID) {
			return denied(t.op, t.workflow.ID)
		}

		for _, task := range t.workflow.Tasks {
			if task.Status.IsRunning() {
				t.notifyRemoved(task, task.EffectiveUserIDs())
			}
		}

		now := t.now
		t.workflow.DeletedAt = &now

		t.activity(events.ActivityTerminated, nil)
		t.analytics("workflow_terminated", nil)

		e.logger.InfoContext(ctx, "Workflow terminated", "workflow_id", t.workflow.ID, "user_id", userID)

		return nil
	})

	return err
}

// SetUrgent flags or unflags the workflow as urgent.
func (e *Engine) SetUrgent(ctx context.Context, workflowID string, urgent bool, userID int64) (*models.Workflow, error) {
	return e.mutate(ctx, "set_urgent", workflowID, &userID, false, func(ctx context.Context, t *txn) error {
		if !canManage(t, userID) && !performsRunningTask(t.workflow, userID) {
			return denied(t.op, t.workflow.ID)
		}

		if t.workflow.IsUrgent == urgent {
			t.noop = true

			return nil
		}

		t.workflow.IsUrgent = urgent

		kind, name := events.ActivityUrgent, "workflow_urgent"
		if !urgent {
			kind, name = events.ActivityNotUrgent, "workflow_not_urgent"
		}

		t.activity(kind, nil)
		t.analytics(name, nil)

		return nil
	})
}

func performsActiveTask(workflow *models.Workflow, userID int64) bool {
	for _, task := range workflow.Tasks {
		if task.Status == models.TaskStatusActive && task.IsPerformer(userID) {
			return true
		}
	}

	return false
}
