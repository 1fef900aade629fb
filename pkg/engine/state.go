package engine

import (
	"context"
	"slices"
	"time"

	"github.com/dukex/taskflow/pkg/fields"
	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/performers"
)

// sortedTasks returns the workflow tasks in number order.
func sortedTasks(workflow *models.Workflow) []*models.Task {
	tasks := slices.Clone(workflow.Tasks)
	slices.SortFunc(tasks, func(a, b *models.Task) int {
		return a.Number - b.Number
	})

	return tasks
}

// parentsTerminal reports whether every parent of task is completed or skipped.
// A parent that no longer exists does not block the task.
func parentsTerminal(workflow *models.Workflow, task *models.Task) bool {
	for _, apiName := range task.Parents {
		parent, ok := workflow.TaskByAPIName(apiName)
		if ok && !parent.Status.IsTerminal() {
			return false
		}
	}

	return true
}

// advance moves every pending task whose parents are terminal to ACTIVE or SKIPPED and repeats
// until nothing changes. Tasks are visited in number order so a dependent task always sees the
// post-transition state of its parents.
func (e *Engine) advance(ctx context.Context, t *txn) error {
	for {
		progressed := false

		for _, task := range sortedTasks(t.workflow) {
			if task.Status != models.TaskStatusPending || !parentsTerminal(t.workflow, task) {
				continue
			}

			progressed = true

			if e.shouldSkip(ctx, t.workflow, task) {
				e.skip(ctx, t, task)

				continue
			}

			if err := e.activate(ctx, t, task); err != nil {
				return err
			}
		}

		if !progressed {
			break
		}
	}

	e.refreshStatus(ctx, t)

	return nil
}

func (e *Engine) shouldSkip(ctx context.Context, workflow *models.Workflow, task *models.Task) bool {
	if condition, ok := task.Condition(models.ConditionActionSkipTask); ok && e.evaluator.Check(ctx, condition, workflow) {
		return true
	}

	if condition, ok := task.Condition(models.ConditionActionStartTask); ok && !e.evaluator.Check(ctx, condition, workflow) {
		return true
	}

	return false
}

func (e *Engine) skip(ctx context.Context, t *txn, task *models.Task) {
	task.Status = models.TaskStatusSkipped
	task.DateStarted = nil
	task.DateCompleted = nil
	task.DelayedUntil = nil

	e.logger.DebugContext(ctx, "Task skipped", "workflow_id", t.workflow.ID, "task_number", task.Number)
}

// activate assigns the task to its performers and starts it, or parks it as DELAYED when the
// template asks for a delay.
func (e *Engine) activate(ctx context.Context, t *txn, task *models.Task) error {
	performers.ResetCompletion(task)

	result, err := e.resolver.Resolve(ctx, t.account, t.workflow, task, task.RawPerformers)
	if err != nil {
		return &Error{Op: t.op, WorkflowID: t.workflow.ID, Task: task.Number, Err: err}
	}

	if len(result.Assigned) > 0 {
		if err := e.checkGate(ctx, t); err != nil {
			return err
		}
	}

	now := t.now
	task.Status = models.TaskStatusActive
	task.DateStarted = &now
	task.DateCompleted = nil
	task.DelayedUntil = nil

	users := task.EffectiveUserIDs()
	for _, id := range users {
		t.workflow.AddMember(id)
	}

	task.DueDate = dueDate(t.workflow, task)

	if task.Delay != nil && *task.Delay > 0 {
		until := now.Add(time.Duration(*task.Delay))
		task.Status = models.TaskStatusDelayed
		task.DelayedUntil = &until
		t.scheduleResume(until)

		e.logger.InfoContext(ctx, "Task delayed on start",
			"workflow_id", t.workflow.ID,
			"task_number", task.Number,
			"until", until,
		)

		return nil
	}

	t.notifyAssigned(task, users)
	t.analytics("task_started", map[string]any{"task_number": task.Number})

	e.logger.InfoContext(ctx, "Task started", "workflow_id", t.workflow.ID, "task_number", task.Number)

	return nil
}

// resume moves a delayed task back to ACTIVE and tells its performers.
func (e *Engine) resume(ctx context.Context, t *txn, task *models.Task) {
	task.Status = models.TaskStatusActive
	task.DelayedUntil = nil

	t.notifyAssigned(task, task.EffectiveUserIDs())

	e.logger.InfoContext(ctx, "Task resumed", "workflow_id", t.workflow.ID, "task_number", task.Number)
}

func (e *Engine) complete(ctx context.Context, t *txn, task *models.Task) {
	now := t.now
	task.Status = models.TaskStatusCompleted
	task.DateCompleted = &now
	task.DelayedUntil = nil

	t.notifyCompleted(task)
	t.analytics("task_completed", map[string]any{"task_number": task.Number})

	e.logger.InfoContext(ctx, "Task completed", "workflow_id", t.workflow.ID, "task_number", task.Number)
}

// reset returns a task to PENDING. Performer rows coming from the template are dropped and
// re-resolved on the next activation; manual edits are kept.
func reset(task *models.Task) {
	task.Status = models.TaskStatusPending
	task.DateStarted = nil
	task.DateCompleted = nil
	task.DelayedUntil = nil
	task.DueDate = nil

	kept := task.Performers[:0]

	for _, performer := range task.Performers {
		if performer.DirectlyStatus != models.DirectlyStatusNoStatus {
			kept = append(kept, performer)
		}
	}

	task.Performers = kept
	performers.ResetCompletion(task)
}

// completeIfSatisfied finishes an active task whose completion policy already holds, which can
// happen after performers are removed, and cascades.
func (e *Engine) completeIfSatisfied(ctx context.Context, t *txn, task *models.Task) error {
	if task.Status != models.TaskStatusActive || !performers.IsSatisfied(task) {
		return nil
	}

	e.complete(ctx, t, task)

	return e.advance(ctx, t)
}

// refreshStatus derives the workflow status and current task from task states.
func (e *Engine) refreshStatus(ctx context.Context, t *txn) {
	workflow := t.workflow

	var running, open []int

	delayedOnly := true

	for _, task := range workflow.Tasks {
		if !task.Status.IsTerminal() {
			open = append(open, task.Number)
		}

		if task.Status.IsRunning() {
			running = append(running, task.Number)

			if task.Status == models.TaskStatusActive {
				delayedOnly = false
			}
		}
	}

	if len(open) == 0 {
		workflow.CurrentTask = workflow.TasksCount()

		if workflow.Status == models.WorkflowStatusDone {
			return
		}

		workflow.Status = models.WorkflowStatusDone
		if workflow.DateCompleted == nil {
			now := t.now
			workflow.DateCompleted = &now
		}

		t.notifyWorkflowCompleted()
		t.analytics("workflow_completed", nil)

		e.logger.InfoContext(ctx, "Workflow completed", "workflow_id", workflow.ID)

		return
	}

	workflow.DateCompleted = nil

	switch {
	case len(running) > 0 && delayedOnly:
		workflow.Status = models.WorkflowStatusDelayed
	default:
		workflow.Status = models.WorkflowStatusRunning
	}

	if len(running) > 0 {
		workflow.CurrentTask = slices.Min(running)
	} else {
		workflow.CurrentTask = slices.Min(open)
	}
}

// dueDate computes the deadline of task from its rule. It returns nil when the rule
// has no anchor yet, e.g. a source date field that is still empty.
func dueDate(workflow *models.Workflow, task *models.Task) *time.Time {
	rule := task.RawDueDate
	if rule == nil {
		return nil
	}

	var anchor *time.Time

	switch rule.Rule {
	case models.DueDateAfterWorkflowStarted:
		started := workflow.DateStarted
		anchor = &started
	case models.DueDateAfterTaskStarted, models.DueDateAfterTaskCompleted:
		source := task
		if rule.SourceID != "" {
			found, ok := workflow.TaskByAPIName(rule.SourceID)
			if !ok {
				return nil
			}

			source = found
		}

		anchor = source.DateStarted
		if rule.Rule == models.DueDateAfterTaskCompleted {
			anchor = source.DateCompleted
		}
	case models.DueDateAfterField:
		field, ok := workflow.Field(models.FieldTypeDate, rule.SourceID)
		if !ok {
			return nil
		}

		date, ok := fields.ParseDate(field.Value)
		if !ok {
			return nil
		}

		anchor = &date
	}

	if anchor == nil {
		return nil
	}

	due := anchor.Add(time.Duration(rule.Duration))

	return &due
}
