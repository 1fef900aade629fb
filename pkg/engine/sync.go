package engine

import (
	"context"
	"errors"
	"slices"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/otelhelper"
	"github.com/dukex/taskflow/pkg/performers"
	"go.opentelemetry.io/otel/attribute"
)

// SyncFromTemplate pushes template edits into every running workflow of the template:
// owners, task names and performer specs. Running tasks are re-resolved and may complete
// when the new performers already satisfy them. Pending tasks pick up the new conditions.
func (e *Engine) SyncFromTemplate(ctx context.Context, templateID string) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.sync_from_template",
		attribute.String(otelhelper.TemplateIDKey, templateID),
	)
	defer span.End()

	template, err := e.persistence.TemplateRepository().GetByID(ctx, templateID)
	if err != nil {
		return &Error{Op: "sync_from_template", Message: "load template", Err: err}
	}

	if template == nil {
		return &Error{Op: "sync_from_template", Message: templateID, Err: ErrTemplateNotFound}
	}

	workflows, err := e.persistence.WorkflowRepository().ListByTemplate(ctx, templateID)
	if err != nil {
		return &Error{Op: "sync_from_template", Message: "list workflows", Err: err}
	}

	var errs []error

	for _, workflow := range workflows {
		if workflow.IsTerminated() || workflow.Status == models.WorkflowStatusDone {
			continue
		}

		_, err := e.mutate(ctx, "sync_from_template", workflow.ID, nil, false, func(ctx context.Context, t *txn) error {
			return e.syncWorkflow(ctx, t, template)
		})
		if err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	e.logger.InfoContext(ctx, "Template synced to workflows", "template_id", templateID, "workflows", len(workflows))

	return nil
}

func (e *Engine) syncWorkflow(ctx context.Context, t *txn, template *models.Template) error {
	t.workflow.Owners = slices.Clone(template.OwnerIDs)
	for _, owner := range template.OwnerIDs {
		t.workflow.AddMember(owner)
	}

	var resolved []*models.Task

	for _, task := range sortedTasks(t.workflow) {
		taskTemplate, ok := template.TaskByAPIName(task.APIName)
		if !ok {
			continue
		}

		task.Name = taskTemplate.Name
		task.Description = taskTemplate.Description
		task.RawPerformers = slices.Clone(taskTemplate.RawPerformers)
		task.RequireCompletionByAll = taskTemplate.RequireCompletionByAll
		task.RawDueDate = taskTemplate.RawDueDate

		if task.Status == models.TaskStatusPending {
			task.Conditions = taskTemplate.Conditions
			task.Delay = taskTemplate.Delay

			continue
		}

		if !task.Status.IsRunning() {
			continue
		}

		result, err := e.resolver.Resolve(ctx, t.account, t.workflow, task, task.RawPerformers)
		if err != nil {
			return &Error{Op: t.op, WorkflowID: t.workflow.ID, Task: task.Number, Err: err}
		}

		if err := e.gateAssignments(ctx, t, result); err != nil {
			return err
		}

		e.applyResult(t, task, result)
		resolved = append(resolved, task)
	}

	for _, task := range resolved {
		if err := e.completeIfSatisfied(ctx, t, task); err != nil {
			return err
		}
	}

	return nil
}

// GroupChanged refreshes the group snapshot of every running task that has the group as
// a performer, notifying users who gained or lost access.
func (e *Engine) GroupChanged(ctx context.Context, accountID, groupID int64) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.group_changed",
		attribute.Int64(otelhelper.AccountIDKey, accountID),
	)
	defer span.End()

	workflows, err := e.persistence.WorkflowRepository().ListByAccount(ctx, accountID)
	if err != nil {
		return &Error{Op: "group_changed", Message: "list workflows", Err: err}
	}

	var errs []error

	for _, workflow := range workflows {
		if workflow.IsTerminated() || !usesGroup(workflow, groupID) {
			continue
		}

		_, err := e.mutate(ctx, "group_changed", workflow.ID, nil, false, func(ctx context.Context, t *txn) error {
			for _, task := range sortedTasks(t.workflow) {
				if !task.Status.IsRunning() || !taskUsesGroup(task, groupID) {
					continue
				}

				result, err := e.resolver.Resolve(ctx, t.account, t.workflow, task, task.RawPerformers)
				if err != nil {
					return &Error{Op: t.op, WorkflowID: t.workflow.ID, Task: task.Number, Err: err}
				}

				if err := e.gateAssignments(ctx, t, result); err != nil {
					return err
				}

				e.applyResult(t, task, result)

				if err := e.completeIfSatisfied(ctx, t, task); err != nil {
					return err
				}
			}

			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	return nil
}

// gateAssignments applies the account gate when a re-resolution hands the task to new users.
// Re-resolutions that only drop users always go through.
func (e *Engine) gateAssignments(ctx context.Context, t *txn, result *performers.Result) error {
	if len(result.Assigned) == 0 {
		return nil
	}

	return e.checkGate(ctx, t)
}

func usesGroup(workflow *models.Workflow, groupID int64) bool {
	for _, task := range workflow.Tasks {
		if task.Status.IsRunning() && taskUsesGroup(task, groupID) {
			return true
		}
	}

	return false
}

func taskUsesGroup(task *models.Task, groupID int64) bool {
	for _, performer := range task.ActivePerformers() {
		if performer.Type == models.PerformerTypeGroup && performer.GroupID != nil && *performer.GroupID == groupID {
			return true
		}
	}

	return false
}

// DetachTemplate turns the template reference of every workflow into a legacy reference
// holding only the template name. Used when a template is deleted.
func (e *Engine) DetachTemplate(ctx context.Context, templateID, templateName string) error {
	workflows, err := e.persistence.WorkflowRepository().ListByTemplate(ctx, templateID)
	if err != nil {
		return &Error{Op: "detach_template", Message: "list workflows", Err: err}
	}

	var errs []error

	for _, workflow := range workflows {
		_, err := e.mutate(ctx, "detach_template", workflow.ID, nil, true, func(_ context.Context, t *txn) error {
			t.workflow.Template = models.LegacyTemplate{Name: templateName}

			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
