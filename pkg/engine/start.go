package engine

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/dukex/taskflow/pkg/events"
	"github.com/dukex/taskflow/pkg/fields"
	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/otelhelper"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

type StartRequest struct {
	TemplateID string
	AccountID  int64
	StarterID  *int64 // Nil for workflows started from a public form
	Name       string
	IsUrgent   bool
	DueDate    *time.Time
	Kickoff    map[string]any // Raw values keyed by kickoff field api_name
}

// Start snapshots the template into a new workflow, stores the kickoff values and
// activates the tasks that have no unfinished parents.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*models.Workflow, error) {
	const op = "start"

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine."+op,
		attribute.String(otelhelper.TemplateIDKey, req.TemplateID),
		attribute.Int64(otelhelper.AccountIDKey, req.AccountID),
	)
	defer span.End()

	t, err := e.start(ctx, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.WorkflowIDKey, t.workflow.ID))
	e.flush(ctx, t)

	e.logger.InfoContext(ctx, "Workflow started",
		"workflow_id", t.workflow.ID,
		"template_id", req.TemplateID,
		"account_id", req.AccountID,
	)

	return t.workflow, nil
}

func (e *Engine) start(ctx context.Context, req StartRequest) (*txn, error) {
	const op = "start"

	template, err := e.persistence.TemplateRepository().GetByID(ctx, req.TemplateID)
	if err != nil {
		return nil, &Error{Op: op, Message: "load template", Err: err}
	}

	if template == nil || template.AccountID != req.AccountID {
		return nil, &Error{Op: op, Message: req.TemplateID, Err: ErrTemplateNotFound}
	}

	if !template.IsActive {
		return nil, &Error{Op: op, Message: "template is not active", Err: ErrIllegalTransition}
	}

	account, err := e.loadAccount(ctx, op, req.AccountID)
	if err != nil {
		return nil, err
	}

	if req.StarterID != nil {
		if user, ok := account.User(*req.StarterID); !ok || !user.IsActive {
			return nil, &Error{Op: op, Message: "starter is not an active account user", Err: ErrPermissionDenied}
		}
	}

	now := e.now()
	workflow := newWorkflow(template, req, now)

	t := &txn{op: op, account: account, workflow: workflow, now: now, actor: req.StarterID}

	if err := e.checkGate(ctx, t); err != nil {
		return nil, err
	}

	if err := e.setValues(ctx, t, workflow.Kickoff, req.Kickoff); err != nil {
		return nil, err
	}

	if err := fields.ValidateRequired(workflow.Kickoff); err != nil {
		return nil, &Error{Op: op, WorkflowID: workflow.ID, Message: "kickoff", Err: err}
	}

	if err := e.advance(ctx, t); err != nil {
		return nil, err
	}

	t.activity(events.ActivityStarted, nil)
	t.analytics("workflow_started", map[string]any{"is_external": workflow.IsExternal})

	if err := e.commit(ctx, t); err != nil {
		return nil, err
	}

	return t, nil
}

func newWorkflow(template *models.Template, req StartRequest, now time.Time) *models.Workflow {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = template.Name
	}

	workflow := &models.Workflow{
		ID:          uuid.NewString(),
		AccountID:   template.AccountID,
		Name:        name,
		Description: template.Description,
		Template:    models.LiveTemplate{ID: template.ID},
		Status:      models.WorkflowStatusRunning,
		CurrentTask: 1,
		IsUrgent:    req.IsUrgent,
		IsExternal:  req.StarterID == nil,
		StarterID:   req.StarterID,
		Owners:      slices.Clone(template.OwnerIDs),
		DueDate:     req.DueDate,
		DateStarted: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if req.StarterID != nil {
		workflow.AddMember(*req.StarterID)
	}

	for _, owner := range template.OwnerIDs {
		workflow.AddMember(owner)
	}

	for _, field := range template.Kickoff {
		workflow.Kickoff = append(workflow.Kickoff, fields.FromTemplate(field))
	}

	taskTemplates := slices.Clone(template.Tasks)
	slices.SortFunc(taskTemplates, func(a, b *models.TaskTemplate) int {
		return a.Number - b.Number
	})

	previous := ""

	for _, taskTemplate := range taskTemplates {
		task := snapshotTask(taskTemplate)
		if len(task.Parents) == 0 && previous != "" {
			task.Parents = []string{previous}
		}

		workflow.Tasks = append(workflow.Tasks, task)
		previous = task.APIName
	}

	return workflow
}

func snapshotTask(template *models.TaskTemplate) *models.Task {
	task := &models.Task{
		APIName:                template.APIName,
		Number:                 template.Number,
		Name:                   template.Name,
		Description:            template.Description,
		Status:                 models.TaskStatusPending,
		RequireCompletionByAll: template.RequireCompletionByAll,
		Parents:                slices.Clone(template.Parents),
		RawPerformers:          slices.Clone(template.RawPerformers),
		Conditions:             template.Conditions,
		Delay:                  template.Delay,
		RawDueDate:             template.RawDueDate,
	}

	for _, field := range template.Fields {
		task.Fields = append(task.Fields, fields.FromTemplate(field))
	}

	return task
}

// setValues stores raw values into the matching fields. FILE fields are queued for
// attachment linking, which happens right before the workflow is saved.
func (e *Engine) setValues(ctx context.Context, t *txn, target []*models.TaskField, values map[string]any) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}

	slices.Sort(keys)

	for _, key := range keys {
		field := findField(target, key)
		if field == nil {
			return &Error{
				Op:         t.op,
				WorkflowID: t.workflow.ID,
				Err:        fields.NewValidationError(key, "field does not exist", fields.ErrUnknownField),
			}
		}

		previous := slices.Clone(field.Attachments)

		if _, err := e.fields.SetValue(ctx, t.account, field, values[key]); err != nil {
			return &Error{Op: t.op, WorkflowID: t.workflow.ID, Err: err}
		}

		if field.Type == models.FieldTypeFile {
			t.attachments = append(t.attachments, attachmentSync{field: field, previous: previous})
		}
	}

	return nil
}

func findField(target []*models.TaskField, apiName string) *models.TaskField {
	for _, field := range target {
		if field.APIName == apiName {
			return field
		}
	}

	return nil
}
