// Package engine runs the task and workflow state machines behind every workflow command.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/taskflow/pkg/conditions"
	"github.com/dukex/taskflow/pkg/eventbus"
	"github.com/dukex/taskflow/pkg/fields"
	"github.com/dukex/taskflow/pkg/locker"
	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/otelhelper"
	"github.com/dukex/taskflow/pkg/performers"
	"github.com/dukex/taskflow/pkg/persistence"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ResumeScheduler arranges for ResumeDue to run for a workflow at the given time.
type ResumeScheduler interface {
	ScheduleResume(ctx context.Context, workflowID string, at time.Time) error
}

// AccountGate decides whether an account may start workflows and assign performers.
type AccountGate interface {
	IsUsersOverlimited(ctx context.Context, account *models.Account) (bool, error)
	BillingPlanActive(ctx context.Context, account *models.Account) (bool, error)
}

type accountGate struct{}

func (accountGate) IsUsersOverlimited(_ context.Context, account *models.Account) (bool, error) {
	return account.MaxUsers > 0 && account.ActiveUsersCount() > account.MaxUsers, nil
}

func (accountGate) BillingPlanActive(_ context.Context, account *models.Account) (bool, error) {
	return account.BillingPlanActive, nil
}

type Option func(*Engine)

// WithClock replaces time.Now, mostly for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithAccountGate replaces the gate that reads billing and seat limits from the account document.
func WithAccountGate(gate AccountGate) Option {
	return func(e *Engine) {
		e.gate = gate
	}
}

type Engine struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	locker      locker.Locker
	publisher   eventbus.EventPublisher
	scheduler   ResumeScheduler
	gate        AccountGate
	clock       func() time.Time
	tracer      trace.Tracer

	evaluator *conditions.Evaluator
	resolver  *performers.Resolver
	fields    *fields.Store
}

// New creates an engine. scheduler may be nil, in which case delayed tasks are only
// resumed by a due sweep.
func New(
	logger *slog.Logger,
	p persistence.Persistence,
	l locker.Locker,
	publisher eventbus.EventPublisher,
	scheduler ResumeScheduler,
	opts ...Option,
) *Engine {
	e := &Engine{
		logger:      logger.With("module", "engine"),
		persistence: p,
		locker:      l,
		publisher:   publisher,
		scheduler:   scheduler,
		gate:        accountGate{},
		clock:       time.Now,
		tracer:      otel.Tracer("taskflow/engine"),
		evaluator:   conditions.NewEvaluator(logger),
		resolver:    performers.NewResolver(logger),
		fields:      fields.NewStore(logger, p.AttachmentRepository()),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

type attachmentSync struct {
	field    *models.TaskField
	previous []*models.Attachment
}

// txn is the in-memory state of one command. Events and resumes it collects leave the
// engine only after the workflow has been saved.
type txn struct {
	op       string
	account  *models.Account
	workflow *models.Workflow
	now      time.Time
	actor    *int64

	events      []eventbus.Event
	resumes     []time.Time
	attachments []attachmentSync
	gateChecked bool
	noop        bool
}

func (t *txn) emit(event eventbus.Event) {
	t.events = append(t.events, event)
}

func (t *txn) scheduleResume(at time.Time) {
	t.resumes = append(t.resumes, at)
}

type mutation func(ctx context.Context, t *txn) error

// mutate runs fn under the workflow lock and persists the result with a version check.
// Attachment links are applied before the save and reverted when it fails. Events and
// resume schedules are only released after the save.
func (e *Engine) mutate(ctx context.Context, op, workflowID string, actor *int64, includeTerminated bool, fn mutation) (*models.Workflow, error) {
	attrs := []attribute.KeyValue{attribute.String(otelhelper.WorkflowIDKey, workflowID)}
	if actor != nil {
		attrs = append(attrs, otelhelper.UserAttr(*actor))
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine."+op, attrs...)
	defer span.End()

	workflow, t, err := e.run(ctx, op, workflowID, actor, includeTerminated, fn)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.flush(ctx, t)

	return workflow, nil
}

func (e *Engine) run(ctx context.Context, op, workflowID string, actor *int64, includeTerminated bool, fn mutation) (*models.Workflow, *txn, error) {
	unlock, err := e.locker.Lock(ctx, "workflow:"+workflowID)
	if err != nil {
		return nil, nil, &Error{Op: op, WorkflowID: workflowID, Message: "lock", Err: err}
	}

	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			e.logger.WarnContext(ctx, "Failed to release workflow lock", "workflow_id", workflowID, "error", err)
		}
	}()

	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, nil, &Error{Op: op, WorkflowID: workflowID, Message: "load", Err: err}
	}

	if workflow == nil || (workflow.IsTerminated() && !includeTerminated) {
		return nil, nil, &Error{Op: op, WorkflowID: workflowID, Err: ErrWorkflowNotFound}
	}

	account, err := e.loadAccount(ctx, op, workflow.AccountID)
	if err != nil {
		return nil, nil, err
	}

	t := &txn{op: op, account: account, workflow: workflow, now: e.now(), actor: actor}

	if err := fn(ctx, t); err != nil {
		return nil, nil, err
	}

	if t.noop {
		return workflow, t, nil
	}

	if err := e.commit(ctx, t); err != nil {
		return nil, nil, err
	}

	return workflow, t, nil
}

// commit links the attachments of changed FILE fields and saves the workflow. A failed
// link aborts the command; a failed save puts the links back the way they were.
func (e *Engine) commit(ctx context.Context, t *txn) error {
	for i, sync := range t.attachments {
		if err := e.fields.SyncAttachments(ctx, sync.field, sync.previous); err != nil {
			e.revertAttachments(ctx, t, t.attachments[:i])

			return &Error{Op: t.op, WorkflowID: t.workflow.ID, Message: "sync attachments", Err: err}
		}
	}

	if err := e.save(ctx, t); err != nil {
		e.revertAttachments(ctx, t, t.attachments)

		return err
	}

	return nil
}

func (e *Engine) revertAttachments(ctx context.Context, t *txn, applied []attachmentSync) {
	ctx = context.WithoutCancel(ctx)

	for i := len(applied) - 1; i >= 0; i-- {
		sync := applied[i]

		restored := *sync.field
		restored.Attachments = sync.previous

		if err := e.fields.SyncAttachments(ctx, &restored, sync.field.Attachments); err != nil {
			e.logger.ErrorContext(ctx, "Failed to revert attachments",
				"workflow_id", t.workflow.ID,
				"field", sync.field.APIName,
				"error", err,
			)
		}
	}
}

func (e *Engine) save(ctx context.Context, t *txn) error {
	t.workflow.UpdatedAt = t.now

	err := e.persistence.WorkflowRepository().Save(ctx, t.workflow)
	if err == nil {
		return nil
	}

	if persistence.IsVersionConflict(err) || errors.Is(err, persistence.ErrWorkflowAlreadyExists) {
		return &Error{Op: t.op, WorkflowID: t.workflow.ID, Err: errors.Join(ErrConcurrencyConflict, err)}
	}

	return &Error{Op: t.op, WorkflowID: t.workflow.ID, Message: "save", Err: err}
}

func (e *Engine) loadAccount(ctx context.Context, op string, accountID int64) (*models.Account, error) {
	account, err := e.persistence.AccountRepository().GetByID(ctx, accountID)
	if err != nil {
		return nil, &Error{Op: op, Message: "load account", Err: err}
	}

	if account == nil {
		return nil, &Error{Op: op, Err: ErrAccountNotFound}
	}

	return account, nil
}

// flush releases side effects of a saved command. The workflow is already stored,
// so failures here are logged and not returned.
func (e *Engine) flush(ctx context.Context, t *txn) {
	for _, event := range t.events {
		if err := e.publisher.Publish(ctx, t.workflow.ID, event); err != nil {
			e.logger.ErrorContext(ctx, "Failed to publish event",
				"workflow_id", t.workflow.ID,
				"event_type", event.GetType(),
				"error", err,
			)
		}
	}

	if e.scheduler == nil {
		return
	}

	for _, at := range t.resumes {
		if err := e.scheduler.ScheduleResume(ctx, t.workflow.ID, at); err != nil {
			e.logger.ErrorContext(ctx, "Failed to schedule resume",
				"workflow_id", t.workflow.ID,
				"at", at,
				"error", err,
			)
		}
	}
}

// checkGate fails when the account may not take on more assigned work.
func (e *Engine) checkGate(ctx context.Context, t *txn) error {
	if t.gateChecked {
		return nil
	}

	active, err := e.gate.BillingPlanActive(ctx, t.account)
	if err != nil {
		return &Error{Op: t.op, WorkflowID: t.workflow.ID, Message: "billing check", Err: err}
	}

	if !active {
		return &Error{Op: t.op, WorkflowID: t.workflow.ID, Message: "billing plan is not active", Err: ErrAccountGated}
	}

	over, err := e.gate.IsUsersOverlimited(ctx, t.account)
	if err != nil {
		return &Error{Op: t.op, WorkflowID: t.workflow.ID, Message: "users limit check", Err: err}
	}

	if over {
		return &Error{Op: t.op, WorkflowID: t.workflow.ID, Message: "users limit exceeded", Err: ErrAccountGated}
	}

	t.gateChecked = true

	return nil
}

// canManage reports whether the user owns the workflow or the account.
func canManage(t *txn, userID int64) bool {
	return t.workflow.IsOwner(userID) || t.account.OwnerID == userID
}

// performsRunningTask reports whether the user is an effective performer of any running task.
func performsRunningTask(workflow *models.Workflow, userID int64) bool {
	for _, task := range workflow.Tasks {
		if task.Status.IsRunning() && task.IsPerformer(userID) {
			return true
		}
	}

	return false
}

func (e *Engine) task(t *txn, number int) (*models.Task, error) {
	task, ok := t.workflow.TaskByNumber(number)
	if !ok {
		return nil, &Error{Op: t.op, WorkflowID: t.workflow.ID, Task: number, Err: ErrTaskNotFound}
	}

	return task, nil
}

// Workflow returns a workflow by id. Terminated workflows are reported as not found.
func (e *Engine) Workflow(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, &Error{Op: "get", WorkflowID: id, Err: err}
	}

	if workflow == nil || workflow.IsTerminated() {
		return nil, &Error{Op: "get", WorkflowID: id, Err: ErrWorkflowNotFound}
	}

	return workflow, nil
}
