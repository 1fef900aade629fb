package engine_test

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/taskflow/pkg/engine"
	"github.com/dukex/taskflow/pkg/events"
	"github.com/dukex/taskflow/pkg/fields"
	"github.com/dukex/taskflow/pkg/locker"
	"github.com/dukex/taskflow/pkg/mocks"
	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/dukex/taskflow/pkg/persistence/file"
	"github.com/dukex/taskflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine    *engine.Engine
	store     *file.Persistence
	bus       *mocks.MockEventBus
	scheduler *mocks.MockResumeScheduler
	template  *models.Template
	now       time.Time
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newFixture(t *testing.T, template *models.Template, accountOverrides ...func(*models.Account)) *fixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	require.NoError(t, store.AccountRepository().Save(t.Context(), testutil.CreateTestAccount(accountOverrides...)))
	require.NoError(t, store.TemplateRepository().Save(t.Context(), template))

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	scheduler := &mocks.MockResumeScheduler{}
	scheduler.On("ScheduleResume", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	f := &fixture{
		store:     store,
		bus:       bus,
		scheduler: scheduler,
		template:  template,
		now:       time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	f.engine = engine.New(testLogger(), store, locker.NewMemory(), bus, scheduler,
		engine.WithClock(func() time.Time { return f.now }),
	)

	return f
}

func (f *fixture) start(t *testing.T, kickoff map[string]any) *models.Workflow {
	t.Helper()

	workflow, err := f.engine.Start(t.Context(), engine.StartRequest{
		TemplateID: f.template.ID,
		AccountID:  1,
		StarterID:  testutil.Ptr(int64(2)),
		Kickoff:    kickoff,
	})
	require.NoError(t, err)

	return workflow
}

func (f *fixture) complete(t *testing.T, workflowID string, number int, userID int64) *models.Workflow {
	t.Helper()

	workflow, err := f.engine.CompleteTask(t.Context(), engine.CompleteTaskRequest{
		WorkflowID: workflowID,
		TaskNumber: number,
		UserID:     userID,
	})
	require.NoError(t, err)

	return workflow
}

func (f *fixture) load(t *testing.T, workflowID string) *models.Workflow {
	t.Helper()

	workflow, err := f.store.WorkflowRepository().GetByID(t.Context(), workflowID)
	require.NoError(t, err)
	require.NotNil(t, workflow)

	return workflow
}

// drain returns the events published so far and forgets them.
func (f *fixture) drain() []any {
	var published []any
	for _, event := range f.bus.Published() {
		published = append(published, event)
	}

	f.bus.Calls = nil

	return published
}

func ofType[T any](published []any) []T {
	var result []T

	for _, event := range published {
		if typed, ok := event.(T); ok {
			result = append(result, typed)
		}
	}

	return result
}

func recipientIDs(recipients []events.Recipient) []int64 {
	ids := make([]int64, 0, len(recipients))
	for _, recipient := range recipients {
		ids = append(ids, recipient.UserID)
	}

	return ids
}

func task(t *testing.T, workflow *models.Workflow, number int) *models.Task {
	t.Helper()

	found, ok := workflow.TaskByNumber(number)
	require.True(t, ok, "task %d", number)

	return found
}

func TestEngine_Start(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(2))
	workflow := f.start(t, nil)

	assert.Equal(t, models.WorkflowStatusRunning, workflow.Status)
	assert.Equal(t, 1, workflow.CurrentTask)
	assert.Equal(t, int64(1), workflow.Version)
	assert.False(t, workflow.IsExternal)
	assert.Equal(t, models.LiveTemplate{ID: f.template.ID}, workflow.Template)
	assert.ElementsMatch(t, []int64{1, 2, 3}, workflow.Members)

	first := task(t, workflow, 1)
	assert.Equal(t, models.TaskStatusActive, first.Status)
	assert.Equal(t, []int64{3}, first.EffectiveUserIDs())
	assert.Equal(t, f.now, *first.DateStarted)

	second := task(t, workflow, 2)
	assert.Equal(t, models.TaskStatusPending, second.Status)
	assert.Equal(t, []string{"task-1"}, second.Parents)

	published := f.drain()
	assigned := ofType[*events.TaskAssigned](published)
	require.Len(t, assigned, 1)
	assert.Equal(t, []int64{3}, recipientIDs(assigned[0].Recipients))
	assert.Equal(t, "task-1", assigned[0].Task.APIName)
	assert.Len(t, ofType[*events.WorkflowActivity](published), 1)

	f.bus.AssertCalled(t, "Publish", mock.Anything, workflow.ID, mock.Anything)

	stored := f.load(t, workflow.ID)
	assert.Equal(t, workflow.Version, stored.Version)
}

func TestEngine_Start_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		template *models.Template
		account  func(*models.Account)
		request  func(req *engine.StartRequest)
		check    func(t *testing.T, err error)
	}{
		{
			name:     "inactive template",
			template: testutil.CreateTestTemplate(1, func(t *models.Template) { t.IsActive = false }),
			check: func(t *testing.T, err error) {
				assert.True(t, engine.IsIllegalTransition(err))
			},
		},
		{
			name:     "template of another account",
			template: testutil.CreateTestTemplate(1, func(t *models.Template) { t.AccountID = 2 }),
			check: func(t *testing.T, err error) {
				assert.True(t, engine.IsNotFound(err))
			},
		},
		{
			name:     "unknown kickoff field",
			template: testutil.CreateTestTemplate(1),
			request: func(req *engine.StartRequest) {
				req.Kickoff = map[string]any{"missing": "value"}
			},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, fields.ErrUnknownField)
				assert.True(t, engine.IsValidationError(err))
			},
		},
		{
			name: "required kickoff field",
			template: testutil.CreateTestTemplate(1, testutil.WithKickoff(&models.FieldTemplate{
				APIName: "client", Name: "Client", Type: models.FieldTypeString, IsRequired: true,
			})),
			check: func(t *testing.T, err error) {
				var validation *fields.ValidationError
				require.ErrorAs(t, err, &validation)
				assert.Equal(t, "client", validation.APIName)
			},
		},
		{
			name:     "billing plan inactive",
			template: testutil.CreateTestTemplate(1),
			account:  func(a *models.Account) { a.BillingPlanActive = false },
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, engine.ErrAccountGated)
				assert.True(t, engine.IsConflictError(err))
			},
		},
		{
			name:     "users over limit",
			template: testutil.CreateTestTemplate(1),
			account:  func(a *models.Account) { a.MaxUsers = 2 },
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, engine.ErrAccountGated)
			},
		},
		{
			name:     "inactive starter",
			template: testutil.CreateTestTemplate(1),
			request: func(req *engine.StartRequest) {
				req.StarterID = testutil.Ptr(int64(99))
			},
			check: func(t *testing.T, err error) {
				assert.True(t, engine.IsPermissionError(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var overrides []func(*models.Account)
			if tt.account != nil {
				overrides = append(overrides, tt.account)
			}

			f := newFixture(t, tt.template, overrides...)

			req := engine.StartRequest{TemplateID: tt.template.ID, AccountID: 1, StarterID: testutil.Ptr(int64(2))}
			if tt.request != nil {
				tt.request(&req)
			}

			workflow, err := f.engine.Start(t.Context(), req)
			require.Error(t, err)
			assert.Nil(t, workflow)
			tt.check(t, err)

			stored, err := f.store.WorkflowRepository().ListByAccount(t.Context(), 1)
			require.NoError(t, err)
			assert.Empty(t, stored)
			assert.Empty(t, f.drain())
		})
	}
}

func TestEngine_Start_External(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(1, testutil.WithTask(
		testutil.CreateTestTaskTemplate(1, testutil.WithPerformers(models.RawPerformer{Type: models.PerformerTypeWorkflowStarter})),
	)))

	workflow, err := f.engine.Start(t.Context(), engine.StartRequest{TemplateID: f.template.ID, AccountID: 1, Name: "  Intake  "})
	require.NoError(t, err)

	assert.True(t, workflow.IsExternal)
	assert.Equal(t, "Intake", workflow.Name)
	assert.Equal(t, []int64{1}, task(t, workflow, 1).EffectiveUserIDs())
}

func TestEngine_CompleteTask_Sequential(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(2))
	workflow := f.start(t, nil)
	f.drain()

	workflow = f.complete(t, workflow.ID, 1, 3)
	assert.Equal(t, models.TaskStatusCompleted, task(t, workflow, 1).Status)
	assert.Equal(t, models.TaskStatusActive, task(t, workflow, 2).Status)
	assert.Equal(t, 2, workflow.CurrentTask)

	published := f.drain()
	assert.Len(t, ofType[*events.TaskCompleted](published), 1)
	assert.Len(t, ofType[*events.TaskAssigned](published), 1)

	f.now = f.now.Add(time.Hour)
	workflow = f.complete(t, workflow.ID, 2, 3)

	assert.Equal(t, models.WorkflowStatusDone, workflow.Status)
	assert.Equal(t, 2, workflow.CurrentTask)
	require.NotNil(t, workflow.DateCompleted)
	assert.Equal(t, f.now, *workflow.DateCompleted)

	completed := ofType[*events.WorkflowCompleted](f.drain())
	require.Len(t, completed, 1)
	assert.ElementsMatch(t, []int64{1, 2}, recipientIDs(completed[0].Recipients))
}

func TestEngine_CompleteTask_CompletionPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		requireAll bool
	}{
		{name: "any performer", requireAll: false},
		{name: "all performers", requireAll: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, testutil.CreateTestTemplate(2, testutil.WithTask(
				testutil.CreateTestTaskTemplate(1,
					testutil.WithPerformers(
						models.RawPerformer{Type: models.PerformerTypeUser, UserID: testutil.Ptr(int64(3))},
						models.RawPerformer{Type: models.PerformerTypeUser, UserID: testutil.Ptr(int64(4))},
					),
					func(task *models.TaskTemplate) { task.RequireCompletionByAll = tt.requireAll },
				),
			)))
			workflow := f.start(t, nil)

			workflow = f.complete(t, workflow.ID, 1, 3)

			if !tt.requireAll {
				assert.Equal(t, models.TaskStatusCompleted, task(t, workflow, 1).Status)
				assert.Equal(t, models.TaskStatusActive, task(t, workflow, 2).Status)

				return
			}

			assert.Equal(t, models.TaskStatusActive, task(t, workflow, 1).Status)
			assert.Equal(t, 1, workflow.CurrentTask)

			workflow = f.complete(t, workflow.ID, 1, 4)
			assert.Equal(t, models.TaskStatusCompleted, task(t, workflow, 1).Status)
			assert.Equal(t, 2, workflow.CurrentTask)
		})
	}
}

func TestEngine_CompleteTask_RequiredFieldLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(2, testutil.WithTask(
		testutil.CreateTestTaskTemplate(1, testutil.WithFields(
			&models.FieldTemplate{APIName: "summary", Name: "Summary", Type: models.FieldTypeString, IsRequired: true},
			testutil.CreateTestField("notes", models.FieldTypeText),
		)),
	)))
	workflow := f.start(t, nil)
	f.drain()

	_, err := f.engine.CompleteTask(t.Context(), engine.CompleteTaskRequest{
		WorkflowID: workflow.ID,
		TaskNumber: 1,
		UserID:     3,
		Values:     map[string]any{"notes": "**draft**"},
	})

	var validation *fields.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "summary", validation.APIName)
	assert.True(t, engine.IsValidationError(err))

	stored := f.load(t, workflow.ID)
	assert.Equal(t, workflow.Version, stored.Version)
	assert.Equal(t, models.TaskStatusActive, task(t, stored, 1).Status)
	assert.False(t, task(t, stored, 1).Performers[0].IsCompleted)

	notes, _ := task(t, stored, 1).Field("notes")
	assert.Empty(t, notes.Value)
	assert.Empty(t, f.drain())

	workflow, err = f.engine.CompleteTask(t.Context(), engine.CompleteTaskRequest{
		WorkflowID: workflow.ID,
		TaskNumber: 1,
		UserID:     3,
		Values:     map[string]any{"summary": "Looks good", "notes": "**draft**"},
	})
	require.NoError(t, err)

	notes, _ = task(t, workflow, 1).Field("notes")
	assert.Equal(t, "**draft**", notes.Value)
	assert.Equal(t, "draft", notes.ClearValue)
}

func TestEngine_CompleteTask_Rejections(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(2))
	workflow := f.start(t, nil)

	_, err := f.engine.CompleteTask(t.Context(), engine.CompleteTaskRequest{WorkflowID: workflow.ID, TaskNumber: 1, UserID: 4})
	assert.True(t, engine.IsPermissionError(err))

	_, err = f.engine.CompleteTask(t.Context(), engine.CompleteTaskRequest{WorkflowID: workflow.ID, TaskNumber: 2, UserID: 3})
	assert.True(t, engine.IsIllegalTransition(err))

	_, err = f.engine.CompleteTask(t.Context(), engine.CompleteTaskRequest{WorkflowID: workflow.ID, TaskNumber: 9, UserID: 3})
	require.ErrorIs(t, err, engine.ErrTaskNotFound)

	_, err = f.engine.CompleteTask(t.Context(), engine.CompleteTaskRequest{WorkflowID: "missing", TaskNumber: 1, UserID: 3})
	require.ErrorIs(t, err, engine.ErrWorkflowNotFound)
}

func TestEngine_CompleteTask_ConcurrentCompletionAdvancesOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(2, testutil.WithTask(
		testutil.CreateTestTaskTemplate(1, testutil.WithPerformers(
			models.RawPerformer{Type: models.PerformerTypeGroup, GroupID: testutil.Ptr(int64(100))},
		)),
	)))
	workflow := f.start(t, nil)
	f.drain()

	var wg sync.WaitGroup

	errs := make([]error, 2)

	for i, user := range []int64{3, 4} {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = f.engine.CompleteTask(t.Context(), engine.CompleteTaskRequest{
				WorkflowID: workflow.ID,
				TaskNumber: 1,
				UserID:     user,
			})
		}()
	}

	wg.Wait()

	succeeded := 0

	for _, err := range errs {
		if err == nil {
			succeeded++

			continue
		}

		assert.True(t, engine.IsIllegalTransition(err), err)
	}

	assert.Equal(t, 1, succeeded)

	stored := f.load(t, workflow.ID)
	assert.Equal(t, 2, stored.CurrentTask)
	assert.Equal(t, int64(2), stored.Version)
	assert.Len(t, ofType[*events.TaskCompleted](f.drain()), 1)
}

func TestEngine_SaveConflictPublishesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(2))
	workflow := f.start(t, nil)
	f.drain()

	workflows := &mocks.MockWorkflowRepository{}
	workflows.On("GetByID", mock.Anything, workflow.ID).Return(f.load(t, workflow.ID), nil)
	workflows.On("Save", mock.Anything, mock.Anything).Return(persistence.NewVersionConflict(workflow.ID, workflow.Version))

	store := &mocks.MockPersistence{
		Workflows: workflows,
		Templates: f.store.TemplateRepository(),
		Accounts:  f.store.AccountRepository(),
	}

	conflicted := engine.New(testLogger(), store, locker.NewMemory(), f.bus, f.scheduler)

	_, err := conflicted.CompleteTask(t.Context(), engine.CompleteTaskRequest{WorkflowID: workflow.ID, TaskNumber: 1, UserID: 3})
	require.Error(t, err)
	assert.True(t, engine.IsConcurrencyConflict(err))
	assert.True(t, errors.Is(err, persistence.ErrVersionConflict))
	assert.Empty(t, f.drain())
}

func TestEngine_SkipCascade(t *testing.T) {
	t.Parallel()

	template := testutil.CreateTestTemplate(3,
		testutil.WithKickoff(testutil.CreateTestField("route", models.FieldTypeString)),
		testutil.WithTask(testutil.CreateTestTaskTemplate(2, testutil.WithCondition(
			models.ConditionActionSkipTask,
			testutil.Predicate(models.FieldTypeString, "route", models.OperatorEqual, "fast"),
		))),
		testutil.WithTask(testutil.CreateTestTaskTemplate(3, testutil.WithParents("task-1", "task-2"))),
	)

	f := newFixture(t, template)
	workflow := f.start(t, map[string]any{"route": "fast"})
	assert.Equal(t, models.TaskStatusPending, task(t, workflow, 2).Status)

	workflow = f.complete(t, workflow.ID, 1, 3)

	assert.Equal(t, models.TaskStatusSkipped, task(t, workflow, 2).Status)
	assert.Nil(t, task(t, workflow, 2).DateStarted)
	assert.Equal(t, models.TaskStatusActive, task(t, workflow, 3).Status)
	assert.Equal(t, 3, workflow.CurrentTask)
	assert.Equal(t, int64(2), workflow.Version)
}

func TestEngine_StartConditionFalseSkipsTask(t *testing.T) {
	t.Parallel()

	template := testutil.CreateTestTemplate(3,
		testutil.WithKickoff(testutil.CreateTestField("route", models.FieldTypeString)),
		testutil.WithTask(testutil.CreateTestTaskTemplate(2, testutil.WithCondition(
			models.ConditionActionStartTask,
			testutil.Predicate(models.FieldTypeString, "route", models.OperatorEqual, "slow"),
		))),
	)

	f := newFixture(t, template)

	skipped := f.start(t, map[string]any{"route": "fast"})
	skipped = f.complete(t, skipped.ID, 1, 3)
	assert.Equal(t, models.TaskStatusSkipped, task(t, skipped, 2).Status)
	assert.Equal(t, models.TaskStatusActive, task(t, skipped, 3).Status)

	started := f.start(t, map[string]any{"route": "slow"})
	started = f.complete(t, started.ID, 1, 3)
	assert.Equal(t, models.TaskStatusActive, task(t, started, 2).Status)
	assert.Equal(t, models.TaskStatusPending, task(t, started, 3).Status)
}

func TestEngine_FallbackPerformer(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(1, testutil.WithTask(
		testutil.CreateTestTaskTemplate(1, testutil.WithPerformers()),
	)))

	workflow := f.start(t, nil)
	first := task(t, workflow, 1)

	require.Len(t, first.Performers, 1)
	assert.Equal(t, []int64{2}, first.EffectiveUserIDs())
}

func TestEngine_DueDate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(2,
		testutil.WithTask(testutil.CreateTestTaskTemplate(2, func(task *models.TaskTemplate) {
			task.RawDueDate = &models.RawDueDate{
				Duration: models.Duration(48 * time.Hour),
				Rule:     models.DueDateAfterTaskCompleted,
				SourceID: "task-1",
			}
		})),
	))

	workflow := f.start(t, nil)
	assert.Nil(t, task(t, workflow, 2).DueDate)

	f.now = f.now.Add(2 * time.Hour)
	workflow = f.complete(t, workflow.ID, 1, 3)

	require.NotNil(t, task(t, workflow, 2).DueDate)
	assert.Equal(t, f.now.Add(48*time.Hour), *task(t, workflow, 2).DueDate)
}

func TestEngine_SetUrgent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(1))
	workflow := f.start(t, nil)
	f.drain()

	_, err := f.engine.SetUrgent(t.Context(), workflow.ID, true, 4)
	assert.True(t, engine.IsPermissionError(err))

	workflow, err = f.engine.SetUrgent(t.Context(), workflow.ID, true, 3)
	require.NoError(t, err)
	assert.True(t, workflow.IsUrgent)

	analytics := ofType[*events.Analytics](f.drain())
	require.Len(t, analytics, 1)
	assert.Equal(t, "workflow_urgent", analytics[0].Name)

	version := workflow.Version
	workflow, err = f.engine.SetUrgent(t.Context(), workflow.ID, true, 3)
	require.NoError(t, err)
	assert.Equal(t, version, workflow.Version)
}
