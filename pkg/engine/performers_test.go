package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/taskflow/pkg/engine"
	"github.com/dukex/taskflow/pkg/eventbus"
	"github.com/dukex/taskflow/pkg/events"
	"github.com/dukex/taskflow/pkg/mocks"
	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/performers"
	"github.com/dukex/taskflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func userSpec(id int64) models.RawPerformer {
	return models.RawPerformer{Type: models.PerformerTypeUser, UserID: testutil.Ptr(id)}
}

func findPerformer(task *models.Task, userID int64) *models.TaskPerformer {
	for _, performer := range task.Performers {
		if performer.Type == models.PerformerTypeUser && *performer.UserID == userID {
			return performer
		}
	}

	return nil
}

func TestEngine_RemovePerformerCompletesSatisfiedTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(2, testutil.WithTask(
		testutil.CreateTestTaskTemplate(1,
			testutil.WithPerformers(userSpec(3), userSpec(4)),
			func(task *models.TaskTemplate) { task.RequireCompletionByAll = true },
		),
	)))
	workflow := f.start(t, nil)
	workflow = f.complete(t, workflow.ID, 1, 3)
	require.Equal(t, models.TaskStatusActive, task(t, workflow, 1).Status)
	f.drain()

	request := engine.PerformerRequest{
		WorkflowID: workflow.ID,
		TaskNumber: 1,
		Type:       models.PerformerTypeUser,
		ID:         4,
		UserID:     3,
	}

	_, err := f.engine.RemovePerformer(t.Context(), request)
	assert.True(t, engine.IsPermissionError(err))

	request.UserID = 1
	workflow, err = f.engine.RemovePerformer(t.Context(), request)
	require.NoError(t, err)

	assert.Equal(t, models.DirectlyStatusDeleted, findPerformer(task(t, workflow, 1), 4).DirectlyStatus)
	assert.Equal(t, models.TaskStatusCompleted, task(t, workflow, 1).Status)
	assert.Equal(t, models.TaskStatusActive, task(t, workflow, 2).Status)

	published := f.drain()
	removed := ofType[*events.TaskRemoved](published)
	require.Len(t, removed, 1)
	assert.Equal(t, []int64{4}, recipientIDs(removed[0].Recipients))
	assert.Len(t, ofType[*events.TaskCompleted](published), 1)
}

func TestEngine_RemoveLastPerformer(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(1))
	workflow := f.start(t, nil)

	_, err := f.engine.RemovePerformer(t.Context(), engine.PerformerRequest{
		WorkflowID: workflow.ID, TaskNumber: 1, Type: models.PerformerTypeUser, ID: 3, UserID: 1,
	})
	require.ErrorIs(t, err, performers.ErrLastPerformer)
	assert.True(t, engine.IsValidationError(err))
}

func TestEngine_ReassignmentDoesNotDoubleNotify(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(1))
	workflow := f.start(t, nil)
	f.drain()

	workflow, err := f.engine.AddPerformer(t.Context(), engine.PerformerRequest{
		WorkflowID: workflow.ID, TaskNumber: 1, Type: models.PerformerTypeGroup, ID: 100, UserID: 1,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{3, 4}, task(t, workflow, 1).EffectiveUserIDs())
	assert.True(t, workflow.IsMember(4))

	assigned := ofType[*events.TaskAssigned](f.drain())
	require.Len(t, assigned, 1)
	assert.Equal(t, []int64{4}, recipientIDs(assigned[0].Recipients))

	workflow, err = f.engine.RemovePerformer(t.Context(), engine.PerformerRequest{
		WorkflowID: workflow.ID, TaskNumber: 1, Type: models.PerformerTypeUser, ID: 3, UserID: 1,
	})
	require.NoError(t, err)

	assert.True(t, task(t, workflow, 1).IsPerformer(3))
	assert.Empty(t, ofType[*events.TaskRemoved](f.drain()))
}

func TestEngine_AddPerformer_Errors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(1))
	workflow := f.start(t, nil)
	workflow = f.complete(t, workflow.ID, 1, 3)

	_, err := f.engine.AddPerformer(t.Context(), engine.PerformerRequest{
		WorkflowID: workflow.ID, TaskNumber: 1, Type: models.PerformerTypeUser, ID: 4, UserID: 1,
	})
	assert.True(t, engine.IsIllegalTransition(err), "completed task")

	f2 := newFixture(t, testutil.CreateTestTemplate(1))
	other := f2.start(t, nil)

	_, err = f2.engine.AddPerformer(t.Context(), engine.PerformerRequest{
		WorkflowID: other.ID, TaskNumber: 1, Type: models.PerformerTypeGroup, ID: 999, UserID: 1,
	})
	require.ErrorIs(t, err, performers.ErrGroupNotFound)
}

func TestEngine_SyncFromTemplateKeepsDirectEdits(t *testing.T) {
	t.Parallel()

	template := testutil.CreateTestTemplate(2, testutil.WithTask(
		testutil.CreateTestTaskTemplate(1, testutil.WithPerformers(userSpec(3), userSpec(4))),
	))

	f := newFixture(t, template)
	workflow := f.start(t, nil)

	_, err := f.engine.AddPerformer(t.Context(), engine.PerformerRequest{
		WorkflowID: workflow.ID, TaskNumber: 1, Type: models.PerformerTypeUser, ID: 2, UserID: 1,
	})
	require.NoError(t, err)

	_, err = f.engine.RemovePerformer(t.Context(), engine.PerformerRequest{
		WorkflowID: workflow.ID, TaskNumber: 1, Type: models.PerformerTypeUser, ID: 4, UserID: 1,
	})
	require.NoError(t, err)

	f.drain()

	template.Tasks[0].Name = "Review"
	template.Tasks[0].RawPerformers = []models.RawPerformer{userSpec(4), userSpec(1)}
	template.OwnerIDs = []int64{1, 2}
	require.NoError(t, f.store.TemplateRepository().Save(t.Context(), template))

	require.NoError(t, f.engine.SyncFromTemplate(t.Context(), template.ID))

	stored := f.load(t, workflow.ID)
	first := task(t, stored, 1)

	assert.Equal(t, "Review", first.Name)
	assert.ElementsMatch(t, []int64{1, 2}, first.EffectiveUserIDs())
	assert.Equal(t, models.DirectlyStatusDeleted, findPerformer(first, 4).DirectlyStatus, "deleted row stays deleted")
	assert.Equal(t, models.DirectlyStatusCreated, findPerformer(first, 2).DirectlyStatus, "created row is kept")
	assert.Nil(t, findPerformer(first, 3))
	assert.True(t, stored.IsOwner(2))

	published := f.drain()

	assigned := ofType[*events.TaskAssigned](published)
	require.Len(t, assigned, 1)
	assert.Equal(t, []int64{1}, recipientIDs(assigned[0].Recipients))

	removed := ofType[*events.TaskRemoved](published)
	require.Len(t, removed, 1)
	assert.Equal(t, []int64{3}, recipientIDs(removed[0].Recipients))
}

func TestEngine_ResyncRespectsAccountGate(t *testing.T) {
	t.Parallel()

	template := testutil.CreateTestTemplate(2, testutil.WithTask(
		testutil.CreateTestTaskTemplate(1, testutil.WithPerformers(userSpec(3), userSpec(4))),
	))

	f := newFixture(t, template)
	workflow := f.start(t, nil)
	f.drain()

	gated := testutil.CreateTestAccount(func(a *models.Account) {
		a.BillingPlanActive = false
		a.Groups[0].Users = []int64{2, 3, 4}
	})
	require.NoError(t, f.store.AccountRepository().Save(t.Context(), gated))

	t.Run("template adds a performer", func(t *testing.T) {
		template.Tasks[0].RawPerformers = []models.RawPerformer{userSpec(3), userSpec(4), userSpec(2)}
		require.NoError(t, f.store.TemplateRepository().Save(t.Context(), template))

		err := f.engine.SyncFromTemplate(t.Context(), template.ID)
		require.ErrorIs(t, err, engine.ErrAccountGated)

		stored := f.load(t, workflow.ID)
		assert.Equal(t, workflow.Version, stored.Version)
		assert.ElementsMatch(t, []int64{3, 4}, task(t, stored, 1).EffectiveUserIDs())
		assert.Empty(t, f.drain())
	})

	t.Run("template only drops a performer", func(t *testing.T) {
		template.Tasks[0].RawPerformers = []models.RawPerformer{userSpec(3)}
		require.NoError(t, f.store.TemplateRepository().Save(t.Context(), template))

		require.NoError(t, f.engine.SyncFromTemplate(t.Context(), template.ID))

		stored := f.load(t, workflow.ID)
		assert.Equal(t, []int64{3}, task(t, stored, 1).EffectiveUserIDs())
	})
}

func TestEngine_SyncFromTemplate_MissingTemplate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(1))

	err := f.engine.SyncFromTemplate(t.Context(), "missing")
	require.ErrorIs(t, err, engine.ErrTemplateNotFound)
}

func TestEngine_GroupChanged(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(1, testutil.WithTask(
		testutil.CreateTestTaskTemplate(1, testutil.WithPerformers(
			models.RawPerformer{Type: models.PerformerTypeGroup, GroupID: testutil.Ptr(int64(100))},
		)),
	)))
	workflow := f.start(t, nil)
	require.ElementsMatch(t, []int64{3, 4}, task(t, workflow, 1).EffectiveUserIDs())
	f.drain()

	account := testutil.CreateTestAccount(func(a *models.Account) {
		a.Groups[0].Users = []int64{2, 3}
	})
	require.NoError(t, f.store.AccountRepository().Save(t.Context(), account))

	require.NoError(t, f.engine.GroupChanged(t.Context(), 1, 100))

	stored := f.load(t, workflow.ID)
	assert.ElementsMatch(t, []int64{2, 3}, task(t, stored, 1).EffectiveUserIDs())

	published := f.drain()

	assigned := ofType[*events.TaskAssigned](published)
	require.Len(t, assigned, 1)
	assert.Equal(t, []int64{2}, recipientIDs(assigned[0].Recipients))

	removed := ofType[*events.TaskRemoved](published)
	require.Len(t, removed, 1)
	assert.Equal(t, []int64{4}, recipientIDs(removed[0].Recipients))

	version := stored.Version
	require.NoError(t, f.engine.GroupChanged(t.Context(), 1, 200))
	assert.Equal(t, version, f.load(t, workflow.ID).Version, "unrelated group leaves workflows alone")
}

func TestEngine_GroupChanged_RespectsAccountGate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(1, testutil.WithTask(
		testutil.CreateTestTaskTemplate(1, testutil.WithPerformers(
			models.RawPerformer{Type: models.PerformerTypeGroup, GroupID: testutil.Ptr(int64(100))},
		)),
	)))
	workflow := f.start(t, nil)
	f.drain()

	require.NoError(t, f.store.AccountRepository().Save(t.Context(), testutil.CreateTestAccount(func(a *models.Account) {
		a.BillingPlanActive = false
		a.Groups[0].Users = []int64{2, 3, 4}
	})))

	err := f.engine.GroupChanged(t.Context(), 1, 100)
	require.ErrorIs(t, err, engine.ErrAccountGated)

	stored := f.load(t, workflow.ID)
	assert.Equal(t, workflow.Version, stored.Version)
	assert.ElementsMatch(t, []int64{3, 4}, task(t, stored, 1).EffectiveUserIDs())
	assert.Empty(t, f.drain())
}

func TestEngine_RegisterHandlers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(1, testutil.WithTask(
		testutil.CreateTestTaskTemplate(1, func(task *models.TaskTemplate) {
			task.Delay = testutil.Ptr(models.Duration(time.Minute))
		}),
	)))
	workflow := f.start(t, nil)

	handlers := make(map[events.EventType]eventbus.EventHandler)

	subscriber := &mocks.MockEventBus{}
	subscriber.On("Handle", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			handlers[args.Get(0).(events.EventType)] = args.Get(1).(eventbus.EventHandler)
		}).
		Return(nil)

	require.NoError(t, f.engine.RegisterHandlers(subscriber))
	require.Len(t, handlers, 4)

	resume := handlers[events.WorkflowResumeDueEvent]

	f.now = f.now.Add(2 * time.Minute)
	require.NoError(t, resume(t.Context(), &events.WorkflowResumeDue{
		BaseEvent: events.NewBaseEvent(events.WorkflowResumeDueEvent, 1, workflow.ID),
		At:        f.now,
	}))
	assert.Equal(t, models.TaskStatusActive, task(t, f.load(t, workflow.ID), 1).Status)

	require.NoError(t, resume(t.Context(), &events.WorkflowResumeDue{
		BaseEvent: events.NewBaseEvent(events.WorkflowResumeDueEvent, 1, "missing"),
	}), "missing workflows are acknowledged")

	require.Error(t, resume(t.Context(), &events.GroupChanged{}))

	deleted := handlers[events.TemplateDeletedEvent]
	require.NoError(t, deleted(context.Background(), &events.TemplateDeleted{
		TemplateID:   f.template.ID,
		TemplateName: f.template.Name,
	}))

	stored := f.load(t, workflow.ID)
	assert.Equal(t, models.LegacyTemplate{Name: f.template.Name}, stored.Template)

	updated := handlers[events.TemplateUpdatedEvent]
	require.NoError(t, updated(t.Context(), &events.TemplateUpdated{TemplateID: "missing"}))
}
