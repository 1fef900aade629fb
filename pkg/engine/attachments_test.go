package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/taskflow/pkg/engine"
	"github.com/dukex/taskflow/pkg/events"
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

var errStorageDown = errors.New("storage down")

type failingLinks struct {
	persistence.AttachmentRepository
}

func (failingLinks) Link(context.Context, string, []int64) error {
	return errStorageDown
}

type linkFailure struct {
	*file.Persistence
}

func (p linkFailure) AttachmentRepository() persistence.AttachmentRepository {
	return failingLinks{AttachmentRepository: p.Persistence.AttachmentRepository()}
}

type mockAttachmentRepository struct {
	*mocks.MockAttachmentStore
}

func (mockAttachmentRepository) Save(context.Context, int64, *models.Attachment) error {
	return nil
}

func saveAttachment(t *testing.T, store *file.Persistence, id int64) {
	t.Helper()

	require.NoError(t, store.AttachmentRepository().Save(t.Context(), 1, &models.Attachment{
		ID:   id,
		Name: "contract.pdf",
		URL:  "https://files.test/contract.pdf",
	}))
}

func TestEngine_Start_AttachmentLinkFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(1,
		testutil.WithKickoff(testutil.CreateTestField("doc", models.FieldTypeFile)),
	))
	saveAttachment(t, f.store, 7)

	broken := engine.New(testLogger(), linkFailure{f.store}, locker.NewMemory(), f.bus, f.scheduler)

	workflow, err := broken.Start(t.Context(), engine.StartRequest{
		TemplateID: f.template.ID,
		AccountID:  1,
		StarterID:  testutil.Ptr(int64(2)),
		Kickoff:    map[string]any{"doc": []any{7}},
	})
	require.ErrorIs(t, err, errStorageDown)
	assert.Nil(t, workflow)
	assert.Empty(t, f.drain())

	stored, err := f.store.WorkflowRepository().ListByAccount(t.Context(), 1)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestEngine_CompleteTask_AttachmentLinkFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(2, testutil.WithTask(
		testutil.CreateTestTaskTemplate(1, testutil.WithFields(
			testutil.CreateTestField("doc", models.FieldTypeFile),
		)),
	)))
	saveAttachment(t, f.store, 7)

	workflow := f.start(t, nil)
	f.drain()

	broken := engine.New(testLogger(), linkFailure{f.store}, locker.NewMemory(), f.bus, f.scheduler)

	_, err := broken.CompleteTask(t.Context(), engine.CompleteTaskRequest{
		WorkflowID: workflow.ID,
		TaskNumber: 1,
		UserID:     3,
		Values:     map[string]any{"doc": []any{7}},
	})
	require.ErrorIs(t, err, errStorageDown)
	assert.Empty(t, f.drain())

	stored := f.load(t, workflow.ID)
	assert.Equal(t, workflow.Version, stored.Version)
	assert.Equal(t, models.TaskStatusActive, task(t, stored, 1).Status)

	doc, _ := task(t, stored, 1).Field("doc")
	assert.Empty(t, doc.Value)
	assert.Empty(t, doc.Attachments)
}

func TestEngine_CompleteTask_SaveFailureRevertsAttachmentLinks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.CreateTestTemplate(2, testutil.WithTask(
		testutil.CreateTestTaskTemplate(1, testutil.WithFields(
			testutil.CreateTestField("doc", models.FieldTypeFile),
		)),
	)))
	workflow := f.start(t, nil)
	f.drain()

	doc, _ := task(t, workflow, 1).Field("doc")

	attachments := &mocks.MockAttachmentStore{}
	attachments.On("Attachments", mock.Anything, int64(1), []int64{7}).Return([]*models.Attachment{
		{ID: 7, Name: "contract.pdf", URL: "https://files.test/contract.pdf"},
	}, nil)
	attachments.On("Link", mock.Anything, doc.ID, []int64{7}).Return(nil).Once()
	attachments.On("Unlink", mock.Anything, []int64{7}).Return(nil).Once()

	workflows := &mocks.MockWorkflowRepository{}
	workflows.On("GetByID", mock.Anything, workflow.ID).Return(f.load(t, workflow.ID), nil)
	workflows.On("Save", mock.Anything, mock.Anything).Return(persistence.NewVersionConflict(workflow.ID, workflow.Version))

	store := &mocks.MockPersistence{
		Workflows:   workflows,
		Templates:   f.store.TemplateRepository(),
		Accounts:    f.store.AccountRepository(),
		Attachments: mockAttachmentRepository{attachments},
	}

	conflicted := engine.New(testLogger(), store, locker.NewMemory(), f.bus, f.scheduler)

	_, err := conflicted.CompleteTask(t.Context(), engine.CompleteTaskRequest{
		WorkflowID: workflow.ID,
		TaskNumber: 1,
		UserID:     3,
		Values:     map[string]any{"doc": []any{7}},
	})
	require.Error(t, err)
	assert.True(t, engine.IsConcurrencyConflict(err))
	assert.Empty(t, ofType[*events.TaskCompleted](f.drain()))

	attachments.AssertExpectations(t)
}
