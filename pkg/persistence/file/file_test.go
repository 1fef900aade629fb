package file

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	assert.Equal(t, "/tmp/test", NewPersistence("/tmp/test").root)
	assert.Equal(t, "/tmp/test", NewPersistence("file:///tmp/test").root)
}

func TestPersistence_HealthCheck(t *testing.T) {
	require.NoError(t, NewPersistence(t.TempDir()).HealthCheck(t.Context()))
	require.Error(t, NewPersistence(filepath.Join(t.TempDir(), "missing")).HealthCheck(t.Context()))
}

func delayedWorkflow(id string, until time.Time) *models.Workflow {
	return &models.Workflow{
		ID:        id,
		AccountID: 1,
		Name:      id,
		Template:  models.LiveTemplate{ID: "tpl-1"},
		Status:    models.WorkflowStatusDelayed,
		Tasks: []*models.Task{
			{APIName: "wait", Number: 1, Status: models.TaskStatusDelayed, DelayedUntil: &until},
		},
	}
}

func TestWorkflowRepository_SaveVersioning(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	repo := fp.WorkflowRepository()

	workflow := &models.Workflow{ID: "wf-1", AccountID: 1, Name: "Onboarding", Template: models.LiveTemplate{ID: "tpl-1"}}

	require.NoError(t, repo.Save(t.Context(), workflow))
	assert.Equal(t, int64(1), workflow.Version)
	assert.False(t, workflow.CreatedAt.IsZero())
	assert.FileExists(t, filepath.Join(fp.root, "workflows", "wf-1.json"))

	duplicate := &models.Workflow{ID: "wf-1"}
	require.ErrorIs(t, repo.Save(t.Context(), duplicate), persistence.ErrWorkflowAlreadyExists)

	first, err := repo.GetByID(t.Context(), "wf-1")
	require.NoError(t, err)
	second, err := repo.GetByID(t.Context(), "wf-1")
	require.NoError(t, err)

	first.IsUrgent = true
	require.NoError(t, repo.Save(t.Context(), first))
	assert.Equal(t, int64(2), first.Version)

	second.Name = "Stale"
	err = repo.Save(t.Context(), second)
	require.ErrorIs(t, err, persistence.ErrVersionConflict)
	assert.Equal(t, int64(1), second.Version)

	stored, err := repo.GetByID(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.True(t, stored.IsUrgent)
	assert.Equal(t, "Onboarding", stored.Name)
	assert.Equal(t, models.LiveTemplate{ID: "tpl-1"}, stored.Template)
}

func TestWorkflowRepository_GetByID_NotFound(t *testing.T) {
	repo := NewPersistence(t.TempDir()).WorkflowRepository()

	workflow, err := repo.GetByID(t.Context(), "missing")
	require.NoError(t, err)
	assert.Nil(t, workflow)

	err = repo.Save(t.Context(), &models.Workflow{ID: "missing", Version: 3})
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestWorkflowRepository_Lists(t *testing.T) {
	repo := NewPersistence(t.TempDir()).WorkflowRepository()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	due := delayedWorkflow("due", now.Add(-time.Hour))
	later := delayedWorkflow("later", now.Add(time.Hour))
	terminated := delayedWorkflow("terminated", now.Add(-time.Hour))
	deletedAt := now
	terminated.DeletedAt = &deletedAt
	legacy := &models.Workflow{ID: "legacy", AccountID: 1, Template: models.LegacyTemplate{Name: "Old"}}
	other := &models.Workflow{ID: "other", AccountID: 2, Template: models.LiveTemplate{ID: "tpl-2"}}

	for _, workflow := range []*models.Workflow{due, later, terminated, legacy, other} {
		require.NoError(t, repo.Save(t.Context(), workflow))
	}

	ids := func(workflows []*models.Workflow) []string {
		out := make([]string, 0, len(workflows))
		for _, workflow := range workflows {
			out = append(out, workflow.ID)
		}

		return out
	}

	byTemplate, err := repo.ListByTemplate(t.Context(), "tpl-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"due", "later"}, ids(byTemplate))

	byAccount, err := repo.ListByAccount(t.Context(), 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"due", "later", "legacy"}, ids(byAccount))

	dueForResume, err := repo.ListDueForResume(t.Context(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"due"}, ids(dueForResume))
}

func TestTemplateRepository(t *testing.T) {
	repo := NewPersistence(t.TempDir()).TemplateRepository()

	template := &models.Template{ID: "tpl-1", AccountID: 1, Name: "Hiring", IsActive: true}
	require.NoError(t, repo.Save(t.Context(), template))
	require.NoError(t, repo.Save(t.Context(), &models.Template{ID: "tpl-2", AccountID: 2, Name: "Other"}))

	got, err := repo.GetByID(t.Context(), "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, "Hiring", got.Name)

	list, err := repo.ListByAccount(t.Context(), 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.Delete(t.Context(), "tpl-1"))
	require.ErrorIs(t, repo.Delete(t.Context(), "tpl-1"), persistence.ErrTemplateNotFound)

	got, err = repo.GetByID(t.Context(), "tpl-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAccountRepository(t *testing.T) {
	repo := NewPersistence(t.TempDir()).AccountRepository()

	missing, err := repo.GetByID(t.Context(), 1)
	require.NoError(t, err)
	assert.Nil(t, missing)

	account := &models.Account{ID: 1, Name: "Acme", OwnerID: 10, Users: []*models.User{{ID: 10, Email: "o@acme.test", IsActive: true}}}
	require.NoError(t, repo.Save(t.Context(), account))

	got, err := repo.GetByID(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, account, got)
}

func TestAttachmentRepository(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	repo := fp.AttachmentRepository()

	require.NoError(t, repo.Save(t.Context(), 1, &models.Attachment{ID: 5, Name: "cv.pdf", URL: "https://files.test/cv.pdf"}))
	require.NoError(t, repo.Save(t.Context(), 2, &models.Attachment{ID: 6, Name: "other.pdf", URL: "https://files.test/other.pdf"}))

	attachments, err := repo.Attachments(t.Context(), 1, []int64{5, 6, 7})
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	assert.Equal(t, "cv.pdf", attachments[0].Name)

	require.NoError(t, repo.Link(t.Context(), "field-1", []int64{5}))

	var record attachmentRecord

	found, err := fp.read(attachmentsCollection, "5", &record)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "field-1", record.FieldID)

	require.NoError(t, repo.Unlink(t.Context(), []int64{5}))

	record = attachmentRecord{}
	_, err = fp.read(attachmentsCollection, "5", &record)
	require.NoError(t, err)
	assert.Empty(t, record.FieldID)

	require.ErrorIs(t, repo.Link(t.Context(), "field-1", []int64{99}), persistence.ErrAttachmentNotFound)
}
