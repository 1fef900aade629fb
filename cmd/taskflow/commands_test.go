package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/taskflow/pkg/events"
	"github.com/dukex/taskflow/pkg/mocks"
	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence/file"
	"github.com/dukex/taskflow/pkg/templates"
	"github.com/dukex/taskflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const templateDocument = `{
  "account_id": 1,
  "name": "Onboarding",
  "owner_ids": [1],
  "tasks": [
    {"name": "Prepare laptop", "raw_performers": [{"type": "user", "user_id": 3}]},
    {"name": "Welcome", "raw_performers": [{"type": "workflow_starter"}]}
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestValidateTemplates(t *testing.T) {
	valid := writeFile(t, "valid.json", templateDocument)
	invalid := writeFile(t, "invalid.json", `{"name": "ab", "tasks": []}`)

	tests := []struct {
		name    string
		paths   []string
		wantErr error
		want    []string
	}{
		{
			name:  "valid document",
			paths: []string{valid},
			want:  []string{valid + ": ok"},
		},
		{
			name:    "invalid document",
			paths:   []string{valid, invalid},
			wantErr: errInvalidDocuments,
			want:    []string{valid + ": ok", invalid + ": "},
		},
		{
			name:    "no files",
			wantErr: errMissingArgs,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer

			err := validateTemplates(&out, tt.paths)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			for _, line := range tt.want {
				assert.Contains(t, out.String(), line)
			}
		})
	}
}

func TestImportTemplates(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	require.NoError(t, store.AccountRepository().Save(t.Context(), testutil.CreateTestAccount()))

	service := templates.NewService(slog.Default(), store, nil)

	var out bytes.Buffer

	require.NoError(t, importTemplates(t.Context(), &out, service, []string{writeFile(t, "onboarding.json", templateDocument)}))
	assert.Contains(t, out.String(), "imported")

	list, err := store.TemplateRepository().ListByAccount(t.Context(), 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Onboarding", list[0].Name)
	assert.Len(t, list[0].Tasks, 2)

	err = importTemplates(t.Context(), &out, service, []string{writeFile(t, "bad.json", `{"name": "Onboarding"}`)})
	require.Error(t, err)
	assert.True(t, templates.IsValidationError(err))
}

func TestImportAccounts(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	document, err := json.Marshal(testutil.CreateTestAccount())
	require.NoError(t, err)

	var out bytes.Buffer

	require.NoError(t, importAccounts(t.Context(), &out, store.AccountRepository(), []string{writeFile(t, "acme.json", string(document))}))

	account, err := store.AccountRepository().GetByID(t.Context(), 1)
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "Acme", account.Name)
	assert.Len(t, account.Groups, 1)

	err = importAccounts(t.Context(), &out, store.AccountRepository(), []string{writeFile(t, "nameless.json", `{"id": 2, "owner_id": 1}`)})
	assert.Error(t, err)
}

func TestPublishGroupChanged(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "account-1", mock.Anything).Return(nil)

	require.NoError(t, publishGroupChanged(t.Context(), bus, 1, 100))

	published := bus.Published()
	require.Len(t, published, 1)

	event, ok := published[0].(*events.GroupChanged)
	require.True(t, ok)
	assert.Equal(t, int64(1), event.AccountID)
	assert.Equal(t, int64(100), event.GroupID)
	assert.Equal(t, events.GroupChangedEvent, event.GetType())
}

func TestInspectWorkflowAndListDue(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	repo := store.WorkflowRepository()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(-time.Minute)

	workflow := &models.Workflow{
		ID:        "wf-1",
		AccountID: 1,
		Name:      "Onboarding Ann",
		Template:  models.LiveTemplate{ID: "tpl-1"},
		Status:    models.WorkflowStatusDelayed,
		Tasks: []*models.Task{
			{APIName: "wait", Number: 1, Status: models.TaskStatusDelayed, DelayedUntil: &until},
		},
	}
	require.NoError(t, repo.Save(t.Context(), workflow))

	var out bytes.Buffer

	require.NoError(t, inspectWorkflow(t.Context(), &out, repo, "wf-1"))
	assert.Contains(t, out.String(), `"Onboarding Ann"`)

	require.Error(t, inspectWorkflow(t.Context(), &out, repo, "missing"))

	out.Reset()
	require.NoError(t, listDue(t.Context(), &out, repo, now))
	assert.Equal(t, "wf-1\tOnboarding Ann\t1\n", out.String())
}
