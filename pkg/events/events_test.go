package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvents_GetType(t *testing.T) {
	tests := []struct {
		event interface{ GetType() EventType }
		want  EventType
	}{
		{TaskAssigned{}, TaskAssignedEvent},
		{TaskRemoved{}, TaskRemovedEvent},
		{TaskCompleted{}, TaskCompletedEvent},
		{WorkflowCompleted{}, WorkflowCompletedEvent},
		{WorkflowActivity{}, WorkflowActivityEvent},
		{Analytics{}, AnalyticsEvent},
		{GroupChanged{}, GroupChangedEvent},
		{TemplateUpdated{}, TemplateUpdatedEvent},
		{TemplateDeleted{}, TemplateDeletedEvent},
		{WorkflowResumeDue{}, WorkflowResumeDueEvent},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.event.GetType())
	}
}

func TestTaskAssigned_JSONSerialization(t *testing.T) {
	due := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	task := &models.Task{APIName: "review", Number: 2, Name: "Review", Status: models.TaskStatusActive, DueDate: &due}
	workflow := &models.Workflow{ID: "wf-1", Name: "Onboarding", Status: models.WorkflowStatusRunning, CurrentTask: 2, Tasks: []*models.Task{{}, task}}

	original := &TaskAssigned{
		BaseEvent:  NewBaseEvent(TaskAssignedEvent, 7, "wf-1"),
		Recipients: []Recipient{{UserID: 3, Email: "ann@acme.test", IsSubscribed: true}},
		Task:       NewTaskSnapshot(task),
		Workflow:   NewWorkflowSnapshot(workflow),
	}

	jsonData, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), `"type":"task.assigned"`)
	assert.Contains(t, string(jsonData), `"tasks_count":2`)

	var deserialized TaskAssigned

	require.NoError(t, json.Unmarshal(jsonData, &deserialized))
	assert.Equal(t, original.Recipients, deserialized.Recipients)
	assert.Equal(t, "review", deserialized.Task.APIName)
	assert.True(t, due.Equal(*deserialized.Task.DueDate))
	assert.Equal(t, int64(7), deserialized.AccountID)
}
