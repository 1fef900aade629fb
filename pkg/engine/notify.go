package engine

import (
	"slices"

	"github.com/dukex/taskflow/pkg/events"
	"github.com/dukex/taskflow/pkg/models"
)

// recipients resolves user ids to notification targets, skipping unknown and inactive users.
func recipients(account *models.Account, ids []int64) []events.Recipient {
	result := make([]events.Recipient, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))

	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}

		user, ok := account.User(id)
		if !ok || !user.IsActive {
			continue
		}

		result = append(result, events.Recipient{UserID: user.ID, Email: user.Email, IsSubscribed: user.IsSubscribed})
	}

	return result
}

// watchers are the users told about workflow-level activity: owners, the starter and
// everyone working on a running task.
func watchers(workflow *models.Workflow) []int64 {
	ids := slices.Clone(workflow.Owners)
	if workflow.StarterID != nil {
		ids = append(ids, *workflow.StarterID)
	}

	for _, task := range workflow.Tasks {
		if task.Status.IsRunning() {
			ids = append(ids, task.EffectiveUserIDs()...)
		}
	}

	return ids
}

func (t *txn) notifyAssigned(task *models.Task, users []int64) {
	if len(users) == 0 {
		return
	}

	t.emit(&events.TaskAssigned{
		BaseEvent:  events.NewBaseEvent(events.TaskAssignedEvent, t.account.ID, t.workflow.ID),
		Recipients: recipients(t.account, users),
		Task:       events.NewTaskSnapshot(task),
		Workflow:   events.NewWorkflowSnapshot(t.workflow),
	})
}

func (t *txn) notifyRemoved(task *models.Task, users []int64) {
	if len(users) == 0 {
		return
	}

	t.emit(&events.TaskRemoved{
		BaseEvent:  events.NewBaseEvent(events.TaskRemovedEvent, t.account.ID, t.workflow.ID),
		Recipients: recipients(t.account, users),
		Task:       events.NewTaskSnapshot(task),
	})
}

func (t *txn) notifyCompleted(task *models.Task) {
	ids := slices.Clone(t.workflow.Owners)
	if t.workflow.StarterID != nil {
		ids = append(ids, *t.workflow.StarterID)
	}

	t.emit(&events.TaskCompleted{
		BaseEvent:   events.NewBaseEvent(events.TaskCompletedEvent, t.account.ID, t.workflow.ID),
		Recipients:  recipients(t.account, ids),
		Task:        events.NewTaskSnapshot(task),
		Workflow:    events.NewWorkflowSnapshot(t.workflow),
		CompletedBy: t.actor,
	})
}

func (t *txn) notifyWorkflowCompleted() {
	ids := slices.Clone(t.workflow.Owners)
	if t.workflow.StarterID != nil {
		ids = append(ids, *t.workflow.StarterID)
	}

	t.emit(&events.WorkflowCompleted{
		BaseEvent:  events.NewBaseEvent(events.WorkflowCompletedEvent, t.account.ID, t.workflow.ID),
		Recipients: recipients(t.account, ids),
		Workflow:   events.NewWorkflowSnapshot(t.workflow),
	})
}

// activity emits a workflow.event notification. task may be nil for workflow-wide activity.
func (t *txn) activity(kind events.ActivityKind, task *models.Task) {
	event := &events.WorkflowActivity{
		BaseEvent:  events.NewBaseEvent(events.WorkflowActivityEvent, t.account.ID, t.workflow.ID),
		Kind:       kind,
		ActorID:    t.actor,
		Recipients: recipients(t.account, watchers(t.workflow)),
		Workflow:   events.NewWorkflowSnapshot(t.workflow),
	}

	if task != nil {
		snapshot := events.NewTaskSnapshot(task)
		event.Task = &snapshot
	}

	t.emit(event)
}

func (t *txn) analytics(name string, attributes map[string]any) {
	if attributes == nil {
		attributes = make(map[string]any)
	}

	attributes["workflow_id"] = t.workflow.ID
	if id, ok := t.workflow.TemplateID(); ok {
		attributes["template_id"] = id
	}

	if t.actor != nil {
		attributes["user_id"] = *t.actor
	}

	t.emit(&events.Analytics{
		BaseEvent:  events.NewBaseEvent(events.AnalyticsEvent, t.account.ID, t.workflow.ID),
		Name:       name,
		Attributes: attributes,
	})
}
