// Package events defines the notification, analytics and command events emitted around workflow execution.
package events

import (
	"time"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "taskflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Notification events.
	TaskAssignedEvent      EventType = "task.assigned"
	TaskRemovedEvent       EventType = "task.removed"
	TaskCompletedEvent     EventType = "task.completed"
	WorkflowCompletedEvent EventType = "workflow.completed"
	WorkflowActivityEvent  EventType = "workflow.event"

	// Analytics.
	AnalyticsEvent EventType = "analytics.event"

	// Commands consumed by the worker.
	GroupChangedEvent      EventType = "group.changed"
	TemplateUpdatedEvent   EventType = "template.updated"
	TemplateDeletedEvent   EventType = "template.deleted"
	WorkflowResumeDueEvent EventType = "workflow.resume_due"
)

// ActivityKind describes what happened in a workflow.event notification.
type ActivityKind string

const (
	ActivityStarted        ActivityKind = "started"
	ActivityReverted       ActivityKind = "reverted"
	ActivityReturned       ActivityKind = "returned"
	ActivityDelayed        ActivityKind = "delayed"
	ActivityResumed        ActivityKind = "resumed"
	ActivityForceCompleted ActivityKind = "force_completed"
	ActivityTerminated     ActivityKind = "terminated"
	ActivityUrgent         ActivityKind = "urgent"
	ActivityNotUrgent      ActivityKind = "not_urgent"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	AccountID  int64          `json:"account_id"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Recipient is a fully resolved notification target.
type Recipient struct {
	UserID       int64  `json:"user_id"`
	Email        string `json:"email"`
	IsSubscribed bool   `json:"is_subscribed"`
}

// TaskSnapshot is the denormalized view of a task carried by notifications.
type TaskSnapshot struct {
	APIName     string            `json:"api_name"`
	Number      int               `json:"number"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Status      models.TaskStatus `json:"status"`
	DueDate     *time.Time        `json:"due_date,omitempty"`
}

// WorkflowSnapshot is the denormalized view of a workflow carried by notifications.
type WorkflowSnapshot struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Status      models.WorkflowStatus `json:"status"`
	CurrentTask int                   `json:"current_task"`
	TasksCount  int                   `json:"tasks_count"`
	IsUrgent    bool                  `json:"is_urgent"`
	IsExternal  bool                  `json:"is_external"`
}

type TaskAssigned struct {
	BaseEvent

	Recipients []Recipient      `json:"recipients"`
	Task       TaskSnapshot     `json:"task"`
	Workflow   WorkflowSnapshot `json:"workflow"`
}

func (e TaskAssigned) GetType() EventType {
	return TaskAssignedEvent
}

type TaskRemoved struct {
	BaseEvent

	Recipients []Recipient  `json:"recipients"`
	Task       TaskSnapshot `json:"task"`
}

func (e TaskRemoved) GetType() EventType {
	return TaskRemovedEvent
}

type TaskCompleted struct {
	BaseEvent

	Recipients  []Recipient      `json:"recipients"`
	Task        TaskSnapshot     `json:"task"`
	Workflow    WorkflowSnapshot `json:"workflow"`
	CompletedBy *int64           `json:"completed_by,omitempty"`
}

func (e TaskCompleted) GetType() EventType {
	return TaskCompletedEvent
}

type WorkflowCompleted struct {
	BaseEvent

	Recipients []Recipient      `json:"recipients"`
	Workflow   WorkflowSnapshot `json:"workflow"`
}

func (e WorkflowCompleted) GetType() EventType {
	return WorkflowCompletedEvent
}

type WorkflowActivity struct {
	BaseEvent

	Kind       ActivityKind     `json:"kind"`
	ActorID    *int64           `json:"actor_id,omitempty"`
	Recipients []Recipient      `json:"recipients"`
	Task       *TaskSnapshot    `json:"task,omitempty"`
	Workflow   WorkflowSnapshot `json:"workflow"`
}

func (e WorkflowActivity) GetType() EventType {
	return WorkflowActivityEvent
}

type Analytics struct {
	BaseEvent

	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (e Analytics) GetType() EventType {
	return AnalyticsEvent
}

type GroupChanged struct {
	BaseEvent

	GroupID int64 `json:"group_id"`
}

func (e GroupChanged) GetType() EventType {
	return GroupChangedEvent
}

type TemplateUpdated struct {
	BaseEvent

	TemplateID string `json:"template_id"`
}

func (e TemplateUpdated) GetType() EventType {
	return TemplateUpdatedEvent
}

type TemplateDeleted struct {
	BaseEvent

	TemplateID   string `json:"template_id"`
	TemplateName string `json:"template_name"`
}

func (e TemplateDeleted) GetType() EventType {
	return TemplateDeletedEvent
}

type WorkflowResumeDue struct {
	BaseEvent

	At time.Time `json:"at"`
}

func (e WorkflowResumeDue) GetType() EventType {
	return WorkflowResumeDueEvent
}

func NewBaseEvent(eventType EventType, accountID int64, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		AccountID:  accountID,
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// NewTaskSnapshot captures the notification view of a task.
func NewTaskSnapshot(task *models.Task) TaskSnapshot {
	return TaskSnapshot{
		APIName:     task.APIName,
		Number:      task.Number,
		Name:        task.Name,
		Description: task.Description,
		Status:      task.Status,
		DueDate:     task.DueDate,
	}
}

// NewWorkflowSnapshot captures the notification view of a workflow.
func NewWorkflowSnapshot(workflow *models.Workflow) WorkflowSnapshot {
	return WorkflowSnapshot{
		ID:          workflow.ID,
		Name:        workflow.Name,
		Status:      workflow.Status,
		CurrentTask: workflow.CurrentTask,
		TasksCount:  workflow.TasksCount(),
		IsUrgent:    workflow.IsUrgent,
		IsExternal:  workflow.IsExternal,
	}
}
