package web

import "time"

// Actor headers identify the tenant and the acting user of a request.
const (
	AccountIDHeader = "X-Account-ID"
	ActorIDHeader   = "X-Actor-ID"
)

// StartWorkflowRequest represents the request body for starting a workflow.
// Requests without an actor start the workflow as external (public form).
type StartWorkflowRequest struct {
	TemplateID string         `json:"template_id"        validate:"required"`
	Name       string         `json:"name,omitempty"     validate:"omitempty,max=280"`
	IsUrgent   bool           `json:"is_urgent"`
	DueDate    *time.Time     `json:"due_date,omitempty"`
	Kickoff    map[string]any `json:"kickoff,omitempty"`
}

// CompleteTaskRequest carries the field values submitted with a task completion.
type CompleteTaskRequest struct {
	Values map[string]any `json:"values,omitempty"`
}

// RevertRequest selects the task to revert to. Zero picks the closest completed parent
// of the current task.
type RevertRequest struct {
	ToTask int `json:"to_task" validate:"min=0"`
}

type DelayRequest struct {
	Until *time.Time `json:"until" validate:"required"`
}

// PerformerRequest represents a performer added to a task.
type PerformerRequest struct {
	Type string `json:"type" validate:"required,oneof=user group"`
	ID   int64  `json:"id"   validate:"required,min=1"`
}

type UrgentRequest struct {
	Urgent bool `json:"urgent"`
}
