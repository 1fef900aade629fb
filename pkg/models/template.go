package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// PerformerType identifies what a raw performer or task performer points to.
type PerformerType string

const (
	PerformerTypeUser            PerformerType = "user"
	PerformerTypeGroup           PerformerType = "group"
	PerformerTypeWorkflowStarter PerformerType = "workflow_starter"
)

// RawPerformer is an unresolved performer specification of a task template.
type RawPerformer struct {
	Type    PerformerType `json:"type"               validate:"required,oneof=user group workflow_starter"`
	UserID  *int64        `json:"user_id,omitempty"  validate:"required_if=Type user"`
	GroupID *int64        `json:"group_id,omitempty" validate:"required_if=Type group"`
}

// DueDateRule is the anchor a task due date is computed from.
type DueDateRule string

const (
	DueDateAfterWorkflowStarted DueDateRule = "after_workflow_started"
	DueDateAfterTaskStarted     DueDateRule = "after_task_started"
	DueDateAfterTaskCompleted   DueDateRule = "after_task_completed"
	DueDateAfterField           DueDateRule = "after_field"
)

// RawDueDate describes how to derive a task due date.
type RawDueDate struct {
	Duration Duration    `json:"duration"`
	Rule     DueDateRule `json:"rule"                validate:"required,oneof=after_workflow_started after_task_started after_task_completed after_field"`
	SourceID string      `json:"source_id,omitempty"` // Task or field api_name for the "after" rules
}

// Duration is a time.Duration encoded as a Go duration string ("36h", "15m").
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}

	*d = Duration(parsed)

	return nil
}

// FieldTemplateSelection is a predefined choice of a selection field template.
type FieldTemplateSelection struct {
	ID      int64  `json:"id"`
	APIName string `json:"api_name"`
	Value   string `json:"value"    validate:"required"`
}

// FieldTemplate declares a field that is materialized into every workflow.
type FieldTemplate struct {
	APIName     string                    `json:"api_name"`
	Name        string                    `json:"name"        validate:"required"`
	Description string                    `json:"description,omitempty"`
	Type        FieldType                 `json:"type"        validate:"required"`
	IsRequired  bool                      `json:"is_required"`
	Order       int                       `json:"order"`
	Selections  []*FieldTemplateSelection `json:"selections,omitempty" validate:"dive"`
}

// TaskTemplate is one ordered step of a template.
type TaskTemplate struct {
	APIName                string           `json:"api_name"`
	Number                 int              `json:"number"                    validate:"required,min=1"`
	Name                   string           `json:"name"                      validate:"required"`
	Description            string           `json:"description,omitempty"`
	RequireCompletionByAll bool             `json:"require_completion_by_all"`
	Parents                []string         `json:"parents,omitempty"` // Defaults to the previous task
	Delay                  *Duration        `json:"delay,omitempty"`
	RawDueDate             *RawDueDate      `json:"raw_due_date,omitempty"`
	RawPerformers          []RawPerformer   `json:"raw_performers"            validate:"dive"`
	Fields                 []*FieldTemplate `json:"fields,omitempty"          validate:"dive"`
	Conditions             []*Condition     `json:"conditions,omitempty"      validate:"dive"`
}

// Template is the blueprint workflows are started from.
type Template struct {
	ID          string           `json:"id"`
	AccountID   int64            `json:"account_id"  validate:"required"`
	Name        string           `json:"name"        validate:"required,min=3"`
	Description string           `json:"description"`
	IsActive    bool             `json:"is_active"`
	OwnerIDs    []int64          `json:"owner_ids"   validate:"min=1"`
	Kickoff     []*FieldTemplate `json:"kickoff"     validate:"dive"`
	Tasks       []*TaskTemplate  `json:"tasks"       validate:"min=1,dive"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	DeletedAt   *time.Time       `json:"deleted_at,omitempty"`
}

// TaskByAPIName finds a task template by its api_name.
func (t *Template) TaskByAPIName(apiName string) (*TaskTemplate, bool) {
	for _, task := range t.Tasks {
		if task.APIName == apiName {
			return task, true
		}
	}

	return nil, false
}
