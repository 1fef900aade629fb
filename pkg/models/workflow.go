// Package models defines the domain models for template-driven business process automation
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusRunning WorkflowStatus = "running"
	WorkflowStatusDelayed WorkflowStatus = "delayed"
	WorkflowStatusDone    WorkflowStatus = "done"
)

// TemplateRef points a workflow at the template it was started from.
// It is either a LiveTemplate or a LegacyTemplate.
type TemplateRef interface {
	templateRef()
}

// LiveTemplate references a template that still exists.
type LiveTemplate struct {
	ID string
}

// LegacyTemplate keeps the name of a deleted template.
type LegacyTemplate struct {
	Name string
}

func (LiveTemplate) templateRef()   {}
func (LegacyTemplate) templateRef() {}

// Workflow is one running instance of a template.
type Workflow struct {
	ID            string         `json:"id"`
	AccountID     int64          `json:"account_id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Template      TemplateRef    `json:"-"`
	Status        WorkflowStatus `json:"status"`
	CurrentTask   int            `json:"current_task"`
	IsUrgent      bool           `json:"is_urgent"`
	IsExternal    bool           `json:"is_external"`
	StarterID     *int64         `json:"workflow_starter,omitempty"`
	Members       []int64        `json:"members"`
	Owners        []int64        `json:"owners"`
	Kickoff       []*TaskField   `json:"kickoff"`
	Tasks         []*Task        `json:"tasks"`
	DueDate       *time.Time     `json:"due_date,omitempty"`
	DateStarted   time.Time      `json:"date_started"`
	DateCompleted *time.Time     `json:"date_completed,omitempty"`
	Version       int64          `json:"version"` // Incremented on every successful save
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     *time.Time     `json:"deleted_at,omitempty"`
}

type templateRefJSON struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type workflowAlias Workflow

type workflowJSON struct {
	*workflowAlias

	Template   *templateRefJSON `json:"template,omitempty"`
	TasksCount int              `json:"tasks_count"`
}

// MarshalJSON encodes the template reference as a tagged object.
func (w *Workflow) MarshalJSON() ([]byte, error) {
	out := workflowJSON{workflowAlias: (*workflowAlias)(w), TasksCount: w.TasksCount()}

	switch ref := w.Template.(type) {
	case LiveTemplate:
		out.Template = &templateRefJSON{Kind: "live", ID: ref.ID}
	case LegacyTemplate:
		out.Template = &templateRefJSON{Kind: "legacy", Name: ref.Name}
	}

	return json.Marshal(out)
}

// UnmarshalJSON decodes the tagged template reference.
func (w *Workflow) UnmarshalJSON(data []byte) error {
	in := workflowJSON{workflowAlias: (*workflowAlias)(w)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	if in.Template == nil {
		w.Template = nil

		return nil
	}

	switch in.Template.Kind {
	case "live":
		w.Template = LiveTemplate{ID: in.Template.ID}
	case "legacy":
		w.Template = LegacyTemplate{Name: in.Template.Name}
	default:
		return fmt.Errorf("unknown template reference kind %q", in.Template.Kind)
	}

	return nil
}

// TasksCount returns the number of tasks in the workflow.
func (w *Workflow) TasksCount() int {
	return len(w.Tasks)
}

// IsTerminated reports whether the workflow was soft-deleted.
func (w *Workflow) IsTerminated() bool {
	return w.DeletedAt != nil
}

// TemplateID returns the id of the live template, if any.
func (w *Workflow) TemplateID() (string, bool) {
	if live, ok := w.Template.(LiveTemplate); ok {
		return live.ID, true
	}

	return "", false
}

// TaskByNumber finds a task by its 1-based number.
func (w *Workflow) TaskByNumber(number int) (*Task, bool) {
	for _, task := range w.Tasks {
		if task.Number == number {
			return task, true
		}
	}

	return nil, false
}

// TaskByAPIName finds a task by api_name.
func (w *Workflow) TaskByAPIName(apiName string) (*Task, bool) {
	for _, task := range w.Tasks {
		if task.APIName == apiName {
			return task, true
		}
	}

	return nil, false
}

// Field looks up a field of the given type by api_name across the kickoff and all tasks.
func (w *Workflow) Field(fieldType FieldType, apiName string) (*TaskField, bool) {
	for _, field := range w.Kickoff {
		if field.APIName == apiName && field.Type == fieldType {
			return field, true
		}
	}

	for _, task := range w.Tasks {
		for _, field := range task.Fields {
			if field.APIName == apiName && field.Type == fieldType {
				return field, true
			}
		}
	}

	return nil, false
}

// IsOwner reports whether the user has management rights on the workflow.
func (w *Workflow) IsOwner(userID int64) bool {
	return containsID(w.Owners, userID)
}

// IsMember reports whether the user can see the workflow.
func (w *Workflow) IsMember(userID int64) bool {
	return containsID(w.Members, userID)
}

// AddMember grants visibility to the user.
func (w *Workflow) AddMember(userID int64) {
	if !containsID(w.Members, userID) {
		w.Members = append(w.Members, userID)
	}
}

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}

	return false
}

// NextResumeAt returns the earliest time a delayed task is due to resume.
func (w *Workflow) NextResumeAt() *time.Time {
	var next *time.Time

	for _, task := range w.Tasks {
		if task.Status != TaskStatusDelayed || task.DelayedUntil == nil {
			continue
		}

		if next == nil || task.DelayedUntil.Before(*next) {
			next = task.DelayedUntil
		}
	}

	return next
}
