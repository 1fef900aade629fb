package models

import "time"

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusActive    TaskStatus = "active"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusSkipped   TaskStatus = "skipped"
	TaskStatusDelayed   TaskStatus = "delayed"
)

// IsTerminal reports whether the status ends forward flow of a task.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusSkipped
}

// IsRunning reports whether the task is assigned and waiting on performers or a delay.
func (s TaskStatus) IsRunning() bool {
	return s == TaskStatusActive || s == TaskStatusDelayed
}

// DirectlyStatus records manual performer edits that template re-sync must not override.
type DirectlyStatus string

const (
	DirectlyStatusNoStatus DirectlyStatus = "no_status"
	DirectlyStatusCreated  DirectlyStatus = "created"
	DirectlyStatusDeleted  DirectlyStatus = "deleted"
)

// TaskPerformer assigns a user or a group to a task.
type TaskPerformer struct {
	Type           PerformerType  `json:"type"`
	UserID         *int64         `json:"user_id,omitempty"`
	GroupID        *int64         `json:"group_id,omitempty"`
	GroupMembers   []int64        `json:"group_members,omitempty"` // Members at resolve time
	IsCompleted    bool           `json:"is_completed"`
	DateCompleted  *time.Time     `json:"date_completed,omitempty"`
	DirectlyStatus DirectlyStatus `json:"directly_status"`
}

// IsDeleted reports whether the performer was manually removed.
func (p *TaskPerformer) IsDeleted() bool {
	return p.DirectlyStatus == DirectlyStatusDeleted
}

// Covers reports whether the user acts through this performer row.
func (p *TaskPerformer) Covers(userID int64) bool {
	switch p.Type {
	case PerformerTypeUser:
		return p.UserID != nil && *p.UserID == userID
	case PerformerTypeGroup:
		for _, member := range p.GroupMembers {
			if member == userID {
				return true
			}
		}
	}

	return false
}

// Task is one step of a running workflow.
type Task struct {
	APIName                string           `json:"api_name"`
	Number                 int              `json:"number"`
	Name                   string           `json:"name"`
	Description            string           `json:"description,omitempty"`
	Status                 TaskStatus       `json:"status"`
	RequireCompletionByAll bool             `json:"require_completion_by_all"`
	Parents                []string         `json:"parents"`
	RawPerformers          []RawPerformer   `json:"raw_performers"`
	Performers             []*TaskPerformer `json:"performers"`
	Fields                 []*TaskField     `json:"fields"`
	Conditions             []*Condition     `json:"conditions,omitempty"`
	Delay                  *Duration        `json:"delay,omitempty"`
	RawDueDate             *RawDueDate      `json:"raw_due_date,omitempty"`
	DueDate                *time.Time       `json:"due_date,omitempty"`
	DelayedUntil           *time.Time       `json:"delayed_until,omitempty"`
	DateStarted            *time.Time       `json:"date_started,omitempty"`
	DateCompleted          *time.Time       `json:"date_completed,omitempty"`
}

// Condition returns the task condition for the given action.
func (t *Task) Condition(action ConditionAction) (*Condition, bool) {
	for _, condition := range t.Conditions {
		if condition.Action == action {
			return condition, true
		}
	}

	return nil, false
}

// Field finds a task field by api_name.
func (t *Task) Field(apiName string) (*TaskField, bool) {
	for _, field := range t.Fields {
		if field.APIName == apiName {
			return field, true
		}
	}

	return nil, false
}

// ActivePerformers returns performer rows that were not manually removed.
func (t *Task) ActivePerformers() []*TaskPerformer {
	active := make([]*TaskPerformer, 0, len(t.Performers))

	for _, performer := range t.Performers {
		if !performer.IsDeleted() {
			active = append(active, performer)
		}
	}

	return active
}

// EffectiveUserIDs returns the users that can act on the task, through direct
// assignment or group membership, in first-seen order.
func (t *Task) EffectiveUserIDs() []int64 {
	seen := make(map[int64]struct{})
	users := make([]int64, 0, len(t.Performers))

	add := func(id int64) {
		if _, ok := seen[id]; ok {
			return
		}

		seen[id] = struct{}{}
		users = append(users, id)
	}

	for _, performer := range t.ActivePerformers() {
		switch performer.Type {
		case PerformerTypeUser:
			if performer.UserID != nil {
				add(*performer.UserID)
			}
		case PerformerTypeGroup:
			for _, member := range performer.GroupMembers {
				add(member)
			}
		}
	}

	return users
}

// IsPerformer reports whether the user is an effective performer of the task.
func (t *Task) IsPerformer(userID int64) bool {
	for _, performer := range t.ActivePerformers() {
		if performer.Covers(userID) {
			return true
		}
	}

	return false
}
