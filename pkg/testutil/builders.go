// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"fmt"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/google/uuid"
)

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// CreateTestAccount creates an account owned by user 1 with four active users and a group
// (id 100) holding users 3 and 4.
func CreateTestAccount(overrides ...func(*models.Account)) *models.Account {
	account := &models.Account{
		ID:                1,
		Name:              "Acme",
		OwnerID:           1,
		BillingPlanActive: true,
		Users: []*models.User{
			{ID: 1, Email: "owner@acme.test", FirstName: "Olive", IsActive: true, IsSubscribed: true},
			{ID: 2, Email: "starter@acme.test", FirstName: "Sam", IsActive: true, IsSubscribed: true},
			{ID: 3, Email: "ann@acme.test", FirstName: "Ann", IsActive: true, IsSubscribed: true},
			{ID: 4, Email: "bob@acme.test", FirstName: "Bob", IsActive: true},
		},
		Groups: []*models.Group{
			{ID: 100, Name: "Reviewers", Users: []int64{3, 4}},
		},
	}

	for _, override := range overrides {
		override(account)
	}

	return account
}

// CreateTestTemplate creates an active template with the given number of sequential tasks,
// each assigned to user 3.
func CreateTestTemplate(tasks int, overrides ...func(*models.Template)) *models.Template {
	template := &models.Template{
		ID:        uuid.New().String(),
		AccountID: 1,
		Name:      "Test Template",
		IsActive:  true,
		OwnerIDs:  []int64{1},
	}

	for i := 1; i <= tasks; i++ {
		template.Tasks = append(template.Tasks, CreateTestTaskTemplate(i))
	}

	for _, override := range overrides {
		override(template)
	}

	return template
}

// CreateTestTaskTemplate creates a task template named task-<number> assigned to user 3.
func CreateTestTaskTemplate(number int, overrides ...func(*models.TaskTemplate)) *models.TaskTemplate {
	task := &models.TaskTemplate{
		APIName: fmt.Sprintf("task-%d", number),
		Number:  number,
		Name:    fmt.Sprintf("Task %d", number),
		RawPerformers: []models.RawPerformer{
			{Type: models.PerformerTypeUser, UserID: Ptr(int64(3))},
		},
	}

	for _, override := range overrides {
		override(task)
	}

	return task
}

// WithTask replaces the task template with the same number.
func WithTask(task *models.TaskTemplate) func(*models.Template) {
	return func(t *models.Template) {
		for i, existing := range t.Tasks {
			if existing.Number == task.Number {
				t.Tasks[i] = task

				return
			}
		}

		t.Tasks = append(t.Tasks, task)
	}
}

// WithKickoff sets the kickoff fields of the template.
func WithKickoff(fields ...*models.FieldTemplate) func(*models.Template) {
	return func(t *models.Template) {
		t.Kickoff = fields
	}
}

// WithParents sets the parents of a task template.
func WithParents(parents ...string) func(*models.TaskTemplate) {
	return func(t *models.TaskTemplate) {
		t.Parents = parents
	}
}

// WithPerformers sets the raw performers of a task template.
func WithPerformers(performers ...models.RawPerformer) func(*models.TaskTemplate) {
	return func(t *models.TaskTemplate) {
		t.RawPerformers = performers
	}
}

// WithCondition adds a single-rule condition to a task template.
func WithCondition(action models.ConditionAction, predicates ...*models.Predicate) func(*models.TaskTemplate) {
	return func(t *models.TaskTemplate) {
		t.Conditions = append(t.Conditions, &models.Condition{
			APIName: fmt.Sprintf("%s-%s", t.APIName, action),
			Action:  action,
			Rules:   []*models.Rule{{APIName: "rule-1", Predicates: predicates}},
		})
	}
}

// WithFields sets the fields of a task template.
func WithFields(fields ...*models.FieldTemplate) func(*models.TaskTemplate) {
	return func(t *models.TaskTemplate) {
		t.Fields = fields
	}
}

// CreateTestField creates an optional field template.
func CreateTestField(apiName string, fieldType models.FieldType) *models.FieldTemplate {
	return &models.FieldTemplate{
		APIName: apiName,
		Name:    apiName,
		Type:    fieldType,
	}
}

// Predicate builds a predicate comparing a field with value.
func Predicate(fieldType models.FieldType, field string, operator models.PredicateOperator, value string) *models.Predicate {
	return &models.Predicate{FieldType: fieldType, Field: field, Operator: operator, Value: &value}
}
