package templates

import (
	"fmt"

	"github.com/dukex/taskflow/pkg/conditions"
	"github.com/dukex/taskflow/pkg/models"
	"github.com/go-playground/validator/v10"
)

// Validator checks normalized templates.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate checks the structure of the template and every cross reference inside it:
// parents, due date sources, condition fields and performers. The account is optional;
// when given, user and group performers must belong to it.
func (v *Validator) Validate(template *models.Template, account *models.Account) error {
	const op = "validate"

	if err := v.validate.Struct(template); err != nil {
		return invalid(op, err.Error(), err)
	}

	visible := make(map[string]*models.FieldTemplate)
	if err := addFields(visible, template.Kickoff); err != nil {
		return err
	}

	byAPIName := make(map[string]*models.TaskTemplate, len(template.Tasks))
	numbers := make(map[int]bool, len(template.Tasks))

	for _, task := range template.Tasks {
		if _, ok := byAPIName[task.APIName]; ok {
			return invalid(op, "task "+task.APIName, ErrDuplicateAPIName)
		}

		if numbers[task.Number] {
			return invalid(op, fmt.Sprintf("task number %d", task.Number), ErrDuplicateNumber)
		}

		byAPIName[task.APIName] = task
		numbers[task.Number] = true
	}

	for _, task := range template.Tasks {
		for _, parent := range task.Parents {
			if _, ok := byAPIName[parent]; !ok || parent == task.APIName {
				return invalid(op, fmt.Sprintf("task %s parent %s", task.APIName, parent), ErrUnknownParent)
			}
		}

		if err := checkPerformers(task, account); err != nil {
			return err
		}

		for _, condition := range task.Conditions {
			lookup := func(apiName string) (*models.FieldTemplate, bool) {
				field, ok := visible[apiName]

				return field, ok
			}

			if err := conditions.Validate(task.APIName, condition, lookup); err != nil {
				return invalid(op, err.Error(), err)
			}
		}

		// Fields of a task are visible to the conditions of later tasks only.
		if err := addFields(visible, task.Fields); err != nil {
			return err
		}
	}

	for _, task := range template.Tasks {
		if err := checkDueDate(task, byAPIName, visible); err != nil {
			return err
		}
	}

	if cycle := findCycle(template.Tasks, byAPIName); cycle != "" {
		return invalid(op, "task "+cycle, ErrCyclicParents)
	}

	return nil
}

func addFields(visible map[string]*models.FieldTemplate, fieldTemplates []*models.FieldTemplate) error {
	for _, field := range fieldTemplates {
		if !field.Type.IsValid() {
			return invalid("validate", fmt.Sprintf("field %s type %q", field.APIName, field.Type), ErrUnknownFieldType)
		}

		if field.Type.IsSelection() && len(field.Selections) == 0 {
			return invalid("validate", "field "+field.APIName, ErrMissingSelections)
		}

		if _, ok := visible[field.APIName]; ok {
			return invalid("validate", "field "+field.APIName, ErrDuplicateAPIName)
		}

		visible[field.APIName] = field
	}

	return nil
}

func checkPerformers(task *models.TaskTemplate, account *models.Account) error {
	if account == nil {
		return nil
	}

	for _, performer := range task.RawPerformers {
		switch performer.Type {
		case models.PerformerTypeUser:
			if _, ok := account.User(*performer.UserID); !ok {
				return invalid("validate", fmt.Sprintf("task %s user %d", task.APIName, *performer.UserID), ErrInvalidPerformer)
			}
		case models.PerformerTypeGroup:
			if _, ok := account.Group(*performer.GroupID); !ok {
				return invalid("validate", fmt.Sprintf("task %s group %d", task.APIName, *performer.GroupID), ErrInvalidPerformer)
			}
		case models.PerformerTypeWorkflowStarter:
		}
	}

	return nil
}

func checkDueDate(task *models.TaskTemplate, tasks map[string]*models.TaskTemplate, fieldTemplates map[string]*models.FieldTemplate) error {
	rule := task.RawDueDate
	if rule == nil {
		return nil
	}

	switch rule.Rule {
	case models.DueDateAfterTaskStarted, models.DueDateAfterTaskCompleted:
		if rule.SourceID == "" {
			return nil
		}

		if _, ok := tasks[rule.SourceID]; !ok {
			return invalid("validate", fmt.Sprintf("task %s due date source %s", task.APIName, rule.SourceID), ErrInvalidDueDate)
		}
	case models.DueDateAfterField:
		field, ok := fieldTemplates[rule.SourceID]
		if !ok || field.Type != models.FieldTypeDate {
			return invalid("validate", fmt.Sprintf("task %s due date field %s", task.APIName, rule.SourceID), ErrInvalidDueDate)
		}
	case models.DueDateAfterWorkflowStarted:
	}

	return nil
}

// findCycle returns the api_name of a task on a parent cycle, or "".
func findCycle(tasks []*models.TaskTemplate, byAPIName map[string]*models.TaskTemplate) string {
	const (
		visiting = iota + 1
		done
	)

	state := make(map[string]int, len(tasks))

	var visit func(task *models.TaskTemplate) string

	visit = func(task *models.TaskTemplate) string {
		switch state[task.APIName] {
		case visiting:
			return task.APIName
		case done:
			return ""
		}

		state[task.APIName] = visiting

		for _, parent := range task.Parents {
			if cycle := visit(byAPIName[parent]); cycle != "" {
				return cycle
			}
		}

		state[task.APIName] = done

		return ""
	}

	for _, task := range tasks {
		if cycle := visit(task); cycle != "" {
			return cycle
		}
	}

	return ""
}
