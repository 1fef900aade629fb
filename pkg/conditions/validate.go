package conditions

import (
	"slices"
	"strconv"

	"github.com/dukex/taskflow/pkg/models"
)

// FieldLookup finds a field template visible to a task by api_name.
type FieldLookup func(apiName string) (*models.FieldTemplate, bool)

// Validate checks that every predicate of the condition references a known field
// with an operator and value that make sense for its type.
func Validate(taskAPIName string, condition *models.Condition, lookup FieldLookup) error {
	fail := func(field string, err error) error {
		return &EvaluationError{Task: taskAPIName, Condition: condition.APIName, Field: field, Err: err}
	}

	if len(condition.Rules) == 0 {
		return fail("", ErrEmptyCondition)
	}

	for _, rule := range condition.Rules {
		if len(rule.Predicates) == 0 {
			return fail("", ErrEmptyCondition)
		}

		for _, predicate := range rule.Predicates {
			template, ok := lookup(predicate.Field)
			if !ok {
				return fail(predicate.Field, ErrUnknownField)
			}

			if template.Type != predicate.FieldType {
				return fail(predicate.Field, ErrFieldTypeMismatch)
			}

			if !slices.Contains(SupportedOperators[predicate.FieldType], predicate.Operator) {
				return fail(predicate.Field, ErrUnsupportedOperator)
			}

			if !needsValue(predicate.Operator) {
				continue
			}

			value, ok := predicateValue(predicate.Value)
			if !ok {
				return fail(predicate.Field, ErrMissingValue)
			}

			if predicate.FieldType.IsSelection() && !hasSelection(template, value) {
				return fail(predicate.Field, ErrUnknownSelection)
			}
		}
	}

	return nil
}

func hasSelection(template *models.FieldTemplate, ref string) bool {
	for _, selection := range template.Selections {
		if selection.APIName == ref {
			return true
		}
	}

	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return false
	}

	for _, selection := range template.Selections {
		if selection.ID == id {
			return true
		}
	}

	return false
}
