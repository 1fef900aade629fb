package conditions

import (
	"slices"
	"strconv"
	"strings"

	"github.com/dukex/taskflow/pkg/fields"
	"github.com/dukex/taskflow/pkg/models"
)

type comparator func(field *models.TaskField, operator models.PredicateOperator, value *string) bool

var comparators = map[models.FieldType]comparator{
	models.FieldTypeString:   compareText,
	models.FieldTypeText:     compareText,
	models.FieldTypeURL:      compareText,
	models.FieldTypeFile:     compareFile,
	models.FieldTypeDropdown: compareSingleSelection,
	models.FieldTypeRadio:    compareSingleSelection,
	models.FieldTypeCheckbox: compareMultiSelection,
	models.FieldTypeDate:     compareDate,
	models.FieldTypeUser:     compareUser,
}

var textOperators = []models.PredicateOperator{
	models.OperatorEqual, models.OperatorNotEqual,
	models.OperatorExist, models.OperatorNotExist,
	models.OperatorContain, models.OperatorNotContain,
}

// SupportedOperators lists the operators that have a meaning for each field type.
var SupportedOperators = map[models.FieldType][]models.PredicateOperator{
	models.FieldTypeString: textOperators,
	models.FieldTypeText:   textOperators,
	models.FieldTypeURL:    textOperators,
	models.FieldTypeFile:   {models.OperatorExist, models.OperatorNotExist},
	models.FieldTypeDropdown: {
		models.OperatorEqual, models.OperatorNotEqual,
		models.OperatorExist, models.OperatorNotExist,
	},
	models.FieldTypeRadio: {
		models.OperatorEqual, models.OperatorNotEqual,
		models.OperatorExist, models.OperatorNotExist,
	},
	models.FieldTypeCheckbox: textOperators,
	models.FieldTypeDate: {
		models.OperatorEqual, models.OperatorNotEqual,
		models.OperatorExist, models.OperatorNotExist,
		models.OperatorMoreThan, models.OperatorLessThan,
	},
	models.FieldTypeUser: {
		models.OperatorEqual, models.OperatorNotEqual,
		models.OperatorExist, models.OperatorNotExist,
	},
}

// Compare applies one predicate operator to the current value of a field.
func Compare(field *models.TaskField, operator models.PredicateOperator, value *string) bool {
	compare, ok := comparators[field.Type]
	if !ok {
		return false
	}

	return compare(field, operator, value)
}

func needsValue(operator models.PredicateOperator) bool {
	return operator != models.OperatorExist && operator != models.OperatorNotExist
}

func predicateValue(value *string) (string, bool) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return "", false
	}

	return *value, true
}

func compareText(field *models.TaskField, operator models.PredicateOperator, value *string) bool {
	current := field.Value
	expected, hasValue := predicateValue(value)

	switch operator {
	case models.OperatorEqual:
		return hasValue && current == expected
	case models.OperatorNotEqual:
		if current == "" {
			return true
		}

		return hasValue && current != expected
	case models.OperatorExist:
		return current != ""
	case models.OperatorNotExist:
		return current == ""
	case models.OperatorContain:
		return hasValue && strings.Contains(current, expected)
	case models.OperatorNotContain:
		return hasValue && !strings.Contains(current, expected)
	}

	return false
}

func compareFile(field *models.TaskField, operator models.PredicateOperator, _ *string) bool {
	switch operator {
	case models.OperatorExist:
		return !field.IsEmpty()
	case models.OperatorNotExist:
		return field.IsEmpty()
	}

	return false
}

func compareSingleSelection(field *models.TaskField, operator models.PredicateOperator, value *string) bool {
	selected := field.SelectedSelections()

	switch operator {
	case models.OperatorExist:
		return len(selected) > 0
	case models.OperatorNotExist:
		return len(selected) == 0
	}

	ref, hasValue := predicateValue(value)
	if !hasValue {
		return false
	}

	target := fields.FindSelection(field, ref)

	switch operator {
	case models.OperatorEqual:
		return target != nil && target.IsSelected
	case models.OperatorNotEqual:
		return len(selected) > 0 && (target == nil || !target.IsSelected)
	}

	return false
}

func compareMultiSelection(field *models.TaskField, operator models.PredicateOperator, value *string) bool {
	selected := field.SelectedSelections()

	switch operator {
	case models.OperatorExist:
		return len(selected) > 0
	case models.OperatorNotExist:
		return len(selected) == 0
	}

	ref, hasValue := predicateValue(value)
	if !hasValue {
		return false
	}

	target := fields.FindSelection(field, ref)
	exact := target != nil && len(selected) == 1 && selected[0] == target

	switch operator {
	case models.OperatorEqual:
		return exact
	case models.OperatorNotEqual:
		return len(selected) > 0 && !exact
	case models.OperatorContain:
		return target != nil && slices.Contains(selected, target)
	case models.OperatorNotContain:
		return target == nil || !slices.Contains(selected, target)
	}

	return false
}

func compareDate(field *models.TaskField, operator models.PredicateOperator, value *string) bool {
	current, hasDate := fields.ParseDate(field.Value)

	switch operator {
	case models.OperatorExist:
		return hasDate
	case models.OperatorNotExist:
		return !hasDate
	}

	raw, hasValue := predicateValue(value)
	if !hasValue {
		return false
	}

	expected, ok := fields.ParseDate(raw)
	if !ok {
		return false
	}

	switch operator {
	case models.OperatorEqual:
		return hasDate && current.Equal(expected)
	case models.OperatorNotEqual:
		return !hasDate || !current.Equal(expected)
	case models.OperatorMoreThan:
		return hasDate && current.After(expected)
	case models.OperatorLessThan:
		return hasDate && current.Before(expected)
	}

	return false
}

func compareUser(field *models.TaskField, operator models.PredicateOperator, value *string) bool {
	switch operator {
	case models.OperatorExist:
		return field.UserID != nil
	case models.OperatorNotExist:
		return field.UserID == nil
	}

	raw, hasValue := predicateValue(value)
	if !hasValue {
		return false
	}

	expected, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return false
	}

	switch operator {
	case models.OperatorEqual:
		return field.UserID != nil && *field.UserID == expected
	case models.OperatorNotEqual:
		return field.UserID == nil || *field.UserID != expected
	}

	return false
}
