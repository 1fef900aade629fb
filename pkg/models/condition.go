package models

// ConditionAction is what happens to a task when its condition is satisfied.
type ConditionAction string

const (
	ConditionActionSkipTask  ConditionAction = "skip_task"
	ConditionActionStartTask ConditionAction = "start_task"
)

// PredicateOperator compares a stored field value against a predicate value.
type PredicateOperator string

const (
	OperatorEqual      PredicateOperator = "equals"
	OperatorNotEqual   PredicateOperator = "not_equals"
	OperatorExist      PredicateOperator = "exists"
	OperatorNotExist   PredicateOperator = "not_exists"
	OperatorContain    PredicateOperator = "contains"
	OperatorNotContain PredicateOperator = "not_contains"
	OperatorMoreThan   PredicateOperator = "more_than"
	OperatorLessThan   PredicateOperator = "less_than"
)

// Predicate is an atomic comparison of one workflow field.
type Predicate struct {
	FieldType FieldType         `json:"field_type" validate:"required"`
	Field     string            `json:"field"      validate:"required"` // Field api_name
	Operator  PredicateOperator `json:"operator"   validate:"required"`
	Value     *string           `json:"value"`
}

// Rule is satisfied when all of its predicates are satisfied.
type Rule struct {
	APIName    string       `json:"api_name"`
	Predicates []*Predicate `json:"predicates" validate:"min=1,dive"`
}

// Condition is satisfied when any of its rules is satisfied.
type Condition struct {
	APIName string          `json:"api_name"`
	Action  ConditionAction `json:"action"   validate:"required,oneof=skip_task start_task"`
	Order   int             `json:"order"`
	Rules   []*Rule         `json:"rules"    validate:"min=1,dive"`
}
