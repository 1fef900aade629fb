package conditions

import (
	"context"
	"log/slog"

	"github.com/dukex/taskflow/pkg/models"
)

// Evaluator checks task conditions against the fields of one workflow.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator creates a condition evaluator.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{
		logger: logger.With("module", "condition_evaluator"),
	}
}

// Check reports whether any rule of the condition is satisfied.
// A predicate whose field no longer exists on the workflow sees an empty field.
func (e *Evaluator) Check(ctx context.Context, condition *models.Condition, workflow *models.Workflow) bool {
	if condition == nil {
		return false
	}

	for _, rule := range condition.Rules {
		if e.checkRule(ctx, rule, workflow) {
			e.logger.DebugContext(ctx, "Condition satisfied",
				"workflow_id", workflow.ID,
				"condition", condition.APIName,
				"rule", rule.APIName,
			)

			return true
		}
	}

	return false
}

func (e *Evaluator) checkRule(ctx context.Context, rule *models.Rule, workflow *models.Workflow) bool {
	if len(rule.Predicates) == 0 {
		return false
	}

	for _, predicate := range rule.Predicates {
		if !e.checkPredicate(ctx, predicate, workflow) {
			return false
		}
	}

	return true
}

func (e *Evaluator) checkPredicate(ctx context.Context, predicate *models.Predicate, workflow *models.Workflow) bool {
	field, ok := workflow.Field(predicate.FieldType, predicate.Field)
	if !ok {
		e.logger.WarnContext(ctx, "Predicate references a missing field, treating it as empty",
			"workflow_id", workflow.ID,
			"field", predicate.Field,
			"field_type", predicate.FieldType,
		)

		field = &models.TaskField{APIName: predicate.Field, Type: predicate.FieldType}
	}

	return Compare(field, predicate.Operator, predicate.Value)
}
