package templates

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/gosimple/slug"
)

// namer hands out unique api_names, suffixing "-2", "-3" on collision.
type namer struct {
	taken map[string]bool
}

func newNamer() *namer {
	return &namer{taken: make(map[string]bool)}
}

func (n *namer) reserve(name string) {
	if name != "" {
		n.taken[name] = true
	}
}

func (n *namer) next(prefix, label string) string {
	base := slug.Make(label)
	if base == "" {
		base = prefix
	} else {
		base = prefix + "-" + base
	}

	name := base
	for i := 2; n.taken[name]; i++ {
		name = base + "-" + strconv.Itoa(i)
	}

	n.taken[name] = true

	return name
}

// Normalize fills in everything a template author may leave out: task numbers in
// document order, api_names derived from names, selection api_names and item order.
// Explicit values are kept as they are.
func Normalize(template *models.Template) {
	if slices.ContainsFunc(template.Tasks, func(task *models.TaskTemplate) bool { return task.Number == 0 }) {
		for i, task := range template.Tasks {
			task.Number = i + 1
		}
	}

	slices.SortStableFunc(template.Tasks, func(a, b *models.TaskTemplate) int {
		return a.Number - b.Number
	})

	tasks := newNamer()
	fields := newNamer()

	for _, task := range template.Tasks {
		tasks.reserve(task.APIName)

		for _, field := range task.Fields {
			fields.reserve(field.APIName)
		}
	}

	for _, field := range template.Kickoff {
		fields.reserve(field.APIName)
	}

	normalizeFields(template.Kickoff, fields)

	for _, task := range template.Tasks {
		if task.APIName == "" {
			task.APIName = tasks.next("task", task.Name)
		}

		normalizeFields(task.Fields, fields)

		for i, condition := range task.Conditions {
			if condition.APIName == "" {
				condition.APIName = fmt.Sprintf("%s-condition-%d", task.APIName, i+1)
			}

			if condition.Order == 0 {
				condition.Order = i + 1
			}

			for j, rule := range condition.Rules {
				if rule.APIName == "" {
					rule.APIName = fmt.Sprintf("%s-rule-%d", condition.APIName, j+1)
				}
			}
		}
	}
}

func normalizeFields(fieldTemplates []*models.FieldTemplate, names *namer) {
	for i, field := range fieldTemplates {
		if field.APIName == "" {
			field.APIName = names.next("field", field.Name)
		}

		if field.Order == 0 {
			field.Order = i + 1
		}

		selections := newNamer()
		for _, selection := range field.Selections {
			selections.reserve(selection.APIName)
		}

		for _, selection := range field.Selections {
			if selection.APIName == "" {
				selection.APIName = selections.next("selection", selection.Value)
			}
		}
	}
}
