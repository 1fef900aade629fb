package file

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
)

const templatesCollection = "templates"

// TemplateRepository handles template-related file operations.
type TemplateRepository struct {
	store *Persistence
}

// GetByID returns a template that was not deleted, or nil.
func (tr *TemplateRepository) GetByID(_ context.Context, id string) (*models.Template, error) {
	tr.store.mu.RLock()
	defer tr.store.mu.RUnlock()

	var template models.Template

	found, err := tr.store.read(templatesCollection, id, &template)
	if err != nil {
		return nil, err
	}

	if !found || template.DeletedAt != nil {
		return nil, nil
	}

	return &template, nil
}

func (tr *TemplateRepository) Save(_ context.Context, template *models.Template) error {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	return tr.store.write(templatesCollection, template.ID, template)
}

// Delete marks the template as deleted.
func (tr *TemplateRepository) Delete(_ context.Context, id string) error {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	var template models.Template

	found, err := tr.store.read(templatesCollection, id, &template)
	if err != nil {
		return err
	}

	if !found || template.DeletedAt != nil {
		return fmt.Errorf("delete template %s: %w", id, persistence.ErrTemplateNotFound)
	}

	now := time.Now().UTC()
	template.DeletedAt = &now

	return tr.store.write(templatesCollection, id, &template)
}

func (tr *TemplateRepository) ListByAccount(_ context.Context, accountID int64) ([]*models.Template, error) {
	tr.store.mu.RLock()
	defer tr.store.mu.RUnlock()

	ids, err := tr.store.ids(templatesCollection)
	if err != nil {
		return nil, err
	}

	templates := make([]*models.Template, 0)

	for _, id := range ids {
		var template models.Template

		found, err := tr.store.read(templatesCollection, id, &template)
		if err != nil {
			return nil, err
		}

		if found && template.DeletedAt == nil && template.AccountID == accountID {
			templates = append(templates, &template)
		}
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].Name < templates[j].Name
	})

	return templates, nil
}
