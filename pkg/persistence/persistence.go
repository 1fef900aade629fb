// Package persistence provides the storage abstraction for templates, workflows and accounts.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/taskflow/pkg/fields"
	"github.com/dukex/taskflow/pkg/models"
)

type Persistence interface {
	TemplateRepository() TemplateRepository
	WorkflowRepository() WorkflowRepository
	AccountRepository() AccountRepository
	AttachmentRepository() AttachmentRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflows as a single versioned document.
type WorkflowRepository interface {
	// GetByID returns the workflow, terminated ones included, or nil when it does not exist.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	// Save inserts a workflow with Version 0 and otherwise updates it only when the
	// stored version still matches, returning ErrVersionConflict when it does not.
	// On success workflow.Version holds the new version.
	Save(ctx context.Context, workflow *models.Workflow) error
	ListByTemplate(ctx context.Context, templateID string) ([]*models.Workflow, error)
	ListByAccount(ctx context.Context, accountID int64) ([]*models.Workflow, error)
	// ListDueForResume returns workflows with a delayed task due at or before the given time.
	ListDueForResume(ctx context.Context, before time.Time) ([]*models.Workflow, error)
}

type TemplateRepository interface {
	GetByID(ctx context.Context, id string) (*models.Template, error)
	Save(ctx context.Context, template *models.Template) error
	Delete(ctx context.Context, id string) error
	ListByAccount(ctx context.Context, accountID int64) ([]*models.Template, error)
}

type AccountRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	Save(ctx context.Context, account *models.Account) error
}

type AttachmentRepository interface {
	fields.AttachmentStore

	Save(ctx context.Context, accountID int64, attachment *models.Attachment) error
}
