package file

import (
	"context"
	"sort"
	"time"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
)

const workflowsCollection = "workflows"

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	store *Persistence
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, workflowID string) (*models.Workflow, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	return wr.get(workflowID)
}

func (wr *WorkflowRepository) get(workflowID string) (*models.Workflow, error) {
	var workflow models.Workflow

	found, err := wr.store.read(workflowsCollection, workflowID, &workflow)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", workflowID, err)
	}

	if !found {
		return nil, nil
	}

	return &workflow, nil
}

// Save writes the workflow when its version matches the stored one.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	stored, err := wr.get(workflow.ID)
	if err != nil {
		return err
	}

	switch {
	case workflow.Version == 0 && stored != nil:
		return persistence.NewWorkflowError("Save", workflow.ID, persistence.ErrWorkflowAlreadyExists)
	case workflow.Version != 0 && stored == nil:
		return persistence.NewWorkflowError("Save", workflow.ID, persistence.ErrWorkflowNotFound)
	case stored != nil && stored.Version != workflow.Version:
		return persistence.NewVersionConflict(workflow.ID, workflow.Version)
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now
	workflow.Version++

	if err := wr.store.write(workflowsCollection, workflow.ID, workflow); err != nil {
		workflow.Version--

		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

func (wr *WorkflowRepository) ListByTemplate(_ context.Context, templateID string) ([]*models.Workflow, error) {
	return wr.list(func(workflow *models.Workflow) bool {
		id, ok := workflow.TemplateID()

		return ok && id == templateID && !workflow.IsTerminated()
	})
}

func (wr *WorkflowRepository) ListByAccount(_ context.Context, accountID int64) ([]*models.Workflow, error) {
	return wr.list(func(workflow *models.Workflow) bool {
		return workflow.AccountID == accountID && !workflow.IsTerminated()
	})
}

func (wr *WorkflowRepository) ListDueForResume(_ context.Context, before time.Time) ([]*models.Workflow, error) {
	return wr.list(func(workflow *models.Workflow) bool {
		at := workflow.NextResumeAt()

		return at != nil && !at.After(before) && !workflow.IsTerminated()
	})
}

func (wr *WorkflowRepository) list(keep func(*models.Workflow) bool) ([]*models.Workflow, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	ids, err := wr.store.ids(workflowsCollection)
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0)

	for _, id := range ids {
		workflow, err := wr.get(id)
		if err != nil {
			return nil, err
		}

		if workflow != nil && keep(workflow) {
			workflows = append(workflows, workflow)
		}
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}
