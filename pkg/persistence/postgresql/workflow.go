package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
)

// WorkflowRepository keeps each workflow as a JSONB document next to the columns used for lookups.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// GetByID returns the workflow, terminated ones included, or nil.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document FROM workflows WHERE id = $1`, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return workflow, nil
}

// Save inserts or updates the workflow guarded by its version.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	expected := workflow.Version
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now
	workflow.Version = expected + 1

	err := r.save(ctx, workflow, expected)
	if err != nil {
		workflow.Version = expected

		return err
	}

	return nil
}

func (r *WorkflowRepository) save(ctx context.Context, workflow *models.Workflow, expected int64) error {
	document, err := json.Marshal(workflow)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("failed to marshal workflow: %w", err))
	}

	var templateID *string
	if id, ok := workflow.TemplateID(); ok {
		templateID = &id
	}

	if expected == 0 {
		query := `
			INSERT INTO workflows (id, account_id, template_id, status, version, next_resume_at, document, created_at, updated_at, deleted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING
		`

		result, err := r.db.ExecContext(ctx, query,
			workflow.ID,
			workflow.AccountID,
			templateID,
			workflow.Status,
			workflow.Version,
			workflow.NextResumeAt(),
			document,
			workflow.CreatedAt,
			workflow.UpdatedAt,
			workflow.DeletedAt,
		)
		if err != nil {
			return persistence.NewWorkflowError("Save", workflow.ID, err)
		}

		if affected, err := result.RowsAffected(); err != nil || affected == 0 {
			return persistence.NewWorkflowError("Save", workflow.ID, persistence.ErrWorkflowAlreadyExists)
		}

		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	query := `
		UPDATE workflows SET
			template_id = $3,
			status = $4,
			version = $5,
			next_resume_at = $6,
			document = $7,
			updated_at = $8,
			deleted_at = $9
		WHERE id = $1 AND version = $2
	`

	result, err := tx.ExecContext(ctx, query,
		workflow.ID,
		expected,
		templateID,
		workflow.Status,
		workflow.Version,
		workflow.NextResumeAt(),
		document,
		workflow.UpdatedAt,
		workflow.DeletedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		var exists bool

		err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM workflows WHERE id = $1)`, workflow.ID).Scan(&exists)
		if err != nil {
			return persistence.NewWorkflowError("Save", workflow.ID, err)
		}

		if !exists {
			return persistence.NewWorkflowError("Save", workflow.ID, persistence.ErrWorkflowNotFound)
		}

		return persistence.NewVersionConflict(workflow.ID, expected)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) ListByTemplate(ctx context.Context, templateID string) ([]*models.Workflow, error) {
	return r.list(ctx, `
		SELECT document FROM workflows
		WHERE template_id = $1 AND deleted_at IS NULL
		ORDER BY created_at
	`, templateID)
}

func (r *WorkflowRepository) ListByAccount(ctx context.Context, accountID int64) ([]*models.Workflow, error) {
	return r.list(ctx, `
		SELECT document FROM workflows
		WHERE account_id = $1 AND deleted_at IS NULL
		ORDER BY created_at
	`, accountID)
}

func (r *WorkflowRepository) ListDueForResume(ctx context.Context, before time.Time) ([]*models.Workflow, error) {
	return r.list(ctx, `
		SELECT document FROM workflows
		WHERE next_resume_at <= $1 AND deleted_at IS NULL
		ORDER BY next_resume_at
	`, before)
}

func (r *WorkflowRepository) list(ctx context.Context, query string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var document []byte

	if err := row.Scan(&document); err != nil {
		return nil, err
	}

	var workflow models.Workflow

	if err := json.Unmarshal(document, &workflow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}

	return &workflow, nil
}
