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

type TemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTemplateRepository(db *sql.DB, logger *slog.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.Template, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document FROM templates WHERE id = $1 AND deleted_at IS NULL`, id)

	template, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	return template, nil
}

func (r *TemplateRepository) Save(ctx context.Context, template *models.Template) error {
	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	document, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}

	query := `
		INSERT INTO templates (id, account_id, name, document, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = r.db.ExecContext(ctx, query,
		template.ID,
		template.AccountID,
		template.Name,
		document,
		template.CreatedAt,
		template.UpdatedAt,
		template.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}

	return nil
}

// Delete soft deletes a template by setting deleted_at timestamp.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	query := `
		UPDATE templates
		SET deleted_at = NOW(),
			document = jsonb_set(document, '{deleted_at}', to_jsonb(NOW()))
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("delete template %s: %w", id, persistence.ErrTemplateNotFound)
	}

	return nil
}

func (r *TemplateRepository) ListByAccount(ctx context.Context, accountID int64) ([]*models.Template, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT document FROM templates
		WHERE account_id = $1 AND deleted_at IS NULL
		ORDER BY name
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	templates := make([]*models.Template, 0)

	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}

		templates = append(templates, template)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}

	return templates, nil
}

func scanTemplate(row scanner) (*models.Template, error) {
	var document []byte

	if err := row.Scan(&document); err != nil {
		return nil, err
	}

	var template models.Template

	if err := json.Unmarshal(document, &template); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template: %w", err)
	}

	return &template, nil
}
