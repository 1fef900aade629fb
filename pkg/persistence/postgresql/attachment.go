package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/lib/pq"
)

type AttachmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAttachmentRepository(db *sql.DB, logger *slog.Logger) *AttachmentRepository {
	return &AttachmentRepository{db: db, logger: logger}
}

func (r *AttachmentRepository) Save(ctx context.Context, accountID int64, attachment *models.Attachment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attachments (id, account_id, name, url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			url = EXCLUDED.url
	`, attachment.ID, accountID, attachment.Name, attachment.URL)
	if err != nil {
		return fmt.Errorf("failed to save attachment %d: %w", attachment.ID, err)
	}

	return nil
}

// Attachments returns the attachments of the account among ids, in the order of ids.
func (r *AttachmentRepository) Attachments(ctx context.Context, accountID int64, ids []int64) ([]*models.Attachment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, url FROM attachments
		WHERE account_id = $1 AND id = ANY($2)
	`, accountID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	byID := make(map[int64]*models.Attachment, len(ids))

	for rows.Next() {
		var attachment models.Attachment

		if err := rows.Scan(&attachment.ID, &attachment.Name, &attachment.URL); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}

		byID[attachment.ID] = &attachment
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attachments: %w", err)
	}

	attachments := make([]*models.Attachment, 0, len(byID))

	for _, id := range ids {
		if attachment, ok := byID[id]; ok {
			attachments = append(attachments, attachment)
		}
	}

	return attachments, nil
}

func (r *AttachmentRepository) Link(ctx context.Context, fieldID string, ids []int64) error {
	return r.setField(ctx, &fieldID, ids)
}

func (r *AttachmentRepository) Unlink(ctx context.Context, ids []int64) error {
	return r.setField(ctx, nil, ids)
}

func (r *AttachmentRepository) setField(ctx context.Context, fieldID *string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	result, err := r.db.ExecContext(ctx, `UPDATE attachments SET field_id = $1 WHERE id = ANY($2)`, fieldID, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to update attachments: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected != int64(len(ids)) {
		return fmt.Errorf("link attachments %v: %w", ids, persistence.ErrAttachmentNotFound)
	}

	return nil
}
