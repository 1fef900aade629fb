package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/taskflow/pkg/models"
)

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx, `SELECT document FROM accounts WHERE id = $1`, id).Scan(&document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to query account %d: %w", id, err)
	}

	var account models.Account

	if err := json.Unmarshal(document, &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account %d: %w", id, err)
	}

	return &account, nil
}

func (r *AccountRepository) Save(ctx context.Context, account *models.Account) error {
	document, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, document, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
	`, account.ID, document)
	if err != nil {
		return fmt.Errorf("failed to save account %d: %w", account.ID, err)
	}

	return nil
}
