package file

import (
	"context"
	"strconv"

	"github.com/dukex/taskflow/pkg/models"
)

const accountsCollection = "accounts"

// AccountRepository handles account-related file operations.
type AccountRepository struct {
	store *Persistence
}

func (ar *AccountRepository) GetByID(_ context.Context, id int64) (*models.Account, error) {
	ar.store.mu.RLock()
	defer ar.store.mu.RUnlock()

	var account models.Account

	found, err := ar.store.read(accountsCollection, strconv.FormatInt(id, 10), &account)
	if err != nil || !found {
		return nil, err
	}

	return &account, nil
}

func (ar *AccountRepository) Save(_ context.Context, account *models.Account) error {
	ar.store.mu.Lock()
	defer ar.store.mu.Unlock()

	return ar.store.write(accountsCollection, strconv.FormatInt(account.ID, 10), account)
}
