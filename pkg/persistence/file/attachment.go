package file

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
)

const attachmentsCollection = "attachments"

type attachmentRecord struct {
	models.Attachment

	AccountID int64  `json:"account_id"`
	FieldID   string `json:"field_id,omitempty"`
}

// AttachmentRepository stores uploaded file metadata and its link to FILE fields.
type AttachmentRepository struct {
	store *Persistence
}

func (ar *AttachmentRepository) Save(_ context.Context, accountID int64, attachment *models.Attachment) error {
	ar.store.mu.Lock()
	defer ar.store.mu.Unlock()

	return ar.store.write(attachmentsCollection, strconv.FormatInt(attachment.ID, 10), &attachmentRecord{
		Attachment: *attachment,
		AccountID:  accountID,
	})
}

// Attachments returns the attachments of the account among ids. Unknown ids are left out.
func (ar *AttachmentRepository) Attachments(_ context.Context, accountID int64, ids []int64) ([]*models.Attachment, error) {
	ar.store.mu.RLock()
	defer ar.store.mu.RUnlock()

	attachments := make([]*models.Attachment, 0, len(ids))

	for _, id := range ids {
		var record attachmentRecord

		found, err := ar.store.read(attachmentsCollection, strconv.FormatInt(id, 10), &record)
		if err != nil {
			return nil, err
		}

		if found && record.AccountID == accountID {
			attachment := record.Attachment
			attachments = append(attachments, &attachment)
		}
	}

	return attachments, nil
}

func (ar *AttachmentRepository) Link(_ context.Context, fieldID string, ids []int64) error {
	return ar.update(ids, func(record *attachmentRecord) { record.FieldID = fieldID })
}

func (ar *AttachmentRepository) Unlink(_ context.Context, ids []int64) error {
	return ar.update(ids, func(record *attachmentRecord) { record.FieldID = "" })
}

func (ar *AttachmentRepository) update(ids []int64, change func(*attachmentRecord)) error {
	ar.store.mu.Lock()
	defer ar.store.mu.Unlock()

	for _, id := range ids {
		key := strconv.FormatInt(id, 10)

		var record attachmentRecord

		found, err := ar.store.read(attachmentsCollection, key, &record)
		if err != nil {
			return err
		}

		if !found {
			return fmt.Errorf("attachment %d: %w", id, persistence.ErrAttachmentNotFound)
		}

		change(&record)

		if err := ar.store.write(attachmentsCollection, key, &record); err != nil {
			return err
		}
	}

	return nil
}
