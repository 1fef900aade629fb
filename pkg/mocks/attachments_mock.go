package mocks

import (
	"context"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockAttachmentStore is a mock implementation of fields.AttachmentStore interface.
type MockAttachmentStore struct {
	mock.Mock
}

func (m *MockAttachmentStore) Attachments(ctx context.Context, accountID int64, ids []int64) ([]*models.Attachment, error) {
	args := m.Called(ctx, accountID, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Attachment), args.Error(1)
}

func (m *MockAttachmentStore) Link(ctx context.Context, fieldID string, ids []int64) error {
	args := m.Called(ctx, fieldID, ids)

	return args.Error(0)
}

func (m *MockAttachmentStore) Unlink(ctx context.Context, ids []int64) error {
	args := m.Called(ctx, ids)

	return args.Error(0)
}
