package mocks

import (
	"context"
	"time"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	Workflows   persistence.WorkflowRepository
	Templates   persistence.TemplateRepository
	Accounts    persistence.AccountRepository
	Attachments persistence.AttachmentRepository
}

func (m *MockPersistence) TemplateRepository() persistence.TemplateRepository {
	return m.Templates
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository {
	return m.Workflows
}

func (m *MockPersistence) AccountRepository() persistence.AccountRepository {
	return m.Accounts
}

func (m *MockPersistence) AttachmentRepository() persistence.AttachmentRepository {
	return m.Attachments
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) ListByTemplate(ctx context.Context, templateID string) ([]*models.Workflow, error) {
	args := m.Called(ctx, templateID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) ListByAccount(ctx context.Context, accountID int64) ([]*models.Workflow, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) ListDueForResume(ctx context.Context, before time.Time) ([]*models.Workflow, error) {
	args := m.Called(ctx, before)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

// MockTemplateRepository is a mock implementation of persistence.TemplateRepository interface.
type MockTemplateRepository struct {
	mock.Mock
}

func (m *MockTemplateRepository) GetByID(ctx context.Context, id string) (*models.Template, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Template), args.Error(1)
}

func (m *MockTemplateRepository) Save(ctx context.Context, template *models.Template) error {
	args := m.Called(ctx, template)

	return args.Error(0)
}

func (m *MockTemplateRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockTemplateRepository) ListByAccount(ctx context.Context, accountID int64) ([]*models.Template, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Template), args.Error(1)
}

// MockAccountRepository is a mock implementation of persistence.AccountRepository interface.
type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockAccountRepository) Save(ctx context.Context, account *models.Account) error {
	args := m.Called(ctx, account)

	return args.Error(0)
}
