package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/dukex/taskflow/pkg/persistence/postgresql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"attachments", "workflows", "templates", "accounts", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("taskflow_test"),
			postgres.WithUsername("taskflow"),
			postgres.WithPassword("taskflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"workflows", "templates", "accounts", "attachments"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	require.NoError(t, p.HealthCheck(ctx))
}

func TestWorkflowRepository_SaveVersioning(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := &models.Workflow{
		ID:        uuid.NewString(),
		AccountID: 1,
		Name:      "Onboarding",
		Template:  models.LiveTemplate{ID: "tpl-1"},
		Status:    models.WorkflowStatusRunning,
		Tasks:     []*models.Task{{APIName: "intro", Number: 1, Status: models.TaskStatusActive}},
	}

	require.NoError(t, repo.Save(ctx, workflow))
	assert.Equal(t, int64(1), workflow.Version)

	require.ErrorIs(t, repo.Save(ctx, &models.Workflow{ID: workflow.ID, Status: models.WorkflowStatusRunning}), persistence.ErrWorkflowAlreadyExists)

	first, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	second, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)

	first.IsUrgent = true
	require.NoError(t, repo.Save(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	err = repo.Save(ctx, second)
	require.ErrorIs(t, err, persistence.ErrVersionConflict)
	assert.Equal(t, int64(1), second.Version)

	stored, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsUrgent)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, models.LiveTemplate{ID: "tpl-1"}, stored.Template)
	require.Len(t, stored.Tasks, 1)
	assert.Equal(t, "intro", stored.Tasks[0].APIName)

	notFound, err := repo.GetByID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, notFound)
}

func TestWorkflowRepository_Lists(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	delayed := func(until time.Time) *models.Workflow {
		return &models.Workflow{
			ID:        uuid.NewString(),
			AccountID: 1,
			Template:  models.LiveTemplate{ID: "tpl-1"},
			Status:    models.WorkflowStatusDelayed,
			Tasks:     []*models.Task{{APIName: "wait", Number: 1, Status: models.TaskStatusDelayed, DelayedUntil: &until}},
		}
	}

	due := delayed(past)
	later := delayed(future)
	terminated := delayed(past)
	terminated.DeletedAt = &now
	legacy := &models.Workflow{ID: uuid.NewString(), AccountID: 1, Template: models.LegacyTemplate{Name: "Old"}, Status: models.WorkflowStatusRunning}

	for _, workflow := range []*models.Workflow{due, later, terminated, legacy} {
		require.NoError(t, repo.Save(ctx, workflow))
	}

	byTemplate, err := repo.ListByTemplate(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Len(t, byTemplate, 2)

	byAccount, err := repo.ListByAccount(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, byAccount, 3)

	dueForResume, err := repo.ListDueForResume(ctx, now)
	require.NoError(t, err)
	require.Len(t, dueForResume, 1)
	assert.Equal(t, due.ID, dueForResume[0].ID)
}

func TestTemplateRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.TemplateRepository()

	template := &models.Template{ID: "tpl-1", AccountID: 1, Name: "Hiring", IsActive: true, OwnerIDs: []int64{1}}
	require.NoError(t, repo.Save(ctx, template))

	template.Name = "Hiring v2"
	require.NoError(t, repo.Save(ctx, template))

	got, err := repo.GetByID(ctx, "tpl-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Hiring v2", got.Name)

	list, err := repo.ListByAccount(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.Delete(ctx, "tpl-1"))
	require.ErrorIs(t, repo.Delete(ctx, "tpl-1"), persistence.ErrTemplateNotFound)

	got, err = repo.GetByID(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAccountAndAttachmentRepositories(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	account := &models.Account{ID: 7, Name: "Acme", OwnerID: 1, Users: []*models.User{{ID: 1, Email: "o@acme.test", IsActive: true}}}
	require.NoError(t, p.AccountRepository().Save(ctx, account))

	got, err := p.AccountRepository().GetByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, account, got)

	attachments := p.AttachmentRepository()
	require.NoError(t, attachments.Save(ctx, 7, &models.Attachment{ID: 2, Name: "b.pdf", URL: "https://files.test/b.pdf"}))
	require.NoError(t, attachments.Save(ctx, 7, &models.Attachment{ID: 1, Name: "a.pdf", URL: "https://files.test/a.pdf"}))

	found, err := attachments.Attachments(ctx, 7, []int64{2, 1, 3})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "b.pdf", found[0].Name)

	require.NoError(t, attachments.Link(ctx, "field-1", []int64{1, 2}))
	require.NoError(t, attachments.Unlink(ctx, []int64{2}))
	require.ErrorIs(t, attachments.Link(ctx, "field-1", []int64{42}), persistence.ErrAttachmentNotFound)
}
