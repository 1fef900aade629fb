// Package templates validates, normalizes and stores workflow templates.
package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/taskflow/pkg/eventbus"
	"github.com/dukex/taskflow/pkg/events"
	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/dukex/taskflow/pkg/schema"
	"github.com/google/uuid"
)

// Service manages the template lifecycle. Running workflows learn about edits and
// deletions through template.updated and template.deleted events.
type Service struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	validator   *Validator
}

// NewService creates a template service. The publisher may be nil, in which case no
// events are sent.
func NewService(logger *slog.Logger, persistence persistence.Persistence, publisher eventbus.EventPublisher) *Service {
	return &Service{
		logger:      logger.With("module", "templates"),
		persistence: persistence,
		publisher:   publisher,
		validator:   NewValidator(),
	}
}

// Get returns a template of the account.
func (s *Service) Get(ctx context.Context, accountID int64, id string) (*models.Template, error) {
	template, err := s.persistence.TemplateRepository().GetByID(ctx, id)
	if err != nil {
		return nil, &ServiceError{Op: "get", Message: "load template " + id, Err: err}
	}

	if template == nil || template.AccountID != accountID {
		return nil, &ServiceError{Op: "get", Code: "not_found", Message: id, Err: ErrTemplateNotFound}
	}

	return template, nil
}

func (s *Service) List(ctx context.Context, accountID int64) ([]*models.Template, error) {
	list, err := s.persistence.TemplateRepository().ListByAccount(ctx, accountID)
	if err != nil {
		return nil, &ServiceError{Op: "list", Err: err}
	}

	return list, nil
}

// Save normalizes, validates and stores a template. Updating an existing template
// publishes template.updated so running workflows pick up the change.
func (s *Service) Save(ctx context.Context, template *models.Template) (*models.Template, error) {
	const op = "save"

	account, err := s.persistence.AccountRepository().GetByID(ctx, template.AccountID)
	if err != nil {
		return nil, &ServiceError{Op: op, Message: "load account", Err: err}
	}

	if account == nil {
		return nil, &ServiceError{Op: op, Code: "not_found", Message: fmt.Sprintf("account %d", template.AccountID), Err: ErrAccountNotFound}
	}

	updating := false

	if template.ID == "" {
		template.ID = uuid.New().String()
	} else {
		existing, err := s.persistence.TemplateRepository().GetByID(ctx, template.ID)
		if err != nil {
			return nil, &ServiceError{Op: op, Message: "load template", Err: err}
		}

		if existing != nil {
			if existing.AccountID != template.AccountID {
				return nil, &ServiceError{Op: op, Code: "not_found", Message: template.ID, Err: errors.Join(ErrTemplateNotFound, ErrAccountMismatch)}
			}

			template.CreatedAt = existing.CreatedAt
			updating = true
		}
	}

	Normalize(template)

	if err := s.validator.Validate(template, account); err != nil {
		return nil, err
	}

	if err := s.persistence.TemplateRepository().Save(ctx, template); err != nil {
		return nil, &ServiceError{Op: op, Message: "store template", Err: err}
	}

	s.logger.InfoContext(ctx, "Template saved", "template_id", template.ID, "account_id", template.AccountID, "tasks", len(template.Tasks))

	if updating {
		s.publish(ctx, template.ID, &events.TemplateUpdated{
			BaseEvent:  events.NewBaseEvent(events.TemplateUpdatedEvent, template.AccountID, ""),
			TemplateID: template.ID,
		})
	}

	return template, nil
}

// Import validates a raw JSON template document against the template schema and saves it.
func (s *Service) Import(ctx context.Context, document []byte) (*models.Template, error) {
	if err := schema.ValidateTemplate(document); err != nil {
		return nil, invalid("import", err.Error(), err)
	}

	var template models.Template
	if err := json.Unmarshal(document, &template); err != nil {
		return nil, invalid("import", "decode document", err)
	}

	return s.Save(ctx, &template)
}

// Delete removes a template. Its workflows keep running against their snapshot and
// only remember the template name.
func (s *Service) Delete(ctx context.Context, accountID int64, id string) error {
	template, err := s.Get(ctx, accountID, id)
	if err != nil {
		return err
	}

	if err := s.persistence.TemplateRepository().Delete(ctx, id); err != nil {
		if errors.Is(err, persistence.ErrTemplateNotFound) {
			return &ServiceError{Op: "delete", Code: "not_found", Message: id, Err: ErrTemplateNotFound}
		}

		return &ServiceError{Op: "delete", Err: err}
	}

	s.logger.InfoContext(ctx, "Template deleted", "template_id", id, "account_id", accountID)

	s.publish(ctx, id, &events.TemplateDeleted{
		BaseEvent:    events.NewBaseEvent(events.TemplateDeletedEvent, accountID, ""),
		TemplateID:   id,
		TemplateName: template.Name,
	})

	return nil
}

// publish logs failures instead of returning them: the template change is already stored.
func (s *Service) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, key, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish template event", "template_id", key, "event_type", event.GetType(), "error", err)
	}
}
