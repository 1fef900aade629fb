package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/taskflow/pkg/eventbus"
	"github.com/dukex/taskflow/pkg/events"
)

var errUnexpectedEvent = errors.New("unexpected event payload")

// RegisterHandlers subscribes the engine to the worker commands carried on the event bus.
func (e *Engine) RegisterHandlers(subscriber eventbus.EventSubscriber) error {
	handlers := map[events.EventType]eventbus.EventHandler{
		events.GroupChangedEvent:      e.handleGroupChanged,
		events.TemplateUpdatedEvent:   e.handleTemplateUpdated,
		events.TemplateDeletedEvent:   e.handleTemplateDeleted,
		events.WorkflowResumeDueEvent: e.handleResumeDue,
	}

	for eventType, handler := range handlers {
		if err := subscriber.Handle(eventType, handler); err != nil {
			return fmt.Errorf("failed to register %s handler: %w", eventType, err)
		}
	}

	return nil
}

func (e *Engine) handleGroupChanged(ctx context.Context, event any) error {
	changed, ok := event.(*events.GroupChanged)
	if !ok {
		return fmt.Errorf("%w: %T", errUnexpectedEvent, event)
	}

	return e.GroupChanged(ctx, changed.AccountID, changed.GroupID)
}

func (e *Engine) handleTemplateUpdated(ctx context.Context, event any) error {
	updated, ok := event.(*events.TemplateUpdated)
	if !ok {
		return fmt.Errorf("%w: %T", errUnexpectedEvent, event)
	}

	err := e.SyncFromTemplate(ctx, updated.TemplateID)
	if errors.Is(err, ErrTemplateNotFound) {
		e.logger.WarnContext(ctx, "Template of sync event no longer exists", "template_id", updated.TemplateID)

		return nil
	}

	return err
}

func (e *Engine) handleTemplateDeleted(ctx context.Context, event any) error {
	deleted, ok := event.(*events.TemplateDeleted)
	if !ok {
		return fmt.Errorf("%w: %T", errUnexpectedEvent, event)
	}

	return e.DetachTemplate(ctx, deleted.TemplateID, deleted.TemplateName)
}

func (e *Engine) handleResumeDue(ctx context.Context, event any) error {
	due, ok := event.(*events.WorkflowResumeDue)
	if !ok {
		return fmt.Errorf("%w: %T", errUnexpectedEvent, event)
	}

	_, err := e.ResumeDue(ctx, due.WorkflowID)
	if errors.Is(err, ErrWorkflowNotFound) {
		return nil
	}

	return err
}
