package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dukex/taskflow/pkg/cmd"
	"github.com/dukex/taskflow/pkg/eventbus"
	"github.com/dukex/taskflow/pkg/events"
	"github.com/dukex/taskflow/pkg/log"
	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/dukex/taskflow/pkg/schema"
	"github.com/dukex/taskflow/pkg/templates"
	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"
)

var (
	errMissingArgs        = errors.New("missing arguments")
	errMissingDatabaseURL = errors.New("database-url is required")
	errInvalidDocuments   = errors.New("some documents are invalid")
)

func openPersistence(ctx context.Context, command *cli.Command) (persistence.Persistence, error) {
	databaseURL := command.String("database-url")
	if databaseURL == "" {
		return nil, errMissingDatabaseURL
	}

	return cmd.NewPersistence(ctx, log.WithModule("cli"), databaseURL)
}

func closePersistence(ctx context.Context, p persistence.Persistence) {
	if err := p.Close(ctx); err != nil {
		log.WithModule("cli").ErrorContext(ctx, "Failed to close persistence", "error", err)
	}
}

func validateTemplatesCommand(_ context.Context, command *cli.Command) error {
	return validateTemplates(command.Root().Writer, command.Args().Slice())
}

func importTemplatesCommand(ctx context.Context, command *cli.Command) error {
	p, err := openPersistence(ctx, command)
	if err != nil {
		return err
	}
	defer closePersistence(ctx, p)

	return importTemplates(ctx, command.Root().Writer, templates.NewService(log.WithModule("cli"), p, nil), command.Args().Slice())
}

func printSchemaCommand(_ context.Context, command *cli.Command) error {
	_, err := command.Root().Writer.Write(schema.Template())

	return err
}

func importAccountsCommand(ctx context.Context, command *cli.Command) error {
	p, err := openPersistence(ctx, command)
	if err != nil {
		return err
	}
	defer closePersistence(ctx, p)

	return importAccounts(ctx, command.Root().Writer, p.AccountRepository(), command.Args().Slice())
}

func groupChangedCommand(ctx context.Context, command *cli.Command) error {
	logger := log.WithModule("cli")

	bus, err := cmd.NewEventBus(logger, command.Root().String("event-bus"), command.Root().String("kafka-brokers"), "taskflow-cli")
	if err != nil {
		return err
	}

	defer func() {
		if err := bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	return publishGroupChanged(ctx, bus, command.Int64("account"), command.Int64("group"))
}

func inspectWorkflowCommand(ctx context.Context, command *cli.Command) error {
	if command.Args().Len() != 1 {
		return fmt.Errorf("%w: expected a workflow id", errMissingArgs)
	}

	p, err := openPersistence(ctx, command)
	if err != nil {
		return err
	}
	defer closePersistence(ctx, p)

	return inspectWorkflow(ctx, command.Root().Writer, p.WorkflowRepository(), command.Args().First())
}

func listDueCommand(ctx context.Context, command *cli.Command) error {
	p, err := openPersistence(ctx, command)
	if err != nil {
		return err
	}
	defer closePersistence(ctx, p)

	return listDue(ctx, command.Root().Writer, p.WorkflowRepository(), time.Now())
}

func validateTemplates(out io.Writer, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("%w: expected at least one template file", errMissingArgs)
	}

	failed := false

	for _, path := range paths {
		document, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		if err := schema.ValidateTemplate(document); err != nil {
			failed = true

			var validationErr *schema.ValidationError
			if errors.As(err, &validationErr) {
				for _, violation := range validationErr.Violations {
					_, _ = fmt.Fprintf(out, "%s: %s\n", path, violation)
				}

				continue
			}

			_, _ = fmt.Fprintf(out, "%s: %v\n", path, err)

			continue
		}

		_, _ = fmt.Fprintf(out, "%s: ok\n", path)
	}

	if failed {
		return errInvalidDocuments
	}

	return nil
}

func importTemplates(ctx context.Context, out io.Writer, service *templates.Service, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("%w: expected at least one template file", errMissingArgs)
	}

	for _, path := range paths {
		document, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		template, err := service.Import(ctx, document)
		if err != nil {
			return fmt.Errorf("failed to import %s: %w", path, err)
		}

		_, _ = fmt.Fprintf(out, "%s: imported %s (%s)\n", path, template.ID, template.Name)
	}

	return nil
}

func importAccounts(ctx context.Context, out io.Writer, accounts persistence.AccountRepository, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("%w: expected at least one account file", errMissingArgs)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	for _, path := range paths {
		document, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		var account models.Account
		if err := json.Unmarshal(document, &account); err != nil {
			return fmt.Errorf("failed to decode %s: %w", path, err)
		}

		if err := validate.Struct(&account); err != nil {
			return fmt.Errorf("invalid account in %s: %w", path, err)
		}

		if err := accounts.Save(ctx, &account); err != nil {
			return fmt.Errorf("failed to save account %d: %w", account.ID, err)
		}

		_, _ = fmt.Fprintf(out, "%s: imported account %d (%s)\n", path, account.ID, account.Name)
	}

	return nil
}

func publishGroupChanged(ctx context.Context, publisher eventbus.EventPublisher, accountID, groupID int64) error {
	event := &events.GroupChanged{
		BaseEvent: events.NewBaseEvent(events.GroupChangedEvent, accountID, ""),
		GroupID:   groupID,
	}

	return publisher.Publish(ctx, fmt.Sprintf("account-%d", accountID), event)
}

func inspectWorkflow(ctx context.Context, out io.Writer, workflows persistence.WorkflowRepository, id string) error {
	workflow, err := workflows.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if workflow == nil {
		return fmt.Errorf("workflow %s not found", id)
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")

	return encoder.Encode(workflow)
}

func listDue(ctx context.Context, out io.Writer, workflows persistence.WorkflowRepository, now time.Time) error {
	due, err := workflows.ListDueForResume(ctx, now)
	if err != nil {
		return err
	}

	for _, workflow := range due {
		_, _ = fmt.Fprintf(out, "%s\t%s\t%d\n", workflow.ID, workflow.Name, workflow.AccountID)
	}

	return nil
}
