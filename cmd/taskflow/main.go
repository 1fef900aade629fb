// Package main provides the taskflow administration CLI.
package main

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/dukex/taskflow/pkg/log"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	cmd := &cli.Command{
		Name:                  "taskflow",
		Usage:                 "Manage templates, accounts and workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence (file://<dir> or postgres://)",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			log.Setup(cmd.String("log-level"), cmd.String("log-format"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:    "templates",
				Aliases: []string{"t"},
				Usage:   "Manage workflow templates",
				Commands: []*cli.Command{
					{
						Name:      "validate",
						Usage:     "Check template documents against the template schema",
						ArgsUsage: "<file>...",
						Action:    validateTemplatesCommand,
					},
					{
						Name:      "import",
						Usage:     "Validate and save template documents",
						ArgsUsage: "<file>...",
						Action:    importTemplatesCommand,
					},
					{
						Name:   "schema",
						Usage:  "Print the template JSON schema",
						Action: printSchemaCommand,
					},
				},
			},
			{
				Name:    "accounts",
				Aliases: []string{"a"},
				Usage:   "Manage accounts",
				Commands: []*cli.Command{
					{
						Name:      "import",
						Usage:     "Save account documents with their users and groups",
						ArgsUsage: "<file>...",
						Action:    importAccountsCommand,
					},
					{
						Name:  "group-changed",
						Usage: "Announce a group membership change to the workers",
						Flags: []cli.Flag{
							&cli.Int64Flag{Name: "account", Usage: "Account ID", Required: true},
							&cli.Int64Flag{Name: "group", Usage: "Group ID", Required: true},
						},
						Action: groupChangedCommand,
					},
				},
			},
			{
				Name:    "workflows",
				Aliases: []string{"w"},
				Usage:   "Inspect workflows",
				Commands: []*cli.Command{
					{
						Name:      "inspect",
						Usage:     "Print a workflow with its tasks and field values",
						ArgsUsage: "<workflow-id>",
						Action:    inspectWorkflowCommand,
					},
					{
						Name:   "due",
						Usage:  "List delayed workflows whose resume time has passed",
						Action: listDueCommand,
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
