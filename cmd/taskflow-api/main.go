package main

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/dukex/taskflow/pkg/cmd"
	"github.com/dukex/taskflow/pkg/engine"
	"github.com/dukex/taskflow/pkg/log"
	"github.com/dukex/taskflow/pkg/otelhelper"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	command := &cli.Command{
		Name:                  "taskflow-api",
		Usage:                 "Serve the workflow API",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file://<dir> or postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
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
				Name:    "redis-url",
				Usage:   "Redis URL for workflow locks and the resume queue",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "resume-queue",
				Usage:   "Queue name for delayed task resumes",
				Value:   "default",
				Sources: cli.EnvVars("RESUME_QUEUE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_TRACING_ENABLED"),
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
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))
			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing taskflow API")

			var engineOpts []engine.Option

			if command.Bool("tracing") {
				tracer, shutdown, err := otelhelper.NewTracer(ctx, "taskflow-api")
				if err != nil {
					return err
				}

				defer func() {
					if err := shutdown(context.Background()); err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer", "error", err)
					}
				}()

				engineOpts = append(engineOpts, engine.WithTracer(tracer))
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(logger, command.String("event-bus"), command.String("kafka-brokers"), "taskflow-api")
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			redisClient, err := cmd.NewRedisClient(ctx, command.String("redis-url"))
			if err != nil {
				return err
			}

			if redisClient != nil {
				defer func() {
					if err := redisClient.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close redis", "error", err)
					}
				}()
			}

			api := NewAPI(
				logger,
				persistence,
				cmd.NewLocker(logger, redisClient),
				eventBus,
				cmd.NewResumeScheduler(logger, redisClient, command.String("resume-queue")),
				engineOpts...,
			)

			return api.Start(command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
