// Package main provides the taskflow background worker.
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
	"github.com/dukex/taskflow/pkg/scheduler"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	command := &cli.Command{
		Name:                  "taskflow-worker",
		Usage:                 "Process workflow commands, resumes and template syncs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
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
				Value:   scheduler.DefaultQueue,
				Sources: cli.EnvVars("RESUME_QUEUE"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Number of resume jobs processed in parallel",
				Value:   10,
				Sources: cli.EnvVars("WORKER_CONCURRENCY"),
			},
			&cli.StringFlag{
				Name:    "sweep-schedule",
				Usage:   "Cron schedule of the due workflow sweep",
				Value:   scheduler.DefaultSweepSpec,
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
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
			logger := log.WithModule("worker")

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger.InfoContext(ctx, "Initializing taskflow worker", "worker_id", workerID)

			var engineOpts []engine.Option

			if command.Bool("tracing") {
				tracer, shutdown, err := otelhelper.NewTracer(ctx, "taskflow-worker")
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

			eventBus, err := cmd.NewEventBus(logger, command.String("event-bus"), command.String("kafka-brokers"), "taskflow-worker")
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			redisURL := command.String("redis-url")

			redisClient, err := cmd.NewRedisClient(ctx, redisURL)
			if err != nil {
				return err
			}

			var redisOpt asynq.RedisConnOpt

			if redisClient != nil {
				defer func() {
					if err := redisClient.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close redis", "error", err)
					}
				}()

				redisOpt, err = asynq.ParseRedisURI(redisURL)
				if err != nil {
					return err
				}
			}

			queue := command.String("resume-queue")

			eng := engine.New(
				logger,
				persistence,
				cmd.NewLocker(logger, redisClient),
				eventBus,
				cmd.NewResumeScheduler(logger, redisClient, queue),
				engineOpts...,
			)

			worker := NewWorkerManager(
				workerID,
				logger,
				eng,
				eventBus,
				persistence.WorkflowRepository(),
				redisOpt,
				WorkerConfig{
					Concurrency: command.Int("concurrency"),
					Queue:       queue,
					SweepSpec:   command.String("sweep-schedule"),
				},
			)

			return worker.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
