package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/dukex/taskflow/pkg/engine"
	"github.com/dukex/taskflow/pkg/eventbus"
	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/dukex/taskflow/pkg/scheduler"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"
)

// WorkerConfig holds the tuning knobs of the background worker.
type WorkerConfig struct {
	Concurrency int
	Queue       string
	SweepSpec   string
}

// WorkerManager runs the bus consumers, the resume queue server and the due sweep
// until the process is signalled.
type WorkerManager struct {
	id        string
	logger    *slog.Logger
	engine    *engine.Engine
	eventBus  eventbus.EventSubscriber
	workflows persistence.WorkflowRepository
	redis     asynq.RedisConnOpt
	config    WorkerConfig
}

// NewWorkerManager creates a worker. redis may be nil, in which case only the sweep
// resumes delayed workflows.
func NewWorkerManager(
	id string,
	logger *slog.Logger,
	engine *engine.Engine,
	eventBus eventbus.EventSubscriber,
	workflows persistence.WorkflowRepository,
	redis asynq.RedisConnOpt,
	config WorkerConfig,
) *WorkerManager {
	return &WorkerManager{
		id:        id,
		logger:    logger.With("module", "taskflow-worker", "worker_id", id),
		engine:    engine,
		eventBus:  eventBus,
		workflows: workflows,
		redis:     redis,
		config:    config,
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w.logger.InfoContext(ctx, "Starting worker manager")

	if err := w.engine.RegisterHandlers(w.eventBus); err != nil {
		return err
	}

	if err := w.eventBus.Subscribe(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	sweeper := scheduler.NewSweeper(w.logger, w.workflows, w.engine, w.config.SweepSpec)
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	group, groupCtx := errgroup.WithContext(ctx)

	if w.redis != nil {
		server := scheduler.NewServer(w.logger, w.redis, w.config.Concurrency, w.config.Queue)

		group.Go(func() error {
			if err := server.Start(scheduler.NewServeMux(w.logger, w.engine)); err != nil {
				return err
			}

			<-groupCtx.Done()
			server.Shutdown()

			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		w.logger.InfoContext(ctx, "Shutting down worker...")

		return nil
	})

	w.logger.InfoContext(ctx, "Worker started successfully", "resume_queue", w.redis != nil)

	return group.Wait()
}
