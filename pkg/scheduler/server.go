package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/taskflow/pkg/engine"
	"github.com/dukex/taskflow/pkg/models"
	"github.com/hibiken/asynq"
)

// Resumer reactivates the delayed tasks of a workflow that are due.
type Resumer interface {
	ResumeDue(ctx context.Context, workflowID string) (*models.Workflow, error)
}

// NewServeMux routes resume tasks to the resumer.
func NewServeMux(logger *slog.Logger, resumer Resumer) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(ResumeTaskType, HandleResume(logger, resumer))

	return mux
}

// HandleResume processes a resume task. Malformed payloads are not retried and workflows
// that no longer exist are acknowledged.
func HandleResume(logger *slog.Logger, resumer Resumer) asynq.HandlerFunc {
	logger = logger.With("module", "resume_handler")

	return func(ctx context.Context, task *asynq.Task) error {
		var payload ResumePayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("invalid resume payload: %w: %w", err, asynq.SkipRetry)
		}

		if payload.WorkflowID == "" {
			return fmt.Errorf("resume payload without workflow id: %w", asynq.SkipRetry)
		}

		_, err := resumer.ResumeDue(ctx, payload.WorkflowID)
		if errors.Is(err, engine.ErrWorkflowNotFound) {
			logger.InfoContext(ctx, "Skipping resume of missing workflow", "workflow_id", payload.WorkflowID)

			return nil
		}

		if err != nil {
			logger.ErrorContext(ctx, "Failed to resume workflow", "workflow_id", payload.WorkflowID, "error", err)

			return err
		}

		return nil
	}
}

// NewServer creates the asynq worker that runs resume tasks.
func NewServer(logger *slog.Logger, redis asynq.RedisConnOpt, concurrency int, queue string) *asynq.Server {
	if queue == "" {
		queue = DefaultQueue
	}

	logger = logger.With("module", "resume_server")

	return asynq.NewServer(redis, asynq.Config{
		Concurrency:    concurrency,
		RetryDelayFunc: asynq.DefaultRetryDelayFunc,
		Queues:         map[string]int{queue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.ErrorContext(ctx, "Resume task failed", "task_type", task.Type(), "error", err)
		}),
	})
}
