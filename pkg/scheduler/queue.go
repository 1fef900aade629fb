// Package scheduler resumes delayed workflow tasks when their delay ends.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	ResumeTaskType = "workflow:resume"
	DefaultQueue   = "default"
)

type ResumePayload struct {
	WorkflowID string    `json:"workflow_id"`
	At         time.Time `json:"at"`
}

// Enqueuer is the part of asynq.Client used to schedule tasks.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue schedules resume checks on an asynq queue.
type Queue struct {
	logger   *slog.Logger
	enqueuer Enqueuer
	queue    string
}

func NewQueue(logger *slog.Logger, enqueuer Enqueuer, queue string) *Queue {
	if queue == "" {
		queue = DefaultQueue
	}

	return &Queue{
		logger:   logger.With("module", "resume_queue"),
		enqueuer: enqueuer,
		queue:    queue,
	}
}

// ScheduleResume enqueues a resume check for the workflow at the given time. Scheduling the
// same workflow and time twice enqueues a single task.
func (q *Queue) ScheduleResume(ctx context.Context, workflowID string, at time.Time) error {
	payload, err := json.Marshal(ResumePayload{WorkflowID: workflowID, At: at.UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal resume payload: %w", err)
	}

	task := asynq.NewTask(ResumeTaskType, payload)

	info, err := q.enqueuer.Enqueue(task,
		asynq.Queue(q.queue),
		asynq.ProcessAt(at),
		asynq.TaskID(resumeTaskID(workflowID, at)),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		q.logger.DebugContext(ctx, "Resume already scheduled", "workflow_id", workflowID, "at", at)

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to schedule resume of workflow %s: %w", workflowID, err)
	}

	attrs := []any{"workflow_id", workflowID, "at", at}
	if info != nil {
		attrs = append(attrs, "task_id", info.ID)
	}

	q.logger.InfoContext(ctx, "Resume scheduled", attrs...)

	return nil
}

func resumeTaskID(workflowID string, at time.Time) string {
	return fmt.Sprintf("resume:%s:%d", workflowID, at.Unix())
}
