package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/robfig/cron/v3"
)

// DefaultSweepSpec runs the due sweep every minute.
const DefaultSweepSpec = "* * * * *"

// Sweeper periodically resumes every workflow with an expired delay. It catches resumes
// that were never enqueued or got lost.
type Sweeper struct {
	logger    *slog.Logger
	workflows persistence.WorkflowRepository
	resumer   Resumer
	spec      string
	clock     func() time.Time
	cron      *cron.Cron
}

func NewSweeper(logger *slog.Logger, workflows persistence.WorkflowRepository, resumer Resumer, spec string) *Sweeper {
	if spec == "" {
		spec = DefaultSweepSpec
	}

	return &Sweeper{
		logger:    logger.With("module", "resume_sweeper"),
		workflows: workflows,
		resumer:   resumer,
		spec:      spec,
		clock:     time.Now,
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := cron.ParseStandard(s.spec); err != nil {
		return fmt.Errorf("invalid sweep schedule: %w", err)
	}

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.ErrorContext(ctx, "Resume sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to add sweep job: %w", err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Resume sweeper started", "spec", s.spec)

	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}

	<-s.cron.Stop().Done()
}

// Sweep resumes every due workflow and returns how many were processed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	due, err := s.workflows.ListDueForResume(ctx, s.clock())
	if err != nil {
		return 0, fmt.Errorf("failed to list due workflows: %w", err)
	}

	var errs []error

	resumed := 0

	for _, workflow := range due {
		if _, err := s.resumer.ResumeDue(ctx, workflow.ID); err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", workflow.ID, err))

			continue
		}

		resumed++
	}

	if resumed > 0 {
		s.logger.InfoContext(ctx, "Resumed due workflows", "count", resumed)
	}

	return resumed, errors.Join(errs...)
}
