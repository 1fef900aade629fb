package cmd

import (
	"log/slog"

	"github.com/dukex/taskflow/pkg/engine"
	"github.com/dukex/taskflow/pkg/scheduler"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// NewResumeScheduler returns the asynq-backed resume queue, or nil when no redis is
// configured. Without a queue, delayed tasks are resumed by the worker sweep only.
// The queue shares the redis connection, so closing the client is left to the caller.
func NewResumeScheduler(logger *slog.Logger, client *redis.Client, queue string) engine.ResumeScheduler {
	if client == nil {
		return nil
	}

	return scheduler.NewQueue(logger, asynq.NewClientFromRedisClient(client), queue)
}
