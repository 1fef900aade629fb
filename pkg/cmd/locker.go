package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/taskflow/pkg/locker"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to redisURL. It returns nil without error when the URL is empty.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// NewLocker returns a Redis locker shared across processes, or an in-process locker when
// no client is configured.
func NewLocker(logger *slog.Logger, client *redis.Client) locker.Locker {
	if client == nil {
		logger.Warn("No redis configured, workflow locks are local to this process")

		return locker.NewMemory()
	}

	return locker.NewRedis(logger, client)
}
