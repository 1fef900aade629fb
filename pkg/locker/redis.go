package locker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL        = 30 * time.Second
	DefaultRetryDelay = 50 * time.Millisecond
)

// releaseScript deletes the key only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every process connected to the same Redis.
type Redis struct {
	client     redis.UniversalClient
	logger     *slog.Logger
	prefix     string
	ttl        time.Duration
	retryDelay time.Duration
}

type RedisOption func(*Redis)

// WithTTL bounds how long a crashed holder keeps the lock.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = ttl }
}

func WithRetryDelay(delay time.Duration) RedisOption {
	return func(r *Redis) { r.retryDelay = delay }
}

func NewRedis(logger *slog.Logger, client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client:     client,
		logger:     logger.With("module", "redis_locker"),
		prefix:     "taskflow:lock:",
		ttl:        DefaultTTL,
		retryDelay: DefaultRetryDelay,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	redisKey := r.prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}

		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retryDelay):
		}
	}

	r.logger.DebugContext(ctx, "Lock acquired", "key", key)

	return func(ctx context.Context) error {
		deleted, err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Int()
		if err != nil {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}

		if deleted == 0 {
			r.logger.WarnContext(ctx, "Lock expired before release", "key", key)

			return ErrNotHeld
		}

		return nil
	}, nil
}
