package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "sentinel:lock:"

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lease-based distributed lock.
// The lease TTL bounds how long a crashed holder can block a key.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
	ttl     time.Duration
}

// NewRedis connects to Redis and returns a distributed lock.
func NewRedis(cfg domain.LockConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisWithClient(client, cfg.Timeout, cfg.RedisLockTTL), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, timeout, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Redis{client: client, timeout: timeout, ttl: ttl}
}

// Acquire retries SET NX with exponential backoff until it wins the lease or times out.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := redisKeyPrefix + key
	token := uuid.New().String()

	waitCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		ok, err := r.client.SetNX(waitCtx, redisKey, token, r.ttl).Result()
		if err != nil {
			if waitCtx.Err() != nil {
				return backoff.Permanent(waitCtx.Err())
			}
			return backoff.Permanent(fmt.Errorf("%w: lock %s: %v", domain.ErrStoreUnavailable, key, err))
		}
		if !ok {
			return fmt.Errorf("lock %s held", key)
		}
		return nil
	}, backoff.WithContext(b, waitCtx))
	if err != nil {
		if waitCtx.Err() != nil {
			return nil, waitError(ctx, key, waitCtx.Err())
		}
		return nil, err
	}

	return func() {
		// Release must not depend on the caller's context, which may be done already.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil {
			slog.Warn("failed to release profile lock", "key", key, "error", err)
		}
	}, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
