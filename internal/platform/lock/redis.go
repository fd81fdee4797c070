package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "vetcare:lock:"

// Redis is a Locker shared by every instance pointing at the same Redis. The
// key holds a random token so only the owner can release it, and it expires
// after ttl if the owner dies.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

func NewRedis(client *redis.Client, ttl, wait time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl, wait: wait, retry: 25 * time.Millisecond}
}

// NewRedisFromURL parses a redis:// URL, connects and pings.
func NewRedisFromURL(ctx context.Context, url string, ttl, wait time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, ttl, wait), nil
}

func (l *Redis) Close() error {
	return l.client.Close()
}

func (l *Redis) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	k := keyPrefix + key
	token := uuid.NewString()

	if err := l.acquire(ctx, k, token); err != nil {
		return err
	}
	defer func() {
		// Release even if the caller's context is already done.
		_ = l.release(context.WithoutCancel(ctx), k, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *Redis) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrNotAcquired, key)
		}

		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		case <-t.C:
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *Redis) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
