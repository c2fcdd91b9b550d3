package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("staff schedule lock not acquired")
)

// Locker guards critical sections per staff schedule.
type Locker interface {
	WithStaffLock(ctx context.Context, staffID string, fn func(ctx context.Context) error) error
}

type redisStaffLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStaffLocker creates a locker that uses a per staff member Redis key.
func NewRedisStaffLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisStaffLocker{
		client: client,
		ttl:    ttl,
	}
}

func lockKey(staffID string) string {
	return fmt.Sprintf("dermaclinic:lock:staff:%s", staffID)
}

func (l *redisStaffLocker) WithStaffLock(ctx context.Context, staffID string, fn func(ctx context.Context) error) error {
	key := lockKey(staffID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire staff lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisStaffLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release staff lock: %w", err)
	}
	return nil
}

// NoopLocker runs fn directly. Used when no Redis address is configured.
type NoopLocker struct{}

func (NoopLocker) WithStaffLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
