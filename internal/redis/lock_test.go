package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLocker(t *testing.T) (*miniredis.Miniredis, *redis.Client, Locker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client, NewRedisStaffLocker(client, 5*time.Second)
}

func TestWithStaffLock_RunsAndReleases(t *testing.T) {
	mr, _, locker := setupLocker(t)
	ctx := context.Background()

	called := false
	err := locker.WithStaffLock(ctx, "staff-1", func(ctx context.Context) error {
		called = true
		assert.True(t, mr.Exists(lockKey("staff-1")))
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, mr.Exists(lockKey("staff-1")))
}

func TestWithStaffLock_Contention(t *testing.T) {
	_, _, locker := setupLocker(t)
	ctx := context.Background()

	err := locker.WithStaffLock(ctx, "staff-1", func(ctx context.Context) error {
		inner := locker.WithStaffLock(ctx, "staff-1", func(context.Context) error {
			t.Fatal("nested holder must not run")
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)

		// other staff members are independent
		return locker.WithStaffLock(ctx, "staff-2", func(context.Context) error { return nil })
	})
	require.NoError(t, err)
}

func TestWithStaffLock_PropagatesErrorAndReleases(t *testing.T) {
	mr, _, locker := setupLocker(t)
	boom := errors.New("boom")

	err := locker.WithStaffLock(context.Background(), "staff-1", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(lockKey("staff-1")))
}

func TestWithStaffLock_DoesNotReleaseForeignToken(t *testing.T) {
	mr, client, locker := setupLocker(t)
	ctx := context.Background()

	err := locker.WithStaffLock(ctx, "staff-1", func(ctx context.Context) error {
		// lock expired and was taken by someone else
		require.NoError(t, client.Set(ctx, lockKey("staff-1"), "other-holder", time.Minute).Err())
		return nil
	})
	require.NoError(t, err)

	got, err := mr.Get(lockKey("staff-1"))
	require.NoError(t, err)
	assert.Equal(t, "other-holder", got)
}

func TestWithStaffLock_BackendDown(t *testing.T) {
	mr, _, locker := setupLocker(t)
	mr.Close()

	err := locker.WithStaffLock(context.Background(), "staff-1", func(context.Context) error {
		t.Fatal("must not run without the lock")
		return nil
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockNotAcquired)
}

func TestNoopLocker(t *testing.T) {
	called := false
	err := NoopLocker{}.WithStaffLock(context.Background(), "any", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	client, err := NewRedisClient(context.Background(), addr, "", "")
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()).Err())

	mr.Close()
	_, err = NewRedisClient(context.Background(), addr, "", "")
	assert.Error(t, err)
}
