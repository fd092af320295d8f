package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	locker := NewRedisLocker(client, 5*time.Second)
	key := SeriesLockKey(uuid.New())

	err = locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		assert.True(t, mr.Exists(key))
		inner := locker.WithLock(ctx, key, func(context.Context) error { return nil })
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(key))
}

func TestRedisLockerReleasesOnError(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	locker := NewRedisLocker(client, time.Second)
	boom := errors.New("boom")

	err = locker.WithLock(context.Background(), SweepLockKey("waitlist"), func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(SweepLockKey("waitlist")))
}

func TestRedisLockerLeavesForeignToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	locker := NewRedisLocker(client, time.Second)
	key := WaitlistLockKey(uuid.New())

	err = locker.WithLock(context.Background(), key, func(context.Context) error {
		// Simulate expiry followed by another holder taking the key.
		return mr.Set(key, "someone-else")
	})
	require.NoError(t, err)
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestLocalLocker(t *testing.T) {
	locker := NewLocalLocker()
	key := SweepLockKey("recurring")

	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		return locker.WithLock(ctx, key, func(context.Context) error { return nil })
	})
	require.ErrorIs(t, err, ErrLockNotAcquired)

	ran := false
	require.NoError(t, locker.WithLock(context.Background(), key, func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestRedisLockerHonoursLongerCallerDeadline(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	locker := NewRedisLocker(client, time.Second)
	key := SweepLockKey("recurring")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	parent, _ := ctx.Deadline()

	err = locker.WithLock(ctx, key, func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, parent, deadline, time.Second)
		assert.Greater(t, mr.TTL(key), 50*time.Second)
		return nil
	})
	require.NoError(t, err)
}

func TestRedisLockerBoundsCallWithoutDeadline(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	locker := NewRedisLocker(client, 2*time.Second)
	key := SeriesLockKey(uuid.New())

	err = locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(2*time.Second), deadline, time.Second)
		assert.LessOrEqual(t, mr.TTL(key), 2*time.Second)
		return nil
	})
	require.NoError(t, err)
}
