package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedisLockIsExclusive(t *testing.T) {
	store := &memLockStore{values: map[string]string{}}
	first, err := NewRedisLock(store, "cron", 0)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "cron", 0)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, store.values, "dispatch:lock:cron")

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, second.Release(ctx), "non-holder release is a no-op")
	require.Contains(t, store.values, "dispatch:lock:cron")

	require.NoError(t, first.Release(ctx))
	require.Empty(t, store.values)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisLockDoesNotDeleteForeignToken(t *testing.T) {
	store := &memLockStore{values: map[string]string{}}
	lock, err := NewRedisLock(store, "cron", 0)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// lease expired and another worker took it
	store.values["dispatch:lock:cron"] = "someone-else"
	require.NoError(t, lock.Release(ctx))
	require.Equal(t, "someone-else", store.values["dispatch:lock:cron"])
}

func TestRedisLockErrors(t *testing.T) {
	_, err := NewRedisLock(nil, "cron", 0)
	require.Error(t, err)
	_, err = NewRedisLock(&memLockStore{}, "", 0)
	require.Error(t, err)

	lock, err := NewRedisLock(&memLockStore{err: errors.New("conn refused")}, "cron", 0)
	require.NoError(t, err)
	_, err = lock.Acquire(context.Background())
	require.ErrorContains(t, err, "conn refused")
}
