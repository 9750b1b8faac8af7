package resultcache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(client, logger), mr
}

func TestSetAndGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, Result{ExecutionID: "exec-1", Status: "success"})

	result, err := cache.Get(ctx, "exec-1")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, "success", result.Status)
}

func TestGetMissingReturnsNil(t *testing.T) {
	cache, _ := newTestCache(t)
	result, err := cache.Get(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestSetExpiresAfterTTL(t *testing.T) {
	cache, mr := newTestCache(t)
	cache.Set(context.Background(), Result{ExecutionID: "exec-2", Status: "success"})

	mr.FastForward(TTL + time.Second)

	result, err := cache.Get(context.Background(), "exec-2")
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestWaitForResultReturnsOnceSet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	go func() {
		time.Sleep(50 * time.Millisecond)
		cache.Set(ctx, Result{ExecutionID: "exec-3", Status: "success"})
	}()

	result, err := cache.WaitForResult(ctx, "exec-3", time.Second)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, "exec-3", result.ExecutionID)
}

func TestWaitForResultTimesOut(t *testing.T) {
	cache, _ := newTestCache(t)
	_, err := cache.WaitForResult(context.Background(), "never-arrives", 150*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestWaitForResultRespectsContextCancellation(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := cache.WaitForResult(ctx, "never-arrives", 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestGetDegradesWhenRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := New(client, logger)
	mr.Close()

	result, err := cache.Get(context.Background(), "exec-4")
	require.NoError(t, err)
	require.Nil(t, result)
}
