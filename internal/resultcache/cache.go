// Package resultcache implements the Result Cache of §4.5: a
// short-TTL, replica-shared store of terminal ExecutionResults keyed by
// executionId, backed by Redis exactly as internal/ratelimit uses Redis
// for its sliding-window counters. It is the source of truth for
// synchronous webhook replies when persistent execution storage is
// disabled (§8).
package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL is the fixed lifetime of a cached result, per §3 and §4.5.
const TTL = 60 * time.Second

const pollInterval = 100 * time.Millisecond

// ErrTimeout is returned by WaitForResult when no result arrives within
// the given timeout.
var ErrTimeout = errors.New("resultcache: wait timed out")

// Result is the terminal payload cached for one execution: the
// standardized status plus whatever data a synchronous webhook reply
// needs to locate (the HTTP-response-flagged item, or the fallback).
type Result struct {
	ExecutionID string          `json:"executionId"`
	Status      string          `json:"status"`
	Data        json.RawMessage `json:"data,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Cache is the Result Cache. The zero value is not usable; construct
// with New.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a Result Cache over an existing Redis client, shared with
// the rest of the process (ratelimit counters, schedule leader lock).
func New(client *redis.Client, logger *slog.Logger) *Cache {
	return &Cache{client: client, logger: logger}
}

func key(executionID string) string {
	return "execution:result:" + executionID
}

// Set stores a terminal result with the fixed 60s TTL. Per §4.5's
// degradation contract, a Redis error is logged and swallowed — callers
// must not fail execution bookkeeping because the cache is unreachable.
func (c *Cache) Set(ctx context.Context, result Result) {
	payload, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("resultcache: failed to marshal result", "execution_id", result.ExecutionID, "error", err)
		return
	}
	if err := c.client.Set(ctx, key(result.ExecutionID), payload, TTL).Err(); err != nil {
		c.logger.Warn("resultcache: set failed, degrading", "execution_id", result.ExecutionID, "error", err)
	}
}

// Get returns the cached result for executionID, or (nil, nil) if
// absent. A Redis error is treated as absent, per the degradation
// contract.
func (c *Cache) Get(ctx context.Context, executionID string) (*Result, error) {
	raw, err := c.client.Get(ctx, key(executionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		c.logger.Warn("resultcache: get failed, degrading", "execution_id", executionID, "error", err)
		return nil, nil
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// WaitForResult polls for executionID's result at pollInterval until it
// appears, the timeout elapses (ErrTimeout), or ctx is cancelled. This
// backs both executeTriggerAndWait (§4.3) and the webhook response-mode
// wait (§4.1), which polls up to 30s itself by passing that as timeout.
func (c *Cache) WaitForResult(ctx context.Context, executionID string, timeout time.Duration) (*Result, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		result, err := c.Get(ctx, executionID)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
