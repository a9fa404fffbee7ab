package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// ExecutionCache wraps a Store with get-or-compute semantics over
// JSON-serialized values. Store failures degrade to direct computation.
type ExecutionCache struct {
	store Store
}

// NewExecutionCache creates an ExecutionCache over the given store.
func NewExecutionCache(store Store) *ExecutionCache {
	return &ExecutionCache{store: store}
}

// GetOrCompute returns the cached value for key, or invokes compute,
// stores its serialized result with the given TTL, and returns it. On a
// hit the compute function is not invoked. Compute reports whether its
// result may be stored; a non-storable result is returned without
// creating a cache entry. Cache errors are logged and treated as misses;
// a failed write never fails the call.
func (c *ExecutionCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (any, bool, error)) (json.RawMessage, error) {
	if data, ok := c.lookup(ctx, key); ok {
		return data, nil
	}

	result, storable, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	if !storable {
		return data, nil
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		slog.Warn("cache write failed", "key", key, "error", err)
	}
	return data, nil
}

func (c *ExecutionCache) lookup(ctx context.Context, key string) (json.RawMessage, bool) {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Warn("cache read failed, computing directly", "key", key, "error", err)
		return nil, false
	}
	return data, ok
}
