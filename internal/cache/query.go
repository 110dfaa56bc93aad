package cache

import (
	"context"
	"encoding/json"
	"time"
)

// QueryOptions configures a read-through cache query.
type QueryOptions struct {
	// TTL is the write-back TTL for computed values.
	TTL time.Duration

	// SkipIfNil suppresses the write-back when the computed value is the
	// type's zero value. Defaults to true in Query.
	SkipIfNil *bool
}

// Query reads the cache first and falls back to fn on a miss, writing the
// result back with the TTL. Backend errors on either side are treated as a
// cache miss: the caller always gets the live result of fn.
func Query[T any](ctx context.Context, c Cache, key string, opts QueryOptions, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if c != nil {
		if raw, ok, err := c.Get(ctx, key); err == nil && ok {
			var out T
			if json.Unmarshal(raw, &out) == nil {
				return out, nil
			}
			// Corrupt entry: drop it and recompute.
			_ = c.Delete(ctx, key)
		}
	}

	out, err := fn(ctx)
	if err != nil {
		return zero, err
	}

	skipIfNil := true
	if opts.SkipIfNil != nil {
		skipIfNil = *opts.SkipIfNil
	}
	if c != nil && !(skipIfNil && isZero(out)) {
		if raw, err := json.Marshal(out); err == nil {
			_ = c.Set(ctx, key, raw, opts.TTL)
		}
	}
	return out, nil
}

// GetJSON fetches and decodes a cached value. Misses and backend errors
// both return ok=false.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool) {
	var out T
	if c == nil {
		return out, false
	}
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return out, false
	}
	if json.Unmarshal(raw, &out) != nil {
		return out, false
	}
	return out, true
}

// SetJSON encodes and stores a value, swallowing backend errors.
func SetJSON[T any](ctx context.Context, c Cache, key string, v T, ttl time.Duration) {
	if c == nil {
		return
	}
	if raw, err := json.Marshal(v); err == nil {
		_ = c.Set(ctx, key, raw, ttl)
	}
}

func isZero[T any](v T) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		return false
	}
	s := string(raw)
	return s == "null" || s == `""` || s == "0" || s == "false"
}
