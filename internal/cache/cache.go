// Package cache provides the shared key-value cache surface used by the
// model catalog, routing, and provider settings lookups.
//
// Cache failures never fail the caller: every helper degrades to the live
// computation when the backend errors.
package cache

import (
	"context"
	"strings"
	"time"
)

// Cache is the KV surface. Values are JSON-encoded by the typed helpers.
type Cache interface {
	// Get retrieves the raw value for a key. Returns (nil, false, nil)
	// on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with an optional TTL (0 = backend default).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Has reports whether the key exists.
	Has(ctx context.Context, key string) (bool, error)
}

// Key builds a cache key from a stable-order prefix and parts:
// "prefix:part1:part2".
func Key(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}
	return prefix + ":" + strings.Join(parts, ":")
}

// Prefix extracts the leading segment of a key, for metric labels.
func Prefix(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
