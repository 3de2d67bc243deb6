package store

import (
	"context"
	"time"
)

// Store is the primitive set the control plane needs from its key/value
// store: hashes for session records, lists for queues and logs, counters
// for rate limiting, TTLs for hygiene, and a keyspace scan for the
// monitoring endpoints.
//
// Implementations must be safe for concurrent use. Backends surface
// connectivity failures as types.KindStoreUnavailable errors.
type Store interface {
	// Hashes
	HashSet(ctx context.Context, key string, fields map[string]string) error
	HashGetAll(ctx context.Context, key string) (map[string]string, error)

	// Keys
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	ScanKeys(ctx context.Context, pattern string) ([]string, error)

	// Lists
	ListPushFront(ctx context.Context, key, value string) error
	ListTrim(ctx context.Context, key string, start, stop int64) error
	ListLength(ctx context.Context, key string) (int64, error)
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Counters
	Incr(ctx context.Context, key string) (int64, error)

	// Health
	Ping(ctx context.Context) error
	Close() error
}
