// Package cache provides the key/value and list store used for routine
// caching, session event channels, session records and rate limiting.
//
// Two implementations satisfy Store: RedisStore for deployments with a Redis
// (or Upstash) endpoint, and MemoryStore for single-process development and
// tests. Both follow Redis semantics for the commands they expose.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrWrongType is returned when a command is applied to a key holding a
// value of another kind, mirroring Redis' WRONGTYPE reply.
var ErrWrongType = errors.New("operation against a key holding the wrong kind of value")

// Store is the subset of Redis used by the application.
//
// Get reports ok=false (and a nil error) for a missing key. A ttl of zero
// means no expiry. SetNX writes only when key is absent and reports whether
// it did.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	RPush(ctx context.Context, key string, values ...string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}
