// Package kv defines the shared key-value capability (DESIGN NOTES §9)
// backing cooldown keys (C6), the domain metrics read path (C7), and DLQ
// bookkeeping (C3) — one narrow interface so those components never import
// redis/go-redis directly, grounded on the teacher's pkg/ratelimit and
// pkg/security use of *redis.Client for counters and TTL'd keys.
package kv

import (
	"context"
	"time"
)

// Store is the narrow KV capability the platform needs: counters,
// string get/set with optional TTL, existence, and pattern scans for
// sweeps (alert cleanup, DLQ scans).
type Store interface {
	Incr(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	Set(ctx context.Context, key, value string) error
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}
