package domain

import (
	"context"
	"time"
)

// Cache is the key/value store behind the threshold snapshot cache and
// the job claims of the queue boundary. Implementations: in-process LRU,
// Redis, or both layered (two-phase).
type Cache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// SetNX stores value only when key is absent and reports whether it
	// did. Exactly one of several concurrent callers wins.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and tunes the cache.
type CacheConfig struct {
	Type string // "memory" or "redis"

	// in-process LRU
	LocalMaxSize int
	LocalTTL     time.Duration

	// redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoPhase reads the LRU before Redis.
	EnableTwoPhase bool
}
