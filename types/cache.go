package types

import (
	"context"
	"time"
)

// CacheClient is the capability interface over the shared key-value cache.
// Reads never fail: a transport error is reported as a miss so callers
// always fall through to the authoritative source.
type CacheClient interface {
	LifecycleManager
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
	Exists(ctx context.Context, key string) bool

	// Counter primitives backing the rate limiter.
	Increment(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

type CacheClientCreator func(config interface{}) (CacheClient, error)

const CacheEntryVersion = 1

// CacheEntry is the versioned stored shape of every cached value. Value
// holds the sonic-serialized payload, brotli-compressed when Compressed is
// set. Decoding is total: unknown versions and malformed entries are misses.
type CacheEntry struct {
	Version    int           `json:"v"`
	Key        string        `json:"key"`
	Value      []byte        `json:"value"`
	Compressed bool          `json:"compressed,omitempty"`
	TTL        time.Duration `json:"ttl"`
	CreatedAt  time.Time     `json:"created_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
}

type CacheUsage struct {
	UsedBytes   uint64 `json:"used_bytes"`
	BudgetBytes uint64 `json:"budget_bytes"`
	KeyCount    int    `json:"key_count"`
}

// EvictableCache is implemented by cache clients that can sample their own
// memory footprint and enumerate keys oldest-first for the evictor.
type EvictableCache interface {
	Usage(ctx context.Context) (CacheUsage, error)
	KeysByAge(ctx context.Context, pattern string) ([]string, error)
}
