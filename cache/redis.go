package cache

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chronodo/chrono-sync/types"
	"github.com/chronodo/chrono-sync/utils"
)

type RedisConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteDeadline      time.Duration `json:"write_deadline"`
	KeyPrefix          string        `json:"key_prefix"`
	BudgetBytes        uint64        `json:"budget_bytes"`
	ScanBatchSize      int64         `json:"scan_batch_size"`
}

type RedisCache struct {
	ctx     context.Context
	logger  types.Logger
	config  *RedisConfig
	client  *redis.Client
	started int32
}

func NewRedisCache(ctx context.Context, logger types.Logger, config *types.CacheConfig) (types.CacheClient, error) {
	redisConfig := &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		DB:                 0,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteDeadline:      2 * time.Second,
		KeyPrefix:          "chrono-sync",
		BudgetBytes:        50 << 20,
		ScanBatchSize:      200,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, redisConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis cache config")
		}
	}

	cache := &RedisCache{
		ctx:    ctx,
		logger: logger,
		config: redisConfig,
	}

	cache.client = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password:     redisConfig.Password,
		DB:           redisConfig.DB,
		PoolSize:     redisConfig.PoolSize,
		MinIdleConns: redisConfig.MinIdleConnections,
		DialTimeout:  redisConfig.DialTimeout,
		ReadTimeout:  redisConfig.ReadTimeout,
		WriteTimeout: redisConfig.WriteDeadline,
	})

	if err := cache.ping(); err != nil {
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	return cache, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if key == "" {
		return nil, false
	}

	fullKey := r.buildFullKey(key)

	result, err := r.client.Get(ctx, fullKey).Result()
	if err != nil {
		if !types.IsError(err, redis.Nil) {
			r.logger.Error("Failed to get cache entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var entry types.CacheEntry
	if err := utils.Unmarshal([]byte(result), &entry); err != nil {
		r.logger.Error("Failed to unmarshal cache entry", zap.String("key", key), zap.Error(err))
		r.client.Del(ctx, fullKey)
		return nil, false
	}

	payload, ok := decodeEntry(&entry, time.Now())
	if !ok {
		r.client.Del(ctx, fullKey)
		return nil, false
	}

	return payload, true
}

func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	entry, oversized, err := buildEntry(key, value, ttl)
	if err != nil {
		return err
	}

	if oversized {
		r.logger.Warn("Cache value exceeds soft size threshold",
			zap.String("key", key),
			zap.Int("size", len(entry.Value)),
			zap.Bool("compressed", entry.Compressed))
	}

	data, err := utils.Marshal(entry)
	if err != nil {
		return types.WrapError(err, "failed to marshal cache entry")
	}

	// Bounded write: a slow store means a stale cache, not a blocked caller.
	writeCtx, cancel := context.WithTimeout(ctx, r.config.WriteDeadline)
	defer cancel()

	if err := r.client.Set(writeCtx, r.buildFullKey(key), data, ttl).Err(); err != nil {
		if types.IsError(err, context.DeadlineExceeded) {
			r.logger.Warn("Cache write timed out", zap.String("key", key))
			return types.ErrCacheWriteTimeout
		}
		r.logger.Error("Failed to set cache entry", zap.String("key", key), zap.Error(err))
		return types.WrapError(err, "failed to set cache entry")
	}

	return nil
}

func (r *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	fullKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		if key != "" {
			fullKeys = append(fullKeys, r.buildFullKey(key))
		}
	}

	if err := r.client.Del(ctx, fullKeys...).Err(); err != nil {
		r.logger.Error("Failed to delete cache keys", zap.Int("count", len(fullKeys)), zap.Error(err))
		return types.WrapError(err, "failed to delete cache keys")
	}

	return nil
}

// DeletePattern enumerates then deletes, so it can race with concurrent
// writers. That is acceptable: the cache is an optimization, never the
// authority.
func (r *RedisCache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		return 0, types.ErrCacheKeyEmpty
	}

	fullPattern := r.buildFullKey(pattern)
	deleted := 0
	var cursor uint64

	for {
		keys, next, err := r.client.Scan(ctx, cursor, fullPattern, r.config.ScanBatchSize).Result()
		if err != nil {
			r.logger.Error("Failed to scan cache keys", zap.String("pattern", pattern), zap.Error(err))
			return deleted, types.WrapError(err, "failed to scan cache keys")
		}

		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				r.logger.Error("Failed to delete matched keys", zap.String("pattern", pattern), zap.Error(err))
				return deleted, types.WrapError(err, "failed to delete matched keys")
			}
			deleted += len(keys)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}

func (r *RedisCache) Exists(ctx context.Context, key string) bool {
	count, err := r.client.Exists(ctx, r.buildFullKey(key)).Result()
	if err != nil {
		r.logger.Error("Failed to check key existence", zap.String("key", key), zap.Error(err))
		return false
	}
	return count > 0
}

func (r *RedisCache) Increment(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, types.ErrCacheKeyEmpty
	}

	value, err := r.client.Incr(ctx, r.buildFullKey(key)).Result()
	if err != nil {
		return 0, types.WrapError(err, "failed to increment counter")
	}
	return value, nil
}

func (r *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Expire(ctx, r.buildFullKey(key), ttl).Err(); err != nil {
		return types.WrapError(err, "failed to set key expiry")
	}
	return nil
}

func (r *RedisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, r.buildFullKey(key)).Result()
	if err != nil {
		return 0, types.WrapError(err, "failed to read key ttl")
	}
	switch ttl {
	case -2 * time.Second:
		return 0, nil
	case -1 * time.Second:
		return -1, nil
	}
	return ttl, nil
}

func (r *RedisCache) Usage(ctx context.Context) (types.CacheUsage, error) {
	info, err := r.client.Info(ctx, "memory").Result()
	if err != nil {
		return types.CacheUsage{}, types.WrapError(err, "failed to sample redis memory")
	}

	usage := types.CacheUsage{BudgetBytes: r.config.BudgetBytes}

	for _, line := range strings.Split(info, "\r\n") {
		if rest, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if used, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 64); err == nil {
				usage.UsedBytes = used
			}
			break
		}
	}

	size, err := r.client.DBSize(ctx).Result()
	if err == nil {
		usage.KeyCount = int(size)
	}

	return usage, nil
}

func (r *RedisCache) KeysByAge(ctx context.Context, pattern string) ([]string, error) {
	fullPattern := r.buildFullKey(pattern)

	type keyAge struct {
		key       string
		createdAt time.Time
	}

	var matched []keyAge
	var cursor uint64

	for {
		keys, next, err := r.client.Scan(ctx, cursor, fullPattern, r.config.ScanBatchSize).Result()
		if err != nil {
			return nil, types.WrapError(err, "failed to scan keys by age")
		}

		for _, fullKey := range keys {
			raw, err := r.client.Get(ctx, fullKey).Result()
			if err != nil {
				continue
			}
			var entry types.CacheEntry
			if err := utils.Unmarshal([]byte(raw), &entry); err != nil {
				continue
			}
			matched = append(matched, keyAge{key: r.stripPrefix(fullKey), createdAt: entry.CreatedAt})
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].createdAt.Before(matched[j].createdAt)
	})

	result := make([]string, len(matched))
	for i, ka := range matched {
		result[i] = ka.key
	}
	return result, nil
}

func (r *RedisCache) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return nil
	}

	r.logger.Info("Redis cache started",
		zap.String("prefix", r.config.KeyPrefix))
	return nil
}

func (r *RedisCache) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return nil
	}

	if r.client != nil {
		if err := r.client.Close(); err != nil {
			r.logger.Error("Failed to close redis client", zap.Error(err))
			return types.WrapError(err, "failed to close redis client")
		}
	}

	r.logger.Info("Redis cache stopped")
	return nil
}

func (r *RedisCache) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisCache) ping() error {
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) buildFullKey(key string) string {
	if r.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:%s", r.config.KeyPrefix, key)
	}
	return key
}

func (r *RedisCache) stripPrefix(fullKey string) string {
	if r.config.KeyPrefix == "" {
		return fullKey
	}
	return strings.TrimPrefix(fullKey, r.config.KeyPrefix+":")
}
