package cache

import (
	"context"
	"time"

	"github.com/chronodo/chrono-sync/types"
)

var customCacheCreators = make(map[string]types.CacheClientCreator)

func RegisterCacheClient(name string, creator types.CacheClientCreator) {
	customCacheCreators[name] = creator
}

// NewCacheClient selects the implementation once at construction time.
// Call sites only ever see types.CacheClient.
func NewCacheClient(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (types.CacheClient, error) {
	cacheConfig := config.GetConfig().Cache

	if !cacheConfig.Enabled {
		return nil, types.ErrCacheIsDisabled
	}

	var impl types.CacheClient
	var err error

	switch cacheConfig.Type {
	case "memory":
		impl, err = NewMemoryCache(ctx, logger, cacheConfig)
	case "redis":
		impl, err = NewRedisCache(ctx, logger, cacheConfig)
	default:
		if creator, exists := customCacheCreators[cacheConfig.Type]; exists {
			impl, err = creator(cacheConfig)
		} else {
			return nil, types.Errorf(types.ErrCacheTypeUnknown, "type: %s", cacheConfig.Type)
		}
	}

	if err != nil {
		return nil, err
	}

	if metrics == nil {
		return impl, nil
	}

	return newInstrumentedCacheClient(metrics, impl), nil
}

type instrumentedCacheClient struct {
	impl    types.CacheClient
	metrics types.MetricsManager
}

func newInstrumentedCacheClient(metrics types.MetricsManager, impl types.CacheClient) types.CacheClient {
	return &instrumentedCacheClient{
		impl:    impl,
		metrics: metrics,
	}
}

func (icc *instrumentedCacheClient) Get(ctx context.Context, key string) ([]byte, bool) {
	start := time.Now()
	value, exists := icc.impl.Get(ctx, key)

	result := "miss"
	if exists {
		result = "hit"
	}

	icc.recordMetric("get", result, time.Since(start))
	return value, exists
}

func (icc *instrumentedCacheClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	start := time.Now()
	err := icc.impl.Set(ctx, key, value, ttl)
	icc.recordMetric("set", resultLabel(err), time.Since(start))
	return err
}

func (icc *instrumentedCacheClient) Delete(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := icc.impl.Delete(ctx, keys...)
	icc.recordMetric("delete", resultLabel(err), time.Since(start))
	return err
}

func (icc *instrumentedCacheClient) DeletePattern(ctx context.Context, pattern string) (int, error) {
	start := time.Now()
	count, err := icc.impl.DeletePattern(ctx, pattern)
	icc.recordMetric("delete_pattern", resultLabel(err), time.Since(start))
	return count, err
}

func (icc *instrumentedCacheClient) Exists(ctx context.Context, key string) bool {
	return icc.impl.Exists(ctx, key)
}

func (icc *instrumentedCacheClient) Increment(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	value, err := icc.impl.Increment(ctx, key)
	icc.recordMetric("increment", resultLabel(err), time.Since(start))
	return value, err
}

func (icc *instrumentedCacheClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return icc.impl.Expire(ctx, key, ttl)
}

func (icc *instrumentedCacheClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	return icc.impl.TTL(ctx, key)
}

func (icc *instrumentedCacheClient) Start() error {
	return icc.impl.Start()
}

func (icc *instrumentedCacheClient) Stop() error {
	return icc.impl.Stop()
}

func (icc *instrumentedCacheClient) IsRunning() bool {
	return icc.impl.IsRunning()
}

// Usage and KeysByAge pass through so the evictor still sees the
// underlying client's EvictableCache capability.
func (icc *instrumentedCacheClient) Usage(ctx context.Context) (types.CacheUsage, error) {
	if ec, ok := icc.impl.(types.EvictableCache); ok {
		return ec.Usage(ctx)
	}
	return types.CacheUsage{}, types.NewErrorf("cache client does not report usage")
}

func (icc *instrumentedCacheClient) KeysByAge(ctx context.Context, pattern string) ([]string, error) {
	if ec, ok := icc.impl.(types.EvictableCache); ok {
		return ec.KeysByAge(ctx, pattern)
	}
	return nil, types.NewErrorf("cache client does not enumerate keys by age")
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (icc *instrumentedCacheClient) recordMetric(operation, result string, duration time.Duration) {
	opCounter := icc.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	})
	opCounter.Inc()

	opDuration := icc.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	)
	opDuration.Observe(duration.Seconds())
}
