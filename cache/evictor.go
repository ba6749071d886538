package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chronodo/chrono-sync/types"
)

// Evictor keeps the shared cache under its memory budget. When sampled
// usage crosses the soft threshold it deletes the oldest third of keys in
// the evictable namespaces. Sessions and rate-limit counters are never
// evictable; eviction only ever removes copies, never the authority.
type Evictor struct {
	client  types.CacheClient
	logger  types.Logger
	metrics types.MetricsManager
	config  *types.EvictionConfig
}

func NewEvictor(client types.CacheClient, logger types.Logger, metrics types.MetricsManager, config *types.EvictionConfig) *Evictor {
	if config == nil {
		config = &types.EvictionConfig{
			Enabled:       true,
			BudgetBytes:   50 << 20,
			SoftThreshold: 0.8,
			Namespaces: []string{
				UserTodosPattern(),
				UserStatsPattern(),
				ActivityPattern(),
			},
		}
	}

	return &Evictor{
		client:  client,
		logger:  logger,
		metrics: metrics,
		config:  config,
	}
}

// Run performs one usage check. Safe to call from a cron job; all
// failures are logged and absorbed.
func (e *Evictor) Run(ctx context.Context) {
	if !e.config.Enabled {
		return
	}

	reporter, ok := e.client.(types.EvictableCache)
	if !ok {
		e.logger.Debug("Cache client does not support eviction sampling")
		return
	}

	usage, err := reporter.Usage(ctx)
	if err != nil {
		e.logger.Warn("Failed to sample cache usage", zap.Error(err))
		return
	}

	budget := e.config.BudgetBytes
	if usage.BudgetBytes > 0 {
		budget = usage.BudgetBytes
	}

	threshold := uint64(float64(budget) * e.config.SoftThreshold)
	if usage.UsedBytes <= threshold {
		return
	}

	start := time.Now()
	evicted := 0

	for _, pattern := range e.config.Namespaces {
		keys, err := reporter.KeysByAge(ctx, pattern)
		if err != nil {
			e.logger.Warn("Failed to enumerate evictable keys",
				zap.String("pattern", pattern),
				zap.Error(err))
			continue
		}

		victimCount := len(keys) / 3
		if victimCount == 0 && len(keys) > 0 {
			victimCount = 1
		}
		if victimCount == 0 {
			continue
		}

		if err := e.client.Delete(ctx, keys[:victimCount]...); err != nil {
			e.logger.Warn("Failed to evict cache keys",
				zap.String("pattern", pattern),
				zap.Error(err))
			continue
		}
		evicted += victimCount
	}

	e.logger.Info("Cache eviction completed",
		zap.Uint64("used_bytes", usage.UsedBytes),
		zap.Uint64("threshold_bytes", threshold),
		zap.Int("evicted_keys", evicted),
		zap.Duration("elapsed", time.Since(start)))

	if e.metrics != nil {
		e.metrics.Counter("cache_evicted_keys_total", nil).Add(float64(evicted))
	}
}

// Schedule registers the periodic usage check with the cron manager.
func (e *Evictor) Schedule(ctx context.Context, cron types.CronManager) error {
	schedule := e.config.Schedule
	if schedule == "" {
		schedule = "0 */5 * * * *"
	}

	return cron.Add("cache-evictor", schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		e.Run(runCtx)
	})
}
