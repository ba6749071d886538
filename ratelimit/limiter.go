package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chronodo/chrono-sync/cache"
	"github.com/chronodo/chrono-sync/types"
)

// FixedWindowLimiter counts requests per identifier in fixed windows on
// top of the shared cache. The first increment of a window arms the key's
// expiry; that expiry is the only reset mechanism, there is no scheduler.
//
// The limiter guards abuse, not correctness, so it fails open: when the
// store is unreachable the request is allowed and the failure is logged.
type FixedWindowLimiter struct {
	client  types.CacheClient
	logger  types.Logger
	metrics types.MetricsManager
	config  *types.RateLimitConfig
}

func NewFixedWindowLimiter(client types.CacheClient, logger types.Logger, metrics types.MetricsManager, config *types.RateLimitConfig) *FixedWindowLimiter {
	if config == nil {
		config = &types.RateLimitConfig{
			Enabled:     true,
			Window:      time.Hour,
			MaxRequests: 100,
		}
	}

	return &FixedWindowLimiter{
		client:  client,
		logger:  logger,
		metrics: metrics,
		config:  config,
	}
}

// CheckDefault applies the configured window and threshold.
func (l *FixedWindowLimiter) CheckDefault(ctx context.Context, identifier string) types.RateLimitResult {
	return l.Check(ctx, identifier, l.config.Window, l.config.MaxRequests)
}

func (l *FixedWindowLimiter) Check(ctx context.Context, identifier string, window time.Duration, maxRequests int64) types.RateLimitResult {
	if !l.config.Enabled {
		return types.RateLimitResult{Allowed: true, Remaining: maxRequests, ResetAt: time.Now().Add(window)}
	}

	key := cache.RateLimitKey(identifier)

	count, err := l.client.Increment(ctx, key)
	if err != nil {
		l.logger.Warn("Rate limit store unreachable, failing open",
			zap.String("identifier", identifier),
			zap.Error(err))
		l.record("fail_open")
		return types.RateLimitResult{Allowed: true, Remaining: maxRequests, ResetAt: time.Now().Add(window)}
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, window); err != nil {
			l.logger.Warn("Failed to arm rate limit window",
				zap.String("identifier", identifier),
				zap.Error(err))
		}
	}

	resetAt := time.Now().Add(window)
	if ttl, err := l.client.TTL(ctx, key); err == nil && ttl > 0 {
		resetAt = time.Now().Add(ttl)
	}

	remaining := maxRequests - count
	if remaining < 0 {
		remaining = 0
	}

	if count > maxRequests {
		l.record("denied")
		return types.RateLimitResult{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}

	l.record("allowed")
	return types.RateLimitResult{Allowed: true, Remaining: remaining, ResetAt: resetAt}
}

func (l *FixedWindowLimiter) record(result string) {
	if l.metrics == nil {
		return
	}
	l.metrics.Counter("ratelimit_checks_total", map[string]string{
		"result": result,
	}).Inc()
}
