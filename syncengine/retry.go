package syncengine

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/chronodo/chrono-sync/types"
)

// RetryPolicy is exponential backoff with jitter. Attempt n (zero-based)
// waits base * 2^n plus up to one base of jitter, capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	MaxDelay    time.Duration
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	backoff := p.Base << uint(attempt)
	if backoff > p.MaxDelay {
		backoff = p.MaxDelay
	}

	if p.Base > 0 {
		backoff += time.Duration(rand.Int63n(int64(p.Base)))
	}
	if backoff > p.MaxDelay {
		backoff = p.MaxDelay
	}
	return backoff
}

// Retry runs fn until it succeeds, returns a non-transient error, or the
// attempt budget is spent. Rate-limited and permanent failures surface
// immediately; only transient ones are worth another attempt.
func Retry(ctx context.Context, logger types.Logger, policy RetryPolicy, operation string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := policy.delay(attempt - 1)
			logger.Debug("Retrying operation",
				zap.String("operation", operation),
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait))

			select {
			case <-ctx.Done():
				return types.NewClassifiedError(types.ClassTransient, ctx.Err())
			case <-time.After(wait):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !types.IsTransient(lastErr) {
			return lastErr
		}
	}

	logger.Warn("Operation retries exhausted",
		zap.String("operation", operation),
		zap.Int("attempts", policy.MaxAttempts),
		zap.Error(lastErr))

	return types.NewErrorf("%w: %w", types.ErrRetriesExhausted, lastErr)
}
