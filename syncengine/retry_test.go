package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chronodo/chrono-sync/logger"
	"github.com/chronodo/chrono-sync/types"
)

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Base:        time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	log := logger.NewZapWrapper(zap.NewNop())

	calls := 0
	err := Retry(context.Background(), log, testPolicy(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	log := logger.NewZapWrapper(zap.NewNop())

	calls := 0
	err := Retry(context.Background(), log, testPolicy(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return types.ClassifyStatus(503, nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsTransientBudget(t *testing.T) {
	log := logger.NewZapWrapper(zap.NewNop())

	calls := 0
	err := Retry(context.Background(), log, testPolicy(), "op", func(ctx context.Context) error {
		calls++
		return types.ClassifyStatus(500, nil)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, types.ErrRetriesExhausted)

	// The class survives the exhaustion wrap.
	assert.True(t, types.IsTransient(err))
}

func TestRetryStopsOnPermanentFailure(t *testing.T) {
	log := logger.NewZapWrapper(zap.NewNop())

	calls := 0
	err := Retry(context.Background(), log, testPolicy(), "op", func(ctx context.Context) error {
		calls++
		return types.ClassifyStatus(400, nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, types.ClassPermanent, types.ClassOf(err))
}

func TestRetryStopsOnRateLimit(t *testing.T) {
	log := logger.NewZapWrapper(zap.NewNop())

	calls := 0
	err := Retry(context.Background(), log, testPolicy(), "op", func(ctx context.Context) error {
		calls++
		return types.ClassifyStatus(429, nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, types.ClassRateLimited, types.ClassOf(err))
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	log := logger.NewZapWrapper(zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Retry(ctx, log, RetryPolicy{MaxAttempts: 5, Base: time.Second, MaxDelay: time.Second}, "op",
		func(ctx context.Context) error {
			calls++
			cancel()
			return types.ClassifyStatus(503, nil)
		})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryDelayIsCapped(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 10,
		Base:        100 * time.Millisecond,
		MaxDelay:    time.Second,
	}

	for attempt := 0; attempt < 10; attempt++ {
		assert.LessOrEqual(t, policy.delay(attempt), policy.MaxDelay)
	}
}
