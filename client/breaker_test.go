package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chronodo/chrono-sync/logger"
	"github.com/chronodo/chrono-sync/types"
)

func newTestBreaker(t *testing.T, config *BreakerConfig) *CircuitBreaker {
	t.Helper()
	return NewCircuitBreaker(logger.NewZapWrapper(zap.NewNop()), config)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	breaker := newTestBreaker(t, &BreakerConfig{
		Enabled:          true,
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
		HalfOpenMaxCalls: 1,
	})

	for i := 0; i < 2; i++ {
		breaker.RecordFailure()
		require.NoError(t, breaker.CanExecute())
	}

	breaker.RecordFailure()
	assert.Equal(t, BreakerOpen, breaker.State())
	assert.ErrorIs(t, breaker.CanExecute(), types.ErrCircuitBreakerOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	breaker := newTestBreaker(t, &BreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		HalfOpenMaxCalls: 1,
	})

	breaker.RecordFailure()
	breaker.RecordSuccess()
	breaker.RecordFailure()

	// Failures are consecutive; a success in between starts over.
	assert.Equal(t, BreakerClosed, breaker.State())
	assert.NoError(t, breaker.CanExecute())
}

func TestBreakerHalfOpenProbing(t *testing.T) {
	breaker := newTestBreaker(t, &BreakerConfig{
		Enabled:          true,
		FailureThreshold: 1,
		RecoveryTimeout:  20 * time.Millisecond,
		HalfOpenMaxCalls: 2,
	})

	breaker.RecordFailure()
	require.Equal(t, BreakerOpen, breaker.State())
	require.ErrorIs(t, breaker.CanExecute(), types.ErrCircuitBreakerOpen)

	time.Sleep(30 * time.Millisecond)

	// The recovery window elapsed: probes are allowed, but only so many.
	require.NoError(t, breaker.CanExecute())
	assert.Equal(t, BreakerHalfOpen, breaker.State())
	require.NoError(t, breaker.CanExecute())
	assert.ErrorIs(t, breaker.CanExecute(), types.ErrCircuitBreakerOpen)

	breaker.RecordSuccess()
	assert.Equal(t, BreakerClosed, breaker.State())
	assert.NoError(t, breaker.CanExecute())
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	breaker := newTestBreaker(t, &BreakerConfig{
		Enabled:          true,
		FailureThreshold: 1,
		RecoveryTimeout:  20 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	})

	breaker.RecordFailure()
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, breaker.CanExecute())
	breaker.RecordFailure()

	assert.Equal(t, BreakerOpen, breaker.State())
	assert.ErrorIs(t, breaker.CanExecute(), types.ErrCircuitBreakerOpen)
}

func TestBreakerDisabledNeverBlocks(t *testing.T) {
	breaker := newTestBreaker(t, &BreakerConfig{Enabled: false})

	for i := 0; i < 10; i++ {
		breaker.RecordFailure()
		assert.NoError(t, breaker.CanExecute())
	}
	assert.Equal(t, BreakerClosed, breaker.State())
}

func TestCountsAsBreakerFailure(t *testing.T) {
	assert.False(t, countsAsBreakerFailure(nil))

	// Transport errors and 5xx say something about backend health.
	assert.True(t, countsAsBreakerFailure(types.ClassifyStatus(0, types.ErrBackendUnavailable)))
	assert.True(t, countsAsBreakerFailure(types.ClassifyStatus(503, nil)))

	// Client mistakes and explicit pushback do not.
	assert.False(t, countsAsBreakerFailure(types.ClassifyStatus(404, nil)))
	assert.False(t, countsAsBreakerFailure(types.ClassifyStatus(429, nil)))
}

func TestBatchErrorMapsMissingEndpoint(t *testing.T) {
	assert.ErrorIs(t, batchError(types.ClassifyStatus(404, nil)), types.ErrBatchUnsupported)
	assert.ErrorIs(t, batchError(types.ClassifyStatus(405, nil)), types.ErrBatchUnsupported)
	assert.ErrorIs(t, batchError(types.ClassifyStatus(501, nil)), types.ErrBatchUnsupported)

	// Real failures pass through with their class intact.
	err := batchError(types.ClassifyStatus(500, nil))
	assert.NotErrorIs(t, err, types.ErrBatchUnsupported)
	assert.True(t, types.IsTransient(err))
}
