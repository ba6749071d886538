package health

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

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	manager, err := NewManager(context.Background(), logger.NewZapWrapper(zap.NewNop()), &types.HealthConfig{
		Enabled:  true,
		Interval: time.Minute,
	})
	require.NoError(t, err)
	return manager
}

func TestCheckAggregatesCheckerResults(t *testing.T) {
	manager := newTestManager(t)

	manager.RegisterChecker("cache", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusHealthy}
	})
	manager.RegisterChecker("backend", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusHealthy, Message: "probing"}
	})

	report := manager.Check(context.Background())

	assert.Equal(t, types.StatusHealthy, report.Status)
	require.Len(t, report.Checks, 2)
	assert.Equal(t, "cache", report.Checks["cache"].Name)
	assert.Equal(t, "probing", report.Checks["backend"].Message)
}

func TestCheckUnhealthyDominates(t *testing.T) {
	manager := newTestManager(t)

	manager.RegisterChecker("good", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusHealthy}
	})
	manager.RegisterChecker("bad", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnhealthy, Message: "down"}
	})

	report := manager.Check(context.Background())
	assert.Equal(t, types.StatusUnhealthy, report.Status)
}

func TestCheckSurvivesPanickingChecker(t *testing.T) {
	manager := newTestManager(t)

	manager.RegisterChecker("explosive", func(ctx context.Context) types.HealthCheck {
		panic("boom")
	})
	manager.RegisterChecker("calm", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusHealthy}
	})

	report := manager.Check(context.Background())

	assert.Equal(t, types.StatusUnhealthy, report.Status)
	assert.Equal(t, types.StatusUnhealthy, report.Checks["explosive"].Status)
	assert.Equal(t, "checker panicked", report.Checks["explosive"].Message)
	assert.Equal(t, types.StatusHealthy, report.Checks["calm"].Status)
}

func TestLastReportDoesNotRerunCheckers(t *testing.T) {
	manager := newTestManager(t)

	calls := 0
	manager.RegisterChecker("counted", func(ctx context.Context) types.HealthCheck {
		calls++
		return types.HealthCheck{Status: types.StatusHealthy}
	})

	manager.Check(context.Background())
	report := manager.LastReport()

	assert.Equal(t, 1, calls)
	assert.Equal(t, types.StatusHealthy, report.Status)
}

func TestEmptyReportIsUnknown(t *testing.T) {
	manager := newTestManager(t)
	assert.Equal(t, types.StatusUnknown, manager.Check(context.Background()).Status)
}
