package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chronodo/chrono-sync/logger"
	"github.com/chronodo/chrono-sync/types"
)

func TestEvictorRemovesOldestThirdWhenOverBudget(t *testing.T) {
	ctx := context.Background()
	client := newTestCache(t, map[string]interface{}{"budget_bytes": 1})

	for i := 0; i < 6; i++ {
		owner := fmt.Sprintf("owner-%d", i)
		require.NoError(t, client.Set(ctx, UserTodosKey(owner), owner, time.Minute))
		time.Sleep(2 * time.Millisecond)
	}
	require.NoError(t, client.Set(ctx, SessionKey("s1"), "session", time.Minute))

	evictor := NewEvictor(client, logger.NewZapWrapper(zap.NewNop()), nil, &types.EvictionConfig{
		Enabled:       true,
		BudgetBytes:   1,
		SoftThreshold: 0.8,
		Namespaces:    []string{UserTodosPattern()},
	})

	evictor.Run(ctx)

	// Oldest third of the todos namespace is gone.
	assert.False(t, client.Exists(ctx, UserTodosKey("owner-0")))
	assert.False(t, client.Exists(ctx, UserTodosKey("owner-1")))
	for i := 2; i < 6; i++ {
		assert.True(t, client.Exists(ctx, UserTodosKey(fmt.Sprintf("owner-%d", i))))
	}

	// Sessions are never evictable.
	assert.True(t, client.Exists(ctx, SessionKey("s1")))
}

func TestEvictorSkipsWhenUnderThreshold(t *testing.T) {
	ctx := context.Background()
	client := newTestCache(t, nil)

	require.NoError(t, client.Set(ctx, UserTodosKey("alice"), "a", time.Minute))

	evictor := NewEvictor(client, logger.NewZapWrapper(zap.NewNop()), nil, &types.EvictionConfig{
		Enabled:       true,
		BudgetBytes:   50 << 20,
		SoftThreshold: 0.8,
		Namespaces:    []string{UserTodosPattern()},
	})

	evictor.Run(ctx)

	assert.True(t, client.Exists(ctx, UserTodosKey("alice")))
}

func TestEvictorDisabledIsNoop(t *testing.T) {
	ctx := context.Background()
	client := newTestCache(t, map[string]interface{}{"budget_bytes": 1})

	require.NoError(t, client.Set(ctx, UserTodosKey("alice"), "a", time.Minute))

	evictor := NewEvictor(client, logger.NewZapWrapper(zap.NewNop()), nil, &types.EvictionConfig{
		Enabled: false,
	})
	evictor.Run(ctx)

	assert.True(t, client.Exists(ctx, UserTodosKey("alice")))
}
