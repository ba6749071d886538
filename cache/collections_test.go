package cache

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

func TestCollectionCacheRoundtrip(t *testing.T) {
	ctx := context.Background()
	client := newTestCache(t, nil)
	cc := NewCollectionCache(client, logger.NewZapWrapper(zap.NewNop()))

	records := []*types.TodoRecord{
		{ID: "t1", OwnerID: "alice", Title: "one", Tags: []string{"B", "a"}},
		{ID: "t2", OwnerID: "alice", Title: "two"},
	}

	cc.SetUserCollection(ctx, "alice", records)

	cached, ok := cc.GetUserCollection(ctx, "alice")
	require.True(t, ok)
	require.Len(t, cached, 2)
	assert.Equal(t, "t1", cached[0].ID)
	assert.Equal(t, []string{"a", "b"}, cached[0].Tags)

	_, ok = cc.GetUserCollection(ctx, "bob")
	assert.False(t, ok)
}

func TestCollectionCacheInvalidateOwner(t *testing.T) {
	ctx := context.Background()
	client := newTestCache(t, nil)
	cc := NewCollectionCache(client, logger.NewZapWrapper(zap.NewNop()))

	cc.SetUserCollection(ctx, "alice", []*types.TodoRecord{{ID: "t1", OwnerID: "alice"}})
	require.NoError(t, client.Set(ctx, UserStatsKey("alice"), &types.TodoStats{OwnerID: "alice", Total: 1}, time.Minute))
	cc.SetUserCollection(ctx, "bob", []*types.TodoRecord{{ID: "t9", OwnerID: "bob"}})

	cc.InvalidateOwner(ctx, "alice")

	assert.False(t, client.Exists(ctx, UserTodosKey("alice")))
	assert.False(t, client.Exists(ctx, UserStatsKey("alice")))

	// Another owner's entries survive.
	assert.True(t, client.Exists(ctx, UserTodosKey("bob")))
}

func TestCollectionCacheTouchActivity(t *testing.T) {
	ctx := context.Background()
	client := newTestCache(t, nil)
	cc := NewCollectionCache(client, logger.NewZapWrapper(zap.NewNop()))

	cc.TouchActivity(ctx, "alice")
	assert.True(t, client.Exists(ctx, ActivityKey("alice")))
}
