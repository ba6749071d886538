package syncengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chronodo/chrono-sync/cache"
	"github.com/chronodo/chrono-sync/logger"
	"github.com/chronodo/chrono-sync/types"
)

// fakeLocalStore holds snapshots in memory for the last read tier.
type fakeLocalStore struct {
	mu        sync.Mutex
	snapshots map[string][]*types.TodoRecord
	saves     int
	loadErr   error
}

func newFakeLocalStore() *fakeLocalStore {
	return &fakeLocalStore{snapshots: make(map[string][]*types.TodoRecord)}
}

func (f *fakeLocalStore) SaveSnapshot(ctx context.Context, ownerID string, records []*types.TodoRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.saves++
	f.snapshots[ownerID] = records
	return nil
}

func (f *fakeLocalStore) LoadSnapshot(ctx context.Context, ownerID string) ([]*types.TodoRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.loadErr != nil {
		return nil, f.loadErr
	}
	records, ok := f.snapshots[ownerID]
	if !ok {
		return nil, types.Errorf(types.ErrRecordNotFound, "owner: %s", ownerID)
	}
	return records, nil
}

func (f *fakeLocalStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func (f *fakeLocalStore) Start() error    { return nil }
func (f *fakeLocalStore) Stop() error     { return nil }
func (f *fakeLocalStore) IsRunning() bool { return true }

// slowCache simulates a cache that cannot answer within a tight deadline
// but still serves callers willing to wait.
type slowCache struct {
	types.CacheClient
	latency time.Duration
}

func (s *slowCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < s.latency {
		return nil, false
	}
	return s.CacheClient.Get(ctx, key)
}

func newTestEngineWithCache(t *testing.T, backend types.SyncBackend, cacheClient types.CacheClient, local types.LocalStore) *Engine {
	t.Helper()

	log := logger.NewZapWrapper(zap.NewNop())
	engine, err := NewEngine(context.Background(), log, &types.ServiceConfig{Sync: testSyncConfig()},
		backend, cacheClient, nil, nil, local, nil)
	require.NoError(t, err)

	require.NoError(t, engine.Start())
	t.Cleanup(func() { engine.Stop() })

	return engine
}

func ownerRecords(ownerID string, titles ...string) []*types.TodoRecord {
	records := make([]*types.TodoRecord, 0, len(titles))
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	for i, title := range titles {
		records = append(records, &types.TodoRecord{
			ID:        title,
			OwnerID:   ownerID,
			Title:     title,
			Status:    types.StatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return records
}

func TestReadTodosServedFromSharedCache(t *testing.T) {
	records := ownerRecords("alice", "one", "two")
	backend := &fakeBackend{
		fetchFn: func(ownerID string, opts types.FetchOptions) ([]*types.TodoRecord, error) {
			return records, nil
		},
	}
	engine := newTestEngine(t, backend, nil, nil)
	engine.collections.SetUserCollection(context.Background(), "alice", records)

	got, tier, err := engine.ReadTodos(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, types.TierSharedCache, tier)
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].ID)

	// The cached collection seeds local state.
	_, exists := engine.Get("one")
	assert.True(t, exists)
}

func TestReadTodosFallsThroughToAuthoritative(t *testing.T) {
	records := ownerRecords("alice", "one")
	backend := &fakeBackend{
		fetchFn: func(ownerID string, opts types.FetchOptions) ([]*types.TodoRecord, error) {
			return records, nil
		},
	}
	local := newFakeLocalStore()
	engine := newTestEngine(t, backend, nil, local)

	got, tier, err := engine.ReadTodos(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, types.TierAuthoritative, tier)
	require.Len(t, got, 1)

	// An authoritative read fans out to the shared cache and the snapshot.
	cached, ok := engine.collections.GetUserCollection(context.Background(), "alice")
	require.True(t, ok)
	assert.Len(t, cached, 1)
	assert.Equal(t, 1, local.saveCount())
}

func TestReadTodosAcceptsStaleCacheWhenBackendDown(t *testing.T) {
	log := logger.NewZapWrapper(zap.NewNop())
	inner, err := cache.NewMemoryCache(context.Background(), log, &types.CacheConfig{Type: "memory"})
	require.NoError(t, err)

	// Too slow for the fast tier, fine for the patient one.
	slow := &slowCache{CacheClient: inner, latency: 150 * time.Millisecond}

	backend := &fakeBackend{
		fetchFn: func(ownerID string, opts types.FetchOptions) ([]*types.TodoRecord, error) {
			return nil, types.ClassifyStatus(503, nil)
		},
	}
	engine := newTestEngineWithCache(t, backend, slow, nil)
	engine.collections.SetUserCollection(context.Background(), "alice", ownerRecords("alice", "stale"))

	got, tier, err := engine.ReadTodos(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, types.TierStaleCache, tier)
	require.Len(t, got, 1)
	assert.Equal(t, "stale", got[0].ID)
}

func TestReadTodosFallsBackToLocalSnapshot(t *testing.T) {
	backend := &fakeBackend{
		fetchFn: func(ownerID string, opts types.FetchOptions) ([]*types.TodoRecord, error) {
			return nil, types.ClassifyStatus(503, nil)
		},
	}
	local := newFakeLocalStore()
	local.snapshots["alice"] = ownerRecords("alice", "persisted")

	engine := newTestEngine(t, backend, nil, local)

	got, tier, err := engine.ReadTodos(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, types.TierLocalStore, tier)
	require.Len(t, got, 1)
	assert.Equal(t, "persisted", got[0].ID)
}

func TestReadTodosAllTiersExhausted(t *testing.T) {
	backend := &fakeBackend{
		fetchFn: func(ownerID string, opts types.FetchOptions) ([]*types.TodoRecord, error) {
			return nil, types.ClassifyStatus(503, nil)
		},
	}
	local := newFakeLocalStore()
	local.loadErr = types.ErrLocalStoreClosed

	engine := newTestEngine(t, backend, nil, local)

	_, tier, err := engine.ReadTodos(context.Background(), "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRetriesExhausted)
	assert.Empty(t, tier)
}

func TestScheduleRefetchDedupesPerOwner(t *testing.T) {
	engine := newTestEngine(t, &fakeBackend{}, nil, nil)

	engine.scheduleRefetch("alice")
	engine.scheduleRefetch("alice")
	engine.scheduleRefetch("bob")

	engine.refetchMu.Lock()
	defer engine.refetchMu.Unlock()
	assert.Len(t, engine.refetches, 2)
}
