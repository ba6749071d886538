package syncengine

import (
	"context"
	"strings"
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

func testSyncConfig() *types.SyncConfig {
	return &types.SyncConfig{
		BulkConcurrency: 2,
		MaxAttempts:     3,
		RetryBase:       time.Millisecond,
		RetryMaxDelay:   5 * time.Millisecond,
		FastReadTimeout: 100 * time.Millisecond,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		RefetchDelay:    time.Hour,
	}
}

// fakeBackend scripts backend behavior per call. Unset functions fall back
// to echoing the request, which is enough for the happy paths.
type fakeBackend struct {
	mu          sync.Mutex
	createCalls int
	updateCalls int
	deleteCalls int
	batchCalls  int
	bulkCalls   int
	fetchCalls  int

	createFn func(record *types.TodoRecord) (*types.TodoRecord, error)
	updateFn func(id string, patch types.TodoPatch) (*types.TodoRecord, error)
	deleteFn func(id string) error
	batchFn  func(ids []string, patch types.TodoPatch) (*types.BatchUpdateResult, error)
	bulkFn   func(ids []string) (*types.BulkDeleteResult, error)
	fetchFn  func(ownerID string, opts types.FetchOptions) ([]*types.TodoRecord, error)
}

func (f *fakeBackend) CreateTodo(ctx context.Context, record *types.TodoRecord) (*types.TodoRecord, error) {
	f.mu.Lock()
	f.createCalls++
	fn := f.createFn
	f.mu.Unlock()

	if fn != nil {
		return fn(record)
	}

	created := record.Clone()
	created.ID = "srv-" + record.ID
	return created, nil
}

func (f *fakeBackend) UpdateTodo(ctx context.Context, id string, patch types.TodoPatch) (*types.TodoRecord, error) {
	f.mu.Lock()
	f.updateCalls++
	fn := f.updateFn
	f.mu.Unlock()

	if fn != nil {
		return fn(id, patch)
	}

	updated := &types.TodoRecord{ID: id}
	patch.ApplyTo(updated)
	return updated, nil
}

func (f *fakeBackend) DeleteTodo(ctx context.Context, id string) error {
	f.mu.Lock()
	f.deleteCalls++
	fn := f.deleteFn
	f.mu.Unlock()

	if fn != nil {
		return fn(id)
	}
	return nil
}

func (f *fakeBackend) BatchUpdate(ctx context.Context, ids []string, patch types.TodoPatch) (*types.BatchUpdateResult, error) {
	f.mu.Lock()
	f.batchCalls++
	fn := f.batchFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ids, patch)
	}
	return nil, types.ErrBatchUnsupported
}

func (f *fakeBackend) BulkDelete(ctx context.Context, ids []string) (*types.BulkDeleteResult, error) {
	f.mu.Lock()
	f.bulkCalls++
	fn := f.bulkFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ids)
	}
	return nil, types.ErrBatchUnsupported
}

func (f *fakeBackend) FetchTodos(ctx context.Context, ownerID string, opts types.FetchOptions) ([]*types.TodoRecord, error) {
	f.mu.Lock()
	f.fetchCalls++
	fn := f.fetchFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ownerID, opts)
	}
	return []*types.TodoRecord{}, nil
}

func (f *fakeBackend) calls(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch kind {
	case "create":
		return f.createCalls
	case "update":
		return f.updateCalls
	case "delete":
		return f.deleteCalls
	case "batch":
		return f.batchCalls
	case "bulk":
		return f.bulkCalls
	case "fetch":
		return f.fetchCalls
	}
	return 0
}

// denyLimiter rejects everything.
type denyLimiter struct{}

func (d *denyLimiter) Check(ctx context.Context, identifier string, window time.Duration, maxRequests int64) types.RateLimitResult {
	return types.RateLimitResult{Allowed: false, ResetAt: time.Now().Add(window)}
}

func newTestEngine(t *testing.T, backend types.SyncBackend, limiter types.RateLimiter, local types.LocalStore) *Engine {
	t.Helper()

	log := logger.NewZapWrapper(zap.NewNop())
	cacheClient, err := cache.NewMemoryCache(context.Background(), log, &types.CacheConfig{Type: "memory"})
	require.NoError(t, err)

	engine, err := NewEngine(context.Background(), log, &types.ServiceConfig{
		Sync: testSyncConfig(),
		RateLimit: &types.RateLimitConfig{
			Enabled:     limiter != nil,
			Window:      time.Minute,
			MaxRequests: 100,
		},
	}, backend, cacheClient, limiter, nil, local, nil)
	require.NoError(t, err)

	require.NoError(t, engine.Start())
	t.Cleanup(func() { engine.Stop() })

	return engine
}

func seedRecord(engine *Engine, record *types.TodoRecord) {
	engine.state.ReplaceCollection(record.OwnerID, []*types.TodoRecord{record})
}

func TestCreateTodoSwapsTemporaryID(t *testing.T) {
	backend := &fakeBackend{
		createFn: func(record *types.TodoRecord) (*types.TodoRecord, error) {
			created := record.Clone()
			created.ID = "srv-1"
			return created, nil
		},
	}
	engine := newTestEngine(t, backend, nil, nil)

	var optimisticID string
	engine.OnChange(func(kind types.MutationKind, record *types.TodoRecord) {
		if kind == types.MutationCreate && optimisticID == "" {
			optimisticID = record.ID
		}
	})

	created, err := engine.CreateTodo(context.Background(), &types.TodoRecord{
		OwnerID: "alice",
		Title:   "write report",
	})
	require.NoError(t, err)

	assert.Equal(t, "srv-1", created.ID)
	assert.Equal(t, types.StatusPending, created.Status)
	assert.True(t, strings.HasPrefix(optimisticID, "tmp-"))

	// Exactly one record survives: the temporary id is gone.
	_, exists := engine.Get(optimisticID)
	assert.False(t, exists)
	_, exists = engine.Get("srv-1")
	assert.True(t, exists)
	assert.Len(t, engine.state.Collection("alice"), 1)
}

func TestCreateTodoRollbackRemovesOptimisticRecord(t *testing.T) {
	backend := &fakeBackend{
		createFn: func(record *types.TodoRecord) (*types.TodoRecord, error) {
			return nil, types.ClassifyStatus(400, nil)
		},
	}
	engine := newTestEngine(t, backend, nil, nil)

	_, err := engine.CreateTodo(context.Background(), &types.TodoRecord{
		OwnerID: "alice",
		Title:   "doomed",
	})
	require.Error(t, err)
	assert.Equal(t, types.ClassPermanent, types.ClassOf(err))

	// Permanent failures are never retried.
	assert.Equal(t, 1, backend.calls("create"))
	assert.Empty(t, engine.state.Collection("alice"))
}

func TestUpdateTodoRetriesTransientThenConfirms(t *testing.T) {
	record := &types.TodoRecord{ID: "t1", OwnerID: "alice", Title: "old", Status: types.StatusPending}

	var attempts int
	var mu sync.Mutex
	backend := &fakeBackend{
		updateFn: func(id string, patch types.TodoPatch) (*types.TodoRecord, error) {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()

			if n < 3 {
				return nil, types.ClassifyStatus(503, nil)
			}
			updated := record.Clone()
			patch.ApplyTo(updated)
			return updated, nil
		},
	}
	engine := newTestEngine(t, backend, nil, nil)
	seedRecord(engine, record)

	title := "new"
	updated, err := engine.UpdateTodo(context.Background(), "t1", types.TodoPatch{Title: &title})
	require.NoError(t, err)

	assert.Equal(t, 3, backend.calls("update"))
	assert.Equal(t, "new", updated.Title)

	current, exists := engine.Get("t1")
	require.True(t, exists)
	assert.Equal(t, "new", current.Title)
}

func TestUpdateTodoRollbackIsExact(t *testing.T) {
	due := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	record := &types.TodoRecord{
		ID:          "t1",
		OwnerID:     "alice",
		Title:       "original title",
		Description: "original description",
		Status:      types.StatusInProgress,
		Priority:    types.PriorityHigh,
		Tags:        []string{"deep", "work"},
		DueAt:       &due,
		CreatedAt:   time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
	}

	backend := &fakeBackend{
		updateFn: func(id string, patch types.TodoPatch) (*types.TodoRecord, error) {
			return nil, types.ClassifyStatus(500, nil)
		},
	}
	engine := newTestEngine(t, backend, nil, nil)
	seedRecord(engine, record)

	title := "changed"
	status := types.StatusDone
	_, err := engine.UpdateTodo(context.Background(), "t1", types.TodoPatch{Title: &title, Status: &status})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRetriesExhausted)
	assert.Equal(t, 3, backend.calls("update"))

	// The pre-mutation snapshot is restored field for field.
	restored, exists := engine.Get("t1")
	require.True(t, exists)
	assert.Equal(t, record, restored)
}

func TestDeleteTodoConfirmed(t *testing.T) {
	backend := &fakeBackend{}
	engine := newTestEngine(t, backend, nil, nil)
	seedRecord(engine, &types.TodoRecord{ID: "t1", OwnerID: "alice", Title: "done with this"})

	require.NoError(t, engine.DeleteTodo(context.Background(), "t1"))

	assert.Equal(t, 1, backend.calls("delete"))
	_, exists := engine.Get("t1")
	assert.False(t, exists)
}

func TestDeleteTodoRollbackRestoresRecord(t *testing.T) {
	backend := &fakeBackend{
		deleteFn: func(id string) error {
			return types.ClassifyStatus(502, nil)
		},
	}
	engine := newTestEngine(t, backend, nil, nil)
	seedRecord(engine, &types.TodoRecord{ID: "t1", OwnerID: "alice", Title: "sticky"})

	err := engine.DeleteTodo(context.Background(), "t1")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRetriesExhausted)

	restored, exists := engine.Get("t1")
	require.True(t, exists)
	assert.Equal(t, "sticky", restored.Title)
}

func TestMutationRateLimited(t *testing.T) {
	backend := &fakeBackend{}
	engine := newTestEngine(t, backend, &denyLimiter{}, nil)
	seedRecord(engine, &types.TodoRecord{ID: "t1", OwnerID: "alice", Title: "untouchable"})

	title := "nope"
	_, err := engine.UpdateTodo(context.Background(), "t1", types.TodoPatch{Title: &title})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRateLimitExceeded)
	assert.Equal(t, types.ClassRateLimited, types.ClassOf(err))

	// The backend is never consulted and local state stays untouched.
	assert.Equal(t, 0, backend.calls("update"))
	current, _ := engine.Get("t1")
	assert.Equal(t, "untouchable", current.Title)
}

func TestMutationConflictOnPendingRecord(t *testing.T) {
	backend := &fakeBackend{}
	engine := newTestEngine(t, backend, nil, nil)
	seedRecord(engine, &types.TodoRecord{ID: "t1", OwnerID: "alice"})

	// Simulate an in-flight mutation holding the record.
	title := "first"
	_, err := engine.state.applyUpdate("t1", types.TodoPatch{Title: &title})
	require.NoError(t, err)

	second := "second"
	_, err = engine.UpdateTodo(context.Background(), "t1", types.TodoPatch{Title: &second})
	assert.ErrorIs(t, err, types.ErrMutationConflict)
}

func TestMutationsRequireRunningEngine(t *testing.T) {
	log := logger.NewZapWrapper(zap.NewNop())
	cacheClient, err := cache.NewMemoryCache(context.Background(), log, &types.CacheConfig{Type: "memory"})
	require.NoError(t, err)

	engine, err := NewEngine(context.Background(), log, &types.ServiceConfig{Sync: testSyncConfig()},
		&fakeBackend{}, cacheClient, nil, nil, nil, nil)
	require.NoError(t, err)

	_, err = engine.CreateTodo(context.Background(), &types.TodoRecord{OwnerID: "alice"})
	assert.ErrorIs(t, err, types.ErrEngineNotRunning)

	_, _, err = engine.ReadTodos(context.Background(), "alice")
	assert.ErrorIs(t, err, types.ErrEngineNotRunning)
}
