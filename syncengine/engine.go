package syncengine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chronodo/chrono-sync/cache"
	"github.com/chronodo/chrono-sync/events"
	"github.com/chronodo/chrono-sync/types"
)

// Engine orchestrates optimistic mutations against the authoritative
// backend. Every mutation walks Idle -> OptimisticallyApplied ->
// Confirmed | RolledBack: local state changes first, the backend call
// follows with retry, and on failure the pre-mutation snapshot is
// restored exactly. Cache and bus failures never fail a mutation.
type Engine struct {
	ctx         context.Context
	cancel      context.CancelFunc
	logger      types.Logger
	metrics     types.MetricsManager
	backend     types.SyncBackend
	collections *cache.CollectionCache
	limiter     types.RateLimiter
	bus         types.EventBus
	local       types.LocalStore
	state       *recordState
	config      *types.SyncConfig
	rateLimit   *types.RateLimitConfig
	policy      RetryPolicy

	refetchMu sync.Mutex
	refetches map[string]bool

	wg      sync.WaitGroup
	running int32
}

func NewEngine(
	ctx context.Context,
	logger types.Logger,
	config *types.ServiceConfig,
	backend types.SyncBackend,
	cacheClient types.CacheClient,
	limiter types.RateLimiter,
	bus types.EventBus,
	local types.LocalStore,
	metrics types.MetricsManager,
) (*Engine, error) {
	if backend == nil {
		return nil, types.NewErrorf("sync engine requires a backend")
	}
	if config.Sync == nil {
		return nil, types.NewErrorf("sync engine requires sync config")
	}

	engineCtx, cancel := context.WithCancel(ctx)

	return &Engine{
		ctx:         engineCtx,
		cancel:      cancel,
		logger:      logger,
		metrics:     metrics,
		backend:     backend,
		collections: cache.NewCollectionCache(cacheClient, logger),
		limiter:     limiter,
		bus:         bus,
		local:       local,
		state:       newRecordState(),
		config:      config.Sync,
		rateLimit:   config.RateLimit,
		policy: RetryPolicy{
			MaxAttempts: config.Sync.MaxAttempts,
			Base:        config.Sync.RetryBase,
			MaxDelay:    config.Sync.RetryMaxDelay,
		},
		refetches: make(map[string]bool),
	}, nil
}

// OnChange registers a local listener; the returned id feeds RemoveListener.
func (e *Engine) OnChange(listener ChangeListener) int {
	return e.state.AddListener(listener)
}

func (e *Engine) RemoveListener(id int) {
	e.state.RemoveListener(id)
}

func (e *Engine) Get(id string) (*types.TodoRecord, bool) {
	return e.state.Get(id)
}

func (e *Engine) CreateTodo(ctx context.Context, record *types.TodoRecord) (*types.TodoRecord, error) {
	if !e.IsRunning() {
		return nil, types.ErrEngineNotRunning
	}
	if err := e.allow(ctx, record.OwnerID); err != nil {
		return nil, err
	}

	optimistic := record.Clone()
	optimistic.ID = "tmp-" + uuid.NewString()
	now := time.Now()
	optimistic.CreatedAt = now
	optimistic.UpdatedAt = now
	if optimistic.Status == "" {
		optimistic.Status = types.StatusPending
	}

	pending, err := e.state.applyCreate(optimistic)
	if err != nil {
		return nil, err
	}

	var created *types.TodoRecord
	err = Retry(ctx, e.logger, e.policy, "create_todo", func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, e.config.WriteTimeout)
		defer cancel()

		var callErr error
		created, callErr = e.backend.CreateTodo(attemptCtx, optimistic)
		return callErr
	})
	if err != nil {
		e.state.rollback(pending)
		e.recordMutation(types.MutationCreate, "rolled_back")
		return nil, err
	}

	e.state.confirm(pending, created)
	e.settle(ctx, types.EventCreated, created)
	e.recordMutation(types.MutationCreate, "confirmed")
	return created.Clone(), nil
}

func (e *Engine) UpdateTodo(ctx context.Context, id string, patch types.TodoPatch) (*types.TodoRecord, error) {
	if !e.IsRunning() {
		return nil, types.ErrEngineNotRunning
	}

	current, exists := e.state.Get(id)
	if !exists {
		return nil, types.Errorf(types.ErrRecordNotFound, "id: %s", id)
	}
	if err := e.allow(ctx, current.OwnerID); err != nil {
		return nil, err
	}

	pending, err := e.state.applyUpdate(id, patch)
	if err != nil {
		return nil, err
	}

	var updated *types.TodoRecord
	err = Retry(ctx, e.logger, e.policy, "update_todo", func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, e.config.WriteTimeout)
		defer cancel()

		var callErr error
		updated, callErr = e.backend.UpdateTodo(attemptCtx, id, patch)
		return callErr
	})
	if err != nil {
		e.state.rollback(pending)
		e.recordMutation(types.MutationUpdate, "rolled_back")
		return nil, err
	}

	e.state.confirm(pending, updated)
	e.settle(ctx, types.EventUpdated, updated)
	e.recordMutation(types.MutationUpdate, "confirmed")
	return updated.Clone(), nil
}

func (e *Engine) DeleteTodo(ctx context.Context, id string) error {
	if !e.IsRunning() {
		return types.ErrEngineNotRunning
	}

	current, exists := e.state.Get(id)
	if !exists {
		return types.Errorf(types.ErrRecordNotFound, "id: %s", id)
	}
	if err := e.allow(ctx, current.OwnerID); err != nil {
		return err
	}

	pending, err := e.state.applyDelete(id)
	if err != nil {
		return err
	}

	err = Retry(ctx, e.logger, e.policy, "delete_todo", func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, e.config.WriteTimeout)
		defer cancel()

		return e.backend.DeleteTodo(attemptCtx, id)
	})
	if err != nil {
		e.state.rollback(pending)
		e.recordMutation(types.MutationDelete, "rolled_back")
		return err
	}

	e.state.confirm(pending, nil)
	e.settle(ctx, types.EventDeleted, current)
	e.recordMutation(types.MutationDelete, "confirmed")
	return nil
}

// allow consults the rate limiter before any backend mutation. Denials
// carry the rate-limited class and are never retried.
func (e *Engine) allow(ctx context.Context, ownerID string) error {
	if e.limiter == nil || e.rateLimit == nil || !e.rateLimit.Enabled {
		return nil
	}

	result := e.limiter.Check(ctx, ownerID, e.rateLimit.Window, e.rateLimit.MaxRequests)
	if result.Allowed {
		return nil
	}

	e.logger.Info("Mutation rate limited",
		zap.String("owner_id", ownerID),
		zap.Time("reset_at", result.ResetAt))
	return types.NewClassifiedError(types.ClassRateLimited, types.ErrRateLimitExceeded)
}

// settle is the confirm-side bookkeeping: owner cache invalidation,
// activity ping and event publication. All best effort.
func (e *Engine) settle(ctx context.Context, kind types.EventKind, record *types.TodoRecord) {
	e.collections.InvalidateOwner(ctx, record.OwnerID)
	e.collections.TouchActivity(ctx, record.OwnerID)
	e.publish(events.NewTodoEvent(kind, record.Clone()))
	e.publish(events.NewActivityEvent(record.OwnerID))
}

func (e *Engine) publish(event *types.Event) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(event.Channel, event); err != nil {
		e.logger.Warn("Failed to publish event",
			zap.String("channel", event.Channel),
			zap.Error(err))
	}
}

func (e *Engine) recordMutation(kind types.MutationKind, result string) {
	if e.metrics == nil {
		return
	}
	e.metrics.Counter("sync_mutations_total", map[string]string{
		"kind":   string(kind),
		"result": result,
	}).Inc()
}

func (e *Engine) Start() error {
	if !atomic.CompareAndSwapInt32(&e.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	e.logger.Info("Sync engine started",
		zap.Int("bulk_concurrency", e.config.BulkConcurrency),
		zap.Int("max_attempts", e.policy.MaxAttempts))
	return nil
}

func (e *Engine) Stop() error {
	if !atomic.CompareAndSwapInt32(&e.running, 1, 0) {
		return types.ErrServerNotRunning
	}

	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		e.logger.Warn("Sync engine background work shutdown timeout")
	}

	e.logger.Info("Sync engine stopped")
	return nil
}

func (e *Engine) IsRunning() bool {
	return atomic.LoadInt32(&e.running) == 1
}
