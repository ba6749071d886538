package syncengine

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/chronodo/chrono-sync/types"
)

// ReadTodos resolves the owner's collection through the read tiers:
// a fast bounded read of the shared cache, the authoritative backend with
// retry, the cache again accepting possibly stale data, and finally the
// persisted local snapshot. Whichever tier answers, a delayed re-fetch is
// scheduled so the session converges back to fresh data on its own.
func (e *Engine) ReadTodos(ctx context.Context, ownerID string) ([]*types.TodoRecord, types.ReadTier, error) {
	if !e.IsRunning() {
		return nil, "", types.ErrEngineNotRunning
	}

	fastCtx, cancel := context.WithTimeout(ctx, e.config.FastReadTimeout)
	records, ok := e.collections.GetUserCollection(fastCtx, ownerID)
	cancel()
	if ok && len(records) > 0 {
		e.state.ReplaceCollection(ownerID, records)
		e.spawn(func() { e.refresh(ownerID) })
		e.scheduleRefetch(ownerID)
		e.recordRead(types.TierSharedCache)
		return records, types.TierSharedCache, nil
	}

	records, err := e.fetchAuthoritative(ctx, ownerID, types.FetchOptions{})
	if err == nil {
		e.scheduleRefetch(ownerID)
		e.recordRead(types.TierAuthoritative)
		return records, types.TierAuthoritative, nil
	}

	e.logger.Warn("Authoritative read failed, falling back to stale tiers",
		zap.String("owner_id", ownerID),
		zap.Error(err))

	records, ok = e.collections.GetUserCollection(ctx, ownerID)
	if ok && len(records) > 0 {
		e.state.ReplaceCollection(ownerID, records)
		e.scheduleRefetch(ownerID)
		e.recordRead(types.TierStaleCache)
		return records, types.TierStaleCache, nil
	}

	if e.local != nil {
		records, localErr := e.local.LoadSnapshot(ctx, ownerID)
		if localErr == nil && len(records) > 0 {
			e.state.ReplaceCollection(ownerID, records)
			e.scheduleRefetch(ownerID)
			e.recordRead(types.TierLocalStore)
			return records, types.TierLocalStore, nil
		}
		if localErr != nil {
			e.logger.Warn("Local snapshot read failed",
				zap.String("owner_id", ownerID),
				zap.Error(localErr))
		}
	}

	return nil, "", err
}

// fetchAuthoritative reads from the backend with retry and fans the
// result out to local state, the shared cache and the local snapshot.
func (e *Engine) fetchAuthoritative(ctx context.Context, ownerID string, opts types.FetchOptions) ([]*types.TodoRecord, error) {
	var records []*types.TodoRecord

	err := Retry(ctx, e.logger, e.policy, "fetch_todos", func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, e.config.ReadTimeout)
		defer cancel()

		var callErr error
		records, callErr = e.backend.FetchTodos(attemptCtx, ownerID, opts)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	e.state.ReplaceCollection(ownerID, records)
	e.collections.SetUserCollection(ctx, ownerID, records)

	if e.local != nil {
		if err := e.local.SaveSnapshot(ctx, ownerID, records); err != nil {
			e.logger.Warn("Failed to persist local snapshot",
				zap.String("owner_id", ownerID),
				zap.Error(err))
		}
	}

	return records, nil
}

// refresh is the non-blocking background convergence path used after a
// fast cache hit and by delayed re-fetches.
func (e *Engine) refresh(ownerID string) {
	refreshCtx, cancel := context.WithTimeout(e.ctx, e.config.ReadTimeout*time.Duration(e.policy.MaxAttempts))
	defer cancel()

	if _, err := e.fetchAuthoritative(refreshCtx, ownerID, types.FetchOptions{ForceRefresh: true}); err != nil {
		e.logger.Debug("Background refresh failed",
			zap.String("owner_id", ownerID),
			zap.Error(err))
	}
}

// scheduleRefetch arms one delayed re-fetch per owner. The delay is the
// configured base plus up to a third of jitter, so convergence lands in a
// loose window instead of a thundering herd.
func (e *Engine) scheduleRefetch(ownerID string) {
	e.refetchMu.Lock()
	if e.refetches[ownerID] {
		e.refetchMu.Unlock()
		return
	}
	e.refetches[ownerID] = true
	e.refetchMu.Unlock()

	delay := e.config.RefetchDelay
	if jitter := delay / 3; jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(jitter)))
	}

	e.spawn(func() {
		defer func() {
			e.refetchMu.Lock()
			delete(e.refetches, ownerID)
			e.refetchMu.Unlock()
		}()

		select {
		case <-e.ctx.Done():
			return
		case <-time.After(delay):
		}

		e.refresh(ownerID)
	})
}

// spawn tracks a background goroutine so Stop can wait for it.
func (e *Engine) spawn(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

func (e *Engine) recordRead(tier types.ReadTier) {
	if e.metrics == nil {
		return
	}
	e.metrics.Counter("sync_reads_total", map[string]string{
		"tier": string(tier),
	}).Inc()
}
