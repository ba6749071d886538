package syncengine

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chronodo/chrono-sync/events"
	"github.com/chronodo/chrono-sync/types"
)

// BulkUpdate applies the patch to every selected record optimistically,
// then confirms against the backend: the batch endpoint first, and a
// bounded worker pool of per-item calls for whatever the batch could not
// settle. Only the failed subset is rolled back; bulk operations are
// atomic per item, never as a whole.
func (e *Engine) BulkUpdate(ctx context.Context, ownerID string, ids []string, patch types.TodoPatch) (*types.BulkResult, error) {
	if !e.IsRunning() {
		return nil, types.ErrEngineNotRunning
	}
	if len(ids) == 0 {
		return nil, types.ErrEmptySelection
	}
	if err := e.allow(ctx, ownerID); err != nil {
		return nil, err
	}

	result := &types.BulkResult{}
	applied := make(map[string]*pendingMutation, len(ids))

	for _, id := range ids {
		pending, err := e.state.applyUpdate(id, patch)
		if err != nil {
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, id)
			e.logger.Debug("Bulk update target skipped",
				zap.String("id", id),
				zap.Error(err))
			continue
		}
		applied[id] = pending
	}

	if len(applied) == 0 {
		return result, nil
	}

	remaining := e.tryBatchUpdate(ctx, applied, patch, result)

	e.runPool(ctx, remaining, result, func(itemCtx context.Context, id string) error {
		var updated *types.TodoRecord
		err := Retry(itemCtx, e.logger, e.policy, "bulk_update_item", func(ctx context.Context) error {
			attemptCtx, cancel := context.WithTimeout(ctx, e.config.WriteTimeout)
			defer cancel()

			var callErr error
			updated, callErr = e.backend.UpdateTodo(attemptCtx, id, patch)
			return callErr
		})
		if err != nil {
			return err
		}
		e.state.confirm(applied[id], updated)
		return nil
	}, applied)

	e.settleBulk(ctx, ownerID, types.MutationBulkUpdate, result)
	return result, nil
}

// BulkDelete removes the selected records optimistically and settles them
// the same way BulkUpdate does.
func (e *Engine) BulkDelete(ctx context.Context, ownerID string, ids []string) (*types.BulkResult, error) {
	if !e.IsRunning() {
		return nil, types.ErrEngineNotRunning
	}
	if len(ids) == 0 {
		return nil, types.ErrEmptySelection
	}
	if err := e.allow(ctx, ownerID); err != nil {
		return nil, err
	}

	result := &types.BulkResult{}
	applied := make(map[string]*pendingMutation, len(ids))

	for _, id := range ids {
		pending, err := e.state.applyDelete(id)
		if err != nil {
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, id)
			e.logger.Debug("Bulk delete target skipped",
				zap.String("id", id),
				zap.Error(err))
			continue
		}
		applied[id] = pending
	}

	if len(applied) == 0 {
		return result, nil
	}

	remaining := e.tryBulkDelete(ctx, applied, result)

	e.runPool(ctx, remaining, result, func(itemCtx context.Context, id string) error {
		err := Retry(itemCtx, e.logger, e.policy, "bulk_delete_item", func(ctx context.Context) error {
			attemptCtx, cancel := context.WithTimeout(ctx, e.config.WriteTimeout)
			defer cancel()

			return e.backend.DeleteTodo(attemptCtx, id)
		})
		if err != nil {
			return err
		}
		e.state.confirm(applied[id], nil)
		return nil
	}, applied)

	e.settleBulk(ctx, ownerID, types.MutationBulkDelete, result)
	return result, nil
}

// tryBatchUpdate settles as many targets as the batch endpoint confirms
// and returns the ids still needing individual calls. An unsupported or
// failed batch endpoint leaves everything to the pool.
func (e *Engine) tryBatchUpdate(ctx context.Context, applied map[string]*pendingMutation, patch types.TodoPatch, result *types.BulkResult) []string {
	ids := make([]string, 0, len(applied))
	for id := range applied {
		ids = append(ids, id)
	}

	batchCtx, cancel := context.WithTimeout(ctx, e.config.WriteTimeout)
	defer cancel()

	batch, err := e.backend.BatchUpdate(batchCtx, ids, patch)
	if err != nil {
		if !types.IsError(err, types.ErrBatchUnsupported) {
			e.logger.Warn("Batch update endpoint failed, falling back to worker pool",
				zap.Int("targets", len(ids)),
				zap.Error(err))
		}
		return ids
	}

	for _, id := range batch.UpdatedIDs {
		pending, ok := applied[id]
		if !ok {
			continue
		}
		e.state.confirm(pending, nil)
		result.Succeeded++
		delete(applied, id)
	}

	remaining := make([]string, 0, len(batch.FailedIDs))
	for _, id := range batch.FailedIDs {
		if _, ok := applied[id]; ok {
			remaining = append(remaining, id)
		}
	}
	return remaining
}

func (e *Engine) tryBulkDelete(ctx context.Context, applied map[string]*pendingMutation, result *types.BulkResult) []string {
	ids := make([]string, 0, len(applied))
	for id := range applied {
		ids = append(ids, id)
	}

	batchCtx, cancel := context.WithTimeout(ctx, e.config.WriteTimeout)
	defer cancel()

	batch, err := e.backend.BulkDelete(batchCtx, ids)
	if err != nil {
		if !types.IsError(err, types.ErrBatchUnsupported) {
			e.logger.Warn("Bulk delete endpoint failed, falling back to worker pool",
				zap.Int("targets", len(ids)),
				zap.Error(err))
		}
		return ids
	}

	for _, id := range batch.DeletedIDs {
		pending, ok := applied[id]
		if !ok {
			continue
		}
		e.state.confirm(pending, nil)
		result.Succeeded++
		delete(applied, id)
	}

	remaining := make([]string, 0, len(batch.FailedIDs))
	for _, id := range batch.FailedIDs {
		if _, ok := applied[id]; ok {
			remaining = append(remaining, id)
		}
	}
	return remaining
}

// runPool drives the per-item fallback with bounded concurrency. The pool
// belongs to this call alone; a failing item rolls back its own pending
// mutation and never cancels its siblings.
func (e *Engine) runPool(ctx context.Context, ids []string, result *types.BulkResult, settle func(ctx context.Context, id string) error, applied map[string]*pendingMutation) {
	if len(ids) == 0 {
		return
	}

	concurrency := e.config.BulkConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var mu sync.Mutex
	group := &errgroup.Group{}
	group.SetLimit(concurrency)

	for _, id := range ids {
		id := id
		group.Go(func() error {
			err := settle(ctx, id)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				e.state.rollback(applied[id])
				result.Failed++
				result.FailedIDs = append(result.FailedIDs, id)
				e.logger.Debug("Bulk item failed, rolled back",
					zap.String("id", id),
					zap.Error(err))
				return nil
			}

			result.Succeeded++
			return nil
		})
	}

	group.Wait()
}

func (e *Engine) settleBulk(ctx context.Context, ownerID string, kind types.MutationKind, result *types.BulkResult) {
	e.collections.InvalidateOwner(ctx, ownerID)
	e.collections.TouchActivity(ctx, ownerID)
	e.publish(events.NewActivityEvent(ownerID))

	e.logger.Info("Bulk operation settled",
		zap.String("kind", string(kind)),
		zap.String("owner_id", ownerID),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed))

	if e.metrics != nil {
		e.metrics.Counter("sync_mutations_total", map[string]string{
			"kind":   string(kind),
			"result": "settled",
		}).Inc()
	}
}
