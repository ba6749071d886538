package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/chronodo/chrono-sync/types"
	"github.com/chronodo/chrono-sync/utils"
)

// CollectionCache wraps the raw client with the todo-collection namespace
// contract: shaped payloads on write, owner-scoped invalidation, absorbed
// failures. Every error here is logged and swallowed because the cache is
// never the authority.
type CollectionCache struct {
	client types.CacheClient
	logger types.Logger
}

func NewCollectionCache(client types.CacheClient, logger types.Logger) *CollectionCache {
	return &CollectionCache{
		client: client,
		logger: logger,
	}
}

func (cc *CollectionCache) SetUserCollection(ctx context.Context, ownerID string, records []*types.TodoRecord) {
	shaped := ShapeCollection(records)

	if err := cc.client.Set(ctx, UserTodosKey(ownerID), shaped, TTLUserTodos); err != nil {
		cc.logger.Warn("Failed to cache user collection",
			zap.String("owner_id", ownerID),
			zap.Error(err))
	}
}

func (cc *CollectionCache) GetUserCollection(ctx context.Context, ownerID string) ([]*types.TodoRecord, bool) {
	payload, ok := cc.client.Get(ctx, UserTodosKey(ownerID))
	if !ok {
		return nil, false
	}

	var records []*types.TodoRecord
	if err := utils.Unmarshal(payload, &records); err != nil {
		cc.logger.Warn("Failed to decode cached collection",
			zap.String("owner_id", ownerID),
			zap.Error(err))
		return nil, false
	}

	return records, true
}

// InvalidateOwner drops the owner's collection and derived stats after a
// confirmed mutation. Best effort by contract.
func (cc *CollectionCache) InvalidateOwner(ctx context.Context, ownerID string) {
	err := cc.client.Delete(ctx, UserTodosKey(ownerID), UserStatsKey(ownerID))
	if err != nil {
		cc.logger.Warn("Failed to invalidate owner cache keys",
			zap.String("owner_id", ownerID),
			zap.Error(err))
	}
}

func (cc *CollectionCache) TouchActivity(ctx context.Context, ownerID string) {
	if err := cc.client.Set(ctx, ActivityKey(ownerID), map[string]string{"owner_id": ownerID}, TTLActivity); err != nil {
		cc.logger.Debug("Failed to record activity ping",
			zap.String("owner_id", ownerID),
			zap.Error(err))
	}
}
