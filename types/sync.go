package types

import (
	"context"
)

type FetchOptions struct {
	BypassCache  bool `json:"bypass_cache"`
	ForceRefresh bool `json:"force_refresh"`
}

// BatchUpdateResult reports per-id outcomes. Counts alone are not enough:
// the engine must know which ids to roll back, so backends have to name them.
type BatchUpdateResult struct {
	UpdatedIDs []string `json:"updated_ids"`
	FailedIDs  []string `json:"failed_ids"`
}

type BulkDeleteResult struct {
	DeletedIDs []string `json:"deleted_ids"`
	FailedIDs  []string `json:"failed_ids"`
}

// SyncBackend is the authoritative source of truth. Implementations carry
// their own deadlines; every error they return is classified.
type SyncBackend interface {
	CreateTodo(ctx context.Context, record *TodoRecord) (*TodoRecord, error)
	UpdateTodo(ctx context.Context, id string, patch TodoPatch) (*TodoRecord, error)
	DeleteTodo(ctx context.Context, id string) error
	BatchUpdate(ctx context.Context, ids []string, patch TodoPatch) (*BatchUpdateResult, error)
	BulkDelete(ctx context.Context, ids []string) (*BulkDeleteResult, error)
	FetchTodos(ctx context.Context, ownerID string, opts FetchOptions) ([]*TodoRecord, error)
}

type MutationKind string

const (
	MutationCreate     MutationKind = "create"
	MutationUpdate     MutationKind = "update"
	MutationDelete     MutationKind = "delete"
	MutationBulkUpdate MutationKind = "bulk_update"
	MutationBulkDelete MutationKind = "bulk_delete"
)

// BulkResult is the partial-success accounting for bulk operations.
// Bulk operations are atomic per item, never as a whole.
type BulkResult struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// ReadTier names the source a tiered read was ultimately served from.
type ReadTier string

const (
	TierSharedCache   ReadTier = "shared_cache"
	TierAuthoritative ReadTier = "authoritative"
	TierStaleCache    ReadTier = "stale_cache"
	TierLocalStore    ReadTier = "local_store"
)

// LocalStore is the client-persisted snapshot used as the last read tier.
type LocalStore interface {
	LifecycleManager
	SaveSnapshot(ctx context.Context, ownerID string, records []*TodoRecord) error
	LoadSnapshot(ctx context.Context, ownerID string) ([]*TodoRecord, error)
}
