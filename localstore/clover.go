package localstore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/chronodo/chrono-sync/types"
	"github.com/chronodo/chrono-sync/utils"
)

const snapshotCollection = "todo_snapshots"

// CloverStore persists the last known collection per owner so reads can
// fall back to it when both the shared cache and the backend are gone.
// One document per owner; a save replaces the previous snapshot.
type CloverStore struct {
	db      *clover.DB
	logger  types.Logger
	config  *types.LocalStoreConfig
	running int32
}

func NewCloverStore(ctx context.Context, logger types.Logger, config *types.LocalStoreConfig) (*CloverStore, error) {
	path := ""
	if config != nil {
		path = config.Path
	}

	db, err := clover.Open(path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open local store")
	}

	exists, err := db.HasCollection(snapshotCollection)
	if err != nil {
		db.Close()
		return nil, types.WrapError(err, "failed to check snapshot collection")
	}
	if !exists {
		if err := db.CreateCollection(snapshotCollection); err != nil {
			db.Close()
			return nil, types.WrapError(err, "failed to create snapshot collection")
		}
	}

	return &CloverStore{
		db:     db,
		logger: logger,
		config: config,
	}, nil
}

func (s *CloverStore) SaveSnapshot(ctx context.Context, ownerID string, records []*types.TodoRecord) error {
	if !s.IsRunning() {
		return types.ErrLocalStoreClosed
	}
	if ownerID == "" {
		return types.NewErrorf("owner id is empty")
	}

	payload, err := utils.Marshal(records)
	if err != nil {
		return types.WrapError(err, "failed to marshal snapshot")
	}

	query := s.db.Query(snapshotCollection).Where(clover.Field("owner_id").Eq(ownerID))
	if err := query.Delete(); err != nil {
		return types.WrapError(err, "failed to drop previous snapshot")
	}

	doc := clover.NewDocument()
	doc.Set("owner_id", ownerID)
	doc.Set("payload", string(payload))
	doc.Set("saved_at", time.Now().UnixNano())

	if err := s.db.Insert(snapshotCollection, doc); err != nil {
		return types.WrapError(err, "failed to insert snapshot")
	}

	s.logger.Debug("Snapshot persisted",
		zap.String("owner_id", ownerID),
		zap.Int("records", len(records)))
	return nil
}

func (s *CloverStore) LoadSnapshot(ctx context.Context, ownerID string) ([]*types.TodoRecord, error) {
	if !s.IsRunning() {
		return nil, types.ErrLocalStoreClosed
	}

	doc, err := s.db.Query(snapshotCollection).
		Where(clover.Field("owner_id").Eq(ownerID)).
		FindFirst()
	if err != nil {
		return nil, types.WrapError(err, "failed to query snapshot")
	}
	if doc == nil {
		return nil, types.Errorf(types.ErrRecordNotFound, "owner: %s", ownerID)
	}

	payload, ok := doc.Get("payload").(string)
	if !ok {
		return nil, types.NewErrorf("snapshot payload malformed for owner %s", ownerID)
	}

	var records []*types.TodoRecord
	if err := utils.Unmarshal([]byte(payload), &records); err != nil {
		return nil, types.WrapError(err, "failed to decode snapshot")
	}

	return records, nil
}

func (s *CloverStore) Start() error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	s.logger.Info("Local store started",
		zap.String("path", s.storePath()))
	return nil
}

func (s *CloverStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return types.ErrServerNotRunning
	}

	if err := s.db.Close(); err != nil {
		return types.WrapError(err, "failed to close local store")
	}

	s.logger.Info("Local store stopped")
	return nil
}

func (s *CloverStore) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

func (s *CloverStore) storePath() string {
	if s.config == nil || s.config.Path == "" {
		return "memory"
	}
	return s.config.Path
}
