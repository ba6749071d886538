package syncengine

import (
	"sort"
	"sync"
	"time"

	"github.com/chronodo/chrono-sync/types"
)

// ChangeListener observes local state transitions. Listeners run inline
// on the mutating goroutine and must be fast.
type ChangeListener func(kind types.MutationKind, record *types.TodoRecord)

// pendingMutation snapshots what a record looked like before an
// optimistic apply. The snapshot is nil for creates; rollback then means
// removal rather than restore.
type pendingMutation struct {
	id       string
	kind     types.MutationKind
	snapshot *types.TodoRecord
	issuedAt time.Time
}

// recordState is the session's local view of the data. Mutations apply
// here first and are confirmed or rolled back per record, so two in-flight
// mutations never fight over one id.
type recordState struct {
	mu        sync.RWMutex
	records   map[string]*types.TodoRecord
	pending   map[string]*pendingMutation
	listeners map[int]ChangeListener
	nextID    int
}

func newRecordState() *recordState {
	return &recordState{
		records:   make(map[string]*types.TodoRecord),
		pending:   make(map[string]*pendingMutation),
		listeners: make(map[int]ChangeListener),
	}
}

func (s *recordState) AddListener(listener ChangeListener) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.listeners[s.nextID] = listener
	return s.nextID
}

func (s *recordState) RemoveListener(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, id)
}

func (s *recordState) Get(id string) (*types.TodoRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[id]
	if !exists {
		return nil, false
	}
	return record.Clone(), true
}

// Collection returns the owner's records ordered by creation time, oldest
// first, matching what the authoritative API serves.
func (s *recordState) Collection(ownerID string) []*types.TodoRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*types.TodoRecord, 0, len(s.records))
	for _, record := range s.records {
		if record.OwnerID == ownerID {
			records = append(records, record.Clone())
		}
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records
}

// ReplaceCollection swaps in an authoritative read for the owner. Records
// with a pending mutation keep their optimistic value so a refresh never
// undoes an in-flight change.
func (s *recordState) ReplaceCollection(ownerID string, records []*types.TodoRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, record := range s.records {
		if record.OwnerID != ownerID {
			continue
		}
		if _, inFlight := s.pending[id]; inFlight {
			continue
		}
		delete(s.records, id)
	}

	for _, record := range records {
		if _, inFlight := s.pending[record.ID]; inFlight {
			continue
		}
		s.records[record.ID] = record.Clone()
	}
}

// applyCreate inserts the optimistic record under its temporary id.
func (s *recordState) applyCreate(record *types.TodoRecord) (*pendingMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, inFlight := s.pending[record.ID]; inFlight {
		return nil, types.Errorf(types.ErrMutationConflict, "id: %s", record.ID)
	}

	p := &pendingMutation{
		id:       record.ID,
		kind:     types.MutationCreate,
		issuedAt: time.Now(),
	}
	s.pending[record.ID] = p
	s.records[record.ID] = record.Clone()

	s.notify(types.MutationCreate, record)
	return p, nil
}

// applyUpdate patches the record in place, remembering the prior value.
func (s *recordState) applyUpdate(id string, patch types.TodoPatch) (*pendingMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[id]
	if !exists {
		return nil, types.Errorf(types.ErrRecordNotFound, "id: %s", id)
	}
	if _, inFlight := s.pending[id]; inFlight {
		return nil, types.Errorf(types.ErrMutationConflict, "id: %s", id)
	}

	p := &pendingMutation{
		id:       id,
		kind:     types.MutationUpdate,
		snapshot: record.Clone(),
		issuedAt: time.Now(),
	}
	s.pending[id] = p

	updated := record.Clone()
	patch.ApplyTo(updated)
	s.records[id] = updated

	s.notify(types.MutationUpdate, updated)
	return p, nil
}

// applyDelete removes the record optimistically.
func (s *recordState) applyDelete(id string) (*pendingMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[id]
	if !exists {
		return nil, types.Errorf(types.ErrRecordNotFound, "id: %s", id)
	}
	if _, inFlight := s.pending[id]; inFlight {
		return nil, types.Errorf(types.ErrMutationConflict, "id: %s", id)
	}

	p := &pendingMutation{
		id:       id,
		kind:     types.MutationDelete,
		snapshot: record.Clone(),
		issuedAt: time.Now(),
	}
	s.pending[id] = p
	delete(s.records, id)

	s.notify(types.MutationDelete, record)
	return p, nil
}

// confirm settles the pending mutation with the authoritative value.
// For creates the temporary id is dropped and the backend-assigned record
// takes its place; exactly one record survives.
func (s *recordState) confirm(p *pendingMutation, authoritative *types.TodoRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, p.id)

	switch p.kind {
	case types.MutationDelete:
		delete(s.records, p.id)
	case types.MutationCreate:
		delete(s.records, p.id)
		if authoritative != nil {
			s.records[authoritative.ID] = authoritative.Clone()
		}
	default:
		if authoritative != nil {
			s.records[authoritative.ID] = authoritative.Clone()
		}
	}

	if authoritative != nil {
		s.notify(p.kind, authoritative)
	}
}

// rollback restores the pre-mutation snapshot exactly.
func (s *recordState) rollback(p *pendingMutation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, p.id)

	if p.snapshot == nil {
		record := s.records[p.id]
		delete(s.records, p.id)
		if record != nil {
			s.notify(types.MutationDelete, record)
		}
		return
	}

	s.records[p.id] = p.snapshot.Clone()
	s.notify(types.MutationUpdate, p.snapshot)
}

// notify assumes s.mu is held; listeners get a clone so they cannot
// mutate state behind the lock.
func (s *recordState) notify(kind types.MutationKind, record *types.TodoRecord) {
	if len(s.listeners) == 0 {
		return
	}

	clone := record.Clone()
	for _, listener := range s.listeners {
		listener(kind, clone)
	}
}
