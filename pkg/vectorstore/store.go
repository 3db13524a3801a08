// Package vectorstore owns the raw vector bytes and metadata for a single
// partition: a dimension-heterogeneous map of id -> (vector, metadata)
// with atomic file persistence. It has no search of its own; the
// linear-scan fallback over its entries is cluster.Store's.
package vectorstore

import (
	"sync"

	"github.com/N2FlowJS/nbase-sub001/pkg/dberrors"
	"github.com/N2FlowJS/nbase-sub001/pkg/observability"
)

// Entry pairs an id with its vector, the shape Iter and linear scans work
// with.
type Entry struct {
	ID       ID
	Vector   []float32
	Metadata map[string]any
}

// Config configures a Store.
type Config struct {
	// Dir is the partition's data directory (contains meta.json and
	// vec.bin). Empty disables persistence (in-memory only, useful for
	// tests).
	Dir         string
	Compression bool
	Logger      *observability.Logger
}

// Store holds vectors and metadata for one partition.
type Store struct {
	mu sync.RWMutex

	dir         string
	compression bool
	logger      *observability.Logger

	vectors  map[ID][]float32
	metadata map[ID]map[string]any
	order    []ID // insertion order, for deterministic Iter/save

	nextAutoID uint64
	closed     bool

	saveMu     sync.Mutex
	savingDone chan struct{} // non-nil while a save is in flight
	savingErr  error         // outcome of the in-flight save, readable once savingDone closes
}

// New creates an empty Store.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.GetGlobalLogger().WithField("component", "vectorstore")
	}
	return &Store{
		dir:         cfg.Dir,
		compression: cfg.Compression,
		logger:      logger,
		vectors:     make(map[ID][]float32),
		metadata:    make(map[ID]map[string]any),
	}
}

func (s *Store) checkOpen(op string) error {
	if s.closed {
		return dberrors.E(op, dberrors.Closed, dberrors.ErrClosed)
	}
	return nil
}

// Add stores vector under id, auto-assigning a strictly-increasing
// integer id when id is nil. Metadata may be nil.
func (s *Store) Add(id *ID, vector []float32, metadata map[string]any) (ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("vectorstore.add"); err != nil {
		return ID{}, err
	}
	if len(vector) == 0 {
		return ID{}, dberrors.E("vectorstore.add", dberrors.InvalidArgument, nil)
	}

	var assigned ID
	if id != nil {
		assigned = *id
	} else {
		assigned = IntID(s.nextAutoID)
		s.nextAutoID++
	}

	if _, exists := s.vectors[assigned]; !exists {
		s.order = append(s.order, assigned)
	}

	vecCopy := make([]float32, len(vector))
	copy(vecCopy, vector)
	s.vectors[assigned] = vecCopy

	if metadata != nil {
		s.metadata[assigned] = metadata
	}

	return assigned, nil
}

// BulkItem is one record in a BulkAdd call.
type BulkItem struct {
	ID       *ID
	Vector   []float32
	Metadata map[string]any
}

// BulkAdd inserts every item and returns the assigned ids in the same
// order as items, so a caller never needs to re-fetch by id to learn
// what was assigned.
func (s *Store) BulkAdd(items []BulkItem) ([]ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("vectorstore.bulk_add"); err != nil {
		return nil, err
	}

	ids := make([]ID, 0, len(items))
	for _, item := range items {
		if len(item.Vector) == 0 {
			return ids, dberrors.E("vectorstore.bulk_add", dberrors.InvalidArgument, nil)
		}

		var assigned ID
		if item.ID != nil {
			assigned = *item.ID
		} else {
			assigned = IntID(s.nextAutoID)
			s.nextAutoID++
		}

		if _, exists := s.vectors[assigned]; !exists {
			s.order = append(s.order, assigned)
		}

		vecCopy := make([]float32, len(item.Vector))
		copy(vecCopy, item.Vector)
		s.vectors[assigned] = vecCopy
		if item.Metadata != nil {
			s.metadata[assigned] = item.Metadata
		}

		ids = append(ids, assigned)
	}

	return ids, nil
}

// Get returns a copy of the stored vector, or (nil, false) if unknown.
func (s *Store) Get(id ID) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vectors[id]
	if !ok {
		return nil, false
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

// GetMetadata returns the latest committed metadata for id.
func (s *Store) GetMetadata(id ID) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.metadata[id]
	return m, ok
}

// Has reports whether id is present.
func (s *Store) Has(id ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.vectors[id]
	return ok
}

// Delete removes id. Returns false if it was not present.
func (s *Store) Delete(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vectors[id]; !ok {
		return false
	}
	delete(s.vectors, id)
	delete(s.metadata, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Update replaces id's vector, possibly with a different dimension
// (modeled as delete+add at the storage layer). Returns whether the
// dimension changed, so a caller that owns the event bus can emit
// vector:update with a dimension-change flag.
func (s *Store) Update(id ID, vector []float32) (dimensionChanged bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("vectorstore.update"); err != nil {
		return false, err
	}

	existing, ok := s.vectors[id]
	if !ok {
		return false, dberrors.E("vectorstore.update", dberrors.NotFound, dberrors.ErrNotFound)
	}

	dimensionChanged = len(existing) != len(vector)

	vecCopy := make([]float32, len(vector))
	copy(vecCopy, vector)
	s.vectors[id] = vecCopy

	return dimensionChanged, nil
}

// SetMetadata overwrites id's metadata wholesale.
func (s *Store) SetMetadata(id ID, value map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vectors[id]; !ok {
		return dberrors.E("vectorstore.set_metadata", dberrors.NotFound, dberrors.ErrNotFound)
	}
	s.metadata[id] = value
	return nil
}

// UpdateMetadataFunc applies fn to id's current metadata (nil if unset)
// and stores the result.
func (s *Store) UpdateMetadataFunc(id ID, fn func(current map[string]any) map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vectors[id]; !ok {
		return dberrors.E("vectorstore.update_metadata", dberrors.NotFound, dberrors.ErrNotFound)
	}
	s.metadata[id] = fn(s.metadata[id])
	return nil
}

// Iter returns a snapshot of all entries in insertion order.
func (s *Store) Iter() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, Entry{ID: id, Vector: s.vectors[id], Metadata: s.metadata[id]})
	}
	return out
}

// Size returns the number of stored vectors.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// Close marks the store closed; subsequent Add, BulkAdd and Update calls
// return Closed. Delete, SetMetadata and UpdateMetadataFunc do not check
// the closed flag.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
