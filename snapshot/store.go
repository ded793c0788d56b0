package snapshot

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/hupe1980/swarmer/core"
)

// ErrNotFound is returned when no snapshot exists for an identity.
var ErrNotFound = errors.New("snapshot not found")

// Store persists encoded snapshots keyed by agent identity.
type Store interface {
	Put(ctx context.Context, id core.Identity, data []byte) error
	Get(ctx context.Context, id core.Identity) ([]byte, error)
	Delete(ctx context.Context, id core.Identity) error
	List(ctx context.Context) ([]core.Identity, error)
}

// MemoryStore is an in‑process Store useful for tests, examples and
// single‑process prototypes. Data is copied on put and get so callers cannot
// mutate stored buffers.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[core.Identity][]byte
}

// NewMemoryStore returns an empty in‑memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[core.Identity][]byte)}
}

// Put stores (or overwrites) the snapshot bytes for id.
func (s *MemoryStore) Put(_ context.Context, id core.Identity, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.snapshots[id] = cp
	return nil
}

// Get returns a copy of the stored bytes or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id core.Identity) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.snapshots[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Delete removes the snapshot if present or returns ErrNotFound.
func (s *MemoryStore) Delete(_ context.Context, id core.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[id]; !ok {
		return ErrNotFound
	}
	delete(s.snapshots, id)
	return nil
}

// List returns the stored identities sorted by their string form.
func (s *MemoryStore) List(_ context.Context) ([]core.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]core.Identity, 0, len(s.snapshots))
	for id := range s.snapshots {
		ids = append(ids, id)
	}
	sortIdentities(ids)
	return ids, nil
}

func sortIdentities(ids []core.Identity) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}
