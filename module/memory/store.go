package memory

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when a memory id does not exist.
var ErrNotFound = errors.New("memory not found")

// Entry is a single stored memory.
type Entry struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Importance int       `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store is a process-local memory store keyed by incremental ids.
//
// Concurrency: protected by RWMutex.
// Search: linear scan with case-insensitive substring matching. Suitable for
// the few hundred entries an agent keeps in its prompt; swap for a semantic
// index when memories outgrow the live state.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
	nextID  int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Add stores a new memory and returns it.
func (s *Store) Add(content string, importance int, now time.Time) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := Entry{
		ID:         fmt.Sprintf("mem_%d", s.nextID),
		Content:    content,
		Importance: importance,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.nextID++
	s.entries[e.ID] = e
	return e
}

// Update replaces the content and, when importance > 0, the importance.
func (s *Store) Update(id, content string, importance int, now time.Time) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if content != "" {
		e.Content = content
	}
	if importance > 0 {
		e.Importance = importance
	}
	e.UpdatedAt = now
	s.entries[id] = e
	return e, nil
}

// Delete removes a stored memory entry by id.
func (s *Store) Delete(id string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.entries, id)
	return e, nil
}

// Search returns up to limit memories containing query (all when query is
// empty), most important first. limit <= 0 means no limit.
func (s *Store) Search(query string, limit int) []Entry {
	q := strings.ToLower(strings.TrimSpace(query))
	all := s.List()

	results := make([]Entry, 0, len(all))
	for _, e := range all {
		if limit > 0 && len(results) >= limit {
			break
		}
		if q == "" || strings.Contains(strings.ToLower(e.Content), q) {
			results = append(results, e)
		}
	}
	return results
}

// List returns all memories ordered by importance (desc), then creation.
func (s *Store) List() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of stored memories.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) snapshot() (int, []Entry) {
	s.mu.RLock()
	next := s.nextID
	s.mu.RUnlock()
	return next, s.List()
}

func (s *Store) restore(next int, entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry, len(entries))
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	s.nextID = next
}
