package tool

import (
	"fmt"
	"sync"

	"github.com/hupe1980/swarmer/core"
)

// Set is an ordered, concurrency safe tool table keyed by name. It is the
// per-agent tool registry.
type Set struct {
	mu    sync.RWMutex
	order []string
	tools map[string]*Descriptor
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{tools: make(map[string]*Descriptor)}
}

// Add registers d. Re-adding a tool with the same name and content hash is a
// no-op reported as added == false; a different hash under the same name
// fails with core.ErrToolNameCollision.
func (s *Set) Add(d *Descriptor) (added bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tools[d.name]; ok {
		if existing.hash == d.hash {
			return false, nil
		}
		return false, fmt.Errorf("%w: %s", core.ErrToolNameCollision, d.name)
	}

	s.tools[d.name] = d
	s.order = append(s.order, d.name)
	return true, nil
}

// Check reports whether d could be added without a collision.
func (s *Set) Check(d *Descriptor) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if existing, ok := s.tools[d.name]; ok && existing.hash != d.hash {
		return fmt.Errorf("%w: %s", core.ErrToolNameCollision, d.name)
	}
	return nil
}

// Remove deletes the tool with the given name and reports whether it existed.
func (s *Set) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tools[name]; !ok {
		return false
	}
	delete(s.tools, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the tool registered under name.
func (s *Set) Get(name string) (*Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.tools[name]
	return d, ok
}

// List returns the tools in registration order.
func (s *Set) List() []*Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Descriptor, len(s.order))
	for i, n := range s.order {
		out[i] = s.tools[n]
	}
	return out
}

// Names returns the tool names in registration order.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of registered tools.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.order)
}
