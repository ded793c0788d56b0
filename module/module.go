// Package module defines capability modules: independently testable units
// that contribute behavioral instructions, live state and tools to an agent.
//
// A module never references another module. Anything cross-cutting is routed
// through the owning agent, reachable as a registry.Host.
package module

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/logging"
	"github.com/hupe1980/swarmer/registry"
	"github.com/hupe1980/swarmer/tool"
)

// Module is a capability module. Tools are built once at construction as an
// explicit table; the caller identity is injected by the dispatcher.
type Module interface {
	// Kind identifies the module type. An agent holds at most one module per kind.
	Kind() string
	// ID is the module-local identifier preserved across save and load.
	ID() string
	// Instructions returns the behavioral instruction block.
	Instructions() string
	// LiveState renders the current state for the calling agent.
	LiveState(caller core.Identity) string
	// Tools returns the module's tool table.
	Tools() []*tool.Descriptor
	// Serialize produces the module's opaque payload.
	Serialize() (json.RawMessage, error)
	// Deserialize restores the payload. It runs after the module is
	// registered, so the caller is already resolvable in the registry.
	Deserialize(caller core.Identity, state json.RawMessage) error
}

// CallRecord describes one completed tool call.
type CallRecord struct {
	Caller    core.Identity
	CallID    string
	Tool      string
	Arguments string
	Result    string
	Failed    bool
	Duration  time.Duration
}

// CallObserver is implemented by modules that want to see every tool call
// dispatched for their agent.
type CallObserver interface {
	ObserveCall(rec CallRecord)
}

// Deps are the collaborators handed to module factories.
type Deps struct {
	Registry *registry.Registry
	Logger   logging.Logger
}

// Factory creates a module with the given id. An empty id asks the factory
// to generate a fresh one.
type Factory func(id string, deps Deps) (Module, error)

// Catalog maps module kinds to factories. It is safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for kind.
func (c *Catalog) Register(kind string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[kind] = f
}

// New creates a module of the given kind. Unknown kinds fail with
// core.ErrUnknownModuleKind.
func (c *Catalog) New(kind, id string, deps Deps) (Module, error) {
	c.mu.RLock()
	f, ok := c.factories[kind]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownModuleKind, kind)
	}

	if deps.Logger == nil {
		deps.Logger = logging.NoOpLogger{}
	}

	m, err := f(id, deps)
	if err != nil {
		return nil, fmt.Errorf("create module %s: %w", kind, err)
	}
	return m, nil
}

// Kinds returns the registered kinds sorted by name.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kinds := make([]string, 0, len(c.factories))
	for k := range c.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
