// Package registry implements the agent registry: the shared mapping from
// agent identity to live agent through which every tool callable resolves its
// caller. A Registry is created once per process and passed explicitly to
// agents, the tool dispatcher, the snapshot loader and module factories.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/tool"
)

// Host is the view of an agent available to tools and modules. It lets a
// module reach the owning agent without holding a reference to it or to any
// sibling module.
type Host interface {
	Identity() core.Identity
	Name() string
	// Tool returns the agent level tool registered under name.
	Tool(name string) (*tool.Descriptor, bool)
	// RegisterTool adds an agent level tool. Same name and hash is a no-op,
	// a different hash fails with core.ErrToolNameCollision.
	RegisterTool(d *tool.Descriptor) error
	// UnregisterTool removes an agent level tool and reports whether it existed.
	UnregisterTool(name string) bool
	// ModuleKinds returns the kinds of the registered modules in order.
	ModuleKinds() []string
}

// Registry maps identities to hosts. Entries are never pruned implicitly.
// All methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	hosts map[core.Identity]Host
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{hosts: make(map[core.Identity]Host)}
}

// Register adds host under id. It fails with core.ErrDuplicateIdentity if id
// is already present.
func (r *Registry) Register(id core.Identity, host Host) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.hosts[id]; exists {
		return fmt.Errorf("%w: %s", core.ErrDuplicateIdentity, id)
	}
	r.hosts[id] = host
	return nil
}

// Lookup resolves id. It fails with core.ErrUnknownAgent if id is absent.
func (r *Registry) Lookup(id core.Identity) (Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	host, ok := r.hosts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownAgent, id)
	}
	return host, nil
}

// Remove deletes id and reports whether it was present.
func (r *Registry) Remove(id core.Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.hosts[id]; !ok {
		return false
	}
	delete(r.hosts, id)
	return true
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hosts)
}

// Identities returns all registered identities sorted by their string form.
func (r *Registry) Identities() []core.Identity {
	r.mu.RLock()
	ids := make([]core.Identity, 0, len(r.hosts))
	for id := range r.hosts {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
