package snapshot

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hupe1980/swarmer/agent"
	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/logging"
	"github.com/hupe1980/swarmer/model"
	"github.com/hupe1980/swarmer/module"
	"github.com/hupe1980/swarmer/registry"
)

// Loader rebuilds agents from snapshots.
type Loader struct {
	Registry *registry.Registry
	Catalog  *module.Catalog
	Model    model.Model
	Logger   logging.Logger
	// AgentOptions are applied to every restored agent.
	AgentOptions []func(o *agent.Options)
}

// Load restores the agent described by snap. The agent is registered before
// any module payload is applied so module code can resolve it. On any
// failure the identity is removed from the registry again.
func (l *Loader) Load(snap *Snapshot) (a *agent.Agent, err error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}

	logger := logging.OrNoOp(l.Logger)

	order := snap.ModuleOrder
	if order == nil {
		for kind := range snap.ModuleStates {
			order = append(order, kind)
		}
		sort.Strings(order)
	}

	opts := append([]func(o *agent.Options){}, l.AgentOptions...)
	opts = append(opts, func(o *agent.Options) {
		if o.Logger == nil {
			o.Logger = l.Logger
		}
	})

	a, err = agent.Restore(agent.Header{
		ID:          snap.AgentID,
		Name:        snap.Name,
		Model:       snap.Model,
		TokenBudget: snap.TokenBudget,
		Usage:       snap.TokenUsage,
		Log:         snap.Log,
	}, l.Model, l.Registry, opts...)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			l.Registry.Remove(snap.AgentID)
			logger.Error("snapshot.load.failed", "agent_id", snap.AgentID.String(), "error", err.Error())
			a = nil
		}
	}()

	deps := module.Deps{Registry: l.Registry, Logger: logger}

	modules := make([]module.Module, 0, len(order))
	for _, kind := range order {
		m, err := l.Catalog.New(kind, snap.ModuleStates[kind].ID, deps)
		if err != nil {
			return nil, err
		}
		if err := a.RegisterModule(m); err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}

	for _, m := range modules {
		if err := m.Deserialize(a.Identity(), snap.ModuleStates[m.Kind()].State); err != nil {
			if !errors.Is(err, core.ErrInvalidModuleState) {
				err = fmt.Errorf("%w: %s: %v", core.ErrInvalidModuleState, m.Kind(), err)
			}
			return nil, err
		}
	}

	logger.Info("snapshot.loaded", "agent_id", snap.AgentID.String(), "agent", snap.Name, "modules", len(modules))

	return a, nil
}
