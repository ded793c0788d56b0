// Package swarmer provides a high-level façade over agents, capability
// modules and snapshot persistence. Most applications interact with this
// package by:
//  1. Creating a Swarm via New() (optionally overriding the in‑memory store,
//     the model and the module catalog)
//  2. Creating agents (CreateAgent) or loading saved ones (GetOrLoad)
//  3. Running turns (RunTurn) and persisting state (Save, StartAutosave,
//     Shutdown)
//
// All defaults are safe for local development and testing; production
// deployments typically supply a durable snapshot store, a provider model
// and a structured logger.
package swarmer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/swarmer/agent"
	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/logging"
	"github.com/hupe1980/swarmer/model"
	"github.com/hupe1980/swarmer/module"
	"github.com/hupe1980/swarmer/module/clock"
	"github.com/hupe1980/swarmer/module/debug"
	"github.com/hupe1980/swarmer/module/memory"
	"github.com/hupe1980/swarmer/module/persona"
	"github.com/hupe1980/swarmer/module/toolsmith"
	"github.com/hupe1980/swarmer/registry"
	"github.com/hupe1980/swarmer/snapshot"
)

// DefaultAutosaveInterval is the period between background saves.
const DefaultAutosaveInterval = 20 * time.Second

// DefaultAuthoredToolTimeout bounds one run of an authored tool.
const DefaultAuthoredToolTimeout = 2 * time.Second

// Options configures the Swarm instance.
type Options struct {
	// Registry resolves agent identities. Defaults to a fresh registry.
	Registry *registry.Registry
	// Catalog creates modules by kind. Defaults to DefaultCatalog.
	Catalog *module.Catalog
	// Store persists snapshots. Defaults to an in-memory store.
	Store snapshot.Store
	// Model is the completion service shared by all agents. Defaults to an
	// echo model.
	Model model.Model
	// AgentOptions are applied to every created or loaded agent.
	AgentOptions []func(o *agent.Options)
	// DefaultModules lists the module kinds attached to new agents.
	DefaultModules []string
	// AutosaveInterval is used by StartAutosave. <=0 selects the default.
	AutosaveInterval time.Duration
	// MaxConcurrentTurns limits turns running at once across all agents.
	// 0 means no limit.
	MaxConcurrentTurns int
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Swarm manages the agents of one process.
type Swarm struct {
	opts   Options
	loader *snapshot.Loader
	sem    chan struct{}

	mu     sync.RWMutex
	agents map[core.Identity]*agent.Agent

	autosaveMu   sync.Mutex
	stopAutosave context.CancelFunc
	autosaveDone chan struct{}
}

// DefaultCatalog returns a catalog with every built-in module kind.
func DefaultCatalog() *module.Catalog {
	c := module.NewCatalog()
	c.Register(persona.Kind, persona.Factory)
	c.Register(memory.Kind, memory.Factory)
	c.Register(clock.Kind, clock.Factory)
	c.Register(debug.Kind, debug.Factory)
	c.Register(toolsmith.Kind, toolsmith.Factory(DefaultAuthoredToolTimeout))
	return c
}

// New creates a Swarm with optional overrides.
func New(optFns ...func(o *Options)) *Swarm {
	opts := Options{
		DefaultModules:   []string{persona.Kind, memory.Kind, clock.Kind},
		AutosaveInterval: DefaultAutosaveInterval,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Registry == nil {
		opts.Registry = registry.New()
	}
	if opts.Catalog == nil {
		opts.Catalog = DefaultCatalog()
	}
	if opts.Store == nil {
		opts.Store = snapshot.NewMemoryStore()
	}
	if opts.Model == nil {
		opts.Model = model.NewEchoModel()
	}
	if opts.AutosaveInterval <= 0 {
		opts.AutosaveInterval = DefaultAutosaveInterval
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	s := &Swarm{
		opts:   opts,
		agents: make(map[core.Identity]*agent.Agent),
		loader: &snapshot.Loader{
			Registry: opts.Registry,
			Catalog:  opts.Catalog,
			Model:    opts.Model,
			Logger:   opts.Logger,
		},
	}
	s.loader.AgentOptions = s.agentOptions()
	if opts.MaxConcurrentTurns > 0 {
		s.sem = make(chan struct{}, opts.MaxConcurrentTurns)
	}
	return s
}

// Registry returns the registry shared by the swarm's agents.
func (s *Swarm) Registry() *registry.Registry { return s.opts.Registry }

// CreateAgent creates an agent with the default modules attached and saves
// its first snapshot. If that save fails the agent is discarded.
func (s *Swarm) CreateAgent(ctx context.Context, name string, optFns ...func(o *agent.Options)) (*agent.Agent, error) {
	opts := s.agentOptions(optFns...)

	a, err := agent.New(name, s.opts.Model, s.opts.Registry, opts...)
	if err != nil {
		return nil, err
	}

	deps := module.Deps{Registry: s.opts.Registry, Logger: s.opts.Logger}
	for _, kind := range s.opts.DefaultModules {
		m, err := s.opts.Catalog.New(kind, "", deps)
		if err == nil {
			err = a.RegisterModule(m)
		}
		if err != nil {
			s.opts.Registry.Remove(a.Identity())
			return nil, err
		}
	}

	if err := s.save(ctx, a); err != nil {
		s.opts.Registry.Remove(a.Identity())
		return nil, err
	}

	s.mu.Lock()
	s.agents[a.Identity()] = a
	s.mu.Unlock()

	s.opts.Logger.Info("swarm.agent.created", "agent", name, "agent_id", a.Identity().String(), "modules", a.ModuleKinds())

	return a, nil
}

// Agent returns a live agent.
func (s *Swarm) Agent(id core.Identity) (*agent.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	return a, ok
}

// Agents returns the live agents in no particular order.
func (s *Swarm) Agents() []*agent.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*agent.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out
}

// GetOrLoad returns the live agent for id, loading its snapshot from the
// store if it is not in memory. A missing snapshot yields core.ErrUnknownAgent.
func (s *Swarm) GetOrLoad(ctx context.Context, id core.Identity) (*agent.Agent, error) {
	if a, ok := s.Agent(id); ok {
		return a, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.agents[id]; ok {
		return a, nil
	}

	data, err := s.opts.Store.Get(ctx, id)
	if errors.Is(err, snapshot.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownAgent, id)
	}
	if err != nil {
		return nil, err
	}

	snap, err := snapshot.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if snap.AgentID != id {
		return nil, fmt.Errorf("snapshot for %s carries identity %s", id, snap.AgentID)
	}

	a, err := s.loader.Load(snap)
	if err != nil {
		return nil, err
	}
	s.agents[id] = a

	return a, nil
}

// Save writes the snapshot of a live agent to the store.
func (s *Swarm) Save(ctx context.Context, id core.Identity) error {
	a, ok := s.Agent(id)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownAgent, id)
	}
	return s.save(ctx, a)
}

func (s *Swarm) save(ctx context.Context, a *agent.Agent) error {
	snap, err := snapshot.Save(a)
	if err != nil {
		return err
	}
	data, err := snapshot.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.opts.Store.Put(ctx, a.Identity(), data); err != nil {
		return fmt.Errorf("failed to store snapshot of %s: %w", a.Identity(), err)
	}
	s.opts.Logger.Debug("swarm.agent.saved", "agent_id", a.Identity().String(), "bytes", len(data))
	return nil
}

// SaveAll saves every live agent and joins the errors.
func (s *Swarm) SaveAll(ctx context.Context) error {
	return s.saveAll(ctx, false)
}

func (s *Swarm) saveAll(ctx context.Context, idleOnly bool) error {
	var errs []error
	for _, a := range s.Agents() {
		if idleOnly && a.State() != agent.StateIdle {
			continue
		}
		if err := s.save(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Remove forgets an agent: it leaves the registry and its snapshot is
// deleted. A missing snapshot is not an error.
func (s *Swarm) Remove(ctx context.Context, id core.Identity) error {
	s.mu.Lock()
	delete(s.agents, id)
	s.mu.Unlock()

	s.opts.Registry.Remove(id)

	if err := s.opts.Store.Delete(ctx, id); err != nil && !errors.Is(err, snapshot.ErrNotFound) {
		return err
	}
	s.opts.Logger.Info("swarm.agent.removed", "agent_id", id.String())
	return nil
}

// RunTurn runs one turn of the agent id, loading it if needed, and saves
// the agent afterwards.
func (s *Swarm) RunTurn(ctx context.Context, id core.Identity, input string) (string, error) {
	a, err := s.GetOrLoad(ctx, id)
	if err != nil {
		return "", err
	}

	if s.sem != nil {
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	reply, turnErr := a.RunTurn(ctx, input)
	if errors.Is(turnErr, core.ErrAgentBusy) {
		return "", turnErr
	}

	// Persist partial progress as well; the log stays well formed on failure.
	if err := s.save(context.WithoutCancel(ctx), a); err != nil {
		s.opts.Logger.Error("swarm.agent.save.failed", "agent_id", id.String(), "error", err.Error())
		if turnErr == nil {
			return reply, err
		}
	}
	return reply, turnErr
}

// StartAutosave periodically saves all idle agents until ctx is done or
// Shutdown is called. Calling it again restarts the loop.
func (s *Swarm) StartAutosave(ctx context.Context) {
	s.autosaveMu.Lock()
	defer s.autosaveMu.Unlock()

	s.stopAutosaveLocked()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.stopAutosave = cancel
	s.autosaveDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.opts.AutosaveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.saveAll(ctx, true); err != nil {
					s.opts.Logger.Warn("swarm.autosave.failed", "error", err.Error())
				}
			}
		}
	}()
}

func (s *Swarm) stopAutosaveLocked() {
	if s.stopAutosave == nil {
		return
	}
	s.stopAutosave()
	<-s.autosaveDone
	s.stopAutosave = nil
	s.autosaveDone = nil
}

// Shutdown stops autosave and saves every live agent.
func (s *Swarm) Shutdown(ctx context.Context) error {
	s.autosaveMu.Lock()
	s.stopAutosaveLocked()
	s.autosaveMu.Unlock()

	return s.SaveAll(ctx)
}

func (s *Swarm) agentOptions(extra ...func(o *agent.Options)) []func(o *agent.Options) {
	opts := make([]func(o *agent.Options), 0, len(s.opts.AgentOptions)+len(extra)+1)
	opts = append(opts, func(o *agent.Options) { o.Logger = s.opts.Logger })
	opts = append(opts, s.opts.AgentOptions...)
	return append(opts, extra...)
}
