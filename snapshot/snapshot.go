// Package snapshot saves agents into self-describing JSON documents and
// restores them.
//
// Tools are never serialized. A module persists only the data it needs to
// rebuild its tools, and the loader re-attaches fresh module instances before
// handing each of them its payload.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/swarmer/agent"
	"github.com/hupe1980/swarmer/core"
)

// Version is the snapshot format written by Save.
const Version = 1

// ModuleState is the persisted form of one module.
type ModuleState struct {
	// ID is the module-local identifier preserved across save and load.
	ID string `json:"id"`
	// State is the module's opaque payload.
	State json.RawMessage `json:"state"`
}

// Snapshot is the durable representation of an agent and its modules.
type Snapshot struct {
	Version      int                    `json:"version"`
	AgentID      core.Identity          `json:"agent_id"`
	Name         string                 `json:"name"`
	TokenBudget  int                    `json:"token_budget"`
	TokenUsage   core.TokenUsage        `json:"token_usage"`
	Model        string                 `json:"model,omitempty"`
	Log          []core.Message         `json:"log"`
	ModuleStates map[string]ModuleState `json:"module_states"`
	// ModuleOrder lists the module kinds in registration order.
	ModuleOrder []string  `json:"module_order,omitempty"`
	SavedAt     time.Time `json:"saved_at"`
}

// Save captures a's scalar state and every module payload.
func Save(a *agent.Agent) (*Snapshot, error) {
	h := a.Header()

	snap := &Snapshot{
		Version:      Version,
		AgentID:      h.ID,
		Name:         h.Name,
		TokenBudget:  h.TokenBudget,
		TokenUsage:   h.Usage,
		Model:        h.Model,
		Log:          h.Log,
		ModuleStates: make(map[string]ModuleState),
		SavedAt:      time.Now().UTC(),
	}
	if snap.Log == nil {
		snap.Log = []core.Message{}
	}

	for _, m := range a.Modules() {
		raw, err := m.Serialize()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize module %s: %w", m.Kind(), err)
		}
		snap.ModuleStates[m.Kind()] = ModuleState{ID: m.ID(), State: raw}
		snap.ModuleOrder = append(snap.ModuleOrder, m.Kind())
	}

	return snap, nil
}

// Marshal encodes snap as indented JSON.
func Marshal(snap *Snapshot) ([]byte, error) {
	return json.MarshalIndent(snap, "", "  ")
}

// Unmarshal decodes and validates a snapshot document.
func Unmarshal(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Validate checks the header fields and the consistency of ModuleOrder.
func (s *Snapshot) Validate() error {
	if s.Version != Version {
		return fmt.Errorf("unsupported snapshot version %d", s.Version)
	}
	if s.AgentID.IsZero() {
		return fmt.Errorf("snapshot has no agent_id")
	}
	if s.ModuleOrder == nil {
		return nil
	}
	if len(s.ModuleOrder) != len(s.ModuleStates) {
		return fmt.Errorf("module_order lists %d kinds but module_states has %d", len(s.ModuleOrder), len(s.ModuleStates))
	}
	for _, kind := range s.ModuleOrder {
		if _, ok := s.ModuleStates[kind]; !ok {
			return fmt.Errorf("module_order references %s without state", kind)
		}
	}
	return nil
}
