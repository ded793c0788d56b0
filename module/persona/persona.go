// Package persona implements the persona capability module. A persona is a
// named personality (description plus a system-prompt style instruction)
// that the agent can embody. Personas created at runtime get a dedicated
// agent level switch tool named become_<name>_<id>.
package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/logging"
	"github.com/hupe1980/swarmer/module"
	"github.com/hupe1980/swarmer/registry"
	"github.com/hupe1980/swarmer/tool"
)

// Kind is the module kind of the persona module.
const Kind = "persona"

const instructions = `Persona instructions:
- Stay consistent with the active persona's personality, tone and behavior.
- Use set_persona to adopt a persona right away, create_persona to add one you can switch to later.
- Only one persona switch may be called per response and it must be the last call.`

// Persona is a named personality.
type Persona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Instruction string `json:"instruction"`
}

type personaArgs struct {
	Name        string `json:"name" description:"Short name of the persona"`
	Description string `json:"description" description:"What characterizes this persona"`
	Instruction string `json:"instruction" description:"System prompt text defining the persona's personality and behavior"`
}

type state struct {
	ID       string    `json:"id"`
	Active   *Persona  `json:"active"`
	Personas []Persona `json:"personas"`
}

// Module is the persona capability module.
type Module struct {
	id     string
	reg    *registry.Registry
	logger logging.Logger
	tools  []*tool.Descriptor

	mu         sync.RWMutex
	active     *Persona
	collection map[string]Persona
	order      []string
}

// New creates a persona module. The registry is used to install switch tools
// on the calling agent.
func New(id string, reg *registry.Registry, logger logging.Logger) *Module {
	if id == "" {
		id = uuid.NewString()
	}
	m := &Module{
		id:         id,
		reg:        reg,
		logger:     logging.OrNoOp(logger),
		collection: make(map[string]Persona),
	}
	m.tools = []*tool.Descriptor{
		tool.MustBind("set_persona", "Adopt a persona immediately, replacing the active one.", m.setPersona),
		tool.MustBind("create_persona", "Register a new persona and a become_<name> tool to switch to it later.", m.createPersona),
		tool.MustBind("list_personas", "List the personas available to switch to.", m.listPersonas),
	}
	return m
}

// Factory is the module.Factory for the persona module.
func Factory(id string, deps module.Deps) (module.Module, error) {
	return New(id, deps.Registry, deps.Logger), nil
}

func (m *Module) Kind() string              { return Kind }
func (m *Module) ID() string                { return m.id }
func (m *Module) Instructions() string      { return instructions }
func (m *Module) Tools() []*tool.Descriptor { return m.tools }

// Active returns the active persona, if any.
func (m *Module) Active() (Persona, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return Persona{}, false
	}
	return *m.active, true
}

// Personas returns the created personas in creation order.
func (m *Module) Personas() []Persona {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Persona, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.collection[id])
	}
	return out
}

// LiveState renders the active persona and the available ones.
func (m *Module) LiveState(core.Identity) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder
	if m.active == nil {
		b.WriteString("Persona: none active.")
	} else {
		fmt.Fprintf(&b, "Persona: you are %s - %s\nPersona instruction: %s", m.active.Name, m.active.Description, m.active.Instruction)
	}

	if len(m.order) > 0 {
		names := make([]string, 0, len(m.order))
		for _, id := range m.order {
			p := m.collection[id]
			names = append(names, fmt.Sprintf("%s (%s)", p.Name, switchToolName(p)))
		}
		fmt.Fprintf(&b, "\nAvailable personas: %s", strings.Join(names, ", "))
	}
	return b.String()
}

func (m *Module) setPersona(_ core.Identity, args personaArgs) (string, error) {
	if strings.TrimSpace(args.Name) == "" {
		return "", fmt.Errorf("persona name must not be empty")
	}
	p := Persona{ID: uuid.NewString(), Name: args.Name, Description: args.Description, Instruction: args.Instruction}

	m.mu.Lock()
	m.active = &p
	m.mu.Unlock()

	return fmt.Sprintf("Now acting as %s", p.Name), nil
}

func (m *Module) createPersona(caller core.Identity, args personaArgs) (string, error) {
	if strings.TrimSpace(args.Name) == "" {
		return "", fmt.Errorf("persona name must not be empty")
	}
	p := Persona{ID: uuid.NewString(), Name: args.Name, Description: args.Description, Instruction: args.Instruction}

	d, err := m.installSwitchTool(caller, p)
	if err != nil {
		return "", fmt.Errorf("failed to create persona: %w", err)
	}

	m.mu.Lock()
	m.collection[p.ID] = p
	m.order = append(m.order, p.ID)
	m.mu.Unlock()

	m.logger.Info("persona.created", "agent_id", caller.String(), "persona", p.Name, "tool", d.Name())
	return fmt.Sprintf("Created persona with switch function name: %s", d.Name()), nil
}

func (m *Module) listPersonas(core.Identity) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.order) == 0 {
		return "No personas have been created", nil
	}
	lines := make([]string, 0, len(m.order))
	for _, id := range m.order {
		p := m.collection[id]
		lines = append(lines, fmt.Sprintf("- %s: %s (switch with %s)", p.Name, p.Description, switchToolName(p)))
	}
	return strings.Join(lines, "\n"), nil
}

// installSwitchTool registers the become_<name> tool on the calling agent.
func (m *Module) installSwitchTool(caller core.Identity, p Persona) (*tool.Descriptor, error) {
	if m.reg == nil {
		return nil, fmt.Errorf("persona module has no registry")
	}
	host, err := m.reg.Lookup(caller)
	if err != nil {
		return nil, err
	}

	d, err := tool.New(
		switchToolName(p),
		fmt.Sprintf("Switch to the %s persona. Only one persona switch can be called at a time and it must be the last call in the sequence.", p.Name),
		nil,
		m.switchTo(p.ID),
	)
	if err != nil {
		return nil, err
	}
	if err := host.RegisterTool(d); err != nil {
		return nil, err
	}
	return d, nil
}

func (m *Module) switchTo(personaID string) tool.Func {
	return func(_ context.Context, _ core.Identity, _ map[string]any) (string, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		p, ok := m.collection[personaID]
		if !ok {
			return "", fmt.Errorf("no persona found with id: %s", personaID)
		}
		m.active = &p
		return fmt.Sprintf("Now acting as %s", p.Name), nil
	}
}

// Serialize implements module.Module.
func (m *Module) Serialize() (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := state{ID: m.id, Active: m.active, Personas: make([]Persona, 0, len(m.order))}
	for _, id := range m.order {
		s.Personas = append(s.Personas, m.collection[id])
	}
	return json.Marshal(s)
}

// Deserialize restores the personas and reinstalls their switch tools on the
// calling agent.
func (m *Module) Deserialize(caller core.Identity, raw json.RawMessage) error {
	var s state
	if err := module.DecodeState(Kind, raw, &s, "personas"); err != nil {
		return err
	}
	for _, p := range s.Personas {
		if p.ID == "" || p.Name == "" {
			return fmt.Errorf("%w: %s: persona without id or name", core.ErrInvalidModuleState, Kind)
		}
	}

	m.mu.Lock()
	m.active = s.Active
	m.collection = make(map[string]Persona, len(s.Personas))
	m.order = m.order[:0]
	for _, p := range s.Personas {
		m.collection[p.ID] = p
		m.order = append(m.order, p.ID)
	}
	m.mu.Unlock()

	for _, p := range s.Personas {
		if _, err := m.installSwitchTool(caller, p); err != nil {
			return fmt.Errorf("restore persona %s: %w", p.Name, err)
		}
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9]+`)

// switchToolName derives become_<name>_<id16>, a valid function name for
// every supported provider.
func switchToolName(p Persona) string {
	slug := strings.Trim(unsafeChars.ReplaceAllString(strings.ToLower(p.Name), "_"), "_")
	if len(slug) > 32 {
		slug = slug[:32]
	}
	if slug == "" {
		slug = "persona"
	}
	id := strings.ReplaceAll(p.ID, "-", "")
	if len(id) > 16 {
		id = id[:16]
	}
	return fmt.Sprintf("become_%s_%s", slug, id)
}
