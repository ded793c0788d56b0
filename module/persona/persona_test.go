package persona

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/module"
	"github.com/hupe1980/swarmer/registry"
	"github.com/hupe1980/swarmer/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ module.Module = (*Module)(nil)

type host struct {
	id    core.Identity
	tools *tool.Set
}

func (h *host) Identity() core.Identity                   { return h.id }
func (h *host) Name() string                              { return "host" }
func (h *host) Tool(name string) (*tool.Descriptor, bool) { return h.tools.Get(name) }
func (h *host) RegisterTool(d *tool.Descriptor) error     { _, err := h.tools.Add(d); return err }
func (h *host) UnregisterTool(name string) bool           { return h.tools.Remove(name) }
func (h *host) ModuleKinds() []string                     { return []string{Kind} }

func setup(t *testing.T) (*registry.Registry, *host) {
	t.Helper()
	reg := registry.New()
	h := &host{id: core.NewIdentity(), tools: tool.NewSet()}
	require.NoError(t, reg.Register(h.id, h))
	return reg, h
}

func call(t *testing.T, m *Module, name string, caller core.Identity, args map[string]any) string {
	t.Helper()
	for _, d := range m.Tools() {
		if d.Name() == name {
			out, err := d.Call(context.Background(), caller, args)
			require.NoError(t, err)
			return out
		}
	}
	t.Fatalf("tool %s not found", name)
	return ""
}

func TestSetPersona(t *testing.T) {
	reg, h := setup(t)
	m := New("", reg, nil)
	assert.Contains(t, m.LiveState(h.id), "none active")

	out := call(t, m, "set_persona", h.id, map[string]any{"name": "Tutor", "description": "Patient tutor", "instruction": "Explain step by step"})
	assert.Equal(t, "Now acting as Tutor", out)

	p, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, "Tutor", p.Name)
	assert.Contains(t, m.LiveState(h.id), "Tutor")
}

func TestCreatePersona_RegistersSwitchTool(t *testing.T) {
	reg, h := setup(t)
	m := New("", reg, nil)

	out := call(t, m, "create_persona", h.id, map[string]any{"name": "Pirate Captain", "description": "Salty", "instruction": "Talk like a pirate"})
	require.Len(t, h.tools.Names(), 1)
	name := h.tools.Names()[0]
	assert.True(t, strings.HasPrefix(name, "become_pirate_captain_"))
	assert.Contains(t, out, name)
	assert.Len(t, strings.TrimPrefix(name, "become_pirate_captain_"), 16)

	_, ok := m.Active()
	assert.False(t, ok)

	sw, _ := h.tools.Get(name)
	res, err := sw.Call(context.Background(), h.id, nil)
	require.NoError(t, err)
	assert.Equal(t, "Now acting as Pirate Captain", res)

	p, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, "Pirate Captain", p.Name)
	assert.Contains(t, call(t, m, "list_personas", h.id, nil), "Pirate Captain")
}

func TestCreatePersona_UnknownCaller(t *testing.T) {
	reg, _ := setup(t)
	m := New("", reg, nil)

	d := m.Tools()[1]
	_, err := d.Call(context.Background(), core.NewIdentity(), map[string]any{"name": "x", "description": "y", "instruction": "z"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown agent")
	assert.Empty(t, m.Personas())
}

func TestRoundTrip_RestoresSwitchTools(t *testing.T) {
	reg, h := setup(t)
	m := New("persona-1", reg, nil)
	call(t, m, "create_persona", h.id, map[string]any{"name": "Poet", "description": "Lyrical", "instruction": "Rhyme"})
	call(t, m, "set_persona", h.id, map[string]any{"name": "Tutor", "description": "Patient", "instruction": "Explain"})

	raw, err := m.Serialize()
	require.NoError(t, err)

	reg2 := registry.New()
	h2 := &host{id: h.id, tools: tool.NewSet()}
	require.NoError(t, reg2.Register(h2.id, h2))

	restored := New("persona-1", reg2, nil)
	require.NoError(t, restored.Deserialize(h2.id, raw))

	assert.Equal(t, m.LiveState(h.id), restored.LiveState(h2.id))
	assert.Equal(t, h.tools.Names(), h2.tools.Names())

	orig, _ := h.tools.Get(h.tools.Names()[0])
	copyTool, _ := h2.tools.Get(h2.tools.Names()[0])
	assert.Equal(t, orig.Hash(), copyTool.Hash())
}

func TestDeserialize_InvalidState(t *testing.T) {
	reg, h := setup(t)
	m := New("", reg, nil)

	assert.ErrorIs(t, m.Deserialize(h.id, json.RawMessage(`{"id":"x"}`)), core.ErrInvalidModuleState)
	assert.ErrorIs(t, m.Deserialize(h.id, json.RawMessage(`{"personas":[{"id":""}]}`)), core.ErrInvalidModuleState)
}
