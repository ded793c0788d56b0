package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/swarmer/agent"
	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/model"
	"github.com/hupe1980/swarmer/module"
	"github.com/hupe1980/swarmer/module/clock"
	"github.com/hupe1980/swarmer/module/debug"
	"github.com/hupe1980/swarmer/module/memory"
	"github.com/hupe1980/swarmer/module/persona"
	"github.com/hupe1980/swarmer/module/toolsmith"
	"github.com/hupe1980/swarmer/registry"
)

func testCatalog() *module.Catalog {
	c := module.NewCatalog()
	c.Register(persona.Kind, persona.Factory)
	c.Register(memory.Kind, memory.Factory)
	c.Register(clock.Kind, clock.Factory)
	c.Register(debug.Kind, debug.Factory)
	c.Register(toolsmith.Kind, toolsmith.Factory(time.Second))
	return c
}

func call(t *testing.T, a *agent.Agent, name string, args map[string]any) string {
	t.Helper()
	d, ok := a.Tool(name)
	require.True(t, ok, "tool %s", name)
	out, err := d.Call(context.Background(), a.Identity(), args)
	require.NoError(t, err)
	return out
}

// reload saves a, encodes and decodes the snapshot, removes a from the
// registry and loads the snapshot again.
func reload(t *testing.T, reg *registry.Registry, a *agent.Agent) *agent.Agent {
	t.Helper()
	snap, err := Save(a)
	require.NoError(t, err)

	data, err := Marshal(snap)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	require.True(t, reg.Remove(a.Identity()))

	loader := &Loader{Registry: reg, Catalog: testCatalog(), Model: model.NewEchoModel()}
	restored, err := loader.Load(decoded)
	require.NoError(t, err)
	return restored
}

func TestRoundTrip_Persona(t *testing.T) {
	reg := registry.New()
	a, err := agent.New("Ada", model.NewEchoModel(), reg)
	require.NoError(t, err)
	require.NoError(t, a.RegisterModule(persona.New("", reg, nil)))

	call(t, a, "set_persona", map[string]any{"name": "Tutor", "description": "patient", "instruction": "explain simply"})

	restored := reload(t, reg, a)

	assert.Equal(t, a.Identity(), restored.Identity())
	assert.Contains(t, restored.LiveState(), "Tutor")
	assert.Equal(t, a.LiveState(), restored.LiveState())

	host, err := reg.Lookup(a.Identity())
	require.NoError(t, err)
	assert.Same(t, restored, host)
}

func TestRoundTrip_AllModules(t *testing.T) {
	reg := registry.New()
	llm := model.NewScriptedModel(model.Reply("hello"))
	a, err := agent.New("Ada", llm, reg, func(o *agent.Options) {
		o.Model = "gpt-test"
		o.TokenBudget = 1000
	})
	require.NoError(t, err)

	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, a.RegisterModule(persona.New("persona-1", reg, nil)))
	require.NoError(t, a.RegisterModule(memory.New("memory-1", func(o *memory.Options) { o.Now = func() time.Time { return fixed } })))
	require.NoError(t, a.RegisterModule(debug.New("debug-1", nil, 0)))
	require.NoError(t, a.RegisterModule(toolsmith.New("smith-1", reg)))

	_, err = a.RunTurn(context.Background(), "hi")
	require.NoError(t, err)

	call(t, a, "create_persona", map[string]any{"name": "Pirate", "description": "salty", "instruction": "talk like a pirate"})
	call(t, a, "remember", map[string]any{"content": "likes Go", "importance": 8})
	call(t, a, "trace_tool", map[string]any{"tool_name": "remember"})
	call(t, a, "create_tool", map[string]any{
		"name":        "shout",
		"description": "Upper-cases text",
		"source":      `function run(args) { return String(args.text).toUpperCase(); }`,
		"parameters": map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
		},
	})

	restored := reload(t, reg, a)

	assert.Equal(t, a.ModuleKinds(), restored.ModuleKinds())
	assert.Equal(t, a.LiveState(), restored.LiveState())
	assert.Equal(t, a.Instructions(), restored.Instructions())
	assert.Equal(t, a.Log(), restored.Log())
	assert.Equal(t, "gpt-test", restored.Model())
	assert.Equal(t, 1000, restored.TokenBudget())

	before := map[string]string{}
	for _, d := range a.Tools() {
		before[d.Name()] = d.Hash()
	}
	after := map[string]string{}
	for _, d := range restored.Tools() {
		after[d.Name()] = d.Hash()
	}
	assert.Equal(t, before, after)

	for _, m := range restored.Modules() {
		orig, ok := a.Module(m.Kind())
		require.True(t, ok)
		assert.Equal(t, orig.ID(), m.ID())
	}

	assert.Equal(t, "HELLO", call(t, restored, "shout", map[string]any{"text": "hello"}))
}

func TestLoad_UnlimitedBudgetSurvivesConfiguredDefault(t *testing.T) {
	reg := registry.New()
	a, err := agent.New("Ada", model.NewEchoModel(), reg)
	require.NoError(t, err)
	require.Equal(t, 0, a.TokenBudget())

	snap, err := Save(a)
	require.NoError(t, err)
	require.True(t, reg.Remove(a.Identity()))

	loader := &Loader{
		Registry: reg,
		Catalog:  testCatalog(),
		Model:    model.NewEchoModel(),
		AgentOptions: []func(o *agent.Options){func(o *agent.Options) {
			o.TokenBudget = 1000
			o.Model = "gpt-configured"
		}},
	}
	restored, err := loader.Load(snap)
	require.NoError(t, err)
	assert.Equal(t, 0, restored.TokenBudget())
	assert.Equal(t, "", restored.Model())
}

func TestLoad_UnknownModuleKindRollsBack(t *testing.T) {
	reg := registry.New()
	id := core.NewIdentity()
	snap := &Snapshot{
		Version:      Version,
		AgentID:      id,
		Name:         "ghost",
		ModuleStates: map[string]ModuleState{"crypto": {ID: "c", State: json.RawMessage(`{}`)}},
	}

	_, err := (&Loader{Registry: reg, Catalog: testCatalog()}).Load(snap)
	require.ErrorIs(t, err, core.ErrUnknownModuleKind)

	_, err = reg.Lookup(id)
	assert.ErrorIs(t, err, core.ErrUnknownAgent)
	assert.Equal(t, 0, reg.Len())
}

func TestLoad_InvalidModuleStateRollsBack(t *testing.T) {
	reg := registry.New()
	id := core.NewIdentity()
	snap := &Snapshot{
		Version: Version,
		AgentID: id,
		Name:    "broken",
		ModuleStates: map[string]ModuleState{
			persona.Kind: {ID: "p", State: json.RawMessage(`{"id":"p","personas":[]}`)},
			memory.Kind:  {ID: "m", State: json.RawMessage(`{"id":"m"}`)},
		},
		ModuleOrder: []string{persona.Kind, memory.Kind},
	}

	_, err := (&Loader{Registry: reg, Catalog: testCatalog()}).Load(snap)
	require.ErrorIs(t, err, core.ErrInvalidModuleState)
	assert.Equal(t, 0, reg.Len())
}

func TestLoad_DuplicateIdentity(t *testing.T) {
	reg := registry.New()
	a, err := agent.New("Ada", model.NewEchoModel(), reg)
	require.NoError(t, err)

	snap, err := Save(a)
	require.NoError(t, err)

	_, err = (&Loader{Registry: reg, Catalog: testCatalog()}).Load(snap)
	require.ErrorIs(t, err, core.ErrDuplicateIdentity)

	host, err := reg.Lookup(a.Identity())
	require.NoError(t, err)
	assert.Same(t, a, host, "failed load must not evict the live agent")
}

func TestUnmarshal_Validation(t *testing.T) {
	_, err := Unmarshal([]byte(`{"version":99}`))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`{"version":1}`))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`not json`))
	assert.Error(t, err)

	id := core.NewIdentity()
	doc := `{"version":1,"agent_id":"` + id.String() + `","name":"x","module_states":{},"module_order":["memory"]}`
	_, err = Unmarshal([]byte(doc))
	assert.Error(t, err)
}

func TestLoad_WithoutModuleOrder(t *testing.T) {
	reg := registry.New()
	id := core.NewIdentity()
	snap := &Snapshot{
		Version: Version,
		AgentID: id,
		Name:    "legacy",
		ModuleStates: map[string]ModuleState{
			memory.Kind: {ID: "m", State: json.RawMessage(`{"id":"m","next_id":1,"memories":[]}`)},
			clock.Kind:  {ID: "c", State: json.RawMessage(`{"id":"c"}`)},
		},
	}

	a, err := (&Loader{Registry: reg, Catalog: testCatalog()}).Load(snap)
	require.NoError(t, err)
	assert.Equal(t, []string{memory.Kind, clock.Kind}, a.ModuleKinds())
}

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	id1, id2 := core.NewIdentity(), core.NewIdentity()

	_, err := s.Get(ctx, id1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, id1), ErrNotFound)

	data := []byte(`{"version":1}`)
	require.NoError(t, s.Put(ctx, id1, data))
	require.NoError(t, s.Put(ctx, id2, []byte(`{}`)))

	data[0] = 'X'
	got, err := s.Get(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, `{"version":1}`, string(got))

	require.NoError(t, s.Put(ctx, id1, []byte(`{"version":2}`)))
	got, err = s.Get(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, `{"version":2}`, string(got))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.Identity{id1, id2}, ids)

	require.NoError(t, s.Delete(ctx, id1))
	ids, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.Identity{id2}, ids)
}

func TestMemoryStore(t *testing.T) {
	var _ Store = (*MemoryStore)(nil)
	testStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	testStore(t, s)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "not-an-id.json"), []byte("x"), 0o644))
	ids, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	s, err := NewRedisStore(ctx, RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer s.Close()

	testStore(t, s)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.True(t, mr.Exists(DefaultRedisPrefix+ids[0].String()))
	members, err := mr.Members(DefaultRedisPrefix + "index")
	require.NoError(t, err)
	assert.Equal(t, []string{ids[0].String()}, members)
}

func TestRedisStore_SnapshotRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := NewRedisStoreFromClient(client, "test:")

	reg := registry.New()
	a, err := agent.New("Ada", model.NewEchoModel(), reg)
	require.NoError(t, err)
	require.NoError(t, a.RegisterModule(memory.New("memory-1")))
	call(t, a, "remember", map[string]any{"content": "likes Go", "importance": 8})

	snap, err := Save(a)
	require.NoError(t, err)
	data, err := Marshal(snap)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, a.Identity(), data))
	assert.True(t, mr.Exists("test:"+a.Identity().String()))

	got, err := s.Get(ctx, a.Identity())
	require.NoError(t, err)
	decoded, err := Unmarshal(got)
	require.NoError(t, err)

	require.True(t, reg.Remove(a.Identity()))
	restored, err := (&Loader{Registry: reg, Catalog: testCatalog()}).Load(decoded)
	require.NoError(t, err)
	assert.Equal(t, a.LiveState(), restored.LiveState())

	require.NoError(t, s.Delete(ctx, a.Identity()))
	_, err = s.Get(ctx, a.Identity())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, a.Identity()), ErrNotFound)
}

func TestRedisStore_ServerErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	s, err := NewRedisStore(ctx, RedisConfig{Address: mr.Addr(), Prefix: "p:"})
	require.NoError(t, err)
	defer s.Close()

	mr.SetError("READONLY replica")
	_, err = s.Get(ctx, core.NewIdentity())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Error(t, s.Put(ctx, core.NewIdentity(), []byte(`{}`)))

	mr.SetError("")
	require.NoError(t, s.Put(ctx, core.NewIdentity(), []byte(`{}`)))
}

func TestNewRedisStore_RequiresAddress(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{})
	assert.Error(t, err)
}
