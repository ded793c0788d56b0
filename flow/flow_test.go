package flow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/module"
	"github.com/hupe1980/swarmer/registry"
	"github.com/hupe1980/swarmer/tool"
)

// testHost is a minimal registry.Host backed by a tool.Set.
type testHost struct {
	id    core.Identity
	name  string
	tools *tool.Set
}

var _ registry.Host = (*testHost)(nil)

func newTestHost(t *testing.T, reg *registry.Registry, descs ...*tool.Descriptor) *testHost {
	t.Helper()
	h := &testHost{id: core.NewIdentity(), name: "tester", tools: tool.NewSet()}
	for _, d := range descs {
		_, err := h.tools.Add(d)
		require.NoError(t, err)
	}
	require.NoError(t, reg.Register(h.id, h))
	return h
}

func (h *testHost) Identity() core.Identity                   { return h.id }
func (h *testHost) Name() string                              { return h.name }
func (h *testHost) Tool(name string) (*tool.Descriptor, bool) { return h.tools.Get(name) }
func (h *testHost) RegisterTool(d *tool.Descriptor) error {
	_, err := h.tools.Add(d)
	return err
}
func (h *testHost) UnregisterTool(name string) bool { return h.tools.Remove(name) }
func (h *testHost) ModuleKinds() []string           { return nil }

// stubModule is a module with fixed text.
type stubModule struct {
	kind, instructions, live string
}

func (m *stubModule) Kind() string                                     { return m.kind }
func (m *stubModule) ID() string                                       { return m.kind + "-1" }
func (m *stubModule) Instructions() string                             { return m.instructions }
func (m *stubModule) LiveState(core.Identity) string                   { return m.live }
func (m *stubModule) Tools() []*tool.Descriptor                        { return nil }
func (m *stubModule) Serialize() (json.RawMessage, error)              { return json.RawMessage(`{}`), nil }
func (m *stubModule) Deserialize(core.Identity, json.RawMessage) error { return nil }

var _ module.Module = (*stubModule)(nil)

func sleepTool(name string, delay time.Duration, result string) *tool.Descriptor {
	return tool.MustNew(name, "sleeps then answers", nil, func(ctx context.Context, _ core.Identity, _ map[string]any) (string, error) {
		select {
		case <-time.After(delay):
			return result, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
}

func TestAssembler_Build(t *testing.T) {
	id := core.NewIdentity()
	pending := core.UserMessage("hello")
	echo := sleepTool("echo", 0, "x")

	turn := &Turn{
		Caller:       id,
		AgentName:    "Ada",
		Model:        "gpt-test",
		Constitution: "You are {{.name}}.",
		Modules: []module.Module{
			&stubModule{kind: "a", instructions: "A rules", live: "A state"},
			&stubModule{kind: "b", instructions: "", live: ""},
			&stubModule{kind: "c", instructions: "C rules", live: "C state"},
		},
		Log: []core.Message{
			core.UserMessage("earlier"),
			core.AssistantMessage("reply"),
		},
		Pending: &pending,
		Tools:   []*tool.Descriptor{echo},
	}

	req, err := NewAssembler().Build(turn)
	require.NoError(t, err)

	assert.Equal(t, "gpt-test", req.Model)
	require.Len(t, req.Messages, 5)
	assert.Equal(t, core.SystemMessage("You are Ada.\nA rules\nC rules"), req.Messages[0])
	assert.Equal(t, core.UserMessage("earlier"), req.Messages[1])
	assert.Equal(t, core.AssistantMessage("reply"), req.Messages[2])
	assert.Equal(t, core.SystemMessage("A state\nC state"), req.Messages[3])
	assert.Equal(t, pending, req.Messages[4])

	require.Len(t, req.Tools, 1)
	assert.Equal(t, "echo", req.Tools[0].Function.Name)
}

func TestAssembler_FollowUpRoundHasNoPending(t *testing.T) {
	turn := &Turn{
		Caller:       core.NewIdentity(),
		Constitution: "rules",
		Log:          []core.Message{core.UserMessage("q")},
	}

	req, err := NewAssembler().Build(turn)
	require.NoError(t, err)

	require.Len(t, req.Messages, 3)
	assert.Equal(t, "rules\n", req.Messages[0].Content)
	assert.Equal(t, core.RoleUser, req.Messages[1].Role)
	assert.Equal(t, core.SystemMessage(""), req.Messages[2])
	assert.Empty(t, req.Tools)
}

func TestAssembler_LogIsCopied(t *testing.T) {
	log := []core.Message{core.AssistantMessage("", core.ToolCall{ID: "1", Name: "x", Arguments: "{}"})}
	req, err := NewAssembler().Build(&Turn{Caller: core.NewIdentity(), Log: log})
	require.NoError(t, err)

	req.Messages[1].ToolCalls[0].Name = "changed"
	assert.Equal(t, "x", log[0].ToolCalls[0].Name)
}

func TestAssembler_InvalidConstitution(t *testing.T) {
	_, err := NewAssembler().Build(&Turn{Caller: core.NewIdentity(), Constitution: "{{.name"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instructions")
}

func TestDispatcher_PreservesCallOrder(t *testing.T) {
	reg := registry.New()
	h := newTestHost(t, reg,
		sleepTool("slow", 60*time.Millisecond, "slow done"),
		sleepTool("fast", 0, "fast done"),
		sleepTool("medium", 20*time.Millisecond, "medium done"),
	)

	calls := []core.ToolCall{
		{ID: "c1", Name: "slow", Arguments: "{}"},
		{ID: "c2", Name: "fast", Arguments: "{}"},
		{ID: "c3", Name: "medium", Arguments: ""},
	}

	start := time.Now()
	msgs := NewDispatcher(reg).Execute(context.Background(), h.id, calls, nil)
	elapsed := time.Since(start)

	require.Len(t, msgs, 3)
	assert.Equal(t, core.ToolMessage("c1", "slow", "slow done"), msgs[0])
	assert.Equal(t, core.ToolMessage("c2", "fast", "fast done"), msgs[1])
	assert.Equal(t, core.ToolMessage("c3", "medium", "medium done"), msgs[2])
	assert.Less(t, elapsed, 150*time.Millisecond, "calls should overlap")
}

func TestDispatcher_ErrorIsolation(t *testing.T) {
	reg := registry.New()
	h := newTestHost(t, reg,
		sleepTool("ok", 0, "fine"),
		tool.MustNew("boom", "fails", nil, func(context.Context, core.Identity, map[string]any) (string, error) {
			return "", errors.New("exploded")
		}),
		tool.MustNew("panics", "panics", nil, func(context.Context, core.Identity, map[string]any) (string, error) {
			panic("kaboom")
		}),
		tool.MustNew("empty", "returns nothing", nil, func(context.Context, core.Identity, map[string]any) (string, error) {
			return "", nil
		}),
		tool.MustNew("strict", "needs a name", map[string]any{
			"type":       "object",
			"properties": map[string]any{"name": map[string]any{"type": "string"}},
			"required":   []string{"name"},
		}, func(context.Context, core.Identity, map[string]any) (string, error) {
			return "unreachable", nil
		}),
	)

	calls := []core.ToolCall{
		{ID: "1", Name: "boom", Arguments: "{}"},
		{ID: "2", Name: "ok", Arguments: "{}"},
		{ID: "3", Name: "panics", Arguments: "{}"},
		{ID: "4", Name: "missing", Arguments: "{}"},
		{ID: "5", Name: "ok", Arguments: "{not json"},
		{ID: "6", Name: "empty", Arguments: "{}"},
		{ID: "7", Name: "strict", Arguments: "{}"},
	}

	var (
		mu      sync.Mutex
		records []module.CallRecord
	)
	msgs := NewDispatcher(reg).Execute(context.Background(), h.id, calls, func(rec module.CallRecord) {
		mu.Lock()
		defer mu.Unlock()
		records = append(records, rec)
	})

	require.Len(t, msgs, len(calls))
	for i, m := range msgs {
		assert.Equal(t, core.RoleTool, m.Role)
		assert.Equal(t, calls[i].ID, m.ToolCallID)
	}

	assert.Equal(t, "Error: exploded", msgs[0].Content)
	assert.Equal(t, "fine", msgs[1].Content)
	assert.Equal(t, "Error: panic: kaboom", msgs[2].Content)
	assert.Equal(t, "Error: unknown tool missing", msgs[3].Content)
	assert.True(t, strings.HasPrefix(msgs[4].Content, "Error: invalid arguments:"))
	assert.Equal(t, "Error: tool empty returned an empty result", msgs[5].Content)
	assert.True(t, strings.HasPrefix(msgs[6].Content, "Error: invalid arguments:"))

	require.Len(t, records, len(calls))
	failed := 0
	for _, rec := range records {
		if rec.Failed {
			failed++
		}
	}
	assert.Equal(t, 6, failed)
}

func TestDispatcher_Timeout(t *testing.T) {
	reg := registry.New()
	h := newTestHost(t, reg,
		tool.MustNew("hang", "never returns", nil, func(context.Context, core.Identity, map[string]any) (string, error) {
			time.Sleep(time.Second)
			return "late", nil
		}),
		sleepTool("ok", 0, "fine"),
	)

	d := NewDispatcher(reg, func(o *DispatcherOptions) { o.Timeout = 30 * time.Millisecond })

	start := time.Now()
	msgs := d.Execute(context.Background(), h.id, []core.ToolCall{
		{ID: "1", Name: "hang"},
		{ID: "2", Name: "ok"},
	}, nil)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, "Error: timed out", msgs[0].Content)
	assert.Equal(t, "fine", msgs[1].Content)
}

func TestDispatcher_Cancelled(t *testing.T) {
	reg := registry.New()
	h := newTestHost(t, reg, sleepTool("slow", time.Second, "late"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msgs := NewDispatcher(reg).Execute(ctx, h.id, []core.ToolCall{{ID: "1", Name: "slow"}}, nil)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Error: "+context.Canceled.Error(), msgs[0].Content)
}

func TestDispatcher_UnknownCaller(t *testing.T) {
	reg := registry.New()
	calls := []core.ToolCall{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}}

	msgs := NewDispatcher(reg).Execute(context.Background(), core.NewIdentity(), calls, nil)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.True(t, strings.HasPrefix(m.Content, "Error: "))
		assert.Contains(t, m.Content, core.ErrUnknownAgent.Error())
	}
}

func TestDispatcher_CallerInjected(t *testing.T) {
	reg := registry.New()
	var seen core.Identity
	h := newTestHost(t, reg, tool.MustNew("whoami", "returns caller", nil, func(_ context.Context, caller core.Identity, _ map[string]any) (string, error) {
		seen = caller
		return caller.String(), nil
	}))

	msgs := NewDispatcher(reg, func(o *DispatcherOptions) { o.MaxParallel = 1 }).
		Execute(context.Background(), h.id, []core.ToolCall{{ID: "1", Name: "whoami"}}, nil)

	assert.Equal(t, h.id, seen)
	assert.Equal(t, h.id.String(), msgs[0].Content)
}

func TestDispatcher_Empty(t *testing.T) {
	assert.Nil(t, NewDispatcher(registry.New()).Execute(context.Background(), core.NewIdentity(), nil, nil))
}
