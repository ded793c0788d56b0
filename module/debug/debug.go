// Package debug implements the debug capability module. It lets an agent
// trace selected tools: every dispatched call of a traced tool is logged and
// the most recent ones are shown in the live state.
package debug

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/logging"
	"github.com/hupe1980/swarmer/module"
	"github.com/hupe1980/swarmer/tool"
)

// Kind is the module kind of the debug module.
const Kind = "debug"

// DefaultHistory is the number of traces kept in memory.
const DefaultHistory = 10

const instructions = `Debug instructions:
- Use trace_tool to start tracing a tool, untrace_tool to stop and list_traced_tools to see what is traced.
- Traced calls with their arguments and results appear in your live state.`

type toolNameArgs struct {
	ToolName string `json:"tool_name" description:"Name of the tool"`
}

type state struct {
	ID     string   `json:"id"`
	Traced []string `json:"traced"`
}

// Module is the debug capability module.
type Module struct {
	id      string
	logger  logging.Logger
	history int
	tools   []*tool.Descriptor

	mu     sync.Mutex
	traced map[string]bool
	recent []module.CallRecord
}

// New creates a debug module keeping history recent traces.
func New(id string, logger logging.Logger, history int) *Module {
	if id == "" {
		id = uuid.NewString()
	}
	if history <= 0 {
		history = DefaultHistory
	}
	m := &Module{id: id, logger: logging.OrNoOp(logger), history: history, traced: make(map[string]bool)}
	m.tools = []*tool.Descriptor{
		tool.MustBind("trace_tool", "Start tracing calls of a tool.", m.trace),
		tool.MustBind("untrace_tool", "Stop tracing calls of a tool.", m.untrace),
		tool.MustBind("list_traced_tools", "List the tools currently traced.", m.list),
	}
	return m
}

// Factory is the module.Factory for the debug module.
func Factory(id string, deps module.Deps) (module.Module, error) {
	return New(id, deps.Logger, DefaultHistory), nil
}

func (m *Module) Kind() string              { return Kind }
func (m *Module) ID() string                { return m.id }
func (m *Module) Instructions() string      { return instructions }
func (m *Module) Tools() []*tool.Descriptor { return m.tools }

// ObserveCall implements module.CallObserver.
func (m *Module) ObserveCall(rec module.CallRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.traced[rec.Tool] {
		return
	}
	m.recent = append(m.recent, rec)
	if len(m.recent) > m.history {
		m.recent = m.recent[len(m.recent)-m.history:]
	}
	m.logger.Info("debug.tool.traced",
		"agent_id", rec.Caller.String(),
		"tool", rec.Tool,
		"call_id", rec.CallID,
		"arguments", rec.Arguments,
		"result", rec.Result,
		"failed", rec.Failed,
		"duration_ms", rec.Duration.Milliseconds(),
	)
}

// LiveState lists traced tools and recent traces.
func (m *Module) LiveState(core.Identity) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := m.tracedNames()
	if len(names) == 0 {
		return "Debug: no tools traced."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Debug: tracing %s", strings.Join(names, ", "))
	for _, rec := range m.recent {
		fmt.Fprintf(&b, "\n- %s(%s) -> %s", rec.Tool, rec.Arguments, rec.Result)
	}
	return b.String()
}

func (m *Module) trace(_ core.Identity, args toolNameArgs) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.traced[args.ToolName] {
		return fmt.Sprintf("Tool %s is already being traced", args.ToolName), nil
	}
	m.traced[args.ToolName] = true
	return fmt.Sprintf("Now tracing %s", args.ToolName), nil
}

func (m *Module) untrace(_ core.Identity, args toolNameArgs) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.traced[args.ToolName] {
		return fmt.Sprintf("Tool %s is not being traced", args.ToolName), nil
	}
	delete(m.traced, args.ToolName)
	return fmt.Sprintf("Stopped tracing %s", args.ToolName), nil
}

func (m *Module) list(core.Identity) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := m.tracedNames()
	if len(names) == 0 {
		return "No tools are currently being traced", nil
	}
	return "Currently tracing: " + strings.Join(names, ", "), nil
}

// tracedNames must be called with mu held.
func (m *Module) tracedNames() []string {
	names := make([]string, 0, len(m.traced))
	for n := range m.traced {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Serialize implements module.Module. Recent traces are runtime only.
func (m *Module) Serialize() (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.Marshal(state{ID: m.id, Traced: m.tracedNames()})
}

// Deserialize implements module.Module.
func (m *Module) Deserialize(_ core.Identity, raw json.RawMessage) error {
	var s state
	if err := module.DecodeState(Kind, raw, &s, "traced"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.traced = make(map[string]bool, len(s.Traced))
	for _, n := range s.Traced {
		m.traced[n] = true
	}
	m.recent = nil
	return nil
}
