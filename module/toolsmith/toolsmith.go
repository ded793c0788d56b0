// Package toolsmith implements the tool authoring capability module. Agents
// write new tools in JavaScript at runtime; each tool is compiled, executed
// in an isolated goja runtime with a time budget and registered as an agent
// level tool whose content hash covers its source.
package toolsmith

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/internal/util"
	"github.com/hupe1980/swarmer/logging"
	"github.com/hupe1980/swarmer/module"
	"github.com/hupe1980/swarmer/registry"
	"github.com/hupe1980/swarmer/tool"
)

// Kind is the module kind of the toolsmith module.
const Kind = "tool_creation"

const instructions = `Tool creation instructions:
- Use create_tool to write a new tool in JavaScript. The source must define function run(args) returning a string or a JSON value.
- Tools run isolated: no network, files, timers or modules, only the args object, a log(...) function and standard JavaScript.
- parameters is a JSON schema object describing args. Use update_tool to change a tool, remove_tool to delete it and list_authored_tools to see them.`

var validName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,63}$`)

// Definition is an authored tool as persisted.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Source      string         `json:"source"`
	Version     int            `json:"version"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type authorArgs struct {
	Name        string         `json:"name" description:"Tool name: letters, digits and underscores"`
	Description string         `json:"description" description:"What the tool does"`
	Source      string         `json:"source" description:"JavaScript source defining function run(args)"`
	Parameters  map[string]any `json:"parameters,omitempty" description:"JSON schema of the args object"`
}

type removeArgs struct {
	Name string `json:"name" description:"Name of the authored tool"`
}

type state struct {
	ID    string       `json:"id"`
	Tools []Definition `json:"tools"`
}

// Options configure the toolsmith module.
type Options struct {
	Timeout time.Duration
	Logger  logging.Logger
	Now     func() time.Time
}

// Module is the toolsmith capability module.
type Module struct {
	id      string
	reg     *registry.Registry
	sandbox *Sandbox
	opts    Options
	tools   []*tool.Descriptor

	// authorMu serializes create, update and remove from the existence
	// check through the commit. Parallel calls in one round share a module.
	authorMu sync.Mutex

	mu     sync.RWMutex
	defs   map[string]Definition
	order  []string
	hashes map[string]string
}

// New creates a toolsmith module. The registry is used to install authored
// tools on the calling agent.
func New(id string, reg *registry.Registry, optFns ...func(o *Options)) *Module {
	opts := Options{Timeout: 2 * time.Second, Logger: logging.NoOpLogger{}, Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if id == "" {
		id = uuid.NewString()
	}

	sandbox := NewSandbox(opts.Timeout)
	sandbox.Logger = opts.Logger

	m := &Module{
		id:      id,
		reg:     reg,
		sandbox: sandbox,
		opts:    opts,
		defs:    make(map[string]Definition),
		hashes:  make(map[string]string),
	}
	m.tools = []*tool.Descriptor{
		tool.MustBind("create_tool", "Create a new JavaScript tool available from the next step on.", m.create),
		tool.MustBind("update_tool", "Replace the source, description or parameters of an authored tool.", m.update),
		tool.MustBind("remove_tool", "Delete an authored tool.", m.remove),
		tool.MustBind("list_authored_tools", "List the tools you have authored.", m.list),
	}
	return m
}

// Factory returns a module.Factory using timeout for authored tool runs.
func Factory(timeout time.Duration) module.Factory {
	return func(id string, deps module.Deps) (module.Module, error) {
		return New(id, deps.Registry, func(o *Options) {
			o.Timeout = timeout
			o.Logger = deps.Logger
		}), nil
	}
}

func (m *Module) Kind() string              { return Kind }
func (m *Module) ID() string                { return m.id }
func (m *Module) Instructions() string      { return instructions }
func (m *Module) Tools() []*tool.Descriptor { return m.tools }

// Definitions returns the authored tools in creation order.
func (m *Module) Definitions() []Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Definition, 0, len(m.order))
	for _, n := range m.order {
		out = append(out, m.defs[n])
	}
	return out
}

// LiveState lists the authored tools.
func (m *Module) LiveState(core.Identity) string {
	defs := m.Definitions()
	if len(defs) == 0 {
		return "Authored tools: none."
	}
	lines := make([]string, len(defs))
	for i, d := range defs {
		lines[i] = fmt.Sprintf("- %s (v%d): %s", d.Name, d.Version, d.Description)
	}
	return "Authored tools:\n" + strings.Join(lines, "\n")
}

func (m *Module) create(caller core.Identity, args authorArgs) (string, error) {
	m.authorMu.Lock()
	defer m.authorMu.Unlock()

	m.mu.RLock()
	_, exists := m.defs[args.Name]
	m.mu.RUnlock()
	if exists {
		return "", fmt.Errorf("tool %s already exists, use update_tool", args.Name)
	}

	def := Definition{
		Name:        args.Name,
		Description: args.Description,
		Parameters:  args.Parameters,
		Source:      args.Source,
		Version:     1,
		UpdatedAt:   m.opts.Now().UTC(),
	}
	d, err := m.install(caller, def, "")
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.defs[def.Name] = def
	m.order = append(m.order, def.Name)
	m.hashes[def.Name] = d.Hash()
	m.mu.Unlock()

	m.opts.Logger.Info("toolsmith.tool.created", "agent_id", caller.String(), "tool", def.Name, "hash", d.Hash())
	return fmt.Sprintf("Created tool %s (hash %s)", def.Name, d.Hash()[:12]), nil
}

func (m *Module) update(caller core.Identity, args authorArgs) (string, error) {
	m.authorMu.Lock()
	defer m.authorMu.Unlock()

	m.mu.RLock()
	prev, exists := m.defs[args.Name]
	m.mu.RUnlock()
	if !exists {
		return "", fmt.Errorf("no authored tool named %s", args.Name)
	}

	def := prev
	if args.Description != "" {
		def.Description = args.Description
	}
	if args.Source != "" {
		def.Source = args.Source
	}
	if args.Parameters != nil {
		def.Parameters = args.Parameters
	}
	def.Version++
	def.UpdatedAt = m.opts.Now().UTC()

	d, err := m.install(caller, def, prev.Name)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.defs[def.Name] = def
	m.hashes[def.Name] = d.Hash()
	m.mu.Unlock()

	m.opts.Logger.Info("toolsmith.tool.updated", "agent_id", caller.String(), "tool", def.Name, "version", def.Version)
	return fmt.Sprintf("Updated tool %s to version %d", def.Name, def.Version), nil
}

func (m *Module) remove(caller core.Identity, args removeArgs) (string, error) {
	m.authorMu.Lock()
	defer m.authorMu.Unlock()

	m.mu.Lock()
	_, exists := m.defs[args.Name]
	if exists {
		delete(m.defs, args.Name)
		delete(m.hashes, args.Name)
		for i, n := range m.order {
			if n == args.Name {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()
	if !exists {
		return "", fmt.Errorf("no authored tool named %s", args.Name)
	}

	if host, err := m.host(caller); err == nil {
		host.UnregisterTool(args.Name)
	}
	return fmt.Sprintf("Removed tool %s", args.Name), nil
}

func (m *Module) list(core.Identity) (string, error) {
	defs := m.Definitions()
	if len(defs) == 0 {
		return "No custom tools available", nil
	}
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return "Authored tools: " + strings.Join(names, ", "), nil
}

// Hash returns the content hash of an authored tool.
func (m *Module) Hash(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hashes[name]
	return h, ok
}

// install validates and compiles def and registers it on the caller. When
// replace names an existing tool it is swapped out.
func (m *Module) install(caller core.Identity, def Definition, replace string) (*tool.Descriptor, error) {
	d, err := m.compile(def)
	if err != nil {
		return nil, err
	}

	host, err := m.host(caller)
	if err != nil {
		return nil, err
	}

	var previous *tool.Descriptor
	if replace != "" {
		previous, _ = host.Tool(replace)
		host.UnregisterTool(replace)
	}
	if err := host.RegisterTool(d); err != nil {
		if previous != nil {
			_ = host.RegisterTool(previous)
		}
		return nil, err
	}
	return d, nil
}

func (m *Module) compile(def Definition) (*tool.Descriptor, error) {
	if !validName.MatchString(def.Name) {
		return nil, fmt.Errorf("invalid tool name %q", def.Name)
	}
	if strings.TrimSpace(def.Source) == "" {
		return nil, fmt.Errorf("tool %s has no source", def.Name)
	}

	params := def.Parameters
	if params == nil {
		params = util.EmptySchema()
	} else if t, _ := params["type"].(string); t != "object" {
		return nil, fmt.Errorf("parameters of %s must be a JSON schema of type object", def.Name)
	}

	sc, err := m.sandbox.Compile(def.Name, def.Source)
	if err != nil {
		return nil, err
	}

	return tool.New(def.Name, def.Description, params, m.runner(def.Name, sc), func(o *tool.Options) {
		o.Source = def.Source
	})
}

func (m *Module) runner(name string, sc *Script) tool.Func {
	return func(ctx context.Context, caller core.Identity, args map[string]any) (string, error) {
		start := time.Now()
		out, err := m.sandbox.Run(ctx, sc, args)
		m.opts.Logger.Debug("toolsmith.tool.run", "agent_id", caller.String(), "tool", name, "duration_ms", time.Since(start).Milliseconds(), "error", err != nil)
		return out, err
	}
}

func (m *Module) host(caller core.Identity) (registry.Host, error) {
	if m.reg == nil {
		return nil, fmt.Errorf("toolsmith module has no registry")
	}
	return m.reg.Lookup(caller)
}

// Serialize implements module.Module. Compiled programs are never stored,
// only their sources.
func (m *Module) Serialize() (json.RawMessage, error) {
	return json.Marshal(state{ID: m.id, Tools: m.Definitions()})
}

// Deserialize recompiles every stored tool and registers it on the caller.
func (m *Module) Deserialize(caller core.Identity, raw json.RawMessage) error {
	var s state
	if err := module.DecodeState(Kind, raw, &s, "tools"); err != nil {
		return err
	}

	descs := make([]*tool.Descriptor, len(s.Tools))
	seen := make(map[string]struct{}, len(s.Tools))
	for i, def := range s.Tools {
		if _, dup := seen[def.Name]; dup {
			return fmt.Errorf("%w: %s: duplicate tool %s", core.ErrInvalidModuleState, Kind, def.Name)
		}
		seen[def.Name] = struct{}{}
		d, err := m.compile(def)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", core.ErrInvalidModuleState, Kind, err)
		}
		descs[i] = d
	}

	host, err := m.host(caller)
	if err != nil {
		return err
	}
	for _, d := range descs {
		if err := host.RegisterTool(d); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.defs = make(map[string]Definition, len(s.Tools))
	m.hashes = make(map[string]string, len(s.Tools))
	m.order = m.order[:0]
	for i, def := range s.Tools {
		m.defs[def.Name] = def
		m.hashes[def.Name] = descs[i].Hash()
		m.order = append(m.order, def.Name)
	}
	return nil
}
