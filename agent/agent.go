package agent

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/flow"
	"github.com/hupe1980/swarmer/logging"
	"github.com/hupe1980/swarmer/model"
	"github.com/hupe1980/swarmer/module"
	"github.com/hupe1980/swarmer/registry"
	"github.com/hupe1980/swarmer/tool"
)

// Options configures an Agent instance.
//
// Use functional options with New or Restore to override defaults.
type Options struct {
	// Model is the provider model name sent with every request. Empty leaves
	// the choice to the model adapter. Restored agents keep their saved model.
	Model string
	// TokenBudget caps the total tokens an agent may consume. 0 disables it.
	// Restored agents keep their saved budget.
	TokenBudget int
	// Constitution is the immutable rule block that opens every request.
	Constitution string
	// MaxToolIterations bounds the tool rounds of one turn. 0 disables it.
	MaxToolIterations int
	// ToolTimeout bounds each tool call. <=0 disables it.
	ToolTimeout time.Duration
	// MaxParallelTools bounds concurrent tool calls per round. 0 means no limit.
	MaxParallelTools int
	// SystemTools are agent level tools installed at construction.
	SystemTools []*tool.Descriptor
	Logger      logging.Logger
}

// Header holds the scalar state of an agent: everything a snapshot stores
// besides module payloads.
type Header struct {
	ID          core.Identity
	Name        string
	Model       string
	TokenBudget int
	Usage       core.TokenUsage
	Log         []core.Message
}

// Agent owns a conversation, its modules and its token accounting.
//
// All exported methods are goroutine-safe. Only one turn runs at a time.
type Agent struct {
	id           core.Identity
	name         string
	llm          model.Model
	registry     *registry.Registry
	assembler    *flow.Assembler
	dispatcher   *flow.Dispatcher
	logger       logging.Logger
	constitution string
	maxToolIter  int

	mu          sync.RWMutex
	model       string
	tokenBudget int
	usage       core.TokenUsage
	log         []core.Message
	modules     []module.Module
	tools       *tool.Set

	busy  atomic.Bool
	state atomic.Int32
}

// New creates an agent with a fresh identity and registers it in reg. The
// registration error, if any, is returned unmodified.
func New(name string, llm model.Model, reg *registry.Registry, optFns ...func(o *Options)) (*Agent, error) {
	opts := resolveOptions(optFns)
	h := Header{ID: core.NewIdentity(), Name: name, Model: opts.Model, TokenBudget: opts.TokenBudget}
	return build(h, opts, llm, reg)
}

// Restore creates an agent from saved scalar state and registers it in reg
// under h.ID. Modules are not part of h; the caller re-attaches them. The
// model and token budget of h are used as saved, so Options.Model and
// Options.TokenBudget only apply to new agents.
func Restore(h Header, llm model.Model, reg *registry.Registry, optFns ...func(o *Options)) (*Agent, error) {
	return build(h, resolveOptions(optFns), llm, reg)
}

func resolveOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Constitution:      DefaultConstitution,
		MaxToolIterations: 10,
		ToolTimeout:       flow.DefaultToolTimeout,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

func build(h Header, opts Options, llm model.Model, reg *registry.Registry) (*Agent, error) {
	if h.ID.IsZero() {
		return nil, fmt.Errorf("agent %q has no identity", h.Name)
	}

	base := logging.OrNoOp(opts.Logger)
	logger := logging.With(base, "agent", h.Name, "agent_id", h.ID.String())

	a := &Agent{
		id:           h.ID,
		name:         h.Name,
		llm:          llm,
		registry:     reg,
		assembler:    flow.NewAssembler(),
		logger:       logger,
		constitution: opts.Constitution,
		maxToolIter:  opts.MaxToolIterations,
		model:        h.Model,
		tokenBudget:  h.TokenBudget,
		usage:        h.Usage,
		log:          core.CloneMessages(h.Log),
		tools:        tool.NewSet(),
	}

	a.dispatcher = flow.NewDispatcher(reg, func(o *flow.DispatcherOptions) {
		o.MaxParallel = opts.MaxParallelTools
		o.Timeout = opts.ToolTimeout
		o.Logger = base
	})

	for _, d := range opts.SystemTools {
		if _, err := a.tools.Add(d); err != nil {
			return nil, err
		}
	}

	if err := reg.Register(a.id, a); err != nil {
		return nil, err
	}

	logger.Debug("agent.created", "modules", 0, "tools", a.tools.Len())

	return a, nil
}

// Identity returns the agent's identity.
func (a *Agent) Identity() core.Identity { return a.id }

// Name returns the agent's display name.
func (a *Agent) Name() string { return a.name }

// Model returns the provider model name used for requests.
func (a *Agent) Model() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model
}

// SetModel changes the provider model name for subsequent requests.
func (a *Agent) SetModel(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = name
}

// TokenBudget returns the configured budget; 0 means unlimited.
func (a *Agent) TokenBudget() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tokenBudget
}

// Usage returns the cumulative token usage.
func (a *Agent) Usage() core.TokenUsage {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.usage
}

// Log returns a copy of the conversation log.
func (a *Agent) Log() []core.Message {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return core.CloneMessages(a.log)
}

// ClearLog empties the conversation log. It fails while a turn is running.
func (a *Agent) ClearLog() error {
	if !a.busy.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", core.ErrAgentBusy, a.name)
	}
	defer a.busy.Store(false)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.log = nil
	return nil
}

// Header returns the scalar state of the agent.
func (a *Agent) Header() Header {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Header{
		ID:          a.id,
		Name:        a.name,
		Model:       a.model,
		TokenBudget: a.tokenBudget,
		Usage:       a.usage,
		Log:         core.CloneMessages(a.log),
	}
}

// RegisterModule attaches m and installs its tools. A second module of the
// same kind fails with core.ErrDuplicateModuleKind. If any of the module's
// tools collides with an existing tool nothing is installed and the error
// wraps core.ErrToolNameCollision.
func (a *Agent) RegisterModule(m module.Module) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, existing := range a.modules {
		if existing.Kind() == m.Kind() {
			return fmt.Errorf("%w: %s", core.ErrDuplicateModuleKind, m.Kind())
		}
	}

	tools := m.Tools()
	seen := make(map[string]string, len(tools))
	for _, d := range tools {
		if hash, ok := seen[d.Name()]; ok && hash != d.Hash() {
			return fmt.Errorf("module %s: %w: %s", m.Kind(), core.ErrToolNameCollision, d.Name())
		}
		seen[d.Name()] = d.Hash()

		if err := a.tools.Check(d); err != nil {
			return fmt.Errorf("module %s: %w", m.Kind(), err)
		}
	}

	installed := make([]string, 0, len(tools))
	for _, d := range tools {
		added, err := a.tools.Add(d)
		if err != nil {
			// Only reachable if a tool was added concurrently since Check.
			for _, name := range installed {
				a.tools.Remove(name)
			}
			return fmt.Errorf("module %s: %w", m.Kind(), err)
		}
		if added {
			installed = append(installed, d.Name())
		}
	}

	a.modules = append(a.modules, m)

	a.logger.Debug("agent.module.registered", "kind", m.Kind(), "module_id", m.ID(), "tools", len(tools))

	return nil
}

// Modules returns the attached modules in registration order.
func (a *Agent) Modules() []module.Module {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]module.Module, len(a.modules))
	copy(out, a.modules)
	return out
}

// Module returns the attached module of the given kind.
func (a *Agent) Module(kind string) (module.Module, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, m := range a.modules {
		if m.Kind() == kind {
			return m, true
		}
	}
	return nil, false
}

// ModuleKinds returns the kinds of the attached modules in registration order.
func (a *Agent) ModuleKinds() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	kinds := make([]string, len(a.modules))
	for i, m := range a.modules {
		kinds[i] = m.Kind()
	}
	return kinds
}

// RegisterTool adds an agent level tool.
func (a *Agent) RegisterTool(d *tool.Descriptor) error {
	added, err := a.tools.Add(d)
	if err != nil {
		return err
	}
	if added {
		a.logger.Debug("agent.tool.registered", "tool", d.Name(), "hash", d.Hash())
	}
	return nil
}

// UnregisterTool removes a tool and reports whether it existed.
func (a *Agent) UnregisterTool(name string) bool {
	removed := a.tools.Remove(name)
	if removed {
		a.logger.Debug("agent.tool.unregistered", "tool", name)
	}
	return removed
}

// Tool returns the tool registered under name.
func (a *Agent) Tool(name string) (*tool.Descriptor, bool) { return a.tools.Get(name) }

// Tools returns all tools in registration order.
func (a *Agent) Tools() []*tool.Descriptor { return a.tools.List() }

// Constitution returns the unrendered constitution template.
func (a *Agent) Constitution() string { return a.constitution }

// Instructions returns the newline-joined instruction blocks of all modules.
func (a *Agent) Instructions() string {
	modules := a.Modules()
	blocks := make([]string, 0, len(modules))
	for _, m := range modules {
		if text := m.Instructions(); text != "" {
			blocks = append(blocks, text)
		}
	}
	return strings.Join(blocks, "\n")
}

// LiveState renders the current live state of all modules.
func (a *Agent) LiveState() string {
	return flow.RenderLiveState(a.id, a.Modules())
}
