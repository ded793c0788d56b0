// Package memory implements the memory capability module: long-lived facts
// the agent chooses to remember, each rated by importance from 1 to 10 and
// always visible in the live state, most important first.
package memory

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/logging"
	"github.com/hupe1980/swarmer/module"
	"github.com/hupe1980/swarmer/tool"
)

// Kind is the module kind of the memory module.
const Kind = "memory"

const instructions = `Memory instructions:
- Remember facts worth keeping across conversations: user preferences, names, commitments, decisions.
- Rate importance from 1 (trivia) to 10 (critical) and keep memories short and self-contained.
- Update or forget memories that became wrong instead of storing contradictions.`

// Options configure the memory module.
type Options struct {
	// MaxLiveEntries caps the memories rendered in the live state. 0 renders all.
	MaxLiveEntries int
	// Now returns the current time.
	Now    func() time.Time
	Logger logging.Logger
}

type rememberArgs struct {
	Content    string `json:"content" description:"The fact to remember"`
	Importance int    `json:"importance" description:"Importance from 1 (low) to 10 (critical)"`
}

type recallArgs struct {
	Query string `json:"query,omitempty" description:"Case-insensitive text to search for; empty lists everything"`
	Limit int    `json:"limit,omitempty" description:"Maximum number of memories to return"`
}

type updateArgs struct {
	MemoryID   string `json:"memory_id" description:"ID of the memory to update"`
	Content    string `json:"content,omitempty" description:"New content"`
	Importance *int   `json:"importance,omitempty" description:"New importance from 1 to 10"`
}

type forgetArgs struct {
	MemoryID string `json:"memory_id" description:"ID of the memory to forget"`
}

type state struct {
	ID       string  `json:"id"`
	NextID   int     `json:"next_id"`
	Memories []Entry `json:"memories"`
}

// Module is the memory capability module.
type Module struct {
	id    string
	opts  Options
	store *Store
	tools []*tool.Descriptor
}

// New creates a memory module.
func New(id string, optFns ...func(o *Options)) *Module {
	opts := Options{MaxLiveEntries: 50, Now: time.Now, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if id == "" {
		id = uuid.NewString()
	}

	m := &Module{id: id, opts: opts, store: NewStore()}
	m.tools = []*tool.Descriptor{
		tool.MustBind("remember", "Store a new memory with an importance from 1 to 10.", m.remember),
		tool.MustBind("recall", "Search stored memories, most important first.", m.recall),
		tool.MustBind("update_memory", "Change the content or importance of a memory.", m.update),
		tool.MustBind("forget", "Delete a memory.", m.forget),
	}
	return m
}

// Factory is the module.Factory for the memory module.
func Factory(id string, deps module.Deps) (module.Module, error) {
	return New(id, func(o *Options) { o.Logger = deps.Logger }), nil
}

func (m *Module) Kind() string              { return Kind }
func (m *Module) ID() string                { return m.id }
func (m *Module) Instructions() string      { return instructions }
func (m *Module) Tools() []*tool.Descriptor { return m.tools }

// Store exposes the underlying store.
func (m *Module) Store() *Store { return m.store }

// LiveState lists memories by importance.
func (m *Module) LiveState(core.Identity) string {
	entries := m.store.List()
	if len(entries) == 0 {
		return "Memories: none yet."
	}

	shown := entries
	if m.opts.MaxLiveEntries > 0 && len(shown) > m.opts.MaxLiveEntries {
		shown = shown[:m.opts.MaxLiveEntries]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Memories (%d):", len(entries))
	for _, e := range shown {
		fmt.Fprintf(&b, "\n- %s (ID: %s, Importance: %d)", e.Content, e.ID, e.Importance)
	}
	if len(shown) < len(entries) {
		fmt.Fprintf(&b, "\n(%d less important memories hidden, use recall)", len(entries)-len(shown))
	}
	return b.String()
}

func (m *Module) remember(caller core.Identity, args rememberArgs) (string, error) {
	if strings.TrimSpace(args.Content) == "" {
		return "", fmt.Errorf("memory content must not be empty")
	}
	if err := checkImportance(args.Importance); err != nil {
		return "", err
	}

	e := m.store.Add(args.Content, args.Importance, m.opts.Now())
	m.opts.Logger.Debug("memory.added", "agent_id", caller.String(), "memory_id", e.ID, "importance", e.Importance)
	return fmt.Sprintf("Added new memory %s: %s (Importance: %d)", e.ID, e.Content, e.Importance), nil
}

func (m *Module) recall(_ core.Identity, args recallArgs) (string, error) {
	found := m.store.Search(args.Query, args.Limit)
	if len(found) == 0 {
		return "No matching memories found", nil
	}
	lines := make([]string, len(found))
	for i, e := range found {
		lines[i] = fmt.Sprintf("- %s (ID: %s, Importance: %d)", e.Content, e.ID, e.Importance)
	}
	return fmt.Sprintf("Found %d memories:\n%s", len(found), strings.Join(lines, "\n")), nil
}

func (m *Module) update(_ core.Identity, args updateArgs) (string, error) {
	importance := 0
	if args.Importance != nil {
		if err := checkImportance(*args.Importance); err != nil {
			return "", err
		}
		importance = *args.Importance
	}
	e, err := m.store.Update(args.MemoryID, args.Content, importance, m.opts.Now())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Updated memory %s: %s (Importance: %d)", e.ID, e.Content, e.Importance), nil
}

func (m *Module) forget(_ core.Identity, args forgetArgs) (string, error) {
	e, err := m.store.Delete(args.MemoryID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Forgot memory %s: %s", e.ID, e.Content), nil
}

func checkImportance(v int) error {
	if v < 1 || v > 10 {
		return fmt.Errorf("importance must be between 1 and 10, got %d", v)
	}
	return nil
}

// Serialize implements module.Module.
func (m *Module) Serialize() (json.RawMessage, error) {
	next, entries := m.store.snapshot()
	return json.Marshal(state{ID: m.id, NextID: next, Memories: entries})
}

// Deserialize implements module.Module.
func (m *Module) Deserialize(_ core.Identity, raw json.RawMessage) error {
	var s state
	if err := module.DecodeState(Kind, raw, &s, "memories"); err != nil {
		return err
	}
	next := s.NextID
	seen := make(map[string]struct{}, len(s.Memories))
	for _, e := range s.Memories {
		if e.ID == "" {
			return fmt.Errorf("%w: %s: memory without id", core.ErrInvalidModuleState, Kind)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w: %s: duplicate memory id %s", core.ErrInvalidModuleState, Kind, e.ID)
		}
		seen[e.ID] = struct{}{}
		if err := checkImportance(e.Importance); err != nil {
			return fmt.Errorf("%w: %s: %v", core.ErrInvalidModuleState, Kind, err)
		}
		// The counter must stay ahead of every issued id.
		if n, ok := idNumber(e.ID); ok && n >= next {
			next = n + 1
		}
	}
	m.store.restore(next, s.Memories)
	return nil
}

// idNumber parses the counter suffix of ids issued by Store.Add.
func idNumber(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, "mem_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
