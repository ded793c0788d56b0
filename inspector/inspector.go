// Package inspector serves a read-only JSON view of live agents: their
// modules, live state, tools and conversation log. It is meant for local
// debugging and exposes no operation that changes an agent.
package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/hupe1980/swarmer/agent"
	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/logging"
)

// Source provides the agents to inspect. *swarmer.Swarm implements it.
type Source interface {
	Agents() []*agent.Agent
	Agent(id core.Identity) (*agent.Agent, bool)
}

// AgentSummary is one entry of the agent list.
type AgentSummary struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	State    string          `json:"state"`
	Modules  []string        `json:"modules"`
	Messages int             `json:"messages"`
	Usage    core.TokenUsage `json:"usage"`
}

// ModuleView shows one attached module.
type ModuleView struct {
	Kind         string          `json:"kind"`
	ID           string          `json:"id"`
	Instructions string          `json:"instructions,omitempty"`
	LiveState    string          `json:"live_state,omitempty"`
	State        json.RawMessage `json:"state,omitempty"`
}

// ToolView shows one installed tool.
type ToolView struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Hash        string         `json:"hash"`
	Parameters  map[string]any `json:"parameters"`
}

// AgentDetail is the full view of one agent.
type AgentDetail struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	State        string          `json:"state"`
	Model        string          `json:"model,omitempty"`
	TokenBudget  int             `json:"token_budget"`
	Usage        core.TokenUsage `json:"usage"`
	Constitution string          `json:"constitution"`
	LiveState    string          `json:"live_state"`
	Modules      []ModuleView    `json:"modules"`
	Tools        []ToolView      `json:"tools"`
	Messages     int             `json:"messages"`
}

// Options configure the inspector.
type Options struct {
	// ReadHeaderTimeout is used by ListenAndServe.
	ReadHeaderTimeout time.Duration
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Server is an http.Handler exposing
//
//	GET /agents
//	GET /agents/:id
//	GET /agents/:id/log
type Server struct {
	source Source
	router *httprouter.Router
	opts   Options
}

// New creates an inspector over source.
func New(source Source, optFns ...func(o *Options)) *Server {
	opts := Options{ReadHeaderTimeout: 5 * time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	s := &Server{source: source, router: httprouter.New(), opts: opts}
	s.router.GET("/agents", s.handleList)
	s.router.GET("/agents/:id", s.handleDetail)
	s.router.GET("/agents/:id/log", s.handleLog)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done. It then shuts the server
// down and returns ctx.Err().
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.opts.Logger.Info("inspector.listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	agents := s.source.Agents()
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].Name() != agents[j].Name() {
			return agents[i].Name() < agents[j].Name()
		}
		return agents[i].Identity().String() < agents[j].Identity().String()
	})

	out := make([]AgentSummary, len(agents))
	for i, a := range agents {
		out[i] = AgentSummary{
			ID:       a.Identity().String(),
			Name:     a.Name(),
			State:    a.State().String(),
			Modules:  a.ModuleKinds(),
			Messages: len(a.Log()),
			Usage:    a.Usage(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDetail(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	a, ok := s.lookup(w, ps)
	if !ok {
		return
	}

	detail := AgentDetail{
		ID:           a.Identity().String(),
		Name:         a.Name(),
		State:        a.State().String(),
		Model:        a.Model(),
		TokenBudget:  a.TokenBudget(),
		Usage:        a.Usage(),
		Constitution: a.Constitution(),
		LiveState:    a.LiveState(),
		Messages:     len(a.Log()),
	}

	for _, m := range a.Modules() {
		view := ModuleView{
			Kind:         m.Kind(),
			ID:           m.ID(),
			Instructions: m.Instructions(),
			LiveState:    m.LiveState(a.Identity()),
		}
		if raw, err := m.Serialize(); err == nil {
			view.State = raw
		} else {
			s.opts.Logger.Warn("inspector.module.serialize_failed", "agent_id", detail.ID, "kind", m.Kind(), "error", err.Error())
		}
		detail.Modules = append(detail.Modules, view)
	}

	for _, d := range a.Tools() {
		detail.Tools = append(detail.Tools, ToolView{
			Name:        d.Name(),
			Description: d.Description(),
			Hash:        d.Hash(),
			Parameters:  d.Parameters(),
		})
	}

	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleLog(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	a, ok := s.lookup(w, ps)
	if !ok {
		return
	}
	log := a.Log()
	if log == nil {
		log = []core.Message{}
	}
	writeJSON(w, http.StatusOK, log)
}

func (s *Server) lookup(w http.ResponseWriter, ps httprouter.Params) (*agent.Agent, bool) {
	id, err := core.ParseIdentity(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return nil, false
	}
	a, ok := s.source.Agent(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown agent "+id.String())
		return nil, false
	}
	return a, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
