package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/flow"
	"github.com/hupe1980/swarmer/model"
	"github.com/hupe1980/swarmer/module"
)

// TurnState is the position of an agent in the turn state machine.
type TurnState int32

const (
	// StateIdle means no turn is running.
	StateIdle TurnState = iota
	// StateAwaitingCompletion means a completion request is in flight.
	StateAwaitingCompletion
	// StateExecutingTools means a round of tool calls is being dispatched.
	StateExecutingTools
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingCompletion:
		return "awaiting_completion"
	case StateExecutingTools:
		return "executing_tools"
	default:
		return fmt.Sprintf("TurnState(%d)", int32(s))
	}
}

// State returns the current turn state.
func (a *Agent) State() TurnState { return TurnState(a.state.Load()) }

func (a *Agent) setState(s TurnState) { a.state.Store(int32(s)) }

// RunTurn sends input to the completion service and executes requested tool
// rounds until the model replies without tool calls. The reply text is
// returned.
//
// The user message is appended to the log together with the first assistant
// response, so a turn that fails before any response leaves the log
// untouched. Cancelling ctx stops the turn before the next completion round.
func (a *Agent) RunTurn(ctx context.Context, input string) (string, error) {
	if !a.busy.CompareAndSwap(false, true) {
		return "", fmt.Errorf("%w: %s", core.ErrAgentBusy, a.name)
	}
	defer func() {
		a.setState(StateIdle)
		a.busy.Store(false)
	}()

	if err := a.checkBudget(); err != nil {
		return "", err
	}

	turnStart := time.Now()
	a.logger.Info("agent.turn.start", "input_len", len(input))

	limiter := core.NewIterationLimiter(a.maxToolIter)
	pending := core.UserMessage(input)
	first := true

	for {
		if err := ctx.Err(); err != nil {
			a.logger.Warn("agent.turn.cancelled", "rounds", limiter.Count(), "error", err.Error())
			return "", err
		}

		a.setState(StateAwaitingCompletion)

		turn := a.buildTurn()
		if first {
			turn.Pending = &pending
		}

		req, err := a.assembler.Build(turn)
		if err != nil {
			return "", err
		}

		resp, err := model.Collect(ctx, a.llm, req)
		if err != nil {
			a.logger.Error("agent.completion.error", "error", err.Error())
			return "", fmt.Errorf("completion failed: %w", err)
		}

		msg := resp.Message.Clone()
		msg.Role = core.RoleAssistant

		a.mu.Lock()
		if first {
			a.log = append(a.log, pending)
			first = false
		}
		a.log = append(a.log, msg)
		if resp.Usage != nil {
			a.usage.Add(*resp.Usage)
		}
		a.mu.Unlock()

		if !msg.HasToolCalls() {
			a.logger.Info(
				"agent.turn.complete",
				"rounds", limiter.Count(),
				"duration_ms", time.Since(turnStart).Milliseconds(),
			)
			return msg.Content, nil
		}

		if err := limiter.Increment(); err != nil {
			// Keep the log well formed: every call request gets a result.
			a.appendLog(abandonedResults(msg.ToolCalls, err)...)
			a.logger.Warn("agent.turn.iteration_limit", "limit", a.maxToolIter)
			return "", err
		}

		a.setState(StateExecutingTools)

		results := a.dispatcher.Execute(ctx, a.id, msg.ToolCalls, a.observeCall)
		a.appendLog(results...)
	}
}

func (a *Agent) buildTurn() *flow.Turn {
	a.mu.RLock()
	defer a.mu.RUnlock()

	modules := make([]module.Module, len(a.modules))
	copy(modules, a.modules)

	return &flow.Turn{
		Caller:       a.id,
		AgentName:    a.name,
		Model:        a.model,
		Constitution: a.constitution,
		Modules:      modules,
		Log:          a.log,
		Tools:        a.tools.List(),
	}
}

func (a *Agent) appendLog(msgs ...core.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.log = append(a.log, msgs...)
}

func (a *Agent) checkBudget() error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.tokenBudget > 0 && a.usage.Total >= a.tokenBudget {
		return fmt.Errorf("%w: used %d of %d", core.ErrTokenBudgetExceeded, a.usage.Total, a.tokenBudget)
	}
	return nil
}

// observeCall forwards a finished call to every module observing calls.
func (a *Agent) observeCall(rec module.CallRecord) {
	for _, m := range a.Modules() {
		if obs, ok := m.(module.CallObserver); ok {
			obs.ObserveCall(rec)
		}
	}
}

func abandonedResults(calls []core.ToolCall, cause error) []core.Message {
	out := make([]core.Message, len(calls))
	for i, c := range calls {
		out[i] = core.ToolMessage(c.ID, c.Name, flow.ErrorPrefix+cause.Error())
	}
	return out
}
