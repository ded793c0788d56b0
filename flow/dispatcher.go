package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/logging"
	"github.com/hupe1980/swarmer/module"
	"github.com/hupe1980/swarmer/registry"
	"github.com/hupe1980/swarmer/tool"
)

// ErrorPrefix marks a tool result that reports a failure to the model.
const ErrorPrefix = "Error: "

// DefaultToolTimeout bounds a single tool call.
const DefaultToolTimeout = 30 * time.Second

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	MaxParallel    int           // 0 or <1 => no explicit limit (len(calls))
	Timeout        time.Duration // per call; <=0 disables the bound
	LogStartEvents bool          // log a start line per call
	Logger         logging.Logger
}

// Dispatcher executes a batch of tool calls concurrently and returns one
// tool message per call in the order the calls were requested. A failing,
// panicking or slow call never affects its siblings.
type Dispatcher struct {
	registry *registry.Registry
	opts     DispatcherOptions
}

// NewDispatcher constructs a Dispatcher resolving callers through reg.
func NewDispatcher(reg *registry.Registry, optFns ...func(o *DispatcherOptions)) *Dispatcher {
	opts := DispatcherOptions{
		Timeout: DefaultToolTimeout,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Dispatcher{registry: reg, opts: opts}
}

// Execute runs calls on behalf of caller. Tools are resolved through the
// registry at call time so tools installed by an earlier round are visible.
// observe, if non-nil, receives one record per call after it finished.
func (d *Dispatcher) Execute(ctx context.Context, caller core.Identity, calls []core.ToolCall, observe func(module.CallRecord)) []core.Message {
	n := len(calls)
	if n == 0 {
		return nil
	}

	results := make([]core.Message, n)

	host, err := d.registry.Lookup(caller)
	if err != nil {
		for i, call := range calls {
			results[i] = core.ToolMessage(call.ID, call.Name, ErrorPrefix+err.Error())
		}
		return results
	}

	maxPar := d.opts.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	var g errgroup.Group
	g.SetLimit(maxPar)

	batchStart := time.Now()
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			if d.opts.LogStartEvents {
				d.opts.Logger.Info(
					"tool.call.start",
					"agent", host.Name(),
					"tool", call.Name,
					"tool_call_id", call.ID,
				)
			}

			start := time.Now()
			result, callErr := d.run(ctx, caller, host, call)
			dur := time.Since(start)

			failed := callErr != nil
			if failed {
				result = ErrorPrefix + errorText(callErr)
			}

			d.opts.Logger.Info(
				"tool.call.finish",
				"agent", host.Name(),
				"tool", call.Name,
				"tool_call_id", call.ID,
				"duration_ms", dur.Milliseconds(),
				"error", failed,
			)

			results[i] = core.ToolMessage(call.ID, call.Name, result)

			if observe != nil {
				observe(module.CallRecord{
					Caller:    caller,
					CallID:    call.ID,
					Tool:      call.Name,
					Arguments: call.Arguments,
					Result:    result,
					Failed:    failed,
					Duration:  dur,
				})
			}
			return nil
		})
	}

	_ = g.Wait()

	d.opts.Logger.Debug(
		"tool.batch.complete",
		"agent", host.Name(),
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return results
}

// run resolves and invokes a single call under the per-call deadline.
func (d *Dispatcher) run(ctx context.Context, caller core.Identity, host registry.Host, call core.ToolCall) (string, error) {
	impl, ok := host.Tool(call.Name)
	if !ok {
		return "", fmt.Errorf("unknown tool %s", call.Name)
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if args == nil { // literal "null"
			args = map[string]any{}
		}
	}

	callCtx := ctx
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	type outcome struct {
		result string
		err    error
	}

	done := make(chan outcome, 1)
	go func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				out = outcome{err: panicError(r)}
				d.opts.Logger.Error("tool.call.panic", "agent", host.Name(), "tool", call.Name, "recover", r)
			}
			done <- out
		}()
		out.result, out.err = impl.Call(callCtx, caller, args)
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return "", out.err
		}
		if out.result == "" {
			return "", fmt.Errorf("tool %s returned an empty result", call.Name)
		}
		return out.result, nil
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errTimedOut
	}
}

var errTimedOut = errors.New("timed out")

// errorText renders err for the model. Tool errors carry their message only.
func errorText(err error) string {
	var toolErr *tool.ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Message
	}
	return err.Error()
}

// panicError converts a recovered panic value to an error.
func panicError(r any) error { return &panicErr{val: r, stack: debug.Stack()} }

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic: %v", p.val) }
