package toolsmith

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/hupe1980/swarmer/logging"
)

// EntryPoint is the function every authored tool must define.
const EntryPoint = "run"

// maxLogMessage caps a single message written through the script log function.
const maxLogMessage = 1024

// ErrTimeout is returned when an authored tool exceeds its time budget.
var ErrTimeout = errors.New("timed out")

// Script is a compiled authored tool.
type Script struct {
	name string
	prog *goja.Program
}

// Name returns the tool name the script was compiled for.
func (sc *Script) Name() string { return sc.name }

// Sandbox compiles and runs authored JavaScript. Every run gets a fresh
// runtime whose only inputs are the call arguments and a log function
// writing to Logger; no other host functions, modules, timers or I/O are
// exposed.
type Sandbox struct {
	Timeout        time.Duration
	MaxSourceBytes int
	Logger         logging.Logger
}

// NewSandbox returns a sandbox with the given per-run timeout.
func NewSandbox(timeout time.Duration) *Sandbox {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Sandbox{Timeout: timeout, MaxSourceBytes: 64 << 10, Logger: logging.NoOpLogger{}}
}

// Compile parses source and checks that evaluating it defines EntryPoint.
func (s *Sandbox) Compile(name, source string) (*Script, error) {
	if s.MaxSourceBytes > 0 && len(source) > s.MaxSourceBytes {
		return nil, fmt.Errorf("source of %s exceeds %d bytes", name, s.MaxSourceBytes)
	}

	prog, err := goja.Compile(name, source, true)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}

	sc := &Script{name: name, prog: prog}
	_, err = s.exec(context.Background(), sc, func(vm *goja.Runtime, fn goja.Callable) (goja.Value, error) {
		return goja.Undefined(), nil
	})
	if err != nil {
		return nil, err
	}
	return sc, nil
}

// Run evaluates prog and calls its entry point with args. A string result is
// returned as is; anything else is encoded as JSON.
func (s *Sandbox) Run(ctx context.Context, sc *Script, args map[string]any) (string, error) {
	v, err := s.exec(ctx, sc, func(vm *goja.Runtime, fn goja.Callable) (goja.Value, error) {
		return fn(goja.Undefined(), vm.ToValue(args))
	})
	if err != nil {
		return "", err
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", nil
	}
	if s, ok := v.Export().(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v.Export())
	if err != nil {
		return v.String(), nil
	}
	return string(b), nil
}

func (s *Sandbox) exec(ctx context.Context, sc *Script, call func(vm *goja.Runtime, fn goja.Callable) (goja.Value, error)) (goja.Value, error) {
	vm := goja.New()
	if err := vm.Set("log", s.logFunc(sc.name)); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	defer close(done)

	timer := time.AfterFunc(s.Timeout, func() { vm.Interrupt(ErrTimeout) })
	defer timer.Stop()

	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	if _, err := vm.RunProgram(sc.prog); err != nil {
		return nil, unwrapInterrupt(err)
	}

	fn, ok := goja.AssertFunction(vm.Get(EntryPoint))
	if !ok {
		return nil, fmt.Errorf("source must define function %s(args)", EntryPoint)
	}

	v, err := call(vm, fn)
	if err != nil {
		return nil, unwrapInterrupt(err)
	}
	return v, nil
}

// logFunc returns the script's log function: arguments are joined with
// spaces, capped at maxLogMessage bytes and written as one info entry.
func (s *Sandbox) logFunc(name string) func(goja.FunctionCall) goja.Value {
	logger := logging.OrNoOp(s.Logger)
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		msg := strings.Join(parts, " ")
		if len(msg) > maxLogMessage {
			msg = msg[:maxLogMessage]
		}
		logger.Info("toolsmith.script.log", "tool", name, "message", msg)
		return goja.Undefined()
	}
}

func unwrapInterrupt(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return cause
		}
		return ErrTimeout
	}
	return err
}
