// Package tool implements the tool calling subsystem that lets agents invoke
// structured capabilities with schema validated arguments. Every tool callable
// receives the identity of the calling agent as its first argument; the
// dispatcher injects it at call time so tools never bind to module instances.
package tool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"runtime"

	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/internal/util"
	"github.com/hupe1980/swarmer/model"
)

// ErrInvalidSignature is returned when a callable cannot be registered as a
// tool, most notably when its leading parameter is not core.Identity.
var ErrInvalidSignature = errors.New("invalid tool signature")

// Func is the normalized tool callable. caller is the identity of the agent
// on whose behalf the tool runs.
type Func func(ctx context.Context, caller core.Identity, args map[string]any) (string, error)

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// Error codes used by Descriptor.Call.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
)

// Options tune descriptor construction.
type Options struct {
	// Source is the defining source text hashed into the content hash. When
	// empty the fully qualified name of the Go callable is used.
	Source string
}

// Descriptor is a registered tool: name, content hash, parameter schema and
// callable. Descriptors are immutable and safe for concurrent use.
type Descriptor struct {
	name        string
	description string
	parameters  map[string]any
	hash        string
	fn          Func
}

// New constructs a Descriptor from an explicit parameter schema.
//
//	sum, err := tool.New("calculate_sum", "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(ctx context.Context, caller core.Identity, args map[string]any) (string, error) {
//	    return fmt.Sprint(args["a"].(float64) + args["b"].(float64)), nil
//	  },
//	)
func New(name, description string, parameters map[string]any, fn Func, optFns ...func(o *Options)) (*Descriptor, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty tool name", ErrInvalidSignature)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: tool %s has no callable", ErrInvalidSignature, name)
	}
	if parameters == nil {
		parameters = util.EmptySchema()
	}

	opts := Options{}
	for _, f := range optFns {
		f(&opts)
	}
	if opts.Source == "" {
		opts.Source = funcName(fn)
	}

	hash, err := contentHash(name, description, parameters, opts.Source)
	if err != nil {
		return nil, err
	}

	return &Descriptor{
		name:        name,
		description: description,
		parameters:  parameters,
		hash:        hash,
		fn:          fn,
	}, nil
}

// MustNew is like New but panics on error. Intended for static tool tables.
func MustNew(name, description string, parameters map[string]any, fn Func, optFns ...func(o *Options)) *Descriptor {
	d, err := New(name, description, parameters, fn, optFns...)
	if err != nil {
		panic(err)
	}
	return d
}

// Name returns the unique tool name used in call requests and routing.
func (d *Descriptor) Name() string { return d.name }

// Description returns the natural language description exposed to models.
func (d *Descriptor) Description() string { return d.description }

// Parameters returns the JSON schema describing expected arguments.
func (d *Descriptor) Parameters() map[string]any { return d.parameters }

// Hash returns the hex encoded content hash. It identifies a tool version and
// is not a security boundary.
func (d *Descriptor) Hash() string { return d.hash }

// Definition returns the model-facing declaration of the tool.
func (d *Descriptor) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:        d.name,
			Description: d.description,
			Parameters:  d.parameters,
		},
	}
}

// Call validates args against the declared schema then invokes the callable.
//
//	*ToolError returned by the callable -> forwarded unchanged
//	validation failure                  -> *ToolError{Code: VALIDATION_ERROR}
//	other error                         -> *ToolError{Code: EXECUTION_ERROR}
func (d *Descriptor) Call(ctx context.Context, caller core.Identity, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}

	if err := util.ValidateParameters(args, d.parameters); err != nil {
		return "", &ToolError{
			Tool:    d.name,
			Message: fmt.Sprintf("invalid arguments: %v", err),
			Code:    CodeValidation,
			Details: err,
		}
	}

	result, err := d.fn(ctx, caller, args)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			return "", toolErr
		}
		return "", &ToolError{
			Tool:    d.name,
			Message: err.Error(),
			Code:    CodeExecution,
		}
	}

	return result, nil
}

// Definitions returns the model-facing declarations of descs in order.
func Definitions(descs []*Descriptor) []model.ToolDefinition {
	defs := make([]model.ToolDefinition, len(descs))
	for i, d := range descs {
		defs[i] = d.Definition()
	}
	return defs
}

func contentHash(name, description string, parameters map[string]any, source string) (string, error) {
	// encoding/json sorts map keys, which makes the schema encoding canonical.
	schema, err := json.Marshal(parameters)
	if err != nil {
		return "", fmt.Errorf("encode schema of tool %s: %w", name, err)
	}

	h := sha256.New()
	for _, part := range [][]byte{[]byte(name), []byte(description), schema, []byte(source)} {
		h.Write(part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}
	if f := runtime.FuncForPC(v.Pointer()); f != nil {
		return f.Name()
	}
	return ""
}
