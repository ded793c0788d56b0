// Package flow builds completion requests and dispatches tool calls for a
// single agent turn.
package flow

import (
	"fmt"
	"strings"

	"github.com/hupe1980/swarmer/core"
	internalutil "github.com/hupe1980/swarmer/internal/util"
	"github.com/hupe1980/swarmer/model"
	"github.com/hupe1980/swarmer/module"
	"github.com/hupe1980/swarmer/tool"
)

// Turn is the input of one request assembly.
type Turn struct {
	Caller    core.Identity
	AgentName string
	Model     string
	// Constitution is the immutable top-level rule text. It may reference
	// {{.name}} and {{.id}} of the agent.
	Constitution string
	// Modules in registration order.
	Modules []module.Module
	// Log is the conversation so far, oldest first.
	Log []core.Message
	// Pending is the new user message. It is nil on follow-up rounds where
	// the user message is already part of Log.
	Pending *core.Message
	Tools   []*tool.Descriptor
}

// RequestProcessor contributes one part of a completion request.
type RequestProcessor interface {
	Name() string
	ProcessRequest(turn *Turn, req *model.Request) error
}

// Assembler builds completion requests by running its processors in order.
// The default order yields: system(constitution + instructions), log,
// system(live state), pending user message.
type Assembler struct {
	processors []RequestProcessor
}

// NewAssembler returns an Assembler with the default processor chain.
func NewAssembler() *Assembler {
	return &Assembler{processors: []RequestProcessor{
		NewInstructionsProcessor(),
		NewHistoryProcessor(),
		NewLiveStateProcessor(),
		NewPendingProcessor(),
		NewToolsProcessor(),
	}}
}

// Build assembles the request for turn.
func (a *Assembler) Build(turn *Turn) (model.Request, error) {
	req := model.Request{Model: turn.Model}
	for _, p := range a.processors {
		if err := p.ProcessRequest(turn, &req); err != nil {
			return model.Request{}, fmt.Errorf("processor %s: %w", p.Name(), err)
		}
	}
	return req, nil
}

// InstructionsProcessor emits the leading system message: the constitution
// followed by every module's instructions in registration order.
type InstructionsProcessor struct{}

// NewInstructionsProcessor creates a new instructions processor.
func NewInstructionsProcessor() *InstructionsProcessor { return &InstructionsProcessor{} }

// Name returns the processor's identifier.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// ProcessRequest adds the constitution and module instructions.
func (p *InstructionsProcessor) ProcessRequest(turn *Turn, req *model.Request) error {
	constitution, err := internalutil.RenderTemplate(turn.Constitution, map[string]any{
		"name": turn.AgentName,
		"id":   turn.Caller.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to render constitution: %w", err)
	}

	blocks := make([]string, 0, len(turn.Modules))
	for _, m := range turn.Modules {
		if text := m.Instructions(); text != "" {
			blocks = append(blocks, text)
		}
	}

	req.Messages = append(req.Messages, core.SystemMessage(constitution+"\n"+strings.Join(blocks, "\n")))
	return nil
}

// HistoryProcessor appends the conversation log, oldest first.
type HistoryProcessor struct{}

// NewHistoryProcessor creates a new history processor.
func NewHistoryProcessor() *HistoryProcessor { return &HistoryProcessor{} }

// Name returns the processor's identifier.
func (p *HistoryProcessor) Name() string { return "history" }

// ProcessRequest appends a copy of the log.
func (p *HistoryProcessor) ProcessRequest(turn *Turn, req *model.Request) error {
	req.Messages = append(req.Messages, core.CloneMessages(turn.Log)...)
	return nil
}

// LiveStateProcessor appends one system message with every module's live
// state rendered for this round.
type LiveStateProcessor struct{}

// NewLiveStateProcessor creates a new live state processor.
func NewLiveStateProcessor() *LiveStateProcessor { return &LiveStateProcessor{} }

// Name returns the processor's identifier.
func (p *LiveStateProcessor) Name() string { return "live_state" }

// ProcessRequest renders the live state.
func (p *LiveStateProcessor) ProcessRequest(turn *Turn, req *model.Request) error {
	req.Messages = append(req.Messages, core.SystemMessage(RenderLiveState(turn.Caller, turn.Modules)))
	return nil
}

// RenderLiveState joins the non-empty live states of modules with newlines.
func RenderLiveState(caller core.Identity, modules []module.Module) string {
	blocks := make([]string, 0, len(modules))
	for _, m := range modules {
		if text := m.LiveState(caller); text != "" {
			blocks = append(blocks, text)
		}
	}
	return strings.Join(blocks, "\n")
}

// PendingProcessor appends the new user message, if any.
type PendingProcessor struct{}

// NewPendingProcessor creates a new pending message processor.
func NewPendingProcessor() *PendingProcessor { return &PendingProcessor{} }

// Name returns the processor's identifier.
func (p *PendingProcessor) Name() string { return "pending" }

// ProcessRequest appends turn.Pending.
func (p *PendingProcessor) ProcessRequest(turn *Turn, req *model.Request) error {
	if turn.Pending != nil {
		req.Messages = append(req.Messages, turn.Pending.Clone())
	}
	return nil
}

// ToolsProcessor attaches the model-facing tool declarations.
type ToolsProcessor struct{}

// NewToolsProcessor creates a new tools processor.
func NewToolsProcessor() *ToolsProcessor { return &ToolsProcessor{} }

// Name returns the processor's identifier.
func (p *ToolsProcessor) Name() string { return "tools" }

// ProcessRequest sets req.Tools.
func (p *ToolsProcessor) ProcessRequest(turn *Turn, req *model.Request) error {
	if len(turn.Tools) > 0 {
		req.Tools = tool.Definitions(turn.Tools)
	}
	return nil
}
