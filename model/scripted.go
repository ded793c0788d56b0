package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/swarmer/core"
)

// ScriptedModel is an in‑memory Model replaying a fixed sequence of
// responses. Every request is recorded for later inspection. Useful for tests
// and offline demos.
type ScriptedModel struct {
	mu        sync.Mutex
	info      Info
	responses []Response
	requests  []Request
	// Fallback is used once the script is exhausted. Nil yields an error.
	Fallback func(req Request) Response
}

// NewScriptedModel constructs a ScriptedModel replaying responses in order.
func NewScriptedModel(responses ...Response) *ScriptedModel {
	return &ScriptedModel{
		info:      Info{Name: "scripted", Provider: "scripted", SupportsTools: true},
		responses: responses,
	}
}

// NewEchoModel returns a ScriptedModel answering every request with the text
// of the last user message.
func NewEchoModel() *ScriptedModel {
	m := NewScriptedModel()
	m.Fallback = func(req Request) Response {
		last := ""
		for _, msg := range req.Messages {
			if msg.Role == core.RoleUser {
				last = msg.Content
			}
		}
		return Reply(fmt.Sprintf("echo: %s", last))
	}
	return m
}

// Push appends responses to the script.
func (m *ScriptedModel) Push(responses ...Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
}

// Requests returns a copy of all recorded requests.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	for i, r := range m.requests {
		out[i] = r
		out[i].Messages = core.CloneMessages(r.Messages)
	}
	return out
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if err := ctx.Err(); err != nil {
			errCh <- err
			return
		}

		m.mu.Lock()
		req.Messages = core.CloneMessages(req.Messages)
		m.requests = append(m.requests, req)
		var (
			resp Response
			ok   bool
		)
		if len(m.responses) > 0 {
			resp, ok = m.responses[0], true
			m.responses = m.responses[1:]
		} else if m.Fallback != nil {
			resp, ok = m.Fallback(req), true
		}
		m.mu.Unlock()

		if !ok {
			errCh <- fmt.Errorf("scripted model exhausted after %d requests", len(m.Requests()))
			return
		}
		respCh <- resp
	}()

	return respCh, errCh
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }

// Reply builds a terminal assistant response.
func Reply(text string) Response {
	return Response{Message: core.AssistantMessage(text), FinishReason: "stop"}
}

// CallTools builds an assistant response requesting the given tool calls.
func CallTools(calls ...core.ToolCall) Response {
	return Response{Message: core.AssistantMessage("", calls...), FinishReason: "tool_calls"}
}
