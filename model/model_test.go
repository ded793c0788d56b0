package model

import (
	"context"
	"testing"

	"github.com/hupe1980/swarmer/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptedModel_ReplaysInOrder(t *testing.T) {
	m := NewScriptedModel(
		CallTools(core.ToolCall{ID: "1", Name: "remember", Arguments: `{}`}),
		Reply("done"),
	)

	ctx := context.Background()
	first, err := Collect(ctx, m, Request{Messages: []core.Message{core.UserMessage("hi")}})
	require.NoError(t, err)
	assert.True(t, first.Message.HasToolCalls())

	second, err := Collect(ctx, m, Request{})
	require.NoError(t, err)
	assert.Equal(t, "done", second.Message.Content)

	_, err = Collect(ctx, m, Request{})
	assert.Error(t, err)

	reqs := m.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "hi", reqs[0].Messages[0].Content)
}

func TestEchoModel(t *testing.T) {
	m := NewEchoModel()
	resp, err := Collect(context.Background(), m, Request{Messages: []core.Message{
		core.SystemMessage("sys"),
		core.UserMessage("ping"),
	}})
	require.NoError(t, err)
	assert.Equal(t, "echo: ping", resp.Message.Content)
	assert.Equal(t, "scripted", m.Info().Provider)
}

func TestCollect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Collect(ctx, NewScriptedModel(Reply("x")), Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

type silentModel struct{}

func (silentModel) Generate(context.Context, Request) (<-chan Response, <-chan error) {
	r := make(chan Response)
	e := make(chan error)
	close(r)
	close(e)
	return r, e
}
func (silentModel) Info() Info { return Info{} }

func TestCollect_NoResponse(t *testing.T) {
	_, err := Collect(context.Background(), silentModel{}, Request{})
	assert.ErrorIs(t, err, ErrNoResponse)
}
