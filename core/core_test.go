package core

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity_RoundTrip(t *testing.T) {
	id := NewIdentity()
	assert.False(t, id.IsZero())

	parsed, err := ParseIdentity(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	b, err := json.Marshal(map[string]Identity{"id": id})
	require.NoError(t, err)

	var decoded map[string]Identity
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, id, decoded["id"])
}

func TestIdentity_Distinct(t *testing.T) {
	assert.NotEqual(t, NewIdentity(), NewIdentity())
	assert.True(t, Identity{}.IsZero())

	_, err := ParseIdentity("not-a-uuid")
	assert.Error(t, err)
}

func TestTokenUsage_Add(t *testing.T) {
	var u TokenUsage
	u.Add(TokenUsage{Prompt: 10, Completion: 5, Total: 15})
	u.Add(TokenUsage{Prompt: 3, Completion: 2}) // total derived
	assert.Equal(t, TokenUsage{Prompt: 13, Completion: 7, Total: 20}, u)
}

func TestMessage_Clone(t *testing.T) {
	m := AssistantMessage("", ToolCall{ID: "1", Name: "a", Arguments: "{}"})
	c := m.Clone()
	c.ToolCalls[0].Name = "b"
	assert.Equal(t, "a", m.ToolCalls[0].Name)
	assert.True(t, m.HasToolCalls())
	assert.False(t, UserMessage("hi").HasToolCalls())
}

func TestIterationLimiter(t *testing.T) {
	l := NewIterationLimiter(2)
	require.NoError(t, l.Increment())
	require.NoError(t, l.Increment())
	assert.Equal(t, 0, l.Remaining())

	err := l.Increment()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrToolIterationLimitExceeded))
	assert.Equal(t, 3, l.Count())

	unlimited := NewIterationLimiter(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, unlimited.Increment())
	}
	assert.Equal(t, -1, unlimited.Remaining())
}
