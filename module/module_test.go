package module

import (
	"encoding/json"
	"testing"

	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModule struct{ id string }

func (s *stubModule) Kind() string                                     { return "stub" }
func (s *stubModule) ID() string                                       { return s.id }
func (s *stubModule) Instructions() string                             { return "" }
func (s *stubModule) LiveState(core.Identity) string                   { return "" }
func (s *stubModule) Tools() []*tool.Descriptor                        { return nil }
func (s *stubModule) Serialize() (json.RawMessage, error)              { return json.RawMessage(`{}`), nil }
func (s *stubModule) Deserialize(core.Identity, json.RawMessage) error { return nil }

func TestCatalog(t *testing.T) {
	c := NewCatalog()
	c.Register("stub", func(id string, _ Deps) (Module, error) { return &stubModule{id: id}, nil })

	m, err := c.New("stub", "abc", Deps{})
	require.NoError(t, err)
	assert.Equal(t, "abc", m.ID())

	_, err = c.New("nope", "", Deps{})
	assert.ErrorIs(t, err, core.ErrUnknownModuleKind)

	assert.Equal(t, []string{"stub"}, c.Kinds())
}

func TestDecodeState(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}

	require.NoError(t, DecodeState("x", json.RawMessage(`{"name":"a"}`), &dst, "name"))
	assert.Equal(t, "a", dst.Name)

	assert.ErrorIs(t, DecodeState("x", json.RawMessage(`{}`), &dst, "name"), core.ErrInvalidModuleState)
	assert.ErrorIs(t, DecodeState("x", nil, &dst), core.ErrInvalidModuleState)
	assert.ErrorIs(t, DecodeState("x", json.RawMessage(`[1]`), &dst), core.ErrInvalidModuleState)
}
