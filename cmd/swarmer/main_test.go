package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var agentLine = regexp.MustCompile(`Agent Ada \(([0-9a-f-]{36})\)`)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "swarmer.yaml")
	content := `
model:
  provider: echo
storage:
  driver: file
  dir: snapshots
logging:
  level: error
modules: [persona, memory]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Reader = strings.NewReader(stdin)
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.RunContext(context.Background(), append([]string{"swarmer"}, args...))
	return out.String(), err
}

func TestChatListInspectRemove(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "hello\n/state\n/bogus\n/exit\n", "-c", cfg, "chat", "--name", "Ada")
	require.NoError(t, err)
	assert.Contains(t, out, "Ada: echo: hello")
	assert.Contains(t, out, "Persona:")
	assert.Contains(t, out, "unknown command /bogus")

	m := agentLine.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	id := m[1]

	out, err = run(t, "", "-c", cfg, "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "persona,memory")

	// Resume the saved agent; the log keeps growing.
	out, err = run(t, "again\n", "-c", cfg, "chat", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Ada: echo: again")

	out, err = run(t, "", "-c", cfg, "inspect", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Messages: 4")
	assert.Contains(t, out, "set_persona")
	assert.Contains(t, out, "remember")

	out, err = run(t, "", "-c", cfg, "inspect", "--raw", id)
	require.NoError(t, err)
	assert.Contains(t, out, `"agent_id": "`+id+`"`)

	out, err = run(t, "", "-c", cfg, "remove", id)
	require.NoError(t, err)
	assert.Contains(t, out, "removed "+id)

	out, err = run(t, "", "-c", cfg, "list")
	require.NoError(t, err)
	assert.NotContains(t, out, id)

	_, err = run(t, "", "-c", cfg, "remove", id)
	assert.Error(t, err)
}

func TestServe(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "hello\n/exit\n", "-c", cfg, "chat", "--name", "Ada")
	require.NoError(t, err)
	m := agentLine.FindStringSubmatch(out)
	require.Len(t, m, 2, out)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	app.ErrWriter = io.Discard
	require.NoError(t, app.RunContext(ctx, []string{"swarmer", "-c", cfg, "serve", "--addr", "127.0.0.1:0"}))
	assert.Contains(t, buf.String(), "inspecting 1 agents")

	_, err = run(t, "", "-c", cfg, "serve", "not-an-id")
	assert.Error(t, err)
}

func TestInspect_RequiresIdentity(t *testing.T) {
	cfg := writeConfig(t)

	_, err := run(t, "", "-c", cfg, "inspect")
	assert.Error(t, err)

	_, err = run(t, "", "-c", cfg, "inspect", "not-an-id")
	assert.Error(t, err)
}

func TestInvalidLogLevelFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swarmer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model:\n  provider: echo\nstorage:\n  driver: file\n  dir: s\n"), 0o644))

	_, err := run(t, "", "-c", path, "--log-level", "loud", "list")
	assert.Error(t, err)
}
