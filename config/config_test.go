package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/swarmer/logging"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "echo", cfg.Model.Provider)
	assert.Equal(t, 10, cfg.Agent.MaxToolIterations)
	assert.Equal(t, 30*time.Second, cfg.Agent.ToolTimeout)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 20*time.Second, cfg.Storage.Autosave)
	assert.Equal(t, []string{"persona", "memory", "time"}, cfg.Modules)
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swarmer.yaml")
	doc := `
model:
  provider: openai
  name: gpt-4o-mini
  temperature: 0.2
agent:
  token_budget: 5000
  tool_timeout: 5s
  max_parallel_tools: 4
storage:
  driver: file
  dir: data
  autosave: 1m
logging:
  level: debug
  format: text
modules: [persona, memory, debug]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	t.Setenv(EnvOpenAIKey, "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", cfg.Model.Name)
	assert.Equal(t, "sk-test", cfg.Model.APIKey)
	assert.InDelta(t, 0.2, cfg.Model.Temperature, 1e-9)
	assert.Equal(t, 5000, cfg.Agent.TokenBudget)
	assert.Equal(t, 5*time.Second, cfg.Agent.ToolTimeout)
	assert.Equal(t, 4, cfg.Agent.MaxParallelTools)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Storage.Dir)
	assert.Equal(t, time.Minute, cfg.Storage.Autosave)
	assert.Equal(t, []string{"persona", "memory", "debug"}, cfg.Modules)

	lc := cfg.LoggerConfig()
	assert.Equal(t, logging.LogLevelDebug, lc.Level)
	assert.Equal(t, "text", lc.Format)
}

func TestParse_FileKeyWinsOverEnv(t *testing.T) {
	t.Setenv(EnvAnthropicKey, "from-env")

	cfg, err := Parse([]byte("model:\n  provider: anthropic\n  api_key: from-file\n"), ".")
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Model.APIKey)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil, "/srv")
	require.NoError(t, err)
	assert.Equal(t, "/srv/snapshots", cfg.Storage.Dir)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown field":    "nope: 1\n",
		"bad provider":     "model:\n  provider: mystery\n",
		"bad driver":       "storage:\n  driver: tape\n",
		"redis no address": "storage:\n  driver: redis\n",
		"bad level":        "logging:\n  level: loud\n",
		"bad format":       "logging:\n  format: xml\n",
		"negative rounds":  "agent:\n  max_tool_iterations: -1\n",
		"bad duration":     "agent:\n  tool_timeout: soon\n",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), ".")
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(" ")
	assert.Error(t, err)
}
