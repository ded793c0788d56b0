// Package config loads the runtime configuration of a swarm from YAML.
//
// Secrets are never required in the file: API keys and the Redis password
// are read from the environment when the file leaves them empty.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/swarmer/logging"
)

// Config is the root configuration document.
type Config struct {
	Model   ModelConfig   `yaml:"model"`
	Agent   AgentConfig   `yaml:"agent"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	// Modules lists the module kinds attached to newly created agents.
	Modules []string `yaml:"modules"`
}

// ModelConfig selects and configures the completion service.
type ModelConfig struct {
	Provider    string  `yaml:"provider"` // openai, anthropic or echo
	Name        string  `yaml:"name"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
}

// AgentConfig holds defaults applied to every agent.
type AgentConfig struct {
	Constitution        string        `yaml:"constitution"`
	TokenBudget         int           `yaml:"token_budget"`
	MaxToolIterations   int           `yaml:"max_tool_iterations"`
	ToolTimeout         time.Duration `yaml:"tool_timeout"`
	MaxParallelTools    int           `yaml:"max_parallel_tools"`
	AuthoredToolTimeout time.Duration `yaml:"authored_tool_timeout"`
}

// StorageConfig selects the snapshot store.
type StorageConfig struct {
	Driver   string        `yaml:"driver"` // memory, file or redis
	Dir      string        `yaml:"dir"`
	Autosave time.Duration `yaml:"autosave"`
	Redis    RedisConfig   `yaml:"redis"`
}

// RedisConfig describes the Redis connection of the redis driver.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// Environment variables consulted for secrets.
const (
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvAnthropicKey  = "ANTHROPIC_API_KEY"
	EnvRedisPassword = "SWARMER_REDIS_PASSWORD"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// Load reads and parses the YAML file at path. Relative directories in the
// file are resolved against the file's directory.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return Parse(content, filepath.Dir(path))
}

// Parse decodes a YAML document, applies defaults and environment secrets
// and validates the result.
func Parse(content []byte, baseDir string) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults(baseDir)
	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Model.Provider == "" {
		c.Model.Provider = "echo"
	}
	if c.Agent.MaxToolIterations == 0 {
		c.Agent.MaxToolIterations = 10
	}
	if c.Agent.ToolTimeout == 0 {
		c.Agent.ToolTimeout = 30 * time.Second
	}
	if c.Agent.AuthoredToolTimeout == 0 {
		c.Agent.AuthoredToolTimeout = 2 * time.Second
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Autosave == 0 {
		c.Storage.Autosave = 20 * time.Second
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = filepath.Join(baseDir, "snapshots")
	} else if !filepath.IsAbs(c.Storage.Dir) {
		c.Storage.Dir = filepath.Join(baseDir, c.Storage.Dir)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Modules == nil {
		c.Modules = []string{"persona", "memory", "time"}
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if c.Model.APIKey == "" {
		switch c.Model.Provider {
		case "openai":
			c.Model.APIKey, _ = lookup(EnvOpenAIKey)
		case "anthropic":
			c.Model.APIKey, _ = lookup(EnvAnthropicKey)
		}
	}
	if c.Storage.Redis.Password == "" {
		c.Storage.Redis.Password, _ = lookup(EnvRedisPassword)
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case "openai", "anthropic", "echo":
	default:
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}

	switch c.Storage.Driver {
	case "memory", "file":
	case "redis":
		if c.Storage.Redis.Address == "" {
			return fmt.Errorf("storage.redis.address is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	if c.Agent.MaxToolIterations < 0 {
		return fmt.Errorf("agent.max_tool_iterations must not be negative")
	}
	return nil
}

// LoggerConfig converts the logging section for logging.NewLogger.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	cfg := logging.DefaultLoggerConfig()
	if level, err := logging.ParseLevel(c.Logging.Level); err == nil {
		cfg.Level = level
	}
	cfg.Format = c.Logging.Format
	return cfg
}
