package main

import (
	"context"
	"fmt"
	"io"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/urfave/cli/v2"

	"github.com/hupe1980/swarmer"
	"github.com/hupe1980/swarmer/agent"
	"github.com/hupe1980/swarmer/config"
	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/logging"
	"github.com/hupe1980/swarmer/model"
	"github.com/hupe1980/swarmer/model/anthropic"
	"github.com/hupe1980/swarmer/model/openai"
	"github.com/hupe1980/swarmer/module/toolsmith"
	"github.com/hupe1980/swarmer/snapshot"
)

// runtime bundles everything a command needs.
type runtime struct {
	cfg    *config.Config
	swarm  *swarmer.Swarm
	store  snapshot.Store
	logger logging.Logger
	close  func() error
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if level := c.String("log-level"); level != "" {
		cfg.Logging.Level = level
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newRuntime(c *cli.Context) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	lc := cfg.LoggerConfig()
	lc.Output = c.App.ErrWriter
	lc.Component = "swarmer"
	logger := logging.NewLogger(lc)

	llm, err := newModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := newStore(c.Context, cfg.Storage)
	if err != nil {
		return nil, err
	}

	catalog := swarmer.DefaultCatalog()
	catalog.Register(toolsmith.Kind, toolsmith.Factory(cfg.Agent.AuthoredToolTimeout))

	s := swarmer.New(func(o *swarmer.Options) {
		o.Catalog = catalog
		o.Store = store
		o.Model = llm
		o.Logger = logger
		o.DefaultModules = cfg.Modules
		o.AutosaveInterval = cfg.Storage.Autosave
		o.AgentOptions = []func(o *agent.Options){agentOptions(cfg.Agent, cfg.Model.Name)}
	})

	return &runtime{cfg: cfg, swarm: s, store: store, logger: logger, close: closeStore}, nil
}

func agentOptions(cfg config.AgentConfig, modelName string) func(o *agent.Options) {
	return func(o *agent.Options) {
		if cfg.Constitution != "" {
			o.Constitution = cfg.Constitution
		}
		o.Model = modelName
		o.TokenBudget = cfg.TokenBudget
		o.MaxToolIterations = cfg.MaxToolIterations
		o.ToolTimeout = cfg.ToolTimeout
		o.MaxParallelTools = cfg.MaxParallelTools
	}
}

func newModel(cfg config.ModelConfig) (model.Model, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			if cfg.Temperature != 0 {
				o.Temperature = cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = cfg.MaxTokens
			}
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
			if cfg.Temperature != 0 {
				o.Temperature = cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxTokens = cfg.MaxTokens
			}
			o.APIKey = cfg.APIKey
		}), nil
	case "echo":
		return model.NewEchoModel(), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

func newStore(ctx context.Context, cfg config.StorageConfig) (snapshot.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case "memory":
		return snapshot.NewMemoryStore(), noop, nil
	case "file":
		s, err := snapshot.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case "redis":
		s, err := snapshot.NewRedisStore(ctx, snapshot.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func parseIdentityArg(c *cli.Context) (core.Identity, error) {
	if c.NArg() != 1 {
		return core.Identity{}, fmt.Errorf("expected exactly one agent id")
	}
	return core.ParseIdentity(c.Args().First())
}

func fprintf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
