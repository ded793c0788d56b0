// Package logging provides a minimal logging interface and adapters for swarmer.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that agents, the tool dispatcher and modules use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "text"})
//	a, err := agent.New("assistant", llm, reg, func(o *agent.Options) { o.Logger = logger })
//
// Messages are dotted event keys ("tool.call.start") followed by key/value pairs.
package logging
