package core

import "errors"

// Registry and registration errors. They are returned unmodified to the
// operation that raised them and are safe to match with errors.Is.
var (
	// ErrDuplicateIdentity is returned when an identity is registered twice.
	ErrDuplicateIdentity = errors.New("duplicate agent identity")

	// ErrUnknownAgent is returned when an identity cannot be resolved.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrDuplicateModuleKind is returned when a second module of the same kind
	// is registered on one agent.
	ErrDuplicateModuleKind = errors.New("duplicate module kind")

	// ErrToolNameCollision is returned when a tool name is already registered
	// with a different content hash.
	ErrToolNameCollision = errors.New("tool name collision")

	// ErrToolIterationLimitExceeded is returned when a single turn needs more
	// tool rounds than the agent allows.
	ErrToolIterationLimitExceeded = errors.New("tool iteration limit exceeded")

	// ErrAgentBusy is returned when a turn is started while another turn of
	// the same agent is in flight.
	ErrAgentBusy = errors.New("agent busy")

	// ErrUnknownModuleKind is returned when a snapshot references a module
	// kind that has no factory.
	ErrUnknownModuleKind = errors.New("unknown module kind")

	// ErrInvalidModuleState is returned when a module payload is malformed or
	// misses a required field.
	ErrInvalidModuleState = errors.New("invalid module state")

	// ErrTokenBudgetExceeded is returned when an agent with a token budget has
	// already consumed it.
	ErrTokenBudgetExceeded = errors.New("token budget exceeded")
)
