package core

import (
	"fmt"

	"github.com/google/uuid"
)

// Identity is the opaque token linking tool calls to their owning agent.
// Two identities are equal only when their tokens are equal; the agent
// behind an identity is never compared by content.
type Identity struct {
	id uuid.UUID
}

// NewIdentity returns a fresh random identity.
func NewIdentity() Identity {
	return Identity{id: uuid.New()}
}

// ParseIdentity parses the canonical string form of an identity.
func ParseIdentity(s string) (Identity, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return Identity{}, fmt.Errorf("parse identity %q: %w", s, err)
	}
	return Identity{id: id}, nil
}

// String returns the canonical string form.
func (i Identity) String() string { return i.id.String() }

// IsZero reports whether the identity was never assigned.
func (i Identity) IsZero() bool { return i.id == uuid.Nil }

// MarshalText implements encoding.TextMarshaler.
func (i Identity) MarshalText() ([]byte, error) {
	return []byte(i.id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Identity) UnmarshalText(b []byte) error {
	id, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("parse identity: %w", err)
	}
	i.id = id
	return nil
}
