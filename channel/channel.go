// Package channel turns a fire-and-forget message medium into an addressable duplex link.
//
// Every payload leaving the process is tagged with the mark of its sender, derived from the
// namespace, participant ID and role, so several unrelated links may share one medium. Links
// requiring the remote endpoint to be materialized first run the echo handshake: the
// secondary side posts the echo token as soon as it listens, the primary side becomes
// sendable only after it observes that token.
package channel

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/outofforest/rpckit/wire"
)

// Role defines which side drives the handshake.
type Role string

// Roles.
const (
	Primary   Role = "primary"
	Secondary Role = "secondary"
)

// Peer returns the role of the other side.
func (r Role) Peer() Role {
	if r == Primary {
		return Secondary
	}
	return Primary
}

// Valid reports whether role is known.
func (r Role) Valid() bool {
	return r == Primary || r == Secondary
}

// ParseRole parses role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", errors.Wrapf(ErrInvalidIdentity, "unknown role %q", s)
	}
	return r, nil
}

// Identity identifies one end of a link.
type Identity struct {
	Namespace string
	ID        string
	Role      Role
}

// Validate verifies identity.
func (id Identity) Validate() error {
	if id.ID == "" {
		return errors.Wrap(ErrInvalidIdentity, "participant ID is required")
	}
	if !id.Role.Valid() {
		return errors.Wrapf(ErrInvalidIdentity, "unknown role %q", id.Role)
	}
	return nil
}

// SessionID returns ID shared by both ends of the link.
func (id Identity) SessionID() string {
	if id.Namespace == "" {
		return id.ID
	}
	return id.Namespace + "/" + id.ID
}

// SenderMark returns the mark of payloads sent by this end.
func (id Identity) SenderMark() string {
	return mark(id.SessionID(), id.Role)
}

// ReceiverMark returns the mark of payloads accepted by this end.
func (id Identity) ReceiverMark() string {
	return mark(id.SessionID(), id.Role.Peer())
}

// EchoToken returns the handshake token of the link.
func (id Identity) EchoToken() string {
	return "slaveecho$$" + id.SessionID() + "$$"
}

func mark(sessionID string, role Role) string {
	return "$$" + sessionID + "$$$$" + string(role) + "$$"
}

// Package is the structured form of transferred payload.
type Package struct {
	Mark string `json:"__mark__"`
	Data any    `json:"data"`
}

// Channel is the link used by a session.
type Channel interface {
	// Open attaches the receive listener and runs the handshake.
	Open(ctx context.Context) error
	// Close detaches listener and tears the link down.
	Close()
	// Send hands the message over to the medium. It returns false if that was not possible.
	Send(msg *wire.Message) bool
	// Sendable reports whether Send may be called.
	Sendable() bool
	// Receivable reports whether received packages are delivered.
	Receivable() bool
	// OnReceive sets the callback receiving the data of accepted packages.
	OnReceive(fn func(data any))
	// OnClose registers teardown callback.
	OnClose(fn func())
}

// Factory creates channel for the identity.
type Factory func(id Identity) (Channel, error)
