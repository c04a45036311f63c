package service

import (
	"context"
	"time"

	"github.com/outofforest/rpckit/wire"
)

// AccessRequest describes access checked by ACL resolver. API and Event are empty when
// access to the service as a whole is checked.
type AccessRequest struct {
	Service string
	Version string
	API     string
	Event   string
	Remote  wire.Peer
	// ACL is the value attached to the descriptor.
	ACL any
}

// ACLResolver decides whether the peer may access the service.
type ACLResolver interface {
	Allow(ctx context.Context, req AccessRequest) (bool, error)
}

// ACLFunc adapts function to ACLResolver.
type ACLFunc func(ctx context.Context, req AccessRequest) (bool, error)

// Allow calls the function.
func (f ACLFunc) Allow(ctx context.Context, req AccessRequest) (bool, error) {
	return f(ctx, req)
}

// Observation describes served API call.
type Observation struct {
	Service  string
	API      string
	Remote   wire.Peer
	NoReturn bool
	Duration time.Duration
	Err      error
}

// Observer is notified about every served API call.
type Observer interface {
	Observe(ctx context.Context, o Observation)
}

// ObserverFunc adapts function to Observer.
type ObserverFunc func(ctx context.Context, o Observation)

// Observe calls the function.
func (f ObserverFunc) Observe(ctx context.Context, o Observation) {
	f(ctx, o)
}
