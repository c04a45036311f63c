// Package rpckit connects two terminals, host and guest, living on the opposite ends of a
// message medium and lets them call services of each other.
package rpckit

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/rpckit/channel"
	"github.com/outofforest/rpckit/lock"
	"github.com/outofforest/rpckit/service"
	"github.com/outofforest/rpckit/session"
	"github.com/outofforest/rpckit/wire"
)

// Registration adds service to the registry of the terminal.
type Registration struct {
	Descriptor     *service.Descriptor
	Implementation *service.Implementation
	// Lazy defers creation of the instance to its first use.
	Lazy bool
}

// Timeouts overrides default timeouts. Zero value keeps the default.
type Timeouts struct {
	Open        time.Duration
	SessionCall time.Duration
	API         time.Duration
}

// Config is the configuration of terminal.
type Config struct {
	// ID is the participant ID shared by both terminals of the pair.
	ID        string
	Role      channel.Role
	Namespace string
	Channel   channel.Factory

	ACL      service.ACLResolver
	Services []Registration
	// Refer exposes services of another registry matched by ReferPattern, all of them if
	// pattern is nil.
	Refer        *service.Registry
	ReferPattern service.Pattern

	SessionCheck session.CheckConfig
	Timeouts     Timeouts
	Observers    []service.Observer
	Tracer       trace.Tracer
}

// Terminal is one end of the pair. It owns session, client calling services of the peer and
// server exposing services of its registry.
type Terminal struct {
	id       channel.Identity
	log      *zap.Logger
	registry *service.Registry
	sess     *session.Session
	client   *service.Client
	server   *service.Server

	openLock lock.Mutex

	mu       sync.Mutex
	released bool
}

// NewTerminal creates terminal with closed session.
func NewTerminal(ctx context.Context, config Config) (*Terminal, error) {
	id := channel.Identity{
		Namespace: config.Namespace,
		ID:        config.ID,
		Role:      config.Role,
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if config.Channel == nil {
		return nil, errors.WithStack(ErrMissingChannel)
	}

	log := logger.Get(ctx).With(
		zap.String("terminal", id.SessionID()),
		zap.String("role", string(id.Role)),
	)
	ctx = logger.WithLogger(ctx, log)

	registry := service.NewRegistry(ctx)
	for _, r := range config.Services {
		var opts []service.AddOption
		if r.Lazy {
			opts = append(opts, service.Lazy())
		}
		if err := registry.AddService(ctx, r.Descriptor, r.Implementation, opts...); err != nil {
			return nil, multierr.Append(err, registry.Release(ctx))
		}
	}
	if config.Refer != nil {
		pattern := config.ReferPattern
		if pattern == nil {
			pattern = service.Func(func(string) bool { return true })
		}
		if err := registry.Refer(config.Refer, pattern); err != nil {
			return nil, multierr.Append(err, registry.Release(ctx))
		}
	}

	ch, err := config.Channel(id)
	if err != nil {
		return nil, multierr.Append(err, registry.Release(ctx))
	}

	sess, err := session.New(ctx, session.Config{
		Channel:     ch,
		OpenTimeout: config.Timeouts.Open,
		CallTimeout: config.Timeouts.SessionCall,
		Check:       config.SessionCheck,
	})
	if err != nil {
		return nil, multierr.Append(err, registry.Release(ctx))
	}

	return &Terminal{
		id:       id,
		log:      log,
		registry: registry,
		sess:     sess,
		client: service.NewClient(ctx, sess, service.ClientConfig{
			Timeout: config.Timeouts.API,
		}),
		server: service.NewServer(ctx, sess, registry, service.ServerConfig{
			Remote:    wire.Peer{ID: id.ID, Role: string(id.Role.Peer())},
			ACL:       config.ACL,
			Observers: config.Observers,
			Tracer:    config.Tracer,
		}),
	}, nil
}

// OpenSession opens the session. Concurrent calls are served one by one, in order. Calling it on
// opened session does nothing.
func (t *Terminal) OpenSession(ctx context.Context) error {
	unlock, err := t.openLock.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if t.isReleased() {
		return errors.WithStack(ErrReleased)
	}
	if t.sess.State() == session.Opened {
		return nil
	}

	t.log.Debug("Opening session")
	return t.sess.Open(ctx, session.OpenOptions{})
}

// CloseSession closes the session. It may be opened again later.
func (t *Terminal) CloseSession() {
	t.sess.Close()
}

// Release closes the session for good and closes instances of the registered services.
func (t *Terminal) Release(ctx context.Context) error {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return nil
	}
	t.released = true
	t.mu.Unlock()

	t.server.Close()
	t.sess.Release()

	// Waits for the opening cancelled above.
	var err error
	if unlock, lockErr := t.openLock.Lock(ctx); lockErr != nil {
		err = lockErr
	} else {
		unlock()
	}

	err = multierr.Append(err, t.registry.Release(ctx))
	t.log.Debug("Terminal released", zap.Error(err))
	return err
}

// Identity returns identity of the terminal.
func (t *Terminal) Identity() channel.Identity {
	return t.id
}

// Peer returns identity of the terminal on the other end.
func (t *Terminal) Peer() wire.Peer {
	return wire.Peer{ID: t.id.ID, Role: string(t.id.Role.Peer())}
}

// Client returns client calling services of the peer.
func (t *Terminal) Client() *service.Client {
	return t.client
}

// Server returns server exposing services to the peer.
func (t *Terminal) Server() *service.Server {
	return t.server
}

// Registry returns registry of services exposed to the peer.
func (t *Terminal) Registry() *service.Registry {
	return t.registry
}

// Session returns the session of the terminal.
func (t *Terminal) Session() *session.Session {
	return t.sess
}

func (t *Terminal) isReleased() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.released
}
