// Package session governs when a channel may be used and what happens to the messages
// submitted while it is not.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/rpckit/channel"
	"github.com/outofforest/rpckit/correlator"
	"github.com/outofforest/rpckit/wire"
)

// Default timeouts.
const (
	DefaultOpenTimeout = 30 * time.Second
	DefaultCallTimeout = 30 * time.Second
)

// CallPing is the session call answered by every session.
const CallPing = "ping"

// State is the state of the session.
type State int

// States.
const (
	Closed State = iota
	Opening
	Opened
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Opened:
		return "opened"
	default:
		return "unknown"
	}
}

// Config is the configuration of session.
type Config struct {
	Channel channel.Channel

	// OpenTimeout limits the handshake. Zero means default, negative value disables the limit.
	OpenTimeout time.Duration
	// CallTimeout is the default timeout of session calls.
	CallTimeout time.Duration

	Check CheckConfig
}

// OpenOptions configures opening.
type OpenOptions struct {
	// Waiting must deliver nil before session becomes open. Error aborts the opening.
	Waiting <-chan error
}

// CallHandler serves session call.
type CallHandler func(ctx context.Context, args []any) (any, error)

type op struct {
	send      *wire.Message
	recv      any
	result    chan error
	cancelled bool
}

type opening struct {
	done      chan struct{}
	err       error
	cancel    context.CancelFunc
	cancelled bool
	queue     []*op
}

// Session owns channel and decides what may be sent and received through it.
type Session struct {
	ctx    context.Context
	config Config
	ch     channel.Channel
	log    *zap.Logger
	corr   *correlator.Correlator

	mu             sync.Mutex
	state          State
	released       bool
	opening        *opening
	handlers       map[wire.MessageType]wire.Handler
	calls          map[string]CallHandler
	stateListeners []func(State)
	checker        *parallel.Group

	sendMu sync.Mutex
	recvMu sync.Mutex
}

// New creates new session in closed state.
func New(ctx context.Context, config Config) (*Session, error) {
	if config.Channel == nil {
		return nil, errors.New("channel is required")
	}
	if config.OpenTimeout == 0 {
		config.OpenTimeout = DefaultOpenTimeout
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultCallTimeout
	}
	config.Check = config.Check.withDefaults()

	s := &Session{
		ctx:      ctx,
		config:   config,
		ch:       config.Channel,
		log:      logger.Get(ctx),
		corr:     correlator.New(),
		handlers: map[wire.MessageType]wire.Handler{},
		calls:    map[string]CallHandler{},
	}
	s.calls[CallPing] = func(ctx context.Context, args []any) (any, error) {
		return "pong", nil
	}
	s.ch.OnReceive(s.recv)
	return s, nil
}

// State returns current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Channel returns the channel owned by session.
func (s *Session) Channel() channel.Channel {
	return s.ch
}

// Handle registers handler of the message type. Heartbeats and session calls are handled
// by the session itself.
func (s *Session) Handle(t wire.MessageType, h wire.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[t] = h
}

// HandleCall registers handler of the session call type.
func (s *Session) HandleCall(callType string, h CallHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[callType] = h
}

// OnStateChange registers callback called after every state transition.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stateListeners = append(s.stateListeners, fn)
}

// Open opens the session. Calling it while session is opening waits for the opening in
// progress.
func (s *Session) Open(ctx context.Context, opts OpenOptions) error {
	s.mu.Lock()
	return states[s.state].open(s, ctx, opts)
}

// Close closes the session. Opening in progress is cancelled.
func (s *Session) Close() {
	s.mu.Lock()
	states[s.state].close(s)
}

// Release closes the session for good.
func (s *Session) Release() {
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()

	s.Close()
}

// Send sends message. Messages sent while session is opening are queued and sent in order
// once it is open.
func (s *Session) Send(ctx context.Context, msg *wire.Message) error {
	s.mu.Lock()
	return states[s.state].send(s, ctx, msg)
}

// Call executes session call on the peer.
func (s *Session) Call(ctx context.Context, callType string, args ...any) (any, error) {
	return s.request(ctx, &wire.Message{
		ID:   wire.NewID(),
		Type: wire.TypeSessionCall,
		Call: callType,
		Args: args,
	}, s.config.CallTimeout)
}

func (s *Session) recv(data any) {
	s.mu.Lock()
	states[s.state].recv(s, data)
}

func (s *Session) request(ctx context.Context, msg *wire.Message, timeout time.Duration) (any, error) {
	prewait := make(chan error, 1)
	p := s.corr.Add(msg.ID, correlator.Options{Timeout: timeout, Prewait: prewait})
	if p == nil {
		return nil, errors.Errorf("request %q is already pending", msg.ID)
	}
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		prewait <- s.Send(sendCtx, msg)
	}()
	return p.Wait(ctx)
}

func (s *Session) notify(state State) {
	s.mu.Lock()
	listeners := append([]func(State){}, s.stateListeners...)
	s.mu.Unlock()

	s.log.Debug("Session state changed", zap.Stringer("state", state))
	for _, l := range listeners {
		l(state)
	}
}

func (s *Session) dispatch(data any) {
	msg, err := wire.Decode(data)
	if err != nil {
		s.log.Warn("Malformed package dropped", zap.Error(err))
		return
	}

	switch msg.Type {
	case wire.TypeHeartbeat:
		go s.reply(msg.Reply(wire.TypeSessionReturn))
	case wire.TypeSessionCall:
		go s.serveCall(msg)
	case wire.TypeSessionReturn:
		s.settle(msg)
	default:
		s.mu.Lock()
		h := s.handlers[msg.Type]
		s.mu.Unlock()

		if h == nil {
			s.log.Warn("No handler for message", zap.String("type", string(msg.Type)))
			return
		}
		h(s.ctx, msg)
	}
}

func (s *Session) serveCall(msg *wire.Message) {
	s.mu.Lock()
	h := s.calls[msg.Call]
	s.mu.Unlock()

	reply := msg.Reply(wire.TypeSessionReturn)
	if h == nil {
		reply.Error = &wire.Error{Code: "unknown_call", Message: ErrUnknownCall.Error() + ": " + msg.Call}
	} else {
		data, err := h(s.ctx, msg.Args)
		if err != nil {
			reply.Error = &wire.Error{Message: err.Error()}
		} else {
			reply.Data = data
		}
	}
	s.reply(reply)
}

func (s *Session) reply(msg *wire.Message) {
	if err := s.Send(s.ctx, msg); err != nil {
		s.log.Debug("Sending reply failed", zap.String("type", string(msg.Type)), zap.Error(err))
	}
}

func (s *Session) settle(msg *wire.Message) {
	var settled bool
	if msg.Error != nil {
		err := error(msg.Error)
		if msg.Error.Code == "unknown_call" {
			err = errors.Wrap(ErrUnknownCall, msg.Error.Message)
		}
		settled = s.corr.Fail(msg.ID, err)
	} else {
		settled = s.corr.Succeed(msg.ID, msg.Data)
	}
	if !settled {
		s.log.Debug("Reply to unknown request ignored", zap.String("id", msg.ID))
	}
}
