package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/rpckit/session"
	"github.com/outofforest/rpckit/wire"
)

// ServerConfig is the configuration of server.
type ServerConfig struct {
	// Remote identifies the peer in call contexts and access requests.
	Remote    wire.Peer
	ACL       ACLResolver
	Observers []Observer
	// Tracer creates span for every API call. Global tracer is used by default.
	Tracer trace.Tracer
}

// Server serves calls of the peer using services of the registry and forwards their events.
type Server struct {
	ctx      context.Context
	sess     *session.Session
	registry *Registry
	config   ServerConfig
	log      *zap.Logger
	audit    *zap.Logger

	mu          sync.Mutex
	closed      bool
	unsubscribe func()
	events      []Event
	forwarding  bool
}

// NewServer creates server handling calls received by the session.
func NewServer(ctx context.Context, sess *session.Session, registry *Registry, config ServerConfig) *Server {
	if config.Tracer == nil {
		config.Tracer = otel.Tracer("github.com/outofforest/rpckit/service")
	}

	log := logger.Get(ctx).With(zap.String("remote", config.Remote.ID))
	s := &Server{
		ctx:      ctx,
		sess:     sess,
		registry: registry,
		config:   config,
		log:      log,
		audit:    log.Named("audit"),
	}

	sess.Handle(wire.TypeAPICall, func(ctx context.Context, msg *wire.Message) {
		go s.serveAPI(msg)
	})
	sess.Handle(wire.TypeVersionCall, func(ctx context.Context, msg *wire.Message) {
		go s.serveVersion(msg)
	})
	s.unsubscribe = registry.SubscribeEvents(s.enqueue)

	return s
}

// Close stops serving calls and forwarding events.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.events = nil
	s.unsubscribe()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

func (s *Server) serveVersion(msg *wire.Message) {
	if s.isClosed() {
		return
	}

	reply := msg.Reply(wire.TypeVersionReturn)
	if desc, exists := s.registry.Descriptor(msg.Service); exists {
		reply.Data = desc.Version()
	} else {
		reply.Error = wireError(errors.Wrapf(ErrUnknownService, "service %q", msg.Service))
	}
	s.send(reply)
}

func (s *Server) serveAPI(msg *wire.Message) {
	if s.isClosed() {
		return
	}

	ctx := extractTrace(s.ctx, msg.Ext)
	ctx, span := s.config.Tracer.Start(ctx, msg.Service+"/"+msg.API,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "rpckit"),
			attribute.String("rpc.service", msg.Service),
			attribute.String("rpc.method", msg.API),
		))
	defer span.End()

	start := time.Now()
	desc, apiOpts, result, err := s.invoke(ctx, msg)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	if desc != nil && desc.Observed() {
		o := Observation{
			Service:  msg.Service,
			API:      msg.API,
			Remote:   s.config.Remote,
			NoReturn: apiOpts.NoReturn,
			Duration: duration,
			Err:      err,
		}
		for _, observer := range s.config.Observers {
			observer.Observe(ctx, o)
		}
	}

	if apiOpts.NoReturn {
		if err != nil {
			s.log.Debug("Fire-and-forget call failed", zap.String("service", msg.Service),
				zap.String("api", msg.API), zap.Error(err))
		}
		return
	}

	reply := msg.Reply(wire.TypeAPIReturn)
	if err != nil {
		reply.Error = wireError(err)
	} else {
		reply.Data = result
	}
	s.send(reply)
}

func (s *Server) invoke(ctx context.Context, msg *wire.Message) (*Descriptor, APIOptions, any, error) {
	desc, exists := s.registry.Descriptor(msg.Service)
	if !exists {
		return nil, APIOptions{}, nil, errors.Wrapf(ErrUnknownService, "service %q", msg.Service)
	}
	apiOpts, exists := desc.API(msg.API)
	if !exists {
		return desc, APIOptions{}, nil, errors.Wrapf(ErrUnknownAPI, "service %q has no api %q", msg.Service, msg.API)
	}

	req := AccessRequest{
		Service: desc.id,
		Version: desc.version,
		Remote:  s.config.Remote,
		ACL:     desc.acl,
	}
	if err := s.authorize(ctx, req); err != nil {
		return desc, apiOpts, nil, err
	}
	req.API = msg.API
	if err := s.authorize(ctx, req); err != nil {
		return desc, apiOpts, nil, err
	}

	res, err := s.registry.resolve(ctx, desc.id, nil)
	if err != nil {
		return desc, apiOpts, nil, err
	}
	handler, exists := res.instance.Handler(msg.API)
	if !exists {
		return desc, apiOpts, nil, errors.Wrapf(ErrUnknownAPI, "service %q does not implement %q", msg.Service, msg.API)
	}

	args := msg.Args
	if apiOpts.DecodeArgs != nil {
		args, err = apiOpts.DecodeArgs(args)
		if err != nil {
			return desc, apiOpts, nil, errors.Wrapf(ErrInvalidArgs, "%s.%s: %s", msg.Service, msg.API, err)
		}
	}

	call := Call{Args: args}
	if res.impl.NeedsCallContext() {
		call.Context = &CallContext{
			Remote: s.config.Remote,
			Ext:    msg.Ext,
		}
	}

	result, err := runHandler(ctx, handler, call)
	if err != nil {
		return desc, apiOpts, nil, err
	}

	if apiOpts.EncodeResult != nil {
		result, err = apiOpts.EncodeResult(result)
		if err != nil {
			return desc, apiOpts, nil, errors.Wrapf(err, "encoding result of %s.%s failed", msg.Service, msg.API)
		}
	}
	return desc, apiOpts, result, nil
}

func runHandler(ctx context.Context, handler Handler, call Call) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, call)
}

func (s *Server) authorize(ctx context.Context, req AccessRequest) error {
	if s.config.ACL == nil {
		return nil
	}

	allowed, err := s.config.ACL.Allow(ctx, req)
	if err != nil {
		s.log.Error("ACL resolver failed", zap.String("service", req.Service), zap.Error(err))
	}
	if err == nil && allowed {
		return nil
	}

	s.audit.Warn("Access denied",
		zap.String("remoteID", req.Remote.ID),
		zap.String("remoteRole", req.Remote.Role),
		zap.String("service", req.Service),
		zap.String("api", req.API),
		zap.String("event", req.Event))
	return errors.Wrapf(ErrAccessDenied, "%s", target(req))
}

func target(req AccessRequest) string {
	switch {
	case req.API != "":
		return fmt.Sprintf("service %q api %q", req.Service, req.API)
	case req.Event != "":
		return fmt.Sprintf("service %q event %q", req.Service, req.Event)
	default:
		return fmt.Sprintf("service %q", req.Service)
	}
}

// enqueue schedules the event for forwarding. Events are forwarded in order by a single
// goroutine, so emitters never wait for the session.
func (s *Server) enqueue(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.events = append(s.events, ev)
	if !s.forwarding {
		s.forwarding = true
		go s.forwardQueued()
	}
}

func (s *Server) forwardQueued() {
	for {
		s.mu.Lock()
		if len(s.events) == 0 || s.closed {
			s.events = nil
			s.forwarding = false
			s.mu.Unlock()
			return
		}
		ev := s.events[0]
		s.events = s.events[1:]
		s.mu.Unlock()

		s.forward(ev)
	}
}

func (s *Server) forward(ev Event) {
	if s.isClosed() || s.sess.State() == session.Closed {
		return
	}

	desc, exists := s.registry.Descriptor(ev.Service)
	if !exists {
		return
	}
	eventOpts, _ := desc.Event(ev.Name)

	req := AccessRequest{
		Service: desc.id,
		Version: desc.version,
		Remote:  s.config.Remote,
		ACL:     desc.acl,
	}
	if s.authorize(s.ctx, req) != nil {
		return
	}
	req.Event = ev.Name
	if s.authorize(s.ctx, req) != nil {
		return
	}

	args := ev.Args
	if eventOpts.EncodeArgs != nil {
		var err error
		args, err = eventOpts.EncodeArgs(args)
		if err != nil {
			s.log.Warn("Encoding event arguments failed", zap.String("service", ev.Service),
				zap.String("event", ev.Name), zap.Error(err))
			return
		}
	}

	s.send(&wire.Message{
		ID:      wire.NewID(),
		Type:    wire.TypeEvent,
		Service: ev.Service,
		Event:   ev.Name,
		Args:    args,
	})
}

func (s *Server) send(msg *wire.Message) {
	if err := s.sess.Send(s.ctx, msg); err != nil {
		s.log.Debug("Sending message failed", zap.String("type", string(msg.Type)), zap.Error(err))
	}
}

func extractTrace(ctx context.Context, ext map[string]any) context.Context {
	carrier := propagation.MapCarrier{}
	switch values := ext[ExtTrace].(type) {
	case map[string]string:
		for k, v := range values {
			carrier[k] = v
		}
	case map[string]any:
		for k, v := range values {
			if s, ok := v.(string); ok {
				carrier[k] = s
			}
		}
	default:
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
