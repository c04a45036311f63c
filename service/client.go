package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/rpckit/bus"
	"github.com/outofforest/rpckit/correlator"
	"github.com/outofforest/rpckit/session"
	"github.com/outofforest/rpckit/wire"
)

// DefaultTimeout is the default timeout of API calls.
const DefaultTimeout = 30 * time.Second

// ExtTrace is the extension key carrying trace context of the call.
const ExtTrace = "trace"

// ClientConfig is the configuration of client.
type ClientConfig struct {
	// Timeout of API calls not having their own.
	Timeout time.Duration
}

// CallOptions are the options of single call.
type CallOptions struct {
	// Timeout overrides the API and client timeouts.
	Timeout time.Duration
	// Ext is passed to implementations requiring call context.
	Ext map[string]any
}

// Method calls single API.
type Method func(ctx context.Context, args ...any) (any, error)

type pendingCall struct {
	service string
	api     string
	opts    APIOptions
}

// Client calls services exposed by the peer.
type Client struct {
	ctx    context.Context
	sess   *session.Session
	log    *zap.Logger
	config ClientConfig
	corr   *correlator.Correlator
	events *bus.Bus[*wire.Message]

	mu      sync.Mutex
	proxies map[*Descriptor]*Proxy
}

// NewClient creates client sending calls through the session.
func NewClient(ctx context.Context, sess *session.Session, config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	c := &Client{
		ctx:     ctx,
		sess:    sess,
		log:     logger.Get(ctx),
		config:  config,
		corr:    correlator.New(),
		events:  bus.New[*wire.Message](),
		proxies: map[*Descriptor]*Proxy{},
	}

	sess.Handle(wire.TypeAPIReturn, c.onReturn)
	sess.Handle(wire.TypeVersionReturn, c.onReturn)
	sess.Handle(wire.TypeEvent, c.onEvent)
	sess.OnStateChange(func(state session.State) {
		if state == session.Closed {
			c.corr.Close(session.ErrClosed)
		}
	})

	return c
}

// Proxy returns proxy of the service.
func (c *Client) Proxy(desc *Descriptor) *Proxy {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, exists := c.proxies[desc]
	if !exists {
		p = &Proxy{client: c, desc: desc}
		c.proxies[desc] = p
	}
	return p
}

// Pending returns number of calls waiting for reply.
func (c *Client) Pending() int {
	return c.corr.Len()
}

func (c *Client) request(ctx context.Context, msg *wire.Message, timeout time.Duration, call pendingCall) (any, error) {
	prewait := make(chan error, 1)
	p := c.corr.Add(msg.ID, correlator.Options{
		Timeout: timeout,
		Prewait: prewait,
		CtxData: call,
	})
	if p == nil {
		return nil, errors.Errorf("call %q is already pending", msg.ID)
	}

	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		prewait <- c.sess.Send(sendCtx, msg)
	}()
	return p.Wait(ctx)
}

func (c *Client) onReturn(ctx context.Context, msg *wire.Message) {
	data, exists := c.corr.CtxData(msg.ID)
	if !exists {
		c.log.Debug("Reply to unknown call ignored", zap.String("id", msg.ID))
		return
	}
	call := data.(pendingCall)

	if msg.Error != nil {
		c.corr.Fail(msg.ID, remoteError(msg.Error, call.service, call.api))
		return
	}

	result := msg.Data
	if call.opts.DecodeResult != nil {
		var err error
		result, err = call.opts.DecodeResult(result)
		if err != nil {
			c.corr.Fail(msg.ID, errors.Wrapf(err, "decoding result of %s.%s failed", call.service, call.api))
			return
		}
	}
	c.corr.Succeed(msg.ID, result)
}

func (c *Client) onEvent(ctx context.Context, msg *wire.Message) {
	if c.events.Publish(eventTopic(msg.Service, msg.Event), msg) == 0 {
		c.log.Debug("Event has no subscribers", zap.String("service", msg.Service),
			zap.String("event", msg.Event))
	}
}

func eventTopic(service, event string) string {
	return service + "/" + event
}

// Proxy is the local stand-in of the peer's service.
type Proxy struct {
	client *Client
	desc   *Descriptor

	mu              sync.Mutex
	versionChecking bool
	versionChecked  bool
}

// Descriptor returns the descriptor of the service.
func (p *Proxy) Descriptor() *Descriptor {
	return p.desc
}

// Call calls the API.
func (p *Proxy) Call(ctx context.Context, api string, args ...any) (any, error) {
	return p.CallWith(ctx, api, CallOptions{}, args...)
}

// Method returns function calling the API.
func (p *Proxy) Method(api string) Method {
	return func(ctx context.Context, args ...any) (any, error) {
		return p.Call(ctx, api, args...)
	}
}

// CallWith calls the API using options. Fire-and-forget APIs return once the call is sent.
func (p *Proxy) CallWith(ctx context.Context, api string, opts CallOptions, args ...any) (any, error) {
	apiOpts, exists := p.desc.API(api)
	if !exists {
		return nil, errors.Wrapf(ErrUnknownAPI, "service %q has no api %q", p.desc.id, api)
	}

	p.checkVersion()

	if apiOpts.EncodeArgs != nil {
		var err error
		args, err = apiOpts.EncodeArgs(args)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidArgs, "encoding arguments of %s.%s failed: %s", p.desc.id, api, err)
		}
	}

	msg := &wire.Message{
		ID:      wire.NewID(),
		Type:    wire.TypeAPICall,
		Service: p.desc.id,
		API:     api,
		Args:    args,
		Ext:     injectTrace(ctx, opts.Ext),
	}

	if apiOpts.NoReturn {
		return nil, p.client.sess.Send(ctx, msg)
	}

	timeout := p.client.config.Timeout
	switch {
	case opts.Timeout > 0:
		timeout = opts.Timeout
	case apiOpts.Timeout > 0:
		timeout = apiOpts.Timeout
	}

	return p.client.request(ctx, msg, timeout, pendingCall{
		service: p.desc.id,
		api:     api,
		opts:    apiOpts,
	})
}

// On subscribes to the event of the service.
func (p *Proxy) On(event string, fn func(args []any)) (func(), error) {
	eventOpts, exists := p.desc.Event(event)
	if !exists {
		return nil, errors.Wrapf(ErrUnknownEvent, "service %q has no event %q", p.desc.id, event)
	}

	log := p.client.log
	token := p.client.events.Subscribe(eventTopic(p.desc.id, event), func(msg *wire.Message) {
		args := msg.Args
		if eventOpts.DecodeArgs != nil {
			var err error
			args, err = eventOpts.DecodeArgs(args)
			if err != nil {
				log.Warn("Decoding event arguments failed", zap.String("service", msg.Service),
					zap.String("event", msg.Event), zap.Error(err))
				return
			}
		}
		fn(args)
	})
	return func() {
		p.client.events.Unsubscribe(token)
	}, nil
}

func (p *Proxy) checkVersion() {
	if !p.desc.VersionCheck() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.versionChecking || p.versionChecked {
		return
	}
	p.versionChecking = true
	go p.verifyVersion()
}

func (p *Proxy) verifyVersion() {
	c := p.client
	log := c.log.With(zap.String("service", p.desc.id))

	res, err := c.request(c.ctx, &wire.Message{
		ID:      wire.NewID(),
		Type:    wire.TypeVersionCall,
		Service: p.desc.id,
	}, c.config.Timeout, pendingCall{service: p.desc.id})

	// Check is repeated on the next call unless the peer replied.
	var remoteErr *RemoteError
	replied := err == nil || errors.As(err, &remoteErr)

	p.mu.Lock()
	p.versionChecking = false
	p.versionChecked = replied
	p.mu.Unlock()

	if err != nil {
		log.Debug("Version check failed", zap.Error(err))
		return
	}

	if version, _ := res.(string); version != p.desc.version {
		log.Warn("Service version mismatch", zap.String("local", p.desc.version), zap.Any("remote", res))
	}
}

func injectTrace(ctx context.Context, ext map[string]any) map[string]any {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return ext
	}

	ext = lo.Assign(ext)
	ext[ExtTrace] = map[string]string(carrier)
	return ext
}

// As converts call result to the requested type. Results decoded from JSON are converted by
// encoding them again.
func As[T any](v any) (T, error) {
	if t, ok := v.(T); ok {
		return t, nil
	}

	var t T
	b, err := json.Marshal(v)
	if err != nil {
		return t, errors.WithStack(err)
	}
	if err := json.Unmarshal(b, &t); err != nil {
		return t, errors.Wrapf(err, "converting %T to %T failed", v, t)
	}
	return t, nil
}
