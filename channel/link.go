package channel

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/rpckit/wire"
)

var _ Channel = &Link{}

// transport is the medium specific part of the link.
type transport interface {
	listen(fn func(v any)) (func(), error)
	post(v any) error
	// setup materializes the remote endpoint. It is run by the primary side only.
	setup(ctx context.Context) error
	teardown()
}

// Link implements the channel protocol over a transport.
type Link struct {
	id           Identity
	dontWaitEcho bool
	t            transport

	mu         sync.Mutex
	log        *zap.Logger
	open       bool
	sendable   bool
	receivable bool
	unlisten   func()
	echo       chan struct{}
	echoed     bool
	receiver   func(data any)
	onClose    []func()
}

func newLink(id Identity, dontWaitEcho bool, t transport) (*Link, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return &Link{
		id:           id,
		dontWaitEcho: dontWaitEcho,
		t:            t,
		log:          zap.NewNop(),
	}, nil
}

// Identity returns identity of the link.
func (l *Link) Identity() Identity {
	return l.id
}

// Open attaches listener and runs the handshake.
func (l *Link) Open(ctx context.Context) error {
	l.mu.Lock()
	if l.open {
		l.mu.Unlock()
		return errors.WithStack(ErrAlreadyOpen)
	}
	l.open = true
	l.echo = make(chan struct{})
	l.echoed = false
	l.log = logger.Get(ctx).With(
		zap.String("session", l.id.SessionID()),
		zap.String("role", string(l.id.Role)),
	)
	echo := l.echo
	log := l.log
	l.mu.Unlock()

	unlisten, err := l.t.listen(l.receive)
	if err != nil {
		l.Close()
		return err
	}

	l.mu.Lock()
	l.unlisten = unlisten
	l.receivable = true
	l.mu.Unlock()

	if l.id.Role == Secondary {
		if err := l.post(l.id.EchoToken()); err != nil {
			l.Close()
			return errors.Wrap(err, "sending echo failed")
		}
		log.Debug("Echo sent")
		l.setSendable()
		return nil
	}

	if err := l.t.setup(ctx); err != nil {
		l.Close()
		return errors.Wrap(err, "channel setup failed")
	}

	if !l.dontWaitEcho {
		log.Debug("Waiting for echo")
		select {
		case <-ctx.Done():
			l.Close()
			return errors.WithStack(ctx.Err())
		case <-echo:
		}
	}

	l.setSendable()
	log.Debug("Channel open")
	return nil
}

// Close detaches listener, tears transport down and fires teardown callbacks.
func (l *Link) Close() {
	l.mu.Lock()
	if !l.open {
		l.mu.Unlock()
		return
	}
	l.open = false
	l.sendable = false
	l.receivable = false
	unlisten := l.unlisten
	l.unlisten = nil
	callbacks := append([]func(){}, l.onClose...)
	l.mu.Unlock()

	if unlisten != nil {
		unlisten()
	}
	l.t.teardown()
	for _, cb := range callbacks {
		cb()
	}
}

// Send posts the message, structured form first and string form if the medium refuses it.
func (l *Link) Send(msg *wire.Message) bool {
	if !l.Sendable() {
		return false
	}

	err := l.post(&Package{Mark: l.id.SenderMark(), Data: msg})
	if err == nil {
		return true
	}

	b, err2 := json.Marshal(msg)
	if err2 != nil {
		l.logger().Warn("Message can't be serialized", zap.Error(err), zap.Error(err2))
		return false
	}
	if err2 := l.post(l.id.SenderMark() + string(b)); err2 != nil {
		l.logger().Warn("Posting message failed", zap.Error(err), zap.Error(err2))
		return false
	}
	return true
}

// Sendable reports whether link accepts messages.
func (l *Link) Sendable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.sendable
}

// Receivable reports whether link delivers received packages.
func (l *Link) Receivable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.receivable
}

// OnReceive sets receive callback.
func (l *Link) OnReceive(fn func(data any)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.receiver = fn
}

// OnClose registers teardown callback.
func (l *Link) OnClose(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.onClose = append(l.onClose, fn)
}

func (l *Link) setSendable() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.open {
		l.sendable = true
	}
}

func (l *Link) logger() *zap.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.log
}

func (l *Link) post(v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrPostPanicked, "%v", r)
		}
	}()
	return l.t.post(v)
}

func (l *Link) receive(v any) {
	var data any
	switch p := v.(type) {
	case string:
		if p == l.id.EchoToken() {
			l.receiveEcho()
			return
		}
		rest, ok := strings.CutPrefix(p, l.id.ReceiverMark())
		if !ok {
			return
		}
		data = json.RawMessage(rest)
	case *Package:
		if p == nil || p.Mark != l.id.ReceiverMark() {
			return
		}
		data = p.Data
	case Package:
		if p.Mark != l.id.ReceiverMark() {
			return
		}
		data = p.Data
	case map[string]any:
		if m, _ := p["__mark__"].(string); m != l.id.ReceiverMark() {
			return
		}
		data = p["data"]
	default:
		return
	}

	l.mu.Lock()
	receiver := l.receiver
	receivable := l.receivable
	l.mu.Unlock()

	if receivable && receiver != nil {
		receiver(data)
	}
}

func (l *Link) receiveEcho() {
	if l.id.Role != Primary {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.open && !l.echoed {
		l.echoed = true
		close(l.echo)
	}
}
