package remote

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/rpckit/medium"
)

var _ medium.Window = &Window{}

// Window is the medium connecting to the peer on the other end of the connection. Only strings
// are transferred, so channels fall back to the string form of packages. Payloads arriving
// before the first listener is attached are buffered.
type Window struct {
	sendCh chan string
	done   chan struct{}

	// deliverMu keeps payloads in order while buffered ones are flushed to the first listener.
	deliverMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	listeners []*listener
	pending   []string
}

type listener struct {
	fn func(v any)
}

func newWindow() *Window {
	return &Window{
		sendCh: make(chan string, 64),
		done:   make(chan struct{}),
	}
}

// PostMessage sends payload to the peer.
func (w *Window) PostMessage(v any) error {
	s, ok := v.(string)
	if !ok {
		return errors.Wrapf(medium.ErrDataClone, "payload of type %T", v)
	}

	select {
	case <-w.done:
		return errors.WithStack(medium.ErrClosed)
	default:
	}

	select {
	case <-w.done:
		return errors.WithStack(medium.ErrClosed)
	case w.sendCh <- s:
		return nil
	}
}

// Listen attaches listener receiving payloads sent by the peer.
func (w *Window) Listen(fn func(v any)) func() {
	l := &listener{fn: fn}

	w.mu.Lock()
	if len(w.pending) == 0 {
		w.listeners = append(w.listeners, l)
		w.mu.Unlock()
		return w.unlisten(l)
	}
	w.mu.Unlock()

	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()

	w.mu.Lock()
	w.listeners = append(w.listeners, l)
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()

	for _, s := range pending {
		fn(s)
	}
	return w.unlisten(l)
}

func (w *Window) unlisten(l *listener) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()

			for i, l2 := range w.listeners {
				if l2 == l {
					w.listeners = append(w.listeners[:i:i], w.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Done is closed when connection is closed.
func (w *Window) Done() <-chan struct{} {
	return w.done
}

func (w *Window) deliver(s string) {
	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()

	w.mu.Lock()
	if len(w.listeners) == 0 {
		w.pending = append(w.pending, s)
		w.mu.Unlock()
		return
	}
	listeners := append([]*listener(nil), w.listeners...)
	w.mu.Unlock()

	for _, l := range listeners {
		l.fn(s)
	}
}

func (w *Window) close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.closed = true
	w.listeners = nil
	w.pending = nil
	close(w.done)
}
