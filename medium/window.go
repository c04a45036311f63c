package medium

import (
	"sync"

	"github.com/pkg/errors"
)

var _ Window = &InMemoryWindow{}

// WindowOption configures in-memory window.
type WindowOption func(w *InMemoryWindow)

// WithStringsOnly makes window reject every payload which is not a string.
func WithStringsOnly() WindowOption {
	return func(w *InMemoryWindow) {
		w.stringsOnly = true
	}
}

type windowListener struct {
	fn func(v any)
}

// InMemoryWindow delivers posted payloads to its listeners asynchronously, in the order they
// were posted.
type InMemoryWindow struct {
	stringsOnly bool

	mu        sync.Mutex
	closed    bool
	draining  bool
	queue     []any
	listeners []*windowListener
	idle      chan struct{}
}

// NewWindow creates new in-memory window.
func NewWindow(opts ...WindowOption) *InMemoryWindow {
	w := &InMemoryWindow{}
	for _, o := range opts {
		o(w)
	}
	return w
}

// PostMessage enqueues copy of the payload for delivery.
func (w *InMemoryWindow) PostMessage(v any) error {
	if _, ok := v.(string); !ok {
		if w.stringsOnly {
			return errors.Wrapf(ErrDataClone, "payload of type %T", v)
		}
		c, err := Clone(v)
		if err != nil {
			return err
		}
		v = c
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.WithStack(ErrClosed)
	}

	w.queue = append(w.queue, v)
	if !w.draining {
		w.draining = true
		w.idle = make(chan struct{})
		go w.drain()
	}
	return nil
}

// Listen attaches listener.
func (w *InMemoryWindow) Listen(fn func(v any)) func() {
	l := &windowListener{fn: fn}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.listeners = append(w.listeners, l)

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

// Listeners returns number of attached listeners.
func (w *InMemoryWindow) Listeners() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.listeners)
}

// Flush waits until all the payloads posted so far are delivered.
func (w *InMemoryWindow) Flush() {
	w.mu.Lock()
	idle := w.idle
	draining := w.draining
	w.mu.Unlock()

	if draining {
		<-idle
	}
}

// Close drops pending payloads and rejects future ones.
func (w *InMemoryWindow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	w.queue = nil
	w.listeners = nil
}

func (w *InMemoryWindow) drain() {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.draining = false
			close(w.idle)
			w.mu.Unlock()
			return
		}
		v := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		listeners := append([]*windowListener(nil), w.listeners...)
		w.mu.Unlock()

		for _, l := range listeners {
			l.fn(v)
		}
	}
}
