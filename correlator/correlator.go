// Package correlator matches replies with the requests they answer.
package correlator

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrTimeout is returned when reply does not arrive in time.
	ErrTimeout = errors.New("request timed out")

	// ErrClosed is returned for requests pending when correlator is closed.
	ErrClosed = errors.New("correlator closed")
)

// Options configures pending request.
type Options struct {
	// Timeout after which request is rejected with ErrTimeout. Zero or negative disables it.
	Timeout time.Duration
	// Prewait is the operation sending the request. Reply is not reported before it completes
	// and its failure rejects the request.
	Prewait <-chan error
	// CtxData is attached to the request and available until it is settled.
	CtxData any
}

// Correlator keeps requests waiting for replies.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*Pending
}

// New creates new correlator.
func New() *Correlator {
	return &Correlator{
		pending: map[string]*Pending{},
	}
}

// Add registers request. It returns nil if request with the same ID is already pending,
// in that case the existing one is available from Get.
func (c *Correlator) Add(id string, opts Options) *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[id]; exists {
		return nil
	}

	p := &Pending{
		c:       c,
		id:      id,
		ctxData: opts.CtxData,
		prewait: opts.Prewait,
		done:    make(chan struct{}),
	}
	if opts.Timeout > 0 {
		p.timer = time.AfterFunc(opts.Timeout, func() {
			c.settle(id, nil, errors.Wrapf(ErrTimeout, "no reply in %s", opts.Timeout), true)
		})
	}
	c.pending[id] = p
	return p
}

// Get returns pending request.
func (c *Correlator) Get(id string) *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pending[id]
}

// CtxData returns data attached to pending request.
func (c *Correlator) CtxData(id string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, exists := c.pending[id]
	if !exists {
		return nil, false
	}
	return p.ctxData, true
}

// Succeed resolves request. It returns false if there is no such pending request.
func (c *Correlator) Succeed(id string, data any) bool {
	return c.settle(id, data, nil, false)
}

// Fail rejects request. It returns false if there is no such pending request.
func (c *Correlator) Fail(id string, err error) bool {
	return c.settle(id, nil, err, false)
}

// Len returns number of pending requests.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// Close rejects all the pending requests.
func (c *Correlator) Close(err error) {
	if err == nil {
		err = ErrClosed
	}

	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.Fail(id, err)
	}
}

func (c *Correlator) settle(id string, data any, err error, timedOut bool) bool {
	c.mu.Lock()
	p, exists := c.pending[id]
	if !exists {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, id)
	c.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	p.result = data
	p.err = err
	p.timedOut = timedOut
	close(p.done)
	return true
}

// Pending is a request waiting for reply.
type Pending struct {
	c       *Correlator
	id      string
	ctxData any
	prewait <-chan error
	timer   *time.Timer

	done     chan struct{}
	result   any
	err      error
	timedOut bool
}

// ID returns correlation ID.
func (p *Pending) ID() string {
	return p.id
}

// Done is closed when request is settled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait waits for the outcome of the request. Cancelling ctx rejects the request.
func (p *Pending) Wait(ctx context.Context) (any, error) {
	prewait := p.prewait
	for {
		select {
		case <-p.done:
			if p.timedOut || prewait == nil {
				return p.result, p.err
			}
			select {
			case err := <-prewait:
				if err != nil && p.err == nil {
					return nil, err
				}
			case <-ctx.Done():
				return nil, errors.WithStack(ctx.Err())
			}
			return p.result, p.err
		case err := <-prewait:
			prewait = nil
			if err != nil {
				p.c.Fail(p.id, err)
			}
		case <-ctx.Done():
			p.c.Fail(p.id, errors.WithStack(ctx.Err()))
		}
	}
}
