// Package lock provides mutex admitting one holder at a time and handing the lock over
// to waiters in the order they arrived.
package lock

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrNotLocked is returned by unlock of mutex which is not held.
var ErrNotLocked = errors.New("mutex is not locked")

// Mutex is FIFO mutex.
type Mutex struct {
	mu      sync.Mutex
	locked  bool
	waiters []chan struct{}
}

// Lock waits until mutex is acquired. The returned function releases it and is safe to call
// more than once.
func (m *Mutex) Lock(ctx context.Context) (func(), error) {
	m.mu.Lock()
	if !m.locked {
		m.locked = true
		m.mu.Unlock()
		return m.unlockFunc(), nil
	}

	ch := make(chan struct{})
	m.waiters = append(m.waiters, ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return m.unlockFunc(), nil
	case <-ctx.Done():
		m.mu.Lock()
		defer m.mu.Unlock()

		for i, w := range m.waiters {
			if w == ch {
				m.waiters = append(m.waiters[:i:i], m.waiters[i+1:]...)
				return nil, errors.WithStack(ctx.Err())
			}
		}

		// Lock was handed over in the meantime so it must be passed on.
		m.handOver()
		return nil, errors.WithStack(ctx.Err())
	}
}

// Do runs fn while holding the lock. The lock is released on every exit path, panics included.
func (m *Mutex) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	unlock, err := m.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	return fn(ctx)
}

// Locked reports whether mutex is held.
func (m *Mutex) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.locked
}

// Waiting returns number of waiters.
func (m *Mutex) Waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.waiters)
}

func (m *Mutex) unlockFunc() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()

			m.handOver()
		})
	}
}

func (m *Mutex) handOver() {
	if len(m.waiters) == 0 {
		m.locked = false
		return
	}

	next := m.waiters[0]
	m.waiters = m.waiters[1:]
	close(next)
}
