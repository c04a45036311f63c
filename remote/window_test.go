package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBufferedPayloadsReachListenerOutsideLock(t *testing.T) {
	requireT := require.New(t)

	w := newWindow()
	w.deliver("a")
	w.deliver("b")

	var received []any
	done := make(chan struct{})
	go func() {
		defer close(done)

		w.Listen(func(v any) {
			received = append(received, v)
			if v == "a" {
				// Listener reaching the window synchronously.
				w.Listen(func(any) {})()
				w.close()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		requireT.Fail("listener blocked on window")
	}
	requireT.Equal([]any{"a", "b"}, received)

	select {
	case <-w.Done():
	default:
		requireT.Fail("window not closed")
	}
}

func TestPayloadsAreDeliveredInOrder(t *testing.T) {
	requireT := require.New(t)

	w := newWindow()
	w.deliver("1")

	received := make(chan any, 3)
	unlisten := w.Listen(func(v any) {
		received <- v
	})
	defer unlisten()

	w.deliver("2")
	w.deliver("3")

	requireT.Equal("1", <-received)
	requireT.Equal("2", <-received)
	requireT.Equal("3", <-received)
}
