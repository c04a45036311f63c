package medium_test

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/rpckit/medium"
)

func TestCloneable(t *testing.T) {
	requireT := require.New(t)

	type withFunc struct {
		Fn func()
	}

	requireT.True(medium.Cloneable(nil))
	requireT.True(medium.Cloneable("text"))
	requireT.True(medium.Cloneable(map[string]any{"a": []any{1, "b", nil}}))
	requireT.False(medium.Cloneable(func() {}))
	requireT.False(medium.Cloneable(make(chan int)))
	requireT.False(medium.Cloneable(map[string]any{"a": []any{func() {}}}))
	requireT.False(medium.Cloneable(&withFunc{Fn: func() {}}))
}

func TestWindowDeliversInOrder(t *testing.T) {
	requireT := require.New(t)

	w := medium.NewWindow()
	var mu sync.Mutex
	var received []any
	unlisten := w.Listen(func(v any) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, v)
	})

	for i := range 100 {
		requireT.NoError(w.PostMessage(i))
	}
	w.Flush()

	mu.Lock()
	requireT.Len(received, 100)
	for i, v := range received {
		requireT.Equal(i, v)
	}
	mu.Unlock()

	unlisten()
	unlisten()
	requireT.Zero(w.Listeners())
}

func TestWindowRejectsNonCloneable(t *testing.T) {
	requireT := require.New(t)

	w := medium.NewWindow()
	err := w.PostMessage(func() {})
	requireT.True(errors.Is(err, medium.ErrDataClone))

	strict := medium.NewWindow(medium.WithStringsOnly())
	requireT.True(errors.Is(strict.PostMessage(map[string]any{}), medium.ErrDataClone))
	requireT.NoError(strict.PostMessage("text"))

	strict.Close()
	requireT.True(errors.Is(strict.PostMessage("text"), medium.ErrClosed))
}

func TestEventTargetDispatchesSynchronously(t *testing.T) {
	requireT := require.New(t)

	target := medium.NewEventTarget()
	var received []any
	unlisten := target.AddListener("msg", func(detail any) {
		received = append(received, detail)
	})
	target.AddListener("other", func(detail any) {
		requireT.Fail("unexpected event")
	})

	w := target.Window("msg")
	requireT.NoError(w.PostMessage("a"))
	requireT.NoError(target.Dispatch("msg", "b"))
	requireT.Equal([]any{"a", "b"}, received)

	unlisten()
	requireT.Zero(target.Listeners("msg"))
	requireT.True(errors.Is(target.Dispatch("msg", make(chan int)), medium.ErrDataClone))
}

func TestPayloadsAreCopied(t *testing.T) {
	requireT := require.New(t)

	type node struct {
		Value map[string]any
		Next  *node
	}

	n := &node{Value: map[string]any{"a": []any{1, "b"}}}
	n.Next = n

	c, err := medium.Clone(n)
	requireT.NoError(err)
	cn := c.(*node)
	requireT.NotSame(n, cn)
	requireT.Same(cn, cn.Next)
	requireT.Equal(n.Value, cn.Value)

	cn.Value["a"].([]any)[0] = 2
	requireT.Equal(1, n.Value["a"].([]any)[0])

	_, err = medium.Clone(func() {})
	requireT.True(errors.Is(err, medium.ErrDataClone))

	payload := map[string]any{"n": 1}

	w := medium.NewWindow()
	received := make(chan any, 1)
	w.Listen(func(v any) {
		received <- v
	})
	requireT.NoError(w.PostMessage(payload))
	payload["n"] = 2
	requireT.Equal(map[string]any{"n": 1}, <-received)

	target := medium.NewEventTarget()
	target.AddListener("msg", func(detail any) {
		detail.(map[string]any)["n"] = 3
	})
	requireT.NoError(target.Dispatch("msg", payload))
	requireT.Equal(map[string]any{"n": 2}, payload)
}
