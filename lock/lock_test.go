package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/rpckit/lock"
)

func TestWaitersAreAdmittedInFIFOOrder(t *testing.T) {
	requireT := require.New(t)
	ctx := context.Background()

	var m lock.Mutex
	unlock, err := m.Lock(ctx)
	requireT.NoError(err)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			requireT.NoError(m.Do(ctx, func(ctx context.Context) error {
				mu.Lock()
				defer mu.Unlock()
				order = append(order, i)
				return nil
			}))
		}()
		requireT.Eventually(func() bool { return m.Waiting() == i+1 }, time.Second, time.Millisecond)
	}

	unlock()
	unlock()
	wg.Wait()

	requireT.Equal([]int{0, 1, 2}, order)
	requireT.False(m.Locked())
}

func TestLockIsReleasedOnErrorAndPanic(t *testing.T) {
	requireT := require.New(t)
	ctx := context.Background()

	var m lock.Mutex
	errTest := errors.New("test")
	requireT.ErrorIs(m.Do(ctx, func(ctx context.Context) error { return errTest }), errTest)
	requireT.False(m.Locked())

	requireT.Panics(func() {
		_ = m.Do(ctx, func(ctx context.Context) error { panic("boom") })
	})
	requireT.False(m.Locked())
}

func TestCancelledWaiterLeavesQueue(t *testing.T) {
	requireT := require.New(t)

	var m lock.Mutex
	unlock, err := m.Lock(context.Background())
	requireT.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = m.Lock(ctx)
	requireT.ErrorIs(err, context.DeadlineExceeded)
	requireT.Zero(m.Waiting())

	unlock()
	requireT.False(m.Locked())

	unlock2, err := m.Lock(context.Background())
	requireT.NoError(err)
	unlock2()
}
