package session_test

//go:generate mockgen -destination mock_channel_test.go -package session_test -write_package_comment=false github.com/outofforest/rpckit/channel Channel

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/outofforest/qa"
	"github.com/outofforest/rpckit/channel"
	"github.com/outofforest/rpckit/correlator"
	"github.com/outofforest/rpckit/medium"
	"github.com/outofforest/rpckit/session"
	"github.com/outofforest/rpckit/wire"
)

func blockingOpen(release <-chan struct{}) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-release:
			return nil
		}
	}
}

func startOpen(ctx context.Context, s *session.Session, opts session.OpenOptions) <-chan error {
	opened := make(chan error, 1)
	go func() {
		opened <- s.Open(ctx, opts)
	}()
	return opened
}

func TestQueuedSendsAreFlushedInOrder(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	ctrl := gomock.NewController(t)

	release := make(chan struct{})
	var mu sync.Mutex
	var sent []string

	ch := NewMockChannel(ctrl)
	ch.EXPECT().OnReceive(gomock.Any())
	ch.EXPECT().Open(gomock.Any()).DoAndReturn(blockingOpen(release))
	ch.EXPECT().Send(gomock.Any()).DoAndReturn(func(msg *wire.Message) bool {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, msg.ID)
		return true
	}).Times(4)
	ch.EXPECT().Close()

	s, err := session.New(ctx, session.Config{Channel: ch})
	requireT.NoError(err)

	opened := startOpen(ctx, s, session.OpenOptions{})
	requireT.Eventually(func() bool { return s.State() == session.Opening }, time.Second, time.Millisecond)

	results := make(chan error, 3)
	for i := range 3 {
		go func() {
			results <- s.Send(ctx, &wire.Message{ID: strconv.Itoa(i), Type: wire.TypeEvent})
		}()
		requireT.Eventually(func() bool { return s.QueueLen() == i+1 }, time.Second, time.Millisecond)
	}

	close(release)
	requireT.NoError(<-opened)
	requireT.Equal(session.Opened, s.State())
	for range 3 {
		requireT.NoError(<-results)
	}

	requireT.NoError(s.Send(ctx, &wire.Message{ID: "3", Type: wire.TypeEvent}))

	mu.Lock()
	requireT.Equal([]string{"0", "1", "2", "3"}, sent)
	mu.Unlock()

	s.Close()
	requireT.Equal(session.Closed, s.State())
}

func TestConcurrentOpensShareHandshake(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	ctrl := gomock.NewController(t)

	release := make(chan struct{})
	ch := NewMockChannel(ctrl)
	ch.EXPECT().OnReceive(gomock.Any())
	ch.EXPECT().Open(gomock.Any()).DoAndReturn(blockingOpen(release)).Times(1)
	ch.EXPECT().Close()

	s, err := session.New(ctx, session.Config{Channel: ch})
	requireT.NoError(err)

	var states []session.State
	var mu sync.Mutex
	s.OnStateChange(func(state session.State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, state)
	})

	opened := startOpen(ctx, s, session.OpenOptions{})
	requireT.Eventually(func() bool { return s.State() == session.Opening }, time.Second, time.Millisecond)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	requireT.ErrorIs(s.Open(waitCtx, session.OpenOptions{}), context.DeadlineExceeded)
	requireT.Equal(session.Opening, s.State())

	close(release)
	requireT.NoError(<-opened)
	requireT.ErrorIs(s.Open(ctx, session.OpenOptions{}), session.ErrAlreadyOpened)

	s.Close()
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	requireT.Equal([]session.State{session.Opening, session.Opened, session.Closed}, states)
}

func TestOpenTimeoutRejectsQueuedSends(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	ctrl := gomock.NewController(t)

	ch := NewMockChannel(ctrl)
	ch.EXPECT().OnReceive(gomock.Any())
	ch.EXPECT().Open(gomock.Any()).DoAndReturn(blockingOpen(nil))
	ch.EXPECT().Close()

	s, err := session.New(ctx, session.Config{
		Channel:     ch,
		OpenTimeout: 200 * time.Millisecond,
	})
	requireT.NoError(err)

	opened := startOpen(ctx, s, session.OpenOptions{})
	requireT.Eventually(func() bool { return s.State() == session.Opening }, time.Second, time.Millisecond)

	sent := make(chan error, 1)
	go func() {
		sent <- s.Send(ctx, &wire.Message{ID: "1", Type: wire.TypeEvent})
	}()
	requireT.Eventually(func() bool { return s.QueueLen() == 1 }, time.Second, time.Millisecond)

	requireT.ErrorIs(<-opened, session.ErrOpenTimeout)
	requireT.ErrorIs(<-sent, session.ErrNotOpened)
	requireT.Equal(session.Closed, s.State())
	requireT.ErrorIs(s.Send(ctx, &wire.Message{ID: "2", Type: wire.TypeEvent}), session.ErrNotOpened)
}

func TestCloseCancelsOpening(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	ctrl := gomock.NewController(t)

	ch := NewMockChannel(ctrl)
	ch.EXPECT().OnReceive(gomock.Any())
	ch.EXPECT().Open(gomock.Any()).DoAndReturn(blockingOpen(nil))
	ch.EXPECT().Close()

	s, err := session.New(ctx, session.Config{Channel: ch, OpenTimeout: -1})
	requireT.NoError(err)

	opened := startOpen(ctx, s, session.OpenOptions{})
	requireT.Eventually(func() bool { return s.State() == session.Opening }, time.Second, time.Millisecond)

	s.Close()
	requireT.ErrorIs(<-opened, session.ErrOpenCancelled)
	requireT.Equal(session.Closed, s.State())
}

func TestOpeningWaitsForWaitingOption(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	ctrl := gomock.NewController(t)

	ch := NewMockChannel(ctrl)
	ch.EXPECT().OnReceive(gomock.Any())
	ch.EXPECT().Open(gomock.Any()).Return(nil)
	ch.EXPECT().Close()

	s, err := session.New(ctx, session.Config{Channel: ch})
	requireT.NoError(err)

	waiting := make(chan error, 1)
	opened := startOpen(ctx, s, session.OpenOptions{Waiting: waiting})

	select {
	case err := <-opened:
		requireT.Fail("session opened before waiting completed", "%v", err)
	case <-time.After(20 * time.Millisecond):
	}
	requireT.Equal(session.Opening, s.State())

	waiting <- nil
	requireT.NoError(<-opened)
	requireT.Equal(session.Opened, s.State())
	s.Close()
}

func TestWaitingFailureAbortsOpening(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	ctrl := gomock.NewController(t)

	ch := NewMockChannel(ctrl)
	ch.EXPECT().OnReceive(gomock.Any())
	ch.EXPECT().Open(gomock.Any()).Return(nil)
	ch.EXPECT().Close()

	s, err := session.New(ctx, session.Config{Channel: ch})
	requireT.NoError(err)

	errTest := errors.New("test")
	waiting := make(chan error, 1)
	waiting <- errTest
	requireT.ErrorIs(s.Open(ctx, session.OpenOptions{Waiting: waiting}), errTest)
	requireT.Equal(session.Closed, s.State())
}

func TestReleasedSessionCannotBeOpened(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	ctrl := gomock.NewController(t)

	ch := NewMockChannel(ctrl)
	ch.EXPECT().OnReceive(gomock.Any())

	s, err := session.New(ctx, session.Config{Channel: ch})
	requireT.NoError(err)

	s.Release()
	requireT.ErrorIs(s.Open(ctx, session.OpenOptions{}), session.ErrReleased)
}

func TestRefusedSendIsReported(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	ctrl := gomock.NewController(t)

	ch := NewMockChannel(ctrl)
	ch.EXPECT().OnReceive(gomock.Any())
	ch.EXPECT().Open(gomock.Any()).Return(nil)
	ch.EXPECT().Send(gomock.Any()).Return(false)
	ch.EXPECT().Close()

	s, err := session.New(ctx, session.Config{Channel: ch})
	requireT.NoError(err)

	requireT.ErrorIs(s.Send(ctx, &wire.Message{ID: "1", Type: wire.TypeEvent}), session.ErrNotOpened)
	requireT.NoError(s.Open(ctx, session.OpenOptions{}))
	requireT.ErrorIs(s.Send(ctx, &wire.Message{ID: "1", Type: wire.TypeEvent}), session.ErrSendFailed)
	s.Close()
}

func TestReceivedPackagesAreQueuedAndMalformedDropped(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	ctrl := gomock.NewController(t)

	release := make(chan struct{})
	var receive func(data any)

	ch := NewMockChannel(ctrl)
	ch.EXPECT().OnReceive(gomock.Any()).Do(func(fn func(any)) {
		receive = fn
	})
	ch.EXPECT().Open(gomock.Any()).DoAndReturn(blockingOpen(release))
	ch.EXPECT().Close()

	s, err := session.New(ctx, session.Config{Channel: ch})
	requireT.NoError(err)

	var mu sync.Mutex
	var received []string
	s.Handle(wire.TypeEvent, func(ctx context.Context, msg *wire.Message) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, msg.ID)
	})

	receive(&wire.Message{ID: "dropped", Type: wire.TypeEvent, Service: "S", Event: "e"})

	opened := startOpen(ctx, s, session.OpenOptions{})
	requireT.Eventually(func() bool { return s.State() == session.Opening }, time.Second, time.Millisecond)

	receive("garbage")
	receive(map[string]any{"$id": "1", "$type": "event", "service": "S", "event": "e"})
	receive(&wire.Message{ID: "2", Type: wire.TypeEvent})
	requireT.Equal(3, s.QueueLen())

	close(release)
	requireT.NoError(<-opened)

	receive(&wire.Message{ID: "3", Type: wire.TypeEvent, Service: "S", Event: "e"})

	mu.Lock()
	requireT.Equal([]string{"1", "3"}, received)
	mu.Unlock()

	s.Close()
}

func openPair(
	ctx context.Context,
	t *testing.T,
	hostConfig, guestConfig session.Config,
) (*session.Session, *session.Session) {
	requireT := require.New(t)

	window := medium.NewWindow()
	hostCh, err := channel.NewWindow(channel.Identity{ID: "app", Role: channel.Primary}, channel.WindowConfig{
		Window: window,
	})
	requireT.NoError(err)
	guestCh, err := channel.NewWindow(channel.Identity{ID: "app", Role: channel.Secondary}, channel.WindowConfig{
		Window: window,
	})
	requireT.NoError(err)

	hostConfig.Channel = hostCh
	guestConfig.Channel = guestCh

	host, err := session.New(ctx, hostConfig)
	requireT.NoError(err)
	guest, err := session.New(ctx, guestConfig)
	requireT.NoError(err)

	opened := startOpen(ctx, host, session.OpenOptions{})
	requireT.Eventually(hostCh.Receivable, time.Second, time.Millisecond)
	requireT.NoError(guest.Open(ctx, session.OpenOptions{}))
	requireT.NoError(<-opened)

	t.Cleanup(func() {
		host.Close()
		guest.Close()
	})

	return host, guest
}

func TestSessionCalls(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	host, guest := openPair(ctx, t, session.Config{}, session.Config{})

	guest.HandleCall("echo", func(ctx context.Context, args []any) (any, error) {
		return args[0], nil
	})
	guest.HandleCall("fail", func(ctx context.Context, args []any) (any, error) {
		return nil, errors.New("failure")
	})

	res, err := host.Call(ctx, session.CallPing)
	requireT.NoError(err)
	requireT.Equal("pong", res)

	res, err = guest.Call(ctx, session.CallPing)
	requireT.NoError(err)
	requireT.Equal("pong", res)

	res, err = host.Call(ctx, "echo", "value")
	requireT.NoError(err)
	requireT.Equal("value", res)

	_, err = host.Call(ctx, "fail")
	requireT.EqualError(err, "failure")

	_, err = host.Call(ctx, "unknown")
	requireT.ErrorIs(err, session.ErrUnknownCall)
}

func TestCloseRejectsPendingCalls(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	host, guest := openPair(ctx, t, session.Config{}, session.Config{})

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	guest.HandleCall("block", func(ctx context.Context, args []any) (any, error) {
		close(started)
		<-release
		return nil, nil
	})

	result := make(chan error, 1)
	go func() {
		_, err := host.Call(ctx, "block")
		result <- err
	}()

	<-started
	host.Close()
	requireT.ErrorIs(<-result, session.ErrClosed)
}

func TestCallTimeout(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	host, guest := openPair(ctx, t, session.Config{CallTimeout: 50 * time.Millisecond}, session.Config{})

	release := make(chan struct{})
	defer close(release)
	guest.HandleCall("block", func(ctx context.Context, args []any) (any, error) {
		<-release
		return nil, nil
	})

	_, err := host.Call(ctx, "block")
	requireT.ErrorIs(err, correlator.ErrTimeout)
	requireT.Equal(session.Opened, host.State())
}

func TestCheckerDetectsBrokenSession(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	broken := make(chan *session.Session, 1)
	host, guest := openPair(ctx, t, session.Config{
		Check: session.CheckConfig{
			Enabled:   true,
			Interval:  10 * time.Millisecond,
			MaxMisses: 2,
			OnBroken: func(s *session.Session) {
				broken <- s
			},
		},
	}, session.Config{})

	select {
	case <-broken:
		requireT.Fail("healthy session reported as broken")
	case <-time.After(100 * time.Millisecond):
	}

	guest.Close()

	select {
	case s := <-broken:
		requireT.Same(host, s)
	case <-time.After(time.Second):
		requireT.Fail("broken session not detected")
	}
}

func TestBrokenSessionIsClosedByDefault(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	host, guest := openPair(ctx, t, session.Config{
		Check: session.CheckConfig{
			Enabled:  true,
			Interval: 10 * time.Millisecond,
		},
	}, session.Config{})

	guest.Close()
	requireT.Eventually(func() bool { return host.State() == session.Closed }, time.Second, time.Millisecond)
}
