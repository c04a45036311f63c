package session

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/rpckit/wire"
)

// stateOps is the set of operations of one state. Every operation is entered with s.mu
// locked and is responsible for unlocking it.
type stateOps struct {
	open  func(s *Session, ctx context.Context, opts OpenOptions) error
	close func(s *Session)
	send  func(s *Session, ctx context.Context, msg *wire.Message) error
	recv  func(s *Session, data any)
}

var states map[State]stateOps

func init() {
	states = map[State]stateOps{
		Closed: {
			open:  closedOpen,
			close: func(s *Session) { s.mu.Unlock() },
			send: func(s *Session, ctx context.Context, msg *wire.Message) error {
				s.mu.Unlock()
				return errors.WithStack(ErrNotOpened)
			},
			recv: func(s *Session, data any) { s.mu.Unlock() },
		},
		Opening: {
			open: func(s *Session, ctx context.Context, opts OpenOptions) error {
				o := s.opening
				s.mu.Unlock()
				return waitOpen(ctx, o)
			},
			close: openingClose,
			send:  openingSend,
			recv: func(s *Session, data any) {
				s.opening.queue = append(s.opening.queue, &op{recv: data})
				s.mu.Unlock()
			},
		},
		Opened: {
			open: func(s *Session, ctx context.Context, opts OpenOptions) error {
				s.mu.Unlock()
				return errors.WithStack(ErrAlreadyOpened)
			},
			close: openedClose,
			send:  openedSend,
			recv: func(s *Session, data any) {
				s.mu.Unlock()

				s.recvMu.Lock()
				defer s.recvMu.Unlock()

				s.dispatch(data)
			},
		},
	}
}

func closedOpen(s *Session, ctx context.Context, opts OpenOptions) error {
	if s.released {
		s.mu.Unlock()
		return errors.WithStack(ErrReleased)
	}

	openCtx, cancel := context.WithCancel(ctx)
	o := &opening{
		done:   make(chan struct{}),
		cancel: cancel,
	}
	s.opening = o
	s.state = Opening
	s.mu.Unlock()

	s.notify(Opening)
	go s.runOpen(openCtx, o, opts)

	return waitOpen(ctx, o)
}

func waitOpen(ctx context.Context, o *opening) error {
	select {
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case <-o.done:
		return o.err
	}
}

func (s *Session) runOpen(ctx context.Context, o *opening, opts OpenOptions) {
	defer o.cancel()

	if s.config.OpenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.OpenTimeout)
		defer cancel()
	}

	err := s.ch.Open(ctx)
	if err == nil && opts.Waiting != nil {
		select {
		case <-ctx.Done():
			err = errors.WithStack(ctx.Err())
		case err = <-opts.Waiting:
		}
	}

	if err != nil {
		s.mu.Lock()
		cancelled := o.cancelled
		s.mu.Unlock()

		switch {
		case cancelled:
			err = errors.WithStack(ErrOpenCancelled)
		case errors.Is(err, context.DeadlineExceeded):
			err = errors.Wrapf(ErrOpenTimeout, "no handshake in %s", s.config.OpenTimeout)
		}
		s.openFailed(o, err)
		return
	}

	s.opened(o)
}

func (s *Session) opened(o *opening) {
	s.sendMu.Lock()
	s.recvMu.Lock()
	s.mu.Lock()
	s.state = Opened
	s.opening = nil
	queue := o.queue
	o.queue = nil
	s.startChecker()
	s.mu.Unlock()

	var recvs []any
	for _, op := range queue {
		if op.send == nil {
			recvs = append(recvs, op.recv)
			continue
		}

		s.mu.Lock()
		cancelled := op.cancelled
		s.mu.Unlock()
		if cancelled {
			continue
		}

		if s.ch.Send(op.send) {
			op.result <- nil
		} else {
			op.result <- errors.WithStack(ErrSendFailed)
		}
	}
	s.sendMu.Unlock()

	for _, data := range recvs {
		s.dispatch(data)
	}
	s.recvMu.Unlock()

	s.log.Debug("Session opened", zap.Int("flushed", len(queue)))
	s.notify(Opened)
	close(o.done)
}

func (s *Session) openFailed(o *opening, err error) {
	s.mu.Lock()
	s.state = Closed
	s.opening = nil
	queue := o.queue
	o.queue = nil
	s.mu.Unlock()

	s.ch.Close()

	for _, op := range queue {
		if op.send != nil {
			op.result <- errors.Wrap(ErrNotOpened, err.Error())
		}
	}

	o.err = err
	s.log.Debug("Opening session failed", zap.Error(err))
	s.notify(Closed)
	close(o.done)
}

func openingClose(s *Session) {
	o := s.opening
	o.cancelled = true
	s.mu.Unlock()

	o.cancel()
	<-o.done
}

func openingSend(s *Session, ctx context.Context, msg *wire.Message) error {
	o := &op{send: msg, result: make(chan error, 1)}
	s.opening.queue = append(s.opening.queue, o)
	s.mu.Unlock()

	select {
	case err := <-o.result:
		return err
	case <-ctx.Done():
		s.mu.Lock()
		o.cancelled = true
		s.mu.Unlock()

		select {
		case err := <-o.result:
			return err
		default:
			return errors.WithStack(ctx.Err())
		}
	}
}

func openedClose(s *Session) {
	s.state = Closed
	checker := s.checker
	s.checker = nil
	s.mu.Unlock()

	if checker != nil {
		checker.Exit(nil)
		if err := checker.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("Session checker failed", zap.Error(err))
		}
	}

	s.sendMu.Lock()
	s.ch.Close()
	s.sendMu.Unlock()

	s.corr.Close(ErrClosed)
	s.notify(Closed)
}

func openedSend(s *Session, ctx context.Context, msg *wire.Message) error {
	s.mu.Unlock()

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.State() != Opened {
		return errors.WithStack(ErrNotOpened)
	}
	if !s.ch.Send(msg) {
		return errors.WithStack(ErrSendFailed)
	}
	return nil
}
