package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/parallel"
	"github.com/outofforest/rpckit/wire"
)

// Checker defaults.
const (
	DefaultCheckInterval  = 5 * time.Second
	DefaultCheckMaxMisses = 3
)

// CheckConfig configures heartbeat checking of open session.
type CheckConfig struct {
	Enabled bool
	// Interval between heartbeats.
	Interval time.Duration
	// Timeout of a single heartbeat. Defaults to Interval.
	Timeout time.Duration
	// MaxMisses is the number of consecutive unanswered heartbeats after which the session
	// is considered broken.
	MaxMisses int
	// OnBroken is called once the session is broken. It closes the session by default.
	OnBroken func(s *Session)
}

func (c CheckConfig) withDefaults() CheckConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultCheckInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = c.Interval
	}
	if c.MaxMisses <= 0 {
		c.MaxMisses = DefaultCheckMaxMisses
	}
	if c.OnBroken == nil {
		c.OnBroken = (*Session).Close
	}
	return c
}

// startChecker must be called with s.mu locked.
func (s *Session) startChecker() {
	if !s.config.Check.Enabled {
		return
	}

	s.checker = parallel.NewGroup(s.ctx)
	s.checker.Spawn("checker", parallel.Continue, s.runChecker)
}

func (s *Session) runChecker(ctx context.Context) error {
	cfg := s.config.Check
	log := s.log.With(zap.Duration("interval", cfg.Interval))

	var misses int
	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-time.After(cfg.Interval):
		}

		_, err := s.request(ctx, &wire.Message{
			ID:   wire.NewID(),
			Type: wire.TypeHeartbeat,
		}, cfg.Timeout)
		switch {
		case err == nil:
			misses = 0
			continue
		case ctx.Err() != nil:
			return errors.WithStack(ctx.Err())
		}

		misses++
		log.Debug("Heartbeat missed", zap.Int("misses", misses), zap.Error(err))
		if misses >= cfg.MaxMisses {
			log.Error("Session is broken", zap.Int("misses", misses))
			go cfg.OnBroken(s)
			return nil
		}
	}
}
