// Package remote carries channel packages between terminals living in different processes.
package remote

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/resonance"
	"github.com/outofforest/rpckit/wire"
)

// DefaultMaxMessageSize is the default limit of the package size.
const DefaultMaxMessageSize = 1024 * 1024

var errSameInstance = errors.New("connected to myself")

// Config is the configuration of the connection end.
type Config struct {
	// InstanceID identifies the process. Random one is generated if empty.
	InstanceID     string
	Namespace      string
	ParticipantID  string
	Role           string
	MaxMessageSize uint64
	// RedialDelay is the pause between client connection attempts.
	RedialDelay time.Duration
}

// Handler serves the connection. Connection is closed when handler returns.
type Handler func(ctx context.Context, w *Window, peer wire.Hello) error

func (c Config) withDefaults() Config {
	if c.InstanceID == "" {
		c.InstanceID = uuid.NewString()
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.RedialDelay <= 0 {
		c.RedialDelay = time.Second
	}
	return c
}

// RunServer accepts connections and runs handler for each of them.
func RunServer(ctx context.Context, ls net.Listener, config Config, handler Handler) error {
	config = config.withDefaults()
	connConfig := resonance.Config{
		MaxMessageSize: config.MaxMessageSize,
	}

	return resonance.RunServer(ctx, ls, connConfig,
		func(ctx context.Context, c *resonance.Connection) error {
			return runConn(ctx, config, c, handler)
		})
}

// RunClient connects to the server and runs handler. Connection is redialed if it fails before
// handler completes. Handler completes when it returns nil or when it returns error while the
// connection is alive. Result of the completed handler is returned.
func RunClient(ctx context.Context, addr string, config Config, handler Handler) error {
	config = config.withDefaults()
	connConfig := resonance.Config{
		MaxMessageSize: config.MaxMessageSize,
	}
	log := logger.Get(ctx)

	for {
		var finished bool
		var handlerErr error
		err := resonance.RunClient(ctx, addr, connConfig,
			func(ctx context.Context, c *resonance.Connection) error {
				return runConn(ctx, config, c, func(ctx context.Context, w *Window, peer wire.Hello) error {
					err := handler(ctx, w, peer)
					if err == nil || ctx.Err() == nil {
						finished = true
						handlerErr = err
					}
					return err
				})
			})

		if ctx.Err() != nil {
			return errors.WithStack(ctx.Err())
		}
		if finished {
			return handlerErr
		}
		if errors.Is(err, errSameInstance) {
			return nil
		}

		log.Error("Connection failed", zap.String("server", addr), zap.Error(err))
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-time.After(config.RedialDelay):
		}
	}
}

func runConn(ctx context.Context, config Config, c *resonance.Connection, handler Handler) error {
	m := wire.NewMarshaller()

	if err := c.SendProton(&wire.Hello{
		InstanceID:    config.InstanceID,
		Namespace:     config.Namespace,
		ParticipantID: config.ParticipantID,
		Role:          config.Role,
	}, m); err != nil {
		return err
	}

	msg, err := c.ReceiveProton(m)
	if err != nil {
		return err
	}

	hello, ok := msg.(*wire.Hello)
	if !ok {
		return errors.New("hello message expected")
	}

	switch {
	case hello.InstanceID == config.InstanceID:
		return errSameInstance
	case hello.Namespace != config.Namespace || hello.ParticipantID != config.ParticipantID:
		return errors.Errorf("peer %s/%s does not match %s/%s", hello.Namespace, hello.ParticipantID,
			config.Namespace, config.ParticipantID)
	case hello.Role == config.Role:
		return errors.Errorf("peer has the same role %q", hello.Role)
	}

	log := logger.Get(ctx).With(zap.String("peer", hello.InstanceID))
	log.Debug("Connection established", zap.String("role", hello.Role))

	w := newWindow()
	defer w.close()

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("receiver", parallel.Fail, func(ctx context.Context) error {
			defer w.close()

			for {
				b, err := c.ReceiveBytes()
				if err != nil {
					if ctx.Err() != nil {
						return errors.WithStack(ctx.Err())
					}
					return err
				}
				w.deliver(string(b))
			}
		})
		spawn("sender", parallel.Fail, func(ctx context.Context) error {
			defer c.Close()

			for {
				select {
				case <-ctx.Done():
					return errors.WithStack(ctx.Err())
				case <-w.done:
					return errors.New("connection closed by peer")
				case s := <-w.sendCh:
					if err := c.SendBytes([]byte(s)); err != nil {
						return err
					}
				}
			}
		})
		spawn("handler", parallel.Exit, func(ctx context.Context) error {
			return handler(ctx, w, *hello)
		})

		return nil
	})
}
