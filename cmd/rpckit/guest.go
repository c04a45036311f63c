package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/rpckit"
	"github.com/outofforest/rpckit/channel"
	"github.com/outofforest/rpckit/remote"
	"github.com/outofforest/rpckit/session"
	"github.com/outofforest/rpckit/wire"
)

func newGuestCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guest",
		Short: "Connect to the host and call its Echo service",
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(v, configFile)
			if err != nil {
				return err
			}
			return runGuest(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.String("connect", "", "address of the host")
	f.Int("count", 0, "number of pings")
	f.Duration("interval", 0, "pause between pings")

	_ = v.BindPFlag("connect", f.Lookup("connect"))
	_ = v.BindPFlag("count", f.Lookup("count"))
	_ = v.BindPFlag("interval", f.Lookup("interval"))

	return cmd
}

func runGuest(ctx context.Context, cfg Config) error {
	return remote.RunClient(ctx, cfg.Connect, remote.Config{
		Namespace:     cfg.Namespace,
		ParticipantID: cfg.ID,
		Role:          string(channel.Secondary),
	}, func(ctx context.Context, w *remote.Window, peer wire.Hello) (retErr error) {
		term, err := rpckit.NewTerminal(ctx, rpckit.Config{
			ID:        cfg.ID,
			Role:      channel.Secondary,
			Namespace: cfg.Namespace,
			Channel:   channel.Window(channel.WindowConfig{Window: w}),
			Timeouts: rpckit.Timeouts{
				Open: cfg.OpenTimeout,
				API:  cfg.CallTimeout,
			},
			SessionCheck: session.CheckConfig{Enabled: true},
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := term.Release(context.WithoutCancel(ctx)); err != nil && retErr == nil {
				retErr = err
			}
		}()

		if err := term.OpenSession(ctx); err != nil {
			return err
		}

		return ping(ctx, cfg, term)
	})
}

func ping(ctx context.Context, cfg Config, term *rpckit.Terminal) error {
	log := logger.Get(ctx)
	echo := term.Client().Proxy(echoDesc)

	unsubscribe, err := echo.On("pinged", func(args []any) {
		log.Debug("Ping confirmed", zap.Any("args", args))
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	for i := range cfg.Count {
		if i > 0 {
			select {
			case <-ctx.Done():
				return errors.WithStack(ctx.Err())
			case <-time.After(cfg.Interval):
			}
		}

		start := time.Now()
		res, err := echo.Call(ctx, "ping", i)
		if err != nil {
			return err
		}
		log.Info("Pong received", zap.Any("result", res), zap.Duration("duration", time.Since(start)))
	}

	if _, err := echo.Call(ctx, "notify", "done"); err != nil {
		return err
	}

	// Round trip guarantees the notification left before the connection is closed.
	_, err = term.Session().Call(ctx, session.CallPing)
	return err
}
