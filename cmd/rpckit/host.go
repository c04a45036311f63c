package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/rpckit"
	"github.com/outofforest/rpckit/acl"
	"github.com/outofforest/rpckit/channel"
	"github.com/outofforest/rpckit/observer"
	"github.com/outofforest/rpckit/remote"
	"github.com/outofforest/rpckit/service"
	"github.com/outofforest/rpckit/wire"
)

func newHostCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Expose the Echo service to guests",
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(v, configFile)
			if err != nil {
				return err
			}

			ls, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				return errors.WithStack(err)
			}
			defer ls.Close()

			return runHost(cmd.Context(), cfg, ls, observer.NewMetrics())
		},
	}

	f := cmd.Flags()
	f.String("listen", "", "address guests connect to")
	f.String("metrics", "", "address of the metrics endpoint, disabled if empty")
	f.String("acl", "", "CEL expression deciding access to services")

	_ = v.BindPFlag("listen", f.Lookup("listen"))
	_ = v.BindPFlag("metrics", f.Lookup("metrics"))
	_ = v.BindPFlag("acl", f.Lookup("acl"))

	return cmd
}

func runHost(ctx context.Context, cfg Config, ls net.Listener, metrics *observer.Metrics) error {
	policy, err := acl.Compile(cfg.ACL)
	if err != nil {
		return err
	}

	log := logger.Get(ctx)
	log.Info("Host started", zap.Stringer("address", ls.Addr()))

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		if cfg.Metrics != "" {
			spawn("metrics", parallel.Fail, func(ctx context.Context) error {
				return serveMetrics(ctx, cfg.Metrics, metrics)
			})
		}
		spawn("server", parallel.Fail, func(ctx context.Context) error {
			return remote.RunServer(ctx, ls, remote.Config{
				Namespace:     cfg.Namespace,
				ParticipantID: cfg.ID,
				Role:          string(channel.Primary),
			}, func(ctx context.Context, w *remote.Window, peer wire.Hello) error {
				return serveGuest(ctx, cfg, w, policy, metrics)
			})
		})
		return nil
	})
}

func serveGuest(
	ctx context.Context,
	cfg Config,
	w *remote.Window,
	policy *acl.Policy,
	metrics *observer.Metrics,
) (retErr error) {
	term, err := rpckit.NewTerminal(ctx, rpckit.Config{
		ID:        cfg.ID,
		Role:      channel.Primary,
		Namespace: cfg.Namespace,
		Channel:   channel.Window(channel.WindowConfig{Window: w}),
		ACL:       policy,
		Services: []rpckit.Registration{
			{Descriptor: echoDesc, Implementation: echoService(ctx), Lazy: true},
		},
		Timeouts: rpckit.Timeouts{
			Open: cfg.OpenTimeout,
			API:  cfg.CallTimeout,
		},
		Observers: []service.Observer{metrics},
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := term.Release(context.WithoutCancel(ctx)); err != nil && retErr == nil {
			retErr = err
		}
	}()

	metrics.TrackSession(term.Session())
	if err := term.OpenSession(ctx); err != nil {
		return err
	}

	log := logger.Get(ctx)
	log.Info("Guest connected")

	select {
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case <-w.Done():
	}

	log.Info("Guest disconnected")
	return nil
}

func serveMetrics(ctx context.Context, addr string, metrics *observer.Metrics) error {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("listener", parallel.Fail, func(ctx context.Context) error {
			logger.Get(ctx).Info("Serving metrics", zap.String("address", addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return errors.WithStack(err)
			}
			return errors.WithStack(ctx.Err())
		})
		spawn("shutdown", parallel.Fail, func(ctx context.Context) error {
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errors.WithStack(err)
			}
			return errors.WithStack(ctx.Err())
		})
		return nil
	})
}
