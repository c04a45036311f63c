package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/parallel"
	"github.com/outofforest/qa"
	"github.com/outofforest/rpckit/observer"
	"github.com/outofforest/rpckit/service"
)

func TestConfigSources(t *testing.T) {
	requireT := require.New(t)

	cfg, err := loadConfig(viper.New(), "")
	requireT.NoError(err)
	requireT.Equal("echo", cfg.ID)
	requireT.Equal("localhost:7070", cfg.Listen)
	requireT.Equal(30*time.Second, cfg.OpenTimeout)

	t.Setenv("RPCKIT_ID", "from-env")
	t.Setenv("RPCKIT_OPEN_TIMEOUT", "2s")

	cfg, err = loadConfig(viper.New(), "")
	requireT.NoError(err)
	requireT.Equal("from-env", cfg.ID)
	requireT.Equal(2*time.Second, cfg.OpenTimeout)

	file := filepath.Join(t.TempDir(), "rpckit.yaml")
	requireT.NoError(os.WriteFile(file, []byte("namespace: from-file\ncount: 5\n"), 0o600))

	cfg, err = loadConfig(viper.New(), file)
	requireT.NoError(err)
	requireT.Equal("from-file", cfg.Namespace)
	requireT.Equal(5, cfg.Count)
	requireT.Equal("from-env", cfg.ID)

	_, err = loadConfig(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	requireT.Error(err)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	requireT := require.New(t)

	t.Setenv("RPCKIT_ID", "from-env")

	v := viper.New()
	cmd := newRootCmd(v)
	requireT.NoError(cmd.PersistentFlags().Set("id", "from-flag"))

	cfg, err := loadConfig(v, "")
	requireT.NoError(err)
	requireT.Equal("from-flag", cfg.ID)
}

func testConfig(ls net.Listener) Config {
	return Config{
		Namespace: "test",
		ID:        "echo",
		ACL:       "true",
		Connect:   ls.Addr().String(),
		Count:     3,
		Interval:  time.Millisecond,
	}
}

func TestGuestPingsHost(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	ls, err := net.Listen("tcp", "localhost:0")
	requireT.NoError(err)

	cfg := testConfig(ls)
	metrics := observer.NewMetrics()
	group.Spawn("host", parallel.Fail, func(ctx context.Context) error {
		return runHost(ctx, cfg, ls, metrics)
	})

	requireT.NoError(runGuest(ctx, cfg))

	requireT.InDelta(3, testutil.ToFloat64(metrics.CallTotal.WithLabelValues("Echo", "ping", observer.StatusOK)), 0)
	requireT.Eventually(func() bool {
		return testutil.ToFloat64(metrics.CallTotal.WithLabelValues("Echo", "notify", observer.StatusOK)) == 1
	}, time.Second, time.Millisecond)
}

func TestHostDeniesAccess(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	ls, err := net.Listen("tcp", "localhost:0")
	requireT.NoError(err)

	cfg := testConfig(ls)
	cfg.ACL = `api != "ping"`
	metrics := observer.NewMetrics()
	group.Spawn("host", parallel.Fail, func(ctx context.Context) error {
		return runHost(ctx, cfg, ls, metrics)
	})

	requireT.ErrorIs(runGuest(ctx, cfg), service.ErrAccessDenied)
	requireT.InDelta(1, testutil.ToFloat64(
		metrics.CallTotal.WithLabelValues("Echo", "ping", service.CodeAccessDenied)), 0)
}

func TestInvalidACLIsRejected(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	ls, err := net.Listen("tcp", "localhost:0")
	requireT.NoError(err)
	defer ls.Close()

	cfg := testConfig(ls)
	cfg.ACL = "api +"
	requireT.Error(runHost(ctx, cfg, ls, observer.NewMetrics()))
}
