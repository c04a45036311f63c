package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/outofforest/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "loading .env file failed")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logger.New(logger.DefaultConfig)
	defer func() {
		_ = log.Sync()
	}()

	return newRootCmd(viper.New()).ExecuteContext(logger.WithLogger(ctx, log))
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rpckit",
		Short: "Pair of terminals calling services of each other",
		Long: `rpckit - typed calls between host and guest terminals.

Commands:
  rpckit host     Expose the Echo service
  rpckit guest    Connect to the host and ping its Echo service

Every setting may be provided by flag, RPCKIT_* environment variable, .env file or config file.`,
		SilenceUsage: true,
	}

	bindCommonFlags(rootCmd, v)
	rootCmd.AddCommand(newHostCmd(v))
	rootCmd.AddCommand(newGuestCmd(v))

	return rootCmd
}
