package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"FinStore/internal/di"
	"FinStore/pkg/config"
	"FinStore/pkg/server"
)

type rootFlags struct {
	configPath string
	mode       string
	asOf       string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "finstore",
		Short:         "Durable prediction store, EOD snapshots and point-in-time replay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "config/config.yaml", "config file path")
	root.PersistentFlags().StringVar(&f.mode, "replay", "", "override replay mode (live|replay)")
	root.PersistentFlags().StringVar(&f.asOf, "as-of", "", "override replay as-of date (YYYY-MM-DD)")

	root.AddCommand(
		newServeCmd(f),
		newCompactCmd(f),
		newSnapshotCmd(f),
		newReplayCmd(f),
		newLockCmd(f),
		newPredictionsCmd(f),
	)
	return root
}

// loadConfig reads the file, applies env overrides and then the command-line replay flags.
func (f *rootFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithEnv(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.mode == "" && f.asOf == "" {
		return cfg, nil
	}
	if f.mode != "" {
		cfg.Replay.Mode = f.mode
	}
	if f.asOf != "" {
		cfg.Replay.AsOf = f.asOf
		if f.mode == "" {
			cfg.Replay.Mode = "replay"
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withApp builds the application for one command and tears it down afterwards.
func (f *rootFlags) withApp(ctx context.Context, fn func(context.Context, *server.App) error) error {
	cfg, err := f.loadConfig()
	if err != nil {
		return err
	}
	app, cleanup, err := di.InitializeApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}
	defer cleanup()
	return fn(ctx, app)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
