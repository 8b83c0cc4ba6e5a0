// Package cmd defines the CLI commands for the digest executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tvivaldelli/signal-daily-digest/internal/app"
	"github.com/tvivaldelli/signal-daily-digest/internal/config"
	"github.com/tvivaldelli/signal-daily-digest/internal/pipeline"
)

type appKeyType string

const appKey appKeyType = "app"

// App is the slice of *app.App the commands use. Tests swap in a fake.
type App interface {
	Close()
	Logger() *zap.Logger
	Orchestrator() *pipeline.Orchestrator
	Serve(ctx context.Context) error
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfgFile string) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Daily signal digest pipeline",
		Long: `digest ingests feeds and scraped pages, deduplicates them into a record
store, summarizes each category once per day and delivers the result.
Generated digests are cached and archived so repeat requests are cheap.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")

	cmd.AddCommand(newServeCmd(), newRunCmd(), newSweepCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
