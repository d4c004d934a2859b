// Package cmd defines and implements the CLI commands for the previewd executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eligetuhosting/previewd/internal/api"
	"github.com/eligetuhosting/previewd/internal/app"
	"github.com/eligetuhosting/previewd/internal/config"
	"github.com/eligetuhosting/previewd/internal/logging"
	"github.com/eligetuhosting/previewd/internal/screenshot"
)

// envKeyType is the key for storing the runtime in the command context.
type envKeyType string

const envKey envKeyType = "env"

// App defines the application interface that commands use, so tests can
// inject a fake.
type App interface {
	Server() *api.Server
	RunJanitor(ctx context.Context)
	Capture(ctx context.Context, domain string) screenshot.Result
	Close(ctx context.Context)
}

// runtime is what PersistentPreRunE hands to subcommands.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	app    App
}

// Factories are variables so tests can replace them.
var (
	loadConfig = config.Load
	newLogger  = logging.New
	newApp     = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
		return app.New(ctx, cfg, logger, prometheus.DefaultRegisterer)
	}
)

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "previewd",
		Short: "Website preview service for EligeTuHosting.cl.",
		Long: `previewd returns a screenshot URL for a hosting provider's domain,
trying several free screenshot services in turn and falling back to a
favicon-based card when none of them answers.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				logging.Sync(logger)
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &runtime{
				cfg:    cfg,
				logger: logger,
				app:    appInstance,
			}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env PREVIEW_* overrides apply either way)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCaptureCmd())
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(envKey).(*runtime)
	if !ok || rt == nil || rt.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt, nil
}

// withRuntime resolves the runtime for fn and shuts the services down once fn
// returns, whether or not it failed.
func withRuntime(fn func(cmd *cobra.Command, args []string, rt *runtime) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := resolveRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			rt.app.Close(context.Background())
			logging.Sync(rt.logger)
		}()
		return fn(cmd, args, rt)
	}
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
