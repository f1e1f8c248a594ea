// Package cmd defines the harvester command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/housing-harvester/internal/app"
	"github.com/JakeFAU/housing-harvester/internal/config"
	"github.com/JakeFAU/housing-harvester/internal/harvest"
	"github.com/JakeFAU/housing-harvester/internal/logging"
	"github.com/JakeFAU/housing-harvester/internal/orchestrator"
)

// App is what the pipeline commands need from the application services. It
// is an interface so tests can inject a fake.
type App interface {
	Run(ctx context.Context) (orchestrator.RunReport, error)
	Ping(ctx context.Context) error
	ProgressRepository() harvest.ProgressRepository
	Close() error
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

type envKeyType struct{}

// env is what PersistentPreRunE hands to every subcommand.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Resumable harvester for Indonesian housing listings.",
		Long: `harvester walks the listing index of every configured province one page
at a time, stores new listings, enriches their kecamatan with facility counts
from OpenStreetMap, cleans both into typed tables, and only then advances the
province's page cursor. Each invocation of "run" processes one page.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKeyType{}, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, err := resolveEnv(cmd.Context()); err == nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); HARVESTER_* env vars override it")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newProgressCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	if ctx == nil {
		return nil, errors.New("command context is not initialized")
	}
	e, ok := ctx.Value(envKeyType{}).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration was not loaded")
	}
	return e, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "harvester:", err)
		os.Exit(1)
	}
}
