// Package cmd defines the CLI commands for the renec-harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/renec-harvester/internal/app"
	"github.com/JakeFAU/renec-harvester/internal/config"
	"github.com/JakeFAU/renec-harvester/internal/extractor"
	"github.com/JakeFAU/renec-harvester/internal/logging"
)

// Exit codes returned by Execute.
const (
	exitFailure     = 1
	exitConfig      = 2
	exitInterrupted = 130
)

// buildApp is the application factory. Tests replace it to inject options.
var buildApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.Build(ctx, cfg, logger)
}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	cfgFile string
	verbose bool
	quiet   bool
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "renec-harvester",
		Short: "Harvests the RENEC registry of competency standards.",
		Long: `renec-harvester extracts sector committees, EC competency standards,
certifiers and training centres from the CONOCER RENEC registry into a local
corpus, with checkpointed batches that can be resumed after an interruption.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default searches ./renec-harvester.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")
	cmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "log warnings and errors only")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(
		newExtractCmd(opts),
		newStatusCmd(opts),
		newReportCmd(opts),
		newExportCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

// setup loads configuration, applies command overrides, builds the logger and
// then the application.
func (o *rootOptions) setup(cmd *cobra.Command, override func(*config.Config)) (*app.App, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(&cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       logging.Level(cfg.Logging.Level, o.verbose, o.quiet),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: logger init failed: %w", config.ErrInvalid, err)
	}
	zap.ReplaceGlobals(logger)

	a, err := buildApp(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return a, nil
}

func closeApp(ctx context.Context, a *app.App) {
	if err := a.Close(context.WithoutCancel(ctx)); err != nil {
		a.Logger().Warn("application shutdown failed", zap.Error(err))
	}
	_ = a.Logger().Sync()
}

// exitCode maps a command error onto the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, config.ErrInvalid):
		return exitConfig
	case errors.Is(err, extractor.ErrInterrupted), errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitFailure
	}
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "renec-harvester: %v\n", err)
		os.Exit(exitCode(err))
	}
}
