package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/renec-harvester/internal/config"
	"github.com/JakeFAU/renec-harvester/internal/extractor"
	"github.com/JakeFAU/renec-harvester/internal/renec"
	"github.com/JakeFAU/renec-harvester/internal/report"
)

const maxFailuresPrinted = 20

type extractOptions struct {
	mode          string
	incremental   bool
	stats         bool
	limit         int
	batch         int
	delayMS       int
	workers       int
	visible       bool
	output        string
	checkpointDir string
	resume        bool
}

// newExtractCmd creates the 'extract' subcommand.
func newExtractCmd(root *rootOptions) *cobra.Command {
	opts := &extractOptions{}
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Runs an extraction against the RENEC registry",
		Long: `Harvests committees and EC standards in checkpointed batches.

Modes:
  full         process every known identifier (default)
  incremental  process only identifiers missing from the corpus or stale upstream
  stats        recompute statistics and registries without fetching`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExtract(cmd, root, opts)
		},
	}

	bindExtractFlags(cmd, opts)
	return cmd
}

func bindExtractFlags(cmd *cobra.Command, opts *extractOptions) {
	f := cmd.Flags()
	f.StringVar(&opts.mode, "mode", string(renec.ModeFull), "run mode: full, incremental or stats")
	f.BoolVar(&opts.incremental, "incremental", false, "shorthand for --mode incremental")
	f.BoolVar(&opts.stats, "stats", false, "shorthand for --mode stats")
	f.IntVar(&opts.limit, "limit", 0, "process at most n EC standards (0 = all)")
	f.IntVar(&opts.batch, "batch", extractor.DefaultBatchSize, "identifiers per checkpointed batch")
	f.IntVar(&opts.delayMS, "delay", int(extractor.DefaultRequestDelay/time.Millisecond), "minimum milliseconds between requests")
	f.IntVar(&opts.workers, "workers", extractor.DefaultWorkers, "concurrent fetches within a batch")
	f.BoolVar(&opts.visible, "visible", false, "show the browser window instead of running headless")
	f.StringVar(&opts.output, "output", "", "output directory for the corpus artifacts")
	f.StringVar(&opts.checkpointDir, "checkpoint-dir", "", "directory for checkpoint files (default <output>/checkpoints)")
	f.BoolVar(&opts.resume, "resume", false, "continue from the saved checkpoints")
	cmd.MarkFlagsMutuallyExclusive("mode", "incremental", "stats")
}

// apply copies the flags the user set onto cfg.
func (o *extractOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	switch {
	case f.Changed("incremental") && o.incremental:
		cfg.Extractor.Mode = string(renec.ModeIncremental)
	case f.Changed("stats") && o.stats:
		cfg.Extractor.Mode = string(renec.ModeStats)
	case f.Changed("mode"):
		cfg.Extractor.Mode = o.mode
	}
	if f.Changed("limit") {
		cfg.Extractor.MaxECsToProcess = o.limit
	}
	if f.Changed("batch") {
		cfg.Extractor.BatchSize = o.batch
	}
	if f.Changed("delay") {
		cfg.Extractor.RequestDelayMS = o.delayMS
	}
	if f.Changed("workers") {
		cfg.Extractor.Workers = o.workers
	}
	if f.Changed("visible") {
		cfg.Fetch.Visible = o.visible
	}
	if f.Changed("output") {
		cfg.Extractor.OutputDir = o.output
		if !f.Changed("checkpoint-dir") {
			cfg.Extractor.CheckpointDir = filepath.Join(o.output, "checkpoints")
		}
	}
	if f.Changed("checkpoint-dir") {
		cfg.Extractor.CheckpointDir = o.checkpointDir
	}
	if f.Changed("resume") {
		cfg.Extractor.Resume = o.resume
	}
}

func runExtract(cmd *cobra.Command, root *rootOptions, opts *extractOptions) error {
	a, err := root.setup(cmd, func(cfg *config.Config) { opts.apply(cmd, cfg) })
	if err != nil {
		return err
	}
	defer closeApp(cmd.Context(), a)

	cfg := a.Config()
	logger := a.Logger()
	mode, err := cfg.RunMode()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopMetrics := a.ServeMetrics()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		stopMetrics(shutdownCtx)
	}()

	orch, err := a.Orchestrator()
	if err != nil {
		return err
	}
	summary, runErr := orch.Run(ctx, mode)
	renderSummary(cmd.OutOrStdout(), summary)
	if runErr != nil {
		return fmt.Errorf("extraction %s: %w", summary.RunID, runErr)
	}

	persistCtx := context.WithoutCancel(ctx)
	if cfg.Storage.Backend != config.BackendLocal {
		if _, err := a.Export(persistCtx, cfg.Extractor.OutputDir); err != nil {
			return fmt.Errorf("%w: %w", extractor.ErrPersistence, err)
		}
	}
	path, err := a.WriteReport(persistCtx)
	if err != nil {
		return fmt.Errorf("%w: %w", extractor.ErrPersistence, err)
	}
	logger.Info("extraction report written", zap.String("path", path))
	return nil
}

// renderSummary prints per-stage outcomes, the statistics and the first
// failed identifiers of a run.
func renderSummary(w io.Writer, summary extractor.RunSummary) {
	if len(summary.Stages) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.Style().Options.DrawBorder = false
		t.SetTitle(fmt.Sprintf("Run %s (%s)", summary.RunID, summary.Mode))
		t.AppendHeader(table.Row{"Stage", "Total", "Processed", "Succeeded", "Skipped", "Failed", "Batches"})
		for _, st := range summary.Stages {
			stage := string(st.Stage)
			if st.Resumed {
				stage += " (resumed)"
			}
			t.AppendRow(table.Row{stage, st.Total, st.Processed, st.Succeeded, st.Skipped, len(st.Failed), st.Batches})
		}
		t.Render()
	}
	if summary.Stats != nil {
		fmt.Fprintln(w)
		report.RenderStats(w, *summary.Stats)
	}
	for _, st := range summary.Stages {
		if len(st.Failed) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%d %s identifier(s) failed; rerun with --resume or --incremental to retry:\n", len(st.Failed), st.Stage)
		for i, item := range st.Failed {
			if i == maxFailuresPrinted {
				fmt.Fprintf(w, "  ...and %d more\n", len(st.Failed)-maxFailuresPrinted)
				break
			}
			fmt.Fprintf(w, "  %s: %s\n", item.ID, item.Error)
		}
	}
	if summary.Duration > 0 {
		fmt.Fprintf(w, "\nFinished in %s\n", summary.Duration.Round(time.Millisecond))
	}
}
