package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/renec-harvester/internal/report"
)

// newStatusCmd creates the 'status' subcommand.
func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Shows checkpoint progress and the current corpus statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := root.setup(cmd, nil)
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), a)

			stages, err := a.StageStatuses(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			report.RenderStatus(out, stages)

			ld := a.Loader()
			if _, standards := ld.Counts(); standards > 0 {
				fmt.Fprintln(out)
				report.RenderStats(out, ld.Stats())
			} else {
				fmt.Fprintf(out, "\nNo corpus found in %s\n", a.Config().Extractor.OutputDir)
			}
			return nil
		},
	}
}
