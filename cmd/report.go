package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newReportCmd creates the 'report' subcommand.
func newReportCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Writes the markdown extraction report into the output directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := root.setup(cmd, nil)
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), a)

			path, err := a.WriteReport(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", path)
			return nil
		},
	}
}
