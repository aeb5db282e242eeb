package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newExportCmd creates the 'export' subcommand.
func newExportCmd(root *rootOptions) *cobra.Command {
	var dir string
	var skipUpload bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Writes the corpus artifacts and uploads them when a bucket is configured",
		Long: `Writes committees, standards, codes, statistics and master registries
from the configured corpus backend as JSON files. When storage.gcs_bucket is set
the files are uploaded under storage.prefix.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := root.setup(cmd, nil)
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), a)

			if dir == "" {
				dir = a.Config().Extractor.OutputDir
			}
			names, err := a.Export(cmd.Context(), dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "exported %d artifacts to %s\n", len(names), dir)

			if skipUpload || a.Config().Storage.GCSBucket == "" {
				return nil
			}
			uris, err := a.Upload(cmd.Context(), dir, names)
			for _, uri := range uris {
				fmt.Fprintf(out, "uploaded %s\n", uri)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "target directory (default extractor.output_dir)")
	cmd.Flags().BoolVar(&skipUpload, "no-upload", false, "skip the bucket upload")
	return cmd
}
