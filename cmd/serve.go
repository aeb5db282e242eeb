package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/renec-harvester/internal/config"
)

// newServeCmd creates the 'serve' subcommand.
func newServeCmd(root *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the harvested corpus over a read-only HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := root.setup(cmd, func(cfg *config.Config) {
				if cmd.Flags().Changed("port") {
					cfg.Server.Port = port
				}
			})
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), a)
			return a.Serve(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "listen port")
	return cmd
}
