package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newServeCmd creates the 'serve' subcommand, which runs the HTTP service
// until interrupted.
func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the scraping HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(appInstance)
			return appInstance.Run(cmd.Context())
		},
	}
	cmd.Flags().Int("port", 0, "listen port (overrides server.port)")
	cmd.Flags().Int("workers", 0, "concurrent crawls (overrides crawler.concurrency)")
	mustBind(v, "server.port", cmd.Flags().Lookup("port"))
	mustBind(v, "crawler.concurrency", cmd.Flags().Lookup("workers"))
	return cmd
}
