package cmd

import (
	"github.com/spf13/cobra"
)

// newServeCmd runs the HTTP control service.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the crawl control API",
		Long: `Starts the HTTP control surface. Crawls are started and stopped per
resource with /{resource}/start and /{resource}/stop; progress is served
by /{resource}/status, /{resource}/count and /api/runs. SIGINT or SIGTERM
stops running crawls at their next checkpoint before exiting.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, app App, _ []string) error {
			return app.Run(cmd.Context())
		}),
	}
}
