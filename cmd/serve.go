package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serves the JSON API and Prometheus metrics on the configured port until
SIGINT or SIGTERM, then drains in-flight requests before exiting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app App) error {
				if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("run server: %w", err)
				}
				app.Logger().Info("server stopped")
				return nil
			})
		},
	}
}
