// Package cmd defines and implements the CLI commands for the pageanalyzer executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-analyzer/internal/analyzer"
	"github.com/JakeFAU/page-analyzer/internal/config"
	"github.com/JakeFAU/page-analyzer/internal/server"
)

// App defines the application interface that commands use.
// Tests inject a fake through newApp.
type App interface {
	Service() *analyzer.Service
	Logger() *zap.Logger
	Migrate(ctx context.Context) error
	Run(ctx context.Context) error
	Close(ctx context.Context) error
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return server.Build(ctx, cfg, server.Options{})
}

type rootOptions struct {
	configPath string
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "pageanalyzer",
		Short: "Register websites and record SEO checks of their home pages.",
		Long: `pageanalyzer keeps a registry of websites and, on demand, fetches a site's
home page to record the HTTP status and its <h1>, <title> and meta description.

Run "pageanalyzer serve" for the JSON API, or use the site commands directly.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"config file (default is ./config.yaml or $XDG_CONFIG_HOME/page-analyzer/config.yaml)")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newSubmitCmd(opts),
		newCheckCmd(opts),
		newListCmd(opts),
		newShowCmd(opts),
	)
	return cmd
}

// withApp loads configuration, builds the application and closes it after fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, app App) error) (err error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, app)
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
