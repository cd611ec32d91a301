package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/page-analyzer/internal/analyzer"
	"github.com/JakeFAU/page-analyzer/internal/report"
)

const defaultCheckConcurrency = 4

func newSubmitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <url>...",
		Short: "Register one or more websites",
		Long: `Normalizes each URL to its scheme and host and registers the site.
Submitting a site that is already registered reports its existing id.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app App) error {
				subs := make([]analyzer.Submission, 0, len(args))
				var errs []error
				for _, raw := range args {
					sub, err := app.Service().SubmitSite(ctx, raw)
					if err != nil {
						errs = append(errs, fmt.Errorf("submit %q: %w", raw, err))
						continue
					}
					subs = append(subs, sub)
				}
				if len(subs) > 0 {
					if err := report.WriteSubmissions(cmd.OutOrStdout(), subs); err != nil {
						return fmt.Errorf("write report: %w", err)
					}
				}
				return errors.Join(errs...)
			})
		},
	}
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	concurrency := defaultCheckConcurrency
	cmd := &cobra.Command{
		Use:   "check <site-id>...",
		Short: "Fetch sites and record a check for each",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseSiteIDs(args)
			if err != nil {
				return err
			}
			if concurrency < 1 {
				return fmt.Errorf("--concurrency must be at least 1")
			}
			return withApp(cmd, opts, func(ctx context.Context, app App) error {
				results, failures := runChecks(ctx, app, ids, concurrency)
				if err := report.WriteCheckResults(cmd.OutOrStdout(), results, failures); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				if len(failures) > 0 {
					return fmt.Errorf("%d of %d checks failed", len(failures), len(ids))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", defaultCheckConcurrency, "maximum checks in flight")
	return cmd
}

// runChecks checks every id with at most limit checks in flight. One failing
// check does not cancel the others. Results keep the order of ids.
func runChecks(
	ctx context.Context,
	app App,
	ids []int64,
	limit int,
) ([]analyzer.CheckSummary, map[int64]error) {
	slots := make([]*analyzer.CheckSummary, len(ids))
	failures := make(map[int64]error)
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range ids {
		g.Go(func() error {
			summary, err := app.Service().RunCheck(ctx, id)
			if err != nil {
				app.Logger().Warn("check failed", zap.Int64("site_id", id), zap.Error(err))
				mu.Lock()
				failures[id] = err
				mu.Unlock()
				return nil
			}
			slots[i] = &summary
			return nil
		})
	}
	_ = g.Wait()

	results := make([]analyzer.CheckSummary, 0, len(ids))
	for _, s := range slots {
		if s != nil {
			results = append(results, *s)
		}
	}
	return results, failures
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered sites with their latest check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app App) error {
				sites, err := app.Service().ListSites(ctx)
				if err != nil {
					return err
				}
				return report.WriteSites(cmd.OutOrStdout(), sites)
			})
		},
	}
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <site-id>",
		Short: "Show a site and its check history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSiteID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, app App) error {
				page, err := app.Service().GetSitePage(ctx, id)
				if err != nil {
					return err
				}
				return report.WriteSitePage(cmd.OutOrStdout(), page)
			})
		},
	}
}

// parseSiteIDs parses args in order, dropping repeated ids so each site is
// checked once per invocation.
func parseSiteIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	seen := make(map[int64]struct{}, len(args))
	for _, arg := range args {
		id, err := parseSiteID(arg)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseSiteID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid site id %q: must be a positive integer", arg)
	}
	return id, nil
}
