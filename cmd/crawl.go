package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/contextractor/internal/app"
	"github.com/JakeFAU/contextractor/internal/config"
	"github.com/JakeFAU/contextractor/internal/crawler"
	"github.com/JakeFAU/contextractor/internal/fetcher/links"
)

type crawlOptions struct {
	maxResults   int64
	maxPages     int64
	linkSelector string
	maxDepth     int
	concurrency  int
}

// crawlReport is printed when a crawl ends.
type crawlReport struct {
	crawler.Summary
	Duration string `json:"duration"`
}

// newCrawlApp is swapped in tests.
var newCrawlApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger, app.Overrides{})
}

func newCrawlCmd(root *rootOptions) *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl [url...]",
		Short: "Run one crawl and print its summary",
		Long: `Crawls from the given URLs (or the configured start URLs), following links
matched by the link selector, and prints a JSON summary. A crawl that ends in
BUDGET_EXHAUSTED or is interrupted by a signal still exits with status zero.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, root, opts, args)
		},
	}
	flags := cmd.Flags()
	flags.Int64Var(&opts.maxResults, "max-results", 0, "stop after this many stored results (0 = unlimited)")
	flags.Int64Var(&opts.maxPages, "max-pages", 0, "stop after this many handled pages (0 = unlimited)")
	flags.StringVar(&opts.linkSelector, "link-selector", "", "CSS selector of links to follow")
	flags.IntVar(&opts.maxDepth, "max-depth", 0, "maximum link depth from the start URLs (0 = unlimited)")
	flags.IntVar(&opts.concurrency, "concurrency", 0, "number of pages processed in parallel")
	return cmd
}

func runCrawl(cmd *cobra.Command, root *rootOptions, opts *crawlOptions, args []string) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if err := opts.apply(cmd, &cfg, args); err != nil {
		return err
	}

	logger, sync, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer sync()

	ctx := cmd.Context()
	a, err := newCrawlApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init crawl: %w", err)
	}
	defer a.Close()

	summary, runErr := a.Run(ctx)
	report := crawlReport{Summary: summary}
	if !summary.Started.IsZero() && !summary.Finished.IsZero() {
		report.Duration = summary.Finished.Sub(summary.Started).Round(time.Millisecond).String()
	}
	if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logger.Warn("crawl interrupted", zap.Error(runErr))
			return nil
		}
		return runErr
	}
	return nil
}

func (o *crawlOptions) apply(cmd *cobra.Command, cfg *config.Config, args []string) error {
	if len(args) > 0 {
		cfg.Crawl.StartURLs = append([]string(nil), args...)
	}
	flags := cmd.Flags()
	if flags.Changed("max-results") {
		cfg.Crawl.MaxResultsPerCrawl = o.maxResults
	}
	if flags.Changed("max-pages") {
		cfg.Crawl.MaxPagesPerCrawl = o.maxPages
	}
	if flags.Changed("link-selector") {
		if err := links.Validate(o.linkSelector); err != nil {
			return err
		}
		cfg.Crawl.LinkSelector = o.linkSelector
	}
	if flags.Changed("max-depth") {
		cfg.Crawl.MaxCrawlingDepth = o.maxDepth
	}
	if flags.Changed("concurrency") {
		cfg.Crawl.Concurrency = o.concurrency
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return nil
}
