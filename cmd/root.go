// Package cmd implements the contextractor command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/contextractor/internal/config"
	"github.com/JakeFAU/contextractor/internal/logging"
)

type rootOptions struct {
	configFile string
	inputFile  string
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "contextractor",
		Short: "Crawl websites and extract their main content.",
		Long: `contextractor renders pages, extracts metadata and the main content in
several formats, stores every rendering in a key-value store and appends one
record per page to a dataset.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.inputFile, "input", "", "actor input document (JSON); - reads stdin")

	cmd.AddCommand(newCrawlCmd(opts))
	cmd.AddCommand(newExtractCmd(opts))
	cmd.AddCommand(newNormalizeCmd())
	return cmd
}

// Execute runs the CLI and exits non-zero on failure. SIGINT and SIGTERM
// cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, overlays the input document and
// validates the result.
func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if o.inputFile == "" {
		return cfg, nil
	}
	in, err := config.LoadInput(o.inputFile)
	if err != nil {
		return config.Config{}, err
	}
	if err := in.Apply(&cfg); err != nil {
		return config.Config{}, fmt.Errorf("apply input: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*zap.Logger, func(), error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, func() { _ = logger.Sync() }, nil
}
