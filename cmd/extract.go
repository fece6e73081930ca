package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/contextractor/internal/crawler"
	"github.com/JakeFAU/contextractor/internal/extraction"
	"github.com/JakeFAU/contextractor/internal/extraction/heuristic"
)

type extractOptions struct {
	file    string
	pageURL string
	formats []string
	mode    string
}

// extractReport is the JSON document printed by the extract command.
type extractReport struct {
	URL      string            `json:"url"`
	Metadata crawler.Metadata  `json:"metadata"`
	Formats  map[string]string `json:"formats"`
}

func newExtractCmd(root *rootOptions) *cobra.Command {
	opts := &extractOptions{}
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract metadata and content from one saved HTML page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExtract(cmd, root, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.file, "file", "-", "HTML file to read; - reads stdin")
	flags.StringVar(&opts.pageURL, "url", "", "URL the page was loaded from")
	flags.StringSliceVar(&opts.formats, "format", []string{string(crawler.FormatMarkdown)}, "formats to render (txt, json, markdown, xml, xmltei)")
	flags.StringVar(&opts.mode, "mode", "", "extraction mode (BALANCED, FAVOR_PRECISION, FAVOR_RECALL)")
	return cmd
}

func runExtract(cmd *cobra.Command, root *rootOptions, opts *extractOptions) error {
	formats := make([]crawler.Format, 0, len(opts.formats))
	for _, raw := range opts.formats {
		f, err := crawler.ParseFormat(raw)
		if err != nil {
			return err
		}
		formats = append(formats, f)
	}

	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if opts.mode != "" {
		cfg.Extraction.Mode = opts.mode
	}
	mode, err := crawler.ParseExtractionMode(cfg.Extraction.Mode)
	if err != nil {
		return err
	}
	extractOpts, err := extraction.Resolve(cfg.Extraction.Options, mode)
	if err != nil {
		return err
	}

	html, err := readSource(cmd, opts.file)
	if err != nil {
		return err
	}

	logger, sync, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer sync()

	orch := extraction.NewOrchestrator(heuristic.New(logger), extractOpts, logger)
	ctx := cmd.Context()
	meta, err := orch.ExtractMetadata(ctx, string(html), opts.pageURL)
	if err != nil {
		return err
	}
	rendered, err := orch.ExtractFormats(ctx, string(html), opts.pageURL, formats)
	if err != nil {
		return err
	}

	report := extractReport{URL: opts.pageURL, Metadata: meta, Formats: make(map[string]string, len(rendered))}
	for f, content := range rendered {
		report.Formats[string(f)] = content
	}
	return writeJSON(cmd.OutOrStdout(), report)
}

// readSource reads path, or the command's stdin when path is "-".
func readSource(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
