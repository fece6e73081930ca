// Package extraction turns rendered HTML into page metadata and format
// renderings. The heavy lifting is delegated to an Engine; this package owns
// option handling, the language fallback and per-format failure isolation.
package extraction

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/contextractor/internal/crawler"
)

// RawMetadata is what an engine derives from a page. Empty strings mean the
// field could not be found.
type RawMetadata struct {
	Title       string
	Author      string
	Date        string
	Description string
	SiteName    string
	Language    string
}

// Engine is the HTML-to-content capability.
type Engine interface {
	// Extract renders the main content of html in format. ok is false when
	// nothing extractable was found.
	Extract(ctx context.Context, html, pageURL string, format crawler.Format, opts Options) (content string, ok bool, err error)
	// Metadata derives page level fields.
	Metadata(ctx context.Context, html, pageURL string) (RawMetadata, error)
}

var htmlLangPattern = regexp.MustCompile(`(?i)<html[^>]*\slang=["']([^"']+)["']`)

// Orchestrator implements crawler.PageExtractor on top of an Engine.
type Orchestrator struct {
	engine      Engine
	opts        Options
	logger      *zap.Logger
	parallelism int
}

// NewOrchestrator wires an Engine with crawl-wide options.
func NewOrchestrator(engine Engine, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		engine:      engine,
		opts:        opts,
		logger:      logger.Named("extraction"),
		parallelism: len(crawler.Formats),
	}
}

// Options returns the options passed to the engine.
func (o *Orchestrator) Options() Options {
	return o.opts
}

// ExtractMetadata derives metadata. Engine failures are logged and produce
// empty fields; the html lang attribute is used when no language was found.
func (o *Orchestrator) ExtractMetadata(ctx context.Context, html, pageURL string) (crawler.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Metadata{}, fmt.Errorf("extract metadata: %w", err)
	}
	raw, err := o.engine.Metadata(ctx, html, pageURL)
	if err != nil {
		o.logger.Warn("metadata extraction failed", zap.String("url", pageURL), zap.Error(err))
		raw = RawMetadata{}
	}
	if strings.TrimSpace(raw.Language) == "" {
		raw.Language = LangFallback(html)
	}
	return crawler.Metadata{
		Title:       optional(raw.Title),
		Author:      optional(raw.Author),
		PublishedAt: optional(raw.Date),
		Description: optional(raw.Description),
		SiteName:    optional(raw.SiteName),
		Lang:        optional(raw.Language),
	}, nil
}

// LangFallback returns the lang attribute of the html element, or "".
func LangFallback(html string) string {
	m := htmlLangPattern.FindStringSubmatch(html)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ExtractFormat renders a single format. ok is false when the engine found
// nothing or failed; engine failures are logged, not returned.
func (o *Orchestrator) ExtractFormat(ctx context.Context, html, pageURL string, format crawler.Format) (string, bool) {
	content, ok, err := o.engine.Extract(ctx, html, pageURL, format, o.opts)
	if err != nil {
		o.logger.Warn("format extraction failed",
			zap.String("url", pageURL),
			zap.String("format", string(format)),
			zap.Error(err),
		)
		return "", false
	}
	if !ok || content == "" {
		o.logger.Debug("no extractable content",
			zap.String("url", pageURL),
			zap.String("format", string(format)),
		)
		return "", false
	}
	return content, true
}

// ExtractFormats renders every requested format concurrently. Formats with no
// content are missing from the result. Only cancellation is an error.
func (o *Orchestrator) ExtractFormats(ctx context.Context, html, pageURL string, formats []crawler.Format) (map[crawler.Format]string, error) {
	out := make(map[crawler.Format]string, len(formats))
	if len(formats) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism)
	for _, format := range formats {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, ok := o.ExtractFormat(gctx, html, pageURL, format)
			if !ok {
				return nil
			}
			mu.Lock()
			out[format] = content
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("extract formats: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extract formats: %w", err)
	}
	return out, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
