// Package heuristic is the built-in extraction engine. It prunes boilerplate,
// scores candidate containers by paragraph density and renders the surviving
// blocks as text, markdown, JSON, XML or TEI.
package heuristic

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/contextractor/internal/crawler"
	"github.com/JakeFAU/contextractor/internal/extraction"
)

// Minimum characters of main text per mode; less than that is "nothing found".
const (
	minCharsPrecision = 50
	minCharsBalanced  = 25
	minCharsRecall    = 1
)

// Engine implements extraction.Engine.
type Engine struct {
	logger *zap.Logger
	now    func() time.Time
}

// New returns an Engine.
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger.Named("heuristic"), now: time.Now}
}

// Metadata reads page level fields with default date settings.
func (e *Engine) Metadata(ctx context.Context, rawHTML, pageURL string) (extraction.RawMetadata, error) {
	if err := ctx.Err(); err != nil {
		return extraction.RawMetadata{}, err
	}
	d, err := parseDocument(rawHTML, pageURL)
	if err != nil {
		return extraction.RawMetadata{}, fmt.Errorf("parse html: %w", err)
	}
	m := readMetadata(d.doc, pageURL, parseDateParams(nil, e.now()))
	return extraction.RawMetadata{
		Title:       m.Title,
		Author:      m.Author,
		Date:        m.Date,
		Description: m.Description,
		SiteName:    m.SiteName,
		Language:    m.Language,
	}, nil
}

// Extract renders the main content in format. ok is false when the page is
// filtered out or too little text survives.
func (e *Engine) Extract(ctx context.Context, rawHTML, pageURL string, format crawler.Format, opts extraction.Options) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if blacklisted(pageURL, opts.URLBlacklist) {
		return "", false, nil
	}

	d, err := parseDocument(rawHTML, pageURL)
	if err != nil {
		return "", false, fmt.Errorf("parse html: %w", err)
	}

	meta := readMetadata(d.doc, pageURL, parseDateParams(opts.DateExtractionParams, e.now()))
	if blacklisted(meta.URL, opts.URLBlacklist) {
		return "", false, nil
	}
	if inList(meta.Author, opts.AuthorBlacklist) {
		meta.Author = ""
	}
	if opts.OnlyWithMetadata && (meta.Title == "" || meta.Date == "" || meta.URL == "") {
		return "", false, nil
	}
	if opts.TargetLanguage != nil {
		lang := meta.Language
		if lang == "" {
			lang = extraction.LangFallback(rawHTML)
		}
		if lang != "" && !sameLanguage(lang, *opts.TargetLanguage) {
			return "", false, nil
		}
	}

	if err := d.prune(opts); err != nil {
		return "", false, fmt.Errorf("prune_xpath: %w", err)
	}
	root := d.container(opts)
	if root == nil {
		return "", false, nil
	}
	c := newCollector(opts, d.base)
	c.walk(root)
	c.flush()

	res := result{
		meta:     meta,
		blocks:   filterBlocks(c.blocks, opts),
		comments: filterBlocks(d.comments, opts),
		opts:     opts,
	}
	if textLength(res.blocks) < minChars(opts) {
		return "", false, nil
	}

	switch format {
	case crawler.FormatText:
		return res.renderText(), true, nil
	case crawler.FormatMarkdown:
		return res.renderMarkdown(), true, nil
	case crawler.FormatJSON:
		out, err := res.renderJSON()
		return out, err == nil, err
	case crawler.FormatXML:
		out, err := res.renderXML()
		return out, err == nil, err
	case crawler.FormatXMLTEI:
		out, err := res.renderTEI()
		if err != nil {
			return "", false, err
		}
		if opts.TEIValidation {
			if err := validateTEI(out); err != nil {
				e.logger.Debug("tei validation failed", zap.String("url", pageURL), zap.Error(err))
				return "", false, nil
			}
		}
		return out, true, nil
	default:
		return "", false, fmt.Errorf("unsupported format %q", format)
	}
}

// filterBlocks drops link farms, short fragments in precision mode, trailing
// headings and, when asked, repeated blocks.
func filterBlocks(blocks []block, opts extraction.Options) []block {
	maxDensity := 0.75
	switch {
	case opts.FavorPrecision:
		maxDensity = 0.5
	case opts.FavorRecall:
		maxDensity = 1.01
	}

	seen := make(map[string]struct{})
	out := make([]block, 0, len(blocks))
	for _, b := range blocks {
		text := b.text()
		if b.kind != blockImage && strings.TrimSpace(text) == "" {
			continue
		}
		if b.kind == blockParagraph || b.kind == blockList {
			if b.linkDensity() > maxDensity {
				continue
			}
		}
		if opts.FavorPrecision && b.kind == blockParagraph && utf8.RuneCountInString(text) < 20 && !endsSentence(text) {
			continue
		}
		if opts.Deduplicate && b.kind != blockImage {
			key := strings.ToLower(normalizeSpace(text))
			if _, dup := seen[key]; dup && utf8.RuneCountInString(key) > 10 {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, b)
	}
	for len(out) > 0 && out[len(out)-1].kind == blockHeading {
		out = out[:len(out)-1]
	}
	return out
}

func textLength(blocks []block) int {
	n := 0
	for _, b := range blocks {
		if b.kind == blockImage {
			continue
		}
		n += utf8.RuneCountInString(b.text())
	}
	return n
}

func minChars(opts extraction.Options) int {
	switch {
	case opts.FavorPrecision:
		return minCharsPrecision
	case opts.FavorRecall:
		return minCharsRecall
	default:
		return minCharsBalanced
	}
}

func endsSentence(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?', ':', ';', '"', ')':
		return true
	}
	return false
}

func blacklisted(pageURL string, list []string) bool {
	if pageURL == "" || len(list) == 0 {
		return false
	}
	target := trimURL(pageURL)
	for _, entry := range list {
		if trimURL(entry) == target {
			return true
		}
	}
	return false
}

func trimURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	u.Fragment = ""
	return strings.ToLower(u.Host) + strings.TrimSuffix(u.EscapedPath(), "/") + querySuffix(u.RawQuery)
}

func querySuffix(q string) string {
	if q == "" {
		return ""
	}
	return "?" + q
}

func inList(value string, list []string) bool {
	if value == "" {
		return false
	}
	for _, entry := range list {
		if strings.EqualFold(strings.TrimSpace(entry), value) {
			return true
		}
	}
	return false
}

// sameLanguage compares the primary subtags of two language codes.
func sameLanguage(a, b string) bool {
	primary := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		if i := strings.IndexAny(s, "-_"); i >= 0 {
			s = s[:i]
		}
		return s
	}
	return primary(a) == primary(b)
}
