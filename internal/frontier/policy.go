// Package frontier decides which discovered links become new crawl entries.
package frontier

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/JakeFAU/contextractor/internal/crawler"
)

// ErrInvalidPattern wraps every glob or pseudo-URL that fails to compile.
var ErrInvalidPattern = errors.New("invalid url pattern")

// Policy applies the depth gate, include/exclude filters and fragment identity
// to links reported by the renderer. It is immutable once built and safe for
// concurrent use.
type Policy struct {
	includes      []glob.Glob
	pseudoURLs    []*regexp.Regexp
	excludes      []glob.Glob
	maxDepth      int
	keepFragments bool
}

// New compiles the patterns in cfg. Every setup problem is reported here so a
// crawl never discovers a bad pattern mid-run.
func New(cfg *crawler.CrawlConfig) (*Policy, error) {
	if cfg == nil {
		return nil, errors.New("crawl config is required")
	}
	if cfg.MaxCrawlingDepth < 0 {
		return nil, fmt.Errorf("max crawling depth must be >= 0, got %d", cfg.MaxCrawlingDepth)
	}
	p := &Policy{
		maxDepth:      cfg.MaxCrawlingDepth,
		keepFragments: cfg.KeepURLFragments,
	}
	var err error
	if p.includes, err = compileGlobs(cfg.Globs); err != nil {
		return nil, err
	}
	if p.excludes, err = compileGlobs(cfg.Excludes); err != nil {
		return nil, err
	}
	for _, raw := range cfg.PseudoURLs {
		re, err := CompilePseudoURL(raw)
		if err != nil {
			return nil, err
		}
		p.pseudoURLs = append(p.pseudoURLs, re)
	}
	return p, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, raw := range patterns {
		pattern := strings.TrimSpace(raw)
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("%w: glob %q: %w", ErrInvalidPattern, raw, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// CompilePseudoURL turns a pseudo-URL such as
// "https://example.com/[(\w|-)+]/page" into an anchored, case-insensitive
// regular expression. Text outside square brackets is literal.
func CompilePseudoURL(purl string) (*regexp.Regexp, error) {
	trimmed := strings.TrimSpace(purl)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty pseudo-url", ErrInvalidPattern)
	}
	var b strings.Builder
	b.WriteString("(?i)^")
	depth := 0
	var literal, pattern strings.Builder
	for _, r := range trimmed {
		switch {
		case r == '[' && depth == 0:
			b.WriteString(regexp.QuoteMeta(literal.String()))
			literal.Reset()
			depth = 1
		case r == '[':
			depth++
			pattern.WriteRune(r)
		case r == ']' && depth == 1:
			b.WriteString("(?:" + pattern.String() + ")")
			pattern.Reset()
			depth = 0
		case r == ']' && depth > 1:
			depth--
			pattern.WriteRune(r)
		case depth > 0:
			pattern.WriteRune(r)
		default:
			literal.WriteRune(r)
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("%w: pseudo-url %q has an unclosed bracket", ErrInvalidPattern, purl)
	}
	b.WriteString(regexp.QuoteMeta(literal.String()))
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("%w: pseudo-url %q: %w", ErrInvalidPattern, purl, err)
	}
	return re, nil
}

// Identity returns the deduplication key for a URL. Two URLs differing only
// by fragment share an identity unless fragments are kept.
func (p *Policy) Identity(rawURL string) (string, error) {
	id, err := crawler.NormalizeURL(rawURL, p.keepFragments)
	if err != nil {
		return "", fmt.Errorf("url identity: %w", err)
	}
	return id, nil
}

// Allowed reports whether a discovered link passes the include and exclude
// filters. Include globs and pseudo-URLs are alternatives: when either list is
// non-empty the link must match at least one entry of either.
func (p *Policy) Allowed(rawURL string) bool {
	candidate := strings.ToLower(rawURL)
	if len(p.includes) > 0 || len(p.pseudoURLs) > 0 {
		if !p.matchesInclude(rawURL, candidate) {
			return false
		}
	}
	for _, g := range p.excludes {
		if g.Match(candidate) {
			return false
		}
	}
	return true
}

func (p *Policy) matchesInclude(rawURL, lowered string) bool {
	for _, g := range p.includes {
		if g.Match(lowered) {
			return true
		}
	}
	for _, re := range p.pseudoURLs {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// CanExpand reports whether children of an entry at depth may be enqueued.
func (p *Policy) CanExpand(depth int) bool {
	return p.maxDepth == 0 || depth < p.maxDepth
}

// Seeds builds depth-0 entries for the start URLs. Seeds are not subject to
// the include/exclude filters. Duplicate seeds collapse to their first
// occurrence.
func (p *Policy) Seeds(urls []string, cfg *crawler.CrawlConfig) ([]crawler.Entry, error) {
	seen := make(map[string]struct{}, len(urls))
	out := make([]crawler.Entry, 0, len(urls))
	for _, raw := range urls {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if !crawler.IsCrawlable(trimmed) {
			return nil, fmt.Errorf("start url %q is not an http(s) url", raw)
		}
		id, err := p.Identity(trimmed)
		if err != nil {
			return nil, fmt.Errorf("start url %q: %w", raw, err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, crawler.Entry{URL: p.entryURL(trimmed), Depth: 0, Config: cfg})
	}
	return out, nil
}

// Expand turns the links discovered on parent into child entries. Children
// carry parent.Depth+1 and the parent's config pointer. Links that are not
// http(s), fail the filters or repeat within the batch are dropped.
func (p *Policy) Expand(parent crawler.Entry, links []string) []crawler.Entry {
	if !p.CanExpand(parent.Depth) || len(links) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(links))
	out := make([]crawler.Entry, 0, len(links))
	for _, link := range links {
		link = strings.TrimSpace(link)
		if !crawler.IsCrawlable(link) {
			continue
		}
		id, err := p.Identity(link)
		if err != nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		target := p.entryURL(link)
		if !p.Allowed(target) {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, crawler.Entry{
			URL:    target,
			Depth:  parent.Depth + 1,
			Config: parent.Config,
		})
	}
	return out
}

// entryURL strips the fragment from the URL that will be rendered when
// fragments are not part of page identity.
func (p *Policy) entryURL(rawURL string) string {
	if p.keepFragments {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
