// Package links resolves the hrefs of elements matched by a CSS selector into
// absolute URLs.
package links

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// Validate reports whether selector compiles. The empty selector is valid and
// disables link discovery.
func Validate(selector string) error {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil
	}
	if _, err := cascadia.Compile(selector); err != nil {
		return fmt.Errorf("invalid link selector %q: %w", selector, err)
	}
	return nil
}

// Discover parses html and returns the absolute http(s) URLs of every element
// matching selector, in document order. Relative hrefs resolve against the
// document's <base href> when present, else against pageURL. An empty
// selector yields no links.
func Discover(html, pageURL, selector string) ([]string, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil, nil
	}
	if err := Validate(selector); err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return FromDocument(doc, base, selector), nil
}

// FromDocument runs the discovery on an already parsed document. The selector
// must already be valid.
func FromDocument(doc *goquery.Document, base *url.URL, selector string) []string {
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = resolved
		}
	}

	var out []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || href == "#" {
			return
		}
		u, err := base.Parse(href)
		if err != nil {
			return
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		out = append(out, u.String())
	})
	return out
}
