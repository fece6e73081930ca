package heuristic

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// pageMeta is everything the engine knows about a page besides its content.
type pageMeta struct {
	Title       string
	Author      string
	Date        string
	Description string
	SiteName    string
	Language    string
	URL         string
	Hostname    string
	Image       string
	Categories  []string
	Tags        []string
}

// readMetadata inspects head tags, JSON-LD and a few body conventions.
func readMetadata(doc *goquery.Document, pageURL string, params dateParams) pageMeta {
	ld := readLinkedData(doc)

	m := pageMeta{
		Title:       firstNonEmpty(metaContent(doc, "og:title", "twitter:title"), ld.headline, htmlTitle(doc)),
		Author:      readAuthor(doc, ld),
		Description: firstNonEmpty(metaContent(doc, "description", "og:description", "twitter:description", "dc.description"), ld.description),
		SiteName:    firstNonEmpty(metaContent(doc, "og:site_name", "application-name"), ld.publisher),
		Language:    readLanguage(doc),
		Image:       metaContent(doc, "og:image", "twitter:image"),
		Date:        findDate(doc, ld, params),
	}

	m.URL = pageURL
	if canonical, ok := doc.Find("link[rel='canonical']").Attr("href"); ok && strings.TrimSpace(canonical) != "" {
		if base, err := url.Parse(pageURL); err == nil && pageURL != "" {
			if ref, err := base.Parse(strings.TrimSpace(canonical)); err == nil {
				m.URL = ref.String()
			}
		} else {
			m.URL = strings.TrimSpace(canonical)
		}
	}
	if u, err := url.Parse(m.URL); err == nil {
		m.Hostname = strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	}
	if m.SiteName == "" {
		m.SiteName = m.Hostname
	}
	if section := metaContent(doc, "article:section"); section != "" {
		m.Categories = []string{section}
	}
	m.Tags = splitList(metaContent(doc, "keywords", "news_keywords"))
	if tag := metaContent(doc, "article:tag"); tag != "" && len(m.Tags) == 0 {
		m.Tags = []string{tag}
	}
	return m
}

// metaContent returns the first non-empty content of meta tags addressed by
// name, property or itemprop, in the order given.
func metaContent(doc *goquery.Document, keys ...string) string {
	for _, key := range keys {
		var found string
		doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			for _, a := range []string{"name", "property", "itemprop", "http-equiv"} {
				if v, ok := s.Attr(a); ok && strings.EqualFold(strings.TrimSpace(v), key) {
					if content, ok := s.Attr("content"); ok && strings.TrimSpace(content) != "" {
						found = normalizeSpace(content)
						return false
					}
				}
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// htmlTitle uses the document title, preferring the first h1 when it is one
// of the title's separator-delimited parts.
func htmlTitle(doc *goquery.Document) string {
	title := normalizeSpace(doc.Find("head title").First().Text())
	h1 := normalizeSpace(doc.Find("h1").First().Text())
	if title == "" {
		return h1
	}
	if h1 != "" {
		for _, sep := range []string{" | ", " - ", " – ", " — ", " :: ", " · "} {
			for _, part := range strings.Split(title, sep) {
				if strings.EqualFold(strings.TrimSpace(part), h1) {
					return h1
				}
			}
		}
	}
	return title
}

func readAuthor(doc *goquery.Document, ld linkedData) string {
	if a := metaContent(doc, "author", "article:author", "dc.creator", "byl", "parsely-author"); a != "" && !looksLikeURL(a) {
		return strings.TrimPrefix(a, "By ")
	}
	if len(ld.authors) > 0 {
		return strings.Join(ld.authors, "; ")
	}
	for _, sel := range []string{"[rel='author']", "[itemprop='author'] [itemprop='name']", "[itemprop='author']", ".byline .author", ".author-name", ".byline"} {
		text := normalizeSpace(doc.Find(sel).First().Text())
		text = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(text, "By "), "by "))
		if text != "" && len(text) < 80 {
			return text
		}
	}
	return ""
}

func readLanguage(doc *goquery.Document) string {
	lang := metaContent(doc, "content-language", "language", "dc.language", "og:locale")
	return strings.ReplaceAll(lang, "_", "-")
}

func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// linkedData holds the schema.org fields read from JSON-LD scripts.
type linkedData struct {
	headline      string
	description   string
	publisher     string
	authors       []string
	datePublished string
	dateModified  string
}

func readLinkedData(doc *goquery.Document) linkedData {
	var ld linkedData
	doc.Find("script[type='application/ld+json']").Each(func(_ int, s *goquery.Selection) {
		var payload any
		if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
			return
		}
		walkLinkedData(payload, &ld)
	})
	return ld
}

func walkLinkedData(v any, ld *linkedData) {
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			walkLinkedData(item, ld)
		}
	case map[string]any:
		if graph, ok := node["@graph"]; ok {
			walkLinkedData(graph, ld)
		}
		setOnce(&ld.headline, stringField(node, "headline"))
		setOnce(&ld.description, stringField(node, "description"))
		setOnce(&ld.datePublished, stringField(node, "datePublished"))
		setOnce(&ld.dateModified, stringField(node, "dateModified"))
		if pub, ok := node["publisher"].(map[string]any); ok {
			setOnce(&ld.publisher, stringField(pub, "name"))
		}
		if len(ld.authors) == 0 {
			ld.authors = authorNames(node["author"])
		}
	}
}

func authorNames(v any) []string {
	switch a := v.(type) {
	case string:
		if s := normalizeSpace(a); s != "" {
			return []string{s}
		}
	case map[string]any:
		if s := stringField(a, "name"); s != "" {
			return []string{s}
		}
	case []any:
		var out []string
		for _, item := range a {
			out = append(out, authorNames(item)...)
		}
		return out
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return normalizeSpace(s)
	}
	return ""
}

func setOnce(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}
