package heuristic

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// dateParams mirrors the date_extraction_params option.
type dateParams struct {
	original bool
	format   string
	min      time.Time
	max      time.Time
}

var defaultMinDate = time.Date(1995, 1, 1, 0, 0, 0, 0, time.UTC)

func parseDateParams(raw map[string]any, now time.Time) dateParams {
	p := dateParams{
		original: true,
		format:   "%Y-%m-%d",
		min:      defaultMinDate,
		max:      now.Add(24 * time.Hour),
	}
	if raw == nil {
		return p
	}
	if v, ok := raw["original_date"].(bool); ok {
		p.original = v
	}
	if v, ok := raw["outputformat"].(string); ok && strings.TrimSpace(v) != "" {
		p.format = v
	}
	if v, ok := raw["min_date"].(string); ok {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			p.min = t
		}
	}
	if v, ok := raw["max_date"].(string); ok {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			p.max = t.Add(24*time.Hour - time.Nanosecond)
		}
	}
	return p
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"02.01.2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	time.RFC1123,
	time.RFC1123Z,
	time.RFC850,
}

var isoDatePrefix = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})`)

func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	if m := isoDatePrefix.FindString(raw); m != "" {
		if t, err := time.Parse("2006-01-02", m); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var (
	publishedKeys = []string{"article:published_time", "datePublished", "date", "pubdate", "publish-date", "publish_date", "dc.date", "dc.date.issued", "dcterms.created", "sailthru.date", "parsely-pub-date"}
	modifiedKeys  = []string{"article:modified_time", "og:updated_time", "dateModified", "last-modified", "dcterms.modified"}
)

// findDate returns the page date rendered with params.format, or "".
// original selects the publication date over the last modification.
func findDate(doc *goquery.Document, ld linkedData, params dateParams) string {
	published := candidates(doc, publishedKeys, ld.datePublished, true)
	modified := candidates(doc, modifiedKeys, ld.dateModified, false)

	order := [][]string{published, modified}
	if !params.original {
		order = [][]string{modified, published}
	}
	for _, group := range order {
		for _, raw := range group {
			t, ok := parseDate(raw)
			if !ok || t.Before(params.min) || t.After(params.max) {
				continue
			}
			return strftime(t, params.format)
		}
	}
	return ""
}

func candidates(doc *goquery.Document, keys []string, linked string, withTime bool) []string {
	var out []string
	for _, key := range keys {
		if v := metaContent(doc, key); v != "" {
			out = append(out, v)
		}
	}
	if linked != "" {
		out = append(out, linked)
	}
	if withTime {
		doc.Find("time[pubdate][datetime], time[datetime]").Each(func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr("datetime"); ok {
				out = append(out, v)
			}
		})
	}
	return out
}

// strftime supports the directives commonly used in date output formats.
func strftime(t time.Time, format string) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i == len(format)-1 {
			b.WriteByte(format[i])
			continue
		}
		i++
		switch format[i] {
		case 'Y':
			fmt.Fprintf(&b, "%04d", t.Year())
		case 'y':
			fmt.Fprintf(&b, "%02d", t.Year()%100)
		case 'm':
			fmt.Fprintf(&b, "%02d", int(t.Month()))
		case 'd':
			fmt.Fprintf(&b, "%02d", t.Day())
		case 'H':
			fmt.Fprintf(&b, "%02d", t.Hour())
		case 'M':
			fmt.Fprintf(&b, "%02d", t.Minute())
		case 'S':
			fmt.Fprintf(&b, "%02d", t.Second())
		case 'B':
			b.WriteString(t.Month().String())
		case 'b':
			b.WriteString(t.Month().String()[:3])
		case 'A':
			b.WriteString(t.Weekday().String())
		case 'a':
			b.WriteString(t.Weekday().String()[:3])
		case 'j':
			fmt.Fprintf(&b, "%03d", t.YearDay())
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(format[i])
		}
	}
	return b.String()
}
