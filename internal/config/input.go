package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/contextractor/internal/crawler"
)

// Input is the actor-style input document. Every field is optional; a missing
// field leaves the loaded Config untouched.
type Input struct {
	StartURLs          patternList       `json:"startUrls"`
	MaxPagesPerCrawl   *int64            `json:"maxPagesPerCrawl"`
	MaxResultsPerCrawl *int64            `json:"maxResultsPerCrawl"`
	MaxRequestRetries  *int              `json:"maxRequestRetries"`
	PageLoadTimeoutSec *int              `json:"pageLoadTimeoutSecs"`
	MaxConcurrency     *int              `json:"maxConcurrency"`
	Headless           *bool             `json:"headless"`
	Launcher           *string           `json:"launcher"`
	IgnoreSSLErrors    *bool             `json:"ignoreSslErrors"`
	IgnoreCORSAndCSP   *bool             `json:"ignoreCorsAndCsp"`
	InitialCookies     []Cookie          `json:"initialCookies"`
	CustomHTTPHeaders  map[string]string `json:"customHttpHeaders"`
	KeyValueStoreName  *string           `json:"keyValueStoreName"`
	DatasetName        *string           `json:"datasetName"`
	DebugLog           *bool             `json:"debugLog"`
	BrowserLog         *bool             `json:"browserLog"`
	SaveRawHTML        *bool             `json:"saveRawHtmlToKeyValueStore"`
	SaveText           *bool             `json:"saveExtractedTextToKeyValueStore"`
	SaveJSON           *bool             `json:"saveExtractedJsonToKeyValueStore"`
	SaveMarkdown       *bool             `json:"saveExtractedMarkdownToKeyValueStore"`
	SaveXML            *bool             `json:"saveExtractedXmlToKeyValueStore"`
	SaveXMLTEI         *bool             `json:"saveExtractedXmlTeiToKeyValueStore"`
	ExtractionMode     *string           `json:"extractionMode"`
	ExtractionOptions  map[string]any    `json:"trafilaturaConfig"`
	Globs              patternList       `json:"globs"`
	Excludes           patternList       `json:"excludes"`
	PseudoURLs         patternList       `json:"pseudoUrls"`
	LinkSelector       *string           `json:"linkSelector"`
	KeepURLFragments   *bool             `json:"keepUrlFragments"`
	MaxCrawlingDepth   *int              `json:"maxCrawlingDepth"`
}

// patternList accepts either plain strings or request-like objects
// ({"url": ...}, {"glob": ...}, {"purl": ...}). A nil list means "absent".
type patternList []string

// UnmarshalJSON implements json.Unmarshaler.
func (p *patternList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("expected a list: %w", err)
	}
	out := make(patternList, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(item, &obj); err != nil {
			return fmt.Errorf("list item %s: expected string or object", string(item))
		}
		for _, key := range []string{"url", "glob", "purl"} {
			if v, ok := obj[key].(string); ok && strings.TrimSpace(v) != "" {
				out = append(out, strings.TrimSpace(v))
				break
			}
		}
	}
	*p = out
	return nil
}

// LoadInput reads an input document from path. "-" reads standard input.
func LoadInput(path string) (*Input, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	return ParseInput(r)
}

// ParseInput decodes an input document.
func ParseInput(r io.Reader) (*Input, error) {
	var in Input
	dec := json.NewDecoder(r)
	if err := dec.Decode(&in); err != nil {
		if errors.Is(err, io.EOF) {
			return &in, nil
		}
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return &in, nil
}

// Apply overlays the fields present in the input onto cfg.
func (in *Input) Apply(cfg *Config) error {
	if in == nil {
		return nil
	}
	if in.StartURLs != nil {
		cfg.Crawl.StartURLs = append([]string(nil), in.StartURLs...)
	}
	setInt64(&cfg.Crawl.MaxPagesPerCrawl, in.MaxPagesPerCrawl)
	setInt64(&cfg.Crawl.MaxResultsPerCrawl, in.MaxResultsPerCrawl)
	setInt(&cfg.Crawl.MaxRequestRetries, in.MaxRequestRetries)
	setInt(&cfg.Crawl.PageLoadTimeoutSecs, in.PageLoadTimeoutSec)
	setInt(&cfg.Crawl.Concurrency, in.MaxConcurrency)
	setInt(&cfg.Crawl.MaxCrawlingDepth, in.MaxCrawlingDepth)
	setBool(&cfg.Crawl.KeepURLFragments, in.KeepURLFragments)
	setString(&cfg.Crawl.LinkSelector, in.LinkSelector)
	if in.Globs != nil {
		cfg.Crawl.Globs = append([]string(nil), in.Globs...)
	}
	if in.Excludes != nil {
		cfg.Crawl.Excludes = append([]string(nil), in.Excludes...)
	}
	if in.PseudoURLs != nil {
		cfg.Crawl.PseudoURLs = append([]string(nil), in.PseudoURLs...)
	}

	setBool(&cfg.Crawl.Save.RawHTML, in.SaveRawHTML)
	setBool(&cfg.Crawl.Save.Text, in.SaveText)
	setBool(&cfg.Crawl.Save.JSON, in.SaveJSON)
	setBool(&cfg.Crawl.Save.Markdown, in.SaveMarkdown)
	setBool(&cfg.Crawl.Save.XML, in.SaveXML)
	setBool(&cfg.Crawl.Save.XMLTEI, in.SaveXMLTEI)

	if in.Launcher != nil && !strings.EqualFold(*in.Launcher, "CHROMIUM") {
		return fmt.Errorf("launcher %q is not supported, only CHROMIUM", *in.Launcher)
	}
	setBool(&cfg.Render.Headless, in.Headless)
	setBool(&cfg.Render.IgnoreSSLErrors, in.IgnoreSSLErrors)
	setBool(&cfg.Render.IgnoreCORSAndCSP, in.IgnoreCORSAndCSP)
	setBool(&cfg.Render.BrowserLog, in.BrowserLog)
	if in.InitialCookies != nil {
		cfg.Render.InitialCookies = append([]Cookie(nil), in.InitialCookies...)
	}
	if in.CustomHTTPHeaders != nil {
		cfg.Render.CustomHeaders = make(map[string]string, len(in.CustomHTTPHeaders))
		for k, v := range in.CustomHTTPHeaders {
			cfg.Render.CustomHeaders[k] = v
		}
	}

	setString(&cfg.Storage.KeyValueStoreName, in.KeyValueStoreName)
	setString(&cfg.Dataset.Name, in.DatasetName)
	if in.DebugLog != nil && *in.DebugLog {
		cfg.Logging.Level = "debug"
	}

	if in.ExtractionMode != nil {
		if _, err := crawler.ParseExtractionMode(*in.ExtractionMode); err != nil {
			return fmt.Errorf("extractionMode: %w", err)
		}
		cfg.Extraction.Mode = *in.ExtractionMode
	}
	if in.ExtractionOptions != nil {
		cfg.Extraction.Options = in.ExtractionOptions
	}
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setInt64(dst *int64, v *int64) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
