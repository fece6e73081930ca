package crawler

import (
	"fmt"
	"strings"
	"time"
)

// Format names one extracted rendering of a page.
type Format string

// Supported extraction formats.
const (
	FormatText     Format = "txt"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatXML      Format = "xml"
	FormatXMLTEI   Format = "xmltei"
)

// Formats lists every supported format in persistence order.
var Formats = []Format{FormatText, FormatJSON, FormatMarkdown, FormatXML, FormatXMLTEI}

// ParseFormat resolves a user supplied format name. "text", "md" and "tei" are
// accepted as aliases.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "txt", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "xml":
		return FormatXML, nil
	case "xmltei", "tei", "xml-tei":
		return FormatXMLTEI, nil
	default:
		return "", fmt.Errorf("unknown format %q", raw)
	}
}

// ExtractionMode biases the extraction capability towards precision or recall.
type ExtractionMode string

// Supported extraction modes.
const (
	ModeBalanced       ExtractionMode = "BALANCED"
	ModeFavorPrecision ExtractionMode = "FAVOR_PRECISION"
	ModeFavorRecall    ExtractionMode = "FAVOR_RECALL"
)

// ParseExtractionMode resolves a mode name case-insensitively. An empty string
// yields an empty mode, meaning "not specified".
func ParseExtractionMode(raw string) (ExtractionMode, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "":
		return "", nil
	case string(ModeBalanced):
		return ModeBalanced, nil
	case string(ModeFavorPrecision), "PRECISION":
		return ModeFavorPrecision, nil
	case string(ModeFavorRecall), "RECALL":
		return ModeFavorRecall, nil
	default:
		return "", fmt.Errorf("unknown extraction mode %q", raw)
	}
}

// SaveOptions selects which artifacts are persisted for every page.
type SaveOptions struct {
	RawHTML  bool `json:"raw_html" mapstructure:"raw_html"`
	Text     bool `json:"text" mapstructure:"text"`
	JSON     bool `json:"json" mapstructure:"json"`
	Markdown bool `json:"markdown" mapstructure:"markdown"`
	XML      bool `json:"xml" mapstructure:"xml"`
	XMLTEI   bool `json:"xml_tei" mapstructure:"xml_tei"`
}

// Formats returns the extracted formats enabled by the options.
func (s SaveOptions) Formats() []Format {
	var out []Format
	if s.Text {
		out = append(out, FormatText)
	}
	if s.JSON {
		out = append(out, FormatJSON)
	}
	if s.Markdown {
		out = append(out, FormatMarkdown)
	}
	if s.XML {
		out = append(out, FormatXML)
	}
	if s.XMLTEI {
		out = append(out, FormatXMLTEI)
	}
	return out
}

// CrawlConfig is fixed for the lifetime of a crawl. Every frontier entry points
// at the same value; expansion never copies or mutates it.
type CrawlConfig struct {
	Save             SaveOptions
	Mode             ExtractionMode
	LinkSelector     string
	Globs            []string
	Excludes         []string
	PseudoURLs       []string
	KeepURLFragments bool
	MaxCrawlingDepth int
}

// Entry is one frontier element. Attempt counts retries already spent on it.
type Entry struct {
	URL     string
	Depth   int
	Attempt int
	Config  *CrawlConfig
}

// ContentInfo fingerprints a byte payload.
type ContentInfo struct {
	Hash   string `json:"hash"`
	Length int    `json:"length"`
}

// ArtifactRef points at one persisted artifact. Key and URL are empty for raw
// HTML that was fingerprinted but not stored.
type ArtifactRef struct {
	Key    string `json:"key,omitempty"`
	URL    string `json:"url,omitempty"`
	Hash   string `json:"hash"`
	Length int    `json:"length"`
}

// Metadata holds the page level fields. Nil means the field could not be derived.
type Metadata struct {
	Title       *string `json:"title"`
	Author      *string `json:"author"`
	PublishedAt *string `json:"publishedAt"`
	Description *string `json:"description"`
	SiteName    *string `json:"siteName"`
	Lang        *string `json:"lang"`
}

// PageResult is the dataset record appended once per successfully processed page.
type PageResult struct {
	LoadedURL         string       `json:"loadedUrl"`
	RawHTML           ArtifactRef  `json:"rawHtml"`
	LoadedAt          string       `json:"loadedAt"`
	Metadata          Metadata     `json:"metadata"`
	HTTPStatus        int          `json:"httpStatus"`
	ExtractedText     *ArtifactRef `json:"extractedText,omitempty"`
	ExtractedJSON     *ArtifactRef `json:"extractedJson,omitempty"`
	ExtractedMarkdown *ArtifactRef `json:"extractedMarkdown,omitempty"`
	ExtractedXML      *ArtifactRef `json:"extractedXml,omitempty"`
	ExtractedXMLTEI   *ArtifactRef `json:"extractedXmlTei,omitempty"`
}

// SetArtifact records the reference for an extracted format.
func (p *PageResult) SetArtifact(format Format, ref ArtifactRef) {
	r := ref
	switch format {
	case FormatText:
		p.ExtractedText = &r
	case FormatJSON:
		p.ExtractedJSON = &r
	case FormatMarkdown:
		p.ExtractedMarkdown = &r
	case FormatXML:
		p.ExtractedXML = &r
	case FormatXMLTEI:
		p.ExtractedXMLTEI = &r
	}
}

// Artifact returns the reference stored for format, or nil.
func (p PageResult) Artifact(format Format) *ArtifactRef {
	switch format {
	case FormatText:
		return p.ExtractedText
	case FormatJSON:
		return p.ExtractedJSON
	case FormatMarkdown:
		return p.ExtractedMarkdown
	case FormatXML:
		return p.ExtractedXML
	case FormatXMLTEI:
		return p.ExtractedXMLTEI
	default:
		return nil
	}
}

// Artifacts returns every persisted artifact keyed by format. Raw HTML is
// reported under "raw_html" when it was stored.
func (p PageResult) Artifacts() map[string]ArtifactRef {
	out := make(map[string]ArtifactRef)
	if p.RawHTML.Key != "" {
		out["raw_html"] = p.RawHTML
	}
	for _, f := range Formats {
		if ref := p.Artifact(f); ref != nil {
			out[string(f)] = *ref
		}
	}
	return out
}

// FormatTimestamp renders t as an ISO-8601 UTC timestamp with a trailing Z.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

// RenderRequest asks the render capability for one page.
type RenderRequest struct {
	URL          string
	LinkSelector string
}

// RenderResponse is what the render capability reports for a page. Links holds
// absolute URLs matched by the link selector, in document order.
type RenderResponse struct {
	URL      string
	Status   int
	HTML     string
	Links    []string
	Duration time.Duration
}

// State is the lifecycle of one crawl.
type State string

// Crawl states.
const (
	StateInitializing    State = "INITIALIZING"
	StateRunning         State = "RUNNING"
	StateCompleted       State = "COMPLETED"
	StateBudgetExhausted State = "BUDGET_EXHAUSTED"
	StateFailed          State = "FAILED"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateBudgetExhausted || s == StateFailed
}

// Summary describes a finished crawl.
type Summary struct {
	RunID     string    `json:"run_id"`
	State     State     `json:"state"`
	Succeeded int64     `json:"succeeded"`
	Failed    int64     `json:"failed"`
	Retries   int64     `json:"retries"`
	Skipped   int64     `json:"skipped"`
	Started   time.Time `json:"started_at"`
	Finished  time.Time `json:"finished_at"`
	Error     string    `json:"error,omitempty"`
}
