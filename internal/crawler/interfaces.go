package crawler

import (
	"context"
	"io"
	"time"
)

// Renderer loads a page and reports its final URL, status, HTML and the links
// matched by the request's selector.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (RenderResponse, error)
}

// PageExtractor derives metadata and format renderings from raw HTML.
type PageExtractor interface {
	ExtractMetadata(ctx context.Context, html, url string) (Metadata, error)
	ExtractFormats(ctx context.Context, html, url string, formats []Format) (map[Format]string, error)
}

// ArtifactSink stores one artifact for a page and returns its reference.
type ArtifactSink interface {
	Persist(ctx context.Context, pageURL string, kind ArtifactKind, content string) (ArtifactRef, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
}

// Dataset receives page results in completion order.
type Dataset interface {
	Append(ctx context.Context, result PageResult) error
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fingerprinter computes the content digest used in artifact references.
type Fingerprinter interface {
	Fingerprint(content []byte) ContentInfo
}

// RetryPolicy decides whether and when a failed entry is tried again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// ArtifactKind is either raw HTML or one of the extracted formats.
type ArtifactKind string

// KindRawHTML is the artifact kind for the rendered page source.
const KindRawHTML ArtifactKind = "raw_html"

// KindFor converts an extracted format to its artifact kind.
func KindFor(f Format) ArtifactKind {
	return ArtifactKind(f)
}
