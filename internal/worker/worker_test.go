package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/contextractor/internal/clock/system"
	"github.com/JakeFAU/contextractor/internal/crawler"
	datasetmemory "github.com/JakeFAU/contextractor/internal/dataset/memory"
	"github.com/JakeFAU/contextractor/internal/hash/md5"
	"github.com/JakeFAU/contextractor/internal/storage"
	storagememory "github.com/JakeFAU/contextractor/internal/storage/memory"
)

const pageHTML = "<html><body>hi</body></html>"

type fakeRenderer struct {
	resp  crawler.RenderResponse
	err   error
	block bool

	mu   sync.Mutex
	reqs []crawler.RenderRequest
}

func (f *fakeRenderer) Render(ctx context.Context, req crawler.RenderRequest) (crawler.RenderResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return crawler.RenderResponse{}, ctx.Err()
	}
	return f.resp, f.err
}

type fakeExtractor struct {
	metadata    crawler.Metadata
	metadataErr error
	formats     map[crawler.Format]string
	formatsErr  error
	requested   []crawler.Format
}

func (f *fakeExtractor) ExtractMetadata(context.Context, string, string) (crawler.Metadata, error) {
	return f.metadata, f.metadataErr
}

func (f *fakeExtractor) ExtractFormats(_ context.Context, _, _ string, formats []crawler.Format) (map[crawler.Format]string, error) {
	f.requested = formats
	if f.formatsErr != nil {
		return nil, f.formatsErr
	}
	out := make(map[crawler.Format]string)
	for _, format := range formats {
		if content, ok := f.formats[format]; ok {
			out[format] = content
		}
	}
	return out, nil
}

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("store unavailable")
}

type failingDataset struct{}

func (failingDataset) Append(context.Context, crawler.PageResult) error {
	return errors.New("dataset unavailable")
}

type fixture struct {
	worker    *Worker
	renderer  *fakeRenderer
	extractor *fakeExtractor
	blobs     *storagememory.BlobStore
	dataset   *datasetmemory.Dataset
}

func newFixture(t *testing.T, store crawler.BlobStore, ds crawler.Dataset, timeout time.Duration) fixture {
	t.Helper()
	blobs := storagememory.NewBlobStore()
	if store == nil {
		store = blobs
	}
	sink, err := storage.NewSink(store, md5.New(), "", zap.NewNop())
	require.NoError(t, err)

	memoryDataset := datasetmemory.New()
	if ds == nil {
		ds = memoryDataset
	}
	renderer := &fakeRenderer{resp: crawler.RenderResponse{URL: "https://example.com/a", Status: 200, HTML: pageHTML, Duration: time.Second}}
	extractor := &fakeExtractor{}
	clock := system.NewStepping(time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC), time.Millisecond)

	w, err := New(renderer, extractor, sink, ds, md5.New(), clock, Config{PageTimeout: timeout, Backend: "fake"}, zap.NewNop())
	require.NoError(t, err)
	return fixture{worker: w, renderer: renderer, extractor: extractor, blobs: blobs, dataset: memoryDataset}
}

func entry(save crawler.SaveOptions) crawler.Entry {
	return crawler.Entry{
		URL:    "https://example.com/a",
		Depth:  1,
		Config: &crawler.CrawlConfig{Save: save, LinkSelector: "a[href]"},
	}
}

func TestProcessFingerprintsRawHTMLWithoutStoring(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil, 0)
	e := entry(crawler.SaveOptions{})
	resp, err := f.worker.Render(context.Background(), e)
	require.NoError(t, err)

	result, err := f.worker.Process(context.Background(), e, resp)
	require.NoError(t, err)

	assert.Equal(t, crawler.ArtifactRef{Hash: "f90607b5f20bd7cba31673c0a1671e49", Length: 28}, result.RawHTML)
	assert.Equal(t, "https://example.com/a", result.LoadedURL)
	assert.Equal(t, "2024-03-05T10:00:00.001000Z", result.LoadedAt)
	assert.Equal(t, 200, result.HTTPStatus)
	assert.Empty(t, result.Artifacts())
	assert.Empty(t, f.blobs.Keys())
	assert.Equal(t, []crawler.PageResult{result}, f.dataset.Records())
	assert.Equal(t, "a[href]", f.renderer.reqs[0].LinkSelector)
}

func TestProcessPersistsRequestedFormats(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil, 0)
	title := "Hi"
	f.extractor.metadata = crawler.Metadata{Title: &title}
	f.extractor.formats = map[crawler.Format]string{
		crawler.FormatMarkdown: "# Hi\n",
		crawler.FormatText:     "Hi",
		// JSON is requested but judged absent by the extractor.
	}
	e := entry(crawler.SaveOptions{RawHTML: true, Text: true, JSON: true, Markdown: true})

	result, err := f.worker.Process(context.Background(), e, crawler.RenderResponse{Status: 203, HTML: pageHTML})
	require.NoError(t, err)

	assert.Equal(t, []crawler.Format{crawler.FormatText, crawler.FormatJSON, crawler.FormatMarkdown}, f.extractor.requested)
	assert.Equal(t, 203, result.HTTPStatus)
	assert.Equal(t, &title, result.Metadata.Title)
	assert.Equal(t, crawler.ArtifactRef{
		Key:    "cd69b81ea00cc279-raw.html",
		URL:    "memory://cd69b81ea00cc279-raw.html",
		Hash:   "f90607b5f20bd7cba31673c0a1671e49",
		Length: 28,
	}, result.RawHTML)
	require.NotNil(t, result.ExtractedMarkdown)
	assert.Equal(t, crawler.ArtifactRef{
		Key:    "cd69b81ea00cc279.md",
		URL:    "memory://cd69b81ea00cc279.md",
		Hash:   "871a7ec3fa15a5e86705399d33913999",
		Length: 5,
	}, *result.ExtractedMarkdown)
	require.NotNil(t, result.ExtractedText)
	assert.Nil(t, result.ExtractedJSON)
	assert.Equal(t, []string{"cd69b81ea00cc279-raw.html", "cd69b81ea00cc279.md", "cd69b81ea00cc279.txt"}, f.blobs.Keys())

	obj, ok := f.blobs.Get("cd69b81ea00cc279.md")
	require.True(t, ok)
	assert.Equal(t, "text/markdown; charset=utf-8", obj.ContentType)
}

func TestProcessRedirectKeepsRequestedURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil, 0)
	f.extractor.formats = map[crawler.Format]string{crawler.FormatMarkdown: "# Hi\n"}
	e := entry(crawler.SaveOptions{Markdown: true})

	result, err := f.worker.Process(context.Background(), e, crawler.RenderResponse{
		URL:    "https://example.com/moved",
		Status: 200,
		HTML:   pageHTML,
	})
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/a", result.LoadedURL)
	require.NotNil(t, result.ExtractedMarkdown)
	assert.Equal(t, "cd69b81ea00cc279.md", result.ExtractedMarkdown.Key)
}

func TestProcessFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		store   crawler.BlobStore
		dataset crawler.Dataset
		setup   func(*fakeExtractor)
		save    crawler.SaveOptions
		wantErr string
	}{
		{name: "raw html write", store: failingStore{}, save: crawler.SaveOptions{RawHTML: true}, wantErr: "persist raw html"},
		{name: "format write", store: failingStore{}, save: crawler.SaveOptions{Markdown: true}, wantErr: "persist markdown", setup: func(e *fakeExtractor) {
			e.formats = map[crawler.Format]string{crawler.FormatMarkdown: "# x"}
		}},
		{name: "metadata", setup: func(e *fakeExtractor) { e.metadataErr = context.Canceled }, wantErr: "extract metadata"},
		{name: "formats", save: crawler.SaveOptions{Text: true}, setup: func(e *fakeExtractor) { e.formatsErr = context.Canceled }, wantErr: "extract formats"},
		{name: "append", dataset: failingDataset{}, wantErr: "append result"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tt.store, tt.dataset, 0)
			if tt.setup != nil {
				tt.setup(f.extractor)
			}
			_, err := f.worker.Process(context.Background(), entry(tt.save), crawler.RenderResponse{Status: 200, HTML: pageHTML})
			require.ErrorContains(t, err, tt.wantErr)
			assert.Zero(t, f.dataset.Len())
		})
	}
}

func TestRenderClassifiesStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   error
	}{
		{status: 200},
		{status: 304},
		{status: 404, want: crawler.ErrPermanent},
		{status: 429, want: crawler.ErrRetryableStatus},
		{status: 503, want: crawler.ErrRetryableStatus},
	}
	for _, tt := range tests {
		f := newFixture(t, nil, nil, 0)
		f.renderer.resp.Status = tt.status
		resp, err := f.worker.Render(context.Background(), entry(crawler.SaveOptions{}))
		assert.Equal(t, tt.status, resp.Status)
		if tt.want == nil {
			assert.NoError(t, err, tt.status)
			continue
		}
		assert.ErrorIs(t, err, tt.want, tt.status)
	}
}

func TestRenderTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil, 20*time.Millisecond)
	f.renderer.block = true

	_, err := f.worker.Render(context.Background(), entry(crawler.SaveOptions{}))
	require.ErrorIs(t, err, ErrRenderTimeout)
	assert.True(t, crawler.NewExponentialRetryPolicy(1).ShouldRetry(err, 0))
}

func TestRenderCallerCanceled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil, time.Minute)
	f.renderer.block = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.worker.Render(ctx, entry(crawler.SaveOptions{}))
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrRenderTimeout)
}

func TestRenderTransportError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil, 0)
	f.renderer.err = errors.New("connection refused")
	_, err := f.worker.Render(context.Background(), entry(crawler.SaveOptions{}))
	require.ErrorContains(t, err, "connection refused")
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, nil, nil, nil, nil, Config{}, nil)
	require.ErrorContains(t, err, "renderer is required")
}
