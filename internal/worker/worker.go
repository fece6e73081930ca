// Package worker implements the per-page pipeline: render, extract, persist
// and append.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contextractor/internal/crawler"
	"github.com/JakeFAU/contextractor/internal/metrics"
)

// ErrRenderTimeout marks a render that exceeded the per-page timeout.
var ErrRenderTimeout = errors.New("render timed out")

// Config controls Worker behavior.
type Config struct {
	PageTimeout time.Duration
	// Backend labels render metrics.
	Backend string
}

// Worker processes one frontier entry at a time. A single Worker is safe to
// share between goroutines; it holds no per-page state.
type Worker struct {
	renderer  crawler.Renderer
	extractor crawler.PageExtractor
	sink      crawler.ArtifactSink
	dataset   crawler.Dataset
	hasher    crawler.Fingerprinter
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	renderer crawler.Renderer,
	extractor crawler.PageExtractor,
	sink crawler.ArtifactSink,
	dataset crawler.Dataset,
	hasher crawler.Fingerprinter,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Worker, error) {
	switch {
	case renderer == nil:
		return nil, errors.New("renderer is required")
	case extractor == nil:
		return nil, errors.New("extractor is required")
	case sink == nil:
		return nil, errors.New("artifact sink is required")
	case dataset == nil:
		return nil, errors.New("dataset is required")
	case hasher == nil:
		return nil, errors.New("fingerprinter is required")
	case clock == nil:
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Backend == "" {
		cfg.Backend = "unknown"
	}
	return &Worker{
		renderer:  renderer,
		extractor: extractor,
		sink:      sink,
		dataset:   dataset,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Render loads the entry under the per-page timeout. A 429 or 5xx status is
// returned as crawler.ErrRetryableStatus, other 4xx as crawler.ErrPermanent;
// the response is returned alongside so the status can be logged.
func (w *Worker) Render(ctx context.Context, entry crawler.Entry) (crawler.RenderResponse, error) {
	pageCtx := ctx
	if w.cfg.PageTimeout > 0 {
		var cancel context.CancelFunc
		pageCtx, cancel = context.WithTimeout(ctx, w.cfg.PageTimeout)
		defer cancel()
	}

	req := crawler.RenderRequest{URL: entry.URL}
	if entry.Config != nil {
		req.LinkSelector = entry.Config.LinkSelector
	}

	started := w.clock.Now()
	resp, err := w.renderer.Render(pageCtx, req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(pageCtx.Err(), context.DeadlineExceeded) {
			return resp, fmt.Errorf("render %s: %w after %s", entry.URL, ErrRenderTimeout, w.cfg.PageTimeout)
		}
		return resp, fmt.Errorf("render %s: %w", entry.URL, err)
	}
	if resp.Duration <= 0 {
		resp.Duration = w.clock.Now().Sub(started)
	}
	metrics.ObserveRender(w.cfg.Backend, resp.Duration)

	if err := crawler.StatusError(resp.Status); err != nil {
		return resp, fmt.Errorf("render %s: %w", entry.URL, err)
	}
	return resp, nil
}

// Process turns a rendered page into a persisted PageResult and appends it to
// the dataset. Artifact keys and LoadedURL derive from the entry URL. An absent
// format is skipped; a failed write fails the page and nothing is appended.
func (w *Worker) Process(ctx context.Context, entry crawler.Entry, resp crawler.RenderResponse) (crawler.PageResult, error) {
	logger := w.logger.With(zap.String("url", entry.URL), zap.Int("depth", entry.Depth))
	status := resp.Status
	if status == 0 {
		status = 200
	}
	result := crawler.PageResult{
		LoadedURL:  entry.URL,
		LoadedAt:   crawler.FormatTimestamp(w.clock.Now()),
		HTTPStatus: status,
	}

	var save crawler.SaveOptions
	if entry.Config != nil {
		save = entry.Config.Save
	}

	if save.RawHTML {
		ref, err := w.sink.Persist(ctx, entry.URL, crawler.KindRawHTML, resp.HTML)
		if err != nil {
			return crawler.PageResult{}, fmt.Errorf("persist raw html: %w", err)
		}
		result.RawHTML = ref
	} else {
		info := w.hasher.Fingerprint([]byte(resp.HTML))
		result.RawHTML = crawler.ArtifactRef{Hash: info.Hash, Length: info.Length}
	}

	metadata, err := w.extractor.ExtractMetadata(ctx, resp.HTML, entry.URL)
	if err != nil {
		return crawler.PageResult{}, fmt.Errorf("extract metadata: %w", err)
	}
	result.Metadata = metadata

	formats := save.Formats()
	if len(formats) > 0 {
		contents, err := w.extractor.ExtractFormats(ctx, resp.HTML, entry.URL, formats)
		if err != nil {
			return crawler.PageResult{}, fmt.Errorf("extract formats: %w", err)
		}
		for _, format := range formats {
			content, ok := contents[format]
			if !ok {
				logger.Debug("format absent", zap.String("format", string(format)))
				continue
			}
			ref, err := w.sink.Persist(ctx, entry.URL, crawler.KindFor(format), content)
			if err != nil {
				return crawler.PageResult{}, fmt.Errorf("persist %s: %w", format, err)
			}
			result.SetArtifact(format, ref)
		}
	}

	if err := w.dataset.Append(ctx, result); err != nil {
		return crawler.PageResult{}, fmt.Errorf("append result: %w", err)
	}
	logger.Debug("page stored", zap.Int("artifacts", len(result.Artifacts())))
	return result, nil
}
