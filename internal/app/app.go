// Package app wires a Config into a runnable crawl: storage, dataset,
// renderer, extraction, worker and coordinator.
package app

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/contextractor/internal/api"
	"github.com/JakeFAU/contextractor/internal/clock/system"
	"github.com/JakeFAU/contextractor/internal/config"
	"github.com/JakeFAU/contextractor/internal/coordinator"
	"github.com/JakeFAU/contextractor/internal/crawler"
	"github.com/JakeFAU/contextractor/internal/dataset"
	"github.com/JakeFAU/contextractor/internal/dataset/jsonl"
	datasetmemory "github.com/JakeFAU/contextractor/internal/dataset/memory"
	"github.com/JakeFAU/contextractor/internal/dataset/parquet"
	"github.com/JakeFAU/contextractor/internal/dataset/postgres"
	"github.com/JakeFAU/contextractor/internal/extraction"
	"github.com/JakeFAU/contextractor/internal/extraction/heuristic"
	collyfetcher "github.com/JakeFAU/contextractor/internal/fetcher/colly"
	"github.com/JakeFAU/contextractor/internal/fetcher/headless"
	"github.com/JakeFAU/contextractor/internal/hash/md5"
	"github.com/JakeFAU/contextractor/internal/id/uuid"
	"github.com/JakeFAU/contextractor/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/contextractor/internal/publisher/pubsub"
	"github.com/JakeFAU/contextractor/internal/storage"
	"github.com/JakeFAU/contextractor/internal/storage/gcs"
	"github.com/JakeFAU/contextractor/internal/storage/local"
	storagememory "github.com/JakeFAU/contextractor/internal/storage/memory"
	"github.com/JakeFAU/contextractor/internal/telemetry"
	"github.com/JakeFAU/contextractor/internal/worker"
)

// Overrides lets tests swap infrastructure. Nil fields are built from Config.
type Overrides struct {
	Renderer  crawler.Renderer
	BlobStore crawler.BlobStore
	Dataset   crawler.Dataset
	Publisher crawler.Publisher
	Clock     crawler.Clock
	RunID     string
}

// App holds the services of one crawl run.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	runID       string
	crawlCfg    *crawler.CrawlConfig
	coordinator *coordinator.Coordinator
	server      *api.Server
	closers     []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// New builds every service named by cfg. On error, already opened resources
// are released.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, ov Overrides) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.runID = ov.RunID
	if a.runID == "" {
		if a.runID, err = uuid.New().NewID(); err != nil {
			return nil, fmt.Errorf("generate run id: %w", err)
		}
	}
	a.logger = logger.With(zap.String("run_id", a.runID))

	if cfg.Telemetry.TracingEnabled {
		tp, terr := telemetry.InitTracerProvider(ctx, telemetry.Options{
			ServiceName: cfg.Telemetry.ServiceName,
			ProjectID:   cfg.Telemetry.ProjectID,
		})
		if terr != nil {
			return nil, fmt.Errorf("init tracing: %w", terr)
		}
		a.addCloser("tracer provider", func() error { return tp.Shutdown(context.Background()) })
	}

	if a.crawlCfg, err = cfg.CrawlSettings(); err != nil {
		return nil, err
	}
	opts, err := extraction.Resolve(cfg.Extraction.Options, a.crawlCfg.Mode)
	if err != nil {
		return nil, fmt.Errorf("resolve extraction options: %w", err)
	}
	extractor := extraction.NewOrchestrator(heuristic.New(a.logger), opts, a.logger)

	hasher := md5.New()
	blobs := ov.BlobStore
	if blobs == nil {
		if blobs, err = a.buildBlobStore(ctx); err != nil {
			return nil, err
		}
	}
	sink, err := storage.NewSink(blobs, hasher, cfg.Storage.KeyValueStoreName, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init artifact sink: %w", err)
	}

	results := ov.Dataset
	if results == nil {
		if results, err = a.buildDataset(ctx); err != nil {
			return nil, err
		}
		a.addCloser("dataset", results.Close)
	}
	if results, err = a.wrapNotifications(ctx, results, ov.Publisher); err != nil {
		return nil, err
	}

	renderer := ov.Renderer
	if renderer == nil {
		if renderer, err = a.buildRenderer(); err != nil {
			return nil, err
		}
	}
	renderer = ratelimit.Wrap(renderer, ratelimit.New(ratelimit.Config{
		RPS:   cfg.Render.RateLimit.RPS,
		Burst: cfg.Render.RateLimit.Burst,
	}))

	clock := ov.Clock
	if clock == nil {
		clock = system.New()
	}
	w, err := worker.New(renderer, extractor, sink, results, hasher, clock, worker.Config{
		PageTimeout: cfg.PageTimeout(),
		Backend:     cfg.Render.Backend,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init worker: %w", err)
	}

	a.coordinator, err = coordinator.New(
		w,
		a.crawlCfg,
		crawler.NewExponentialRetryPolicy(cfg.Crawl.MaxRequestRetries),
		clock,
		coordinator.Options{
			RunID:       a.runID,
			Concurrency: cfg.Crawl.Concurrency,
			MaxResults:  cfg.Crawl.MaxResultsPerCrawl,
			MaxPages:    cfg.Crawl.MaxPagesPerCrawl,
		},
		a.logger,
	)
	if err != nil {
		return nil, fmt.Errorf("init coordinator: %w", err)
	}

	if cfg.Server.Enabled {
		a.server = api.NewServer(a.coordinator, a.logger)
	}
	return a, nil
}

// RunID identifies this crawl.
func (a *App) RunID() string {
	return a.runID
}

// Snapshot reports live crawl progress.
func (a *App) Snapshot() coordinator.Snapshot {
	return a.coordinator.Snapshot()
}

// Run crawls from the configured start URLs. The status server, when enabled,
// stays up for the duration of the crawl.
func (a *App) Run(ctx context.Context) (crawler.Summary, error) {
	if a.server != nil {
		srvCtx, stop := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
			if err := a.server.ListenAndServe(srvCtx, addr); err != nil {
				a.logger.Error("status server failed", zap.Error(err))
			}
		}()
		defer func() {
			stop()
			<-done
		}()
	}

	a.logger.Info("crawl starting",
		zap.Int("start_urls", len(a.cfg.Crawl.StartURLs)),
		zap.String("backend", a.cfg.Render.Backend),
		zap.String("mode", string(a.crawlCfg.Mode)),
	)
	summary, err := a.coordinator.Run(ctx, a.cfg.Crawl.StartURLs)
	a.logger.Info("crawl finished",
		zap.String("state", string(summary.State)),
		zap.Int64("succeeded", summary.Succeeded),
		zap.Int64("failed", summary.Failed),
		zap.Int64("retries", summary.Retries),
	)
	if err != nil {
		return summary, fmt.Errorf("run crawl: %w", err)
	}
	return summary, nil
}

// Close releases resources in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

func (a *App) buildBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	cfg := a.cfg.Storage
	switch cfg.Backend {
	case "memory":
		return storagememory.NewBlobStore(), nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.addCloser("gcs client", client.Close)
		store, err := gcs.New(client, gcs.Config{
			Bucket:        cfg.GCS.Bucket,
			Prefix:        cfg.GCS.Prefix,
			PublicBaseURL: cfg.GCS.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func (a *App) buildDataset(ctx context.Context) (crawler.Dataset, error) {
	cfg := a.cfg.Dataset
	switch cfg.Backend {
	case "memory":
		return datasetmemory.New(), nil
	case "jsonl":
		path, err := dataset.FilePath(cfg.Path, cfg.Name, ".jsonl")
		if err != nil {
			return nil, fmt.Errorf("dataset path: %w", err)
		}
		ds, err := jsonl.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open jsonl dataset: %w", err)
		}
		return ds, nil
	case "parquet":
		path, err := dataset.FilePath(cfg.Path, a.runFileName(cfg.Name), ".parquet")
		if err != nil {
			return nil, fmt.Errorf("dataset path: %w", err)
		}
		ds, err := parquet.Create(path, a.runID, cfg.Parquet.Compression)
		if err != nil {
			return nil, fmt.Errorf("create parquet dataset: %w", err)
		}
		return ds, nil
	case "postgres":
		table, err := postgres.TableName(cfg.Postgres.Table, cfg.Name)
		if err != nil {
			return nil, fmt.Errorf("dataset table: %w", err)
		}
		ds, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.Postgres.DSN,
			Table:    table,
			MaxConns: cfg.Postgres.MaxConns,
		}, a.runID)
		if err != nil {
			return nil, fmt.Errorf("open postgres dataset: %w", err)
		}
		if err := ds.EnsureSchema(ctx); err != nil {
			_ = ds.Close()
			return nil, fmt.Errorf("ensure dataset schema: %w", err)
		}
		return ds, nil
	default:
		return nil, fmt.Errorf("unknown dataset backend %q", cfg.Backend)
	}
}

// runFileName suffixes the dataset name with the run id. Parquet files cannot
// be appended to, so every run writes its own file.
func (a *App) runFileName(name string) string {
	resolved, err := dataset.ResolveName(name)
	if err != nil {
		return name
	}
	return resolved + "-" + a.runID
}

func (a *App) wrapNotifications(ctx context.Context, next crawler.Dataset, pub crawler.Publisher) (crawler.Dataset, error) {
	topic := a.cfg.PubSub.TopicName
	if pub == nil {
		if topic == "" {
			return next, nil
		}
		p, err := pubsubpublisher.Dial(ctx, a.cfg.PubSub.ProjectID, topic)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.addCloser("pubsub publisher", p.Close)
		pub = p
	}
	notifying, err := dataset.NewNotifying(next, pub, topic, a.runID, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init dataset notifications: %w", err)
	}
	return notifying, nil
}

func (a *App) buildRenderer() (crawler.Renderer, error) {
	cfg := a.cfg.Render
	switch cfg.Backend {
	case collyfetcher.Backend:
		r := collyfetcher.New(collyfetcher.Config{
			UserAgent:       cfg.UserAgent,
			RespectRobots:   cfg.RespectRobots,
			Timeout:         a.cfg.PageTimeout(),
			IgnoreSSLErrors: cfg.IgnoreSSLErrors,
			Headers:         cfg.CustomHeaders,
			Cookies:         HTTPCookies(cfg.InitialCookies),
		})
		a.addCloser("http renderer", func() error { r.Close(); return nil })
		return r, nil
	case headless.Backend:
		if cfg.RespectRobots {
			a.logger.Warn("respect_robots is only enforced by the http backend")
		}
		r, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.MaxParallel,
			UserAgent:         cfg.UserAgent,
			NavigationTimeout: a.cfg.PageTimeout(),
			Headless:          cfg.Headless,
			IgnoreSSLErrors:   cfg.IgnoreSSLErrors,
			BypassCSP:         cfg.IgnoreCORSAndCSP,
			BrowserLog:        cfg.BrowserLog,
			Headers:           cfg.CustomHeaders,
			Cookies:           BrowserCookies(cfg.InitialCookies),
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init browser renderer: %w", err)
		}
		a.addCloser("browser renderer", func() error { r.Close(); return nil })
		return r, nil
	default:
		return nil, fmt.Errorf("unknown render backend %q", cfg.Backend)
	}
}

// HTTPCookies converts configured cookies for the HTTP backend.
func HTTPCookies(in []config.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		domain := c.Domain
		if domain == "" && c.URL != "" {
			domain = hostOf(c.URL)
		}
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
			Expires:  expiry(c.Expires),
		})
	}
	return out
}

// BrowserCookies converts configured cookies for the browser backend.
func BrowserCookies(in []config.Cookie) []headless.Cookie {
	out := make([]headless.Cookie, 0, len(in))
	for _, c := range in {
		out = append(out, headless.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			URL:      c.URL,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			Expires:  expiry(c.Expires),
		})
	}
	return out
}

// expiry converts epoch seconds; non-positive means a session cookie.
func expiry(seconds float64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(seconds*float64(time.Second))).UTC()
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
