// Package coordinator drives one crawl: it owns the frontier queue, fans
// entries out to a bounded worker pool, retries transient render failures and
// stops admitting work once a budget is exhausted.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/contextractor/internal/budget"
	"github.com/JakeFAU/contextractor/internal/crawler"
	"github.com/JakeFAU/contextractor/internal/frontier"
	"github.com/JakeFAU/contextractor/internal/metrics"
	"github.com/JakeFAU/contextractor/internal/queue/memory"
)

const tracerName = "github.com/JakeFAU/contextractor/internal/coordinator"

var allStates = []string{
	string(crawler.StateInitializing),
	string(crawler.StateRunning),
	string(crawler.StateCompleted),
	string(crawler.StateBudgetExhausted),
	string(crawler.StateFailed),
}

// Pipeline is the per-page work a coordinator schedules.
type Pipeline interface {
	Render(ctx context.Context, entry crawler.Entry) (crawler.RenderResponse, error)
	Process(ctx context.Context, entry crawler.Entry, resp crawler.RenderResponse) (crawler.PageResult, error)
}

// Options bound a crawl.
type Options struct {
	RunID       string
	Concurrency int
	// MaxResults and MaxPages are zero for unlimited.
	MaxResults int64
	MaxPages   int64
}

// Snapshot is a point-in-time view of a crawl for status reporting.
type Snapshot struct {
	RunID      string        `json:"run_id"`
	State      crawler.State `json:"state"`
	Succeeded  int64         `json:"succeeded"`
	Failed     int64         `json:"failed"`
	Retries    int64         `json:"retries"`
	Skipped    int64         `json:"skipped"`
	Pending    int           `json:"pending"`
	InFlight   int           `json:"in_flight"`
	Discovered int           `json:"discovered"`
	Results    BudgetView    `json:"results_budget"`
	Pages      BudgetView    `json:"pages_budget"`
	StartedAt  time.Time     `json:"started_at"`
}

// BudgetView reports one budget.
type BudgetView struct {
	Count int64 `json:"count"`
	Limit int64 `json:"limit"`
}

// Coordinator runs a single crawl. Run may be called once.
type Coordinator struct {
	pipeline Pipeline
	cfg      *crawler.CrawlConfig
	retry    crawler.RetryPolicy
	clock    crawler.Clock
	opts     Options
	logger   *zap.Logger
	tracer   trace.Tracer

	results *budget.Counter
	pages   *budget.Counter

	mu      sync.RWMutex
	state   crawler.State
	queue   *memory.Queue
	started time.Time
	ran     atomic.Bool

	succeeded atomic.Int64
	failed    atomic.Int64
	retries   atomic.Int64
	skipped   atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
	tripped  atomic.Bool
}

// New builds a coordinator. Pattern and seed validation happens in Run so a
// bad setup surfaces as a FAILED crawl.
func New(
	pipeline Pipeline,
	cfg *crawler.CrawlConfig,
	retry crawler.RetryPolicy,
	clock crawler.Clock,
	opts Options,
	logger *zap.Logger,
) (*Coordinator, error) {
	switch {
	case pipeline == nil:
		return nil, errors.New("pipeline is required")
	case cfg == nil:
		return nil, errors.New("crawl config is required")
	case retry == nil:
		return nil, errors.New("retry policy is required")
	case clock == nil:
		return nil, errors.New("clock is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		pipeline: pipeline,
		cfg:      cfg,
		retry:    retry,
		clock:    clock,
		opts:     opts,
		logger:   logger.Named("coordinator").With(zap.String("run_id", opts.RunID)),
		tracer:   otel.Tracer(tracerName),
		results:  budget.New(budget.Results, opts.MaxResults),
		pages:    budget.New(budget.Pages, opts.MaxPages),
		state:    crawler.StateInitializing,
		stop:     make(chan struct{}),
	}, nil
}

// Run crawls from the seeds until the frontier drains, a budget trips or ctx
// ends. The returned error is non-nil only when the crawl ends FAILED.
func (c *Coordinator) Run(ctx context.Context, seeds []string) (crawler.Summary, error) {
	if !c.ran.CompareAndSwap(false, true) {
		return crawler.Summary{}, errors.New("coordinator already ran")
	}
	c.mu.Lock()
	c.started = c.clock.Now()
	c.mu.Unlock()
	c.setState(crawler.StateInitializing)

	policy, err := frontier.New(c.cfg)
	if err != nil {
		return c.fail(fmt.Errorf("setup frontier: %w", err))
	}
	entries, err := policy.Seeds(seeds, c.cfg)
	if err != nil {
		return c.fail(fmt.Errorf("setup seeds: %w", err))
	}

	queue := memory.NewQueue(policy.Identity)
	for _, e := range entries {
		if _, err := queue.Push(e); err != nil {
			return c.fail(fmt.Errorf("enqueue seed: %w", err))
		}
	}
	c.mu.Lock()
	c.queue = queue
	c.mu.Unlock()

	if len(entries) == 0 {
		c.logger.Warn("no start urls, nothing to crawl")
		c.setState(crawler.StateCompleted)
		return c.summary(nil), nil
	}

	c.setState(crawler.StateRunning)
	c.logger.Info("crawl started",
		zap.Int("seeds", len(entries)),
		zap.Int("concurrency", c.opts.Concurrency),
		zap.Int64("max_results", c.results.Limit()),
		zap.Int64("max_pages", c.pages.Limit()),
	)

	var wg sync.WaitGroup
	for i := 0; i < c.opts.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.runWorker(ctx, queue, policy, id)
		}(i)
	}
	wg.Wait()
	queue.Close()

	switch {
	case ctx.Err() != nil:
		return c.fail(fmt.Errorf("crawl interrupted: %w", ctx.Err()))
	case c.tripped.Load():
		c.setState(crawler.StateBudgetExhausted)
	default:
		c.setState(crawler.StateCompleted)
	}
	summary := c.summary(nil)
	c.logger.Info("crawl finished",
		zap.String("state", string(summary.State)),
		zap.Int64("succeeded", summary.Succeeded),
		zap.Int64("failed", summary.Failed),
		zap.Int64("retries", summary.Retries),
		zap.Int64("skipped", summary.Skipped),
	)
	return summary, nil
}

func (c *Coordinator) runWorker(ctx context.Context, queue *memory.Queue, policy *frontier.Policy, id int) {
	logger := c.logger.With(zap.Int("worker", id))
	for {
		entry, err := queue.Pop(ctx)
		if err != nil {
			if !errors.Is(err, memory.ErrQueueDrained) && !errors.Is(err, memory.ErrQueueClosed) && ctx.Err() == nil {
				logger.Error("dequeue failed", zap.Error(err))
			}
			return
		}
		metrics.IncActiveWorkers()
		c.handle(ctx, queue, policy, entry, logger)
		metrics.DecActiveWorkers()
	}
}

// handle settles exactly one popped entry: it always ends in queue.Done or
// queue.Requeue.
func (c *Coordinator) handle(ctx context.Context, queue *memory.Queue, policy *frontier.Policy, entry crawler.Entry, logger *zap.Logger) {
	logger = logger.With(zap.String("url", entry.URL), zap.Int("depth", entry.Depth), zap.Int("attempt", entry.Attempt))

	if !c.results.CheckBeforeWork() || !c.pages.CheckBeforeWork() {
		c.skipped.Add(1)
		metrics.ObservePage(entry.URL, metrics.OutcomeSkipped)
		logger.Info("budget exhausted, skipping page")
		c.trip()
		queue.Done()
		return
	}

	ctx, span := c.tracer.Start(ctx, "crawl.page", trace.WithAttributes(
		attribute.String("url", entry.URL),
		attribute.Int("depth", entry.Depth),
		attribute.Int("attempt", entry.Attempt),
	))
	defer span.End()

	logger.Debug("rendering page")
	resp, err := c.pipeline.Render(ctx, entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		if ctx.Err() != nil {
			logger.Warn("render abandoned", zap.Error(err))
			queue.Done()
			return
		}
		if c.retry.ShouldRetry(err, entry.Attempt) {
			c.scheduleRetry(ctx, queue, entry, err, logger)
			return
		}
		c.recordFailure(entry, resp.Status, err, logger)
		queue.Done()
		return
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.Status))

	if _, err := c.pipeline.Process(ctx, entry, resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "process failed")
		c.recordFailure(entry, resp.Status, err, logger)
		queue.Done()
		return
	}

	c.succeeded.Add(1)
	metrics.ObservePage(entry.URL, metrics.OutcomeSucceeded)
	count, _ := c.results.Record()
	c.pages.Record()
	logger.Info("page processed", zap.Int("status", resp.Status), zap.Int64("results", count))

	if c.results.Exhausted() || c.pages.Exhausted() {
		logger.Info("budget reached, stopping crawl",
			zap.Int64("results", c.results.Count()),
			zap.Int64("pages", c.pages.Count()),
		)
		c.trip()
		queue.Done()
		return
	}

	children := policy.Expand(entry, resp.Links)
	added := 0
	for _, child := range children {
		ok, err := queue.Push(child)
		if errors.Is(err, memory.ErrQueueClosed) {
			break
		}
		if err != nil {
			logger.Debug("skip link", zap.String("link", child.URL), zap.Error(err))
			continue
		}
		if ok {
			added++
		}
	}
	if len(resp.Links) > 0 {
		logger.Debug("links enqueued", zap.Int("found", len(resp.Links)), zap.Int("enqueued", added))
	}
	queue.Done()
}

func (c *Coordinator) scheduleRetry(ctx context.Context, queue *memory.Queue, entry crawler.Entry, cause error, logger *zap.Logger) {
	c.retries.Add(1)
	metrics.ObserveRetry()
	metrics.ObservePage(entry.URL, metrics.OutcomeRetried)
	delay := c.retry.Backoff(entry.Attempt)
	logger.Warn("render failed, retrying", zap.Error(cause), zap.Duration("backoff", delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		queue.Done()
		return
	case <-c.stop:
		queue.Done()
		return
	case <-timer.C:
	}

	entry.Attempt++
	if err := queue.Requeue(entry); err != nil {
		logger.Debug("retry dropped", zap.Error(err))
	}
}

func (c *Coordinator) recordFailure(entry crawler.Entry, status int, err error, logger *zap.Logger) {
	c.failed.Add(1)
	metrics.ObservePage(entry.URL, metrics.OutcomeFailed)
	fields := []zap.Field{zap.Error(err)}
	if status != 0 {
		fields = append(fields, zap.Int("status", status))
	}
	logger.Error("page failed", fields...)
	c.pages.Record()
	if c.pages.Exhausted() {
		c.trip()
	}
}

// trip stops admission of new work. In-flight pages finish; pending entries
// are discarded and idle workers wake up and exit.
func (c *Coordinator) trip() {
	c.stopOnce.Do(func() {
		c.tripped.Store(true)
		close(c.stop)
		c.mu.RLock()
		queue := c.queue
		c.mu.RUnlock()
		if queue != nil {
			queue.Close()
		}
	})
}

func (c *Coordinator) fail(err error) (crawler.Summary, error) {
	c.setState(crawler.StateFailed)
	c.logger.Error("crawl failed", zap.Error(err))
	return c.summary(err), err
}

func (c *Coordinator) setState(s crawler.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	metrics.SetCrawlState(string(s), allStates)
	c.logger.Debug("state changed", zap.String("state", string(s)))
}

// State returns the current lifecycle state.
func (c *Coordinator) State() crawler.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Coordinator) summary(err error) crawler.Summary {
	c.mu.RLock()
	started := c.started
	state := c.state
	c.mu.RUnlock()
	s := crawler.Summary{
		RunID:     c.opts.RunID,
		State:     state,
		Succeeded: c.succeeded.Load(),
		Failed:    c.failed.Load(),
		Retries:   c.retries.Load(),
		Skipped:   c.skipped.Load(),
		Started:   started,
		Finished:  c.clock.Now(),
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

// Snapshot reports progress. Safe to call from any goroutine, before, during
// or after Run.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	queue := c.queue
	snap := Snapshot{
		RunID:     c.opts.RunID,
		State:     c.state,
		StartedAt: c.started,
	}
	c.mu.RUnlock()

	snap.Succeeded = c.succeeded.Load()
	snap.Failed = c.failed.Load()
	snap.Retries = c.retries.Load()
	snap.Skipped = c.skipped.Load()
	snap.Results = BudgetView{Count: c.results.Count(), Limit: c.results.Limit()}
	snap.Pages = BudgetView{Count: c.pages.Count(), Limit: c.pages.Limit()}
	if queue != nil {
		snap.Pending, snap.InFlight = queue.Len()
		snap.Discovered = queue.Seen()
	}
	return snap
}
