// Package ratelimit throttles renders per host with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/contextractor/internal/crawler"
	"github.com/JakeFAU/contextractor/internal/metrics"
)

// Config holds rate limiter configuration. A non-positive RPS disables
// throttling.
type Config struct {
	RPS   float64
	Burst int
}

// Limiter manages per-host token buckets.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Enabled reports whether the limiter ever delays.
func (l *Limiter) Enabled() bool {
	return l.limit != rate.Inf
}

// Wait blocks until a token is available for the host of rawURL.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	limiter := l.forHost(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = limiter
	}
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Renderer waits on the limiter before delegating each render.
type Renderer struct {
	next    crawler.Renderer
	limiter *Limiter
}

// Wrap decorates next. A disabled limiter returns next unchanged.
func Wrap(next crawler.Renderer, limiter *Limiter) crawler.Renderer {
	if limiter == nil || !limiter.Enabled() {
		return next
	}
	return &Renderer{next: next, limiter: limiter}
}

// Render implements crawler.Renderer.
func (r *Renderer) Render(ctx context.Context, req crawler.RenderRequest) (crawler.RenderResponse, error) {
	if err := r.limiter.Wait(ctx, req.URL); err != nil {
		return crawler.RenderResponse{}, err
	}
	resp, err := r.next.Render(ctx, req)
	if err != nil {
		return resp, fmt.Errorf("rate limited render: %w", err)
	}
	return resp, nil
}
