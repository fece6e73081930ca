// Package headless renders pages in Chrome via chromedp so that JavaScript
// populated content and links are visible to extraction.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/contextractor/internal/crawler"
	"github.com/JakeFAU/contextractor/internal/fetcher/links"
)

// Backend is the metrics label for this renderer.
const Backend = "browser"

const defaultNavigationTimeout = 45 * time.Second

// Cookie is installed in the browser before navigation. A cookie with neither
// Domain nor URL is scoped to the page being rendered.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	URL      string
	Secure   bool
	HTTPOnly bool
	Expires  time.Time
}

// Config controls the browser and each page session.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	Headless          bool
	IgnoreSSLErrors   bool
	BypassCSP         bool
	BrowserLog        bool
	Headers           map[string]string
	Cookies           []Cookie
}

// Renderer implements crawler.Renderer with chromedp. Every render runs in its
// own browser context, so cookies and storage never leak between pages.
type Renderer struct {
	cfg         Config
	logger      *zap.Logger
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp prepares the browser allocator. Chrome is launched lazily on the
// first render.
func NewChromedp(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range allocatorFlags(cfg) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		logger:      logger.Named("browser"),
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// allocatorFlags maps the config onto Chrome command-line switches. A false
// value removes a default switch.
func allocatorFlags(cfg Config) map[string]any {
	flags := map[string]any{
		"disable-gpu":       true,
		"hide-scrollbars":   true,
		"enable-automation": false,
		"headless":          false,
	}
	if cfg.Headless {
		flags["headless"] = "new"
	}
	if cfg.IgnoreSSLErrors {
		flags["ignore-certificate-errors"] = true
	}
	if cfg.BypassCSP {
		flags["disable-web-security"] = true
	}
	return flags
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Render navigates a fresh tab to req.URL and returns the serialized DOM.
func (r *Renderer) Render(ctx context.Context, req crawler.RenderRequest) (crawler.RenderResponse, error) {
	if err := links.Validate(req.LinkSelector); err != nil {
		return crawler.RenderResponse{}, fmt.Errorf("%w: %w", crawler.ErrPermanent, err)
	}
	if err := r.acquire(ctx); err != nil {
		return crawler.RenderResponse{}, err
	}
	defer r.release()

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	// Tie the tab to the caller so cancellation closes it.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.navTimeout())
	defer cancel()

	meta := &responseMeta{}
	chromedp.ListenTarget(taskCtx, func(ev any) {
		meta.captureEvent(ev)
		if r.cfg.BrowserLog {
			r.logConsole(ev)
		}
	})

	start := time.Now()
	html, finalURL, err := r.runHeadless(taskCtx, req.URL)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.RenderResponse{}, fmt.Errorf("render %s: %w", req.URL, ctx.Err())
		}
		return crawler.RenderResponse{}, err
	}

	status, responseURL := meta.snapshotWithFallbacks(req.URL, finalURL)
	found, err := links.Discover(html, responseURL, req.LinkSelector)
	if err != nil {
		return crawler.RenderResponse{}, fmt.Errorf("discover links: %w", err)
	}
	return crawler.RenderResponse{
		URL:      responseURL,
		Status:   status,
		HTML:     html,
		Links:    found,
		Duration: time.Since(start),
	}, nil
}

func (r *Renderer) runHeadless(ctx context.Context, target string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		r.sessionSetupAction(target),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (r *Renderer) sessionSetupAction(target string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.BrowserLog {
			if err := runtime.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable runtime domain: %w", err)
			}
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if r.cfg.BypassCSP {
			if err := page.SetBypassCSP(true).Do(ctx); err != nil {
				return fmt.Errorf("bypass csp: %w", err)
			}
		}
		if len(r.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(r.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		for _, c := range r.cfg.Cookies {
			if err := cookieParams(c, target).Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	})
}

func cookieParams(c Cookie, target string) *network.SetCookieParams {
	params := network.SetCookie(c.Name, c.Value).
		WithSecure(c.Secure).
		WithHTTPOnly(c.HTTPOnly)
	switch {
	case c.URL != "":
		params = params.WithURL(c.URL)
	case c.Domain != "":
		params = params.WithDomain(c.Domain)
	default:
		params = params.WithURL(target)
	}
	if c.Path != "" {
		params = params.WithPath(c.Path)
	}
	if !c.Expires.IsZero() {
		expires := cdp.TimeSinceEpoch(c.Expires)
		params = params.WithExpires(&expires)
	}
	return params
}

func (r *Renderer) logConsole(ev any) {
	switch e := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		r.logger.Info("[browser] "+consoleText(e.Args), zap.String("type", string(e.Type)))
	case *runtime.EventExceptionThrown:
		if e.ExceptionDetails != nil {
			r.logger.Warn("[browser] uncaught exception", zap.String("text", e.ExceptionDetails.Text))
		}
	}
}

func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		switch {
		case len(arg.Value) > 0:
			parts = append(parts, strings.Trim(string(arg.Value), `"`))
		case arg.Description != "":
			parts = append(parts, arg.Description)
		default:
			parts = append(parts, string(arg.Type))
		}
	}
	return strings.Join(parts, " ")
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

func (r *Renderer) navTimeout() time.Duration {
	if r.cfg.NavigationTimeout > 0 {
		return r.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

// responseMeta records the first document response of the tab, which is the
// main navigation after redirects.
type responseMeta struct {
	mu     sync.Mutex
	status int
	url    string
}

func (m *responseMeta) captureEvent(ev any) {
	event, ok := ev.(*network.EventResponseReceived)
	if !ok || event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.Lock()
	status, url := m.status, m.url
	m.mu.Unlock()
	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}

func toNetworkHeaders(h map[string]string) network.Headers {
	headers := make(network.Headers, len(h))
	for key, value := range h {
		headers[key] = value
	}
	return headers
}
