// Package collyfetcher implements the HTTP render backend using gocolly.
package collyfetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/contextractor/internal/crawler"
	"github.com/JakeFAU/contextractor/internal/fetcher/links"
)

// Backend is the metrics label for this renderer.
const Backend = "http"

// Config controls collector behavior.
type Config struct {
	UserAgent       string
	RespectRobots   bool
	Timeout         time.Duration
	IgnoreSSLErrors bool
	Headers         map[string]string
	Cookies         []*http.Cookie
}

// Renderer fetches pages over plain HTTP. It does not execute JavaScript.
type Renderer struct {
	cfg       Config
	transport *http.Transport
}

// New builds a Renderer sharing one pooled transport across requests.
func New(cfg Config) *Renderer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	transport := newHTTPTransport()
	if cfg.IgnoreSSLErrors {
		// #nosec G402 -- opt-in via ignore_ssl_errors.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Renderer{cfg: cfg, transport: transport}
}

// Close releases idle connections.
func (r *Renderer) Close() {
	r.transport.CloseIdleConnections()
}

// Render executes a single GET and reports the final URL, status, body and the
// links matched by the request selector. Error statuses are returned as a
// normal response; classification is left to the caller.
func (r *Renderer) Render(ctx context.Context, req crawler.RenderRequest) (crawler.RenderResponse, error) {
	var (
		resp     crawler.RenderResponse
		fetchErr error
	)
	start := time.Now()
	collector := r.newCollector(ctx)
	r.configureHooks(collector, &resp, &fetchErr)

	if err := collector.Visit(req.URL); err != nil {
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			return crawler.RenderResponse{}, fmt.Errorf("colly visit %s: %w: %w", req.URL, crawler.ErrPermanent, err)
		}
		return crawler.RenderResponse{}, fmt.Errorf("colly visit failed: %w", err)
	}
	if fetchErr != nil {
		return resp, fmt.Errorf("colly response failed: %w", fetchErr)
	}
	if resp.URL == "" {
		resp.URL = req.URL
	}
	resp.Duration = time.Since(start)

	found, err := links.Discover(resp.HTML, resp.URL, req.LinkSelector)
	if err != nil {
		return resp, fmt.Errorf("discover links: %w: %w", crawler.ErrPermanent, err)
	}
	resp.Links = found
	return resp, nil
}

// newCollector creates a collector per request. Clones share their HTTP
// backend, so a per-request transport needs a fresh collector.
func (r *Renderer) newCollector(ctx context.Context) *colly.Collector {
	collector := colly.NewCollector(colly.Async(false))
	if r.cfg.UserAgent != "" {
		collector.UserAgent = r.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !r.cfg.RespectRobots
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(r.cfg.Timeout)
	collector.WithTransport(&contextTransport{ctx: ctx, base: r.transport})
	return collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

func (r *Renderer) configureHooks(hooks collectorHooks, resp *crawler.RenderResponse, fetchErr *error) {
	hooks.OnRequest(func(req *colly.Request) {
		r.applyHeaders(req)
	})
	hooks.OnResponse(func(res *colly.Response) {
		*resp = crawler.RenderResponse{
			URL:    res.Request.URL.String(),
			Status: res.StatusCode,
			HTML:   string(res.Body),
		}
	})
	hooks.OnError(func(res *colly.Response, err error) {
		*fetchErr = err
		if res != nil && res.StatusCode != 0 {
			resp.Status = res.StatusCode
		}
	})
}

func (r *Renderer) applyHeaders(req *colly.Request) {
	for key, value := range r.cfg.Headers {
		req.Headers.Set(key, value)
	}
	if req.URL == nil {
		return
	}
	if cookie := CookieHeader(r.cfg.Cookies, req.URL.Hostname()); cookie != "" {
		req.Headers.Set("Cookie", cookie)
	}
}

// CookieHeader joins the cookies applicable to host. A cookie without a domain
// applies to every host.
func CookieHeader(cookies []*http.Cookie, host string) string {
	host = strings.ToLower(host)
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		domain := strings.TrimPrefix(strings.ToLower(c.Domain), ".")
		if domain != "" && host != domain && !strings.HasSuffix(host, "."+domain) {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// contextTransport binds every outgoing request, robots.txt included, to the
// render context so cancellation aborts in-flight I/O.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req.WithContext(t.ctx))
	if err != nil {
		return nil, fmt.Errorf("round trip: %w", err)
	}
	return resp, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
