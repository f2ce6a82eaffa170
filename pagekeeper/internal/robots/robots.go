// CLAUDE:SUMMARY Per-origin robots.txt cache; fetch failures cache an allow-all sentinel, only "*" rules are evaluated.
// Package robots answers whether a URL may be fetched according to its
// origin's robots.txt.
//
// Each origin (scheme://host) is fetched once and cached for the lifetime of
// the Gate. A failed fetch or a non-200 response caches an allow-all entry so
// one run does not hammer a broken origin. The fetch is detached from the
// caller's cancellation, so a caller that goes away cannot leave an allow-all
// entry behind for a reachable origin.
package robots

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// Agent is the user-agent group evaluated against robots.txt.
const Agent = "*"

const (
	maxRobotsBytes = 512 * 1024
	fetchTimeout   = 8 * time.Second
)

// Gate caches parsed robots.txt per origin. Safe for concurrent use.
type Gate struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger

	mu    sync.RWMutex
	rules map[string]*robotstxt.RobotsData // nil value = allow all
}

// Option configures a Gate.
type Option func(*Gate)

// WithClient sets the HTTP client used to fetch robots.txt.
func WithClient(c *http.Client) Option { return func(g *Gate) { g.client = c } }

// WithUserAgent sets the User-Agent header sent when fetching robots.txt.
func WithUserAgent(ua string) Option { return func(g *Gate) { g.userAgent = ua } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(g *Gate) { g.logger = l } }

// New creates a Gate with an empty cache.
func New(opts ...Option) *Gate {
	g := &Gate{
		client: &http.Client{Timeout: fetchTimeout},
		logger: slog.Default(),
		rules:  make(map[string]*robotstxt.RobotsData),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Allowed reports whether rawURL may be fetched. URLs that cannot be parsed
// into an origin are denied.
func (g *Gate) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	origin := u.Scheme + "://" + u.Host

	g.mu.RLock()
	data, cached := g.rules[origin]
	g.mu.RUnlock()

	if !cached {
		data = g.load(ctx, origin)
		g.mu.Lock()
		g.rules[origin] = data
		g.mu.Unlock()
	}
	if data == nil {
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, Agent)
}

// Cached reports whether origin has an entry in the cache.
func (g *Gate) Cached(origin string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.rules[origin]
	return ok
}

// Reset drops every cached origin.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.rules = make(map[string]*robotstxt.RobotsData)
	g.mu.Unlock()
}

func (g *Gate) load(ctx context.Context, origin string) *robotstxt.RobotsData {
	robotsURL := origin + "/robots.txt"

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		g.logger.Warn("robots: bad request", "url", robotsURL, "error", err)
		return nil
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Info("robots: fetch failed, allowing all", "origin", origin, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.logger.Debug("robots: no rules", "origin", origin, "status", resp.StatusCode)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		g.logger.Info("robots: read failed, allowing all", "origin", origin, "error", err)
		return nil
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		g.logger.Info("robots: parse failed, allowing all", "origin", origin, "error", err)
		return nil
	}
	return data
}
