// CLAUDE:SUMMARY Fetcher interface (Start/Fetch/Stop) with HTTP and headless-browser implementations, both gated by robots.txt.
// Package fetch retrieves page HTML for the scraper.
//
// Two interchangeable strategies implement Fetcher: HTTPFetcher performs a
// plain GET, BrowserFetcher renders the page in headless Chrome through Rod.
// Both consult a robots.Gate before touching the network and fail with
// *scrape.RobotsDisallowedError when it denies the URL.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/pricewatch/pagekeeper/internal/robots"
)

// DefaultUserAgent is a current desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36"

// Fetcher retrieves the HTML of a URL. One instance serves every Fetch of a
// run; Start must be called before Fetch and Stop releases resources.
type Fetcher interface {
	Start(ctx context.Context) error
	Fetch(ctx context.Context, url string) (string, error)
	Stop() error
}

// Mode selects the Fetcher implementation.
type Mode string

const (
	ModeHTTP    Mode = "http"
	ModeBrowser Mode = "browser"
)

// Config configures both fetchers.
type Config struct {
	Mode         Mode
	Timeout      time.Duration // Per-page bound. Default: 8s.
	UserAgent    string
	MaxBytes     int64 // Response body cap. Default: 10MB.
	MaxRedirects int   // Default: 5.
	// URLValidator runs before every request and redirect. Nil allows all.
	URLValidator func(string) error
	// BrowserBin is an optional Chrome binary path for ModeBrowser.
	BrowserBin string
	// Settle is an extra wait after load for script-rendered values (browser only).
	Settle time.Duration
}

func (c *Config) defaults() {
	if c.Mode == "" {
		c.Mode = ModeHTTP
	}
	if c.Timeout <= 0 {
		c.Timeout = 8 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 5
	}
}

// New builds the Fetcher selected by cfg.Mode.
func New(cfg Config, gate *robots.Gate, logger *slog.Logger) (Fetcher, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if gate == nil {
		gate = robots.New(robots.WithUserAgent(cfg.UserAgent), robots.WithLogger(logger))
	}
	switch cfg.Mode {
	case ModeHTTP:
		return NewHTTP(cfg, gate, logger), nil
	case ModeBrowser:
		return NewBrowser(cfg, gate, logger), nil
	default:
		return nil, fmt.Errorf("fetch: unknown mode %q", cfg.Mode)
	}
}
