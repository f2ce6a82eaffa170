package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/pricewatch/pagekeeper/internal/robots"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/scrape"
)

// ErrNotStarted is returned by Fetch before Start.
var ErrNotStarted = errors.New("fetch: fetcher not started")

// BrowserFetcher renders pages in headless Chrome with stealth patches and
// returns document.documentElement.outerHTML.
type BrowserFetcher struct {
	cfg    Config
	gate   *robots.Gate
	logger *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewBrowser creates a BrowserFetcher. Chrome is launched by Start.
func NewBrowser(cfg Config, gate *robots.Gate, logger *slog.Logger) *BrowserFetcher {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserFetcher{cfg: cfg, gate: gate, logger: logger}
}

// Start launches a local headless Chrome and connects to it.
func (f *BrowserFetcher) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		return nil
	}

	l := launcher.New().Context(ctx).Headless(true).
		Set("disable-blink-features", "AutomationControlled").
		NoSandbox(true)
	if f.cfg.BrowserBin != "" {
		l = l.Bin(f.cfg.BrowserBin)
	}

	u, err := l.Launch()
	if err != nil {
		return fmt.Errorf("fetch: launch chrome: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return fmt.Errorf("fetch: connect chrome: %w", err)
	}

	f.browser = b
	f.lnch = l
	f.logger.Info("fetch: browser started", "control_url", u)
	return nil
}

// Fetch navigates a fresh stealth tab to url and returns its rendered HTML.
func (f *BrowserFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if f.cfg.URLValidator != nil {
		if err := f.cfg.URLValidator(url); err != nil {
			return "", &scrape.FetchError{URL: url, Err: err}
		}
	}
	if !f.gate.Allowed(ctx, url) {
		return "", &scrape.RobotsDisallowedError{URL: url}
	}

	f.mu.Lock()
	b := f.browser
	f.mu.Unlock()
	if b == nil {
		return "", &scrape.FetchError{URL: url, Err: ErrNotStarted}
	}

	page, err := stealth.Page(b)
	if err != nil {
		return "", &scrape.FetchError{URL: url, Err: fmt.Errorf("open tab: %w", err)}
	}
	defer page.Close()

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: f.cfg.UserAgent}); err != nil {
		f.logger.Warn("fetch: set user agent", "error", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	p := page.Context(navCtx)
	if err := p.Navigate(url); err != nil {
		return "", &scrape.FetchError{URL: url, Err: fmt.Errorf("navigate: %w", err)}
	}
	if err := p.WaitLoad(); err != nil {
		return "", &scrape.FetchError{URL: url, Err: fmt.Errorf("wait load: %w", err)}
	}
	if f.cfg.Settle > 0 {
		select {
		case <-navCtx.Done():
			return "", &scrape.FetchError{URL: url, Err: navCtx.Err()}
		case <-time.After(f.cfg.Settle):
		}
	}

	res, err := p.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", &scrape.FetchError{URL: url, Err: fmt.Errorf("outerHTML: %w", err)}
	}
	return res.Value.Str(), nil
}

// Stop closes the browser and kills the launched process.
func (f *BrowserFetcher) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	if f.browser != nil {
		err = f.browser.Close()
		f.browser = nil
	}
	if f.lnch != nil {
		f.lnch.Kill()
		f.lnch = nil
	}
	return err
}
