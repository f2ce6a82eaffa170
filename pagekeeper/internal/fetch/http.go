package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/net/html/charset"

	"github.com/hazyhaar/pricewatch/pagekeeper/internal/robots"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/scrape"
)

// HTTPFetcher fetches static HTML with net/http, following redirects.
type HTTPFetcher struct {
	cfg    Config
	gate   *robots.Gate
	client *http.Client
	logger *slog.Logger
}

// NewHTTP creates an HTTPFetcher. The client is built by Start.
func NewHTTP(cfg Config, gate *robots.Gate, logger *slog.Logger) *HTTPFetcher {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFetcher{cfg: cfg, gate: gate, logger: logger}
}

// Start builds the HTTP client.
func (f *HTTPFetcher) Start(ctx context.Context) error {
	validate := f.cfg.URLValidator
	maxRedirects := f.cfg.MaxRedirects
	f.client = &http.Client{
		Timeout: f.cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects (%d)", len(via))
			}
			if validate != nil {
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
			}
			return nil
		},
	}
	return nil
}

// Fetch returns the decoded body of url.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if f.client == nil {
		return "", &scrape.FetchError{URL: url, Err: ErrNotStarted}
	}
	if f.cfg.URLValidator != nil {
		if err := f.cfg.URLValidator(url); err != nil {
			return "", &scrape.FetchError{URL: url, Err: err}
		}
	}
	if !f.gate.Allowed(ctx, url) {
		return "", &scrape.RobotsDisallowedError{URL: url}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &scrape.FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &scrape.FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &scrape.FetchError{URL: url, Status: resp.StatusCode}
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, f.cfg.MaxBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", &scrape.FetchError{URL: url, Err: fmt.Errorf("charset: %w", err)}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", &scrape.FetchError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}

	f.logger.Debug("fetch: ok", "url", url, "status", resp.StatusCode, "bytes", len(data))
	return string(data), nil
}

// Stop releases idle connections.
func (f *HTTPFetcher) Stop() error {
	if f.client != nil {
		f.client.CloseIdleConnections()
	}
	return nil
}
