// CLAUDE:SUMMARY Scrape runner: fetch each page once, extract and parse every element in order, write run logs, persist values.
// Package runner executes scrape runs.
//
// A page run moves through three stages: the page is loaded once through a
// fetch.Fetcher, each configured element is extracted and parsed in its
// defined order, and the page log is finalized as success, partial or
// failure. Element failures are values, never panics or early returns, so a
// bad locator cannot abort its siblings and a failing page cannot abort the
// batch.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/pricewatch/pagekeeper/internal/extract"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/fetch"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/numparse"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/scrape"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/store"
)

// Triggers recorded on page logs.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerStartup  = "startup"
)

// ErrPageNotFound is returned by RunPage for an unknown page ID.
var ErrPageNotFound = errors.New("runner: page not found")

// Store is the persistence the runner consumes.
type Store interface {
	LogStore
	ListPages(ctx context.Context, enabledOnly bool) ([]*store.Page, error)
	GetPage(ctx context.Context, id string) (*store.Page, error)
	ListElementsByPage(ctx context.Context, pageID string) ([]*store.Element, error)
	GetElement(ctx context.Context, id string) (*store.Element, error)
	InsertValues(ctx context.Context, values []store.ScrapedValue) error
}

// FetcherFactory returns a fresh, unstarted Fetcher for one run.
type FetcherFactory func() (fetch.Fetcher, error)

// PageWithElements is one page and its elements in definition order.
type PageWithElements struct {
	Page     *store.Page
	Elements []*store.Element
}

// Result is one successfully parsed element value.
type Result struct {
	ElementID string  `json:"element_id"`
	Value     float64 `json:"value"`
}

// ElementOutcome is the tagged outcome of one element.
type ElementOutcome struct {
	ElementID string        `json:"element_id"`
	Locator   string        `json:"locator"`
	Status    scrape.Status `json:"status"`
	Raw       string        `json:"raw,omitempty"`
	Value     *float64      `json:"value,omitempty"`
	Kind      scrape.Kind   `json:"kind,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// PageReport summarizes one page run.
type PageReport struct {
	PageID   string            `json:"page_id"`
	URL      string            `json:"url"`
	LogID    string            `json:"log_id,omitempty"`
	Status   scrape.Status     `json:"status"`
	Message  string            `json:"message"`
	Elements []*ElementOutcome `json:"elements"`
}

// Report summarizes a batch run.
type Report struct {
	Pages   []*PageReport `json:"pages"`
	Values  []Result      `json:"values"`
	Skipped []string      `json:"skipped,omitempty"`
}

// Runner runs pages. At most one run per page is in flight at a time; a
// second concurrent request for the same page is skipped.
type Runner struct {
	store      Store
	newFetcher FetcherFactory
	runlog     *RunLogger
	parse      numparse.Options
	logger     *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithParseOptions sets the number parsing options used for every element.
func WithParseOptions(o numparse.Options) Option { return func(r *Runner) { r.parse = o } }

// New creates a Runner.
func New(s Store, newFetcher FetcherFactory, opts ...Option) *Runner {
	r := &Runner{
		store:      s,
		newFetcher: newFetcher,
		logger:     slog.Default(),
		inflight:   make(map[string]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	r.runlog = NewRunLogger(s, r.logger)
	return r
}

// RunPage loads one page and its elements, runs it and persists the values.
func (r *Runner) RunPage(ctx context.Context, pageID, trigger string) (*Report, error) {
	p, err := r.store.GetPage(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("runner: load page: %w", err)
	}
	if p == nil {
		return nil, ErrPageNotFound
	}
	pw, err := r.load(ctx, p)
	if err != nil {
		return nil, err
	}
	return r.run(ctx, []PageWithElements{pw}, trigger, true), nil
}

// RunActive runs every enabled page and persists the values.
func (r *Runner) RunActive(ctx context.Context, trigger string) (*Report, error) {
	pages, err := r.store.ListPages(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("runner: list pages: %w", err)
	}
	batch := make([]PageWithElements, 0, len(pages))
	for _, p := range pages {
		pw, err := r.load(ctx, p)
		if err != nil {
			return nil, err
		}
		batch = append(batch, pw)
	}
	return r.run(ctx, batch, trigger, true), nil
}

func (r *Runner) load(ctx context.Context, p *store.Page) (PageWithElements, error) {
	els, err := r.store.ListElementsByPage(ctx, p.ID)
	if err != nil {
		return PageWithElements{}, fmt.Errorf("runner: load elements of %s: %w", p.ID, err)
	}
	return PageWithElements{Page: p, Elements: els}, nil
}

// Run executes pages sequentially with a single fetcher and returns the
// successful values without storing them. It never fails: every failure
// ends in a log write.
func (r *Runner) Run(ctx context.Context, pages []PageWithElements, trigger string) *Report {
	return r.run(ctx, pages, trigger, false)
}

// run executes pages; with persist, each page's values are stored in their
// own transaction right after the page finishes.
func (r *Runner) run(ctx context.Context, pages []PageWithElements, trigger string, persist bool) *Report {
	rep := &Report{Pages: []*PageReport{}, Values: []Result{}}
	if len(pages) == 0 {
		return rep
	}

	f, err := r.startFetcher(ctx)
	if err != nil {
		r.logger.Error("runner: fetcher start failed", "error", err)
		for _, pw := range pages {
			msg := fmt.Sprintf("%s: %v", scrape.KindFetch, err)
			rep.Pages = append(rep.Pages, &PageReport{
				PageID:   pw.Page.ID,
				URL:      pw.Page.URL,
				LogID:    r.runlog.Failed(ctx, pw.Page.ID, trigger, msg),
				Status:   scrape.StatusFailure,
				Message:  msg,
				Elements: []*ElementOutcome{},
			})
		}
		return rep
	}
	defer func() {
		if err := f.Stop(); err != nil {
			r.logger.Warn("runner: fetcher stop", "error", err)
		}
	}()

	for _, pw := range pages {
		if !r.acquire(pw.Page.ID) {
			r.logger.Warn("runner: page already running, skipped", "page_id", pw.Page.ID, "trigger", trigger)
			rep.Skipped = append(rep.Skipped, pw.Page.ID)
			continue
		}
		pr, values := r.runPage(ctx, f, pw, trigger)
		if persist {
			values = r.persist(ctx, pr, values)
		}
		r.release(pw.Page.ID)

		rep.Pages = append(rep.Pages, pr)
		rep.Values = append(rep.Values, values...)
	}
	return rep
}

// persist stores the values of one page and returns those actually saved.
// Values of elements deleted while the page ran are dropped. If the rest
// still cannot be written, the page is marked failed and its log rewritten.
func (r *Runner) persist(ctx context.Context, pr *PageReport, values []Result) []Result {
	if len(values) == 0 {
		return values
	}
	ctx = context.WithoutCancel(ctx)
	err := r.store.InsertValues(ctx, toRows(values))
	if err == nil {
		return values
	}

	kept := values[:0:0]
	for _, v := range values {
		el, gerr := r.store.GetElement(ctx, v.ElementID)
		if gerr == nil && el != nil {
			kept = append(kept, v)
		}
	}
	if len(kept) < len(values) {
		r.logger.Warn("runner: dropped values of deleted elements", "page_id", pr.PageID, "dropped", len(values)-len(kept))
		if err = r.store.InsertValues(ctx, toRows(kept)); err == nil {
			return kept
		}
	}

	r.logger.Error("runner: persist values", "page_id", pr.PageID, "error", err)
	pr.Status = scrape.StatusFailure
	pr.Message = fmt.Sprintf("%s; values not saved: %v", pr.Message, err)
	r.runlog.Close(ctx, pr.LogID, pr.Status, pr.Message)
	return nil
}

func toRows(values []Result) []store.ScrapedValue {
	rows := make([]store.ScrapedValue, len(values))
	for i, v := range values {
		rows[i] = store.ScrapedValue{ElementID: v.ElementID, Value: v.Value}
	}
	return rows
}

func (r *Runner) startFetcher(ctx context.Context) (f fetch.Fetcher, err error) {
	f, err = r.newFetcher()
	if err != nil {
		return nil, err
	}
	if err := f.Start(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

func (r *Runner) acquire(pageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[pageID]; busy {
		return false
	}
	r.inflight[pageID] = struct{}{}
	return true
}

func (r *Runner) release(pageID string) {
	r.mu.Lock()
	delete(r.inflight, pageID)
	r.mu.Unlock()
}

// Running reports whether pageID has a run in flight.
func (r *Runner) Running(pageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, busy := r.inflight[pageID]
	return busy
}

func (r *Runner) runPage(ctx context.Context, f fetch.Fetcher, pw PageWithElements, trigger string) (*PageReport, []Result) {
	p := pw.Page
	pr := &PageReport{PageID: p.ID, URL: p.URL, Elements: []*ElementOutcome{}}
	log := r.logger.With("page_id", p.ID, "url", p.URL, "trigger", trigger)

	doc, err := r.loadPage(ctx, f, p.URL)
	if err != nil {
		pr.Status = scrape.StatusFailure
		pr.Message = fmt.Sprintf("%s: %v", scrape.KindOf(err), err)
		pr.LogID = r.runlog.Failed(ctx, p.ID, trigger, pr.Message)
		log.Warn("runner: page load failed", "error", err)
		return pr, nil
	}

	pr.LogID = r.runlog.Open(ctx, p.ID, trigger)

	if len(pw.Elements) == 0 {
		pr.Status, pr.Message = scrape.StatusSuccess, MessageNoElements
		r.runlog.Close(ctx, pr.LogID, pr.Status, pr.Message)
		log.Info("runner: page has no elements")
		return pr, nil
	}

	var values []Result
	t := newTally()
	attempted := 0
	for _, el := range pw.Elements {
		if ctx.Err() != nil {
			break
		}
		attempted++
		o := r.runElement(doc, el)
		pr.Elements = append(pr.Elements, o)
		r.runlog.Element(ctx, pr.LogID, o)

		if o.Status == scrape.StatusSuccess {
			values = append(values, Result{ElementID: el.ID, Value: *o.Value})
			continue
		}
		t.add(o.Kind, el.ID)
	}

	if t.empty() {
		pr.Status, pr.Message = scrape.StatusSuccess, MessageSuccess
	} else {
		pr.Status, pr.Message = scrape.StatusPartial, t.message()
	}
	switch {
	case attempted == 0:
		pr.Status = scrape.StatusFailure
		pr.Message = fmt.Sprintf("Run cancelled before any of %d elements", len(pw.Elements))
	case attempted < len(pw.Elements):
		pr.Message = fmt.Sprintf("%s; run cancelled after %d of %d elements", pr.Message, attempted, len(pw.Elements))
	}

	r.runlog.Close(ctx, pr.LogID, pr.Status, pr.Message)
	log.Info("runner: page done", "status", pr.Status, "values", len(values), "attempted", attempted)
	return pr, values
}

func (r *Runner) loadPage(ctx context.Context, f fetch.Fetcher, url string) (doc *extract.Document, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			doc, err = nil, &scrape.UnexpectedError{Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	html, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err = extract.Parse(html, url)
	if err != nil {
		return nil, &scrape.UnexpectedError{Err: err}
	}
	return doc, nil
}

// runElement extracts and parses one element. Panics become UnexpectedError.
func (r *Runner) runElement(doc *extract.Document, el *store.Element) (o *ElementOutcome) {
	o = &ElementOutcome{ElementID: el.ID, Locator: el.Locator}
	fail := func(err error) *ElementOutcome {
		o.Status = scrape.StatusFailure
		o.Kind = scrape.KindOf(err)
		o.Error = err.Error()
		return o
	}
	defer func() {
		if rec := recover(); rec != nil {
			o = fail(&scrape.UnexpectedError{Err: fmt.Errorf("panic: %v", rec)})
		}
	}()

	raw, err := doc.Text(el.Locator)
	if err != nil {
		return fail(err)
	}
	o.Raw = raw

	v, err := numparse.Parse(raw, r.parse)
	if err != nil {
		return fail(err)
	}
	o.Status = scrape.StatusSuccess
	o.Value = &v
	return o
}
