// CLAUDE:SUMMARY Main pagekeeper orchestrator: wires store, robots gate, fetcher factory, runner, scheduler and audit log; CRUD keeps schedules in sync.
// Package pagekeeper tracks numeric values (prices, indices, metrics) on web
// pages. Each page is scraped once a day at its own run time; every element
// of a page is a locator whose text is parsed into a number and stored.
//
// The pipeline:
//
//	scheduler → runner → fetch (robots-gated) → extract → numparse → store
//
// Usage:
//
//	k, err := pagekeeper.New(cfg, logger)
//	defer k.Close()
//	k.Start(ctx)
//	k.RegisterMCP(mcpServer)
//	http.ListenAndServe(cfg.Listen, k.Handler())
package pagekeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/pricewatch/pagekeeper/internal/audit"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/fetch"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/numparse"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/robots"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/runner"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/schedule"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/store"
)

// Keeper is the main pagekeeper orchestrator.
type Keeper struct {
	store      *store.Store
	gate       *robots.Gate
	newFetcher runner.FetcherFactory
	runner     *runner.Runner
	scheduler  *schedule.Manager
	audit      *audit.Logger
	preview    *previewer
	logger     *slog.Logger
	config     *Config
}

// New creates a Keeper. Opens the SQLite database and wires the fetcher,
// runner and scheduler. Nothing is scheduled until Start.
func New(cfg *Config, logger *slog.Logger) (*Keeper, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	gate := robots.New(robots.WithLogger(logger), robots.WithUserAgent(cfg.Fetch.UserAgent))
	fcfg := fetchConfig(cfg)
	factory := func() (fetch.Fetcher, error) {
		return fetch.New(fcfg, gate, logger)
	}

	k, err := build(cfg, logger, s, gate, factory)
	if err != nil {
		s.Close()
		return nil, err
	}
	return k, nil
}

func fetchConfig(cfg *Config) fetch.Config {
	fc := fetch.Config{
		Mode:         fetch.Mode(cfg.Fetch.Mode),
		Timeout:      cfg.Fetch.Timeout,
		UserAgent:    cfg.Fetch.UserAgent,
		MaxBytes:     cfg.Fetch.MaxBytes,
		MaxRedirects: cfg.Fetch.MaxRedirects,
		BrowserBin:   cfg.Fetch.BrowserBin,
		Settle:       cfg.Fetch.Settle,
		URLValidator: fetch.CheckScheme,
	}
	if cfg.Fetch.BlockPrivate {
		fc.URLValidator = fetch.BlockPrivate
	}
	return fc
}

// build assembles a Keeper around an open store. Tests call it directly
// with a fake fetcher factory and extra scheduler options.
func build(cfg *Config, logger *slog.Logger, s *store.Store, gate *robots.Gate, factory runner.FetcherFactory, schedOpts ...schedule.Option) (*Keeper, error) {
	cfg.defaults()
	loc, err := cfg.location()
	if err != nil {
		return nil, fmt.Errorf("pagekeeper: timezone %q: %w", cfg.Timezone, err)
	}

	auditLog, err := audit.New(s.DB, audit.WithIDGenerator(store.NewID), audit.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	k := &Keeper{
		store:      s,
		audit:      auditLog,
		gate:       gate,
		newFetcher: factory,
		preview:    newPreviewer(),
		logger:     logger,
		config:     cfg,
	}
	k.runner = runner.New(s, factory,
		runner.WithLogger(logger),
		runner.WithParseOptions(numparse.Options{AllowPercent: cfg.Parse.AllowPercent}),
	)
	opts := append([]schedule.Option{
		schedule.WithLogger(logger),
		schedule.WithLocation(loc),
	}, schedOpts...)
	k.scheduler = schedule.New(s, k.runScheduled, opts...)
	return k, nil
}

func (k *Keeper) runScheduled(ctx context.Context, pageID string) error {
	_, err := k.runner.RunPage(ctx, pageID, runner.TriggerSchedule)
	return err
}

// Start registers a schedule for every enabled page. With run_on_start, all
// enabled pages are also run once in the background.
func (k *Keeper) Start(ctx context.Context) error {
	if err := k.scheduler.Start(ctx); err != nil {
		return err
	}
	if days := k.config.AuditRetentionDays; days > 0 {
		if n, err := k.audit.Cleanup(ctx, days); err != nil {
			k.logger.Warn("pagekeeper: audit cleanup failed", "error", err)
		} else if n > 0 {
			k.logger.Info("pagekeeper: audit cleanup", "removed", n, "retention_days", days)
		}
	}
	if k.config.RunOnStart {
		go func() {
			if _, err := k.runner.RunActive(ctx, runner.TriggerStartup); err != nil {
				k.logger.Error("pagekeeper: startup run failed", "error", err)
			}
		}()
	}
	k.logger.Info("pagekeeper: started", "db", k.config.DBPath, "fetch_mode", k.config.Fetch.Mode, "tz", k.config.Timezone)
	return nil
}

// Close stops every timer, waits for running jobs and closes the database.
func (k *Keeper) Close() error {
	k.scheduler.Stop()
	return k.store.Close()
}

// Store returns the underlying store for direct access (testing, admin).
func (k *Keeper) Store() *store.Store {
	return k.store
}

// ErrReadOnly is returned by MCP tools that write while the keeper is read-only.
var ErrReadOnly = errors.New("pagekeeper: read-only mode")

func (k *Keeper) writable() error {
	if k.config.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

// --- pages ---

// PageInput carries the fields of a page create, replace or patch. Nil
// fields are unset.
type PageInput struct {
	URL       *string `json:"url,omitempty"`
	Name      *string `json:"name,omitempty"`
	RunHour   *int    `json:"run_hour,omitempty"`
	RunMinute *int    `json:"run_minute,omitempty"`
	Enabled   *bool   `json:"enabled,omitempty"`
}

func (in PageInput) empty() bool {
	return in.URL == nil && in.Name == nil && in.RunHour == nil && in.RunMinute == nil && in.Enabled == nil
}

// apply copies the set fields of in onto p.
func (in PageInput) apply(p *store.Page) {
	if in.URL != nil {
		p.URL = *in.URL
	}
	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.RunHour != nil {
		p.RunHour = *in.RunHour
	}
	if in.RunMinute != nil {
		p.RunMinute = *in.RunMinute
	}
	if in.Enabled != nil {
		p.Enabled = *in.Enabled
	}
}

// defaultPage returns a page carrying the configured defaults.
func (k *Keeper) defaultPage() *store.Page {
	return &store.Page{
		RunHour:   *k.config.Schedule.DefaultHour,
		RunMinute: *k.config.Schedule.DefaultMinute,
		Enabled:   true,
	}
}

// ListPages returns every page.
func (k *Keeper) ListPages(ctx context.Context) ([]*store.Page, error) {
	return k.store.ListPages(ctx, false)
}

// GetPage returns a page or ErrNotFound.
func (k *Keeper) GetPage(ctx context.Context, id string) (*store.Page, error) {
	p, err := k.store.GetPage(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

// AddPage creates a page and schedules it.
func (k *Keeper) AddPage(ctx context.Context, in PageInput) (p *store.Page, err error) {
	start := time.Now()
	defer func() { k.audit.Record(ctx, "add_page", pageIDOf(p), in, err, start) }()

	if in.URL == nil {
		return nil, fmt.Errorf("%w: url is required", ErrInvalid)
	}
	p = k.defaultPage()
	in.apply(p)
	p.ID = store.NewID()
	if err := k.store.InsertPage(ctx, p); err != nil {
		return nil, err
	}
	k.syncSchedule(ctx, p.ID)
	return p, nil
}

// ReplacePage overwrites every field of a page; unset fields take their
// defaults.
func (k *Keeper) ReplacePage(ctx context.Context, id string, in PageInput) (_ *store.Page, _ bool, err error) {
	start := time.Now()
	defer func() { k.audit.Record(ctx, "replace_page", id, in, err, start) }()

	if in.URL == nil {
		return nil, false, fmt.Errorf("%w: url is required", ErrInvalid)
	}
	p := k.defaultPage()
	in.apply(p)
	p.ID = id
	return k.updatePage(ctx, p)
}

// PatchPage updates the set fields of a page.
func (k *Keeper) PatchPage(ctx context.Context, id string, in PageInput) (_ *store.Page, _ bool, err error) {
	start := time.Now()
	defer func() { k.audit.Record(ctx, "patch_page", id, in, err, start) }()

	if in.empty() {
		return nil, false, fmt.Errorf("%w: no fields to update", ErrInvalid)
	}
	p, err := k.GetPage(ctx, id)
	if err != nil {
		return nil, false, err
	}
	in.apply(p)
	return k.updatePage(ctx, p)
}

func (k *Keeper) updatePage(ctx context.Context, p *store.Page) (*store.Page, bool, error) {
	changed, err := k.store.UpdatePage(ctx, p)
	if err != nil {
		return nil, false, err
	}
	if changed {
		k.syncSchedule(ctx, p.ID)
	}
	return p, changed, nil
}

// DeletePage removes a page with its elements, values and logs, and cancels
// its schedule.
func (k *Keeper) DeletePage(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { k.audit.Record(ctx, "delete_page", id, nil, err, start) }()

	if err := k.store.DeletePage(ctx, id); err != nil {
		return err
	}
	k.scheduler.Remove(id)
	return nil
}

func (k *Keeper) syncSchedule(ctx context.Context, pageID string) {
	if err := k.scheduler.Update(ctx, pageID); err != nil {
		k.logger.Warn("pagekeeper: schedule sync failed", "page_id", pageID, "error", err)
	}
}

// PageLogs returns the newest run logs of a page with their element logs.
func (k *Keeper) PageLogs(ctx context.Context, pageID string, limit int) ([]*store.PageRunLog, error) {
	if _, err := k.GetPage(ctx, pageID); err != nil {
		return nil, err
	}
	return k.store.ListPageLogs(ctx, pageID, limit)
}

// --- elements ---

// ElementInput carries the fields of an element create, replace or patch.
type ElementInput struct {
	Locator    *string `json:"locator,omitempty"`
	MetricName *string `json:"metric_name,omitempty"`
}

func (in ElementInput) empty() bool {
	return in.Locator == nil && in.MetricName == nil
}

func (in ElementInput) apply(e *store.Element) {
	if in.Locator != nil {
		e.Locator = *in.Locator
	}
	if in.MetricName != nil {
		e.MetricName = *in.MetricName
	}
}

// ListElements returns every element of every page.
func (k *Keeper) ListElements(ctx context.Context) ([]*store.Element, error) {
	return k.store.ListElements(ctx)
}

// ListPageElements returns the elements of one page in definition order.
func (k *Keeper) ListPageElements(ctx context.Context, pageID string) ([]*store.Element, error) {
	if _, err := k.GetPage(ctx, pageID); err != nil {
		return nil, err
	}
	return k.store.ListElementsByPage(ctx, pageID)
}

// GetElement returns an element or ErrNotFound.
func (k *Keeper) GetElement(ctx context.Context, id string) (*store.Element, error) {
	e, err := k.store.GetElement(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrNotFound
	}
	return e, nil
}

// AddElement attaches a locator to a page.
func (k *Keeper) AddElement(ctx context.Context, pageID string, in ElementInput) (e *store.Element, err error) {
	start := time.Now()
	defer func() {
		k.audit.Record(ctx, "add_element", elementIDOf(e), elementParams{PageID: pageID, ElementInput: in}, err, start)
	}()

	if in.Locator == nil {
		return nil, fmt.Errorf("%w: locator is required", ErrInvalid)
	}
	e = &store.Element{ID: store.NewID(), PageID: pageID}
	in.apply(e)
	if err := k.store.InsertElement(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// ReplaceElement overwrites the locator and metric name of an element.
func (k *Keeper) ReplaceElement(ctx context.Context, id string, in ElementInput) (_ *store.Element, _ bool, err error) {
	start := time.Now()
	defer func() { k.audit.Record(ctx, "replace_element", id, in, err, start) }()

	if in.Locator == nil {
		return nil, false, fmt.Errorf("%w: locator is required", ErrInvalid)
	}
	e, err := k.GetElement(ctx, id)
	if err != nil {
		return nil, false, err
	}
	e.Locator = *in.Locator
	e.MetricName = ""
	if in.MetricName != nil {
		e.MetricName = *in.MetricName
	}
	return k.updateElement(ctx, e)
}

// PatchElement updates the set fields of an element.
func (k *Keeper) PatchElement(ctx context.Context, id string, in ElementInput) (_ *store.Element, _ bool, err error) {
	start := time.Now()
	defer func() { k.audit.Record(ctx, "patch_element", id, in, err, start) }()

	if in.empty() {
		return nil, false, fmt.Errorf("%w: no fields to update", ErrInvalid)
	}
	e, err := k.GetElement(ctx, id)
	if err != nil {
		return nil, false, err
	}
	in.apply(e)
	return k.updateElement(ctx, e)
}

func (k *Keeper) updateElement(ctx context.Context, e *store.Element) (*store.Element, bool, error) {
	changed, err := k.store.UpdateElement(ctx, e)
	if err != nil {
		return nil, false, err
	}
	return e, changed, nil
}

// DeleteElement removes an element with its values and logs.
func (k *Keeper) DeleteElement(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { k.audit.Record(ctx, "delete_element", id, nil, err, start) }()

	return k.store.DeleteElement(ctx, id)
}

// ElementLogs returns the newest run logs of one element.
func (k *Keeper) ElementLogs(ctx context.Context, id string, limit int) ([]*store.ElementRunLog, error) {
	if _, err := k.GetElement(ctx, id); err != nil {
		return nil, err
	}
	return k.store.ListElementLogs(ctx, id, limit)
}

// ElementData returns the newest scraped values of one element.
func (k *Keeper) ElementData(ctx context.Context, id string, limit int) ([]*store.ScrapedValue, error) {
	if _, err := k.GetElement(ctx, id); err != nil {
		return nil, err
	}
	return k.store.ListValues(ctx, id, limit)
}

// --- runs ---

// RunPage scrapes one page now, regardless of its enabled flag.
func (k *Keeper) RunPage(ctx context.Context, id string) (rep *runner.Report, err error) {
	start := time.Now()
	defer func() { k.audit.Record(ctx, "run_page", id, nil, err, start) }()

	rep, err = k.runner.RunPage(ctx, id, runner.TriggerManual)
	if errors.Is(err, runner.ErrPageNotFound) {
		return nil, ErrNotFound
	}
	return rep, err
}

// RunActive scrapes every enabled page now.
func (k *Keeper) RunActive(ctx context.Context) (rep *runner.Report, err error) {
	start := time.Now()
	defer func() { k.audit.Record(ctx, "run_active", "", nil, err, start) }()

	return k.runner.RunActive(ctx, runner.TriggerManual)
}

// Schedules lists the registered jobs, soonest first.
func (k *Keeper) Schedules() []schedule.Schedule {
	return k.scheduler.List()
}

// Validate evaluates locators against url without persisting anything.
func (k *Keeper) Validate(ctx context.Context, url string, locators []string) (*runner.ValidationReport, error) {
	if len(locators) == 0 {
		return nil, fmt.Errorf("%w: at least one locator is required", ErrInvalid)
	}
	return k.runner.Validate(ctx, url, locators)
}

// AuditFilter narrows AuditLog. Empty fields match everything.
type AuditFilter = audit.Filter

// AuditEntry is one recorded mutation or manual run.
type AuditEntry = audit.Entry

// AuditLog returns audit entries, newest first.
func (k *Keeper) AuditLog(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	return k.audit.Query(ctx, f)
}

type elementParams struct {
	PageID string `json:"webpage_id"`
	ElementInput
}

func pageIDOf(p *store.Page) string {
	if p == nil {
		return ""
	}
	return p.ID
}

func elementIDOf(e *store.Element) string {
	if e == nil {
		return ""
	}
	return e.ID
}

// Stats is the service banner.
type Stats struct {
	Service   string `json:"service"`
	Pages     int    `json:"pages"`
	Enabled   int    `json:"enabled"`
	Scheduled int    `json:"scheduled"`
	ReadOnly  bool   `json:"read_only"`
	Time      string `json:"time"`
}

// Stats counts pages and registered schedules.
func (k *Keeper) Stats(ctx context.Context) (*Stats, error) {
	total, enabled, err := k.store.CountPages(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Service:   "pagekeeper",
		Pages:     total,
		Enabled:   enabled,
		Scheduled: len(k.scheduler.List()),
		ReadOnly:  k.config.ReadOnly,
		Time:      time.Now().Format(time.RFC3339),
	}, nil
}
