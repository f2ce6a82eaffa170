// CLAUDE:SUMMARY Daily per-page timers: page id -> cancellable timer, idempotent sync from persisted page config, panic-safe fires.
// Package schedule runs each enabled page once a day at its configured
// hour and minute.
//
// The Manager keeps one cancellable timer per page ID. Syncing a page is
// idempotent: any existing timer is cancelled, and a new one is armed only
// when the page is enabled. Each fire re-arms the next day's timer before
// running the job, so a failing or panicking job never stops future fires.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/pricewatch/pagekeeper/internal/store"
)

// ErrPageNotFound is returned by Add and Update when the page row is gone.
var ErrPageNotFound = errors.New("schedule: page not found")

// PageSource reads page rows.
type PageSource interface {
	ListPages(ctx context.Context, enabledOnly bool) ([]*store.Page, error)
	GetPage(ctx context.Context, id string) (*store.Page, error)
}

// RunFunc is invoked for the page at each fire.
type RunFunc func(ctx context.Context, pageID string) error

// Timer is a cancellable pending call.
type Timer interface {
	Stop() bool
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time                            { return time.Now() }
func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Schedule is the listing form of a registered job.
type Schedule struct {
	ID           string      `json:"id"`
	NextFireTime *string     `json:"next_fire_time"`
	Trigger      string      `json:"trigger"`
	Args         *store.Page `json:"args"`
}

type job struct {
	id    string
	page  *store.Page
	next  time.Time
	timer Timer
}

// Manager owns the per-page timers.
type Manager struct {
	src    PageSource
	run    RunFunc
	clock  Clock
	loc    *time.Location
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*job
	ctx     context.Context
	stopped bool
	wg      sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(m *Manager) { m.clock = c } }

// WithLocation sets the time zone run times are interpreted in. Default: time.Local.
func WithLocation(loc *time.Location) Option { return func(m *Manager) { m.loc = loc } }

// New creates a Manager. Nothing is scheduled until Start or Add.
func New(src PageSource, run RunFunc, opts ...Option) *Manager {
	m := &Manager{
		src:    src,
		run:    run,
		clock:  realClock{},
		loc:    time.Local,
		logger: slog.Default(),
		jobs:   make(map[string]*job),
		ctx:    context.Background(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// JobID returns the schedule ID of a page.
func JobID(pageID string) string { return "webpage_" + pageID }

// Start loads every page and registers a timer for each enabled one. Jobs
// fired later run under ctx.
func (m *Manager) Start(ctx context.Context) error {
	pages, err := m.src.ListPages(ctx, false)
	if err != nil {
		return fmt.Errorf("schedule: load pages: %w", err)
	}

	m.mu.Lock()
	m.ctx = ctx
	m.stopped = false
	for _, p := range pages {
		m.syncLocked(p)
	}
	n := len(m.jobs)
	m.mu.Unlock()

	m.logger.Info("scheduler: started", "pages", len(pages), "scheduled", n, "tz", m.loc.String())
	return nil
}

// Add re-reads the page and syncs its timer.
func (m *Manager) Add(ctx context.Context, pageID string) error {
	p, err := m.src.GetPage(ctx, pageID)
	if err != nil {
		return fmt.Errorf("schedule: load page %s: %w", pageID, err)
	}
	if p == nil {
		m.Remove(pageID)
		return ErrPageNotFound
	}

	m.mu.Lock()
	m.syncLocked(p)
	m.mu.Unlock()
	return nil
}

// Update is Add: both re-read the page row and re-sync.
func (m *Manager) Update(ctx context.Context, pageID string) error {
	return m.Add(ctx, pageID)
}

// Remove cancels the page's timer. Removing an unknown page is a no-op.
func (m *Manager) Remove(pageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[pageID]; ok {
		if j.timer != nil {
			j.timer.Stop()
		}
		delete(m.jobs, pageID)
		m.logger.Info("scheduler: removed", "page_id", pageID)
	}
}

// Has reports whether pageID has a registered job.
func (m *Manager) Has(pageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[pageID]
	return ok
}

// List returns the registered jobs ordered by next fire time, then ID.
// NextFireTime is nil once the manager is stopped.
func (m *Manager) List() []Schedule {
	m.mu.Lock()
	jobs := make([]*job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	stopped := m.stopped
	m.mu.Unlock()

	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].next.Equal(jobs[b].next) {
			return jobs[a].next.Before(jobs[b].next)
		}
		return jobs[a].id < jobs[b].id
	})

	out := make([]Schedule, 0, len(jobs))
	for _, j := range jobs {
		s := Schedule{
			ID:      j.id,
			Trigger: describe(j.page.RunHour, j.page.RunMinute, m.loc),
			Args:    j.page,
		}
		if !stopped && !j.next.IsZero() {
			ts := j.next.Format(time.RFC3339)
			s.NextFireTime = &ts
		}
		out = append(out, s)
	}
	return out
}

// Stop cancels every timer and waits for running jobs to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	for _, j := range m.jobs {
		if j.timer != nil {
			j.timer.Stop()
			j.timer = nil
		}
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("scheduler: stopped")
}

// syncLocked cancels any timer for p and arms a new one when p is enabled.
func (m *Manager) syncLocked(p *store.Page) {
	if old, ok := m.jobs[p.ID]; ok {
		if old.timer != nil {
			old.timer.Stop()
		}
		delete(m.jobs, p.ID)
	}
	if !p.Enabled {
		return
	}

	j := &job{id: JobID(p.ID), page: p}
	m.jobs[p.ID] = j
	if m.stopped {
		return
	}
	now := m.clock.Now()
	m.armLocked(j, now)
	m.logger.Info("scheduler: scheduled", "page_id", p.ID, "next", j.next.Format(time.RFC3339))
}

func (m *Manager) armLocked(j *job, after time.Time) {
	j.next = NextDaily(after, j.page.RunHour, j.page.RunMinute, m.loc)
	d := j.next.Sub(m.clock.Now())
	if d < 0 {
		d = 0
	}
	j.timer = m.clock.AfterFunc(d, func() { m.fire(j) })
}

func (m *Manager) fire(j *job) {
	m.mu.Lock()
	if m.stopped || m.jobs[j.page.ID] != j {
		// Cancelled or replaced while the timer was firing.
		m.mu.Unlock()
		return
	}
	after := m.clock.Now()
	if j.next.After(after) {
		after = j.next
	}
	m.armLocked(j, after)
	ctx := m.ctx
	m.wg.Add(1)
	m.mu.Unlock()

	defer m.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("scheduler: job panicked", "page_id", j.page.ID, "panic", rec)
		}
	}()

	m.logger.Info("scheduler: fired", "page_id", j.page.ID)
	if err := m.run(ctx, j.page.ID); err != nil {
		m.logger.Error("scheduler: job failed", "page_id", j.page.ID, "error", err)
	}
}

// NextDaily returns the first hour:minute in loc strictly after t.
func NextDaily(t time.Time, hour, minute int, loc *time.Location) time.Time {
	lt := t.In(loc)
	next := time.Date(lt.Year(), lt.Month(), lt.Day(), hour, minute, 0, 0, loc)
	if !next.After(lt) {
		next = time.Date(lt.Year(), lt.Month(), lt.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

func describe(hour, minute int, loc *time.Location) string {
	return fmt.Sprintf("cron[hour='%d', minute='%d'] %s", hour, minute, loc.String())
}
