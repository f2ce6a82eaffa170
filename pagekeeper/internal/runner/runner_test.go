package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/pricewatch/pagekeeper/internal/fetch"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/numparse"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/scrape"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeFetcher serves canned HTML per URL.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	errs    map[string]error
	block   chan struct{} // when set, Fetch waits on it
	entered chan struct{}
	onFetch func()
	started bool
	stopped bool
	fetches int
}

func (f *fakeFetcher) Start(context.Context) error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.block != nil {
		if f.entered != nil {
			f.entered <- struct{}{}
		}
		<-f.block
	}
	if err, ok := f.errs[url]; ok {
		return "", err
	}
	html, ok := f.pages[url]
	if !ok {
		return "", &scrape.FetchError{URL: url, Status: 404}
	}
	return html, nil
}

func (f *fakeFetcher) Stop() error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func factory(f fetch.Fetcher) FetcherFactory {
	return func() (fetch.Fetcher, error) { return f, nil }
}

func seedPage(t *testing.T, s *store.Store, url string, enabled bool, locators ...string) (*store.Page, []*store.Element) {
	t.Helper()
	ctx := context.Background()
	p := &store.Page{URL: url, RunHour: 4, Enabled: enabled}
	if err := s.InsertPage(ctx, p); err != nil {
		t.Fatalf("insert page: %v", err)
	}
	var els []*store.Element
	for _, loc := range locators {
		e := &store.Element{PageID: p.ID, Locator: loc}
		if err := s.InsertElement(ctx, e); err != nil {
			t.Fatalf("insert element: %v", err)
		}
		els = append(els, e)
	}
	return p, els
}

func countRows(t *testing.T, s *store.Store, table string) int {
	t.Helper()
	var n int
	if err := s.DB.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

const pricePage = `<html><body>
<span id="price">$1,234.50</span>
<span id="change">+1.5%</span>
<span id="label">n/a</span>
</body></html>`

func TestRunPage_EndToEnd(t *testing.T) {
	// WHAT: one element found, one missing.
	// WHY: partial status, one value persisted, message names the missing element.
	s := store.OpenMemory(t)
	ctx := context.Background()
	p, els := seedPage(t, s, "https://example.com", true, "#price", "#missing")

	f := &fakeFetcher{pages: map[string]string{"https://example.com": pricePage}}
	r := New(s, factory(f), WithLogger(quiet))

	rep, err := r.RunPage(ctx, p.ID, TriggerManual)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rep.Pages) != 1 {
		t.Fatalf("pages: %d", len(rep.Pages))
	}
	pr := rep.Pages[0]
	if pr.Status != scrape.StatusPartial {
		t.Errorf("status = %q, want partial", pr.Status)
	}
	want := "ElementNotFoundError for element " + els[1].ID
	if !strings.Contains(pr.Message, want) {
		t.Errorf("message = %q, want it to contain %q", pr.Message, want)
	}
	if len(rep.Values) != 1 || rep.Values[0].ElementID != els[0].ID || rep.Values[0].Value != 1234.50 {
		t.Errorf("values = %+v", rep.Values)
	}

	vals, err := s.ListValues(ctx, els[0].ID, 0)
	if err != nil || len(vals) != 1 || vals[0].Value != 1234.50 {
		t.Fatalf("persisted values = %+v, %v", vals, err)
	}

	log, err := s.GetPageLog(ctx, pr.LogID)
	if err != nil || log == nil {
		t.Fatalf("page log: %v %v", log, err)
	}
	if log.Status != "partial" || log.Message != pr.Message || log.Trigger != TriggerManual {
		t.Errorf("page log = %+v", log)
	}
	if len(log.Elements) != 2 {
		t.Fatalf("element logs = %d, want 2", len(log.Elements))
	}
	if log.Elements[0].Status != "success" || log.Elements[0].Message != "1234.5" {
		t.Errorf("first element log = %+v", log.Elements[0])
	}
	if log.Elements[1].Status != "failure" {
		t.Errorf("second element log = %+v", log.Elements[1])
	}
	if !f.started || !f.stopped {
		t.Error("fetcher should be started and stopped once per run")
	}
}

func TestRun_AllSucceed(t *testing.T) {
	s := store.OpenMemory(t)
	p, _ := seedPage(t, s, "https://example.com", true, "#price", "//span[@id='price']")
	f := &fakeFetcher{pages: map[string]string{"https://example.com": pricePage}}
	r := New(s, factory(f), WithLogger(quiet))

	rep, err := r.RunPage(context.Background(), p.ID, TriggerSchedule)
	if err != nil {
		t.Fatal(err)
	}
	pr := rep.Pages[0]
	if pr.Status != scrape.StatusSuccess || pr.Message != MessageSuccess {
		t.Errorf("got %q %q", pr.Status, pr.Message)
	}
	if len(rep.Values) != 2 {
		t.Errorf("values = %d, want 2", len(rep.Values))
	}
}

func TestRun_ZeroElements(t *testing.T) {
	s := store.OpenMemory(t)
	p, _ := seedPage(t, s, "https://example.com", true)
	f := &fakeFetcher{pages: map[string]string{"https://example.com": pricePage}}
	r := New(s, factory(f), WithLogger(quiet))

	rep, err := r.RunPage(context.Background(), p.ID, TriggerManual)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Pages[0].Status != scrape.StatusSuccess || rep.Pages[0].Message != MessageNoElements {
		t.Errorf("got %+v", rep.Pages[0])
	}
	if n := countRows(t, s, "page_logs"); n != 1 {
		t.Errorf("page logs = %d, want 1", n)
	}
	if n := countRows(t, s, "element_logs"); n != 0 {
		t.Errorf("element logs = %d, want 0", n)
	}
}

func TestRun_FetchFailure(t *testing.T) {
	s := store.OpenMemory(t)
	ctx := context.Background()
	p, _ := seedPage(t, s, "https://down.example.com", true, "#price", "#change")
	f := &fakeFetcher{errs: map[string]error{
		"https://down.example.com": &scrape.FetchError{URL: "https://down.example.com", Err: context.DeadlineExceeded},
	}}
	r := New(s, factory(f), WithLogger(quiet))

	rep, err := r.RunPage(ctx, p.ID, TriggerSchedule)
	if err != nil {
		t.Fatal(err)
	}
	pr := rep.Pages[0]
	if pr.Status != scrape.StatusFailure || !strings.HasPrefix(pr.Message, "FetchError") {
		t.Errorf("got %q %q", pr.Status, pr.Message)
	}
	if len(rep.Values) != 0 {
		t.Errorf("values = %d, want 0", len(rep.Values))
	}
	if n := countRows(t, s, "page_logs"); n != 1 {
		t.Errorf("page logs = %d, want 1", n)
	}
	if n := countRows(t, s, "element_logs"); n != 0 {
		t.Errorf("element logs = %d, want 0", n)
	}
	if n := countRows(t, s, "element_data"); n != 0 {
		t.Errorf("element data = %d, want 0", n)
	}
}

func TestRun_RobotsDisallowedIsPageFailure(t *testing.T) {
	s := store.OpenMemory(t)
	p, _ := seedPage(t, s, "https://example.com/private", true, "#price")
	f := &fakeFetcher{errs: map[string]error{
		"https://example.com/private": &scrape.RobotsDisallowedError{URL: "https://example.com/private"},
	}}
	r := New(s, factory(f), WithLogger(quiet))

	rep, _ := r.RunPage(context.Background(), p.ID, TriggerManual)
	if rep.Pages[0].Status != scrape.StatusFailure || !strings.HasPrefix(rep.Pages[0].Message, "RobotsDisallowed") {
		t.Errorf("got %+v", rep.Pages[0])
	}
}

func TestRun_PartialGroupsByKind(t *testing.T) {
	// WHAT: N=4 elements, k=3 fail with two different kinds.
	s := store.OpenMemory(t)
	p, els := seedPage(t, s, "https://example.com", true, "#price", "#missing", "#label", "#gone")
	f := &fakeFetcher{pages: map[string]string{"https://example.com": pricePage}}
	r := New(s, factory(f), WithLogger(quiet))

	rep, err := r.RunPage(context.Background(), p.ID, TriggerManual)
	if err != nil {
		t.Fatal(err)
	}
	pr := rep.Pages[0]
	want := "ElementNotFoundError for elements " + els[1].ID + ", " + els[3].ID +
		"; ParseError for element " + els[2].ID
	if pr.Status != scrape.StatusPartial || pr.Message != want {
		t.Errorf("got %q %q\nwant message %q", pr.Status, pr.Message, want)
	}
	if len(pr.Elements) != 4 {
		t.Errorf("outcomes = %d, want 4", len(pr.Elements))
	}
	if n := countRows(t, s, "element_logs"); n != 4 {
		t.Errorf("element logs = %d, want 4", n)
	}
	if len(rep.Values) != 1 {
		t.Errorf("values = %d, want 1", len(rep.Values))
	}
}

func TestRun_AllElementsFailIsPartial(t *testing.T) {
	s := store.OpenMemory(t)
	p, _ := seedPage(t, s, "https://example.com", true, "#missing")
	f := &fakeFetcher{pages: map[string]string{"https://example.com": pricePage}}
	r := New(s, factory(f), WithLogger(quiet))

	rep, _ := r.RunPage(context.Background(), p.ID, TriggerManual)
	if rep.Pages[0].Status != scrape.StatusPartial {
		t.Errorf("status = %q, want partial", rep.Pages[0].Status)
	}
}

func TestRun_InvalidLocatorIsUnexpected(t *testing.T) {
	s := store.OpenMemory(t)
	p, els := seedPage(t, s, "https://example.com", true, "div[", "#price")
	f := &fakeFetcher{pages: map[string]string{"https://example.com": pricePage}}
	r := New(s, factory(f), WithLogger(quiet))

	rep, _ := r.RunPage(context.Background(), p.ID, TriggerManual)
	if rep.Pages[0].Message != "UnexpectedError for element "+els[0].ID {
		t.Errorf("message = %q", rep.Pages[0].Message)
	}
	if len(rep.Values) != 1 {
		t.Errorf("sibling element should still succeed, values = %d", len(rep.Values))
	}
}

func TestRunActive_IsolatesPages(t *testing.T) {
	// WHAT: a failing page does not stop the next one; disabled pages are not run.
	s := store.OpenMemory(t)
	seedPage(t, s, "https://down.example.com", true, "#price")
	_, ok := seedPage(t, s, "https://example.com", true, "#price")
	seedPage(t, s, "https://off.example.com", false, "#price")

	f := &fakeFetcher{pages: map[string]string{
		"https://example.com":     pricePage,
		"https://off.example.com": pricePage,
	}}
	r := New(s, factory(f), WithLogger(quiet))

	rep, err := r.RunActive(context.Background(), TriggerManual)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Pages) != 2 {
		t.Fatalf("pages run = %d, want 2", len(rep.Pages))
	}
	if rep.Pages[0].Status != scrape.StatusFailure || rep.Pages[1].Status != scrape.StatusSuccess {
		t.Errorf("statuses = %q, %q", rep.Pages[0].Status, rep.Pages[1].Status)
	}
	if len(rep.Values) != 1 || rep.Values[0].ElementID != ok[0].ID {
		t.Errorf("values = %+v", rep.Values)
	}
	if f.fetches != 2 {
		t.Errorf("fetches = %d, want 2 (one per page)", f.fetches)
	}
}

func TestRunActive_ElementDeletedMidRunKeepsOtherValues(t *testing.T) {
	// WHAT: an element deleted while the batch runs loses only its own value.
	// WHY: values are stored per page; one stale row must not roll back every
	// page of the batch while their logs still read success.
	s := store.OpenMemory(t)
	ctx := context.Background()
	_, a := seedPage(t, s, "https://a.example.com", true, "#price", "#change")
	_, b := seedPage(t, s, "https://b.example.com", true, "#price", "#change")

	f := &fakeFetcher{
		pages: map[string]string{
			"https://a.example.com": pricePage,
			"https://b.example.com": pricePage,
		},
		onFetch: func() { _ = s.DeleteElement(ctx, b[0].ID) },
	}
	r := New(s, factory(f), WithLogger(quiet), WithParseOptions(numparse.Options{AllowPercent: true}))

	rep, err := r.RunActive(ctx, TriggerManual)
	if err != nil {
		t.Fatalf("run active: %v", err)
	}
	for _, pr := range rep.Pages {
		if pr.Status != scrape.StatusSuccess {
			t.Errorf("page %s status = %q (%s)", pr.URL, pr.Status, pr.Message)
		}
	}
	if len(rep.Values) != 3 {
		t.Errorf("values = %+v, want 3", rep.Values)
	}
	for _, el := range append(a, b[1]) {
		vals, err := s.ListValues(ctx, el.ID, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(vals) != 1 {
			t.Errorf("element %s: %d values stored, want 1", el.Locator, len(vals))
		}
	}
	if n := countRows(t, s, "element_data"); n != 3 {
		t.Errorf("element_data rows = %d, want 3", n)
	}
}

func TestRun_FetchPanicIsPageFailure(t *testing.T) {
	s := store.OpenMemory(t)
	p, _ := seedPage(t, s, "https://example.com", true, "#price")
	f := &fakeFetcher{onFetch: func() { panic("driver exploded") }}
	r := New(s, factory(f), WithLogger(quiet))

	rep, err := r.RunPage(context.Background(), p.ID, TriggerSchedule)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Pages[0].Status != scrape.StatusFailure || !strings.HasPrefix(rep.Pages[0].Message, "UnexpectedError") {
		t.Errorf("got %+v", rep.Pages[0])
	}
}

func TestRun_FetcherFactoryError(t *testing.T) {
	s := store.OpenMemory(t)
	p, _ := seedPage(t, s, "https://example.com", true, "#price")
	r := New(s, func() (fetch.Fetcher, error) { return nil, errors.New("no chrome") }, WithLogger(quiet))

	rep, err := r.RunPage(context.Background(), p.ID, TriggerManual)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Pages[0].Status != scrape.StatusFailure {
		t.Errorf("status = %q", rep.Pages[0].Status)
	}
	if n := countRows(t, s, "page_logs"); n != 1 {
		t.Errorf("page logs = %d, want 1", n)
	}
}

func TestRun_CancelledAbandonsElements(t *testing.T) {
	// WHAT: cancellation after load abandons the remaining elements.
	// WHY: the page log must still be finalized, not left provisional.
	s := store.OpenMemory(t)
	p, _ := seedPage(t, s, "https://example.com", true, "#price", "#change")

	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeFetcher{pages: map[string]string{"https://example.com": pricePage}, onFetch: cancel}
	r := New(s, factory(f), WithLogger(quiet))

	rep, err := r.RunPage(ctx, p.ID, TriggerManual)
	if err != nil {
		t.Fatal(err)
	}
	pr := rep.Pages[0]
	if pr.Status != scrape.StatusFailure || !strings.Contains(pr.Message, "cancelled before any of 2") {
		t.Errorf("got %q %q", pr.Status, pr.Message)
	}
	log, _ := s.GetPageLog(context.Background(), pr.LogID)
	if log.Message == provisionalMessage {
		t.Error("page log left provisional")
	}
}

func TestRun_SkipsConcurrentRunOfSamePage(t *testing.T) {
	s := store.OpenMemory(t)
	p, _ := seedPage(t, s, "https://example.com", true, "#price")

	block := make(chan struct{})
	entered := make(chan struct{}, 1)
	slow := &fakeFetcher{pages: map[string]string{"https://example.com": pricePage}, block: block, entered: entered}
	r := New(s, factory(slow), WithLogger(quiet))

	done := make(chan *Report)
	go func() {
		rep, _ := r.RunPage(context.Background(), p.ID, TriggerSchedule)
		done <- rep
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first run never reached fetch")
	}
	if !r.Running(p.ID) {
		t.Error("page should be marked running")
	}

	second, err := r.RunPage(context.Background(), p.ID, TriggerManual)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Skipped) != 1 || second.Skipped[0] != p.ID || len(second.Pages) != 0 {
		t.Errorf("second run = %+v, want skipped", second)
	}

	close(block)
	first := <-done
	if len(first.Pages) != 1 || first.Pages[0].Status != scrape.StatusSuccess {
		t.Errorf("first run = %+v", first)
	}
	if r.Running(p.ID) {
		t.Error("page still marked running")
	}
}

func TestRunPage_Unknown(t *testing.T) {
	s := store.OpenMemory(t)
	r := New(s, factory(&fakeFetcher{}), WithLogger(quiet))
	if _, err := r.RunPage(context.Background(), "ghost", TriggerManual); !errors.Is(err, ErrPageNotFound) {
		t.Errorf("got %v, want ErrPageNotFound", err)
	}
}

func TestRun_AllowPercent(t *testing.T) {
	s := store.OpenMemory(t)
	p, _ := seedPage(t, s, "https://example.com", true, "#change")
	f := &fakeFetcher{pages: map[string]string{"https://example.com": pricePage}}
	r := New(s, factory(f), WithLogger(quiet), WithParseOptions(numparse.Options{AllowPercent: true}))

	rep, _ := r.RunPage(context.Background(), p.ID, TriggerManual)
	if len(rep.Values) != 1 || rep.Values[0].Value != 0.015 {
		t.Errorf("values = %+v, want 0.015", rep.Values)
	}
}

func TestValidate(t *testing.T) {
	s := store.OpenMemory(t)
	f := &fakeFetcher{pages: map[string]string{"https://example.com": pricePage}}
	r := New(s, factory(f), WithLogger(quiet))
	ctx := context.Background()

	rep, err := r.Validate(ctx, "https://example.com", []string{"#price", "#missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Locators) != 1 || rep.Locators[0].Value != 1234.50 {
		t.Errorf("locators = %+v", rep.Locators)
	}
	if len(rep.Missing) != 1 || rep.Missing[0] != "#missing" {
		t.Errorf("missing = %+v", rep.Missing)
	}

	_, err = r.Validate(ctx, "https://example.com", []string{"#price", "#label"})
	var pe *LocatorParseError
	if !errors.As(err, &pe) || pe.Locator != "#label" || pe.Value != "n/a" {
		t.Errorf("got %v, want LocatorParseError on #label", err)
	}

	if n := countRows(t, s, "page_logs"); n != 0 {
		t.Errorf("validate wrote %d page logs", n)
	}
}
