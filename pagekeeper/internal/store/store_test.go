package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func testPage(t *testing.T, s *Store, url string) *Page {
	t.Helper()
	p := &Page{URL: url, Name: "test", RunHour: 4, RunMinute: 30, Enabled: true}
	if err := s.InsertPage(context.Background(), p); err != nil {
		t.Fatalf("insert page: %v", err)
	}
	return p
}

func testElement(t *testing.T, s *Store, pageID, locator string) *Element {
	t.Helper()
	e := &Element{PageID: pageID, Locator: locator, MetricName: "price"}
	if err := s.InsertElement(context.Background(), e); err != nil {
		t.Fatalf("insert element: %v", err)
	}
	return e
}

func TestPageCRUD(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	p := testPage(t, s, "https://example.com/quotes")
	if p.ID == "" || p.CreatedAt == 0 {
		t.Fatalf("insert should assign id and timestamps: %+v", p)
	}

	got, err := s.GetPage(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("get: got nil")
	}
	if got.URL != p.URL || got.RunHour != 4 || got.RunMinute != 30 || !got.Enabled {
		t.Errorf("get: got %+v", got)
	}

	// Identical update reports no change.
	same := *got
	changed, err := s.UpdatePage(ctx, &same)
	if err != nil {
		t.Fatalf("noop update: %v", err)
	}
	if changed {
		t.Error("identical update should report changed=false")
	}

	got.Enabled = false
	got.Name = "renamed"
	changed, err = s.UpdatePage(ctx, got)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !changed {
		t.Error("update should report changed=true")
	}
	got2, _ := s.GetPage(ctx, p.ID)
	if got2.Enabled || got2.Name != "renamed" {
		t.Errorf("after update: %+v", got2)
	}

	all, err := s.ListPages(ctx, false)
	if err != nil || len(all) != 1 {
		t.Fatalf("list all: %d, %v", len(all), err)
	}
	enabled, err := s.ListPages(ctx, true)
	if err != nil || len(enabled) != 0 {
		t.Fatalf("list enabled: %d, %v", len(enabled), err)
	}

	if err := s.DeletePage(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := s.GetPage(ctx, p.ID); got != nil {
		t.Error("page still present after delete")
	}
	if err := s.DeletePage(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestPage_GetMissing(t *testing.T) {
	s := OpenMemory(t)
	got, err := s.GetPage(context.Background(), "nope")
	if err != nil || got != nil {
		t.Errorf("GetPage(missing) = %v, %v; want nil, nil", got, err)
	}
}

func TestPage_DuplicateURL(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	testPage(t, s, "https://example.com/a")
	b := testPage(t, s, "https://example.com/b")

	err := s.InsertPage(ctx, &Page{URL: "https://example.com/a", Enabled: true})
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.Field != "url" {
		t.Fatalf("insert duplicate: got %v, want url conflict", err)
	}

	// WHAT: renaming a page onto another page's URL is refused before writing.
	b.URL = "https://example.com/a"
	if _, err := s.UpdatePage(ctx, b); !errors.Is(err, ErrConflict) {
		t.Fatalf("update duplicate: got %v, want ErrConflict", err)
	}
	got, _ := s.GetPage(ctx, b.ID)
	if got.URL != "https://example.com/b" {
		t.Errorf("URL changed despite conflict: %s", got.URL)
	}
}

func TestPage_Validate(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	bad := []*Page{
		{URL: "ftp://example.com"},
		{URL: "not a url"},
		{URL: "https://example.com", RunHour: 24},
		{URL: "https://example.com", RunMinute: -1},
		{URL: "https://example.com", RunMinute: 60},
	}
	for _, p := range bad {
		if err := s.InsertPage(ctx, p); !errors.Is(err, ErrInvalid) {
			t.Errorf("InsertPage(%+v) = %v, want ErrInvalid", p, err)
		}
	}
}

func TestUpdatePage_Missing(t *testing.T) {
	s := OpenMemory(t)
	_, err := s.UpdatePage(context.Background(), &Page{ID: "ghost", URL: "https://example.com"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestElementCRUD(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	p := testPage(t, s, "https://example.com")

	e1 := testElement(t, s, p.ID, "#price")
	e2 := testElement(t, s, p.ID, "//span[@id='change']")

	els, err := s.ListElementsByPage(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(els) != 2 || els[0].ID != e1.ID || els[1].ID != e2.ID {
		t.Fatalf("elements not in definition order: %+v", els)
	}

	e1.MetricName = "btc"
	changed, err := s.UpdateElement(ctx, e1)
	if err != nil || !changed {
		t.Fatalf("update: changed=%v err=%v", changed, err)
	}
	got, _ := s.GetElement(ctx, e1.ID)
	if got.MetricName != "btc" {
		t.Errorf("MetricName = %q", got.MetricName)
	}

	all, err := s.ListElements(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("list all: %d %v", len(all), err)
	}

	if err := s.DeleteElement(ctx, e2.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteElement(ctx, e2.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestElement_UnknownPage(t *testing.T) {
	s := OpenMemory(t)
	err := s.InsertElement(context.Background(), &Element{PageID: "ghost", Locator: "#x"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestElement_LocatorUniquePerPage(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	p1 := testPage(t, s, "https://example.com/1")
	p2 := testPage(t, s, "https://example.com/2")

	testElement(t, s, p1.ID, "#price")
	// Same locator on another page is fine.
	testElement(t, s, p2.ID, "#price")

	err := s.InsertElement(ctx, &Element{PageID: p1.ID, Locator: "#price"})
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v, want *ConflictError", err)
	}
	if ce.Field != "locator" || ce.Detail != "Locator must be unique per webpage" || ce.Value != "#price" {
		t.Errorf("conflict = %+v", ce)
	}

	other := testElement(t, s, p1.ID, "#other")
	other.Locator = "#price"
	if _, err := s.UpdateElement(ctx, other); !errors.Is(err, ErrConflict) {
		t.Errorf("update onto taken locator: got %v, want ErrConflict", err)
	}
}

func TestValuesAndLogs_CascadeOnPageDelete(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	p := testPage(t, s, "https://example.com")
	e := testElement(t, s, p.ID, "#price")

	if err := s.InsertValues(ctx, []ScrapedValue{{ElementID: e.ID, Value: 1234.5}, {ElementID: e.ID, Value: 1235}}); err != nil {
		t.Fatalf("insert values: %v", err)
	}
	logID, err := s.InsertPageLog(ctx, p.ID, "partial", "", "manual")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.InsertElementLog(ctx, logID, e.ID, "success", "1234.5"); err != nil {
		t.Fatal(err)
	}

	vals, err := s.ListValues(ctx, e.ID, 0)
	if err != nil || len(vals) != 2 {
		t.Fatalf("values: %d %v", len(vals), err)
	}
	if vals[0].Value != 1235 {
		t.Errorf("newest value first: got %v", vals[0].Value)
	}

	if err := s.DeletePage(ctx, p.ID); err != nil {
		t.Fatal(err)
	}

	for table, want := range map[string]int{"elements": 0, "element_data": 0, "page_logs": 0, "element_logs": 0} {
		var n int
		if err := s.DB.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != want {
			t.Errorf("%s: %d rows after page delete, want %d", table, n, want)
		}
	}
}

func TestRunLogs(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	p := testPage(t, s, "https://example.com")
	e := testElement(t, s, p.ID, "#price")

	id, err := s.InsertPageLog(ctx, p.ID, "running", "", "schedule")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.InsertElementLog(ctx, id, e.ID, "failure", "ElementNotFoundError"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdatePageLog(ctx, id, "partial", "ElementNotFoundError for element "+e.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdatePageLog(ctx, "ghost", "success", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing log: %v", err)
	}

	got, err := s.GetPageLog(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("get log: %v %v", got, err)
	}
	if got.Status != "partial" || got.Trigger != "schedule" || len(got.Elements) != 1 {
		t.Errorf("log = %+v", got)
	}

	logs, err := s.ListPageLogs(ctx, p.ID, 10)
	if err != nil || len(logs) != 1 || len(logs[0].Elements) != 1 {
		t.Fatalf("list logs: %+v %v", logs, err)
	}
	els, err := s.ListElementLogs(ctx, e.ID, 0)
	if err != nil || len(els) != 1 || els[0].Status != "failure" {
		t.Fatalf("element logs: %+v %v", els, err)
	}
}

func TestCountPages(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	testPage(t, s, "https://example.com/1")
	if err := s.InsertPage(ctx, &Page{URL: "https://example.com/2"}); err != nil {
		t.Fatal(err)
	}
	total, enabled, err := s.CountPages(ctx)
	if err != nil || total != 2 || enabled != 1 {
		t.Errorf("CountPages = %d, %d, %v; want 2, 1", total, enabled, err)
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "pk.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	var fk int
	if err := s.DB.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
	testPage(t, s, "https://example.com")
}
