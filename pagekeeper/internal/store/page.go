package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultRunHour and DefaultRunMinute are the run time of pages created without one.
	DefaultRunHour   = 10
	DefaultRunMinute = 0

	maxNameLen = 128
)

// Page is a URL scraped once a day at RunHour:RunMinute.
type Page struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Name      string `json:"name"`
	RunHour   int    `json:"run_hour"`
	RunMinute int    `json:"run_minute"`
	Enabled   bool   `json:"enabled"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Validate checks field ranges and the URL shape.
func (p *Page) Validate() error {
	u, err := url.Parse(p.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalid)
	}
	if len(p.Name) > maxNameLen {
		return fmt.Errorf("%w: name longer than %d characters", ErrInvalid, maxNameLen)
	}
	if p.RunHour < 0 || p.RunHour > 23 {
		return fmt.Errorf("%w: run_hour must be between 0 and 23", ErrInvalid)
	}
	if p.RunMinute < 0 || p.RunMinute > 59 {
		return fmt.Errorf("%w: run_minute must be between 0 and 59", ErrInvalid)
	}
	return nil
}

func urlConflict(u string) *ConflictError {
	return &ConflictError{Field: "url", Value: u, Detail: "URL must be unique"}
}

const pageColumns = `id, url, name, run_hour, run_minute, enabled, created_at, updated_at`

// InsertPage inserts p, assigning ID and timestamps when unset.
func (s *Store) InsertPage(ctx context.Context, p *Page) error {
	p.URL = strings.TrimSpace(p.URL)
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = NewID()
	}
	now := time.Now().UnixMilli()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	existing, err := s.GetPageByURL(ctx, p.URL)
	if err != nil {
		return err
	}
	if existing != nil {
		return urlConflict(p.URL)
	}

	_, err = s.exec(ctx, `
		INSERT INTO pages (`+pageColumns+`)
		VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.URL, p.Name, p.RunHour, p.RunMinute, boolInt(p.Enabled), p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return urlConflict(p.URL)
	}
	return err
}

// GetPage retrieves a page by ID. Returns nil, nil when absent.
func (s *Store) GetPage(ctx context.Context, id string) (*Page, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = ?`, id)
	return scanPageRow(row)
}

// GetPageByURL retrieves a page by exact URL. Returns nil, nil when absent.
func (s *Store) GetPageByURL(ctx context.Context, u string) (*Page, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE url = ?`, u)
	return scanPageRow(row)
}

// ListPages lists pages in creation order, optionally only enabled ones.
func (s *Store) ListPages(ctx context.Context, enabledOnly bool) ([]*Page, error) {
	q := `SELECT ` + pageColumns + ` FROM pages`
	if enabledOnly {
		q += ` WHERE enabled = 1`
	}
	q += ` ORDER BY created_at, rowid`

	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pages := make([]*Page, 0)
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// UpdatePage overwrites the mutable fields of the page with p.ID. It reports
// whether anything changed; an identical update writes nothing.
func (s *Store) UpdatePage(ctx context.Context, p *Page) (bool, error) {
	p.URL = strings.TrimSpace(p.URL)
	if err := p.Validate(); err != nil {
		return false, err
	}

	cur, err := s.GetPage(ctx, p.ID)
	if err != nil {
		return false, err
	}
	if cur == nil {
		return false, ErrNotFound
	}

	if p.URL != cur.URL {
		other, err := s.GetPageByURL(ctx, p.URL)
		if err != nil {
			return false, err
		}
		if other != nil && other.ID != p.ID {
			return false, urlConflict(p.URL)
		}
	}

	p.CreatedAt = cur.CreatedAt
	if p.URL == cur.URL && p.Name == cur.Name && p.RunHour == cur.RunHour &&
		p.RunMinute == cur.RunMinute && p.Enabled == cur.Enabled {
		p.UpdatedAt = cur.UpdatedAt
		return false, nil
	}
	p.UpdatedAt = time.Now().UnixMilli()

	_, err = s.exec(ctx, `
		UPDATE pages SET url = ?, name = ?, run_hour = ?, run_minute = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		p.URL, p.Name, p.RunHour, p.RunMinute, boolInt(p.Enabled), p.UpdatedAt, p.ID,
	)
	if isUniqueViolation(err) {
		return false, urlConflict(p.URL)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeletePage removes a page; elements, values and logs cascade.
func (s *Store) DeletePage(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM pages WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountPages returns the total and enabled page counts.
func (s *Store) CountPages(ctx context.Context) (total, enabled int, err error) {
	err = s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(enabled), 0) FROM pages`).Scan(&total, &enabled)
	return total, enabled, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPage(sc scanner) (*Page, error) {
	p := &Page{}
	var enabled int
	if err := sc.Scan(&p.ID, &p.URL, &p.Name, &p.RunHour, &p.RunMinute, &enabled,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Enabled = enabled == 1
	return p, nil
}

func scanPageRow(row *sql.Row) (*Page, error) {
	p, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}
