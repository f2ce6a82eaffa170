package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxLocatorLen = 512

// Element is one locator-addressed value on a page.
type Element struct {
	ID         string `json:"id"`
	PageID     string `json:"page_id"`
	Locator    string `json:"locator"`
	MetricName string `json:"metric_name,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// Validate checks locator and metric name lengths.
func (e *Element) Validate() error {
	if e.Locator == "" {
		return fmt.Errorf("%w: locator must not be empty", ErrInvalid)
	}
	if len(e.Locator) > maxLocatorLen {
		return fmt.Errorf("%w: locator longer than %d characters", ErrInvalid, maxLocatorLen)
	}
	if len(e.MetricName) > maxNameLen {
		return fmt.Errorf("%w: metric_name longer than %d characters", ErrInvalid, maxNameLen)
	}
	return nil
}

func locatorConflict(locator string) *ConflictError {
	return &ConflictError{Field: "locator", Value: locator, Detail: "Locator must be unique per webpage"}
}

const elementColumns = `id, page_id, locator, metric_name, created_at, updated_at`

// InsertElement adds e to its page. Returns ErrNotFound when the page does
// not exist and a *ConflictError when the locator is already used on it.
func (s *Store) InsertElement(ctx context.Context, e *Element) error {
	e.Locator = strings.TrimSpace(e.Locator)
	if err := e.Validate(); err != nil {
		return err
	}

	page, err := s.GetPage(ctx, e.PageID)
	if err != nil {
		return err
	}
	if page == nil {
		return ErrNotFound
	}

	taken, err := s.locatorTaken(ctx, e.PageID, e.Locator, "")
	if err != nil {
		return err
	}
	if taken {
		return locatorConflict(e.Locator)
	}

	if e.ID == "" {
		e.ID = NewID()
	}
	now := time.Now().UnixMilli()
	if e.CreatedAt == 0 {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	_, err = s.exec(ctx, `
		INSERT INTO elements (`+elementColumns+`)
		VALUES (?,?,?,?,?,?)`,
		e.ID, e.PageID, e.Locator, e.MetricName, e.CreatedAt, e.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return locatorConflict(e.Locator)
	}
	return err
}

// GetElement retrieves an element by ID. Returns nil, nil when absent.
func (s *Store) GetElement(ctx context.Context, id string) (*Element, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+elementColumns+` FROM elements WHERE id = ?`, id)
	e, err := scanElement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// ListElements lists every element, grouped by page in creation order.
func (s *Store) ListElements(ctx context.Context) ([]*Element, error) {
	return s.queryElements(ctx, `SELECT `+elementColumns+` FROM elements ORDER BY page_id, created_at, rowid`)
}

// ListElementsByPage lists a page's elements in the order they were defined.
func (s *Store) ListElementsByPage(ctx context.Context, pageID string) ([]*Element, error) {
	return s.queryElements(ctx, `SELECT `+elementColumns+` FROM elements WHERE page_id = ? ORDER BY created_at, rowid`, pageID)
}

// UpdateElement overwrites locator and metric name of the element with e.ID.
// The locator uniqueness check runs before the write. It reports whether
// anything changed.
func (s *Store) UpdateElement(ctx context.Context, e *Element) (bool, error) {
	e.Locator = strings.TrimSpace(e.Locator)
	if err := e.Validate(); err != nil {
		return false, err
	}

	cur, err := s.GetElement(ctx, e.ID)
	if err != nil {
		return false, err
	}
	if cur == nil {
		return false, ErrNotFound
	}
	e.PageID = cur.PageID
	e.CreatedAt = cur.CreatedAt

	if e.Locator != cur.Locator {
		taken, err := s.locatorTaken(ctx, cur.PageID, e.Locator, e.ID)
		if err != nil {
			return false, err
		}
		if taken {
			return false, locatorConflict(e.Locator)
		}
	}

	if e.Locator == cur.Locator && e.MetricName == cur.MetricName {
		e.UpdatedAt = cur.UpdatedAt
		return false, nil
	}
	e.UpdatedAt = time.Now().UnixMilli()

	_, err = s.exec(ctx, `UPDATE elements SET locator = ?, metric_name = ?, updated_at = ? WHERE id = ?`,
		e.Locator, e.MetricName, e.UpdatedAt, e.ID)
	if isUniqueViolation(err) {
		return false, locatorConflict(e.Locator)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteElement removes an element; its values and logs cascade.
func (s *Store) DeleteElement(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM elements WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) locatorTaken(ctx context.Context, pageID, locator, exceptID string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM elements WHERE page_id = ? AND locator = ? AND id != ?`,
		pageID, locator, exceptID).Scan(&n)
	return n > 0, err
}

func (s *Store) queryElements(ctx context.Context, q string, args ...any) ([]*Element, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Element, 0)
	for rows.Next() {
		e, err := scanElement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanElement(sc scanner) (*Element, error) {
	e := &Element{}
	if err := sc.Scan(&e.ID, &e.PageID, &e.Locator, &e.MetricName, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return e, nil
}
