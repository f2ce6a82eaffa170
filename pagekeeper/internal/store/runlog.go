package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PageRunLog is the outcome of one run of one page.
type PageRunLog struct {
	ID        string           `json:"id"`
	PageID    string           `json:"page_id"`
	Status    string           `json:"status"`
	Message   string           `json:"message"`
	Trigger   string           `json:"trigger"`
	CreatedAt int64            `json:"created_at"`
	UpdatedAt int64            `json:"updated_at"`
	Elements  []*ElementRunLog `json:"elements,omitempty"`
}

// ElementRunLog is the outcome of one element within a page run.
type ElementRunLog struct {
	ID        string `json:"id"`
	PageLogID string `json:"page_log_id"`
	ElementID string `json:"element_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	CreatedAt int64  `json:"created_at"`
}

// InsertPageLog opens a page run log and returns its ID.
func (s *Store) InsertPageLog(ctx context.Context, pageID, status, message, trigger string) (string, error) {
	id := NewID()
	now := time.Now().UnixMilli()
	_, err := s.exec(ctx, `
		INSERT INTO page_logs (id, page_id, status, message, run_trigger, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)`,
		id, pageID, status, message, trigger, now, now)
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdatePageLog sets the final status and message of a page run log.
func (s *Store) UpdatePageLog(ctx context.Context, id, status, message string) error {
	res, err := s.exec(ctx, `UPDATE page_logs SET status = ?, message = ?, updated_at = ? WHERE id = ?`,
		status, message, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertElementLog records the outcome of one element under a page run log.
func (s *Store) InsertElementLog(ctx context.Context, pageLogID, elementID, status, message string) error {
	_, err := s.exec(ctx, `
		INSERT INTO element_logs (id, page_log_id, element_id, status, message, created_at)
		VALUES (?,?,?,?,?,?)`,
		NewID(), pageLogID, elementID, status, message, time.Now().UnixMilli())
	return err
}

// GetPageLog retrieves a page run log with its element logs. Returns nil, nil when absent.
func (s *Store) GetPageLog(ctx context.Context, id string) (*PageRunLog, error) {
	l := &PageRunLog{}
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, page_id, status, message, run_trigger, created_at, updated_at
		FROM page_logs WHERE id = ?`, id).
		Scan(&l.ID, &l.PageID, &l.Status, &l.Message, &l.Trigger, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.Elements, err = s.queryElementLogs(ctx, `WHERE page_log_id = ? ORDER BY created_at, rowid`, id)
	return l, err
}

// ListPageLogs returns a page's run logs, newest first, each with its
// element logs. limit <= 0 means 50.
func (s *Store) ListPageLogs(ctx context.Context, pageID string, limit int) ([]*PageRunLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, page_id, status, message, run_trigger, created_at, updated_at
		FROM page_logs WHERE page_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, pageID, limit)
	if err != nil {
		return nil, err
	}

	logs := make([]*PageRunLog, 0)
	for rows.Next() {
		l := &PageRunLog{}
		if err := rows.Scan(&l.ID, &l.PageID, &l.Status, &l.Message, &l.Trigger, &l.CreatedAt, &l.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, l := range logs {
		l.Elements, err = s.queryElementLogs(ctx, `WHERE page_log_id = ? ORDER BY created_at, rowid`, l.ID)
		if err != nil {
			return nil, err
		}
	}
	return logs, nil
}

// ListElementLogs returns an element's run logs, newest first. limit <= 0 means 50.
func (s *Store) ListElementLogs(ctx context.Context, elementID string, limit int) ([]*ElementRunLog, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryElementLogs(ctx, `WHERE element_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, elementID, limit)
}

func (s *Store) queryElementLogs(ctx context.Context, where string, args ...any) ([]*ElementRunLog, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, page_log_id, element_id, status, message, created_at
		FROM element_logs `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*ElementRunLog, 0)
	for rows.Next() {
		l := &ElementRunLog{}
		if err := rows.Scan(&l.ID, &l.PageLogID, &l.ElementID, &l.Status, &l.Message, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
