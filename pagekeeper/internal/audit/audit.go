// CLAUDE:SUMMARY Audit trail of page/element mutations and manual runs, stored in the pagekeeper SQLite database.
// Package audit records who changed what in pagekeeper: every page and
// element mutation and every manual run lands in the audit_log table with
// its source (api, mcp, cli), parameters, outcome and duration.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Schema is the DDL of the audit table. New applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
    entry_id      TEXT PRIMARY KEY,
    timestamp     INTEGER NOT NULL,
    source        TEXT NOT NULL,
    operation     TEXT NOT NULL,
    target_id     TEXT NOT NULL DEFAULT '',
    request_id    TEXT NOT NULL DEFAULT '',
    parameters    TEXT NOT NULL DEFAULT '{}',
    status        TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    duration_ms   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_operation ON audit_log(operation, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_log(target_id) WHERE target_id != '';
`

// Entry statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Entry is one audited operation.
type Entry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
	Operation    string    `json:"operation"`
	TargetID     string    `json:"target_id,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	Parameters   string    `json:"parameters"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
}

// Filter narrows Query. Empty fields match everything.
type Filter struct {
	Source    string
	Operation string
	TargetID  string
	Status    string
	Since     *time.Time
	Limit     int // default 100
	Offset    int
}

// Logger writes audit entries synchronously.
type Logger struct {
	db     *sql.DB
	newID  func() string
	logger *slog.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithIDGenerator sets the entry ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(l *Logger) { l.newID = gen }
}

// WithLogger sets the logger used when an entry cannot be written.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) { l.logger = logger }
}

// New applies the audit schema to db and returns a Logger on it.
func New(db *sql.DB, opts ...Option) (*Logger, error) {
	l := &Logger{db: db, logger: slog.Default()}
	for _, o := range opts {
		o(l)
	}
	if l.newID == nil {
		return nil, fmt.Errorf("audit: an ID generator is required")
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}
	return l, nil
}

// NewEntry builds an entry from the operation parameters and outcome. The
// source and request id are taken from ctx.
func (l *Logger) NewEntry(ctx context.Context, operation, targetID string, params any, err error, duration time.Duration) *Entry {
	origin := originFrom(ctx)
	e := &Entry{
		ID:         l.newID(),
		Timestamp:  time.Now(),
		Source:     origin.source,
		Operation:  operation,
		TargetID:   targetID,
		RequestID:  origin.requestID,
		Parameters: "{}",
		Status:     StatusSuccess,
		DurationMs: duration.Milliseconds(),
	}
	if params != nil {
		if b, jerr := json.Marshal(params); jerr == nil {
			e.Parameters = string(b)
		}
	}
	if err != nil {
		e.Status = StatusError
		e.ErrorMessage = err.Error()
	}
	return e
}

// Log inserts an entry. The write survives cancellation of ctx so that an
// aborted request still leaves its trace.
func (l *Logger) Log(ctx context.Context, e *Entry) error {
	_, err := l.db.ExecContext(context.WithoutCancel(ctx), `INSERT INTO audit_log
		(entry_id, timestamp, source, operation, target_id, request_id,
		 parameters, status, error_message, duration_ms)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Timestamp.UnixMilli(), e.Source, e.Operation, e.TargetID, e.RequestID,
		e.Parameters, e.Status, e.ErrorMessage, e.DurationMs)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// Record builds and logs an entry, logging instead of returning a write
// failure.
func (l *Logger) Record(ctx context.Context, operation, targetID string, params any, err error, start time.Time) {
	e := l.NewEntry(ctx, operation, targetID, params, err, time.Since(start))
	if lerr := l.Log(ctx, e); lerr != nil {
		l.logger.Warn("audit: entry dropped", "operation", operation, "target_id", targetID, "error", lerr)
	}
}

// Query returns entries matching f, newest first.
func (l *Logger) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	q := `SELECT entry_id, timestamp, source, operation, target_id, request_id,
		parameters, status, error_message, duration_ms
		FROM audit_log WHERE 1=1`
	var args []any

	if f.Source != "" {
		q += " AND source = ?"
		args = append(args, f.Source)
	}
	if f.Operation != "" {
		q += " AND operation = ?"
		args = append(args, f.Operation)
	}
	if f.TargetID != "" {
		q += " AND target_id = ?"
		args = append(args, f.TargetID)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.Since != nil {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UnixMilli())
	}

	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	// entry_id is a UUIDv7, so it breaks same-millisecond ties in insert order.
	q += " ORDER BY timestamp DESC, entry_id DESC LIMIT ?"
	args = append(args, limit)
	if f.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.Source, &e.Operation, &e.TargetID, &e.RequestID,
			&e.Parameters, &e.Status, &e.ErrorMessage, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than retentionDays and returns the count removed.
func (l *Logger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	res, err := l.db.ExecContext(ctx, "DELETE FROM audit_log WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("audit: cleanup: %w", err)
	}
	return res.RowsAffected()
}
