package runner

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/hazyhaar/pricewatch/pagekeeper/internal/scrape"
)

// LogStore is the subset of persistence RunLogger writes through.
type LogStore interface {
	InsertPageLog(ctx context.Context, pageID, status, message, trigger string) (string, error)
	UpdatePageLog(ctx context.Context, id, status, message string) error
	InsertElementLog(ctx context.Context, pageLogID, elementID, status, message string) error
}

const (
	provisionalStatus  = scrape.StatusFailure
	provisionalMessage = "run in progress"
)

// RunLogger writes the page-level and element-level run logs. Write errors
// are logged and swallowed so a broken log table never aborts a run.
type RunLogger struct {
	store  LogStore
	logger *slog.Logger
}

// NewRunLogger creates a RunLogger.
func NewRunLogger(s LogStore, logger *slog.Logger) *RunLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunLogger{store: s, logger: logger}
}

// Failed writes the single log row of a page whose load failed.
func (l *RunLogger) Failed(ctx context.Context, pageID, trigger, message string) string {
	id, err := l.store.InsertPageLog(context.WithoutCancel(ctx), pageID, string(scrape.StatusFailure), message, trigger)
	if err != nil {
		l.logger.Error("runlog: insert page log", "page_id", pageID, "error", err)
		return ""
	}
	return id
}

// Open writes a provisional page log and returns its ID, or "" when the
// write failed.
func (l *RunLogger) Open(ctx context.Context, pageID, trigger string) string {
	id, err := l.store.InsertPageLog(context.WithoutCancel(ctx), pageID, string(provisionalStatus), provisionalMessage, trigger)
	if err != nil {
		l.logger.Error("runlog: insert page log", "page_id", pageID, "error", err)
		return ""
	}
	return id
}

// Element records one element outcome under logID.
func (l *RunLogger) Element(ctx context.Context, logID string, o *ElementOutcome) {
	if logID == "" {
		return
	}
	msg := o.Error
	if o.Status == scrape.StatusSuccess {
		msg = strconv.FormatFloat(*o.Value, 'f', -1, 64)
	}
	if err := l.store.InsertElementLog(context.WithoutCancel(ctx), logID, o.ElementID, string(o.Status), msg); err != nil {
		l.logger.Error("runlog: insert element log", "log_id", logID, "element_id", o.ElementID, "error", err)
	}
}

// Close finalizes the page log opened by Open.
func (l *RunLogger) Close(ctx context.Context, logID string, status scrape.Status, message string) {
	if logID == "" {
		return
	}
	if err := l.store.UpdatePageLog(context.WithoutCancel(ctx), logID, string(status), message); err != nil {
		l.logger.Error("runlog: update page log", "log_id", logID, "error", err)
	}
}
