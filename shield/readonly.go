package shield

import (
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
)

// ReadOnly rejects mutating requests with 405 while active. The flag can be
// flipped at runtime; safe methods and excluded path prefixes always pass.
type ReadOnly struct {
	active  atomic.Bool
	exclude []string
}

// NewReadOnly creates the switch in the given state. Paths matching any of
// excludePrefixes are never blocked.
func NewReadOnly(active bool, excludePrefixes ...string) *ReadOnly {
	ro := &ReadOnly{exclude: excludePrefixes}
	ro.active.Store(active)
	return ro
}

// Active reports whether read-only mode is on.
func (ro *ReadOnly) Active() bool {
	return ro.active.Load()
}

// Set turns read-only mode on or off.
func (ro *ReadOnly) Set(active bool) {
	if ro.active.Swap(active) != active {
		if active {
			slog.Warn("readonly: mode ENABLED")
		} else {
			slog.Info("readonly: mode DISABLED")
		}
	}
}

// Middleware blocks non-GET/HEAD/OPTIONS requests with 405 while active.
func (ro *ReadOnly) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ro.active.Load() || safeMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		for _, prefix := range ro.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("Allow", "GET, HEAD, OPTIONS")
		writeDetail(w, http.StatusMethodNotAllowed, "read-only mode")
	})
}

func safeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
