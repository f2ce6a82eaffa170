// CLAUDE:SUMMARY JSON API middleware for pagekeeper: read-only switch, security headers, body cap, trace IDs, HEAD handling.
// Package shield provides the HTTP middleware stack shared by the pagekeeper
// API.
//
// Usage:
//
//	ro := shield.NewReadOnly(cfg.ReadOnly, "/healthz")
//	for _, mw := range shield.DefaultAPIStack(ro) {
//	    r.Use(mw)
//	}
package shield

import (
	"encoding/json"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultBodyLimit caps JSON request bodies.
const DefaultBodyLimit int64 = 1 << 20

// DefaultAPIStack returns the standard middleware stack for the JSON API.
// Order: ReadOnly → HeadToGet → SecurityHeaders → MaxJSONBody → TraceID.
func DefaultAPIStack(ro *ReadOnly) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		ro.Middleware,
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		MaxJSONBody(DefaultBodyLimit),
		TraceID,
	}
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
