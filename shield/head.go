package shield

import "net/http"

// HeadToGet serves HEAD through the GET routes so uptime checks can probe
// /healthz or /webpages/{id} without dedicated handlers. Handlers still see
// GET; the body they write is dropped and only status and headers go out.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		r.Method = http.MethodGet
		next.ServeHTTP(headWriter{w}, r)
	})
}

type headWriter struct {
	http.ResponseWriter
}

func (w headWriter) Write(p []byte) (int, error) { return len(p), nil }
