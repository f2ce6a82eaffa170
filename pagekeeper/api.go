// CLAUDE:SUMMARY chi JSON API: page and element CRUD, run logs, values, manual runs, schedules, audit trail, preview and locator validation.
package pagekeeper

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/pricewatch/pagekeeper/internal/audit"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/extract"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/runner"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/scrape"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/store"
	"github.com/hazyhaar/pricewatch/shield"
)

const (
	defaultLogLimit  = 50
	defaultDataLimit = 100
)

// Handler returns the HTTP API.
func (k *Keeper) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(auditOrigin)
	for _, mw := range shield.DefaultAPIStack(shield.NewReadOnly(k.config.ReadOnly, "/healthz")) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		st, err := k.Stats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 200, st)
	})

	r.Get("/config", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]bool{"read_only_mode": k.config.ReadOnly})
	})

	r.Route("/webpages", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			pages, err := k.ListPages(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, 200, pages)
		})

		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var in PageInput
			if !decode(w, r, &in) {
				return
			}
			p, err := k.AddPage(r.Context(), in)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, 201, p)
		})

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				p, err := k.GetPage(r.Context(), chi.URLParam(r, "id"))
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, 200, p)
			})

			r.Put("/", func(w http.ResponseWriter, r *http.Request) {
				var in PageInput
				if !decode(w, r, &in) {
					return
				}
				p, changed, err := k.ReplacePage(r.Context(), chi.URLParam(r, "id"), in)
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, 200, map[string]any{"webpage": p, "updated": changed})
			})

			r.Patch("/", func(w http.ResponseWriter, r *http.Request) {
				var in PageInput
				if !decode(w, r, &in) {
					return
				}
				p, changed, err := k.PatchPage(r.Context(), chi.URLParam(r, "id"), in)
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, 200, map[string]any{"webpage": p, "updated": changed})
			})

			r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				if err := k.DeletePage(r.Context(), chi.URLParam(r, "id")); err != nil {
					writeError(w, err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})

			r.Get("/elements", func(w http.ResponseWriter, r *http.Request) {
				els, err := k.ListPageElements(r.Context(), chi.URLParam(r, "id"))
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, 200, els)
			})

			r.Get("/logs", func(w http.ResponseWriter, r *http.Request) {
				logs, err := k.PageLogs(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", defaultLogLimit))
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, 200, logs)
			})

			r.Post("/run", func(w http.ResponseWriter, r *http.Request) {
				rep, err := k.RunPage(r.Context(), chi.URLParam(r, "id"))
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, 200, rep)
			})
		})
	})

	r.Route("/elements", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			els, err := k.ListElements(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, 200, els)
		})

		// POST /elements/{webpageID} creates; the other verbs address an element ID.
		r.Post("/{id}", func(w http.ResponseWriter, r *http.Request) {
			var in ElementInput
			if !decode(w, r, &in) {
				return
			}
			e, err := k.AddElement(r.Context(), chi.URLParam(r, "id"), in)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, 201, e)
		})

		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			e, err := k.GetElement(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, 200, e)
		})

		r.Put("/{id}", func(w http.ResponseWriter, r *http.Request) {
			var in ElementInput
			if !decode(w, r, &in) {
				return
			}
			e, changed, err := k.ReplaceElement(r.Context(), chi.URLParam(r, "id"), in)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, 200, map[string]any{"element": e, "updated": changed})
		})

		r.Patch("/{id}", func(w http.ResponseWriter, r *http.Request) {
			var in ElementInput
			if !decode(w, r, &in) {
				return
			}
			e, changed, err := k.PatchElement(r.Context(), chi.URLParam(r, "id"), in)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, 200, map[string]any{"element": e, "updated": changed})
		})

		r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
			if err := k.DeleteElement(r.Context(), chi.URLParam(r, "id")); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Get("/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
			logs, err := k.ElementLogs(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", defaultLogLimit))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, 200, logs)
		})

		r.Get("/{id}/data", func(w http.ResponseWriter, r *http.Request) {
			values, err := k.ElementData(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", defaultDataLimit))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, 200, values)
		})
	})

	r.Post("/run-active-scrapes", func(w http.ResponseWriter, r *http.Request) {
		rep, err := k.RunActive(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 200, rep)
	})

	r.Get("/schedules", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, k.Schedules())
	})

	r.Get("/audit", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		entries, err := k.AuditLog(r.Context(), AuditFilter{
			Source:    q.Get("source"),
			Operation: q.Get("operation"),
			TargetID:  q.Get("target_id"),
			Status:    q.Get("status"),
			Limit:     queryInt(r, "limit", 0),
			Offset:    queryInt(r, "offset", 0),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		if entries == nil {
			entries = []*AuditEntry{}
		}
		writeJSON(w, 200, entries)
	})

	r.Get("/preview", func(w http.ResponseWriter, r *http.Request) {
		url := r.URL.Query().Get("url")
		if url == "" {
			writeJSON(w, 400, map[string]string{"detail": "url is required"})
			return
		}
		format := r.URL.Query().Get("format")
		out, err := k.Preview(r.Context(), url, format)
		if err != nil {
			writeError(w, err)
			return
		}
		if format == FormatMarkdown {
			w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		} else {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		}
		w.WriteHeader(200)
		w.Write([]byte(out))
	})

	r.Post("/validate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL      string   `json:"url"`
			Locators []string `json:"locators"`
		}
		if !decode(w, r, &req) {
			return
		}
		rep, err := k.Validate(r.Context(), req.URL, req.Locators)
		if err != nil {
			writeError(w, err)
			return
		}
		if len(rep.Missing) > 0 {
			writeJSON(w, 404, map[string]any{
				"detail":  "A locator matched no element on the page.",
				"type":    "not_found",
				"locator": rep.Missing[0],
				"missing": rep.Missing,
			})
			return
		}
		writeJSON(w, 200, rep.Locators)
	})

	return r
}

// auditOrigin tags the request context so audit entries carry the API
// source and the chi request id.
func auditOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := audit.WithOrigin(r.Context(), audit.SourceAPI, middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	var conflict *store.ConflictError
	var parse *runner.LocatorParseError
	var fetchErr *scrape.FetchError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, 409, map[string]string{"detail": conflict.Detail, "field": conflict.Field, "value": conflict.Value})
	case errors.As(err, &parse):
		writeJSON(w, 400, map[string]string{
			"detail":  "A scraped elements value couldn't be converted to a number.",
			"type":    "value_error",
			"locator": parse.Locator,
			"value":   parse.Value,
		})
	case errors.Is(err, store.ErrNotFound):
		writeDetail(w, 404, "Not found")
	case errors.Is(err, store.ErrInvalid), errors.Is(err, extract.ErrInvalidLocator):
		writeDetail(w, 400, err.Error())
	case errors.Is(err, scrape.ErrRobotsDisallowed):
		writeDetail(w, 403, "Blocked by robots.txt")
	case errors.As(err, &fetchErr):
		writeDetail(w, 502, err.Error())
	default:
		writeDetail(w, 500, err.Error())
	}
}

// decode reads a JSON body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeDetail(w, 400, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
