// Package mid provides HTTP middleware: handler middleware for the metrics
// endpoint and round-tripper middleware for outbound fetches.
package mid

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Middleware is a function that wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares to a handler left-to-right (first middleware is outermost).
func Chain(h http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// scrapeWriter records the status and size of a response.
type scrapeWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *scrapeWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *scrapeWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// ScrapeLog logs each request against the metrics endpoint of the process
// running stage. Successful scrapes log at debug, anything else warns.
func ScrapeLog(log *slog.Logger, stage string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &scrapeWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			if sw.status == 0 {
				sw.status = http.StatusOK
			}
			attrs := []any{
				"stage", stage,
				"path", r.URL.Path,
				"status", sw.status,
				"bytes", sw.bytes,
				"scraper", r.UserAgent(),
				"duration", time.Since(start),
			}
			if sw.status != http.StatusOK {
				log.Warn("metrics.request", attrs...)
				return
			}
			log.Debug("metrics.scrape", attrs...)
		})
	}
}

// Recover turns a panic while serving stage's metrics into a 500.
func Recover(log *slog.Logger, stage string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("metrics.panic", "stage", stage, "path", r.URL.Path, "error", fmt.Sprintf("%v", err))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
