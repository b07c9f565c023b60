package middleware

import (
	"net/http"
	"time"

	"github.com/ayo6706/ledger-engine/internal/observability"
	"github.com/go-chi/chi/v5"
)

// MetricsMiddleware observes request latency labelled by chi route pattern, which keeps
// account ids out of the label set.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		observability.ObserveHTTP(r.Method, routePattern(r), rw.status, time.Since(start))
	})
}

// routePattern falls back to "unmatched" rather than the raw path for 404s.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
