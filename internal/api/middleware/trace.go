package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

const traceHeader = "X-Trace-ID"

// Inbound trace ids are echoed into logs and problem documents, so only a safe alphabet
// is accepted.
var validTraceID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// TraceMiddleware propagates the caller's X-Trace-ID, or mints one, through the request
// context and the response header.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if !validTraceID.MatchString(traceID) {
			traceID = uuid.NewString()
			r.Header.Set(traceHeader, traceID)
		}
		w.Header().Set(traceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(contextWithTraceID(r.Context(), traceID)))
	})
}

func contextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceContextKey, traceID)
}
