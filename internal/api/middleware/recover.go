package middleware

import (
	"net/http"

	"github.com/ayo6706/ledger-engine/internal/api/problem"
	"go.uber.org/zap"
)

// RecoverMiddleware turns a handler panic into a 500 problem document. http.ErrAbortHandler
// is re-raised so net/http can drop the connection as intended.
func RecoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				fields := []zap.Field{
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("route", routePattern(r)),
					zap.String("trace_id", TraceIDFromContext(r.Context())),
					zap.Stack("stack"),
				}
				if entry := requestLogFromContext(r.Context()); entry != nil && entry.userID != "" {
					fields = append(fields, zap.String("user_id", entry.userID))
				}
				logger.Error("handler panic", fields...)

				problem.Write(w, r, http.StatusInternalServerError, problem.Type("internal-server-error"),
					http.StatusText(http.StatusInternalServerError), "unexpected server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
