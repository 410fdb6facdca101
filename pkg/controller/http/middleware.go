package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/ctxlog"
)

// LoggingMiddleware emits one log line per request after the handler
// returns. Webhook deliveries additionally carry their X-GitHub-Delivery ID
// so a delivery can be traced through to the runs it dispatched.
func LoggingMiddleware(ctx context.Context) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			logger := ctxlog.From(ctx)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				attrs := []any{
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				}
				if delivery := r.Header.Get("X-GitHub-Delivery"); delivery != "" {
					attrs = append(attrs, "delivery_id", delivery)
				}
				logger.Info("HTTP request", attrs...)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
