package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/catalogsync/pkg/logger"
)

// SyncIDHeader lets an operator tie a request to an existing sync log.
const SyncIDHeader = "X-Sync-ID"

// RequestLogger stores a request-scoped logger in the context, enriched with
// correlation_id, sync_id and the active span. Mount after RequestLogging and
// Tracing.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := r.Header.Get(SyncIDHeader); id != "" {
				ctx = logger.WithSyncID(ctx, id)
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
