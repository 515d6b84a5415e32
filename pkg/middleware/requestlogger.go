package middleware

import (
	"log/slog"
	"net/http"

	"github.com/velocore/cart-service/pkg/logger"
)

// RequestLogger builds a request-scoped logger enriched with correlation_id,
// owner_id, trace_id, and span_id and stores it in context via
// logger.NewContext. Downstream handlers retrieve it with
// logger.FromContext(ctx).
//
// Mount it after RequestLogging (which sets the correlation ID) and Tracing
// (which sets the span context).
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// The cart owner is either the gateway-injected user ID or
			// the guest session ID.
			ownerID := r.Header.Get("X-User-ID")
			if ownerID == "" {
				ownerID = r.Header.Get("X-Session-ID")
			}
			if ownerID != "" {
				ctx = logger.WithOwnerID(ctx, ownerID)
			}

			enriched := logger.WithContext(ctx, base)
			ctx = logger.NewContext(ctx, enriched)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
