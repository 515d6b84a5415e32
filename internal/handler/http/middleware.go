package http

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey string

const (
	ownerIDKey contextKey = "owner_id"
	tokenKey   contextKey = "token"
)

// ResolveCartOwner identifies whose cart a request targets. Authenticated
// requests carry X-User-ID (injected by the API gateway after JWT
// validation); guests carry a client-generated X-Session-ID. A request with
// neither is rejected, since there is no cart to act on.
//
// The bearer token, when present, is stashed alongside so the service layer
// can mirror authenticated mutations to the account API.
func ResolveCartOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.Header.Get("X-User-ID")
		if ownerID == "" {
			ownerID = r.Header.Get("X-Session-ID")
		}
		if ownerID == "" {
			writeJSON(w, http.StatusUnauthorized, response{
				Error: &errorResponse{Code: "UNAUTHORIZED", Message: "X-User-ID or X-Session-ID header is required"},
			})
			return
		}

		ctx := context.WithValue(r.Context(), ownerIDKey, ownerID)
		if token := bearerToken(r); token != "" {
			ctx = context.WithValue(ctx, tokenKey, token)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ownerIDFromContext returns the cart owner resolved by ResolveCartOwner.
func ownerIDFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerIDKey).(string)
	return owner
}

// tokenFromContext returns the bearer token, or "" for guest requests.
func tokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnsupportedMediaType)
				_, _ = w.Write([]byte(`{"error":{"code":"UNSUPPORTED_MEDIA_TYPE","message":"Content-Type must be application/json"}}`))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
