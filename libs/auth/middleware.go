package auth

import (
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/slotguard/libs/httpx"
)

// RequireActor rejects requests without a valid bearer token and replaces the actor
// header with the token's actor, so callers cannot act for someone else.
func RequireActor(v *Verifier, skip func(*http.Request) bool) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip != nil && skip(r) {
				next.ServeHTTP(w, r)
				return
			}
			authHeader := r.Header.Get("Authorization")
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			if !strings.HasPrefix(authHeader, "Bearer ") || token == "" {
				http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			claims, err := v.Verify(r.Context(), token)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			q := r.URL.Query()
			if q.Has("actor_id") {
				q.Del("actor_id")
				r.URL.RawQuery = q.Encode()
			}
			r.Header.Set(httpx.ActorHeader, claims.Actor())
			next.ServeHTTP(w, r)
		})
	}
}
