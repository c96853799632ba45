package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// BearerAuth is the devserver's credential check. The dev scheme is
// deliberately trivial — the bearer token IS the user id — because the
// production backend owns real authentication; the SDK only needs a
// server that honors the same header.
func BearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		token = strings.TrimSpace(token)
		if token == "" {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "missing bearer token"})
			return
		}
		ctx := context.WithValue(r.Context(), UserIDKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
