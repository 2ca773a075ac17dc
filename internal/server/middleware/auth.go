package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth requires the API key, as a Bearer token or in X-API-Key, on every
// request except the paths in open. An empty key disables the check.
func Auth(apiKey string, open ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || isOpen(r.URL.Path, open) || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if !keyMatches(extractToken(r), apiKey) {
				writeJSONError(w, http.StatusUnauthorized, "invalid or missing api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireKey guards a single route with its own key, read from
// X-Admin-Key. An empty key closes the route entirely.
func RequireKey(key string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key == "" {
			writeJSONError(w, http.StatusForbidden, "admin endpoint disabled")
			return
		}
		if !keyMatches(strings.TrimSpace(r.Header.Get("X-Admin-Key")), key) {
			writeJSONError(w, http.StatusForbidden, "invalid admin key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func keyMatches(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func isOpen(path string, open []string) bool {
	for _, p := range open {
		if path == p {
			return true
		}
	}
	return false
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
