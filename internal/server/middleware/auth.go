// Package middleware provides the HTTP middleware chain: CORS, request
// logging, per-client rate limiting, and API-key authentication.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// healthPath stays open so load balancers can probe without credentials.
const healthPath = "/api/health"

// Auth returns middleware that checks each request for the configured API
// key, presented either as a Bearer token or in X-API-Key. An empty apiKey
// disables the check entirely.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || r.URL.Path == healthPath {
				next.ServeHTTP(w, r)
				return
			}

			token := requestToken(r)
			if token == "" {
				unauthorized(w, "missing authentication token")
				return
			}
			// Compare in constant time regardless of where the token came from.
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				unauthorized(w, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requestToken pulls the credential out of the request: a Bearer token wins,
// X-API-Key is the fallback. Scheme matching is case-insensitive.
func requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, rest, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
