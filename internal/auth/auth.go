// Package auth implements static API key authentication for the gateway's
// API routes. Keys come from configuration; an empty key list disables
// authentication entirely, which is the expected mode for on-box deployments.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	apperrors "github.com/edgeai/rag-gateway/pkg/errors"
)

// Middleware checks the request's API key against the configured set. The
// key is read from the Authorization bearer token or the X-API-Key header.
// Comparison is constant-time per key.
func Middleware(apiKeys []string, reject func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(apiKeys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractKey(r)
			if key == "" || !matches(key, apiKeys) {
				reject(w, r, apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, "invalid or missing API key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return token
		}
	}
	return r.Header.Get("X-API-Key")
}

func matches(key string, apiKeys []string) bool {
	for _, k := range apiKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
			return true
		}
	}
	return false
}
