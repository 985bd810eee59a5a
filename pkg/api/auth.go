// API authentication middleware: static bearer token.
//
// When gateway.api_key is non-empty, status and event-stream requests MUST
// carry:
//
//	Authorization: Bearer <api_key>
//
// or:
//
//	X-API-Key: <api_key>
//
// Exempt routes (no token required):
//   - GET  /api/health
//   - POST /webhook/telegram  (guarded by the platform secret token instead)
//
// WebSocket upgrade requests check the token in the query param as fallback:
//
//	ws://host/api/ws?token=<api_key>
//
// When api_key is empty, all requests are allowed through and a warning is
// logged once at startup.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/teleclerk/teleclerk/pkg/logger"
)

// authMiddleware wraps a handler with bearer token checking.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		logger.WarnC("auth", "API auth disabled — set gateway.api_key to protect status endpoints")
		return next
	}

	logger.InfoC("auth", "API bearer token auth enabled")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if !tokenValid(extractToken(r), apiKey) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="teleclerk"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid API token"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isPublicPath(path string) bool {
	return path == "/api/health" || strings.HasPrefix(path, "/webhook/")
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if h := r.Header.Get("X-API-Key"); h != "" {
		return h
	}
	// WebSocket clients cannot set headers from browsers; allow query param.
	return r.URL.Query().Get("token")
}

func tokenValid(token, apiKey string) bool {
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) == 1
}
