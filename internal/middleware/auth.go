package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// CookieName is the session cookie set by the login handler.
const CookieName = "authenticated"

// SessionToken derives the cookie value from the configured password, so a
// password change invalidates every session.
func SessionToken(password string) string {
	sum := sha256.Sum256([]byte("trafficcounter:" + password))
	return hex.EncodeToString(sum[:])
}

// AuthMiddleware rejects requests without a valid session cookie. An empty
// password disables authentication.
func AuthMiddleware(password string, next http.Handler) http.Handler {
	if password == "" {
		return next
	}
	token := []byte(SessionToken(password))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(CookieName)
		if err != nil || subtle.ConstantTimeCompare([]byte(cookie.Value), token) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isPublic(path string) bool {
	return path == "/auth/login" ||
		path == "/healthz" ||
		path == "/metrics" ||
		strings.HasPrefix(path, "/static/")
}
