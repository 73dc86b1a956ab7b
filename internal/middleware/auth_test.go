package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func request(h http.Handler, path string, cookie *http.Cookie) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestAuthMiddleware_EmptyPasswordDisablesAuth(t *testing.T) {
	h := AuthMiddleware("", okHandler())
	assert.Equal(t, http.StatusOK, request(h, "/api/stats", nil))
}

func TestAuthMiddleware(t *testing.T) {
	h := AuthMiddleware("secret", okHandler())

	tests := []struct {
		name   string
		path   string
		cookie *http.Cookie
		want   int
	}{
		{"no cookie", "/api/stats", nil, http.StatusUnauthorized},
		{"wrong cookie", "/api/stats", &http.Cookie{Name: CookieName, Value: "true"}, http.StatusUnauthorized},
		{"raw password", "/api/stats", &http.Cookie{Name: CookieName, Value: "secret"}, http.StatusUnauthorized},
		{"valid session", "/api/stats", &http.Cookie{Name: CookieName, Value: SessionToken("secret")}, http.StatusOK},
		{"login is public", "/auth/login", nil, http.StatusOK},
		{"health is public", "/healthz", nil, http.StatusOK},
		{"metrics is public", "/metrics", nil, http.StatusOK},
		{"static is public", "/static/app.js", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, request(h, tt.path, tt.cookie))
		})
	}
}

func TestSessionToken_ChangesWithPassword(t *testing.T) {
	assert.Equal(t, SessionToken("a"), SessionToken("a"))
	assert.NotEqual(t, SessionToken("a"), SessionToken("b"))
}
