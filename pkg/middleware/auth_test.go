package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-live/studio-service/pkg/jwt"
)

func newRouter(t *testing.T) (*gin.Engine, *jwt.Verifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	v, err := jwt.NewVerifier("secret", "")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	r := gin.New()
	r.GET("/me", NewAuthMiddleware(v).RequireAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, GetUserID(c)+"/"+GetUsername(c))
	})
	return r, v
}

func TestRequireAuth(t *testing.T) {
	r, v := newRouter(t)
	token, err := v.Sign("user-1", "alice", nil, time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	tests := []struct {
		name   string
		header string
		query  string
		status int
		body   string
	}{
		{name: "bearer header", header: "Bearer " + token, status: http.StatusOK, body: "user-1/alice"},
		{name: "query token", query: "?token=" + token, status: http.StatusOK, body: "user-1/alice"},
		{name: "missing", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer nope", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set(AuthHeaderKey, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d (%s)", tt.status, w.Code, w.Body.String())
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Errorf("expected body %q, got %q", tt.body, w.Body.String())
			}
		})
	}
}
