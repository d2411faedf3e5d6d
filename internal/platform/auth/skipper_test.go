package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAuthSkipper(t *testing.T) {
	tests := []struct {
		path   string
		public bool
	}{
		{"/health", true},
		{"/health/db", true},
		{"/metrics", true},
		{"/api/v1/persons/:id/episode", false},
		{"/api/v1/reconcile/:policy", false},
		{"/", false},
		{"/health/extra", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			e := echo.New()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
			c.SetPath(tt.path)
			if got := AuthSkipper(c); got != tt.public {
				t.Errorf("AuthSkipper(%s) = %v, want %v", tt.path, got, tt.public)
			}
		})
	}
}

func TestIsPublicPath(t *testing.T) {
	if !IsPublicPath("/health") {
		t.Error("expected /health to be public")
	}
	if IsPublicPath("/api/v1/cases/:id/person") {
		t.Error("expected case lookups to NOT be public")
	}
}

func TestJWTMiddleware_SkipsPublicPaths(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())
	c.SetPath("/health")

	h := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})(ok)
	if err := h(c); err != nil {
		t.Errorf("expected public path to skip auth, got %v", err)
	}
}
