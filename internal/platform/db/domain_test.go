package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestExtractDomain_Priority(t *testing.T) {
	tests := []struct {
		name   string
		jwt    string
		header string
		query  string
		want   string
	}{
		{"default", "", "", "", "enikshay"},
		{"query", "", "", "enikshay-test", "enikshay-test"},
		{"header over query", "", "enikshay-nikshay", "enikshay-test", "enikshay-nikshay"},
		{"jwt over header", "enikshay-private", "enikshay-nikshay", "", "enikshay-private"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			target := "/"
			if tt.query != "" {
				target += "?domain=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("X-Domain", tt.header)
			}
			c := e.NewContext(req, httptest.NewRecorder())
			if tt.jwt != "" {
				c.Set("jwt_domain", tt.jwt)
			}
			if got := extractDomain(c, "enikshay"); got != tt.want {
				t.Errorf("extractDomain() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidDomain(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"enikshay", true},
		{"enikshay-test-3", true},
		{"icds-cas", true},
		{"a", true},
		{"", false},
		{"-leading", false},
		{"Upper", false},
		{"a b", false},
		{"a.b", false},
		{"'; DROP TABLE", false},
	}
	for _, tt := range tests {
		if got := ValidDomain(tt.input); got != tt.valid {
			t.Errorf("ValidDomain(%q) = %v, want %v", tt.input, got, tt.valid)
		}
	}
}

func TestDomainMiddleware_SetsContext(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Domain", "enikshay-test")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen string
	h := DomainMiddleware("enikshay")(func(c echo.Context) error {
		seen = DomainFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "enikshay-test" {
		t.Errorf("expected enikshay-test, got %q", seen)
	}
}

func TestDomainMiddleware_RejectsInvalid(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Domain", "bad domain")
	c := e.NewContext(req, httptest.NewRecorder())

	h := DomainMiddleware("enikshay")(func(c echo.Context) error {
		t.Fatal("handler should not be called")
		return nil
	})
	err := h(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", httpErr.Code)
	}
}

func TestDomainFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DomainKey, 12345)
	if d := DomainFromContext(ctx); d != "" {
		t.Errorf("expected empty domain, got %q", d)
	}
}
