package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func withRoles(roles ...string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, roles))
	return e.NewContext(req, httptest.NewRecorder())
}

func TestRequireRole_Allowed(t *testing.T) {
	c := withRoles(RoleDataManager)
	if err := RequireRole(RoleAdmin, RoleDataManager)(ok)(c); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	c := withRoles(RoleViewer)
	err := RequireRole(RoleAdmin, RoleDataManager)(ok)(c)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_NoRoles(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	expectStatus(t, RequireRole(RoleViewer)(ok)(c), http.StatusForbidden)
}

func TestRequireRole_AdminBypass(t *testing.T) {
	c := withRoles(RoleAdmin)
	if err := RequireRole(RoleViewer)(ok)(c); err != nil {
		t.Error("admin should bypass role checks")
	}
}

func TestHasRole(t *testing.T) {
	tests := []struct {
		granted  []string
		required []string
		want     bool
	}{
		{[]string{"viewer"}, []string{"viewer"}, true},
		{[]string{"viewer"}, []string{"data-manager"}, false},
		{[]string{"admin"}, []string{"data-manager"}, true},
		{nil, []string{"viewer"}, false},
		{[]string{"viewer", "data-manager"}, []string{"data-manager"}, true},
	}
	for _, tt := range tests {
		if got := HasRole(tt.granted, tt.required...); got != tt.want {
			t.Errorf("HasRole(%v, %v) = %v, want %v", tt.granted, tt.required, got, tt.want)
		}
	}
}

func TestUserIDFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), UserIDKey, "user-123")
	if uid := UserIDFromContext(ctx); uid != "user-123" {
		t.Errorf("expected user-123, got %s", uid)
	}
	if empty := UserIDFromContext(context.Background()); empty != "" {
		t.Errorf("expected empty string, got %s", empty)
	}
}
