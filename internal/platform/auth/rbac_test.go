package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func requestWithRoles(roles []string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), UserRolesKey, roles)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec)
}

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	c := requestWithRoles([]string{"analyst"})

	called := false
	handler := RequireRole("analyst")(func(c echo.Context) error {
		called = true
		return nil
	})
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}

func TestRequireRoleAdminOverride(t *testing.T) {
	c := requestWithRoles([]string{"admin"})

	called := false
	handler := RequireRole("billing_manager")(func(c echo.Context) error {
		called = true
		return nil
	})
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("admin should satisfy any role requirement")
	}
}

func TestRequireRoleForbidsMissingRole(t *testing.T) {
	c := requestWithRoles([]string{"viewer"})

	handler := RequireRole("analyst", "billing_manager")(func(c echo.Context) error {
		t.Fatal("handler should not be called")
		return nil
	})
	err := handler(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403 HTTPError, got %v", err)
	}
}

func TestRequireRoleNoRoles(t *testing.T) {
	c := requestWithRoles(nil)

	handler := RequireRole("analyst")(func(c echo.Context) error {
		t.Fatal("handler should not be called")
		return nil
	})
	err := handler(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403 HTTPError, got %v", err)
	}
}
