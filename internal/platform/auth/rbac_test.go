package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func requestWithRoles(e *echo.Echo, roles []string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	ctx := context.WithValue(req.Context(), UserRolesKey, roles)
	c.SetRequest(req.WithContext(ctx))
	return c, rec
}

func TestRequireRole_Allows(t *testing.T) {
	e := echo.New()
	c, _ := requestWithRoles(e, []string{"auditor"})

	handler := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	if err := RequireRole("auditor")(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_AdminAlwaysAllowed(t *testing.T) {
	e := echo.New()
	c, _ := requestWithRoles(e, []string{"admin"})

	handler := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	if err := RequireRole("auditor")(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_Denies(t *testing.T) {
	e := echo.New()
	c, _ := requestWithRoles(e, []string{"importer"})

	handler := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	err := RequireRole("auditor")(handler)(c)
	if err == nil {
		t.Fatal("expected forbidden error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestRequireRole_NoRoles(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	if err := RequireRole("auditor")(handler)(c); err == nil {
		t.Fatal("expected forbidden error for anonymous request")
	}
}
