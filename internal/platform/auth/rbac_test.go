package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medvault/medvault/internal/domain"
)

func callWithRole(t *testing.T, role domain.Role, required ...domain.Role) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if role != "" {
		req = req.WithContext(WithPrincipal(req.Context(), &Principal{AccountID: uuid.New(), Role: role}))
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequireRole(required...)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return rec, h(c)
}

func TestRequireRole_Allowed(t *testing.T) {
	rec, err := callWithRole(t, domain.RoleDoctor, domain.RoleDoctor, domain.RoleHospital)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	if _, err := callWithRole(t, domain.RoleAdmin, domain.RoleEmergencyResponder); err != nil {
		t.Errorf("expected admin to pass, got %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	_, err := callWithRole(t, domain.RolePatient, domain.RoleDoctor)
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T", err)
	}
	if he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", he.Code)
	}
}

func TestRequireRole_NoPrincipal(t *testing.T) {
	_, err := callWithRole(t, "", domain.RoleDoctor)
	if err == nil {
		t.Error("expected error without principal")
	}
}

func TestCheckRole(t *testing.T) {
	p := &Principal{Role: domain.RoleHospital}
	if err := CheckRole(p, domain.RoleHospital); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := CheckRole(p, domain.RoleAdmin); err == nil {
		t.Error("expected hospital to fail admin check")
	}
	if err := CheckRole(nil, domain.RolePatient); err == nil {
		t.Error("expected nil principal to fail")
	}
}
