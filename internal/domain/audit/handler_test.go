package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medvault/medvault/internal/domain"
	"github.com/medvault/medvault/internal/platform/auth"
)

func newTestHandler() (*Handler, *Service, *echo.Echo) {
	svc, _, _, _ := newTestService()
	return NewHandler(svc), svc, echo.New()
}

func authedRequest(method, target string, p *auth.Principal) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(auth.WithPrincipal(req.Context(), p))
}

func TestHandler_MyAuditLogs(t *testing.T) {
	h, svc, e := newTestHandler()
	p := &auth.Principal{AccountID: uuid.New(), Role: domain.RolePatient}
	_ = svc.Append(context.Background(), New(p.AccountID, domain.ActionQRGenerated, domain.TargetQR, "q", nil))
	_ = svc.Append(context.Background(), New(p.AccountID, domain.ActionProfileUpdated, domain.TargetProfile, "p", nil))

	rec := httptest.NewRecorder()
	c := e.NewContext(authedRequest(http.MethodGet, "/api/patient/audit-logs?action=qr_generated", p), rec)
	if err := h.MyAuditLogs(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var items []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0]["action"] != "qr_generated" {
		t.Errorf("unexpected items %v", items)
	}
}

func TestHandler_MyAuditLogs_BadAction(t *testing.T) {
	h, _, e := newTestHandler()
	p := &auth.Principal{AccountID: uuid.New(), Role: domain.RolePatient}
	c := e.NewContext(authedRequest(http.MethodGet, "/api/patient/audit-logs?action=nope", p), httptest.NewRecorder())

	err := h.MyAuditLogs(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_MyAuditLogs_Unauthenticated(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/patient/audit-logs", nil), httptest.NewRecorder())
	err := h.MyAuditLogs(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestHandler_RecentAuditLogs_EmptyIsArray(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/admin/audit-logs", nil), rec)
	if err := h.RecentAuditLogs(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("expected empty JSON array, got %q", body)
	}
}
