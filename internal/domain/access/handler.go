package access

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medvault/medvault/internal/domain"
	"github.com/medvault/medvault/internal/platform/apperr"
	"github.com/medvault/medvault/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

var professionals = []domain.Role{
	domain.RoleDoctor, domain.RoleHospital, domain.RoleEmergencyResponder, domain.RoleInsuranceProvider,
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patient/access-requests", h.ListForPatient)
	api.GET("/patient/access-granted", h.ListGranted)
	api.POST("/patient/access-requests/:id/approve", h.Approve)
	api.POST("/patient/access-requests/:id/reject", h.Reject)
	api.POST("/patient/access/:id/revoke", h.Revoke)

	api.POST("/user/request-access", h.RequestAccess)

	pro := auth.RequireRole(professionals...)
	api.POST("/doctor/request-access", h.RequestAccess, pro)
	api.GET("/doctor/access-requests", h.ListForRequester, pro)
	api.GET("/doctor/search", h.SearchPatient, pro)
	api.GET("/hospital/search-patient", h.SearchPatient, auth.RequireRole(domain.RoleHospital))
}

func idParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid access request id")
	}
	return id, nil
}

func (h *Handler) RequestAccess(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var in RequestInput
	if err := c.Bind(&in); err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid request body"))
	}
	g, err := h.svc.RequestAccess(c.Request().Context(), p, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, g)
}

type approveRequest struct {
	ExpiresAt *time.Time `json:"expiresAt"`
}

func (h *Handler) Approve(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	id, err := idParam(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var req approveRequest
	if err := c.Bind(&req); err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid request body"))
	}
	g, err := h.svc.Approve(c.Request().Context(), p, id, req.ExpiresAt)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "request": g})
}

func (h *Handler) Reject(c echo.Context) error {
	return h.respond(c, h.svc.Reject)
}

func (h *Handler) Revoke(c echo.Context) error {
	return h.respond(c, h.svc.Revoke)
}

func (h *Handler) respond(c echo.Context, op func(ctx context.Context, p *auth.Principal, id uuid.UUID) (*Grant, error)) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	id, err := idParam(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	g, err := op(c.Request().Context(), p, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "request": g})
}

func (h *Handler) ListForPatient(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	items, err := h.svc.ListForPatient(c.Request().Context(), p.AccountID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListGranted(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	items, err := h.svc.ListGranted(c.Request().Context(), p.AccountID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListForRequester(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	items, err := h.svc.ListForRequester(c.Request().Context(), p.AccountID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

// SearchPatient looks a patient up by ?query= (UID or username).
func (h *Handler) SearchPatient(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	res, err := h.svc.SearchPatient(c.Request().Context(), p, c.QueryParam("query"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}
