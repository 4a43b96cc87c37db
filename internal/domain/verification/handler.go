package verification

import (
	"net/http"

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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patient/kyc", h.GetKYC)
	api.POST("/patient/kyc", h.SubmitKYC)
	api.POST("/patient/apply-role", h.ApplyForRole)

	admin := auth.RequireRole(domain.RoleAdmin)
	api.GET("/admin/kyc-queue", h.Queue, admin)
	api.GET("/admin/role-applications", h.RoleApplications, admin)
	api.POST("/admin/kyc/:id/approve", h.Approve, admin)
	api.POST("/admin/kyc/:id/reject", h.Reject, admin)
	api.POST("/admin/users/:userId/role", h.GrantRole, admin)
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

// GetKYC responds with the caller's latest case, or JSON null.
func (h *Handler) GetKYC(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	kc, err := h.svc.Latest(c.Request().Context(), p.AccountID)
	if apperr.Is(err, apperr.KindNotFound) {
		return c.JSON(http.StatusOK, nil)
	}
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, kc)
}

func (h *Handler) SubmitKYC(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var in KYCInput
	if err := c.Bind(&in); err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid request body"))
	}
	kc, err := h.svc.SubmitKYC(c.Request().Context(), p, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, kc)
}

func (h *Handler) ApplyForRole(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var in RoleApplicationInput
	if err := c.Bind(&in); err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid request body"))
	}
	kc, err := h.svc.ApplyForRole(c.Request().Context(), p, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"success": true, "application": kc})
}

func (h *Handler) Queue(c echo.Context) error {
	items, err := h.svc.Queue(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, orEmpty(items))
}

func (h *Handler) RoleApplications(c echo.Context) error {
	items, err := h.svc.RoleApplications(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, orEmpty(items))
}

func (h *Handler) Approve(c echo.Context) error {
	p := auth.PrincipalFromContext(c.Request().Context())
	id, err := uuidParam(c, "id")
	if err != nil {
		return apperr.ToHTTP(err)
	}
	kc, err := h.svc.Approve(c.Request().Context(), p, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "case": kc})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Reject(c echo.Context) error {
	p := auth.PrincipalFromContext(c.Request().Context())
	id, err := uuidParam(c, "id")
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var req rejectRequest
	if err := c.Bind(&req); err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid request body"))
	}
	kc, err := h.svc.Reject(c.Request().Context(), p, id, req.Reason)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "case": kc})
}

type roleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) GrantRole(c echo.Context) error {
	p := auth.PrincipalFromContext(c.Request().Context())
	id, err := uuidParam(c, "userId")
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var req roleRequest
	if err := c.Bind(&req); err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid request body"))
	}
	acct, err := h.svc.GrantRole(c.Request().Context(), p, id, req.Role)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "user": acct})
}

func orEmpty(items []*Case) []*Case {
	if items == nil {
		return []*Case{}
	}
	return items
}
