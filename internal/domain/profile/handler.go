package profile

import (
	"net/http"

	"github.com/labstack/echo/v4"

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
	api.GET("/user/health-profile", h.Get)
	api.PUT("/user/health-profile", h.Update)
	api.GET("/patient/profile", h.Get)
	api.PUT("/patient/profile", h.Update)
}

// Get responds with the caller's profile, or JSON null when none exists.
func (h *Handler) Get(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	hp, err := h.svc.Get(c.Request().Context(), p.AccountID)
	if apperr.Is(err, apperr.KindNotFound) {
		return c.JSON(http.StatusOK, nil)
	}
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, hp)
}

func (h *Handler) Update(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid request body"))
	}
	hp, err := h.svc.Update(c.Request().Context(), p, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "profile": hp})
}
