package emergency

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/medvault/medvault/internal/domain/audit"
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
	api.GET("/user/qr", h.GetCredential)
	api.POST("/user/qr", h.Generate)
	api.GET("/patient/qr", h.GetCredential)
	api.POST("/patient/qr", h.Generate)

	api.POST("/emergency/verify-qr", h.Verify)
	api.GET("/emergency/scans", h.ListScans)
}

// GetCredential responds null when the caller never generated one.
func (h *Handler) GetCredential(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	cred, err := h.svc.Get(c.Request().Context(), p.AccountID)
	if apperr.Is(err, apperr.KindNotFound) {
		return c.JSON(http.StatusOK, nil)
	}
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cred)
}

func (h *Handler) Generate(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var in GenerateInput
	if err := c.Bind(&in); err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid request body"))
	}
	cred, err := h.svc.Generate(c.Request().Context(), p, in.Signature)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cred)
}

func (h *Handler) Verify(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var in VerifyInput
	if err := c.Bind(&in); err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid request body"))
	}
	out, err := h.svc.Verify(c.Request().Context(), p, in.QRData, in.Token)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ListScans(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.svc.ListScans(c.Request().Context(), p, limit)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*audit.Entry{}
	}
	return c.JSON(http.StatusOK, items)
}
