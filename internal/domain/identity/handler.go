package identity

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/medvault/medvault/internal/domain"
	"github.com/medvault/medvault/internal/platform/apperr"
	"github.com/medvault/medvault/internal/platform/auth"
	"github.com/medvault/medvault/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/connect", h.Connect)

	api.GET("/user/me", h.Me)
	api.PUT("/user/info", h.UpdateInfo)
	api.POST("/user/profile-picture", h.SetProfilePicture)
	api.POST("/patient/profile-picture", h.SetProfilePicture)

	api.GET("/admin/users", h.ListAccounts, auth.RequireRole(domain.RoleAdmin))
}

type connectRequest struct {
	WalletAddress string `json:"walletAddress"`
}

type connectResponse struct {
	User      *Account `json:"user"`
	IsNewUser bool     `json:"isNewUser"`
}

// Connect resolves the wallet in the body (or the wallet header) to an
// account, registering it on first contact.
func (h *Handler) Connect(c echo.Context) error {
	var req connectRequest
	if err := c.Bind(&req); err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid request body"))
	}
	wallet := strings.TrimSpace(req.WalletAddress)
	if wallet == "" {
		wallet = c.Request().Header.Get(auth.WalletHeader)
	}

	acct, created, err := h.svc.Resolve(c.Request().Context(), wallet)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, connectResponse{User: acct, IsNewUser: created})
}

func (h *Handler) Me(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	acct, err := h.svc.GetByID(c.Request().Context(), p.AccountID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, acct)
}

func (h *Handler) UpdateInfo(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var in UpdateInfoInput
	if err := c.Bind(&in); err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid request body"))
	}
	acct, err := h.svc.UpdateInfo(c.Request().Context(), p, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, acct)
}

type pictureRequest struct {
	ProfilePicture string `json:"profilePicture"`
}

func (h *Handler) SetProfilePicture(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	var req pictureRequest
	if err := c.Bind(&req); err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid request body"))
	}
	if err := h.svc.SetProfilePicture(c.Request().Context(), p, req.ProfilePicture); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "profilePicture": req.ProfilePicture})
}

func (h *Handler) ListAccounts(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAccounts(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Account{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
