package audit

import (
	"net/http"
	"strconv"

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
	api.GET("/patient/audit-logs", h.MyAuditLogs)
	api.GET("/admin/audit-logs", h.RecentAuditLogs, auth.RequireRole(domain.RoleAdmin))
}

func limitParam(c echo.Context) int {
	n, _ := strconv.Atoi(c.QueryParam("limit"))
	return n
}

// MyAuditLogs lists entries where the caller is the actor. ?action= narrows
// to one action.
func (h *Handler) MyAuditLogs(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}

	var items []*Entry
	if a := c.QueryParam("action"); a != "" {
		action, perr := domain.ParseAuditAction(a)
		if perr != nil {
			return apperr.ToHTTP(perr)
		}
		items, err = h.svc.QueryByActorAction(c.Request().Context(), p.AccountID, action, limitParam(c))
	} else {
		items, err = h.svc.QueryByActor(c.Request().Context(), p.AccountID, limitParam(c))
	}
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, orEmpty(items))
}

func (h *Handler) RecentAuditLogs(c echo.Context) error {
	items, err := h.svc.QueryRecent(c.Request().Context(), limitParam(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, orEmpty(items))
}

func orEmpty(items []*Entry) []*Entry {
	if items == nil {
		return []*Entry{}
	}
	return items
}

// CaptureIP stores the client address on the request context so ledger
// entries record where a change came from.
func CaptureIP() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(WithIP(c.Request().Context(), c.RealIP())))
			return next(c)
		}
	}
}
