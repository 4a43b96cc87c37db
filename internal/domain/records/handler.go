package records

import (
	"net/http"

	"github.com/google/uuid"
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
	api.GET("/patient/records", h.ListMine)
	api.POST("/patient/records", h.UploadMine)
	api.GET("/patients/:patientId/records", h.ListForPatient)
	api.POST("/patients/:patientId/records", h.UploadForPatient)
	api.GET("/records/:id/content", h.Content)
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

func (h *Handler) ListMine(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	items, err := h.svc.ListForOwner(c.Request().Context(), p.AccountID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, orEmpty(items))
}

func (h *Handler) UploadMine(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return h.upload(c, p, p.AccountID)
}

func (h *Handler) UploadForPatient(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	owner, err := uuidParam(c, "patientId")
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return h.upload(c, p, owner)
}

func (h *Handler) upload(c echo.Context, p *auth.Principal, owner uuid.UUID) error {
	var in UploadInput
	if err := c.Bind(&in); err != nil {
		return apperr.ToHTTP(apperr.Validation("invalid request body"))
	}
	rec, err := h.svc.Upload(c.Request().Context(), p, owner, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ListForPatient(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	owner, err := uuidParam(c, "patientId")
	if err != nil {
		return apperr.ToHTTP(err)
	}
	items, err := h.svc.ListForRequester(c.Request().Context(), p, owner)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, orEmpty(items))
}

// Content streams the stored bytes with their digest in X-Content-SHA256.
func (h *Handler) Content(c echo.Context) error {
	p, err := auth.MustPrincipal(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return apperr.ToHTTP(err)
	}
	_, blob, err := h.svc.Content(c.Request().Context(), p, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	c.Response().Header().Set("X-Content-SHA256", blob.SHA256)
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.Blob(http.StatusOK, blob.ContentType, blob.Content)
}

func orEmpty(items []*Record) []*Record {
	if items == nil {
		return []*Record{}
	}
	return items
}
