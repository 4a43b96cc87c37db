package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medvault/medvault/internal/platform/auth"
)

// phiPrefixes are the route groups that read or change patient data.
var phiPrefixes = []string{
	"/api/patient/",
	"/api/patients/",
	"/api/records/",
	"/api/doctor/",
	"/api/hospital/",
	"/api/emergency/",
	"/api/user/qr",
	"/api/user/health-profile",
	"/api/user/request-access",
}

func isPHIPath(path string) bool {
	for _, p := range phiPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// PHIAccess emits a phi_access log line for every request touching patient
// data. It complements the persisted audit trail, which only records
// successful state changes, with reads and denials.
func PHIAccess(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isPHIPath(req.URL.Path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			rid, _ := c.Get("request_id").(string)

			evt := logger.Info()
			if status == http.StatusForbidden || status == http.StatusUnauthorized {
				evt = logger.Warn()
			}
			if p := auth.PrincipalFromContext(c.Request().Context()); p != nil {
				evt = evt.Str("account_id", p.AccountID.String()).Str("uid", p.UID).Str("role", string(p.Role))
			}
			evt.
				Str("type", "phi_access").
				Str("request_id", rid).
				Str("action", httpMethodToAction(req.Method)).
				Str("route", c.Path()).
				Str("patient_id", c.Param("patientId")).
				Str("remote_ip", c.RealIP()).
				Int("status", status).
				Msg("phi_access")

			return err
		}
	}
}
