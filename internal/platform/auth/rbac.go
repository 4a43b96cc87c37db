package auth

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/medvault/medvault/internal/domain"
	"github.com/medvault/medvault/internal/platform/apperr"
)

// RequireRole returns middleware that checks the caller holds one of roles.
// Admins pass every check.
func RequireRole(roles ...domain.Role) echo.MiddlewareFunc {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := CheckRole(PrincipalFromContext(c.Request().Context()), roles...); err != nil {
				return apperr.ToHTTP(apperr.Authorization("required role: %s", strings.Join(names, " or ")))
			}
			return next(c)
		}
	}
}

// CheckRole is the non-HTTP form of RequireRole for use inside services.
func CheckRole(p *Principal, roles ...domain.Role) error {
	if p == nil {
		return apperr.Authorization("authentication required")
	}
	if p.Role == domain.RoleAdmin {
		return nil
	}
	for _, r := range roles {
		if p.Role == r {
			return nil
		}
	}
	return apperr.Authorization("role %s is not permitted", p.Role)
}
