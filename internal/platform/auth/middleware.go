package auth

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medvault/medvault/internal/domain"
	"github.com/medvault/medvault/internal/platform/apperr"
)

// WalletHeader carries the caller's wallet address on every request.
const WalletHeader = "X-Wallet-Address"

type contextKey string

const PrincipalKey contextKey = "principal"

// Principal is the authenticated caller, resolved from the wallet header.
type Principal struct {
	AccountID    uuid.UUID
	UID          string
	Username     string
	Wallet       string
	Role         domain.Role
	Status       domain.AccountStatus
	HospitalName *string
}

func (p *Principal) IsAdmin() bool { return p != nil && p.Role == domain.RoleAdmin }

// IsVerified reports whether the account passed verification.
func (p *Principal) IsVerified() bool { return p != nil && p.Status == domain.AccountVerified }

// Authenticator looks up the account behind a wallet address. It must not
// create accounts; registration happens only through the connect endpoint.
type Authenticator interface {
	Authenticate(ctx context.Context, wallet string) (*Principal, error)
}

// WalletMiddleware resolves the X-Wallet-Address header to a Principal and
// stores it on the request context.
func WalletMiddleware(authn Authenticator, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			wallet := c.Request().Header.Get(WalletHeader)
			if wallet == "" {
				return echo.NewHTTPError(http.StatusUnauthorized,
					apperr.Body{Error: "missing " + WalletHeader + " header", Code: "unauthenticated"})
			}

			p, err := authn.Authenticate(c.Request().Context(), wallet)
			if err != nil {
				if apperr.Is(err, apperr.KindNotFound) {
					return echo.NewHTTPError(http.StatusUnauthorized,
						apperr.Body{Error: "unknown wallet, connect first", Code: "unauthenticated"})
				}
				return apperr.ToHTTP(err)
			}
			if p.Status == domain.AccountSuspended {
				return apperr.ToHTTP(apperr.Authorization("account suspended"))
			}

			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
			c.Set("account_id", p.AccountID.String())
			return next(c)
		}
	}
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// PrincipalFromContext returns the caller, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(PrincipalKey).(*Principal)
	return p
}

// MustPrincipal returns the caller or an authorization error when the
// request was not authenticated.
func MustPrincipal(ctx context.Context) (*Principal, error) {
	p := PrincipalFromContext(ctx)
	if p == nil {
		return nil, apperr.Authorization("authentication required")
	}
	return p, nil
}
