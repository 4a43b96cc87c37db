package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass wallet authentication: infrastructure endpoints and
// the connect endpoint that creates the account in the first place.
var publicPaths = map[string]bool{
	"/health":           true,
	"/metrics":          true,
	"/api/auth/connect": true,
}

// AuthSkipper returns true for requests whose route should skip
// authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether path is a public endpoint.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
