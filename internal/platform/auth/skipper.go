package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// publicRoutes are served without a token.
var publicRoutes = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

// AuthSkipper lets infrastructure routes and CORS preflight requests through
// unauthenticated.
func AuthSkipper(c echo.Context) bool {
	return c.Request().Method == http.MethodOptions || publicRoutes[c.Path()]
}
