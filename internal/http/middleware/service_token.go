package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
)

// ServiceTokenMiddleware authenticates operator requests using a shared
// bearer token.  An empty configured token disables the routes entirely.
func ServiceTokenMiddleware(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token == "" {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "operator routes disabled"})
			}
			got := strings.TrimSpace(c.Request().Header.Get("Authorization"))
			got = strings.TrimPrefix(got, "Bearer ")
			if got == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing service token"})
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid service token"})
			}
			return next(c)
		}
	}
}
