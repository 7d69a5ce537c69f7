package middleware

import (
	"github.com/labstack/echo/v4"
)

// AllowOrigin returns an Echo middleware that sets Access-Control-Allow-Origin
// on every response. An empty origin means "*".
func AllowOrigin(origin string) echo.MiddlewareFunc {
	if origin == "" {
		origin = "*"
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set(echo.HeaderAccessControlAllowOrigin, origin)
			if origin != "*" {
				c.Response().Header().Add(echo.HeaderVary, echo.HeaderOrigin)
			}
			return next(c)
		}
	}
}
