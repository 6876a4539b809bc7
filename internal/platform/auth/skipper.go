package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists route paths served without credentials or clinic context.
var publicPaths = map[string]bool{
	"/health":           true,
	"/health/db":        true,
	"/metrics":          true,
	"/api/openapi.json": true,
	"/api/docs":         true,
}

// AuthSkipper returns true for requests whose path should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether path bypasses auth and clinic middleware.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
