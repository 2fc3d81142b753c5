// Package auth guards the HTTP surface with a shared access token.
package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// TokenMiddleware requires token as "Authorization: Bearer <token>" or as the
// access_token query parameter. An empty token disables the check.
func TokenMiddleware(token string, skipper middleware.Skipper) echo.MiddlewareFunc {
	token = strings.TrimSpace(token)
	if token == "" {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization + ",query:access_token",
		AuthScheme: "Bearer",
		Skipper:    skipper,
		Validator: func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1, nil
		},
	})
}
