package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/classledger/core"
)

const (
	csrfHeader     = echo.HeaderXCSRFToken
	csrfCookie     = "_csrf"
	csrfContextKey = "csrf"
)

// adminMiddleware only lets tokens carrying the admin privilege through. It runs before any handler
// touches storage.
func adminMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// csrfMiddleware checks the anti-forgery token of every unsafe request against the _csrf cookie.
func csrfMiddleware(conf *core.Config) echo.MiddlewareFunc {
	csrf := middleware.CSRFWithConfig(middleware.CSRFConfig{
		TokenLookup:    "header:" + csrfHeader,
		ContextKey:     csrfContextKey,
		CookieName:     csrfCookie,
		CookiePath:     "/",
		CookieHTTPOnly: true,
		CookieSecure:   !conf.Debug,
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		protected := csrf(next)
		return func(ctx echo.Context) error {
			switch ctx.Request().Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			default:
				if ctx.Request().Header.Get(csrfHeader) == "" {
					return errMissingCSRF
				}
			}
			return protected(ctx)
		}
	}
}

func csrfToken(ctx echo.Context) error {
	token, _ := ctx.Get(csrfContextKey).(string)
	return ctx.JSON(http.StatusOK, echo.Map{"csrf_token": token})
}
