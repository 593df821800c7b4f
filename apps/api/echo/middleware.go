package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/benhuang0857/mclass/core/user"
)

// userMiddleware loads the authenticated user into the context. Deleted or deactivated users are rejected.
func userMiddleware(svc user.ServiceInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			usr, err := svc.GetByID(ctx.Request().Context(), claims.Subject)
			if err != nil {
				if errors.Cause(err) == user.ErrNotFound {
					return errUnauthorized
				}
				return errors.Wrap(err, "finding user by ID")
			}
			if !usr.IsActive {
				return errAccountDeactivated
			}
			ctx.Set(contextUserKey, usr)
			return next(ctx)
		}
	}
}

// optionalUserMiddleware loads the user when the request carries a token.
func optionalUserMiddleware(svc user.ServiceInterface) echo.MiddlewareFunc {
	load := userMiddleware(svc)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withUser := load(next)
		return func(ctx echo.Context) error {
			if _, err := getContextClaims(ctx); err != nil {
				return next(ctx)
			}
			return withUser(ctx)
		}
	}
}

// roleMiddleware lets through admins and users matching any of the checks.
func roleMiddleware(checks ...func(*user.User) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx)
			if err != nil {
				return err
			}
			if usr.IsAdmin() {
				return next(ctx)
			}
			for _, check := range checks {
				if check(&usr) {
					return next(ctx)
				}
			}
			return errHttpForbidden
		}
	}
}

func adminMiddleware() echo.MiddlewareFunc {
	return roleMiddleware()
}
