package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/amboseli-lewis/sms/core/user"
)

// userMiddleware loads the active user behind the JWT. With adminOnly, STAFF users are rejected.
// Must run after the JWT middleware.
func (s *Server) userMiddleware(adminOnly bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			if adminOnly && !claims.IsAdmin {
				return errUnauthorized
			}

			usr, err := s.deps.UserSvc.GetByID(ctx.Request().Context(), claims.Subject)
			if err != nil {
				if errors.Cause(err) == user.ErrNotFound {
					return errUnauthorized
				}
				return errors.Wrap(err, "finding user by ID")
			}
			if !usr.IsActive || (adminOnly && !usr.IsAdmin()) {
				return errUnauthorized
			}

			ctx.Set(contextUserKey, usr)
			return next(ctx)
		}
	}
}
