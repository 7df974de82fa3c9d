package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/trezcool/tahadhari/core"
)

// roleMiddleware lets through callers holding any of roles.
func roleMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if _, err := getContextClaims(ctx); err != nil {
				return err
			}
			if contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

func adminMiddleware() echo.MiddlewareFunc {
	return roleMiddleware(core.RoleAdmin)
}

// staffMiddleware lets lecturers and admins through.
func staffMiddleware() echo.MiddlewareFunc {
	return roleMiddleware(core.RoleLecturer, core.RoleAdmin)
}

func lecturerMiddleware() echo.MiddlewareFunc {
	return roleMiddleware(core.RoleLecturer)
}
