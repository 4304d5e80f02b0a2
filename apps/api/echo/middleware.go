package echoapi

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
)

const contextObjectKey = "object"

// roleMiddleware only lets users with one of roles through.
func roleMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if core.ContainsString(roles, getContextActor(ctx).Role) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

func superAdminMiddleware() echo.MiddlewareFunc {
	return roleMiddleware(core.RoleSuperAdmin)
}

// objectGetter loads the object identified by id if actor may see it.
type objectGetter func(ctx context.Context, actor core.Actor, id string) (interface{}, error)

// objectMiddleware stores the object targeted by the `:param` path param in the context.
// Objects the Actor may not see are reported as not found.
func objectMiddleware(param string, get objectGetter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			obj, err := get(ctx.Request().Context(), getContextActor(ctx), ctx.Param(param))
			if err != nil {
				return errors.Wrap(err, "loading object")
			}
			ctx.Set(contextObjectKey, obj)
			return next(ctx)
		}
	}
}

var errObjNotFoundInCtx = errors.New("object not found in echo.Context")
