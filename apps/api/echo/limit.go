package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/limit"
)

type limitApi struct {
	svc      limit.Service
	validate *validator.Validate
}

func registerLimitAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps Deps) {
	api := limitApi{svc: deps.LimitSvc, validate: deps.Validate}

	lg := g.Group("/limits", authed...)
	lg.GET("", api.query)
	lg.POST("", api.save, roleMiddleware(core.RoleSuperAdmin, core.RoleOrgAdmin, core.RoleOperator))
	lg.DELETE("", api.destroy, roleMiddleware(core.RoleSuperAdmin, core.RoleOrgAdmin, core.RoleOperator))
}

func (api *limitApi) query(ctx echo.Context) error {
	var filter limit.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []limit.EmissionLimit{})
	}

	limits, err := api.svc.Query(ctx.Request().Context(), getContextActor(ctx), filter)
	if err != nil {
		return errors.Wrap(err, "querying limits")
	}
	if limits == nil {
		limits = []limit.EmissionLimit{}
	}
	return ctx.JSON(http.StatusOK, limits)
}

func (api *limitApi) save(ctx echo.Context) error {
	var data limit.SaveLimits
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SaveLimits")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	limits, err := api.svc.SaveBulk(ctx.Request().Context(), getContextActor(ctx), data.Limits)
	if err != nil {
		return errors.Wrap(err, "saving limits")
	}
	return ctx.JSON(http.StatusOK, limits)
}

func (api *limitApi) destroy(ctx echo.Context) error {
	var filter limit.DeleteFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to DeleteFilter")
	}

	n, err := api.svc.Delete(ctx.Request().Context(), getContextActor(ctx), filter)
	if err != nil {
		return errors.Wrap(err, "deleting limits")
	}
	return ctx.JSON(http.StatusOK, DeletedResponse{Deleted: n})
}
