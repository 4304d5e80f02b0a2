package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/contract"
)

type contractApi struct {
	svc      contract.Service
	validate *validator.Validate
}

func registerContractAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps Deps) {
	api := contractApi{svc: deps.ContractSvc, validate: deps.Validate}

	cg := g.Group("/contracts", authed...)
	cg.Use(roleMiddleware(core.RoleSuperAdmin, core.RoleOrgAdmin, core.RoleOperator))
	cg.GET("", api.query)
	cg.POST("", api.create)
	cg.POST("/check-expiring", api.checkExpiring, superAdminMiddleware())

	dg := cg.Group("/:id", objectMiddleware("id", api.getObject))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy)
	dg.POST("/extend", api.extend)
}

func (api *contractApi) getObject(ctx context.Context, actor core.Actor, id string) (interface{}, error) {
	return api.svc.Get(ctx, actor, id)
}

func contextObjectContract(ctx echo.Context) (contract.Contract, error) {
	ct, ok := ctx.Get(contextObjectKey).(contract.Contract)
	if !ok {
		return contract.Contract{}, errors.Wrap(errObjNotFoundInCtx, "retrieving contract from context")
	}
	return ct, nil
}

func (api *contractApi) query(ctx echo.Context) error {
	filter := new(contract.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []contract.Contract{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	contracts, err := api.svc.Query(ctx.Request().Context(), getContextActor(ctx), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying contracts")
	}
	if contracts == nil {
		contracts = []contract.Contract{}
	}
	return ctx.JSON(http.StatusOK, contracts)
}

func (api *contractApi) create(ctx echo.Context) error {
	var data contract.NewContract
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewContract")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ct, err := api.svc.Create(ctx.Request().Context(), getContextActor(ctx), data)
	if err != nil {
		return errors.Wrap(err, "creating contract")
	}
	return ctx.JSON(http.StatusCreated, ct)
}

func (api *contractApi) retrieve(ctx echo.Context) error {
	ct, err := contextObjectContract(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ct)
}

func (api *contractApi) update(ctx echo.Context) error {
	ct, err := contextObjectContract(ctx)
	if err != nil {
		return err
	}
	var data contract.UpdateContract
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateContract")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	ct, err = api.svc.Update(ctx.Request().Context(), getContextActor(ctx), ct, data)
	if err != nil {
		return errors.Wrap(err, "updating contract")
	}
	return ctx.JSON(http.StatusOK, ct)
}

func (api *contractApi) destroy(ctx echo.Context) error {
	ct, err := contextObjectContract(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), getContextActor(ctx), ct.ID); err != nil {
		return errors.Wrap(err, "deleting contract")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *contractApi) extend(ctx echo.Context) error {
	ct, err := contextObjectContract(ctx)
	if err != nil {
		return err
	}
	var data contract.ExtendContract
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ExtendContract")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	ct, err = api.svc.Extend(ctx.Request().Context(), getContextActor(ctx), ct, data)
	if err != nil {
		return errors.Wrap(err, "extending contract")
	}
	return ctx.JSON(http.StatusOK, ct)
}

func (api *contractApi) checkExpiring(ctx echo.Context) error {
	res, err := api.svc.CheckExpiring(ctx.Request().Context(), contract.NowFunc())
	if err != nil {
		return errors.Wrap(err, "checking expiring contracts")
	}
	return ctx.JSON(http.StatusOK, res)
}
