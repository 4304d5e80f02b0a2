package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/stack"
)

type stackApi struct {
	svc      stack.Service
	validate *validator.Validate
}

var stackWriterRoles = []string{core.RoleSuperAdmin, core.RoleOrgAdmin, core.RoleOperator, core.RoleCustomerAdmin}

func registerStackAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps Deps) {
	api := stackApi{svc: deps.StackSvc, validate: deps.Validate}

	sg := g.Group("/stacks", authed...)
	sg.GET("", api.query)
	sg.POST("", api.create, roleMiddleware(stackWriterRoles...))
	sg.POST("/bulk", api.bulkCreate, roleMiddleware(stackWriterRoles...))

	dg := sg.Group("/:id", objectMiddleware("id", api.getObject))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, roleMiddleware(stackWriterRoles...))
	dg.DELETE("", api.destroy, roleMiddleware(stackWriterRoles...))
	dg.POST("/activate", api.activate, roleMiddleware(stackWriterRoles...))
	dg.POST("/deactivate", api.deactivate, roleMiddleware(stackWriterRoles...))
	dg.POST("/confirm", api.confirm, roleMiddleware(core.RoleCustomerAdmin, core.RoleCustomerUser))
	dg.GET("/history", api.history)
	dg.GET("/measurement-count", api.measurementCount)
}

func (api *stackApi) getObject(ctx context.Context, actor core.Actor, id string) (interface{}, error) {
	return api.svc.Get(ctx, actor, id)
}

func contextObjectStack(ctx echo.Context) (stack.Stack, error) {
	st, ok := ctx.Get(contextObjectKey).(stack.Stack)
	if !ok {
		return stack.Stack{}, errors.Wrap(errObjNotFoundInCtx, "retrieving stack from context")
	}
	return st, nil
}

func (api *stackApi) query(ctx echo.Context) error {
	filter := new(stack.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []stack.Stack{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	stacks, err := api.svc.Query(ctx.Request().Context(), getContextActor(ctx), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying stacks")
	}
	if stacks == nil {
		stacks = []stack.Stack{}
	}
	return ctx.JSON(http.StatusOK, stacks)
}

func (api *stackApi) create(ctx echo.Context) error {
	var data stack.NewStack
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStack")
	}
	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, api.validate, api.svc); err != nil {
		return err
	}

	st, err := api.svc.Create(rctx, getContextActor(ctx), data)
	if err != nil {
		return errors.Wrap(err, "creating stack")
	}
	return ctx.JSON(http.StatusCreated, st)
}

func (api *stackApi) bulkCreate(ctx echo.Context) error {
	data, err := bindCSV(ctx)
	if err != nil {
		return err
	}
	actor := getContextActor(ctx)
	customerID := core.CleanString(data.CustomerID)
	if actor.IsCustomerUser() {
		customerID = actor.CustomerID
	}
	if customerID == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "customerId", Error: "customerId is a required field"})
	}

	res, err := api.svc.BulkCreate(ctx.Request().Context(), actor, customerID, data.CSV)
	if err != nil {
		return errors.Wrap(err, "bulk creating stacks")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *stackApi) retrieve(ctx echo.Context) error {
	st, err := contextObjectStack(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *stackApi) update(ctx echo.Context) error {
	st, err := contextObjectStack(ctx)
	if err != nil {
		return err
	}
	var data stack.UpdateStack
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStack")
	}
	rctx := ctx.Request().Context()
	if err = data.Validate(rctx, api.validate, st, api.svc); err != nil {
		return err
	}

	st, err = api.svc.Update(rctx, getContextActor(ctx), st, data)
	if err != nil {
		return errors.Wrap(err, "updating stack")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *stackApi) destroy(ctx echo.Context) error {
	st, err := contextObjectStack(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), getContextActor(ctx), st.ID); err != nil {
		return errors.Wrap(err, "deleting stack")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *stackApi) setActive(ctx echo.Context, active bool) error {
	st, err := contextObjectStack(ctx)
	if err != nil {
		return err
	}
	st, err = api.svc.SetActive(ctx.Request().Context(), getContextActor(ctx), st.ID, active)
	if err != nil {
		return errors.Wrapf(err, "setting stack active=%t", active)
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *stackApi) activate(ctx echo.Context) error {
	return api.setActive(ctx, true)
}

func (api *stackApi) deactivate(ctx echo.Context) error {
	return api.setActive(ctx, false)
}

func (api *stackApi) confirm(ctx echo.Context) error {
	st, err := contextObjectStack(ctx)
	if err != nil {
		return err
	}
	st, err = api.svc.Confirm(ctx.Request().Context(), getContextActor(ctx), st.ID)
	if err != nil {
		return errors.Wrap(err, "confirming stack")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *stackApi) history(ctx echo.Context) error {
	st, err := contextObjectStack(ctx)
	if err != nil {
		return err
	}
	hist, err := api.svc.History(ctx.Request().Context(), getContextActor(ctx), st.ID)
	if err != nil {
		return errors.Wrap(err, "querying stack history")
	}
	if hist == nil {
		hist = []stack.History{}
	}
	return ctx.JSON(http.StatusOK, hist)
}

func (api *stackApi) measurementCount(ctx echo.Context) error {
	st, err := contextObjectStack(ctx)
	if err != nil {
		return err
	}
	n, err := api.svc.MeasurementCount(ctx.Request().Context(), getContextActor(ctx), st.ID)
	if err != nil {
		return errors.Wrap(err, "counting stack measurements")
	}
	return ctx.JSON(http.StatusOK, CountResponse{Count: n})
}
