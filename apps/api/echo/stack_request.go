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

type stackRequestApi struct {
	svc      stack.Service
	validate *validator.Validate
}

var stackReviewerRoles = []string{core.RoleSuperAdmin, core.RoleCustomerAdmin}

func registerStackRequestAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps Deps) {
	api := stackRequestApi{svc: deps.StackSvc, validate: deps.Validate}

	rg := g.Group("/stack-requests", authed...)
	rg.GET("", api.query)
	rg.POST("", api.create, roleMiddleware(core.RoleOrgAdmin, core.RoleOperator))

	dg := rg.Group("/:id", objectMiddleware("id", api.getObject))
	dg.GET("", api.retrieve)
	dg.POST("/approve", api.approve, roleMiddleware(stackReviewerRoles...))
	dg.POST("/reject", api.reject, roleMiddleware(stackReviewerRoles...))
}

func (api *stackRequestApi) getObject(ctx context.Context, actor core.Actor, id string) (interface{}, error) {
	return api.svc.GetRequest(ctx, actor, id)
}

func contextObjectStackRequest(ctx echo.Context) (stack.Request, error) {
	req, ok := ctx.Get(contextObjectKey).(stack.Request)
	if !ok {
		return stack.Request{}, errors.Wrap(errObjNotFoundInCtx, "retrieving stack request from context")
	}
	return req, nil
}

func (api *stackRequestApi) query(ctx echo.Context) error {
	filter := new(stack.RequestFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to RequestFilter")
	}

	reqs, err := api.svc.QueryRequests(ctx.Request().Context(), getContextActor(ctx), filter)
	if err != nil {
		return errors.Wrap(err, "querying stack requests")
	}
	if reqs == nil {
		reqs = []stack.Request{}
	}
	return ctx.JSON(http.StatusOK, reqs)
}

func (api *stackRequestApi) create(ctx echo.Context) error {
	var data stack.NewRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	req, err := api.svc.RequestStack(ctx.Request().Context(), getContextActor(ctx), data)
	if err != nil {
		return errors.Wrap(err, "requesting stack")
	}
	return ctx.JSON(http.StatusCreated, req)
}

func (api *stackRequestApi) retrieve(ctx echo.Context) error {
	req, err := contextObjectStackRequest(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, req)
}

func (api *stackRequestApi) approve(ctx echo.Context) error {
	req, err := contextObjectStackRequest(ctx)
	if err != nil {
		return err
	}
	var data stack.ApproveRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ApproveRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	req, err = api.svc.ApproveRequest(ctx.Request().Context(), getContextActor(ctx), req, data)
	if err != nil {
		return errors.Wrap(err, "approving stack request")
	}
	return ctx.JSON(http.StatusOK, req)
}

func (api *stackRequestApi) reject(ctx echo.Context) error {
	req, err := contextObjectStackRequest(ctx)
	if err != nil {
		return err
	}
	var data stack.RejectRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RejectRequest")
	}

	req, err = api.svc.RejectRequest(ctx.Request().Context(), getContextActor(ctx), req, data)
	if err != nil {
		return errors.Wrap(err, "rejecting stack request")
	}
	return ctx.JSON(http.StatusOK, req)
}
