package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/organization"
	"github.com/tigrofin/pmms/core/user"
)

type organizationApi struct {
	svc      organization.Service
	usrSvc   user.Service
	validate *validator.Validate
}

func registerOrganizationAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps Deps) {
	api := organizationApi{
		svc:      deps.OrganizationSvc,
		usrSvc:   deps.UserSvc,
		validate: deps.Validate,
	}

	og := g.Group("/organizations")
	og.POST("/register", api.register)

	ag := og.Group("", authed...)
	ag.GET("", api.query, superAdminMiddleware())
	ag.POST("", api.create, superAdminMiddleware())

	dg := ag.Group("/:id", objectMiddleware("id", api.getObject))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, roleMiddleware(core.RoleSuperAdmin, core.RoleOrgAdmin))
	dg.DELETE("", api.destroy, superAdminMiddleware())
	dg.POST("/approve", api.approve, superAdminMiddleware())
}

func (api *organizationApi) getObject(ctx context.Context, actor core.Actor, id string) (interface{}, error) {
	return api.svc.Get(ctx, actor, id)
}

func contextObjectOrganization(ctx echo.Context) (organization.Organization, error) {
	org, ok := ctx.Get(contextObjectKey).(organization.Organization)
	if !ok {
		return organization.Organization{}, errors.Wrap(errObjNotFoundInCtx, "retrieving organization from context")
	}
	return org, nil
}

func (api *organizationApi) register(ctx echo.Context) error {
	var data organization.Registration
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Registration")
	}
	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, api.validate, api.svc, api.usrSvc); err != nil {
		return err
	}

	org, admin, err := api.svc.Register(rctx, data)
	if err != nil {
		return errors.Wrap(err, "registering organization")
	}
	return ctx.JSON(http.StatusCreated, RegistrationResponse{Organization: org, Admin: admin})
}

func (api *organizationApi) query(ctx echo.Context) error {
	filter := new(organization.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []organization.Organization{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	orgs, err := api.svc.Query(ctx.Request().Context(), getContextActor(ctx), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying organizations")
	}
	if orgs == nil {
		orgs = []organization.Organization{}
	}
	return ctx.JSON(http.StatusOK, orgs)
}

func (api *organizationApi) create(ctx echo.Context) error {
	var data organization.NewOrganization
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewOrganization")
	}
	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, api.validate, api.svc); err != nil {
		return err
	}

	org, err := api.svc.Create(rctx, getContextActor(ctx), data)
	if err != nil {
		return errors.Wrap(err, "creating organization")
	}
	return ctx.JSON(http.StatusCreated, org)
}

func (api *organizationApi) retrieve(ctx echo.Context) error {
	org, err := contextObjectOrganization(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, org)
}

func (api *organizationApi) update(ctx echo.Context) error {
	org, err := contextObjectOrganization(ctx)
	if err != nil {
		return err
	}
	var data organization.UpdateOrganization
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateOrganization")
	}
	rctx := ctx.Request().Context()
	if err = data.Validate(rctx, api.validate, org, api.svc); err != nil {
		return err
	}

	org, err = api.svc.Update(rctx, getContextActor(ctx), org, data)
	if err != nil {
		return errors.Wrap(err, "updating organization")
	}
	return ctx.JSON(http.StatusOK, org)
}

func (api *organizationApi) destroy(ctx echo.Context) error {
	org, err := contextObjectOrganization(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), getContextActor(ctx), org.ID); err != nil {
		return errors.Wrap(err, "deleting organization")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *organizationApi) approve(ctx echo.Context) error {
	org, err := contextObjectOrganization(ctx)
	if err != nil {
		return err
	}
	org, err = api.svc.Approve(ctx.Request().Context(), getContextActor(ctx), org.ID)
	if err != nil {
		return errors.Wrap(err, "approving organization")
	}
	return ctx.JSON(http.StatusOK, org)
}

type RegistrationResponse struct {
	Organization organization.Organization `json:"organization"`
	Admin        user.User                 `json:"admin"`
}
