package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/customer"
)

type customerApi struct {
	svc      customer.Service
	validate *validator.Validate
}

var customerManagerRoles = []string{core.RoleSuperAdmin, core.RoleOrgAdmin, core.RoleOperator, core.RoleCustomerAdmin}

func registerCustomerAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps Deps) {
	api := customerApi{svc: deps.CustomerSvc, validate: deps.Validate}

	cg := g.Group("/customers", authed...)
	cg.GET("", api.query)
	cg.POST("", api.create, roleMiddleware(core.RoleSuperAdmin, core.RoleOrgAdmin, core.RoleOperator))
	cg.POST("/bulk", api.bulkCreate, roleMiddleware(core.RoleSuperAdmin, core.RoleOrgAdmin, core.RoleOperator))

	// connections
	cg.GET("/connections", api.queryConnections)
	cg.POST("/:id/connect", api.connect, roleMiddleware(core.RoleOrgAdmin, core.RoleCustomerAdmin))
	cg.POST("/connections/:id/approve", api.approveConnection)
	cg.POST("/connections/:id/reject", api.rejectConnection)
	cg.POST("/connections/:id/disconnect", api.disconnect)
	cg.PUT("/connections/:id/custom-code", api.setCustomCode, roleMiddleware(core.RoleOrgAdmin, core.RoleOperator))

	dg := cg.Group("/:id", objectMiddleware("id", api.getObject))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, roleMiddleware(customerManagerRoles...))
	dg.DELETE("", api.destroy, roleMiddleware(core.RoleSuperAdmin, core.RoleOrgAdmin))
}

func (api *customerApi) getObject(ctx context.Context, actor core.Actor, id string) (interface{}, error) {
	return api.svc.Get(ctx, actor, id)
}

func contextObjectCustomer(ctx echo.Context) (customer.Customer, error) {
	c, ok := ctx.Get(contextObjectKey).(customer.Customer)
	if !ok {
		return customer.Customer{}, errors.Wrap(errObjNotFoundInCtx, "retrieving customer from context")
	}
	return c, nil
}

func (api *customerApi) query(ctx echo.Context) error {
	filter := new(customer.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []customer.Customer{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	customers, err := api.svc.Query(ctx.Request().Context(), getContextActor(ctx), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying customers")
	}
	if customers == nil {
		customers = []customer.Customer{}
	}
	return ctx.JSON(http.StatusOK, customers)
}

func (api *customerApi) create(ctx echo.Context) error {
	var data customer.NewCustomer
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCustomer")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	c, err := api.svc.Create(ctx.Request().Context(), getContextActor(ctx), data)
	if err != nil {
		return errors.Wrap(err, "creating customer")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *customerApi) bulkCreate(ctx echo.Context) error {
	data, err := bindCSV(ctx)
	if err != nil {
		return err
	}
	res, err := api.svc.BulkCreate(ctx.Request().Context(), getContextActor(ctx), data.CSV)
	if err != nil {
		return errors.Wrap(err, "bulk creating customers")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *customerApi) retrieve(ctx echo.Context) error {
	c, err := contextObjectCustomer(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *customerApi) update(ctx echo.Context) error {
	c, err := contextObjectCustomer(ctx)
	if err != nil {
		return err
	}
	var data customer.UpdateCustomer
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCustomer")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	c, err = api.svc.Update(ctx.Request().Context(), getContextActor(ctx), c, data)
	if err != nil {
		return errors.Wrap(err, "updating customer")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *customerApi) destroy(ctx echo.Context) error {
	c, err := contextObjectCustomer(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), getContextActor(ctx), c.ID); err != nil {
		return errors.Wrap(err, "deleting customer")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Connections

func (api *customerApi) queryConnections(ctx echo.Context) error {
	var filter customer.ConnectionFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []customer.Connection{})
	}

	conns, err := api.svc.QueryConnections(ctx.Request().Context(), getContextActor(ctx), filter)
	if err != nil {
		return errors.Wrap(err, "querying connections")
	}
	if conns == nil {
		conns = []customer.Connection{}
	}
	return ctx.JSON(http.StatusOK, conns)
}

func (api *customerApi) connect(ctx echo.Context) error {
	var data customer.ConnectionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ConnectionRequest")
	}

	conn, err := api.svc.RequestConnection(ctx.Request().Context(), getContextActor(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "requesting connection")
	}
	return ctx.JSON(http.StatusCreated, conn)
}

type connectionDecision func(ctx context.Context, actor core.Actor, connID string) (customer.Connection, error)

func (api *customerApi) decideConnection(ctx echo.Context, decide connectionDecision, what string) error {
	conn, err := decide(ctx.Request().Context(), getContextActor(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, what)
	}
	return ctx.JSON(http.StatusOK, conn)
}

func (api *customerApi) approveConnection(ctx echo.Context) error {
	return api.decideConnection(ctx, api.svc.ApproveConnection, "approving connection")
}

func (api *customerApi) rejectConnection(ctx echo.Context) error {
	return api.decideConnection(ctx, api.svc.RejectConnection, "rejecting connection")
}

func (api *customerApi) disconnect(ctx echo.Context) error {
	return api.decideConnection(ctx, api.svc.Disconnect, "disconnecting")
}

func (api *customerApi) setCustomCode(ctx echo.Context) error {
	var data CustomCodeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CustomCodeRequest")
	}

	conn, err := api.svc.SetCustomCode(ctx.Request().Context(), getContextActor(ctx), ctx.Param("id"), data.CustomCode)
	if err != nil {
		return errors.Wrap(err, "setting custom code")
	}
	return ctx.JSON(http.StatusOK, conn)
}

type CustomCodeRequest struct {
	CustomCode string `json:"customCode"`
}
