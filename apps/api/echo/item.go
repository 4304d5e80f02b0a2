package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core/item"
)

type itemApi struct {
	svc      item.Service
	validate *validator.Validate
}

func registerItemAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps Deps) {
	api := itemApi{svc: deps.ItemSvc, validate: deps.Validate}

	ig := g.Group("/items", authed...)
	ig.GET("", api.query)
	ig.POST("", api.create, superAdminMiddleware())
	ig.GET("/:key", api.retrieve)
	ig.PATCH("/:key", api.update, superAdminMiddleware())
	ig.DELETE("/:key", api.destroy, superAdminMiddleware())
}

func (api *itemApi) query(ctx echo.Context) error {
	var filter item.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []item.Item{})
	}

	items, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying items")
	}
	if items == nil {
		items = []item.Item{}
	}
	return ctx.JSON(http.StatusOK, items)
}

func (api *itemApi) retrieve(ctx echo.Context) error {
	it, err := api.svc.Get(ctx.Request().Context(), ctx.Param("key"))
	if err != nil {
		return errors.Wrap(err, "getting item")
	}
	return ctx.JSON(http.StatusOK, it)
}

func (api *itemApi) create(ctx echo.Context) error {
	var data item.NewItem
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewItem")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	it, err := api.svc.Create(ctx.Request().Context(), getContextActor(ctx), data)
	if err != nil {
		return errors.Wrap(err, "creating item")
	}
	return ctx.JSON(http.StatusCreated, it)
}

func (api *itemApi) update(ctx echo.Context) error {
	var data item.UpdateItem
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateItem")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	it, err := api.svc.Update(ctx.Request().Context(), getContextActor(ctx), ctx.Param("key"), data)
	if err != nil {
		return errors.Wrap(err, "updating item")
	}
	return ctx.JSON(http.StatusOK, it)
}

func (api *itemApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), getContextActor(ctx), ctx.Param("key")); err != nil {
		return errors.Wrap(err, "deleting item")
	}
	return ctx.NoContent(http.StatusNoContent)
}
