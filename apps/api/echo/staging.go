package echoapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/measurement"
	"github.com/tigrofin/pmms/core/staging"
)

type stagingApi struct {
	svc      staging.Service
	validate *validator.Validate
}

func registerStagingAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps Deps) {
	api := stagingApi{svc: deps.StagingSvc, validate: deps.Validate}

	sg := g.Group("/measurements-temp", authed...)
	sg.GET("", api.query)
	sg.POST("", api.create, roleMiddleware(measurementWriterRoles...))
	sg.GET("/download", api.download)
	sg.PUT("/auxiliary", api.mergeAuxiliary, roleMiddleware(measurementWriterRoles...))
	sg.POST("/batch-delete", api.batchDelete, roleMiddleware(measurementWriterRoles...))
	sg.POST("/confirm", api.confirm, roleMiddleware(measurementWriterRoles...))

	dg := sg.Group("/:id", objectMiddleware("id", api.getObject))
	dg.GET("", api.retrieve)
	dg.DELETE("", api.destroy, roleMiddleware(measurementWriterRoles...))
}

func (api *stagingApi) getObject(ctx context.Context, actor core.Actor, id string) (interface{}, error) {
	return api.svc.Get(ctx, actor, id)
}

func contextObjectStaged(ctx echo.Context) (staging.Staged, error) {
	s, ok := ctx.Get(contextObjectKey).(staging.Staged)
	if !ok {
		return staging.Staged{}, errors.Wrap(errObjNotFoundInCtx, "retrieving staged measurements from context")
	}
	return s, nil
}

func bindStagingFilter(ctx echo.Context) (*staging.QueryFilter, error) {
	filter := new(staging.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return nil, errors.Wrap(err, "binding to QueryFilter")
	}
	filter.Clean()
	return filter, nil
}

func (api *stagingApi) query(ctx echo.Context) error {
	filter, err := bindStagingFilter(ctx)
	if err != nil {
		return err
	}

	list, err := api.svc.Query(ctx.Request().Context(), getContextActor(ctx), filter)
	if err != nil {
		return errors.Wrap(err, "querying staged measurements")
	}
	if list == nil {
		list = []staging.Staged{}
	}
	return ctx.JSON(http.StatusOK, list)
}

func (api *stagingApi) create(ctx echo.Context) error {
	var data staging.NewStaged
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStaged")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	s, err := api.svc.Stage(ctx.Request().Context(), getContextActor(ctx), data)
	if err != nil {
		return errors.Wrap(err, "staging measurements")
	}
	return ctx.JSON(http.StatusCreated, s)
}

func (api *stagingApi) download(ctx echo.Context) error {
	filter, err := bindStagingFilter(ctx)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err = api.svc.ExportCSV(ctx.Request().Context(), getContextActor(ctx), filter, &buf); err != nil {
		return errors.Wrap(err, "exporting staged measurements")
	}

	name := "staged_" + time.Now().In(measurement.Location).Format("20060102") + ".csv"
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return ctx.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (api *stagingApi) mergeAuxiliary(ctx echo.Context) error {
	var data staging.AuxiliaryUpdate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AuxiliaryUpdate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	n, err := api.svc.MergeAuxiliary(ctx.Request().Context(), getContextActor(ctx), data)
	if err != nil {
		return errors.Wrap(err, "merging staged sampling conditions")
	}
	return ctx.JSON(http.StatusOK, CountResponse{Count: n})
}

func (api *stagingApi) batchDelete(ctx echo.Context) error {
	var data staging.IDList
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to IDList")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	n, err := api.svc.BatchDelete(ctx.Request().Context(), getContextActor(ctx), data.IDs)
	if err != nil {
		return errors.Wrap(err, "deleting staged measurements")
	}
	return ctx.JSON(http.StatusOK, DeletedResponse{Deleted: n})
}

func (api *stagingApi) confirm(ctx echo.Context) error {
	var data staging.IDList
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to IDList")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	res, err := api.svc.Confirm(ctx.Request().Context(), getContextActor(ctx), data.IDs)
	if err != nil {
		return errors.Wrap(err, "confirming staged measurements")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *stagingApi) retrieve(ctx echo.Context) error {
	s, err := contextObjectStaged(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *stagingApi) destroy(ctx echo.Context) error {
	s, err := contextObjectStaged(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), getContextActor(ctx), s); err != nil {
		return errors.Wrap(err, "deleting staged measurements")
	}
	return ctx.NoContent(http.StatusNoContent)
}
