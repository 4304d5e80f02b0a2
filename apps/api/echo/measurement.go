package echoapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/measurement"
)

type measurementApi struct {
	svc      measurement.Service
	validate *validator.Validate
}

var measurementWriterRoles = []string{core.RoleSuperAdmin, core.RoleOrgAdmin, core.RoleOperator}

func registerMeasurementAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps Deps) {
	api := measurementApi{svc: deps.MeasurementSvc, validate: deps.Validate}

	mg := g.Group("/measurements", authed...)
	mg.GET("", api.query)
	mg.POST("", api.create, roleMiddleware(measurementWriterRoles...))
	mg.POST("/bulk", api.bulkImport, roleMiddleware(measurementWriterRoles...))
	mg.POST("/import", api.importCSV, roleMiddleware(measurementWriterRoles...))
	mg.GET("/export", api.exportCSV)
	mg.GET("/correlated", api.correlated)
	mg.POST("/batch-delete", api.batchDelete, roleMiddleware(measurementWriterRoles...))

	dg := mg.Group("/:id", objectMiddleware("id", api.getObject))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, roleMiddleware(measurementWriterRoles...))
	dg.DELETE("", api.destroy, roleMiddleware(measurementWriterRoles...))
}

func (api *measurementApi) getObject(ctx context.Context, actor core.Actor, id string) (interface{}, error) {
	return api.svc.Get(ctx, actor, id)
}

func contextObjectMeasurement(ctx echo.Context) (measurement.Measurement, error) {
	m, ok := ctx.Get(contextObjectKey).(measurement.Measurement)
	if !ok {
		return measurement.Measurement{}, errors.Wrap(errObjNotFoundInCtx, "retrieving measurement from context")
	}
	return m, nil
}

func bindMeasurementFilter(ctx echo.Context) (*measurement.QueryFilter, error) {
	filter := new(measurement.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return nil, errors.Wrap(err, "binding to QueryFilter")
	}
	filter.Clean()
	return filter, nil
}

func (api *measurementApi) query(ctx echo.Context) error {
	filter, err := bindMeasurementFilter(ctx)
	if err != nil {
		return err
	}

	ms, err := api.svc.Query(ctx.Request().Context(), getContextActor(ctx), filter)
	if err != nil {
		return errors.Wrap(err, "querying measurements")
	}
	if ms == nil {
		ms = []measurement.Measurement{}
	}
	return ctx.JSON(http.StatusOK, ms)
}

func (api *measurementApi) create(ctx echo.Context) error {
	var data measurement.NewMeasurement
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMeasurement")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	m, err := api.svc.Create(ctx.Request().Context(), getContextActor(ctx), data)
	if err != nil {
		return errors.Wrap(err, "creating measurement")
	}
	return ctx.JSON(http.StatusCreated, m)
}

func (api *measurementApi) bulkImport(ctx echo.Context) error {
	var data measurement.BulkImport
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to BulkImport")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	res, err := api.svc.BulkImport(ctx.Request().Context(), getContextActor(ctx), data.Rows)
	if err != nil {
		return errors.Wrap(err, "importing measurements")
	}
	return ctx.JSON(http.StatusOK, res)
}

// importCSV accepts the CSV either as the raw `text/csv` body or as the `file` part of a multipart form.
func (api *measurementApi) importCSV(ctx echo.Context) error {
	var r io.Reader
	req := ctx.Request()
	if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := ctx.FormFile("file")
		if err != nil {
			return core.NewValidationError(err, core.FieldError{Field: "file", Error: "a CSV file is required"})
		}
		f, err := fh.Open()
		if err != nil {
			return errors.Wrap(err, "opening uploaded file")
		}
		defer f.Close()
		r = f
	} else {
		r = req.Body
	}

	res, err := api.svc.ImportCSV(req.Context(), getContextActor(ctx), io.LimitReader(r, maxCSVBodySize))
	if err != nil {
		return errors.Wrap(err, "importing measurements csv")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *measurementApi) exportCSV(ctx echo.Context) error {
	filter, err := bindMeasurementFilter(ctx)
	if err != nil {
		return err
	}

	// buffered so that a failing query still gets a proper error response
	var buf bytes.Buffer
	if err = api.svc.ExportCSV(ctx.Request().Context(), getContextActor(ctx), filter, &buf); err != nil {
		return errors.Wrap(err, "exporting measurements")
	}

	ctx.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", measurement.ExportFilename(time.Now())))
	return ctx.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func parseOptFloat(field, s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, core.NewValidationError(err, core.FieldError{Field: field, Error: field + " must be a number"})
	}
	return &f, nil
}

// correlated reads `?condition=temperature:20:30&condition=weather:맑음|흐림&valueMin=&valueMax=`
// on top of the usual measurement filters.
func (api *measurementApi) correlated(ctx echo.Context) error {
	filter, err := bindMeasurementFilter(ctx)
	if err != nil {
		return err
	}

	var req measurement.CorrelationRequest
	for _, raw := range ctx.QueryParams()["condition"] {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		c, err := measurement.ParseCondition(raw)
		if err != nil {
			return core.NewValidationError(err, core.FieldError{Field: "condition", Error: err.Error()})
		}
		req.Conditions = append(req.Conditions, c)
	}
	if req.ValueMin, err = parseOptFloat("valueMin", ctx.QueryParam("valueMin")); err != nil {
		return err
	}
	if req.ValueMax, err = parseOptFloat("valueMax", ctx.QueryParam("valueMax")); err != nil {
		return err
	}

	ms, err := api.svc.Correlated(ctx.Request().Context(), getContextActor(ctx), filter, req)
	if err != nil {
		return errors.Wrap(err, "correlating measurements")
	}
	if ms == nil {
		ms = []measurement.Measurement{}
	}
	return ctx.JSON(http.StatusOK, ms)
}

func (api *measurementApi) batchDelete(ctx echo.Context) error {
	var data measurement.BatchDelete
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to BatchDelete")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	n, err := api.svc.BatchDelete(ctx.Request().Context(), getContextActor(ctx), data.IDs)
	if err != nil {
		return errors.Wrap(err, "deleting measurements")
	}
	return ctx.JSON(http.StatusOK, DeletedResponse{Deleted: n})
}

func (api *measurementApi) retrieve(ctx echo.Context) error {
	m, err := contextObjectMeasurement(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, m)
}

func (api *measurementApi) update(ctx echo.Context) error {
	m, err := contextObjectMeasurement(ctx)
	if err != nil {
		return err
	}
	var data measurement.UpdateMeasurement
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateMeasurement")
	}

	m, err = api.svc.Update(ctx.Request().Context(), getContextActor(ctx), m, data)
	if err != nil {
		return errors.Wrap(err, "updating measurement")
	}
	return ctx.JSON(http.StatusOK, m)
}

func (api *measurementApi) destroy(ctx echo.Context) error {
	m, err := contextObjectMeasurement(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), getContextActor(ctx), m.ID); err != nil {
		return errors.Wrap(err, "deleting measurement")
	}
	return ctx.NoContent(http.StatusNoContent)
}
