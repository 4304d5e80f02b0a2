package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core/report"
)

type reportApi struct {
	svc report.Service
}

func registerReportAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps Deps) {
	api := reportApi{svc: deps.ReportSvc}

	rg := g.Group("/reports", authed...)
	rg.GET("/summary", api.summary)
	rg.GET("/trends", api.trends)
	rg.GET("/stack-summary", api.stackSummary)
	rg.GET("/customers/:id", api.customerReport)
	rg.POST("/customers/:id/email", api.emailCustomerReport)

	ag := g.Group("/admin", authed...)
	ag.GET("/stats", api.adminStats, superAdminMiddleware())
}

func bindReportFilter(ctx echo.Context) (report.Filter, error) {
	var filter report.Filter
	if err := ctx.Bind(&filter); err != nil {
		return filter, errors.Wrap(err, "binding to report.Filter")
	}
	return filter, nil
}

func (api *reportApi) summary(ctx echo.Context) error {
	filter, err := bindReportFilter(ctx)
	if err != nil {
		return err
	}
	sum, err := api.svc.Summary(ctx.Request().Context(), getContextActor(ctx), filter)
	if err != nil {
		return errors.Wrap(err, "summarizing measurements")
	}
	return ctx.JSON(http.StatusOK, sum)
}

func (api *reportApi) trends(ctx echo.Context) error {
	filter, err := bindReportFilter(ctx)
	if err != nil {
		return err
	}
	tr, err := api.svc.Trends(ctx.Request().Context(), getContextActor(ctx), filter)
	if err != nil {
		return errors.Wrap(err, "computing trends")
	}
	return ctx.JSON(http.StatusOK, tr)
}

func (api *reportApi) stackSummary(ctx echo.Context) error {
	filter, err := bindReportFilter(ctx)
	if err != nil {
		return err
	}
	sums, err := api.svc.StackSummaries(ctx.Request().Context(), getContextActor(ctx), filter)
	if err != nil {
		return errors.Wrap(err, "summarizing stacks")
	}
	if sums == nil {
		sums = []report.StackSummary{}
	}
	return ctx.JSON(http.StatusOK, sums)
}

func (api *reportApi) customerReport(ctx echo.Context) error {
	filter, err := bindReportFilter(ctx)
	if err != nil {
		return err
	}
	rep, err := api.svc.CustomerReport(ctx.Request().Context(), getContextActor(ctx), ctx.Param("id"), filter)
	if err != nil {
		return errors.Wrap(err, "building customer report")
	}
	return ctx.JSON(http.StatusOK, rep)
}

func (api *reportApi) emailCustomerReport(ctx echo.Context) error {
	filter, err := bindReportFilter(ctx)
	if err != nil {
		return err
	}
	rep, err := api.svc.EmailCustomerReport(ctx.Request().Context(), getContextActor(ctx), ctx.Param("id"), filter)
	if err != nil {
		return errors.Wrap(err, "mailing customer report")
	}
	return ctx.JSON(http.StatusAccepted, rep)
}

func (api *reportApi) adminStats(ctx echo.Context) error {
	stats, err := api.svc.AdminStats(ctx.Request().Context(), getContextActor(ctx))
	if err != nil {
		return errors.Wrap(err, "computing admin stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}
