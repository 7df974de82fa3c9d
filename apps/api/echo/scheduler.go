package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type schedulerApi struct {
	sched SchedulerControl
}

func registerSchedulerAPI(g *echo.Group, jwt echo.MiddlewareFunc, sched SchedulerControl) {
	api := schedulerApi{sched: sched}

	sg := g.Group("/scheduler", jwt, adminMiddleware())
	sg.GET("", api.status)
	sg.POST("/start", api.start)
	sg.POST("/stop", api.stop)

	g.POST("/alerts/process-all", api.processAll, jwt, adminMiddleware())
}

func (api *schedulerApi) status(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.sched.Status())
}

func (api *schedulerApi) start(ctx echo.Context) error {
	if err := api.sched.Start(); err != nil {
		return errors.Wrap(err, "starting scheduler")
	}
	return ctx.JSON(http.StatusOK, api.sched.Status())
}

func (api *schedulerApi) stop(ctx echo.Context) error {
	if err := api.sched.Stop(); err != nil {
		return errors.Wrap(err, "stopping scheduler")
	}
	return ctx.JSON(http.StatusOK, api.sched.Status())
}

// processAll runs a sweep now and answers with its report; 409 while another sweep runs.
func (api *schedulerApi) processAll(ctx echo.Context) error {
	report, err := api.sched.RunNow(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "sweeping enrollments")
	}
	return ctx.JSON(http.StatusOK, report)
}
