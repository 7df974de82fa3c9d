package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tahadhari/core/alert"
)

type (
	MarksRequest struct {
		StudentID  int      `json:"student_id" validate:"required,gt=0"`
		CourseID   int      `json:"course_id" validate:"required,gt=0"`
		Assessment string   `json:"assessment" validate:"required,assessment"`
		Marks      *float64 `json:"marks" validate:"omitempty,percentage"` // null clears the mark
	}

	AttendanceRequest struct {
		StudentID  int      `json:"student_id" validate:"required,gt=0"`
		CourseID   int      `json:"course_id" validate:"required,gt=0"`
		Percentage *float64 `json:"attendance_percentage" validate:"omitempty,percentage"`
	}

	// PredictionRequest announces a new prediction; without a percentage the prediction service is asked.
	PredictionRequest struct {
		StudentID  int      `json:"student_id" validate:"required,gt=0"`
		CourseID   int      `json:"course_id" validate:"required,gt=0"`
		Percentage *float64 `json:"predicted_percentage" validate:"omitempty,percentage"`
	}
)

type alertApi struct {
	svc      *alert.Service
	validate *validator.Validate
}

func registerAlertAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *alert.Service, validate *validator.Validate) {
	api := alertApi{
		svc:      svc,
		validate: validate,
	}

	ag := g.Group("/alerts", jwt)
	ag.GET("", api.list)
	ag.GET("/statistics", api.statistics)
	ag.GET("/preferences", api.preferences)
	ag.PUT("/preferences", api.updatePreferences)
	ag.POST("/:id/read", api.markRead)
	ag.POST("/:id/resolve", api.markResolved)
	ag.POST("/:id/dismiss", api.dismiss)

	// lecturer endpoints
	ag.GET("/at-risk", api.atRisk, lecturerMiddleware())

	// admin endpoints
	ag.GET("/analytics", api.analytics, adminMiddleware())
	ag.POST("/process/:student_id/:course_id", api.process, adminMiddleware())

	// writes that trigger alert generation
	g.PUT("/marks", api.recordMarks, jwt, staffMiddleware())
	g.PUT("/attendance", api.recordAttendance, jwt, staffMiddleware())
	g.POST("/predictions", api.recordPrediction, jwt, staffMiddleware())
}

func pathID(ctx echo.Context, name string) (int, error) {
	id, err := strconv.Atoi(ctx.Param(name))
	if err != nil || id <= 0 {
		return 0, errHttpNotFound
	}
	return id, nil
}

// Handlers

func (api *alertApi) list(ctx echo.Context) error {
	rt, uid, err := bindRecipient(ctx)
	if err != nil {
		return err
	}
	filter, err := bindAlertFilter(ctx)
	if err != nil {
		return err
	}

	res, err := api.svc.ListAlerts(ctx.Request().Context(), rt, uid, filter)
	if err != nil {
		return errors.Wrap(err, "listing alerts")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *alertApi) statistics(ctx echo.Context) error {
	rt, uid, err := bindRecipient(ctx)
	if err != nil {
		return err
	}
	st, err := api.svc.GetStatistics(ctx.Request().Context(), rt, uid)
	if err != nil {
		return errors.Wrap(err, "getting alert statistics")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *alertApi) atRisk(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	courseID, err := queryPositiveInt(ctx, "course_id")
	if err != nil {
		return err
	}
	report, err := api.svc.AtRiskStudents(ctx.Request().Context(), claims.UserID, courseID)
	if err != nil {
		return errors.Wrap(err, "listing at-risk students")
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *alertApi) setFlag(ctx echo.Context, set func(alertID int, rt alert.RecipientType, uid int) error) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}
	rt, uid, err := bindRecipient(ctx)
	if err != nil {
		return err
	}
	if err = set(id, rt, uid); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *alertApi) markRead(ctx echo.Context) error {
	return api.setFlag(ctx, func(id int, rt alert.RecipientType, uid int) error {
		return errors.Wrap(api.svc.MarkRead(ctx.Request().Context(), id, rt, uid), "marking alert as read")
	})
}

func (api *alertApi) markResolved(ctx echo.Context) error {
	return api.setFlag(ctx, func(id int, rt alert.RecipientType, uid int) error {
		return errors.Wrap(api.svc.MarkResolved(ctx.Request().Context(), id, rt, uid), "marking alert as resolved")
	})
}

func (api *alertApi) dismiss(ctx echo.Context) error {
	return api.setFlag(ctx, func(id int, rt alert.RecipientType, uid int) error {
		return errors.Wrap(api.svc.Dismiss(ctx.Request().Context(), id, rt, uid), "dismissing alert")
	})
}

func (api *alertApi) preferences(ctx echo.Context) error {
	_, uid, err := bindRecipient(ctx)
	if err != nil {
		return err
	}
	p, err := api.svc.GetPreferences(ctx.Request().Context(), uid)
	if err != nil {
		return errors.Wrap(err, "getting preferences")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *alertApi) updatePreferences(ctx echo.Context) error {
	_, uid, err := bindRecipient(ctx)
	if err != nil {
		return err
	}
	var data alert.UpdatePreferences
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdatePreferences")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	p, err := api.svc.UpdatePreferences(ctx.Request().Context(), uid, data)
	if err != nil {
		return errors.Wrap(err, "updating preferences")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *alertApi) analytics(ctx echo.Context) error {
	period, err := queryPositiveInt(ctx, "period")
	if err != nil {
		return err
	}
	an, err := api.svc.GetAnalytics(ctx.Request().Context(), period.Int)
	if err != nil {
		return errors.Wrap(err, "getting alert analytics")
	}
	return ctx.JSON(http.StatusOK, an)
}

func (api *alertApi) process(ctx echo.Context) error {
	sid, err := pathID(ctx, "student_id")
	if err != nil {
		return err
	}
	cid, err := pathID(ctx, "course_id")
	if err != nil {
		return err
	}
	if err = api.svc.TriggerProcessing(ctx.Request().Context(), sid, cid); err != nil {
		return errors.Wrap(err, "processing enrollment")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *alertApi) recordMarks(ctx echo.Context) error {
	var data MarksRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MarksRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	err := api.svc.RecordMarks(ctx.Request().Context(), data.StudentID, data.CourseID, data.Assessment, null.Float64FromPtr(data.Marks))
	if err != nil {
		return errors.Wrap(err, "recording marks")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *alertApi) recordAttendance(ctx echo.Context) error {
	var data AttendanceRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AttendanceRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	err := api.svc.RecordAttendance(ctx.Request().Context(), data.StudentID, data.CourseID, null.Float64FromPtr(data.Percentage))
	if err != nil {
		return errors.Wrap(err, "recording attendance")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *alertApi) recordPrediction(ctx echo.Context) error {
	var data PredictionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PredictionRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	api.svc.RecordPrediction(ctx.Request().Context(), data.StudentID, data.CourseID, null.Float64FromPtr(data.Percentage))
	return ctx.NoContent(http.StatusAccepted)
}
