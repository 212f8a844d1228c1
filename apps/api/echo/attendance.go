package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/classledger/core/attendance"
)

type (
	captureRequest struct {
		SessionDate  string                    `json:"session_date" validate:"required,isodate"`
		LearnerHours []attendance.LearnerHours `json:"learner_hours" validate:"required"`
	}

	exceptionRequest struct {
		SessionDate   string `json:"session_date" validate:"required,isodate"`
		ExceptionType string `json:"exception_type" validate:"required,exceptiontype"`
		Notes         string `json:"notes"`
	}
)

type attendanceApi struct {
	svc      *attendance.Service
	auth     authenticator
	validate *validator.Validate
}

func registerAttendanceAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth authenticator, svc *attendance.Service, validate *validator.Validate) {
	api := attendanceApi{
		svc:      svc,
		auth:     auth,
		validate: validate,
	}

	cg := g.Group("/classes/:class_id/sessions", jwt)
	cg.GET("", api.listSessions)
	cg.POST("/capture", api.capture)
	cg.POST("/exception", api.markException)

	sg := g.Group("/sessions/:session_id", jwt)
	sg.GET("", api.retrieveSession)
	sg.DELETE("", api.destroySession, adminMiddleware())
}

// Handlers

func (api *attendanceApi) listSessions(ctx echo.Context) error {
	classID, err := classIDParam(ctx)
	if err != nil {
		return err
	}
	sessions, err := api.svc.ListSessions(ctx.Request().Context(), classID)
	if err != nil {
		return errors.Wrap(err, "listing sessions")
	}
	if sessions == nil {
		sessions = []attendance.SessionView{}
	}
	return ctx.JSON(http.StatusOK, echo.Map{"sessions": sessions})
}

func (api *attendanceApi) capture(ctx echo.Context) error {
	classID, err := classIDParam(ctx)
	if err != nil {
		return err
	}
	var data captureRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to captureRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	actor, err := api.auth.actor(ctx)
	if err != nil {
		return err
	}
	req := attendance.CaptureRequest{
		ClassID:      classID,
		SessionDate:  data.SessionDate,
		LearnerHours: data.LearnerHours,
	}
	entries, err := api.svc.Capture(ctx.Request().Context(), req, actor)
	if err != nil {
		return errors.Wrap(err, "capturing attendance")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"entries": entries})
}

func (api *attendanceApi) markException(ctx echo.Context) error {
	classID, err := classIDParam(ctx)
	if err != nil {
		return err
	}
	var data exceptionRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to exceptionRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	actor, err := api.auth.actor(ctx)
	if err != nil {
		return err
	}
	req := attendance.ExceptionRequest{
		ClassID:     classID,
		SessionDate: data.SessionDate,
		Type:        attendance.ExceptionType(data.ExceptionType),
		Notes:       data.Notes,
	}
	view, err := api.svc.MarkException(ctx.Request().Context(), req, actor)
	if err != nil {
		return errors.Wrap(err, "marking session exception")
	}
	return ctx.JSON(http.StatusOK, view)
}

func (api *attendanceApi) retrieveSession(ctx echo.Context) error {
	detail, err := api.svc.GetSessionDetail(ctx.Request().Context(), ctx.Param("session_id"))
	if err != nil {
		return errors.Wrap(err, "getting session detail")
	}
	return ctx.JSON(http.StatusOK, detail)
}

func (api *attendanceApi) destroySession(ctx echo.Context) error {
	actor, err := api.auth.actor(ctx)
	if err != nil {
		return err
	}
	res, err := api.svc.DeleteAndReverse(ctx.Request().Context(), ctx.Param("session_id"), actor)
	if err != nil {
		return errors.Wrap(err, "deleting session")
	}
	return ctx.JSON(http.StatusOK, echo.Map{
		"deleted":    true,
		"session_id": res.SessionID,
		"reversed":   res.Reversed,
	})
}
