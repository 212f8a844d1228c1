package echoapi

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/classledger/core/class"
)

type statusRequest struct {
	NewStatus  string `json:"new_status" validate:"required,classstatus"`
	OrderNr    string `json:"order_nr"`
	StopReason string `json:"stop_reason"` // checked by the state machine, after the same-state guard
	Notes      string `json:"notes"`
}

type classApi struct {
	svc      *class.Service
	auth     authenticator
	validate *validator.Validate
}

func registerClassAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth authenticator, svc *class.Service, validate *validator.Validate) {
	api := classApi{
		svc:      svc,
		auth:     auth,
		validate: validate,
	}

	cg := g.Group("/classes/:class_id", jwt)
	cg.GET("", api.retrieve)
	cg.POST("/status", api.updateStatus, adminMiddleware())
	cg.GET("/status/history", api.history, adminMiddleware())
}

// Handlers

func (api *classApi) retrieve(ctx echo.Context) error {
	id, err := classIDParam(ctx)
	if err != nil {
		return err
	}
	summary, err := api.svc.GetClass(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "getting class")
	}
	return ctx.JSON(http.StatusOK, summary)
}

func (api *classApi) updateStatus(ctx echo.Context) error {
	id, err := classIDParam(ctx)
	if err != nil {
		return err
	}
	var data statusRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to statusRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	actor, err := api.auth.actor(ctx)
	if err != nil {
		return err
	}
	req := class.TransitionRequest{
		ClassID:    id,
		Target:     class.Status(data.NewStatus),
		OrderNr:    data.OrderNr,
		StopReason: class.StopReason(data.StopReason),
		Notes:      data.Notes,
	}
	status, err := api.svc.RequestTransition(ctx.Request().Context(), req, actor)
	if err != nil {
		return errors.Wrap(err, "requesting status transition")
	}
	return ctx.JSON(http.StatusOK, echo.Map{
		"status":  status,
		"message": fmt.Sprintf("class status changed to %s", status),
	})
}

func (api *classApi) history(ctx echo.Context) error {
	id, err := classIDParam(ctx)
	if err != nil {
		return err
	}
	entries, err := api.svc.History(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "querying status history")
	}
	if entries == nil {
		entries = []class.HistoryEntry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}
