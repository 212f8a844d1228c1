package echoapi

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/classledger/core"
)

// classIDParam reads the :class_id path parameter.
func classIDParam(ctx echo.Context) (int, error) {
	raw := ctx.Param("class_id")
	id, err := strconv.Atoi(raw)
	if raw == "" || err != nil || id <= 0 {
		return 0, core.NewValidationError(nil, core.FieldError{Field: "class_id", Error: "a valid class id is required"})
	}
	return id, nil
}
