package class

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/classledger/core"
)

var (
	// custom validation tags & texts
	classStatusTag  = "classstatus"
	classStatusText = "{0} must be one of draft, active or stopped"

	stopReasonTag  = "stopreason"
	stopReasonText = "{0} must be one of programme_ended, temporary_hold or annual_stop"
)

func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(classStatusTag, classStatusValidation)
	core.RegisterCustomTranslation(validate, translator, classStatusTag, classStatusText)

	_ = validate.RegisterValidation(stopReasonTag, stopReasonValidation)
	core.RegisterCustomTranslation(validate, translator, stopReasonTag, stopReasonText)
}

func classStatusValidation(fl validator.FieldLevel) bool {
	_, ok := ParseStatus(fl.Field().String())
	return ok
}

// stopReasonValidation accepts an empty value: the reason is only required when stopping.
func stopReasonValidation(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	_, ok := ParseStopReason(s)
	return ok
}
