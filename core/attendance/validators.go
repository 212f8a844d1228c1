package attendance

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/classledger/core"
)

var (
	exceptionTypeTag  = "exceptiontype"
	exceptionTypeText = "{0} must be one of client_cancelled or agent_absent"
)

func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(exceptionTypeTag, exceptionTypeValidation)
	core.RegisterCustomTranslation(validate, translator, exceptionTypeTag, exceptionTypeText)
}

func exceptionTypeValidation(fl validator.FieldLevel) bool {
	_, ok := ParseExceptionType(fl.Field().String())
	return ok
}
