package school

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/amboseli-lewis/sms/core"
)

var (
	payMethodTag  = "paymethod"
	payMethodText = "{0} must be one of CASH, BANK or MOBILE"
)

// InitValidators registers the school validations. core.InitValidators must run first.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(payMethodTag, payMethodValidation)
	core.RegisterCustomTranslation(validate, translator, payMethodTag, payMethodText)
}

func payMethodValidation(fl validator.FieldLevel) bool {
	method := fl.Field().String()
	for _, m := range PaymentMethods {
		if method == m {
			return true
		}
	}
	return false
}
