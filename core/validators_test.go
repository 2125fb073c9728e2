package core

import (
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitValidators_fieldComparisons(t *testing.T) {
	validate := validator.New()
	translator, _ := ut.New(en.New()).GetTranslator("en")
	InitValidators(validate, translator)

	type period struct {
		StartDate Date `json:"startDate"`
		EndDate   Date `json:"endDate" validate:"gtefield=StartDate"`
	}
	type secret struct {
		Password        string `json:"password"`
		PasswordConfirm string `json:"passwordConfirm" validate:"eqfield=Password"`
	}

	tests := []struct {
		name string
		obj  interface{}
		want map[string]string
	}{
		{
			name: "gtefield",
			obj:  period{StartDate: NewDate(2025, 5, 5), EndDate: NewDate(2025, 5, 1)},
			want: map[string]string{"endDate": "endDate must be on or after startDate"},
		},
		{
			name: "eqfield",
			obj:  secret{Password: "a", PasswordConfirm: "b"},
			want: map[string]string{"passwordConfirm": "passwordConfirm must be equal to password"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var vErrs validator.ValidationErrors
			require.True(t, errors.As(validate.Struct(tt.obj), &vErrs))
			got := map[string]string{}
			for _, fe := range vErrs {
				got[fe.Field()] = fe.Translate(translator)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func Test_jsonFieldName(t *testing.T) {
	assert.Equal(t, "startDate", jsonFieldName("StartDate"))
	assert.Equal(t, "password", jsonFieldName("Password"))
	assert.Equal(t, "", jsonFieldName(""))
}
