package user

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/tigrofin/pmms/core"
)

func TestCheckPassword(t *testing.T) {
	tests := []struct {
		name     string
		pwd      string
		usrAttrs []string
		want     string
	}{
		{name: "too short", pwd: "Ab1!", want: pwdMinLenTag},
		{name: "whitespace", pwd: "Abcd 1234!", want: pwdNoSpaceTag},
		{name: "all numeric", pwd: "1234567890", want: pwdNotAllNumTag},
		{name: "no special", pwd: "Abcdefgh1", want: pwdComplexityTag},
		{name: "no upper", pwd: "abcdefg1!", want: pwdComplexityTag},
		{name: "similar to name", pwd: "Kimkwanri1!", usrAttrs: []string{"kimkwanri1"}, want: pwdAttrSimTag},
		{name: "common", pwd: "P@ssw0rd", want: pwdNoCommonTag},
		{name: "valid", pwd: "Gr3en!Stack#Ok", usrAttrs: []string{"Kim", "kim@pmms.test"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checkPassword(tt.pwd, tt.usrAttrs...))
		})
	}
}

func TestNewUserStructValidation(t *testing.T) {
	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	RegisterValidators(validate, translator)

	tests := []struct {
		name       string
		nu         NewUser
		wantFields []string
	}{
		{
			name: "org role without organization",
			nu: NewUser{
				Email: "op@pmms.test", Name: "Op", Role: core.RoleOperator,
				Password: "Gr3en!Stack#Ok", PasswordConfirm: "Gr3en!Stack#Ok",
			},
			wantFields: []string{"organizationId"},
		},
		{
			name: "customer role without customer",
			nu: NewUser{
				Email: "cu@pmms.test", Name: "Cu", Role: core.RoleCustomerUser,
				Password: "Gr3en!Stack#Ok", PasswordConfirm: "Gr3en!Stack#Ok",
			},
			wantFields: []string{"customerId"},
		},
		{
			name: "bad password & role",
			nu: NewUser{
				Email: "x@pmms.test", Name: "X", Role: "GOD",
				Password: "short", PasswordConfirm: "short",
			},
			wantFields: []string{"role", "password"},
		},
		{
			name: "valid",
			nu: NewUser{
				Email: "op@pmms.test", Name: "Op", Role: core.RoleOperator, OrganizationID: "org",
				Password: "Gr3en!Stack#Ok", PasswordConfirm: "Gr3en!Stack#Ok",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Struct(tt.nu)
			if tt.wantFields == nil {
				assert.NoError(t, err)
				return
			}
			vErrs, ok := err.(validator.ValidationErrors)
			if !assert.True(t, ok, "expected validator.ValidationErrors, got %v", err) {
				return
			}
			fields := make([]string, 0, len(vErrs))
			for _, fe := range vErrs {
				fields = append(fields, fe.Field())
			}
			assert.ElementsMatch(t, tt.wantFields, fields)
		})
	}
}
