package logsvc

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/user"
)

func Test_entry(t *testing.T) {
	errBoom := errors.New("boom")
	operator := user.User{ID: "u1", Name: "Op", Email: "op@acme.kr", Role: core.RoleOperator, OrganizationID: "o1"}

	tests := []struct {
		name       string
		args       []interface{}
		wantPerson *person
		wantArgs   []interface{}
	}{
		{
			name:     "no person",
			args:     []interface{}{errBoom},
			wantArgs: []interface{}{"msg", errBoom},
		},
		{
			name:       "user tenant is added to the extras",
			args:       []interface{}{errBoom, map[string]interface{}{"path": "/v1/stacks"}, &operator},
			wantPerson: &person{id: "u1", name: "Op", email: "op@acme.kr"},
			wantArgs: []interface{}{"msg", errBoom, map[string]interface{}{
				"path":   "/v1/stacks",
				"tenant": map[string]interface{}{"role": core.RoleOperator, "organizationId": "o1"},
			}},
		},
		{
			name:       "background actor",
			args:       []interface{}{core.Actor{UserID: "u2", Role: core.RoleCustomerAdmin, CustomerID: "c1"}},
			wantPerson: &person{id: "u2"},
			wantArgs: []interface{}{"msg", map[string]interface{}{
				"tenant": map[string]interface{}{"role": core.RoleCustomerAdmin, "customerId": "c1"},
			}},
		},
		{
			name:       "only the first person counts",
			args:       []interface{}{core.SystemActor, operator},
			wantPerson: &person{},
			wantArgs: []interface{}{"msg", map[string]interface{}{
				"tenant": map[string]interface{}{"role": core.RoleSuperAdmin},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, args := entry("msg", tt.args)
			assert.Equal(t, tt.wantPerson, p)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}
