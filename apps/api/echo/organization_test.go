package echoapi_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	echoapi "github.com/tigrofin/pmms/apps/api/echo"
	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/organization"
	"github.com/tigrofin/pmms/core/user"
)

func Test_organizationApi_register(t *testing.T) {
	app := setup(t)
	superAdmin := app.createUser(t, "root@pmms.kr", core.RoleSuperAdmin, "", "", true)

	reg := organization.Registration{
		NewOrganization: organization.NewOrganization{Name: "Green Labs", BusinessNumber: "111-22-33333"},
		Admin: user.NewUser{
			Email: "boss@green.kr", Name: "Boss", Password: testPassword, PasswordConfirm: testPassword,
		},
		RegistrationReason: "측정 대행",
	}
	login := marshallObj(t, echoapi.LoginRequest{Email: "boss@green.kr", Password: testPassword})

	t.Run("bad business number", func(t *testing.T) {
		bad := reg
		bad.BusinessNumber = "1112233333"
		rec := app.do(newRequest(http.MethodPost, "/v1/organizations/register", marshallObj(t, bad)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "businessNumber")
	})

	var res echoapi.RegistrationResponse
	t.Run("pending registration", func(t *testing.T) {
		rec := app.do(newRequest(http.MethodPost, "/v1/organizations/register", marshallObj(t, reg)))
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		unmarshall(t, rec, &res)
		assert.False(t, res.Organization.IsActive)
		assert.Equal(t, organization.SubscriptionTrial, res.Organization.SubscriptionStatus)
		assert.Equal(t, core.RoleOrgAdmin, res.Admin.Role)
		assert.Equal(t, res.Organization.ID, res.Admin.OrganizationID)
		assert.Equal(t, user.StatusPending, res.Admin.Status)

		rec = app.do(newRequest(http.MethodPost, "/v1/users/login", login))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("business number taken", func(t *testing.T) {
		dup := reg
		dup.Admin.Email = "other@green.kr"
		rec := app.do(newRequest(http.MethodPost, "/v1/organizations/register", marshallObj(t, dup)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("only super admins approve", func(t *testing.T) {
		other := app.createOrganization(t, "Acme Testing", "123-45-67890")
		otherAdmin := app.createUser(t, "admin@acme.kr", core.RoleOrgAdmin, other.ID, "", true)

		path := "/v1/organizations/" + res.Organization.ID + "/approve"
		rec := app.do(newAuthRequest(http.MethodPost, path, app.token(t, otherAdmin)))
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = app.do(newAuthRequest(http.MethodPost, path, app.token(t, superAdmin)))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var org organization.Organization
		unmarshall(t, rec, &org)
		assert.True(t, org.IsActive)
		assert.Equal(t, organization.SubscriptionActive, org.SubscriptionStatus)

		rec = app.do(newRequest(http.MethodPost, "/v1/users/login", login))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		msgs := app.mailSvc.SentMessages()
		if assert.NotEmpty(t, msgs) {
			assert.Equal(t, "boss@green.kr", msgs[len(msgs)-1].To[0].Address)
		}
	})
}

func Test_organizationApi_access(t *testing.T) {
	app := setup(t)
	acme := app.createOrganization(t, "Acme Testing", "123-45-67890")
	other := app.createOrganization(t, "Other Testing", "222-33-44444")
	acmeAdmin := app.createUser(t, "admin@acme.kr", core.RoleOrgAdmin, acme.ID, "", true)
	acmeOp := app.createUser(t, "op@acme.kr", core.RoleOperator, acme.ID, "", true)

	tests := []httpTest{
		{name: "list is for super admins", path: "/v1/organizations", token: app.token(t, acmeAdmin), wantCode: http.StatusForbidden},
		{name: "own organization", path: "/v1/organizations/" + acme.ID, token: app.token(t, acmeOp), wantCode: http.StatusOK},
		{name: "other organization", path: "/v1/organizations/" + other.ID, token: app.token(t, acmeAdmin), wantCode: http.StatusNotFound},
		{
			name: "operators cannot edit", method: http.MethodPut, path: "/v1/organizations/" + acme.ID,
			token: app.token(t, acmeOp), body: []byte(`{"name":"Acme Renamed"}`), wantCode: http.StatusForbidden,
		},
		{
			name: "admins edit their organization", method: http.MethodPut, path: "/v1/organizations/" + acme.ID,
			token: app.token(t, acmeAdmin), body: []byte(`{"name":"Acme Renamed"}`), wantCode: http.StatusOK,
		},
		{
			name: "only super admins delete", method: http.MethodDelete, path: "/v1/organizations/" + acme.ID,
			token: app.token(t, acmeAdmin), wantCode: http.StatusForbidden,
		},
	}
	runHTTPTests(t, app, tests)
}
