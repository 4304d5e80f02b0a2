package echoapi_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	echoapi "github.com/tigrofin/pmms/apps/api/echo"
	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/measurement"
	"github.com/tigrofin/pmms/core/user"
)

func Test_userApi_login(t *testing.T) {
	app := setup(t)
	org := app.createOrganization(t, "Acme Testing", "123-45-67890")
	admin := app.createUser(t, "admin@acme.kr", core.RoleOrgAdmin, org.ID, "", true)
	app.createUser(t, "pending@acme.kr", core.RoleOperator, org.ID, "", false)
	inactive := app.createUser(t, "inactive@acme.kr", core.RoleOperator, org.ID, "", true)
	inactive.IsActive = false
	if _, err := app.usrRepo.UpdateUser(context.Background(), inactive); err != nil {
		t.Fatalf("UpdateUser(): %v", err)
	}

	body := func(email, pwd string) []byte {
		return marshallObj(t, echoapi.LoginRequest{Email: email, Password: pwd})
	}

	tests := []httpTest{
		{
			name: "missing fields", method: http.MethodPost, path: "/v1/users/login", body: []byte(`{}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"email":"this field is required","password":"this field is required"}`),
		},
		{
			name: "unknown email", method: http.MethodPost, path: "/v1/users/login", body: body("nobody@acme.kr", testPassword),
			wantCode: http.StatusBadRequest, wantData: marshallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", method: http.MethodPost, path: "/v1/users/login", body: body("admin@acme.kr", "nope"),
			wantCode: http.StatusBadRequest, wantData: marshallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "not approved", method: http.MethodPost, path: "/v1/users/login", body: body("pending@acme.kr", testPassword),
			wantCode: http.StatusForbidden, wantData: marshallObj(t, httpErr{Error: "account is not approved yet"}),
		},
		{
			name: "deactivated", method: http.MethodPost, path: "/v1/users/login", body: body("inactive@acme.kr", testPassword),
			wantCode: http.StatusForbidden, wantData: marshallObj(t, httpErr{Error: "account deactivated"}),
		},
	}
	runHTTPTests(t, app, tests)

	t.Run("success (email is case insensitive)", func(t *testing.T) {
		rec := app.do(newRequest(http.MethodPost, "/v1/users/login", body(" ADMIN@acme.kr", testPassword)))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var res echoapi.LoginResponse
		unmarshall(t, rec, &res)
		assert.NotEmpty(t, res.Token)
		assert.Equal(t, admin.ID, res.User.ID)
		assert.Equal(t, 1, res.User.LoginCount)

		// the token opens the authed endpoints
		rec = app.do(newAuthRequest(http.MethodGet, "/v1/users/me", res.Token))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func Test_userApi_authRequired(t *testing.T) {
	app := setup(t)
	org := app.createOrganization(t, "Acme Testing", "123-45-67890")
	operator := app.createUser(t, "op@acme.kr", core.RoleOperator, org.ID, "", true)

	tests := []httpTest{
		{name: "no token", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marshallObj(t, errMissingToken)},
		{name: "bad token", path: "/v1/users", token: "lol", wantCode: http.StatusUnauthorized},
		{
			name: "admin role required", path: "/v1/users", token: app.token(t, operator),
			wantCode: http.StatusForbidden, wantData: marshallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "me", path: "/v1/users/me", token: app.token(t, operator), wantCode: http.StatusOK, wantData: marshallObj(t, operator)},
		{name: "roles", path: "/v1/users/roles", token: app.token(t, operator), wantCode: http.StatusOK, wantData: marshallObj(t, user.Roles)},
	}
	runHTTPTests(t, app, tests)

	t.Run("token of a deleted user", func(t *testing.T) {
		ghost := app.createUser(t, "ghost@acme.kr", core.RoleOperator, org.ID, "", true)
		token := app.token(t, ghost)
		if _, err := app.usrRepo.DeleteUsersByID(context.Background(), []string{ghost.ID}); err != nil {
			t.Fatalf("DeleteUsersByID(): %v", err)
		}
		rec := app.do(newAuthRequest(http.MethodGet, "/v1/users/me", token))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func Test_userApi_tenancy(t *testing.T) {
	app := setup(t)
	acme := app.createOrganization(t, "Acme Testing", "123-45-67890")
	other := app.createOrganization(t, "Other Testing", "222-33-44444")

	superAdmin := app.createUser(t, "root@pmms.kr", core.RoleSuperAdmin, "", "", true)
	acmeAdmin := app.createUser(t, "admin@acme.kr", core.RoleOrgAdmin, acme.ID, "", true)
	acmeOp := app.createUser(t, "op@acme.kr", core.RoleOperator, acme.ID, "", true)
	otherAdmin := app.createUser(t, "admin@other.kr", core.RoleOrgAdmin, other.ID, "", true)

	t.Run("org admins only see their organization", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodGet, "/v1/users", app.token(t, acmeAdmin)))
		assert.Equal(t, http.StatusOK, rec.Code)

		var users []user.User
		unmarshall(t, rec, &users)
		ids := make([]string, 0, len(users))
		for _, u := range users {
			ids = append(ids, u.ID)
		}
		assert.ElementsMatch(t, []string{acmeAdmin.ID, acmeOp.ID}, ids)
	})

	t.Run("users of other organizations are not found", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodGet, "/v1/users/"+otherAdmin.ID, app.token(t, acmeAdmin)))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("super admin sees everyone", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodGet, "/v1/users", app.token(t, superAdmin)))
		assert.Equal(t, http.StatusOK, rec.Code)

		var users []user.User
		unmarshall(t, rec, &users)
		assert.Len(t, users, 4)
	})

	t.Run("operators can only edit themselves", func(t *testing.T) {
		body := []byte(`{"name":"Renamed"}`)
		rec := app.do(newAuthRequest(http.MethodPut, "/v1/users/"+acmeAdmin.ID, app.token(t, acmeOp), body))
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = app.do(newAuthRequest(http.MethodPut, "/v1/users/"+acmeOp.ID, app.token(t, acmeOp), body))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var usr user.User
		unmarshall(t, rec, &usr)
		assert.Equal(t, "Renamed", usr.Name)
	})

	t.Run("admins cannot delete themselves", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodDelete, "/v1/users/"+acmeAdmin.ID, app.token(t, acmeAdmin)))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func Test_userApi_create(t *testing.T) {
	app := setup(t)
	acme := app.createOrganization(t, "Acme Testing", "123-45-67890")
	acmeAdmin := app.createUser(t, "admin@acme.kr", core.RoleOrgAdmin, acme.ID, "", true)
	token := app.token(t, acmeAdmin)

	newUser := func(email, role, pwd string) []byte {
		return marshallObj(t, user.NewUser{
			Email: email, Name: "New Operator", Role: role, Password: pwd, PasswordConfirm: pwd,
		})
	}

	t.Run("weak password", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodPost, "/v1/users", token, newUser("new@acme.kr", core.RoleOperator, "password")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "password")
	})

	t.Run("email taken", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodPost, "/v1/users", token, newUser("admin@acme.kr", core.RoleOperator, testPassword)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("org admins cannot create super admins", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodPost, "/v1/users", token, newUser("root@acme.kr", core.RoleSuperAdmin, testPassword)))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("operator of the admin's organization", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodPost, "/v1/users", token, newUser("new@acme.kr", core.RoleOperator, testPassword)))
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var usr user.User
		unmarshall(t, rec, &usr)
		assert.Equal(t, acme.ID, usr.OrganizationID)
		assert.Equal(t, user.StatusApproved, usr.Status)
		assert.True(t, usr.IsActive)
	})
}

func Test_userApi_approval(t *testing.T) {
	app := setup(t)
	acme := app.createOrganization(t, "Acme Testing", "123-45-67890")
	acmeAdmin := app.createUser(t, "admin@acme.kr", core.RoleOrgAdmin, acme.ID, "", true)
	pending := app.createUser(t, "pending@acme.kr", core.RoleOperator, acme.ID, "", false)
	token := app.token(t, acmeAdmin)

	rec := app.do(newAuthRequest(http.MethodPost, "/v1/users/"+pending.ID+"/approve", token))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var usr user.User
	unmarshall(t, rec, &usr)
	assert.Equal(t, user.StatusApproved, usr.Status)

	rec = app.do(newRequest(http.MethodPost, "/v1/users/login",
		marshallObj(t, echoapi.LoginRequest{Email: pending.Email, Password: testPassword})))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = app.do(newAuthRequest(http.MethodPost, "/v1/users/"+pending.ID+"/reject", token))
	assert.Equal(t, http.StatusOK, rec.Code)
	unmarshall(t, rec, &usr)
	assert.Equal(t, user.StatusRejected, usr.Status)

	// rejected users are locked out at once, even with a valid token
	rec = app.do(newAuthRequest(http.MethodGet, "/v1/users/me", app.token(t, usr)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func Test_userApi_passwords(t *testing.T) {
	app := setup(t)
	acme := app.createOrganization(t, "Acme Testing", "123-45-67890")
	op := app.createUser(t, "op@acme.kr", core.RoleOperator, acme.ID, "", true)

	t.Run("reset request never leaks accounts", func(t *testing.T) {
		for _, email := range []string{"unknown@acme.kr", op.Email} {
			rec := app.do(newRequest(http.MethodPost, "/v1/users/password-reset",
				marshallObj(t, echoapi.PasswordResetRequest{Email: email})))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), "If the email address supplied")
		}
		msgs := app.mailSvc.SentMessages()
		if assert.Len(t, msgs, 1) {
			assert.Equal(t, op.Email, msgs[0].To[0].Address)
			assert.Equal(t, "password_reset", msgs[0].TemplateName)
			assert.True(t, strings.Contains(msgs[0].TextContent, "/reset-password?uid="))
		}
	})

	t.Run("change password", func(t *testing.T) {
		newPwd := "N3w-Passw0rd!"
		body := marshallObj(t, user.ChangePassword{
			OldPassword: "wrong", Password: newPwd, PasswordConfirm: newPwd,
		})
		rec := app.do(newAuthRequest(http.MethodPost, "/v1/users/change-password", app.token(t, op), body))
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		body = marshallObj(t, user.ChangePassword{
			OldPassword: testPassword, Password: newPwd, PasswordConfirm: newPwd,
		})
		rec = app.do(newAuthRequest(http.MethodPost, "/v1/users/change-password", app.token(t, op), body))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = app.do(newRequest(http.MethodPost, "/v1/users/login",
			marshallObj(t, echoapi.LoginRequest{Email: op.Email, Password: newPwd})))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("token refresh", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodPost, "/v1/users/token-refresh", app.token(t, op)))
		assert.Equal(t, http.StatusOK, rec.Code)
		var res echoapi.LoginResponse
		unmarshall(t, rec, &res)
		assert.NotEmpty(t, res.Token)
		assert.Equal(t, op.ID, res.User.ID)
	})
}

func Test_userApi_roleChange(t *testing.T) {
	f := newMeasurementFixture(t)
	f.create(t, "#1", "EA-I-0001", "42.5", "2024-03-15T09:30:00")
	superAdmin := f.app.createUser(t, "root@pmms.kr", core.RoleSuperAdmin, "", "", true)
	token := f.app.token(t, superAdmin)
	path := "/v1/users/" + f.otherOp.ID

	tests := []httpTest{
		{
			name: "customer roles need a customer", method: http.MethodPut, path: path, token: token,
			body:     []byte(`{"role":"CUSTOMER_USER"}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"customerId":"customerId is required for this role"}`),
		},
		{
			name: "the user still sees nothing of other organizations", path: "/v1/measurements", token: f.app.token(t, f.otherOp),
			wantCode: http.StatusOK, wantData: []byte(`[]`),
		},
	}
	runHTTPTests(t, f.app, tests)

	t.Run("moving to a customer drops the organization", func(t *testing.T) {
		body := []byte(`{"role":"CUSTOMER_USER","customerId":"` + f.custID + `"}`)
		rec := f.app.do(newAuthRequest(http.MethodPut, path, token, body))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var usr user.User
		unmarshall(t, rec, &usr)
		assert.Equal(t, core.RoleCustomerUser, usr.Role)
		assert.Empty(t, usr.OrganizationID)
		assert.Equal(t, f.custID, usr.CustomerID)

		rec = f.app.do(newAuthRequest(http.MethodGet, "/v1/measurements", f.app.token(t, usr)))
		assert.Equal(t, http.StatusOK, rec.Code)
		var ms []measurement.Measurement
		unmarshall(t, rec, &ms)
		if assert.Len(t, ms, 1) {
			assert.Equal(t, f.custID, ms[0].CustomerID)
		}

		rec = f.app.do(newAuthRequest(http.MethodPut, path, token, []byte(`{"role":"OPERATOR"}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"organizationId":"organizationId is required for this role"}`, rec.Body.String())
	})

	t.Run("tenant roles without their tenant see nothing", func(t *testing.T) {
		ghost := f.app.createUser(t, "ghost@acme.kr", core.RoleOperator, "", "", true)
		ghostToken := f.app.token(t, ghost)
		for _, p := range []string{"/v1/measurements", "/v1/customers", "/v1/stacks", "/v1/contracts"} {
			rec := f.app.do(newAuthRequest(http.MethodGet, p, ghostToken))
			assert.Equal(t, http.StatusOK, rec.Code, p)
			assert.JSONEq(t, `[]`, rec.Body.String(), p)
		}
		rec := f.app.do(newAuthRequest(http.MethodPost, "/v1/measurements", ghostToken,
			[]byte(`{"customerId":"`+f.custID+`","stack":"#1","itemKey":"EA-I-0001","value":1}`)))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
