package echoapi_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	echoapi "github.com/tigrofin/pmms/apps/api/echo"
	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/customer"
)

func Test_customerApi_tenancy(t *testing.T) {
	app := setup(t)
	acme := app.createOrganization(t, "Acme Testing", "123-45-67890")
	other := app.createOrganization(t, "Other Testing", "222-33-44444")
	acmeAdmin := app.createUser(t, "admin@acme.kr", core.RoleOrgAdmin, acme.ID, "", true)
	otherAdmin := app.createUser(t, "admin@other.kr", core.RoleOrgAdmin, other.ID, "", true)

	var created customer.Customer
	t.Run("create", func(t *testing.T) {
		body := marshallObj(t, customer.NewCustomer{Name: "한빛 제철", BusinessNumber: "333-44-55555"})
		rec := app.do(newAuthRequest(http.MethodPost, "/v1/customers", app.token(t, acmeAdmin), body))
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		unmarshall(t, rec, &created)
		assert.Equal(t, acme.ID, created.CreatedBy)
		assert.False(t, created.IsPublic)
	})

	t.Run("name is required", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodPost, "/v1/customers", app.token(t, acmeAdmin), []byte(`{"name":"  "}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	tests := []httpTest{
		{name: "creator sees it", path: "/v1/customers/" + created.ID, token: app.token(t, acmeAdmin), wantCode: http.StatusOK},
		{name: "other organizations do not", path: "/v1/customers/" + created.ID, token: app.token(t, otherAdmin), wantCode: http.StatusNotFound},
		{
			name: "other organizations cannot connect to private customers", method: http.MethodPost,
			path: "/v1/customers/" + created.ID + "/connect", token: app.token(t, otherAdmin), wantCode: http.StatusNotFound,
		},
		{name: "list of the other organization is empty", path: "/v1/customers", token: app.token(t, otherAdmin), wantCode: http.StatusOK, wantData: []byte(`[]`)},
	}
	runHTTPTests(t, app, tests)
}

func Test_customerApi_connections(t *testing.T) {
	app := setup(t)
	superAdmin := app.createUser(t, "root@pmms.kr", core.RoleSuperAdmin, "", "", true)
	acme := app.createOrganization(t, "Acme Testing", "123-45-67890")
	acmeAdmin := app.createUser(t, "admin@acme.kr", core.RoleOrgAdmin, acme.ID, "", true)

	public := app.createCustomer(t, superAdmin.Actor(), "한빛 제철")
	custAdmin := app.createUser(t, "admin@hanbit.kr", core.RoleCustomerAdmin, "", public.ID, true)

	rec := app.do(newAuthRequest(http.MethodPost, "/v1/customers/"+public.ID+"/connect", app.token(t, acmeAdmin),
		marshallObj(t, customer.ConnectionRequest{CustomCode: "HB-01"})))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var conn customer.Connection
	unmarshall(t, rec, &conn)
	assert.Equal(t, customer.ConnPending, conn.Status)
	assert.Equal(t, customer.RequestedByOrganization, conn.RequestedBy)

	t.Run("pending requests cannot be repeated", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodPost, "/v1/customers/"+public.ID+"/connect", app.token(t, acmeAdmin)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("the customer admin was notified", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodGet, "/v1/notifications/unread-count", app.token(t, custAdmin)))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, string(marshallObj(t, echoapi.CountResponse{Count: 1})), rec.Body.String())
	})

	t.Run("requesters cannot approve their own request", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodPost, "/v1/customers/connections/"+conn.ID+"/approve", app.token(t, acmeAdmin)))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("customer admin approves", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodPost, "/v1/customers/connections/"+conn.ID+"/approve", app.token(t, custAdmin)))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		unmarshall(t, rec, &conn)
		assert.Equal(t, customer.ConnApproved, conn.Status)

		rec = app.do(newAuthRequest(http.MethodGet, "/v1/customers/"+public.ID, app.token(t, acmeAdmin)))
		assert.Equal(t, http.StatusOK, rec.Code)
		var c customer.Customer
		unmarshall(t, rec, &c)
		if assert.NotNil(t, c.Connection) {
			assert.Equal(t, "HB-01", c.Connection.CustomCode)
		}
	})

	t.Run("decided requests cannot be decided again", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodPost, "/v1/customers/connections/"+conn.ID+"/reject", app.token(t, custAdmin)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
