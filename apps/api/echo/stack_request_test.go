package echoapi_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/customer"
	"github.com/tigrofin/pmms/core/stack"
)

func Test_stackRequestApi(t *testing.T) {
	app := setup(t)
	superAdmin := app.createUser(t, "root@pmms.kr", core.RoleSuperAdmin, "", "", true)
	acme := app.createOrganization(t, "Acme Testing", "123-45-67890")
	acmeAdmin := app.createUser(t, "admin@acme.kr", core.RoleOrgAdmin, acme.ID, "", true)
	acmeOp := app.createUser(t, "op@acme.kr", core.RoleOperator, acme.ID, "", true)
	other := app.createOrganization(t, "Other Testing", "222-33-44444")
	otherOp := app.createUser(t, "op@other.kr", core.RoleOperator, other.ID, "", true)

	public := app.createCustomer(t, superAdmin.Actor(), "한빛 제철")
	custAdmin := app.createUser(t, "admin@hanbit.kr", core.RoleCustomerAdmin, "", public.ID, true)
	opToken, custToken := app.token(t, acmeOp), app.token(t, custAdmin)

	newRequest := func(name string) []byte {
		return marshallObj(t, stack.NewRequest{CustomerID: public.ID, StackName: name, Location: "포항 1공장"})
	}
	file := func(t *testing.T, name string) stack.Request {
		t.Helper()
		rec := app.do(newAuthRequest(http.MethodPost, "/v1/stack-requests", opToken, newRequest(name)))
		if !assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String()) {
			t.FailNow()
		}
		var req stack.Request
		unmarshall(t, rec, &req)
		return req
	}

	t.Run("customers must be connected", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodPost, "/v1/stack-requests", opToken, newRequest("#3")))
		assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	})

	rec := app.do(newAuthRequest(http.MethodPost, "/v1/customers/"+public.ID+"/connect", app.token(t, acmeAdmin)))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var conn customer.Connection
	unmarshall(t, rec, &conn)
	rec = app.do(newAuthRequest(http.MethodPost, "/v1/customers/connections/"+conn.ID+"/approve", custToken))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	created := file(t, "#3")
	assert.Equal(t, stack.RequestPending, created.Status)
	assert.Equal(t, stack.RequestNewStack, created.RequestType)
	assert.Equal(t, acme.ID, created.OrganizationID)
	assert.Equal(t, acmeOp.ID, created.RequestedBy)

	t.Run("the customer admin was notified", func(t *testing.T) {
		// the connection request & the stack request
		n, err := app.notifSvc.UnreadCount(context.Background(), custAdmin.ID)
		assert.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	runHTTPTests(t, app, []httpTest{
		{
			name: "location is required", method: http.MethodPost, path: "/v1/stack-requests", token: opToken,
			body: marshallObj(t, stack.NewRequest{CustomerID: public.ID, StackName: "#4"}), wantCode: http.StatusBadRequest,
		},
		{
			name: "customers do not file requests", method: http.MethodPost, path: "/v1/stack-requests", token: custToken,
			body: newRequest("#4"), wantCode: http.StatusForbidden,
		},
		{name: "customer reads it", path: "/v1/stack-requests/" + created.ID, token: custToken, wantCode: http.StatusOK},
		{name: "other organizations do not", path: "/v1/stack-requests/" + created.ID, token: app.token(t, otherOp), wantCode: http.StatusNotFound},
		{name: "other organizations query nothing", path: "/v1/stack-requests", token: app.token(t, otherOp), wantCode: http.StatusOK, wantData: []byte(`[]`)},
		{
			name: "operators do not review", method: http.MethodPost, path: "/v1/stack-requests/" + created.ID + "/approve", token: opToken,
			body: []byte(`{"action":"create_new"}`), wantCode: http.StatusForbidden,
		},
		{
			name: "unknown action", method: http.MethodPost, path: "/v1/stack-requests/" + created.ID + "/approve", token: custToken,
			body: []byte(`{"action":"merge"}`), wantCode: http.StatusBadRequest,
		},
		{
			name: "assigning needs the existing stack", method: http.MethodPost, path: "/v1/stack-requests/" + created.ID + "/approve", token: custToken,
			body:     []byte(`{"action":"assign_existing"}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"existingStackId":"` + stack.ErrExistingStackMissing.Error() + `"}`),
		},
	})

	t.Run("approving creates the stack", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodPost, "/v1/stack-requests/"+created.ID+"/approve", custToken, []byte(`{"action":"create_new"}`)))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var req stack.Request
		unmarshall(t, rec, &req)
		assert.Equal(t, stack.RequestApproved, req.Status)
		assert.Equal(t, custAdmin.ID, req.ReviewedBy)
		assert.NotNil(t, req.ReviewedAt)
		if !assert.NotEmpty(t, req.StackID) {
			return
		}

		st, err := app.stackSvc.Get(context.Background(), acmeOp.Actor(), req.StackID)
		assert.NoError(t, err)
		assert.Equal(t, "#3", st.Name)
		assert.Equal(t, "포항 1공장", st.Location)
		if assert.Len(t, st.Organizations, 1) {
			assert.Equal(t, acme.ID, st.Organizations[0].OrganizationID)
			assert.Equal(t, stack.AssignmentApproved, st.Organizations[0].Status)
			assert.True(t, st.Organizations[0].IsPrimary)
		}

		n, err := app.notifSvc.UnreadCount(context.Background(), acmeOp.ID)
		assert.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	runHTTPTests(t, app, []httpTest{
		{
			name: "a decided request stays decided", method: http.MethodPost, path: "/v1/stack-requests/" + created.ID + "/approve", token: custToken,
			body:     []byte(`{"action":"create_new"}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"error":"this stack request was already processed"}`),
		},
	})

	t.Run("approving assigns an existing stack", func(t *testing.T) {
		existing := app.createStack(t, superAdmin.Actor(), public.ID, "#9")
		req := file(t, "9번 굴뚝")

		other := app.createCustomer(t, superAdmin.Actor(), "대한 시멘트")
		foreign := app.createStack(t, superAdmin.Actor(), other.ID, "#1")
		rec := app.do(newAuthRequest(http.MethodPost, "/v1/stack-requests/"+req.ID+"/approve", custToken,
			marshallObj(t, stack.ApproveRequest{Action: stack.ActionAssignExisting, ExistingStackID: foreign.ID})))
		assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

		rec = app.do(newAuthRequest(http.MethodPost, "/v1/stack-requests/"+req.ID+"/approve", custToken,
			marshallObj(t, stack.ApproveRequest{Action: stack.ActionAssignExisting, ExistingStackID: existing.ID})))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		unmarshall(t, rec, &req)
		assert.Equal(t, existing.ID, req.StackID)

		st, err := app.stackSvc.Get(context.Background(), superAdmin.Actor(), existing.ID)
		assert.NoError(t, err)
		if assert.Len(t, st.Organizations, 1) {
			assert.Equal(t, acme.ID, st.Organizations[0].OrganizationID)
			assert.False(t, st.Organizations[0].IsPrimary)
		}
	})

	t.Run("pending requests are listed first", func(t *testing.T) {
		pending := file(t, "#5")
		rec := app.do(newAuthRequest(http.MethodGet, "/v1/stack-requests", custToken))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var reqs []stack.Request
		unmarshall(t, rec, &reqs)
		if assert.Len(t, reqs, 3) {
			assert.Equal(t, pending.ID, reqs[0].ID)
			assert.Equal(t, "한빛 제철", reqs[0].CustomerName)
		}
	})

	t.Run("rejecting keeps the reason", func(t *testing.T) {
		req := file(t, "#6")
		rec := app.do(newAuthRequest(http.MethodPost, "/v1/stack-requests/"+req.ID+"/reject", custToken, []byte(`{"reason":" 이미 등록된 굴뚝 "}`)))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		unmarshall(t, rec, &req)
		assert.Equal(t, stack.RequestRejected, req.Status)
		assert.Equal(t, "이미 등록된 굴뚝", req.RejectionReason)
		assert.Empty(t, req.StackID)

		rec = app.do(newAuthRequest(http.MethodGet, "/v1/stack-requests?status="+stack.RequestRejected, app.token(t, acmeAdmin)))
		assert.Equal(t, http.StatusOK, rec.Code)
		var reqs []stack.Request
		unmarshall(t, rec, &reqs)
		if assert.Len(t, reqs, 1) {
			assert.Equal(t, req.ID, reqs[0].ID)
		}
	})
}
