package echoapi_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/stack"
)

func Test_stackApi_review(t *testing.T) {
	f := newMeasurementFixture(t)
	custAdmin := f.app.createUser(t, "admin@hanbit.kr", core.RoleCustomerAdmin, "", f.custID, true)
	opToken, adminToken := f.app.token(t, f.operator), f.app.token(t, custAdmin)

	create := func(t *testing.T, token, name string) stack.Stack {
		t.Helper()
		rec := f.app.do(newAuthRequest(http.MethodPost, "/v1/stacks", token,
			marshallObj(t, stack.NewStack{CustomerID: f.custID, Name: name})))
		if !assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String()) {
			t.FailNow()
		}
		var st stack.Stack
		unmarshall(t, rec, &st)
		return st
	}

	drafted := create(t, opToken, "#3")
	assert.Equal(t, stack.StatusPendingReview, drafted.Status)
	assert.False(t, drafted.IsVerified)
	if assert.Len(t, drafted.Organizations, 1) {
		assert.Equal(t, f.operator.OrganizationID, drafted.Organizations[0].OrganizationID)
	}

	own := create(t, adminToken, "#4")
	assert.Equal(t, stack.StatusConfirmed, own.Status)
	assert.True(t, own.IsVerified)
	assert.Empty(t, own.Organizations)

	n, err := f.app.notifSvc.UnreadCount(context.Background(), custAdmin.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, n, "the customer admin is asked to review the draft")

	t.Run("confirm", func(t *testing.T) {
		runHTTPTests(t, f.app, []httpTest{
			{
				name: "organizations cannot confirm", method: http.MethodPost, path: "/v1/stacks/" + drafted.ID + "/confirm", token: opToken,
				wantCode: http.StatusForbidden,
			},
			{
				name: "customer confirms", method: http.MethodPost, path: "/v1/stacks/" + drafted.ID + "/confirm", token: adminToken,
				wantCode: http.StatusOK,
			},
			{
				name: "only once", method: http.MethodPost, path: "/v1/stacks/" + drafted.ID + "/confirm", token: adminToken,
				wantCode: http.StatusBadRequest, wantData: []byte(`{"error":"this stack is already confirmed"}`),
			},
		})
		rec := f.app.do(newAuthRequest(http.MethodGet, "/v1/stacks/"+drafted.ID, opToken))
		var st stack.Stack
		unmarshall(t, rec, &st)
		assert.Equal(t, stack.StatusConfirmed, st.Status)
		assert.True(t, st.IsVerified)
	})
}

func Test_stackApi_history(t *testing.T) {
	f := newMeasurementFixture(t)
	token := f.app.token(t, f.operator)
	st := f.stack(t, "#1")

	rec := f.app.do(newAuthRequest(http.MethodPut, "/v1/stacks/"+st.ID, token,
		[]byte(`{"name":"#1-A","location":"Pohang","height":42.5}`)))
	if !assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String()) {
		return
	}

	rec = f.app.do(newAuthRequest(http.MethodGet, "/v1/stacks/"+st.ID+"/history", token))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var hist []stack.History
	unmarshall(t, rec, &hist)
	changes := map[string][2]string{}
	for _, h := range hist {
		assert.Equal(t, f.operator.ID, h.ChangedBy)
		changes[h.Field] = [2]string{h.OldValue, h.NewValue}
	}
	assert.Equal(t, map[string][2]string{
		"name":     {"#1", "#1-A"},
		"location": {"", "Pohang"},
		"height":   {"", "42.5"},
	}, changes)

	t.Run("unchanged fields record nothing", func(t *testing.T) {
		rec := f.app.do(newAuthRequest(http.MethodPut, "/v1/stacks/"+st.ID, token, []byte(`{"name":"#1-A"}`)))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		rec = f.app.do(newAuthRequest(http.MethodGet, "/v1/stacks/"+st.ID+"/history", token))
		var again []stack.History
		unmarshall(t, rec, &again)
		assert.Len(t, again, len(hist))
	})
}

func Test_stackApi_delete(t *testing.T) {
	f := newMeasurementFixture(t)
	custAdmin := f.app.createUser(t, "admin@hanbit.kr", core.RoleCustomerAdmin, "", f.custID, true)
	token := f.app.token(t, custAdmin)
	measured, empty := f.stack(t, "#1"), f.stack(t, "#2")
	f.create(t, "#1", "EA-I-0001", "12", "2024-03-15T09:00:00")

	runHTTPTests(t, f.app, []httpTest{
		{name: "count", path: "/v1/stacks/" + measured.ID + "/measurement-count", token: token, wantCode: http.StatusOK, wantData: []byte(`{"count":1}`)},
		{
			name: "operators cannot delete", method: http.MethodDelete, path: "/v1/stacks/" + empty.ID, token: f.app.token(t, f.operator),
			wantCode: http.StatusForbidden,
		},
		{
			name: "stacks with measurements are kept", method: http.MethodDelete, path: "/v1/stacks/" + measured.ID, token: token,
			wantCode: http.StatusBadRequest, wantData: []byte(`{"error":"stacks with measurements cannot be deleted"}`),
		},
		{name: "empty stack", method: http.MethodDelete, path: "/v1/stacks/" + empty.ID, token: token, wantCode: http.StatusNoContent},
		{name: "gone", path: "/v1/stacks/" + empty.ID, token: token, wantCode: http.StatusNotFound},
		{name: "still there", path: "/v1/stacks/" + measured.ID, token: token, wantCode: http.StatusOK},
	})
}
