package echoapi_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	echoapi "github.com/tigrofin/pmms/apps/api/echo"
	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/limit"
)

func Test_limitApi_saveBulk(t *testing.T) {
	f := newMeasurementFixture(t)
	token := f.app.token(t, f.operator)
	admin := f.app.createUser(t, "root@pmms.kr", core.RoleSuperAdmin, "", "", true)
	st := f.stack(t, "#1")

	save := func(t *testing.T, token string, limits ...limit.NewLimit) []limit.EmissionLimit {
		t.Helper()
		rec := f.app.do(newAuthRequest(http.MethodPost, "/v1/limits", token, marshallObj(t, limit.SaveLimits{Limits: limits})))
		if !assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String()) {
			t.FailNow()
		}
		var saved []limit.EmissionLimit
		unmarshall(t, rec, &saved)
		return saved
	}
	query := func(t *testing.T, path string) []limit.EmissionLimit {
		t.Helper()
		rec := f.app.do(newAuthRequest(http.MethodGet, path, token))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var limits []limit.EmissionLimit
		unmarshall(t, rec, &limits)
		return limits
	}

	first := save(t, token,
		limit.NewLimit{ItemKey: "EA-I-0001", CustomerID: f.custID, Limit: 20},
		limit.NewLimit{ItemKey: "EA-I-0001", CustomerID: f.custID, StackID: st.ID, Limit: 15},
	)
	save(t, f.app.token(t, admin), limit.NewLimit{ItemKey: "EA-I-0001", Limit: 25})

	t.Run("same scope is replaced", func(t *testing.T) {
		again := save(t, token, limit.NewLimit{ItemKey: "EA-I-0001", CustomerID: f.custID, Limit: 18})
		if assert.Len(t, again, 1) {
			assert.Equal(t, first[0].ID, again[0].ID)
			assert.Equal(t, 18.0, again[0].Limit)
		}
		limits := query(t, "/v1/limits?customerId="+f.custID)
		assert.Len(t, limits, 2, "only the limits of the customer")
		for _, l := range limits {
			assert.Equal(t, f.custID, l.CustomerID)
		}
		assert.Len(t, query(t, "/v1/limits"), 3)
	})

	t.Run("measurements pick the most specific limit", func(t *testing.T) {
		m := f.create(t, "#1", "EA-I-0001", "16", "2024-03-15T09:00:00")
		rec := f.app.do(newAuthRequest(http.MethodGet, "/v1/measurements/"+m.ID, token))
		var got struct {
			Limit    float64 `json:"limit"`
			Exceeded bool    `json:"exceeded"`
		}
		unmarshall(t, rec, &got)
		assert.Equal(t, 15.0, got.Limit)
		assert.True(t, got.Exceeded)
	})

	runHTTPTests(t, f.app, []httpTest{
		{
			name: "global limits are reserved", method: http.MethodPost, path: "/v1/limits", token: token,
			body:     marshallObj(t, limit.SaveLimits{Limits: []limit.NewLimit{{ItemKey: "EA-I-0003", Limit: 1}}}),
			wantCode: http.StatusForbidden,
		},
		{
			name: "unknown item", method: http.MethodPost, path: "/v1/limits", token: token,
			body:     marshallObj(t, limit.SaveLimits{Limits: []limit.NewLimit{{ItemKey: "NOPE", CustomerID: f.custID, Limit: 1}}}),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"itemKey":"unknown item NOPE"}`),
		},
		{
			name: "other organizations", method: http.MethodPost, path: "/v1/limits", token: f.app.token(t, f.otherOp),
			body:     marshallObj(t, limit.SaveLimits{Limits: []limit.NewLimit{{ItemKey: "EA-I-0001", CustomerID: f.custID, Limit: 1}}}),
			wantCode: http.StatusForbidden,
		},
		{
			name: "delete needs a scope", method: http.MethodDelete, path: "/v1/limits", token: token,
			wantCode: http.StatusBadRequest,
		},
		{
			name: "delete by scope is exact", method: http.MethodDelete, path: "/v1/limits?itemKey=EA-I-0001&customerId=" + f.custID, token: token,
			wantCode: http.StatusOK, wantData: marshallObj(t, echoapi.DeletedResponse{Deleted: 1}),
		},
		{
			name: "stack limit is left", path: "/v1/limits?customerId=" + f.custID, token: token,
			wantCode: http.StatusOK,
		},
	})
	limits := query(t, "/v1/limits?customerId="+f.custID)
	if assert.Len(t, limits, 1) {
		assert.Equal(t, st.ID, limits[0].StackID)
	}
}
