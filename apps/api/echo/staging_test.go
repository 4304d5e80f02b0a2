package echoapi_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/measurement"
	"github.com/tigrofin/pmms/core/staging"
)

func (f measurementFixture) stage(t *testing.T, stackName, body string) staging.Staged {
	t.Helper()
	data := []byte(`{"customerId":"` + f.custID + `","stackId":"` + f.stack(t, stackName).ID + `",` + body + `}`)
	rec := f.app.do(newAuthRequest(http.MethodPost, "/v1/measurements-temp", f.app.token(t, f.operator), data))
	if !assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String()) {
		t.FailNow()
	}
	var s staging.Staged
	unmarshall(t, rec, &s)
	return s
}

func Test_stagingApi_create(t *testing.T) {
	f := newMeasurementFixture(t)
	token := f.app.token(t, f.operator)
	prefix := staging.TempIDPrefix(time.Now())

	s1 := f.stage(t, "#1", `"measuredAt":"2024-03-15T09:00:00","measurements":[{"itemKey":"EA-I-0001","value":12.5},{"itemKey":"temperature","value":21}]`)
	assert.Equal(t, prefix+"001", s1.TempID)
	assert.Equal(t, staging.StatusDraft, s1.Status)
	assert.Equal(t, "#1", s1.StackName)
	assert.Equal(t, []staging.Value{{ItemKey: "EA-I-0001", Value: 12.5}}, s1.Values)
	if assert.NotNil(t, s1.Auxiliary.TemperatureC) {
		assert.Equal(t, 21.0, *s1.Auxiliary.TemperatureC)
	}

	s2 := f.stage(t, "#1", `"measuredAt":"20240315100000","measurements":[{"itemKey":"EA-I-0001","value":8}],"auxiliary":{"weather":"맑음"}`)
	assert.Equal(t, prefix+"002", s2.TempID)

	st := f.stack(t, "#2")
	if _, err := f.app.stackSvc.SetActive(context.Background(), f.operator.Actor(), st.ID, false); err != nil {
		t.Fatalf("SetActive(): %v", err)
	}
	otherCust := f.app.createCustomer(t, f.operator.Actor(), "Daehan Cement")
	otherStack := f.app.createStack(t, f.operator.Actor(), otherCust.ID, "#1")

	newBody := func(stackID, rest string) []byte {
		return []byte(`{"customerId":"` + f.custID + `","stackId":"` + stackID + `","measuredAt":"2024-03-15T09:00:00",` + rest + `}`)
	}
	runHTTPTests(t, f.app, []httpTest{
		{
			name: "unknown item", method: http.MethodPost, path: "/v1/measurements-temp", token: token,
			body:     newBody(f.stack(t, "#1").ID, `"measurements":[{"itemKey":"NOPE","value":1}]`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"measurements":"unknown item NOPE"}`),
		},
		{
			name: "no values", method: http.MethodPost, path: "/v1/measurements-temp", token: token,
			body:     newBody(f.stack(t, "#1").ID, `"measurements":[]`),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "inactive stack", method: http.MethodPost, path: "/v1/measurements-temp", token: token,
			body:     newBody(st.ID, `"measurements":[{"itemKey":"EA-I-0001","value":1}]`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"stackId":"` + measurement.ErrStackInactive.Error() + `"}`),
		},
		{
			name: "stack of another customer", method: http.MethodPost, path: "/v1/measurements-temp", token: token,
			body:     newBody(otherStack.ID, `"measurements":[{"itemKey":"EA-I-0001","value":1}]`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"stackId":"` + measurement.ErrStackNotFound.Error() + `"}`),
		},
		{
			name: "customers are read only", method: http.MethodPost, path: "/v1/measurements-temp", token: f.app.token(t, f.custUser),
			body:     newBody(f.stack(t, "#1").ID, `"measurements":[{"itemKey":"EA-I-0001","value":1}]`),
			wantCode: http.StatusForbidden,
		},
	})
}

func Test_stagingApi_visibility(t *testing.T) {
	f := newMeasurementFixture(t)
	s := f.stage(t, "#1", `"measuredAt":"2024-03-15T09:00:00","measurements":[{"itemKey":"EA-I-0001","value":12.5}]`)
	colleague := f.app.createUser(t, "op2@acme.kr", core.RoleOperator, f.operator.OrganizationID, "", true)
	admin := f.app.createUser(t, "admin@acme.kr", core.RoleOrgAdmin, f.operator.OrganizationID, "", true)

	list := func(t *testing.T, token string) []staging.Staged {
		rec := f.app.do(newAuthRequest(http.MethodGet, "/v1/measurements-temp", token))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var got []staging.Staged
		unmarshall(t, rec, &got)
		return got
	}

	t.Run("author, organization admin and customer see the draft", func(t *testing.T) {
		for _, u := range []string{f.app.token(t, f.operator), f.app.token(t, admin), f.app.token(t, f.custUser)} {
			if got := list(t, u); assert.Len(t, got, 1) {
				assert.Equal(t, s.TempID, got[0].TempID)
				assert.Equal(t, "Hanbit Steel", got[0].CustomerName)
			}
		}
	})

	runHTTPTests(t, f.app, []httpTest{
		{name: "colleagues query nothing", path: "/v1/measurements-temp", token: f.app.token(t, colleague), wantCode: http.StatusOK, wantData: []byte(`[]`)},
		{name: "other organizations query nothing", path: "/v1/measurements-temp", token: f.app.token(t, f.otherOp), wantCode: http.StatusOK, wantData: []byte(`[]`)},
		{name: "other organizations do not read it", path: "/v1/measurements-temp/" + s.ID, token: f.app.token(t, f.otherOp), wantCode: http.StatusNotFound},
		{name: "customer reads it", path: "/v1/measurements-temp/" + s.ID, token: f.app.token(t, f.custUser), wantCode: http.StatusOK},
		{
			name: "colleagues can not batch delete it", method: http.MethodPost, path: "/v1/measurements-temp/batch-delete",
			token: f.app.token(t, colleague), body: []byte(`{"ids":["` + s.ID + `"]}`), wantCode: http.StatusNotFound,
		},
		{
			name: "customers can not delete it", method: http.MethodDelete, path: "/v1/measurements-temp/" + s.ID,
			token: f.app.token(t, f.custUser), wantCode: http.StatusForbidden,
		},
		{
			name: "organization admin deletes it", method: http.MethodDelete, path: "/v1/measurements-temp/" + s.ID,
			token: f.app.token(t, admin), wantCode: http.StatusNoContent,
		},
		{name: "gone", path: "/v1/measurements-temp/" + s.ID, token: f.app.token(t, f.operator), wantCode: http.StatusNotFound},
	})
}

func Test_stagingApi_auxiliaryAndDownload(t *testing.T) {
	f := newMeasurementFixture(t)
	token := f.app.token(t, f.operator)
	f.stage(t, "#1", `"measuredAt":"2024-03-15T09:00:00","measurements":[{"itemKey":"EA-I-0001","value":12.5}]`)
	f.stage(t, "#1", `"measuredAt":"2024-03-15T23:30:00","measurements":[{"itemKey":"EA-I-0001","value":9}]`)
	f.stage(t, "#1", `"measuredAt":"2024-03-16T09:00:00","measurements":[{"itemKey":"EA-I-0001","value":7}]`)

	runHTTPTests(t, f.app, []httpTest{
		{
			name: "conditions are merged on the records of the day", method: http.MethodPut, path: "/v1/measurements-temp/auxiliary", token: token,
			body:     []byte(`{"customerId":"` + f.custID + `","stackId":"` + f.stack(t, "#1").ID + `","date":"2024-03-15","auxiliary":{"weather":"흐림","humidity":"55"}}`),
			wantCode: http.StatusOK, wantData: []byte(`{"count":2}`),
		},
		{
			name: "bad date", method: http.MethodPut, path: "/v1/measurements-temp/auxiliary", token: token,
			body:     []byte(`{"customerId":"` + f.custID + `","stackId":"` + f.stack(t, "#1").ID + `","date":"15/03/2024","auxiliary":{"weather":"흐림"}}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"date":"date must be YYYY-MM-DD"}`),
		},
	})

	t.Run("download", func(t *testing.T) {
		rec := f.app.do(newAuthRequest(http.MethodGet, "/v1/measurements-temp/download", token))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.True(t, strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), "text/csv"))
		assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "staged_")

		body := strings.TrimPrefix(rec.Body.String(), core.UTF8BOM)
		lines := strings.Split(strings.TrimSpace(body), "\n")
		assert.Equal(t, "customer,stack,itemKey,value,measuredAt", lines[0])
		assert.Contains(t, body, "Hanbit Steel,#1,EA-I-0001,12.5,20240315090000")
		assert.Contains(t, body, "Hanbit Steel,#1,weather,흐림,20240315233000")
		assert.NotContains(t, body, "weather,흐림,20240316090000")
	})
}

func Test_stagingApi_confirm(t *testing.T) {
	f := newMeasurementFixture(t)
	token := f.app.token(t, f.operator)
	s1 := f.stage(t, "#1", `"measuredAt":"2024-03-15T09:00:00","measurements":[{"itemKey":"EA-I-0001","value":12.5}],"auxiliary":{"temperature":"21"}`)
	s2 := f.stage(t, "#2", `"measuredAt":"2024-03-15T10:00:00","measurements":[{"itemKey":"EA-I-0001","value":31}]`)

	st := f.stack(t, "#2")
	if _, err := f.app.stackSvc.SetActive(context.Background(), f.operator.Actor(), st.ID, false); err != nil {
		t.Fatalf("SetActive(): %v", err)
	}

	t.Run("other organizations confirm nothing", func(t *testing.T) {
		rec := f.app.do(newAuthRequest(http.MethodPost, "/v1/measurements-temp/confirm", f.app.token(t, f.otherOp),
			[]byte(`{"ids":["`+s1.ID+`"]}`)))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res staging.ConfirmResult
		unmarshall(t, rec, &res)
		assert.Equal(t, 0, res.Count)
		assert.Equal(t, []string{s1.ID + ": " + staging.ErrNotFound.Error()}, res.Errors)
	})

	t.Run("records of inactive stacks stay staged", func(t *testing.T) {
		rec := f.app.do(newAuthRequest(http.MethodPost, "/v1/measurements-temp/confirm", token,
			[]byte(`{"ids":["`+s1.ID+`","`+s2.ID+`"]}`)))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res staging.ConfirmResult
		unmarshall(t, rec, &res)
		assert.Equal(t, 1, res.Count)
		assert.Equal(t, 1, res.Measurements)
		assert.Equal(t, []string{s2.TempID + ": inactive stacks: #2"}, res.Errors)
	})

	t.Run("confirmed values are measurements", func(t *testing.T) {
		rec := f.app.do(newAuthRequest(http.MethodGet, "/v1/measurements?customerId="+f.custID, token))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var ms []measurement.Measurement
		unmarshall(t, rec, &ms)
		if assert.Len(t, ms, 1) {
			assert.Equal(t, 12.5, ms[0].Value)
			if assert.NotNil(t, ms[0].TemperatureC) {
				assert.Equal(t, 21.0, *ms[0].TemperatureC)
			}
		}
	})

	runHTTPTests(t, f.app, []httpTest{
		{name: "confirmed draft is gone", path: "/v1/measurements-temp/" + s1.ID, token: token, wantCode: http.StatusNotFound},
		{name: "failed draft is kept", path: "/v1/measurements-temp/" + s2.ID, token: token, wantCode: http.StatusOK},
		{
			name: "ids are required", method: http.MethodPost, path: "/v1/measurements-temp/confirm", token: token,
			body: []byte(`{"ids":[]}`), wantCode: http.StatusBadRequest,
		},
	})
}
