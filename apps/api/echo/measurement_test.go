package echoapi_test

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	echoapi "github.com/tigrofin/pmms/apps/api/echo"
	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/measurement"
	"github.com/tigrofin/pmms/core/stack"
	"github.com/tigrofin/pmms/core/user"
)

type measurementFixture struct {
	app      *testApp
	operator user.User
	custUser user.User
	otherOp  user.User
	custID   string
}

func newMeasurementFixture(t *testing.T) measurementFixture {
	app := setup(t)
	acme := app.createOrganization(t, "Acme Testing", "123-45-67890")
	other := app.createOrganization(t, "Other Testing", "222-33-44444")
	operator := app.createUser(t, "op@acme.kr", core.RoleOperator, acme.ID, "", true)

	c := app.createCustomer(t, operator.Actor(), "Hanbit Steel")
	app.createStack(t, operator.Actor(), c.ID, "#1")
	app.createStack(t, operator.Actor(), c.ID, "#2")

	return measurementFixture{
		app:      app,
		operator: operator,
		custUser: app.createUser(t, "user@hanbit.kr", core.RoleCustomerUser, "", c.ID, true),
		otherOp:  app.createUser(t, "op@other.kr", core.RoleOperator, other.ID, "", true),
		custID:   c.ID,
	}
}

func (f measurementFixture) create(t *testing.T, stackName, itemKey, value, measuredAt string) measurement.Measurement {
	t.Helper()
	body := []byte(`{"customerId":"` + f.custID + `","stack":"` + stackName + `","itemKey":"` + itemKey +
		`","value":` + value + `,"measuredAt":"` + measuredAt + `"}`)
	rec := f.app.do(newAuthRequest(http.MethodPost, "/v1/measurements", f.app.token(t, f.operator), body))
	if !assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String()) {
		t.FailNow()
	}
	var m measurement.Measurement
	unmarshall(t, rec, &m)
	return m
}

func Test_measurementApi_create(t *testing.T) {
	f := newMeasurementFixture(t)
	token := f.app.token(t, f.operator)
	m := f.create(t, "#1", "EA-I-0001", "42.5", "2024-03-15T09:30:00")

	t.Run("limit is attached on read", func(t *testing.T) {
		rec := f.app.do(newAuthRequest(http.MethodGet, "/v1/measurements/"+m.ID, token))
		assert.Equal(t, http.StatusOK, rec.Code)
		var got measurement.Measurement
		unmarshall(t, rec, &got)
		assert.Equal(t, 42.5, got.Value)
		if assert.NotNil(t, got.Limit) {
			assert.Equal(t, 30.0, *got.Limit)
		}
		assert.True(t, got.Exceeded)
	})

	tests := []httpTest{
		{
			name: "duplicate", method: http.MethodPost, path: "/v1/measurements", token: token,
			body:     []byte(`{"customerId":"` + f.custID + `","stack":"#1","itemKey":"EA-I-0001","value":"1","measuredAt":"2024-03-15T09:30:00"}`),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown stack", method: http.MethodPost, path: "/v1/measurements", token: token,
			body:     []byte(`{"customerId":"` + f.custID + `","stack":"#9","itemKey":"EA-I-0001","value":1}`),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown item", method: http.MethodPost, path: "/v1/measurements", token: token,
			body:     []byte(`{"customerId":"` + f.custID + `","stack":"#1","itemKey":"NOPE","value":1}`),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "customers are read only", method: http.MethodPost, path: "/v1/measurements", token: f.app.token(t, f.custUser),
			body:     []byte(`{"customerId":"` + f.custID + `","stack":"#1","itemKey":"EA-I-0001","value":1}`),
			wantCode: http.StatusForbidden,
		},
		{name: "customer reads its own", path: "/v1/measurements/" + m.ID, token: f.app.token(t, f.custUser), wantCode: http.StatusOK},
		{name: "other organizations do not", path: "/v1/measurements/" + m.ID, token: f.app.token(t, f.otherOp), wantCode: http.StatusNotFound},
		{name: "other organizations query nothing", path: "/v1/measurements", token: f.app.token(t, f.otherOp), wantCode: http.StatusOK, wantData: []byte(`[]`)},
	}
	runHTTPTests(t, f.app, tests)
}

func Test_measurementApi_importExport(t *testing.T) {
	f := newMeasurementFixture(t)
	token := f.app.token(t, f.operator)

	csv := "customer,stack,itemKey,value,measuredAt\n" +
		"Hanbit Steel,#1,EA-I-0001,12.5,20240315093000\n" +
		"Hanbit Steel,#2,EA-I-0001,31,20240315100000\n" +
		"Hanbit Steel,#3,EA-I-0001,5,20240315100000\n"

	t.Run("raw csv body", func(t *testing.T) {
		req := newAuthRequest(http.MethodPost, "/v1/measurements/import", token, []byte(csv))
		req.Header.Set(echo.HeaderContentType, "text/csv")
		rec := f.app.do(req)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var res core.BulkResult
		unmarshall(t, rec, &res)
		assert.Equal(t, 2, res.Count)
		assert.Len(t, res.Errors, 1)
	})

	t.Run("multipart upload of the same rows skips duplicates", func(t *testing.T) {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		part, err := w.CreateFormFile("file", "measurements.csv")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = part.Write([]byte(csv))
		_ = w.Close()

		req := httptest.NewRequest(http.MethodPost, "/v1/measurements/import", &body)
		req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		rec := f.app.do(req)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var res core.BulkResult
		unmarshall(t, rec, &res)
		assert.Equal(t, 0, res.Count)
		assert.Equal(t, 2, res.Skipped)
	})

	t.Run("export", func(t *testing.T) {
		rec := f.app.do(newAuthRequest(http.MethodGet, "/v1/measurements/export?customerId="+f.custID, f.app.token(t, f.custUser)))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.True(t, strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), "text/csv"))
		assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "measurements_")

		body := rec.Body.String()
		assert.True(t, strings.HasPrefix(body, core.UTF8BOM))
		lines := strings.Split(strings.TrimSpace(strings.TrimPrefix(body, core.UTF8BOM)), "\n")
		if assert.Len(t, lines, 3) {
			assert.Equal(t, "measuredAt,customer,stack,itemKey,itemName,value,unit,limit,exceeded", lines[0])
			assert.Contains(t, body, "2024-03-15 09:30:00,Hanbit Steel,#1,EA-I-0001")
		}
	})

	t.Run("batch delete", func(t *testing.T) {
		rec := f.app.do(newAuthRequest(http.MethodGet, "/v1/measurements?stack=%231", token))
		var ms []measurement.Measurement
		unmarshall(t, rec, &ms)
		if !assert.Len(t, ms, 1) {
			return
		}

		rec = f.app.do(newAuthRequest(http.MethodPost, "/v1/measurements/batch-delete", token,
			marshallObj(t, measurement.BatchDelete{IDs: []string{ms[0].ID}})))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, string(marshallObj(t, echoapi.DeletedResponse{Deleted: 1})), rec.Body.String())
	})
}

func Test_measurementApi_correlated(t *testing.T) {
	f := newMeasurementFixture(t)
	token := f.app.token(t, f.operator)
	f.create(t, "#1", "EA-I-0001", "12", "2024-03-15T09:00:00")
	f.create(t, "#1", "temperature", "25", "2024-03-15T09:00:00")
	f.create(t, "#1", "EA-I-0001", "40", "2024-03-16T09:00:00")
	f.create(t, "#1", "temperature", "5", "2024-03-16T09:00:00")

	t.Run("within the condition", func(t *testing.T) {
		rec := f.app.do(newAuthRequest(http.MethodGet, "/v1/measurements/correlated?itemKey=EA-I-0001&condition=temperature:20:30", token))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var ms []measurement.Measurement
		unmarshall(t, rec, &ms)
		if assert.Len(t, ms, 1) {
			assert.Equal(t, 12.0, ms[0].Value)
		}
	})

	tests := []httpTest{
		{
			name: "unknown condition", path: "/v1/measurements/correlated?condition=EA-I-0001:1:2", token: token,
			wantCode: http.StatusBadRequest,
		},
		{
			name: "bad bound", path: "/v1/measurements/correlated?condition=temperature:hot:30", token: token,
			wantCode: http.StatusBadRequest,
		},
		{
			name: "bad value filter", path: "/v1/measurements/correlated?valueMin=lots", token: token,
			wantCode: http.StatusBadRequest, wantData: []byte(`{"valueMin":"valueMin must be a number"}`),
		},
	}
	runHTTPTests(t, f.app, tests)
}

func (f measurementFixture) stack(t *testing.T, name string) stack.Stack {
	t.Helper()
	stacks, err := f.app.stackSvc.Query(context.Background(), f.operator.Actor(), &stack.QueryFilter{
		CustomerID: f.custID, Names: []string{name}, IncludeInactive: true,
	}, nil)
	if err != nil || len(stacks) != 1 {
		t.Fatalf("stackSvc.Query(%s): %v %v", name, stacks, err)
	}
	return stacks[0]
}

func values(ms []measurement.Measurement) []float64 {
	out := make([]float64, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Value)
	}
	return out
}

func Test_measurementApi_query(t *testing.T) {
	f := newMeasurementFixture(t)
	token := f.app.token(t, f.operator)
	f.create(t, "#1", "EA-I-0001", "10", "2024-03-15T00:00:00")
	f.create(t, "#1", "EA-I-0001", "11", "2024-03-15T23:59:59")
	f.create(t, "#1", "EA-I-0001", "12", "2024-03-16T00:00:00")
	f.create(t, "#1", "temperature", "25", "2024-03-15T23:59:59")

	tests := []struct {
		name  string
		query string
		want  []float64
	}{
		{name: "date-only end includes the whole day", query: "?start=2024-03-15&end=2024-03-15", want: []float64{11, 10}},
		{name: "timestamp end is exact", query: "?end=2024-03-15T23:59:58", want: []float64{10}},
		{name: "no item lists pollutants only", query: "", want: []float64{12, 11, 10}},
		{name: "one item", query: "?itemKey=EA-I-0001&start=2024-03-16", want: []float64{12}},
		{name: "sampling condition is projected", query: "?itemKey=temperature", want: []float64{25}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.app.do(newAuthRequest(http.MethodGet, "/v1/measurements"+tt.query, token))
			if !assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String()) {
				return
			}
			var ms []measurement.Measurement
			unmarshall(t, rec, &ms)
			assert.Equal(t, tt.want, values(ms))
			for _, m := range ms {
				if tt.query == "?itemKey=temperature" {
					assert.Equal(t, "temperature", m.ItemKey)
				} else {
					assert.Equal(t, "EA-I-0001", m.ItemKey)
				}
			}
		})
	}

	runHTTPTests(t, f.app, []httpTest{
		{
			name: "bad end", path: "/v1/measurements?end=yesterday", token: token,
			wantCode: http.StatusBadRequest,
		},
	})
}

func Test_measurementApi_importInactiveStack(t *testing.T) {
	f := newMeasurementFixture(t)
	token := f.app.token(t, f.operator)
	st := f.stack(t, "#2")
	if _, err := f.app.stackSvc.SetActive(context.Background(), f.operator.Actor(), st.ID, false); err != nil {
		t.Fatalf("SetActive(): %v", err)
	}

	rows := []measurement.BulkRow{
		{Stack: "#1", ItemKey: "EA-I-0001", Value: "12.5", MeasuredAt: "20240315093000"},
		{Stack: "#2", ItemKey: "EA-I-0001", Value: "31", MeasuredAt: "20240315100000"},
	}
	runHTTPTests(t, f.app, []httpTest{
		{
			name: "the whole batch is rejected", method: http.MethodPost, path: "/v1/measurements/bulk", token: token,
			body:     marshallObj(t, measurement.BulkImport{Rows: rows}),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"stack":"inactive stacks: #2"}`),
		},
		{
			name: "nothing was stored", path: "/v1/measurements", token: token,
			wantCode: http.StatusOK, wantData: []byte(`[]`),
		},
	})
}
