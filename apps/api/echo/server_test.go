package echoapi_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServer_home(t *testing.T) {
	app := setup(t)
	rec := app.do(newRequest(http.MethodGet, "/"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to PMMS API!", rec.Body.String())
}

func TestServer_metrics(t *testing.T) {
	app := setup(t)
	app.do(newRequest(http.MethodGet, "/"))
	app.do(newRequest(http.MethodGet, "/v1/users"))

	rec := app.do(newRequest(http.MethodGet, "/metrics"))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `pmms_http_requests_total{method="GET",route="/",status="200"} 1`)
	assert.Contains(t, body, `pmms_http_requests_total{method="GET",route="/v1/users",status="401"} 1`)
	assert.Contains(t, body, "pmms_http_request_duration_seconds")
}
