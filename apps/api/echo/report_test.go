package echoapi_test

import (
	"encoding/base64"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigrofin/pmms/core/report"
)

func Test_reportApi_emailCustomerReport(t *testing.T) {
	f := newMeasurementFixture(t)
	f.create(t, "#1", "EA-I-0001", "12", "2024-03-15T09:00:00")
	f.create(t, "#2", "EA-I-0001", "40", "2024-03-16T09:00:00")
	token := f.app.token(t, f.custUser)

	rec := f.app.do(newAuthRequest(http.MethodPost, "/v1/reports/customers/"+f.custID+"/email?start=2024-03-01&end=2024-03-31", token))
	if !assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String()) {
		return
	}
	var rep report.CustomerReport
	unmarshall(t, rec, &rep)
	assert.Equal(t, 2, rep.Total)

	sent := f.app.mailSvc.SentMessages()
	if !assert.Len(t, sent, 1) {
		return
	}
	msg := sent[0]
	assert.Equal(t, f.custUser.Email, msg.To[0].Address)
	assert.Contains(t, msg.TextContent, "Hanbit Steel")
	assert.Contains(t, msg.HTMLContent, "EA-I-0001")
	if assert.Len(t, msg.Attachments, 1) {
		at := msg.Attachments[0]
		assert.True(t, strings.HasPrefix(at.Filename, "measurements_"), at.Filename)
		assert.Equal(t, "text/csv; charset=utf-8", at.ContentType)
		csv, err := base64.StdEncoding.DecodeString(at.Content.String())
		if assert.NoError(t, err) {
			lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
			assert.Len(t, lines, 3)
			assert.Contains(t, string(csv), "2024-03-16 09:00:00,Hanbit Steel,#2,EA-I-0001")
		}
	}

	runHTTPTests(t, f.app, []httpTest{
		{
			name: "other organizations cannot", method: http.MethodPost, path: "/v1/reports/customers/" + f.custID + "/email",
			token: f.app.token(t, f.otherOp), wantCode: http.StatusNotFound,
		},
	})
	assert.Len(t, f.app.mailSvc.SentMessages(), 1)
}
