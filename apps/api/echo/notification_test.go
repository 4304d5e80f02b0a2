package echoapi_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/notification"
)

func Test_notificationApi(t *testing.T) {
	app := setup(t)
	acme := app.createOrganization(t, "Acme Testing", "123-45-67890")
	admin := app.createUser(t, "admin@acme.kr", core.RoleOrgAdmin, acme.ID, "", true)
	op := app.createUser(t, "op@acme.kr", core.RoleOperator, acme.ID, "", true)

	for _, title := range []string{"first", "second"} {
		err := app.notifSvc.Notify(context.Background(), []string{admin.ID}, notification.NewNotification{
			Type: notification.TypeContractExpiring, Title: title, Message: title,
		})
		if err != nil {
			t.Fatalf("Notify(): %v", err)
		}
	}
	token := app.token(t, admin)

	var notifs []notification.Notification
	rec := app.do(newAuthRequest(http.MethodGet, "/v1/notifications", token))
	assert.Equal(t, http.StatusOK, rec.Code)
	unmarshall(t, rec, &notifs)
	if !assert.Len(t, notifs, 2) {
		return
	}
	assert.ElementsMatch(t, []string{"first", "second"}, []string{notifs[0].Title, notifs[1].Title})

	tests := []httpTest{
		{name: "unread count", path: "/v1/notifications/unread-count", token: token, wantCode: http.StatusOK, wantData: []byte(`{"count":2}`)},
		{name: "others see none", path: "/v1/notifications", token: app.token(t, op), wantCode: http.StatusOK, wantData: []byte(`[]`)},
		{
			name: "others cannot read them", method: http.MethodPost, path: "/v1/notifications/" + notifs[0].ID + "/read",
			token: app.token(t, op), wantCode: http.StatusNotFound,
		},
		{name: "mark one read", method: http.MethodPost, path: "/v1/notifications/" + notifs[0].ID + "/read", token: token, wantCode: http.StatusOK},
		{name: "one left", path: "/v1/notifications/unread-count", token: token, wantCode: http.StatusOK, wantData: []byte(`{"count":1}`)},
		{name: "mark all read", method: http.MethodPost, path: "/v1/notifications/mark-all-read", token: token, wantCode: http.StatusOK, wantData: []byte(`{"updated":1}`)},
		{name: "none left", path: "/v1/notifications/unread-count", token: token, wantCode: http.StatusOK, wantData: []byte(`{"count":0}`)},
		{name: "delete", method: http.MethodDelete, path: "/v1/notifications/" + notifs[1].ID, token: token, wantCode: http.StatusNoContent},
		{name: "deleted", method: http.MethodDelete, path: "/v1/notifications/" + notifs[1].ID, token: token, wantCode: http.StatusNotFound},
	}
	runHTTPTests(t, app, tests)
}
