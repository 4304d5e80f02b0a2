package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	echoapi "github.com/tigrofin/pmms/apps/api/echo"
	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/activity"
	"github.com/tigrofin/pmms/core/contract"
	"github.com/tigrofin/pmms/core/customer"
	"github.com/tigrofin/pmms/core/item"
	"github.com/tigrofin/pmms/core/limit"
	"github.com/tigrofin/pmms/core/measurement"
	"github.com/tigrofin/pmms/core/notification"
	"github.com/tigrofin/pmms/core/organization"
	"github.com/tigrofin/pmms/core/report"
	"github.com/tigrofin/pmms/core/stack"
	"github.com/tigrofin/pmms/core/staging"
	"github.com/tigrofin/pmms/core/user"
	appfs "github.com/tigrofin/pmms/fs"
	"github.com/tigrofin/pmms/services/email"
	"github.com/tigrofin/pmms/services/logger"
	"github.com/tigrofin/pmms/storage/database/inmem"
)

const testPassword = "Sup3r-Secret!"

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

// testApp is a Server backed by in-memory storage.
type testApp struct {
	server *echoapi.Server

	usrRepo  user.Repository
	orgRepo  organization.Repository
	notifSvc notification.Service
	mailSvc  *emailsvc.ConsoleServiceMock
	custSvc  customer.Service
	stackSvc stack.Service
	itemSvc  item.Service
}

func setup(t *testing.T) *testApp {
	t.Helper()
	conf := core.NewTestConfig()
	logger := logsvc.NewRollbarLogger(log.New(ioutil.Discard, "", 0), conf)
	logger.Enable(false)

	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	user.RegisterValidators(validate, translator)
	core.ParseEmailTemplates(appfs.FS, "assets/templates/email", conf, logger)

	db := inmemdb.NewDB()
	usrRepo := inmemdb.NewUserRepository(db)
	orgRepo := inmemdb.NewOrganizationRepository(db)
	msrRepo := inmemdb.NewMeasurementRepository(db)

	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	actSvc := activity.NewService(inmemdb.NewActivityRepository(db), logger)
	notifSvc := notification.NewService(inmemdb.NewNotificationRepository(db))
	usrSvc := user.NewService(usrRepo, mailSvc, conf)
	orgSvc := organization.NewService(orgRepo, nil, usrSvc, actSvc, notifSvc, mailSvc)
	custSvc := customer.NewService(inmemdb.NewCustomerRepository(db), nil, usrSvc, notifSvc)
	ctrSvc := contract.NewService(inmemdb.NewContractRepository(db), nil, conf, orgSvc, custSvc, usrSvc, notifSvc, actSvc, mailSvc)
	stackSvc := stack.NewService(inmemdb.NewStackRepository(db), nil, custSvc, usrSvc, notifSvc, actSvc)
	itemSvc := item.NewService(inmemdb.NewItemRepository(db))
	limitSvc := limit.NewService(inmemdb.NewLimitRepository(db), nil, custSvc, itemSvc)
	msrSvc := measurement.NewService(msrRepo, msrRepo, nil, conf, custSvc, stackSvc, itemSvc, limitSvc, actSvc)
	stagingSvc := staging.NewService(inmemdb.NewStagingRepository(db), custSvc, stackSvc, itemSvc, msrSvc, actSvc)
	reportSvc := report.NewService(msrSvc, itemSvc, custSvc, orgSvc, usrSvc, actSvc, mailSvc)

	if _, err := itemSvc.SeedDefaults(context.Background()); err != nil {
		t.Fatalf("SeedDefaults(): %v", err)
	}

	server := echoapi.NewServer(echoapi.Deps{
		Conf:            conf,
		Logger:          logger,
		Validate:        validate,
		Translator:      translator,
		UserSvc:         usrSvc,
		OrganizationSvc: orgSvc,
		CustomerSvc:     custSvc,
		ContractSvc:     ctrSvc,
		StackSvc:        stackSvc,
		ItemSvc:         itemSvc,
		LimitSvc:        limitSvc,
		MeasurementSvc:  msrSvc,
		StagingSvc:      stagingSvc,
		ReportSvc:       reportSvc,
		NotificationSvc: notifSvc,
		ActivitySvc:     actSvc,
	})

	return &testApp{
		server:   server,
		usrRepo:  usrRepo,
		orgRepo:  orgRepo,
		notifSvc: notifSvc,
		mailSvc:  mailSvc,
		custSvc:  custSvc,
		stackSvc: stackSvc,
		itemSvc:  itemSvc,
	}
}

func (app *testApp) createUser(t *testing.T, email, role, orgID, custID string, approved bool) user.User {
	t.Helper()
	now := time.Now().UTC()
	usr := user.User{
		Email:          email,
		Name:           "Test " + role,
		Role:           role,
		Status:         user.StatusPending,
		IsActive:       true,
		OrganizationID: orgID,
		CustomerID:     custID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if approved {
		usr.Status = user.StatusApproved
	}
	if err := usr.SetPassword(testPassword); err != nil {
		t.Fatalf("SetPassword(): %v", err)
	}
	usr, err := app.usrRepo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	return usr
}

func (app *testApp) createOrganization(t *testing.T, name, businessNumber string) organization.Organization {
	t.Helper()
	now := time.Now().UTC()
	org, err := app.orgRepo.CreateOrganization(context.Background(), organization.Organization{
		Name:                  name,
		BusinessNumber:        businessNumber,
		SubscriptionPlan:      organization.PlanBasic,
		SubscriptionStatus:    organization.SubscriptionActive,
		HasContractManagement: true,
		IsActive:              true,
		CreatedAt:             now,
		UpdatedAt:             now,
	})
	if err != nil {
		t.Fatalf("CreateOrganization(): %v", err)
	}
	return org
}

func (app *testApp) createCustomer(t *testing.T, actor core.Actor, name string) customer.Customer {
	t.Helper()
	c, err := app.custSvc.Create(context.Background(), actor, customer.NewCustomer{Name: name})
	if err != nil {
		t.Fatalf("custSvc.Create(): %v", err)
	}
	return c
}

func (app *testApp) createStack(t *testing.T, actor core.Actor, customerID, name string) stack.Stack {
	t.Helper()
	st, err := app.stackSvc.Create(context.Background(), actor, stack.NewStack{CustomerID: customerID, Name: name})
	if err != nil {
		t.Fatalf("stackSvc.Create(): %v", err)
	}
	return st
}

func (app *testApp) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := app.server.GenerateToken(usr)
	if err != nil {
		t.Fatalf("GenerateToken(): %v", err)
	}
	return token
}

func (app *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.server.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) *http.Request {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func newRequest(method, path string, data ...[]byte) *http.Request {
	return newAuthRequest(method, path, "", data...)
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj(): %v", err)
	}
	return data
}

func unmarshall(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("json.Unmarshal(%s): %v", rec.Body.String(), err)
	}
}

func runHTTPTests(t *testing.T, app *testApp, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			rec := app.do(newAuthRequest(method, tt.path, tt.token, tt.body))

			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantData != nil {
				assert.JSONEq(t, string(tt.wantData), rec.Body.String())
			}
		})
	}
}
