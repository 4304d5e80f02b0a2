package contract_test

import (
	"context"
	"io/ioutil"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/activity"
	"github.com/tigrofin/pmms/core/contract"
	"github.com/tigrofin/pmms/core/customer"
	"github.com/tigrofin/pmms/core/notification"
	"github.com/tigrofin/pmms/core/organization"
	"github.com/tigrofin/pmms/core/user"
	"github.com/tigrofin/pmms/services/email"
	"github.com/tigrofin/pmms/services/logger"
	"github.com/tigrofin/pmms/storage/database/inmem"
)

var kst = time.FixedZone("KST", 9*60*60)

type fixture struct {
	svc      contract.Service
	notifSvc notification.Service
	mailSvc  *emailsvc.ConsoleServiceMock
	org      organization.Organization
	admin    user.User
	custID   string
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	conf := core.NewTestConfig()
	logger := logsvc.NewRollbarLogger(log.New(ioutil.Discard, "", 0), conf)
	logger.Enable(false)

	db := inmemdb.NewDB()
	usrRepo := inmemdb.NewUserRepository(db)
	orgRepo := inmemdb.NewOrganizationRepository(db)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	actSvc := activity.NewService(inmemdb.NewActivityRepository(db), logger)
	notifSvc := notification.NewService(inmemdb.NewNotificationRepository(db))
	usrSvc := user.NewService(usrRepo, mailSvc, conf)
	orgSvc := organization.NewService(orgRepo, nil, usrSvc, actSvc, notifSvc, mailSvc)
	custSvc := customer.NewService(inmemdb.NewCustomerRepository(db), nil, usrSvc, notifSvc)
	svc := contract.NewService(inmemdb.NewContractRepository(db), nil, conf, orgSvc, custSvc, usrSvc, notifSvc, actSvc, mailSvc)

	now := time.Now().UTC()
	org, err := orgRepo.CreateOrganization(ctx, organization.Organization{
		Name:                  "Acme Testing",
		BusinessNumber:        "123-45-67890",
		SubscriptionStatus:    organization.SubscriptionActive,
		HasContractManagement: true,
		IsActive:              true,
		CreatedAt:             now,
		UpdatedAt:             now,
	})
	if err != nil {
		t.Fatalf("CreateOrganization(): %v", err)
	}
	admin, err := usrRepo.CreateUser(ctx, user.User{
		Email:          "admin@acme.kr",
		Name:           "Acme Admin",
		Role:           core.RoleOrgAdmin,
		Status:         user.StatusApproved,
		IsActive:       true,
		OrganizationID: org.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	c, err := custSvc.Create(ctx, core.SystemActor, customer.NewCustomer{Name: "Hanbit Steel"})
	if err != nil {
		t.Fatalf("custSvc.Create(): %v", err)
	}
	return fixture{svc: svc, notifSvc: notifSvc, mailSvc: mailSvc, org: org, admin: admin, custID: c.ID}
}

func (f fixture) create(t *testing.T, end time.Time) contract.Contract {
	t.Helper()
	actor := core.Actor{UserID: f.admin.ID, Role: core.RoleOrgAdmin, OrganizationID: f.org.ID}
	ct, err := f.svc.Create(context.Background(), actor, contract.NewContract{
		CustomerID: f.custID,
		StartDate:  end.AddDate(-1, 0, 0),
		EndDate:    end,
	})
	if err != nil {
		t.Fatalf("Create(): %v", err)
	}
	return ct
}

func TestService_CheckExpiring(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, kst)

	soon := f.create(t, time.Date(2024, 3, 6, 0, 0, 0, 0, kst))
	later := f.create(t, time.Date(2024, 3, 21, 0, 0, 0, 0, kst))
	past := f.create(t, time.Date(2024, 2, 27, 0, 0, 0, 0, kst))
	far := f.create(t, time.Date(2024, 6, 1, 0, 0, 0, 0, kst))

	res, err := f.svc.CheckExpiring(ctx, now)
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, contract.CheckResult{
		Checked:  2,
		Notified: 2,
		Expired:  1,
		Message:  "2 contracts checked, 2 notifications created, 1 contracts expired",
	}, res)
	assert.Len(t, f.mailSvc.SentMessages(), 2)

	n, err := f.notifSvc.UnreadCount(ctx, f.admin.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	actor := core.Actor{Role: core.RoleOrgAdmin, OrganizationID: f.org.ID}
	wantStatuses := map[string]string{
		soon.ID:  contract.StatusExpiring,
		later.ID: contract.StatusExpiring,
		past.ID:  contract.StatusExpired,
		far.ID:   contract.StatusActive,
	}
	for id, want := range wantStatuses {
		ct, err := f.svc.Get(ctx, actor, id)
		if assert.NoError(t, err) {
			assert.Equal(t, want, ct.Status, ct.EndDate)
		}
	}

	t.Run("weekly contracts are not notified twice in a week", func(t *testing.T) {
		res, err := f.svc.CheckExpiring(ctx, now.Add(time.Hour))
		assert.NoError(t, err)
		assert.Equal(t, 2, res.Checked)
		assert.Equal(t, 1, res.Notified)
		assert.Equal(t, 0, res.Expired)
	})

	t.Run("a week later the other one is notified again", func(t *testing.T) {
		res, err := f.svc.CheckExpiring(ctx, now.AddDate(0, 0, 8))
		assert.NoError(t, err)
		assert.Equal(t, 1, res.Checked, "the soon contract is past due")
		assert.Equal(t, 1, res.Notified)
		assert.Equal(t, 1, res.Expired)
	})
}

func TestService_Extend(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	actor := core.Actor{UserID: f.admin.ID, Role: core.RoleOrgAdmin, OrganizationID: f.org.ID}
	ct := f.create(t, time.Date(2024, 3, 6, 0, 0, 0, 0, kst))

	_, err := f.svc.Extend(ctx, actor, ct, contract.ExtendContract{EndDate: ct.EndDate.AddDate(0, 0, -1)})
	assert.Error(t, err)

	other := core.Actor{Role: core.RoleOrgAdmin, OrganizationID: "other"}
	_, err = f.svc.Extend(ctx, other, ct, contract.ExtendContract{EndDate: ct.EndDate.AddDate(1, 0, 0)})
	assert.Equal(t, contract.ErrNotAllowed, err)

	ct.Status = contract.StatusExpiring
	ct, err = f.svc.Extend(ctx, actor, ct, contract.ExtendContract{EndDate: ct.EndDate.AddDate(1, 0, 0)})
	if assert.NoError(t, err) {
		assert.Equal(t, contract.StatusActive, ct.Status)
		assert.Nil(t, ct.LastNotifiedAt)
	}
}

func TestDaysRemaining(t *testing.T) {
	today := contract.Today(time.Date(2024, 3, 1, 17, 45, 0, 0, kst))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, kst), today)
	assert.Equal(t, 5, contract.DaysRemaining(time.Date(2024, 3, 6, 0, 0, 0, 0, kst), today))
	assert.Equal(t, 1, contract.DaysRemaining(time.Date(2024, 3, 1, 12, 0, 0, 0, kst), today))
	assert.Equal(t, -2, contract.DaysRemaining(time.Date(2024, 2, 28, 0, 0, 0, 0, kst), today))
}
