package contract

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/activity"
	"github.com/tigrofin/pmms/core/customer"
	"github.com/tigrofin/pmms/core/notification"
	"github.com/tigrofin/pmms/core/organization"
	"github.com/tigrofin/pmms/core/user"
)

var (
	// errors
	ErrNotFound           = errors.New("contract not found")
	ErrEndDateBeforeStart = errors.New("end date must be after start date")
	ErrShorterExtension   = errors.New("new end date must not be before the current one")
	ErrNotAllowed         = core.NewPermissionError("not allowed to manage contracts")
	ErrManagementDisabled = core.NewPermissionError("contract management is not enabled for this organization")

	// NowFunc is mocked in tests
	NowFunc = time.Now
)

type (
	Repository interface {
		CreateContract(ctx context.Context, ct Contract, exec ...core.DBExecutor) (Contract, error)
		// QueryContracts fills Contract.CustomerName.
		QueryContracts(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Contract, error)
		GetContract(ctx context.Context, id string, exec ...core.DBExecutor) (Contract, error)
		UpdateContract(ctx context.Context, ct Contract, exec ...core.DBExecutor) (Contract, error)
		DeleteContract(ctx context.Context, id string, exec ...core.DBExecutor) (int, error)
		// ExpireContracts marks every non expired contract ending before `before` as EXPIRED.
		ExpireContracts(ctx context.Context, before time.Time, exec ...core.DBExecutor) (int, error)
	}

	Service interface {
		Create(ctx context.Context, actor core.Actor, nc NewContract) (Contract, error)
		Query(ctx context.Context, actor core.Actor, filter *QueryFilter, ordering []core.DBOrdering) ([]Contract, error)
		Get(ctx context.Context, actor core.Actor, id string) (Contract, error)
		Update(ctx context.Context, actor core.Actor, ct Contract, uc UpdateContract) (Contract, error)
		Delete(ctx context.Context, actor core.Actor, id string) error
		// Extend pushes the end date of a contract further and makes it ACTIVE again.
		Extend(ctx context.Context, actor core.Actor, ct Contract, ec ExtendContract) (Contract, error)
		// CheckExpiring notifies the organizations whose contracts end soon and expires past-due contracts.
		CheckExpiring(ctx context.Context, now time.Time) (CheckResult, error)
	}

	service struct {
		repo     Repository
		db       core.DB
		conf     *core.Config
		orgSvc   organization.Service
		custSvc  customer.Service
		usrSvc   user.Service
		notifSvc notification.Service
		actSvc   activity.Service
		mailSvc  core.EmailService
	}
)

var _ Service = (*service)(nil)

func NewService(
	repo Repository,
	db core.DB,
	conf *core.Config,
	orgSvc organization.Service,
	custSvc customer.Service,
	usrSvc user.Service,
	notifSvc notification.Service,
	actSvc activity.Service,
	mailSvc core.EmailService,
) Service {
	return &service{
		repo:     repo,
		db:       db,
		conf:     conf,
		orgSvc:   orgSvc,
		custSvc:  custSvc,
		usrSvc:   usrSvc,
		notifSvc: notifSvc,
		actSvc:   actSvc,
		mailSvc:  mailSvc,
	}
}

func withDaysRemaining(ct Contract) Contract {
	ct.DaysRemaining = DaysRemaining(ct.EndDate, Today(NowFunc()))
	return ct
}

// canManage reports whether actor administers contracts of orgID.
func canManage(actor core.Actor, orgID string) bool {
	return actor.IsSuperAdmin() || (actor.IsOrgAdmin() && actor.OrganizationID == orgID)
}

func (svc *service) Create(ctx context.Context, actor core.Actor, nc NewContract) (Contract, error) {
	orgID := actor.EffectiveOrganizationID(nc.OrganizationID)
	if orgID == "" || !canManage(actor, orgID) {
		return Contract{}, ErrNotAllowed
	}
	org, err := svc.orgSvc.GetByID(ctx, orgID)
	if err != nil {
		return Contract{}, err
	}
	if !org.HasContractManagement && !actor.IsSuperAdmin() {
		return Contract{}, ErrManagementDisabled
	}
	if err = svc.custSvc.CanAccess(ctx, core.Actor{Role: core.RoleOrgAdmin, OrganizationID: org.ID}, nc.CustomerID); err != nil {
		return Contract{}, err
	}

	now := time.Now().UTC()
	ct, err := svc.repo.CreateContract(ctx, Contract{
		OrganizationID: orgID,
		CustomerID:     nc.CustomerID,
		StartDate:      nc.StartDate.UTC(),
		EndDate:        nc.EndDate.UTC(),
		Status:         StatusActive,
		Memo:           nc.Memo,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return Contract{}, errors.Wrap(err, "creating contract")
	}
	return withDaysRemaining(ct), nil
}

func (svc *service) Query(ctx context.Context, actor core.Actor, filter *QueryFilter, ordering []core.DBOrdering) ([]Contract, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	switch {
	case actor.IsSuperAdmin():
	case actor.IsOrgUser():
		filter.OrganizationID = actor.OrganizationID
	case actor.IsCustomerUser():
		filter.CustomerID = actor.CustomerID
	default:
		return []Contract{}, nil
	}
	if filter.Status = core.CleanString(filter.Status, false); filter.Status != "" {
		filter.Statuses = []string{filter.Status}
	}
	ordering = core.FilterOrderings(ordering, "end_date", "start_date", "created_at", "status")
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "end_date", Ascending: true}}
	}

	contracts, err := svc.repo.QueryContracts(ctx, filter, ordering)
	if err != nil {
		return nil, err
	}
	for i := range contracts {
		contracts[i] = withDaysRemaining(contracts[i])
	}
	return contracts, nil
}

func (svc *service) Get(ctx context.Context, actor core.Actor, id string) (Contract, error) {
	if id == "" {
		return Contract{}, ErrNotFound
	}
	ct, err := svc.repo.GetContract(ctx, id)
	if err != nil {
		return Contract{}, err
	}
	switch {
	case actor.IsSuperAdmin():
	case actor.IsOrgUser() && ct.OrganizationID == actor.OrganizationID:
	case actor.IsCustomerUser() && ct.CustomerID == actor.CustomerID:
	default:
		return Contract{}, ErrNotFound
	}
	return withDaysRemaining(ct), nil
}

func (svc *service) Update(ctx context.Context, actor core.Actor, ct Contract, uc UpdateContract) (Contract, error) {
	if !canManage(actor, ct.OrganizationID) {
		return Contract{}, ErrNotAllowed
	}
	if uc.StartDate != nil {
		ct.StartDate = uc.StartDate.UTC()
	}
	if uc.EndDate != nil {
		ct.EndDate = uc.EndDate.UTC()
	}
	if !ct.EndDate.After(ct.StartDate) {
		return Contract{}, core.NewValidationError(ErrEndDateBeforeStart, core.FieldError{Field: "endDate", Error: ErrEndDateBeforeStart.Error()})
	}
	if uc.Memo != nil {
		ct.Memo = core.CleanString(*uc.Memo)
	}
	if uc.Status != "" {
		ct.Status = uc.Status
	}
	ct.UpdatedAt = time.Now().UTC()
	ct, err := svc.repo.UpdateContract(ctx, ct)
	if err != nil {
		return Contract{}, err
	}
	return withDaysRemaining(ct), nil
}

func (svc *service) Delete(ctx context.Context, actor core.Actor, id string) error {
	ct, err := svc.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if !canManage(actor, ct.OrganizationID) {
		return ErrNotAllowed
	}
	n, err := svc.repo.DeleteContract(ctx, id)
	if err != nil {
		return errors.Wrap(err, "deleting contract")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (svc *service) Extend(ctx context.Context, actor core.Actor, ct Contract, ec ExtendContract) (Contract, error) {
	if !canManage(actor, ct.OrganizationID) {
		return Contract{}, ErrNotAllowed
	}
	if ec.EndDate.Before(ct.EndDate) {
		return Contract{}, core.NewValidationError(ErrShorterExtension, core.FieldError{Field: "endDate", Error: ErrShorterExtension.Error()})
	}
	ct.EndDate = ec.EndDate.UTC()
	ct.Status = StatusActive
	ct.LastNotifiedAt = nil
	ct.UpdatedAt = time.Now().UTC()
	ct, err := svc.repo.UpdateContract(ctx, ct)
	if err != nil {
		return Contract{}, err
	}
	return withDaysRemaining(ct), nil
}

// shouldNotify applies the notice cadence: every run in the last `daily` days, otherwise once per `weekly` days.
func shouldNotify(ct Contract, daysRemaining int, today time.Time, daily, weekly int) bool {
	if daysRemaining <= daily {
		return true
	}
	if ct.LastNotifiedAt == nil {
		return true
	}
	return today.Sub(*ct.LastNotifiedAt) >= time.Duration(weekly)*24*time.Hour
}

func (svc *service) CheckExpiring(ctx context.Context, now time.Time) (CheckResult, error) {
	var res CheckResult
	today := Today(now)
	cc := svc.conf.Contracts

	contracts, err := svc.repo.QueryContracts(ctx, &QueryFilter{
		Statuses: []string{StatusActive, StatusExpiring},
		EndFrom:  today,
		EndTo:    today.AddDate(0, 0, cc.NoticeWindowDays),
	}, []core.DBOrdering{{Field: "end_date", Ascending: true}})
	if err != nil {
		return res, errors.Wrap(err, "querying expiring contracts")
	}
	res.Checked = len(contracts)

	orgs := make(map[string]organization.Organization)
	var messages []*core.EmailMessage
	for _, ct := range contracts {
		org, ok := orgs[ct.OrganizationID]
		if !ok {
			if org, err = svc.orgSvc.GetByID(ctx, ct.OrganizationID); err != nil {
				return res, errors.Wrap(err, "getting contract organization")
			}
			orgs[org.ID] = org
		}
		if !org.HasContractManagement {
			continue
		}

		days := DaysRemaining(ct.EndDate, today)
		if !shouldNotify(ct, days, today, cc.DailyWindowDays, cc.WeeklyIntervalDays) {
			continue
		}

		admins, err := svc.usrSvc.ActiveOrganizationAdmins(ctx, org.ID)
		if err != nil {
			return res, errors.Wrap(err, "querying organization admins")
		}
		ids := make([]string, 0, len(admins))
		for _, admin := range admins {
			ids = append(ids, admin.ID)
		}

		err = core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
			notifiedAt := now.UTC()
			ct.Status = StatusExpiring
			ct.LastNotifiedAt = &notifiedAt
			ct.UpdatedAt = notifiedAt
			if _, err := svc.repo.UpdateContract(ctx, ct, core.Executors(exec)...); err != nil {
				return errors.Wrap(err, "marking contract expiring")
			}
			return svc.notifSvc.Notify(ctx, ids, notification.NewNotification{
				Type:    notification.TypeContractExpiring,
				Title:   "계약 만료 예정",
				Message: fmt.Sprintf("%s의 계약이 %d일 후 만료됩니다.", ct.CustomerName, days),
				Link:    "/contracts",
			}, core.Executors(exec)...)
		})
		if err != nil {
			return res, err
		}
		res.Notified += len(ids)

		for _, admin := range admins {
			messages = append(messages, &core.EmailMessage{
				To:           []mail.Address{{Name: admin.Name, Address: admin.Email}},
				Subject:      "Contract expiring soon",
				TemplateName: "contract_expiring",
				TemplateData: map[string]interface{}{
					"Name":          admin.Name,
					"CustomerName":  ct.CustomerName,
					"EndDate":       ct.EndDate.Format("2006-01-02"),
					"DaysRemaining": days,
				},
			})
		}
	}
	if len(messages) > 0 {
		svc.mailSvc.SendMessages(messages...)
	}

	if res.Expired, err = svc.repo.ExpireContracts(ctx, today); err != nil {
		return res, errors.Wrap(err, "expiring contracts")
	}

	res.Message = fmt.Sprintf("%d contracts checked, %d notifications created, %d contracts expired", res.Checked, res.Notified, res.Expired)
	svc.actSvc.Record(ctx, "", activity.ActionCheckContracts, map[string]interface{}{
		"checked":  res.Checked,
		"notified": res.Notified,
		"expired":  res.Expired,
	})
	return res, nil
}
