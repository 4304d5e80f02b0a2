package organization

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/activity"
	"github.com/tigrofin/pmms/core/notification"
	"github.com/tigrofin/pmms/core/user"
)

var (
	// errors
	ErrNotFound              = errors.New("organization not found")
	ErrBusinessNumberExists  = errors.New("an organization with this business number already exists")
	ErrNotAllowed            = core.NewPermissionError("only system admins can manage organizations")
	ErrSubscriptionForbidden = core.NewPermissionError("only system admins can change subscriptions")
)

type (
	Repository interface {
		CheckBusinessNumberUniqueness(ctx context.Context, businessNumber string, excluded []Organization, exec ...core.DBExecutor) error
		CreateOrganization(ctx context.Context, org Organization, exec ...core.DBExecutor) (Organization, error)
		QueryOrganizations(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Organization, error)
		CountOrganizations(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) (int, error)
		GetOrganization(ctx context.Context, id string, exec ...core.DBExecutor) (Organization, error)
		UpdateOrganization(ctx context.Context, org Organization, exec ...core.DBExecutor) (Organization, error)
		DeleteOrganization(ctx context.Context, id string, exec ...core.DBExecutor) (int, error)
	}

	Service interface {
		CheckUniqueness(ctx context.Context, businessNumber string, excluded ...Organization) error
		Register(ctx context.Context, reg Registration) (Organization, user.User, error)
		Create(ctx context.Context, actor core.Actor, no NewOrganization) (Organization, error)
		Query(ctx context.Context, actor core.Actor, filter *QueryFilter, ordering []core.DBOrdering) ([]Organization, error)
		Count(ctx context.Context, filter *QueryFilter) (int, error)
		// GetByID returns the Organization without any permission check.
		GetByID(ctx context.Context, id string) (Organization, error)
		Get(ctx context.Context, actor core.Actor, id string) (Organization, error)
		Update(ctx context.Context, actor core.Actor, org Organization, uo UpdateOrganization) (Organization, error)
		Delete(ctx context.Context, actor core.Actor, id string) error
		Approve(ctx context.Context, actor core.Actor, id string) (Organization, error)
	}

	service struct {
		repo     Repository
		db       core.DB
		usrSvc   user.Service
		actSvc   activity.Service
		notifSvc notification.Service
		mailSvc  core.EmailService
	}
)

var _ Service = (*service)(nil)

func NewService(
	repo Repository,
	db core.DB,
	usrSvc user.Service,
	actSvc activity.Service,
	notifSvc notification.Service,
	mailSvc core.EmailService,
) Service {
	return &service{
		repo:     repo,
		db:       db,
		usrSvc:   usrSvc,
		actSvc:   actSvc,
		notifSvc: notifSvc,
		mailSvc:  mailSvc,
	}
}

func (svc *service) CheckUniqueness(ctx context.Context, businessNumber string, excluded ...Organization) error {
	if err := svc.repo.CheckBusinessNumberUniqueness(ctx, businessNumber, excluded); err != nil {
		if errors.Cause(err) == ErrBusinessNumberExists {
			return core.NewValidationError(err, core.FieldError{Field: "businessNumber", Error: err.Error()})
		}
		return err
	}
	return nil
}

func (svc *service) newOrganization(no NewOrganization, active bool) Organization {
	now := time.Now().UTC()
	org := Organization{
		Name:                  no.Name,
		BusinessNumber:        no.BusinessNumber,
		BusinessType:          no.BusinessType,
		Address:               no.Address,
		Phone:                 no.Phone,
		Email:                 no.Email,
		SubscriptionPlan:      no.SubscriptionPlan,
		SubscriptionStatus:    SubscriptionActive,
		MaxUsers:              no.MaxUsers,
		MaxStacks:             no.MaxStacks,
		HasContractManagement: no.HasContractManagement,
		IsActive:              active,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if org.SubscriptionPlan == "" {
		org.SubscriptionPlan = PlanFree
	}
	if org.MaxUsers == 0 {
		org.MaxUsers = 5
	}
	if org.MaxStacks == 0 {
		org.MaxStacks = 50
	}
	return org
}

func (svc *service) Register(ctx context.Context, reg Registration) (Organization, user.User, error) {
	org := svc.newOrganization(reg.NewOrganization, false)
	org.SubscriptionPlan = PlanFree
	org.SubscriptionStatus = SubscriptionTrial

	var admin user.User
	err := core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		if org, err = svc.repo.CreateOrganization(ctx, org, core.Executors(exec)...); err != nil {
			return errors.Wrap(err, "creating organization")
		}
		nu := reg.Admin
		nu.OrganizationID = org.ID
		if admin, err = svc.usrSvc.Register(ctx, nu, core.Executors(exec)...); err != nil {
			return errors.Wrap(err, "creating organization admin")
		}
		svc.actSvc.Record(ctx, admin.ID, activity.ActionRegisterOrganization, map[string]interface{}{
			"organizationId":     org.ID,
			"organizationName":   org.Name,
			"businessNumber":     org.BusinessNumber,
			"registrationReason": reg.RegistrationReason,
			"notes":              reg.Notes,
		}, core.Executors(exec)...)
		return nil
	})
	if err != nil {
		return Organization{}, user.User{}, err
	}
	return org, admin, nil
}

func (svc *service) Create(ctx context.Context, actor core.Actor, no NewOrganization) (Organization, error) {
	if !actor.IsSuperAdmin() {
		return Organization{}, ErrNotAllowed
	}
	return svc.repo.CreateOrganization(ctx, svc.newOrganization(no, true))
}

func (svc *service) Query(ctx context.Context, actor core.Actor, filter *QueryFilter, ordering []core.DBOrdering) ([]Organization, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	switch {
	case actor.IsSuperAdmin():
	case actor.IsOrgUser():
		filter.IDs = []string{actor.OrganizationID}
	default:
		// customers browse the active organizations they may connect to
		active := true
		filter.IsActive = &active
	}
	ordering = core.FilterOrderings(ordering, "name", "business_number", "created_at", "subscription_plan")
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	return svc.repo.QueryOrganizations(ctx, filter, ordering)
}

func (svc *service) Count(ctx context.Context, filter *QueryFilter) (int, error) {
	return svc.repo.CountOrganizations(ctx, filter)
}

func (svc *service) GetByID(ctx context.Context, id string) (Organization, error) {
	if id == "" {
		return Organization{}, ErrNotFound
	}
	return svc.repo.GetOrganization(ctx, id)
}

func (svc *service) Get(ctx context.Context, actor core.Actor, id string) (Organization, error) {
	org, err := svc.GetByID(ctx, id)
	if err != nil {
		return Organization{}, err
	}
	switch {
	case actor.IsSuperAdmin():
	case actor.IsOrgUser():
		if org.ID != actor.OrganizationID {
			return Organization{}, ErrNotFound
		}
	default:
		if !org.IsActive {
			return Organization{}, ErrNotFound
		}
	}
	return org, nil
}

func (svc *service) Update(ctx context.Context, actor core.Actor, org Organization, uo UpdateOrganization) (Organization, error) {
	if !(actor.IsSuperAdmin() || (actor.IsOrgAdmin() && actor.OrganizationID == org.ID)) {
		return Organization{}, ErrNotAllowed
	}
	if uo.TouchesSubscription() && !actor.IsSuperAdmin() {
		return Organization{}, ErrSubscriptionForbidden
	}

	if uo.Name != "" {
		org.Name = uo.Name
	}
	if uo.BusinessNumber != "" {
		org.BusinessNumber = uo.BusinessNumber
	}
	if uo.BusinessType != "" {
		org.BusinessType = uo.BusinessType
	}
	if uo.Address != "" {
		org.Address = uo.Address
	}
	if uo.Phone != "" {
		org.Phone = uo.Phone
	}
	if uo.Email != "" {
		org.Email = uo.Email
	}
	if uo.SubscriptionPlan != "" {
		org.SubscriptionPlan = uo.SubscriptionPlan
	}
	if uo.SubscriptionStatus != "" {
		org.SubscriptionStatus = uo.SubscriptionStatus
	}
	if uo.MaxUsers != nil {
		org.MaxUsers = *uo.MaxUsers
	}
	if uo.MaxStacks != nil {
		org.MaxStacks = *uo.MaxStacks
	}
	if uo.HasContractManagement != nil {
		org.HasContractManagement = *uo.HasContractManagement
	}
	if uo.IsActive != nil {
		org.IsActive = *uo.IsActive
	}
	org.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateOrganization(ctx, org)
}

func (svc *service) Delete(ctx context.Context, actor core.Actor, id string) error {
	if !actor.IsSuperAdmin() {
		return ErrNotAllowed
	}
	n, err := svc.repo.DeleteOrganization(ctx, id)
	if err != nil {
		return errors.Wrap(err, "deleting organization")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Approve activates a registered Organization along with its pending admins, who are then notified.
func (svc *service) Approve(ctx context.Context, actor core.Actor, id string) (Organization, error) {
	if !actor.IsSuperAdmin() {
		return Organization{}, ErrNotAllowed
	}
	org, err := svc.GetByID(ctx, id)
	if err != nil {
		return Organization{}, err
	}

	var admins []user.User
	err = core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		org.IsActive = true
		org.SubscriptionStatus = SubscriptionActive
		org.UpdatedAt = time.Now().UTC()
		if org, err = svc.repo.UpdateOrganization(ctx, org, core.Executors(exec)...); err != nil {
			return errors.Wrap(err, "activating organization")
		}
		if admins, err = svc.usrSvc.ApproveOrganizationAdmins(ctx, org.ID, core.Executors(exec)...); err != nil {
			return err
		}

		ids := make([]string, 0, len(admins))
		for _, admin := range admins {
			ids = append(ids, admin.ID)
		}
		svc.actSvc.Record(ctx, actor.UserID, activity.ActionApproveOrganization, map[string]interface{}{
			"organizationId":   org.ID,
			"organizationName": org.Name,
		}, core.Executors(exec)...)
		return svc.notifSvc.Notify(ctx, ids, notification.NewNotification{
			Type:    notification.TypeOrganizationApproved,
			Title:   "기업 가입 승인",
			Message: fmt.Sprintf("%s 가입이 승인되었습니다.", org.Name),
			Link:    "/org/settings/organization",
		}, core.Executors(exec)...)
	})
	if err != nil {
		return Organization{}, err
	}

	messages := make([]*core.EmailMessage, 0, len(admins))
	for _, admin := range admins {
		messages = append(messages, &core.EmailMessage{
			To:           []mail.Address{{Name: admin.Name, Address: admin.Email}},
			Subject:      "Organization approved",
			TemplateName: "organization_approved",
			TemplateData: map[string]interface{}{
				"Name":             admin.Name,
				"OrganizationName": org.Name,
			},
		})
	}
	if len(messages) > 0 {
		svc.mailSvc.SendMessages(messages...)
	}
	return org, nil
}
