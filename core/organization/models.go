package organization

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/user"
)

// Subscription plans & statuses
const (
	PlanFree    = "FREE"
	PlanBasic   = "BASIC"
	PlanPremium = "PREMIUM"

	SubscriptionTrial     = "TRIAL"
	SubscriptionActive    = "ACTIVE"
	SubscriptionSuspended = "SUSPENDED"
)

// Query statuses, derived from Organization.IsActive
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
)

type Organization struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	BusinessNumber        string    `json:"businessNumber"`
	BusinessType          string    `json:"businessType,omitempty"`
	Address               string    `json:"address,omitempty"`
	Phone                 string    `json:"phone,omitempty"`
	Email                 string    `json:"email,omitempty"`
	SubscriptionPlan      string    `json:"subscriptionPlan"`
	SubscriptionStatus    string    `json:"subscriptionStatus"`
	MaxUsers              int       `json:"maxUsers"`
	MaxStacks             int       `json:"maxStacks"`
	HasContractManagement bool      `json:"hasContractManagement"`
	IsActive              bool      `json:"isActive"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// NewOrganization contains information needed to create a new Organization.
type NewOrganization struct {
	Name                  string `json:"name" validate:"required,notblank"`
	BusinessNumber        string `json:"businessNumber" validate:"required,businessno"`
	BusinessType          string `json:"businessType"`
	Address               string `json:"address"`
	Phone                 string `json:"phone"`
	Email                 string `json:"email" validate:"omitempty,email"`
	SubscriptionPlan      string `json:"subscriptionPlan" validate:"omitempty,oneof=FREE BASIC PREMIUM"`
	MaxUsers              int    `json:"maxUsers" validate:"gte=0"`
	MaxStacks             int    `json:"maxStacks" validate:"gte=0"`
	HasContractManagement bool   `json:"hasContractManagement"`
}

func (no *NewOrganization) Clean() {
	no.Name = core.CleanString(no.Name)
	no.BusinessNumber = core.CleanString(no.BusinessNumber)
	no.BusinessType = core.CleanString(no.BusinessType)
	no.Address = core.CleanString(no.Address)
	no.Phone = core.CleanString(no.Phone)
	no.Email = core.CleanString(no.Email, true /* lower */)
}

func (no *NewOrganization) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	no.Clean()
	if err := validate.Struct(no); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, no.BusinessNumber)
}

// Registration is the public sign-up of an environmental testing company along with its first admin.
type Registration struct {
	NewOrganization
	Admin              user.NewUser `json:"admin"`
	RegistrationReason string       `json:"registrationReason"`
	Notes              string       `json:"notes"`
}

func (reg *Registration) Validate(ctx context.Context, validate *validator.Validate, svc Service, usrSvc user.Service) error {
	reg.NewOrganization.Clean()
	reg.Admin.Clean()
	reg.Admin.ForRegistration(core.RoleOrgAdmin)
	if err := validate.Struct(reg); err != nil {
		return err
	}
	if err := svc.CheckUniqueness(ctx, reg.BusinessNumber); err != nil {
		return err
	}
	return usrSvc.CheckUniqueness(ctx, reg.Admin.Email)
}

// UpdateOrganization defines what information may be provided to modify an existing Organization.
// Subscription fields are reserved to SUPER_ADMIN.
type UpdateOrganization struct {
	Name                  string `json:"name"`
	BusinessNumber        string `json:"businessNumber" validate:"omitempty,businessno"`
	BusinessType          string `json:"businessType"`
	Address               string `json:"address"`
	Phone                 string `json:"phone"`
	Email                 string `json:"email" validate:"omitempty,email"`
	SubscriptionPlan      string `json:"subscriptionPlan" validate:"omitempty,oneof=FREE BASIC PREMIUM"`
	SubscriptionStatus    string `json:"subscriptionStatus" validate:"omitempty,oneof=TRIAL ACTIVE SUSPENDED"`
	MaxUsers              *int   `json:"maxUsers" validate:"omitempty,gte=0"`
	MaxStacks             *int   `json:"maxStacks" validate:"omitempty,gte=0"`
	HasContractManagement *bool  `json:"hasContractManagement"`
	IsActive              *bool  `json:"isActive"`
}

func (uo *UpdateOrganization) Validate(ctx context.Context, validate *validator.Validate, orig Organization, svc Service) error {
	uo.Name = core.CleanString(uo.Name)
	uo.BusinessNumber = core.CleanString(uo.BusinessNumber)
	uo.Email = core.CleanString(uo.Email, true /* lower */)
	if err := validate.Struct(uo); err != nil {
		return err
	}
	if uo.BusinessNumber != "" && uo.BusinessNumber != orig.BusinessNumber {
		return svc.CheckUniqueness(ctx, uo.BusinessNumber, orig)
	}
	return nil
}

func (uo UpdateOrganization) TouchesSubscription() bool {
	return uo.SubscriptionPlan != "" || uo.SubscriptionStatus != "" || uo.MaxUsers != nil ||
		uo.MaxStacks != nil || uo.HasContractManagement != nil || uo.IsActive != nil
}

type QueryFilter struct {
	Search                string   `query:"search"`
	Status                string   `query:"status"` // PENDING | APPROVED
	Plan                  string   `query:"plan"`
	IsActive              *bool    `query:"-"`
	HasContractManagement *bool    `query:"-"`
	IDs                   []string `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	switch core.CleanString(qf.Status) {
	case StatusPending:
		active := false
		qf.IsActive = &active
	case StatusApproved:
		active := true
		qf.IsActive = &active
	}
}
