package user

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/tigrofin/pmms/core"
)

// Statuses
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

var (
	AllStatuses = []string{StatusPending, StatusApproved, StatusRejected}

	Roles = []Role{
		{Name: "System Admin", Value: core.RoleSuperAdmin},
		{Name: "Organization Admin", Value: core.RoleOrgAdmin},
		{Name: "Operator", Value: core.RoleOperator},
		{Name: "Customer Admin", Value: core.RoleCustomerAdmin},
		{Name: "Customer User", Value: core.RoleCustomerUser},
	}
)

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID                    string    `json:"id"`
	Email                 string    `json:"email"`
	Name                  string    `json:"name"`
	Phone                 string    `json:"phone,omitempty"`
	Role                  string    `json:"role"`
	Status                string    `json:"status"`
	IsActive              bool      `json:"isActive"`
	OrganizationID        string    `json:"organizationId,omitempty"`
	CustomerID            string    `json:"customerId,omitempty"`
	Department            string    `json:"department,omitempty"`
	Position              string    `json:"position,omitempty"`
	PasswordHash          []byte    `json:"-"`
	PasswordResetRequired bool      `json:"passwordResetRequired"`
	LoginCount            int       `json:"loginCount"`
	LastLogin             time.Time `json:"lastLogin"` // UTC
	CreatedAt             time.Time `json:"createdAt"` // UTC
	UpdatedAt             time.Time `json:"updatedAt"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

// Actor returns the tenancy view of the User.
func (u User) Actor() core.Actor {
	return core.Actor{
		UserID:         u.ID,
		Role:           u.Role,
		OrganizationID: u.OrganizationID,
		CustomerID:     u.CustomerID,
	}
}

func (u User) IsApproved() bool { return u.Status == StatusApproved }

// NewUser contains information needed to create a new User.
type NewUser struct {
	Email           string `json:"email" validate:"required,email"`
	Name            string `json:"name" validate:"required,notblank"`
	Phone           string `json:"phone"`
	Role            string `json:"role" validate:"required,role"`
	OrganizationID  string `json:"organizationId"`
	CustomerID      string `json:"customerId"`
	Department      string `json:"department"`
	Position        string `json:"position"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`

	registering bool // tenant is created along with the User
}

// ForRegistration marks nu as the admin of a tenant which does not exist yet.
func (nu *NewUser) ForRegistration(role string) {
	nu.Role = role
	nu.registering = true
}

func (nu *NewUser) Clean() {
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Name = core.CleanString(nu.Name)
	nu.Phone = core.CleanString(nu.Phone)
	nu.Role = core.CleanString(nu.Role)
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	nu.Clean()
	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
// Role, Status, IsActive and the tenant can only be changed by admins.
type UpdateUser struct {
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	Department     string `json:"department"`
	Position       string `json:"position"`
	Role           string `json:"role" validate:"omitempty,role"`
	Status         string `json:"status" validate:"omitempty,oneof=PENDING APPROVED REJECTED"`
	IsActive       *bool  `json:"isActive"`
	OrganizationID string `json:"organizationId"`
	CustomerID     string `json:"customerId"`
}

func (uu *UpdateUser) Validate(validate *validator.Validate) error {
	uu.Name = core.CleanString(uu.Name)
	uu.Phone = core.CleanString(uu.Phone)
	uu.Role = core.CleanString(uu.Role)
	uu.Status = core.CleanString(uu.Status)
	uu.OrganizationID = core.CleanString(uu.OrganizationID)
	uu.CustomerID = core.CleanString(uu.CustomerID)
	return validate.Struct(uu)
}

func (uu UpdateUser) TouchesAdminFields() bool {
	return uu.Role != "" || uu.Status != "" || uu.IsActive != nil || uu.OrganizationID != "" || uu.CustomerID != ""
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"passwordConfirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetUserPassword) Validate(validate *validator.Validate) error {
	return validate.Struct(rp)
}

type ChangePassword struct {
	OldPassword     string `json:"oldPassword" validate:"required"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

func (cp ChangePassword) Validate(validate *validator.Validate) error {
	return validate.Struct(cp)
}

type QueryFilter struct {
	Search         string   `query:"search"`
	Roles          []string `query:"role"`
	Status         string   `query:"status"`
	IsActive       *bool    `query:"isActive"`
	OrganizationID string   `query:"organizationId"`
	CustomerID     string   `query:"customerId"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.Status == "" && qf.IsActive == nil &&
		qf.OrganizationID == "" && qf.CustomerID == ""
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Status = core.CleanString(qf.Status)
}

// GetFilter selects a single User; the first non-empty field wins.
type GetFilter struct {
	ID    string
	Email string
}
