package user

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
)

var (
	// errors
	ErrNotFound           = errors.New("user not found")
	ErrEmailExists        = errors.New("a user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDeactivated = errors.New("account deactivated")
	ErrAccountNotApproved = errors.New("account is not approved yet")
	ErrWrongPassword      = errors.New("wrong password")
	ErrTenantRequired     = errors.New("the role needs a tenant")
	ErrDeleteSelf         = core.NewPermissionError("you cannot delete yourself")
	ErrRoleNotAllowed     = core.NewPermissionError("not enough rights to manage this role")
)

type (
	Repository interface {
		CheckEmailUniqueness(ctx context.Context, email string, excludedUsers []User, exec ...core.DBExecutor) error
		CreateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name or User.Email.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]User, error)
		CountUsers(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) (int, error)
		GetUser(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (User, error)
		UpdateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		DeleteUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error)
	}

	Service interface {
		CheckUniqueness(ctx context.Context, email string, excludedUsers ...User) error
		Create(ctx context.Context, actor core.Actor, nu NewUser, exec ...core.DBExecutor) (User, error)
		// Register creates an inactive PENDING User waiting for approval.
		Register(ctx context.Context, nu NewUser, exec ...core.DBExecutor) (User, error)
		Query(ctx context.Context, actor core.Actor, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		Count(ctx context.Context, filter *QueryFilter) (int, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByEmail(ctx context.Context, email string) (User, error)
		// Get returns the User with id if actor may see it, ErrNotFound otherwise.
		Get(ctx context.Context, actor core.Actor, id string) (User, error)
		Update(ctx context.Context, actor core.Actor, usr User, uu UpdateUser) (User, error)
		Delete(ctx context.Context, actor core.Actor, ids ...string) error
		Approve(ctx context.Context, actor core.Actor, id string) (User, error)
		Reject(ctx context.Context, actor core.Actor, id string) (User, error)
		// ApproveOrganizationAdmins approves & activates the pending ORG_ADMINs of an organization.
		ApproveOrganizationAdmins(ctx context.Context, orgID string, exec ...core.DBExecutor) ([]User, error)
		// ActiveOrganizationAdmins lists the approved & active ORG_ADMINs of an organization.
		ActiveOrganizationAdmins(ctx context.Context, orgID string) ([]User, error)
		Authenticate(ctx context.Context, email, pwd string) (User, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)
		RequestPasswordReset(ctx context.Context, email string) error
		ResetPassword(ctx context.Context, data ResetUserPassword) error
		ChangePassword(ctx context.Context, usr User, data ChangePassword) error
		// SetPassword replaces the password of the User with email, without any policy check (admin CLI).
		SetPassword(ctx context.Context, email, pwd string) (User, error)
	}

	service struct {
		repo    Repository
		mailSvc core.EmailService
		tokens  tokenGenerator
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, mailSvc core.EmailService, conf *core.Config) Service {
	return &service{
		repo:    repo,
		mailSvc: mailSvc,
		tokens:  newTokenGenerator(conf.SecretKey, conf.Server.PasswordResetTimeoutDelta),
	}
}

// CanView reports whether actor may see usr.
func CanView(actor core.Actor, usr User) bool {
	switch {
	case actor.IsSuperAdmin():
		return true
	case actor.UserID == usr.ID:
		return true
	case actor.IsOrgAdmin():
		return usr.OrganizationID != "" && usr.OrganizationID == actor.OrganizationID
	case actor.IsCustomerAdmin():
		return usr.CustomerID != "" && usr.CustomerID == actor.CustomerID
	}
	return false
}

// CanManageRole reports whether actor may give `role` to a User of the given tenant.
func CanManageRole(actor core.Actor, role, orgID, customerID string) bool {
	if core.RolePriority(role) > core.RolePriority(actor.Role) {
		return false
	}
	switch {
	case actor.IsSuperAdmin():
		return true
	case actor.IsOrgAdmin():
		return core.ContainsString(core.OrgRoles, role) && orgID == actor.OrganizationID
	case actor.IsCustomerAdmin():
		return core.ContainsString(core.CustomerRoles, role) && customerID == actor.CustomerID
	}
	return false
}

// scopeFilter pins the tenant fields of filter to what actor may see.
func scopeFilter(actor core.Actor, filter *QueryFilter) *QueryFilter {
	if filter == nil {
		filter = new(QueryFilter)
	}
	switch {
	case actor.IsSuperAdmin():
	case actor.IsOrgAdmin():
		filter.OrganizationID = actor.OrganizationID
	case actor.IsCustomerAdmin():
		filter.CustomerID = actor.CustomerID
	default:
		return nil
	}
	return filter
}

func (svc *service) CheckUniqueness(ctx context.Context, email string, excludedUsers ...User) error {
	if err := svc.repo.CheckEmailUniqueness(ctx, email, excludedUsers); err != nil {
		if errors.Cause(err) == ErrEmailExists {
			return core.NewValidationError(err, core.FieldError{Field: "email", Error: err.Error()})
		}
		return err
	}
	return nil
}

func (svc *service) Create(ctx context.Context, actor core.Actor, nu NewUser, exec ...core.DBExecutor) (User, error) {
	// tenants are pinned to the creator's own
	switch {
	case actor.IsOrgAdmin():
		nu.OrganizationID = actor.OrganizationID
	case actor.IsCustomerAdmin():
		nu.CustomerID = actor.CustomerID
	}
	if !CanManageRole(actor, nu.Role, nu.OrganizationID, nu.CustomerID) {
		return User{}, ErrRoleNotAllowed
	}
	if core.ContainsString(core.OrgRoles, nu.Role) {
		nu.CustomerID = ""
	} else if core.ContainsString(core.CustomerRoles, nu.Role) {
		nu.OrganizationID = ""
	}

	now := time.Now().UTC()
	usr := User{
		Email:          nu.Email,
		Name:           nu.Name,
		Phone:          nu.Phone,
		Role:           nu.Role,
		Status:         StatusApproved,
		IsActive:       true,
		OrganizationID: nu.OrganizationID,
		CustomerID:     nu.CustomerID,
		Department:     nu.Department,
		Position:       nu.Position,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	return svc.repo.CreateUser(ctx, usr, exec...)
}

func (svc *service) Register(ctx context.Context, nu NewUser, exec ...core.DBExecutor) (User, error) {
	now := time.Now().UTC()
	usr := User{
		Email:          nu.Email,
		Name:           nu.Name,
		Phone:          nu.Phone,
		Role:           nu.Role,
		Status:         StatusPending,
		OrganizationID: nu.OrganizationID,
		CustomerID:     nu.CustomerID,
		Department:     nu.Department,
		Position:       nu.Position,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	return svc.repo.CreateUser(ctx, usr, exec...)
}

func (svc *service) Query(ctx context.Context, actor core.Actor, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	scoped := scopeFilter(actor, filter)
	if scoped == nil {
		usr, err := svc.repo.GetUser(ctx, GetFilter{ID: actor.UserID})
		if err != nil {
			if errors.Cause(err) == ErrNotFound {
				return []User{}, nil
			}
			return nil, err
		}
		return []User{usr}, nil
	}
	ordering = core.FilterOrderings(ordering, "name", "email", "role", "status", "created_at", "last_login")
	return svc.repo.QueryUsers(ctx, scoped, ordering)
}

func (svc *service) Count(ctx context.Context, filter *QueryFilter) (int, error) {
	return svc.repo.CountUsers(ctx, filter)
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	if id == "" {
		return User{}, ErrNotFound
	}
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *service) GetByEmail(ctx context.Context, email string) (User, error) {
	email = core.CleanString(email, true /* lower */)
	if email == "" {
		return User{}, ErrNotFound
	}
	return svc.repo.GetUser(ctx, GetFilter{Email: email})
}

func (svc *service) Get(ctx context.Context, actor core.Actor, id string) (User, error) {
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if !CanView(actor, usr) {
		return User{}, ErrNotFound
	}
	return usr, nil
}

func (svc *service) Update(ctx context.Context, actor core.Actor, usr User, uu UpdateUser) (User, error) {
	if uu.TouchesAdminFields() {
		if !actor.IsAdmin() || actor.UserID == usr.ID {
			return User{}, core.NewPermissionError("only admins can change role, status or activation")
		}
		role := usr.Role
		if uu.Role != "" {
			role = uu.Role
		}
		orgID, custID, err := tenantOf(role, usr, uu)
		if err != nil {
			return User{}, err
		}
		if !CanManageRole(actor, role, orgID, custID) {
			return User{}, ErrRoleNotAllowed
		}
		usr.OrganizationID, usr.CustomerID = orgID, custID
	}

	if uu.Name != "" {
		usr.Name = uu.Name
	}
	if uu.Phone != "" {
		usr.Phone = uu.Phone
	}
	if uu.Department != "" {
		usr.Department = uu.Department
	}
	if uu.Position != "" {
		usr.Position = uu.Position
	}
	if uu.Role != "" {
		usr.Role = uu.Role
	}
	if uu.Status != "" {
		usr.Status = uu.Status
	}
	if uu.IsActive != nil {
		usr.IsActive = *uu.IsActive
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// tenantOf returns the tenant a User with `role` belongs to after uu is applied.
// Org roles keep only an organization, customer roles only a customer & SUPER_ADMIN neither.
func tenantOf(role string, usr User, uu UpdateUser) (orgID, custID string, err error) {
	orgID, custID = usr.OrganizationID, usr.CustomerID
	if uu.OrganizationID != "" {
		orgID = uu.OrganizationID
	}
	if uu.CustomerID != "" {
		custID = uu.CustomerID
	}
	switch {
	case core.ContainsString(core.OrgRoles, role):
		if orgID == "" {
			return "", "", core.NewValidationError(ErrTenantRequired, core.FieldError{Field: "organizationId", Error: "organizationId is required for this role"})
		}
		return orgID, "", nil
	case core.ContainsString(core.CustomerRoles, role):
		if custID == "" {
			return "", "", core.NewValidationError(ErrTenantRequired, core.FieldError{Field: "customerId", Error: "customerId is required for this role"})
		}
		return "", custID, nil
	}
	return "", "", nil
}

func (svc *service) Delete(ctx context.Context, actor core.Actor, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if core.ContainsString(ids, actor.UserID) {
		return ErrDeleteSelf
	}
	for _, id := range ids {
		usr, err := svc.Get(ctx, actor, id)
		if err != nil {
			return err
		}
		if !CanManageRole(actor, usr.Role, usr.OrganizationID, usr.CustomerID) {
			return ErrRoleNotAllowed
		}
	}
	if _, err := svc.repo.DeleteUsersByID(ctx, ids); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}

func (svc *service) setStatus(ctx context.Context, actor core.Actor, id, status string) (User, error) {
	usr, err := svc.Get(ctx, actor, id)
	if err != nil {
		return User{}, err
	}
	if !actor.IsAdmin() || !CanManageRole(actor, usr.Role, usr.OrganizationID, usr.CustomerID) {
		return User{}, ErrRoleNotAllowed
	}
	usr.Status = status
	usr.IsActive = status == StatusApproved
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) Approve(ctx context.Context, actor core.Actor, id string) (User, error) {
	return svc.setStatus(ctx, actor, id, StatusApproved)
}

func (svc *service) Reject(ctx context.Context, actor core.Actor, id string) (User, error) {
	return svc.setStatus(ctx, actor, id, StatusRejected)
}

func (svc *service) ApproveOrganizationAdmins(ctx context.Context, orgID string, exec ...core.DBExecutor) ([]User, error) {
	admins, err := svc.repo.QueryUsers(ctx, &QueryFilter{
		OrganizationID: orgID,
		Roles:          []string{core.RoleOrgAdmin},
		Status:         StatusPending,
	}, nil, exec...)
	if err != nil {
		return nil, errors.Wrap(err, "querying pending organization admins")
	}

	now := time.Now().UTC()
	approved := make([]User, 0, len(admins))
	for _, usr := range admins {
		usr.Status = StatusApproved
		usr.IsActive = true
		usr.UpdatedAt = now
		usr, err = svc.repo.UpdateUser(ctx, usr, exec...)
		if err != nil {
			return nil, errors.Wrap(err, "approving organization admin")
		}
		approved = append(approved, usr)
	}
	return approved, nil
}

func (svc *service) ActiveOrganizationAdmins(ctx context.Context, orgID string) ([]User, error) {
	active := true
	return svc.repo.QueryUsers(ctx, &QueryFilter{
		OrganizationID: orgID,
		Roles:          []string{core.RoleOrgAdmin},
		Status:         StatusApproved,
		IsActive:       &active,
	}, nil)
}

func (svc *service) Authenticate(ctx context.Context, email, pwd string) (User, error) {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return User{}, ErrInvalidCredentials
		}
		return User{}, errors.Wrap(err, "finding user by email")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return User{}, ErrInvalidCredentials
	}
	if !usr.IsApproved() {
		return User{}, ErrAccountNotApproved
	}
	if !usr.IsActive {
		return User{}, ErrAccountDeactivated
	}
	return usr, nil
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = time.Now().UTC()
	usr.LoginCount++
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.IsActive {
		return ErrAccountDeactivated
	}

	token, err := svc.tokens.makeToken(usr)
	if err != nil {
		return errors.Wrap(err, "making password reset token")
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: map[string]interface{}{
			"Name":  usr.Name,
			"UID":   EncodeUID(usr),
			"Token": token,
		},
	})
	return nil
}

func (svc *service) ResetPassword(ctx context.Context, data ResetUserPassword) error {
	invalidErr := core.NewValidationError(errors.New("invalid or expired password reset link"))

	id, err := decodeUID(data.UID)
	if err != nil {
		return invalidErr
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return invalidErr
		}
		return err
	}
	if err = svc.tokens.verifyToken(usr, data.Token); err != nil {
		return invalidErr
	}

	if err = usr.SetPassword(data.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.PasswordResetRequired = false
	usr.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr)
	return err
}

func (svc *service) ChangePassword(ctx context.Context, usr User, data ChangePassword) error {
	if err := usr.CheckPassword(data.OldPassword); err != nil {
		return core.NewValidationError(ErrWrongPassword, core.FieldError{Field: "oldPassword", Error: ErrWrongPassword.Error()})
	}
	if err := usr.SetPassword(data.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.PasswordResetRequired = false
	usr.UpdatedAt = time.Now().UTC()
	_, err := svc.repo.UpdateUser(ctx, usr)
	return err
}

func (svc *service) SetPassword(ctx context.Context, email, pwd string) (User, error) {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return User{}, err
	}
	if err = usr.SetPassword(pwd); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}
