package stack

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/activity"
	"github.com/tigrofin/pmms/core/customer"
	"github.com/tigrofin/pmms/core/notification"
	"github.com/tigrofin/pmms/core/user"
)

var (
	// errors
	ErrNotFound         = errors.New("stack not found")
	ErrNameExists       = errors.New("a stack with this name already exists for this customer")
	ErrSiteCodeExists   = errors.New("a stack with this site code already exists for this customer")
	ErrHasMeasurements  = errors.New("stacks with measurements cannot be deleted")
	ErrAlreadyConfirmed = errors.New("this stack is already confirmed")
	ErrNotAllowed       = core.NewPermissionError("not allowed to manage this stack")
	ErrConfirmForbidden = core.NewPermissionError("only the customer can confirm its stacks")
)

type (
	Repository interface {
		// CheckStackUniqueness returns ErrNameExists or ErrSiteCodeExists; an empty siteCode is never checked.
		CheckStackUniqueness(ctx context.Context, customerID, name, siteCode string, excluded []Stack, exec ...core.DBExecutor) error
		CreateStack(ctx context.Context, st Stack, exec ...core.DBExecutor) (Stack, error)
		// QueryStacks applies AND operation on the QueryFilter fields & fills Stack.CustomerName.
		QueryStacks(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Stack, error)
		GetStack(ctx context.Context, id string, exec ...core.DBExecutor) (Stack, error)
		UpdateStack(ctx context.Context, st Stack, exec ...core.DBExecutor) (Stack, error)
		DeleteStack(ctx context.Context, id string, exec ...core.DBExecutor) (int, error)

		CreateAssignment(ctx context.Context, as Assignment, exec ...core.DBExecutor) error
		QueryAssignments(ctx context.Context, stackIDs []string, exec ...core.DBExecutor) ([]Assignment, error)
		CreateHistories(ctx context.Context, hist []History, exec ...core.DBExecutor) error
		// QueryHistory returns the changes of a Stack, latest first.
		QueryHistory(ctx context.Context, stackID string, exec ...core.DBExecutor) ([]History, error)
		CountMeasurements(ctx context.Context, stackID string, exec ...core.DBExecutor) (int, error)

		CreateRequest(ctx context.Context, req Request, exec ...core.DBExecutor) (Request, error)
		// QueryRequests fills Request.CustomerName, pending requests first then latest first.
		QueryRequests(ctx context.Context, filter *RequestFilter, exec ...core.DBExecutor) ([]Request, error)
		GetRequest(ctx context.Context, id string, exec ...core.DBExecutor) (Request, error)
		UpdateRequest(ctx context.Context, req Request, exec ...core.DBExecutor) (Request, error)
	}

	Service interface {
		CheckUniqueness(ctx context.Context, customerID, name, siteCode string, excluded ...Stack) error
		Create(ctx context.Context, actor core.Actor, ns NewStack) (Stack, error)
		// BulkCreate creates the stacks of a customer listed in csvText, skipping known names.
		BulkCreate(ctx context.Context, actor core.Actor, customerID, csvText string) (core.BulkResult, error)
		Query(ctx context.Context, actor core.Actor, filter *QueryFilter, ordering []core.DBOrdering) ([]Stack, error)
		// GetByID returns the Stack without any permission check.
		GetByID(ctx context.Context, id string) (Stack, error)
		Get(ctx context.Context, actor core.Actor, id string) (Stack, error)
		Update(ctx context.Context, actor core.Actor, st Stack, us UpdateStack) (Stack, error)
		Delete(ctx context.Context, actor core.Actor, id string) error
		SetActive(ctx context.Context, actor core.Actor, id string, active bool) (Stack, error)
		// Confirm is the customer's review of a stack drafted by an organization.
		Confirm(ctx context.Context, actor core.Actor, id string) (Stack, error)
		History(ctx context.Context, actor core.Actor, id string) ([]History, error)
		MeasurementCount(ctx context.Context, actor core.Actor, id string) (int, error)

		RequestStack(ctx context.Context, actor core.Actor, nr NewRequest) (Request, error)
		QueryRequests(ctx context.Context, actor core.Actor, filter *RequestFilter) ([]Request, error)
		GetRequest(ctx context.Context, actor core.Actor, id string) (Request, error)
		ApproveRequest(ctx context.Context, actor core.Actor, req Request, ar ApproveRequest) (Request, error)
		RejectRequest(ctx context.Context, actor core.Actor, req Request, rr RejectRequest) (Request, error)
	}

	service struct {
		repo     Repository
		db       core.DB
		custSvc  customer.Service
		usrSvc   user.Service
		notifSvc notification.Service
		actSvc   activity.Service
	}
)

var _ Service = (*service)(nil)

func NewService(
	repo Repository,
	db core.DB,
	custSvc customer.Service,
	usrSvc user.Service,
	notifSvc notification.Service,
	actSvc activity.Service,
) Service {
	return &service{
		repo:     repo,
		db:       db,
		custSvc:  custSvc,
		usrSvc:   usrSvc,
		notifSvc: notifSvc,
		actSvc:   actSvc,
	}
}

func (svc *service) CheckUniqueness(ctx context.Context, customerID, name, siteCode string, excluded ...Stack) error {
	if err := svc.repo.CheckStackUniqueness(ctx, customerID, name, siteCode, excluded); err != nil {
		switch errors.Cause(err) {
		case ErrNameExists:
			return core.NewValidationError(err, core.FieldError{Field: "name", Error: err.Error()})
		case ErrSiteCodeExists:
			return core.NewValidationError(err, core.FieldError{Field: "siteCode", Error: err.Error()})
		}
		return err
	}
	return nil
}

// newStack builds the Stack created by actor: drafts of organizations await the customer's review.
func newStack(actor core.Actor, ns NewStack, now time.Time) Stack {
	st := Stack{
		CustomerID:   ns.CustomerID,
		Name:         ns.Name,
		SiteCode:     ns.SiteCode,
		Code:         ns.Code,
		FullName:     ns.FullName,
		FacilityType: ns.FacilityType,
		Location:     ns.Location,
		Height:       ns.Height,
		Diameter:     ns.Diameter,
		Category:     ns.Category,
		Status:       StatusConfirmed,
		IsVerified:   true,
		IsActive:     true,
		CreatedBy:    actor.UserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if actor.IsOrgUser() {
		st.Status = StatusPendingReview
		st.IsVerified = false
		st.DraftCreatedBy = actor.OrganizationID
	}
	return st
}

func (svc *service) create(ctx context.Context, actor core.Actor, st Stack, exec core.DBExecutor) (Stack, error) {
	st, err := svc.repo.CreateStack(ctx, st, core.Executors(exec)...)
	if err != nil {
		return Stack{}, errors.Wrap(err, "creating stack")
	}
	if !actor.IsOrgUser() {
		return st, nil
	}
	as := Assignment{
		StackID:        st.ID,
		OrganizationID: actor.OrganizationID,
		Status:         AssignmentApproved,
		IsPrimary:      true,
		CreatedAt:      st.CreatedAt,
	}
	if err = svc.repo.CreateAssignment(ctx, as, core.Executors(exec)...); err != nil {
		return Stack{}, errors.Wrap(err, "assigning stack")
	}
	st.Organizations = []Assignment{as}
	return st, nil
}

func (svc *service) Create(ctx context.Context, actor core.Actor, ns NewStack) (Stack, error) {
	if actor.IsCustomerUser() {
		ns.CustomerID = actor.CustomerID
	}
	if err := svc.custSvc.CanAccess(ctx, actor, ns.CustomerID); err != nil {
		return Stack{}, err
	}

	var st Stack
	err := core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		if st, err = svc.create(ctx, actor, newStack(actor, ns, time.Now().UTC()), exec); err != nil {
			return err
		}
		if !actor.IsOrgUser() {
			return nil
		}
		return svc.notifSvc.Notify(ctx, svc.customerAdminIDs(ctx, st.CustomerID), notification.NewNotification{
			Type:    notification.TypeStackCreated,
			Title:   "굴뚝 등록 검토 요청",
			Message: fmt.Sprintf("측정기관이 굴뚝 '%s'을(를) 등록했습니다. 확인해 주세요.", st.Name),
			Link:    "/customer/stacks",
		}, core.Executors(exec)...)
	})
	if err != nil {
		return Stack{}, err
	}
	return st, nil
}

func (svc *service) Query(ctx context.Context, actor core.Actor, filter *QueryFilter, ordering []core.DBOrdering) ([]Stack, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.Clean()

	ids, all, err := svc.custSvc.AccessibleIDs(ctx, actor)
	if err != nil {
		return nil, err
	}
	switch {
	case filter.CustomerID != "":
		if !all && !core.ContainsString(ids, filter.CustomerID) {
			return []Stack{}, nil
		}
		filter.CustomerIDs = []string{filter.CustomerID}
	case !all:
		if len(ids) == 0 {
			return []Stack{}, nil
		}
		filter.CustomerIDs = ids
	}
	if !filter.IncludeInactive {
		active := true
		filter.IsActive = &active
	}

	ordering = core.FilterOrderings(ordering, "name", "site_code", "created_at", "status")
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "name", Ascending: true}}
	}
	stacks, err := svc.repo.QueryStacks(ctx, filter, ordering)
	if err != nil {
		return nil, err
	}
	return svc.withAssignments(ctx, stacks)
}

func (svc *service) withAssignments(ctx context.Context, stacks []Stack) ([]Stack, error) {
	if len(stacks) == 0 {
		return stacks, nil
	}
	ids := make([]string, 0, len(stacks))
	for _, st := range stacks {
		ids = append(ids, st.ID)
	}
	assignments, err := svc.repo.QueryAssignments(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "querying stack assignments")
	}
	byStack := make(map[string][]Assignment, len(stacks))
	for _, as := range assignments {
		byStack[as.StackID] = append(byStack[as.StackID], as)
	}
	for i := range stacks {
		stacks[i].Organizations = byStack[stacks[i].ID]
	}
	return stacks, nil
}

func (svc *service) GetByID(ctx context.Context, id string) (Stack, error) {
	if id == "" {
		return Stack{}, ErrNotFound
	}
	return svc.repo.GetStack(ctx, id)
}

func (svc *service) Get(ctx context.Context, actor core.Actor, id string) (Stack, error) {
	st, err := svc.GetByID(ctx, id)
	if err != nil {
		return Stack{}, err
	}
	if err = svc.custSvc.CanAccess(ctx, actor, st.CustomerID); err != nil {
		return Stack{}, ErrNotFound
	}
	stacks, err := svc.withAssignments(ctx, []Stack{st})
	if err != nil {
		return Stack{}, err
	}
	return stacks[0], nil
}

// canManage reports whether actor may modify a Stack it can already see.
func canManage(actor core.Actor, st Stack) bool {
	switch {
	case actor.IsSuperAdmin(), actor.IsOrgUser():
		return true
	case actor.IsCustomerAdmin():
		return st.CustomerID == actor.CustomerID
	}
	return false
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

// applyUpdate sets the provided fields of us on st and lists the actual changes.
func applyUpdate(st *Stack, us UpdateStack) []History {
	var changes []History
	setStr := func(field string, dst *string, val string) {
		if val != "" && val != *dst {
			changes = append(changes, History{Field: field, OldValue: *dst, NewValue: val})
			*dst = val
		}
	}
	setFloat := func(field string, dst **float64, val *float64) {
		if val != nil && (*dst == nil || **dst != *val) {
			changes = append(changes, History{Field: field, OldValue: formatFloat(*dst), NewValue: formatFloat(val)})
			v := *val
			*dst = &v
		}
	}
	setStr("name", &st.Name, us.Name)
	setStr("siteCode", &st.SiteCode, us.SiteCode)
	setStr("code", &st.Code, us.Code)
	setStr("fullName", &st.FullName, us.FullName)
	setStr("facilityType", &st.FacilityType, us.FacilityType)
	setStr("location", &st.Location, us.Location)
	setFloat("height", &st.Height, us.Height)
	setFloat("diameter", &st.Diameter, us.Diameter)
	setStr("category", &st.Category, us.Category)
	return changes
}

func (svc *service) Update(ctx context.Context, actor core.Actor, st Stack, us UpdateStack) (Stack, error) {
	if !canManage(actor, st) {
		return Stack{}, ErrNotAllowed
	}
	changes := applyUpdate(&st, us)
	if len(changes) == 0 {
		return st, nil
	}

	now := time.Now().UTC()
	for i := range changes {
		changes[i].StackID = st.ID
		changes[i].ChangedBy = actor.UserID
		changes[i].ChangedAt = now
	}
	st.UpdatedAt = now

	assignments := st.Organizations
	err := core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		if st, err = svc.repo.UpdateStack(ctx, st, core.Executors(exec)...); err != nil {
			return errors.Wrap(err, "updating stack")
		}
		return errors.Wrap(svc.repo.CreateHistories(ctx, changes, core.Executors(exec)...), "recording stack history")
	})
	if err != nil {
		return Stack{}, err
	}
	st.Organizations = assignments
	return st, nil
}

func (svc *service) Delete(ctx context.Context, actor core.Actor, id string) error {
	st, err := svc.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if !(actor.IsSuperAdmin() || actor.IsOrgAdmin() || (actor.IsCustomerAdmin() && canManage(actor, st))) {
		return ErrNotAllowed
	}
	n, err := svc.repo.CountMeasurements(ctx, st.ID)
	if err != nil {
		return errors.Wrap(err, "counting stack measurements")
	}
	if n > 0 {
		return core.NewValidationError(ErrHasMeasurements)
	}
	if n, err = svc.repo.DeleteStack(ctx, st.ID); err != nil {
		return errors.Wrap(err, "deleting stack")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (svc *service) SetActive(ctx context.Context, actor core.Actor, id string, active bool) (Stack, error) {
	st, err := svc.Get(ctx, actor, id)
	if err != nil {
		return Stack{}, err
	}
	if !canManage(actor, st) {
		return Stack{}, ErrNotAllowed
	}
	if st.IsActive == active {
		return st, nil
	}

	now := time.Now().UTC()
	hist := History{
		StackID:   st.ID,
		Field:     "isActive",
		OldValue:  strconv.FormatBool(st.IsActive),
		NewValue:  strconv.FormatBool(active),
		ChangedBy: actor.UserID,
		ChangedAt: now,
	}
	st.IsActive = active
	st.UpdatedAt = now

	assignments := st.Organizations
	err = core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		if st, err = svc.repo.UpdateStack(ctx, st, core.Executors(exec)...); err != nil {
			return errors.Wrap(err, "updating stack")
		}
		return errors.Wrap(svc.repo.CreateHistories(ctx, []History{hist}, core.Executors(exec)...), "recording stack history")
	})
	if err != nil {
		return Stack{}, err
	}
	st.Organizations = assignments
	return st, nil
}

func (svc *service) Confirm(ctx context.Context, actor core.Actor, id string) (Stack, error) {
	st, err := svc.Get(ctx, actor, id)
	if err != nil {
		return Stack{}, err
	}
	if !(actor.IsSuperAdmin() || (actor.IsCustomerUser() && actor.CustomerID == st.CustomerID)) {
		return Stack{}, ErrConfirmForbidden
	}
	if st.Status != StatusPendingReview {
		return Stack{}, core.NewValidationError(ErrAlreadyConfirmed)
	}

	now := time.Now().UTC()
	hist := History{
		StackID:   st.ID,
		Field:     "status",
		OldValue:  st.Status,
		NewValue:  StatusConfirmed,
		ChangedBy: actor.UserID,
		ChangedAt: now,
	}
	st.Status = StatusConfirmed
	st.IsVerified = true
	st.UpdatedAt = now

	assignments := st.Organizations
	err = core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		if st, err = svc.repo.UpdateStack(ctx, st, core.Executors(exec)...); err != nil {
			return errors.Wrap(err, "confirming stack")
		}
		return errors.Wrap(svc.repo.CreateHistories(ctx, []History{hist}, core.Executors(exec)...), "recording stack history")
	})
	if err != nil {
		return Stack{}, err
	}
	st.Organizations = assignments
	return st, nil
}

func (svc *service) History(ctx context.Context, actor core.Actor, id string) ([]History, error) {
	st, err := svc.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return svc.repo.QueryHistory(ctx, st.ID)
}

func (svc *service) MeasurementCount(ctx context.Context, actor core.Actor, id string) (int, error) {
	st, err := svc.Get(ctx, actor, id)
	if err != nil {
		return 0, err
	}
	return svc.repo.CountMeasurements(ctx, st.ID)
}

func (svc *service) customerAdminIDs(ctx context.Context, customerID string) []string {
	active := true
	admins, err := svc.usrSvc.Query(ctx, core.SystemActor, &user.QueryFilter{
		CustomerID: customerID,
		Roles:      []string{core.RoleCustomerAdmin},
		Status:     user.StatusApproved,
		IsActive:   &active,
	}, nil)
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(admins))
	for _, admin := range admins {
		ids = append(ids, admin.ID)
	}
	return ids
}
