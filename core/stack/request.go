package stack

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/activity"
	"github.com/tigrofin/pmms/core/customer"
	"github.com/tigrofin/pmms/core/notification"
)

// Request statuses & types
const (
	RequestPending  = "PENDING"
	RequestApproved = "APPROVED"
	RequestRejected = "REJECTED"

	RequestNewStack = "NEW_STACK"

	ActionCreateNew      = "create_new"
	ActionAssignExisting = "assign_existing"
)

var (
	ErrRequestNotFound      = errors.New("stack request not found")
	ErrRequestProcessed     = errors.New("this stack request was already processed")
	ErrExistingStackMissing = errors.New("existingStackId is required to assign an existing stack")
	ErrStackOfOtherCustomer = errors.New("the stack does not belong to the customer of the request")
	ErrNoConnection         = core.NewPermissionError("stacks can only be requested from connected customers")
	ErrRequestForbidden     = core.NewPermissionError("only the customer can review its stack requests")
)

// Request is an organization's demand for a stack it should measure, reviewed by the customer.
type Request struct {
	ID              string     `json:"id"`
	CustomerID      string     `json:"customerId"`
	CustomerName    string     `json:"customerName,omitempty"`
	OrganizationID  string     `json:"organizationId"`
	RequestType     string     `json:"requestType"`
	StackName       string     `json:"stackName"`
	StackCode       string     `json:"stackCode,omitempty"`
	Location        string     `json:"location"`
	Height          *float64   `json:"height,omitempty"`
	Diameter        *float64   `json:"diameter,omitempty"`
	Description     string     `json:"description,omitempty"`
	Status          string     `json:"status"`
	RequestedBy     string     `json:"requestedBy"`
	ReviewedBy      string     `json:"reviewedBy,omitempty"`
	ReviewedAt      *time.Time `json:"reviewedAt,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
	StackID         string     `json:"stackId,omitempty"` // set on approval
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type NewRequest struct {
	CustomerID  string   `json:"customerId" validate:"required"`
	StackName   string   `json:"stackName" validate:"required,notblank"`
	StackCode   string   `json:"stackCode"`
	Location    string   `json:"location" validate:"required,notblank"`
	Height      *float64 `json:"height" validate:"omitempty,gte=0"`
	Diameter    *float64 `json:"diameter" validate:"omitempty,gte=0"`
	Description string   `json:"description"`
}

func (nr *NewRequest) Validate(validate *validator.Validate) error {
	nr.CustomerID = core.CleanString(nr.CustomerID)
	nr.StackName = core.CleanString(nr.StackName)
	nr.StackCode = core.CleanString(nr.StackCode)
	nr.Location = core.CleanString(nr.Location)
	nr.Description = core.CleanString(nr.Description)
	return validate.Struct(nr)
}

// ApproveRequest either creates the requested stack or assigns an existing one to the organization.
type ApproveRequest struct {
	Action          string `json:"action" validate:"required,oneof=create_new assign_existing"`
	ExistingStackID string `json:"existingStackId"`
	IsPrimary       *bool  `json:"isPrimary"` // true for new stacks, false for existing ones by default
}

func (ar *ApproveRequest) Validate(validate *validator.Validate) error {
	ar.ExistingStackID = core.CleanString(ar.ExistingStackID)
	if err := validate.Struct(ar); err != nil {
		return err
	}
	if ar.Action == ActionAssignExisting && ar.ExistingStackID == "" {
		return core.NewValidationError(ErrExistingStackMissing,
			core.FieldError{Field: "existingStackId", Error: ErrExistingStackMissing.Error()})
	}
	return nil
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type RequestFilter struct {
	CustomerID     string `query:"customerId"`
	OrganizationID string `query:"organizationId"`
	Status         string `query:"status"`
}

func (rf *RequestFilter) Clean() {
	rf.CustomerID = core.CleanString(rf.CustomerID)
	rf.OrganizationID = core.CleanString(rf.OrganizationID)
	rf.Status = core.CleanString(rf.Status)
}

// RequestStack files a NEW_STACK request of actor's organization to a connected customer.
func (svc *service) RequestStack(ctx context.Context, actor core.Actor, nr NewRequest) (Request, error) {
	if !actor.IsOrgUser() {
		return Request{}, ErrNotAllowed
	}
	conns, err := svc.custSvc.QueryConnections(ctx, actor, customer.ConnectionFilter{
		CustomerID: nr.CustomerID,
		Statuses:   []string{customer.ConnApproved},
	})
	if err != nil {
		return Request{}, errors.Wrap(err, "querying connections")
	}
	if len(conns) == 0 {
		return Request{}, ErrNoConnection
	}

	now := time.Now().UTC()
	req := Request{
		CustomerID:     nr.CustomerID,
		OrganizationID: actor.OrganizationID,
		RequestType:    RequestNewStack,
		StackName:      nr.StackName,
		StackCode:      nr.StackCode,
		Location:       nr.Location,
		Height:         nr.Height,
		Diameter:       nr.Diameter,
		Description:    nr.Description,
		Status:         RequestPending,
		RequestedBy:    actor.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		if req, err = svc.repo.CreateRequest(ctx, req, core.Executors(exec)...); err != nil {
			return errors.Wrap(err, "creating stack request")
		}
		return svc.notifSvc.Notify(ctx, svc.customerAdminIDs(ctx, req.CustomerID), notification.NewNotification{
			Type:    notification.TypeStackRequest,
			Title:   "신규 굴뚝 등록 요청",
			Message: fmt.Sprintf("측정기관이 굴뚝 '%s' 등록을 요청했습니다.", req.StackName),
			Link:    "/customer/stack-requests",
		}, core.Executors(exec)...)
	})
	if err != nil {
		return Request{}, err
	}
	svc.actSvc.Record(ctx, actor.UserID, activity.ActionRequestStack, map[string]interface{}{
		"requestId": req.ID, "customerId": req.CustomerID, "stackName": req.StackName,
	})
	return req, nil
}

// QueryRequests lists the requests of actor's tenant, pending ones first then latest first.
func (svc *service) QueryRequests(ctx context.Context, actor core.Actor, filter *RequestFilter) ([]Request, error) {
	if filter == nil {
		filter = new(RequestFilter)
	}
	filter.Clean()
	switch {
	case actor.IsSuperAdmin():
	case actor.IsOrgUser():
		filter.OrganizationID = actor.OrganizationID
	case actor.IsCustomerUser():
		filter.CustomerID = actor.CustomerID
	default:
		return []Request{}, nil
	}
	reqs, err := svc.repo.QueryRequests(ctx, filter)
	return reqs, errors.Wrap(err, "querying stack requests")
}

func canSeeRequest(actor core.Actor, req Request) bool {
	switch {
	case actor.IsSuperAdmin():
		return true
	case actor.IsOrgUser():
		return req.OrganizationID == actor.OrganizationID
	case actor.IsCustomerUser():
		return req.CustomerID == actor.CustomerID
	}
	return false
}

func (svc *service) GetRequest(ctx context.Context, actor core.Actor, id string) (Request, error) {
	if id == "" {
		return Request{}, ErrRequestNotFound
	}
	req, err := svc.repo.GetRequest(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if !canSeeRequest(actor, req) {
		return Request{}, ErrRequestNotFound
	}
	return req, nil
}

// reviewable checks that actor may decide on req and that it is still pending.
func reviewable(actor core.Actor, req Request) error {
	if !(actor.IsSuperAdmin() || (actor.IsCustomerAdmin() && actor.CustomerID == req.CustomerID)) {
		return ErrRequestForbidden
	}
	if req.Status != RequestPending {
		return core.NewValidationError(ErrRequestProcessed)
	}
	return nil
}

func (svc *service) ApproveRequest(ctx context.Context, actor core.Actor, req Request, ar ApproveRequest) (Request, error) {
	if err := reviewable(actor, req); err != nil {
		return Request{}, err
	}

	now := time.Now().UTC()
	var st Stack
	switch ar.Action {
	case ActionCreateNew:
		if err := svc.CheckUniqueness(ctx, req.CustomerID, req.StackName, ""); err != nil {
			return Request{}, err
		}
		st = newStack(actor, NewStack{
			CustomerID: req.CustomerID,
			Name:       req.StackName,
			Code:       req.StackCode,
			Location:   req.Location,
			Height:     req.Height,
			Diameter:   req.Diameter,
		}, now)
	case ActionAssignExisting:
		var err error
		if st, err = svc.GetByID(ctx, ar.ExistingStackID); err != nil {
			return Request{}, err
		}
		if st.CustomerID != req.CustomerID {
			return Request{}, core.NewValidationError(ErrStackOfOtherCustomer,
				core.FieldError{Field: "existingStackId", Error: ErrStackOfOtherCustomer.Error()})
		}
	}
	primary := ar.Action == ActionCreateNew
	if ar.IsPrimary != nil {
		primary = *ar.IsPrimary
	}

	req.Status = RequestApproved
	req.ReviewedBy = actor.UserID
	req.ReviewedAt = &now
	req.UpdatedAt = now
	err := core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		if st.ID == "" {
			if st, err = svc.repo.CreateStack(ctx, st, core.Executors(exec)...); err != nil {
				return errors.Wrap(err, "creating requested stack")
			}
		}
		as := Assignment{
			StackID:        st.ID,
			OrganizationID: req.OrganizationID,
			Status:         AssignmentApproved,
			IsPrimary:      primary,
			CreatedAt:      now,
		}
		if err = svc.repo.CreateAssignment(ctx, as, core.Executors(exec)...); err != nil {
			return errors.Wrap(err, "assigning requested stack")
		}
		req.StackID = st.ID
		if req, err = svc.repo.UpdateRequest(ctx, req, core.Executors(exec)...); err != nil {
			return errors.Wrap(err, "approving stack request")
		}
		return svc.notifSvc.Notify(ctx, []string{req.RequestedBy}, notification.NewNotification{
			Type:    notification.TypeStackRequestDecided,
			Title:   "굴뚝 등록 요청 승인",
			Message: fmt.Sprintf("굴뚝 '%s' 요청이 승인되었습니다.", st.Name),
			Link:    "/org/stacks",
		}, core.Executors(exec)...)
	})
	if err != nil {
		return Request{}, err
	}
	svc.actSvc.Record(ctx, actor.UserID, activity.ActionApproveStackRequest, map[string]interface{}{
		"requestId": req.ID, "action": ar.Action, "stackId": st.ID,
	})
	return req, nil
}

func (svc *service) RejectRequest(ctx context.Context, actor core.Actor, req Request, rr RejectRequest) (Request, error) {
	if err := reviewable(actor, req); err != nil {
		return Request{}, err
	}

	now := time.Now().UTC()
	req.Status = RequestRejected
	req.RejectionReason = core.CleanString(rr.Reason)
	req.ReviewedBy = actor.UserID
	req.ReviewedAt = &now
	req.UpdatedAt = now
	err := core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		if req, err = svc.repo.UpdateRequest(ctx, req, core.Executors(exec)...); err != nil {
			return errors.Wrap(err, "rejecting stack request")
		}
		msg := fmt.Sprintf("굴뚝 '%s' 요청이 거절되었습니다.", req.StackName)
		if req.RejectionReason != "" {
			msg += " 사유: " + req.RejectionReason
		}
		return svc.notifSvc.Notify(ctx, []string{req.RequestedBy}, notification.NewNotification{
			Type:    notification.TypeStackRequestDecided,
			Title:   "굴뚝 등록 요청 거절",
			Message: msg,
			Link:    "/org/stack-requests",
		}, core.Executors(exec)...)
	})
	if err != nil {
		return Request{}, err
	}
	svc.actSvc.Record(ctx, actor.UserID, activity.ActionRejectStackRequest, map[string]interface{}{
		"requestId": req.ID, "reason": req.RejectionReason,
	})
	return req, nil
}
