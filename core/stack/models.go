package stack

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tigrofin/pmms/core"
)

// Statuses
const (
	StatusPendingReview = "PENDING_REVIEW"
	StatusConfirmed     = "CONFIRMED"

	AssignmentPending  = "PENDING"
	AssignmentApproved = "APPROVED"
)

type Stack struct {
	ID             string       `json:"id"`
	CustomerID     string       `json:"customerId"`
	CustomerName   string       `json:"customerName,omitempty"`
	Name           string       `json:"name"`
	SiteCode       string       `json:"siteCode,omitempty"`
	Code           string       `json:"code,omitempty"`
	FullName       string       `json:"fullName,omitempty"`
	FacilityType   string       `json:"facilityType,omitempty"`
	Location       string       `json:"location,omitempty"`
	Height         *float64     `json:"height,omitempty"`
	Diameter       *float64     `json:"diameter,omitempty"`
	Category       string       `json:"category,omitempty"`
	Status         string       `json:"status"`
	IsVerified     bool         `json:"isVerified"`
	IsActive       bool         `json:"isActive"`
	DraftCreatedBy string       `json:"draftCreatedBy,omitempty"` // organization id
	CreatedBy      string       `json:"createdBy,omitempty"`      // user id
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	Organizations  []Assignment `json:"organizations,omitempty"`
}

// Assignment links a Stack to an organization measuring it.
type Assignment struct {
	StackID        string    `json:"stackId"`
	OrganizationID string    `json:"organizationId"`
	Status         string    `json:"status"`
	IsPrimary      bool      `json:"isPrimary"`
	CreatedAt      time.Time `json:"createdAt"`
}

// History is a single field change of a Stack.
type History struct {
	ID        string    `json:"id"`
	StackID   string    `json:"stackId"`
	Field     string    `json:"field"`
	OldValue  string    `json:"oldValue"`
	NewValue  string    `json:"newValue"`
	ChangedBy string    `json:"changedBy,omitempty"`
	ChangedAt time.Time `json:"changedAt"`
}

type NewStack struct {
	CustomerID   string   `json:"customerId" validate:"required"`
	Name         string   `json:"name" validate:"required,notblank"`
	SiteCode     string   `json:"siteCode"`
	Code         string   `json:"code"`
	FullName     string   `json:"fullName"`
	FacilityType string   `json:"facilityType"`
	Location     string   `json:"location"`
	Height       *float64 `json:"height" validate:"omitempty,gte=0"`
	Diameter     *float64 `json:"diameter" validate:"omitempty,gte=0"`
	Category     string   `json:"category"`
}

func (ns *NewStack) Clean() {
	ns.CustomerID = core.CleanString(ns.CustomerID)
	ns.Name = core.CleanString(ns.Name)
	ns.SiteCode = core.CleanString(ns.SiteCode)
	ns.Code = core.CleanString(ns.Code)
	ns.FullName = core.CleanString(ns.FullName)
	ns.FacilityType = core.CleanString(ns.FacilityType)
	ns.Location = core.CleanString(ns.Location)
	ns.Category = core.CleanString(ns.Category)
}

func (ns *NewStack) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	ns.Clean()
	if err := validate.Struct(ns); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, ns.CustomerID, ns.Name, ns.SiteCode)
}

type UpdateStack struct {
	Name         string   `json:"name"`
	SiteCode     string   `json:"siteCode"`
	Code         string   `json:"code"`
	FullName     string   `json:"fullName"`
	FacilityType string   `json:"facilityType"`
	Location     string   `json:"location"`
	Height       *float64 `json:"height" validate:"omitempty,gte=0"`
	Diameter     *float64 `json:"diameter" validate:"omitempty,gte=0"`
	Category     string   `json:"category"`
}

func (us *UpdateStack) Validate(ctx context.Context, validate *validator.Validate, orig Stack, svc Service) error {
	us.Name = core.CleanString(us.Name)
	us.SiteCode = core.CleanString(us.SiteCode)
	us.Code = core.CleanString(us.Code)
	us.FullName = core.CleanString(us.FullName)
	us.FacilityType = core.CleanString(us.FacilityType)
	us.Location = core.CleanString(us.Location)
	us.Category = core.CleanString(us.Category)
	if err := validate.Struct(us); err != nil {
		return err
	}
	if (us.Name != "" && us.Name != orig.Name) || (us.SiteCode != "" && us.SiteCode != orig.SiteCode) {
		return svc.CheckUniqueness(ctx, orig.CustomerID, us.Name, us.SiteCode, orig)
	}
	return nil
}

type QueryFilter struct {
	CustomerID      string `query:"customerId"`
	Search          string `query:"search"`
	Status          string `query:"status"`
	IncludeInactive bool   `query:"includeInactive"`

	// storage level filters, set by the service
	CustomerIDs []string `query:"-"` // nil means no restriction
	Names       []string `query:"-"`
	IsActive    *bool    `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.CustomerID = core.CleanString(qf.CustomerID)
	qf.Search = core.CleanString(qf.Search)
	qf.Status = core.CleanString(qf.Status)
}
