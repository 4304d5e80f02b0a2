package customer

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tigrofin/pmms/core"
)

// Connection statuses
const (
	ConnPending      = "PENDING"
	ConnApproved     = "APPROVED"
	ConnRejected     = "REJECTED"
	ConnDisconnected = "DISCONNECTED"

	RequestedByOrganization = "ORGANIZATION"
	RequestedByCustomer     = "CUSTOMER"
)

// Query tabs of organization users
const (
	TabAll       = "all"
	TabInternal  = "internal"
	TabConnected = "connected"
	TabSearch    = "search"
)

type Customer struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Code           string    `json:"code,omitempty"`
	BusinessNumber string    `json:"businessNumber,omitempty"`
	FullName       string    `json:"fullName,omitempty"`
	Address        string    `json:"address,omitempty"`
	Industry       string    `json:"industry,omitempty"`
	SiteCategory   string    `json:"siteCategory,omitempty"`
	CreatedBy      string    `json:"createdBy,omitempty"` // organization id, empty for public customers
	IsPublic       bool      `json:"isPublic"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`

	// Connection is the link between the customer and the querying organization, if any.
	Connection *Connection `json:"connection,omitempty"`
}

// Connection links a Customer to an Organization (environmental testing company).
type Connection struct {
	ID             string     `json:"id"`
	CustomerID     string     `json:"customerId"`
	OrganizationID string     `json:"organizationId"`
	Status         string     `json:"status"`
	RequestedBy    string     `json:"requestedBy"`
	CustomCode     string     `json:"customCode,omitempty"`
	ContractStart  *time.Time `json:"contractStart,omitempty"`
	ContractEnd    *time.Time `json:"contractEnd,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// IsLinked reports whether the connection is anything but disconnected.
func (c Connection) IsLinked() bool {
	return c.Status == ConnPending || c.Status == ConnApproved || c.Status == ConnRejected
}

type NewCustomer struct {
	Name           string `json:"name" validate:"required,notblank"`
	Code           string `json:"code"`
	BusinessNumber string `json:"businessNumber" validate:"omitempty,businessno"`
	FullName       string `json:"fullName"`
	Address        string `json:"address"`
	Industry       string `json:"industry"`
	SiteCategory   string `json:"siteCategory"`
	CustomCode     string `json:"customCode"`
}

func (nc *NewCustomer) Clean() {
	nc.Name = core.CleanString(nc.Name)
	nc.Code = core.CleanString(nc.Code)
	nc.BusinessNumber = core.CleanString(nc.BusinessNumber)
	nc.FullName = core.CleanString(nc.FullName)
	nc.Address = core.CleanString(nc.Address)
	nc.Industry = core.CleanString(nc.Industry)
	nc.SiteCategory = core.CleanString(nc.SiteCategory)
	nc.CustomCode = core.CleanString(nc.CustomCode)
}

func (nc *NewCustomer) Validate(validate *validator.Validate) error {
	nc.Clean()
	return validate.Struct(nc)
}

type UpdateCustomer struct {
	Name           string `json:"name"`
	Code           string `json:"code"`
	BusinessNumber string `json:"businessNumber" validate:"omitempty,businessno"`
	FullName       string `json:"fullName"`
	Address        string `json:"address"`
	Industry       string `json:"industry"`
	SiteCategory   string `json:"siteCategory"`
	IsPublic       *bool  `json:"isPublic"`
	IsActive       *bool  `json:"isActive"`
}

func (uc *UpdateCustomer) Validate(validate *validator.Validate) error {
	uc.Name = core.CleanString(uc.Name)
	uc.Code = core.CleanString(uc.Code)
	uc.BusinessNumber = core.CleanString(uc.BusinessNumber)
	uc.FullName = core.CleanString(uc.FullName)
	uc.Address = core.CleanString(uc.Address)
	uc.Industry = core.CleanString(uc.Industry)
	uc.SiteCategory = core.CleanString(uc.SiteCategory)
	return validate.Struct(uc)
}

type QueryFilter struct {
	Tab            string `query:"tab"`
	Search         string `query:"q"`
	OrganizationID string `query:"organizationId"`

	// storage level filters, set by the service
	IDs       []string `query:"-"` // nil means no restriction
	CreatedBy string   `query:"-"`
	IsPublic  *bool    `query:"-"`
	IsActive  *bool    `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Tab = core.CleanString(qf.Tab, true /* lower */)
	qf.Search = core.CleanString(qf.Search)
	qf.OrganizationID = core.CleanString(qf.OrganizationID)
}

type ConnectionFilter struct {
	CustomerID     string   `query:"customerId"`
	OrganizationID string   `query:"organizationId"`
	Statuses       []string `query:"status"`
}

type ConnectionRequest struct {
	// OrganizationID is the target organization when a customer requests the connection.
	OrganizationID string `json:"organizationId"`
	CustomCode     string `json:"customCode"`
}
