package contract

import (
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tigrofin/pmms/core"
)

// Statuses
const (
	StatusActive   = "ACTIVE"
	StatusExpiring = "EXPIRING"
	StatusExpired  = "EXPIRED"
)

type Contract struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organizationId"`
	CustomerID     string     `json:"customerId"`
	CustomerName   string     `json:"customerName,omitempty"`
	StartDate      time.Time  `json:"startDate"`
	EndDate        time.Time  `json:"endDate"`
	Status         string     `json:"status"`
	LastNotifiedAt *time.Time `json:"lastNotifiedAt,omitempty"`
	Memo           string     `json:"memo,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	DaysRemaining  int        `json:"daysRemaining"`
}

type NewContract struct {
	OrganizationID string    `json:"organizationId"` // SUPER_ADMIN only
	CustomerID     string    `json:"customerId" validate:"required"`
	StartDate      time.Time `json:"startDate" validate:"required"`
	EndDate        time.Time `json:"endDate" validate:"required,gtfield=StartDate"`
	Memo           string    `json:"memo"`
}

func (nc *NewContract) Validate(validate *validator.Validate) error {
	nc.CustomerID = core.CleanString(nc.CustomerID)
	nc.OrganizationID = core.CleanString(nc.OrganizationID)
	nc.Memo = core.CleanString(nc.Memo)
	return validate.Struct(nc)
}

type UpdateContract struct {
	StartDate *time.Time `json:"startDate"`
	EndDate   *time.Time `json:"endDate"`
	Memo      *string    `json:"memo"`
	Status    string     `json:"status" validate:"omitempty,oneof=ACTIVE EXPIRING EXPIRED"`
}

type ExtendContract struct {
	EndDate time.Time `json:"endDate" validate:"required"`
}

type QueryFilter struct {
	OrganizationID string    `query:"organizationId"`
	CustomerID     string    `query:"customerId"`
	Status         string    `query:"status"`
	Statuses       []string  `query:"-"`
	EndFrom        time.Time `query:"-"`
	EndTo          time.Time `query:"-"`
}

// CheckResult sums up a CheckExpiring run.
type CheckResult struct {
	Checked  int    `json:"contractsChecked"`
	Notified int    `json:"notificationsCreated"`
	Expired  int    `json:"contractsExpired"`
	Message  string `json:"message"`
}

// Today returns the start of t's day, in t's location.
func Today(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysRemaining is the number of started days between today and end.
func DaysRemaining(end, today time.Time) int {
	return int(math.Ceil(end.Sub(today).Hours() / 24))
}
