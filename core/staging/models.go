// Package staging holds measurements saved as drafts, reviewed then confirmed into measurements.
package staging

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/measurement"
)

const StatusDraft = "DRAFT"

// Value is one pollutant value of a staged record.
type Value struct {
	ItemKey string  `json:"itemKey" validate:"required"`
	Value   float64 `json:"value"`
}

// Staged is the draft of the measurements of a stack at a point in time.
type Staged struct {
	ID             string                `json:"id"`
	TempID         string                `json:"tempId"` // TEMP<YYYYMMDD><serial>
	CustomerID     string                `json:"customerId"`
	CustomerName   string                `json:"customerName,omitempty"`
	StackID        string                `json:"stackId"`
	StackName      string                `json:"stackName,omitempty"`
	OrganizationID string                `json:"organizationId,omitempty"`
	MeasuredAt     time.Time             `json:"measuredAt"`
	Values         []Value               `json:"measurements"`
	Auxiliary      measurement.Auxiliary `json:"auxiliary"`
	Status         string                `json:"status"`
	CreatedBy      string                `json:"createdBy"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

// TempIDPrefix is the prefix shared by the temp ids of a day.
func TempIDPrefix(day time.Time) string {
	return "TEMP" + day.In(measurement.Location).Format("20060102")
}

func formatTempID(prefix string, serial int) string {
	return fmt.Sprintf("%s%03d", prefix, serial)
}

type NewStaged struct {
	CustomerID string                          `json:"customerId" validate:"required"`
	StackID    string                          `json:"stackId" validate:"required"`
	MeasuredAt string                          `json:"measuredAt" validate:"required"`
	Values     []Value                         `json:"measurements" validate:"required,min=1,dive"`
	Auxiliary  map[string]measurement.RawValue `json:"auxiliary"`
}

func (ns *NewStaged) Validate(validate *validator.Validate) error {
	ns.CustomerID = core.CleanString(ns.CustomerID)
	ns.StackID = core.CleanString(ns.StackID)
	ns.MeasuredAt = core.CleanString(ns.MeasuredAt)
	for i := range ns.Values {
		ns.Values[i].ItemKey = core.CleanString(ns.Values[i].ItemKey)
	}
	return validate.Struct(ns)
}

// AuxiliaryUpdate sets sampling conditions on every record of a stack measured on Date.
type AuxiliaryUpdate struct {
	CustomerID string                          `json:"customerId" validate:"required"`
	StackID    string                          `json:"stackId" validate:"required"`
	Date       string                          `json:"date" validate:"required"` // YYYY-MM-DD
	Auxiliary  map[string]measurement.RawValue `json:"auxiliary" validate:"required,min=1"`
}

func (au *AuxiliaryUpdate) Validate(validate *validator.Validate) error {
	au.CustomerID = core.CleanString(au.CustomerID)
	au.StackID = core.CleanString(au.StackID)
	au.Date = core.CleanString(au.Date)
	return validate.Struct(au)
}

type IDList struct {
	IDs []string `json:"ids" validate:"required,min=1"`
}

// ConfirmResult reports the records turned into measurements.
type ConfirmResult struct {
	Count        int      `json:"count"`
	Measurements int      `json:"measurements"`
	Errors       []string `json:"errors"`
}

type QueryFilter struct {
	CustomerID string `query:"customerId"`
	StackID    string `query:"stackId"`
	CreatedBy  string `query:"createdBy"`
	Start      string `query:"startDate"` // on the creation date
	End        string `query:"endDate"`

	// storage level filters, set by the service
	OrganizationID string    `query:"-"`
	IDs            []string  `query:"-"` // nil means no restriction
	From           time.Time `query:"-"`
	To             time.Time `query:"-"`
	MeasuredFrom   time.Time `query:"-"`
	MeasuredTo     time.Time `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.CustomerID = core.CleanString(qf.CustomerID)
	qf.StackID = core.CleanString(qf.StackID)
	qf.CreatedBy = core.CleanString(qf.CreatedBy)
	qf.Start = core.CleanString(qf.Start)
	qf.End = core.CleanString(qf.End)
}
