package measurement

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/item"
)

// Location is the time zone of local timestamps (`YYYYMMDDHHmmss`, `YYYY-MM-DD`).
var Location = time.FixedZone("KST", 9*60*60)

// Auxiliary holds the sampling conditions recorded alongside a measurement.
type Auxiliary struct {
	Weather           *string  `json:"weather,omitempty"`
	TemperatureC      *float64 `json:"temperatureC,omitempty"`
	HumidityPct       *float64 `json:"humidityPct,omitempty"`
	PressureMmHg      *float64 `json:"pressureMmHg,omitempty"`
	WindDirection     *string  `json:"windDirection,omitempty"`
	WindSpeedMs       *float64 `json:"windSpeedMs,omitempty"`
	GasVelocityMs     *float64 `json:"gasVelocityMs,omitempty"`
	GasTempC          *float64 `json:"gasTempC,omitempty"`
	MoisturePct       *float64 `json:"moisturePct,omitempty"`
	OxygenMeasuredPct *float64 `json:"oxygenMeasuredPct,omitempty"`
	OxygenStdPct      *float64 `json:"oxygenStdPct,omitempty"`
	FlowSm3Min        *float64 `json:"flowSm3Min,omitempty"`
}

func (a *Auxiliary) numeric(key string) **float64 {
	switch key {
	case item.AuxTemperature:
		return &a.TemperatureC
	case item.AuxHumidity:
		return &a.HumidityPct
	case item.AuxPressure:
		return &a.PressureMmHg
	case item.AuxWindSpeed:
		return &a.WindSpeedMs
	case item.AuxGasVelocity:
		return &a.GasVelocityMs
	case item.AuxGasTemp:
		return &a.GasTempC
	case item.AuxMoisture:
		return &a.MoisturePct
	case item.AuxOxygenMeasured:
		return &a.OxygenMeasuredPct
	case item.AuxOxygenStd:
		return &a.OxygenStdPct
	case item.AuxFlow:
		return &a.FlowSm3Min
	}
	return nil
}

func (a *Auxiliary) text(key string) **string {
	switch key {
	case item.AuxWeather:
		return &a.Weather
	case item.AuxWindDirection:
		return &a.WindDirection
	}
	return nil
}

// Set stores raw under the column of the auxiliary key (aliases accepted).
func (a *Auxiliary) Set(key, raw string) error {
	canon, ok := item.CanonicalAuxKey(key)
	if !ok {
		return fmt.Errorf("%q is not a sampling condition", key)
	}
	raw = strings.TrimSpace(raw)
	if p := a.text(canon); p != nil {
		*p = core.StrPtr(raw)
		return nil
	}
	if raw == "" {
		*a.numeric(canon) = nil
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid %s value %q", canon, raw)
	}
	*a.numeric(canon) = &f
	return nil
}

// Number returns the numeric value recorded under key.
func (a Auxiliary) Number(key string) (float64, bool) {
	canon, _ := item.CanonicalAuxKey(key)
	if p := a.numeric(canon); p != nil && *p != nil {
		return **p, true
	}
	return 0, false
}

// Text returns the textual value recorded under key, numbers formatted.
func (a Auxiliary) Text(key string) (string, bool) {
	canon, _ := item.CanonicalAuxKey(key)
	if p := a.text(canon); p != nil {
		if *p == nil {
			return "", false
		}
		return **p, true
	}
	if f, ok := a.Number(canon); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}

// Merge copies the values set in b over a.
func (a *Auxiliary) Merge(b Auxiliary) {
	for _, key := range item.AuxiliaryKeys {
		if p := b.text(key); p != nil {
			if *p != nil {
				*a.text(key) = *p
			}
			continue
		}
		if p := b.numeric(key); *p != nil {
			*a.numeric(key) = *p
		}
	}
}

func (a Auxiliary) IsEmpty() bool {
	for _, key := range item.AuxiliaryKeys {
		if _, ok := a.Text(key); ok {
			return false
		}
	}
	return true
}

// Measurement is a single pollutant value of a stack at a point in time.
type Measurement struct {
	ID             string    `json:"id"`
	CustomerID     string    `json:"customerId"`
	CustomerName   string    `json:"customerName,omitempty"`
	StackID        string    `json:"stackId"`
	StackName      string    `json:"stackName,omitempty"`
	OrganizationID string    `json:"organizationId,omitempty"`
	ItemKey        string    `json:"itemKey"`
	ItemName       string    `json:"itemName,omitempty"`
	Unit           string    `json:"unit,omitempty"`
	Value          float64   `json:"value"`
	TextValue      string    `json:"textValue,omitempty"` // projections of text sampling conditions
	MeasuredAt     time.Time `json:"measuredAt"`
	CreatedAt      time.Time `json:"createdAt"`
	Limit          *float64  `json:"limit"`
	Exceeded       bool      `json:"exceeded"`
	Auxiliary
}

// RawValue accepts a JSON number or string.
type RawValue string

func (v *RawValue) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*v = RawValue(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*v = RawValue(n.String())
	return nil
}

func (v RawValue) Float() (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
}

type NewMeasurement struct {
	CustomerID string   `json:"customerId" validate:"required"`
	Stack      string   `json:"stack" validate:"required,notblank"` // stack name
	ItemKey    string   `json:"itemKey" validate:"required"`
	Value      RawValue `json:"value" validate:"required"`
	MeasuredAt string   `json:"measuredAt"` // now when empty
}

func (nm *NewMeasurement) Validate(validate *validator.Validate) error {
	nm.CustomerID = core.CleanString(nm.CustomerID)
	nm.Stack = core.CleanString(nm.Stack)
	nm.ItemKey = core.CleanString(nm.ItemKey)
	nm.MeasuredAt = core.CleanString(nm.MeasuredAt)
	return validate.Struct(nm)
}

type UpdateMeasurement struct {
	Value      *float64   `json:"value"`
	MeasuredAt *time.Time `json:"measuredAt"`
}

// BulkRow is one imported value; Customer (name or id) disambiguates stacks sharing a name.
type BulkRow struct {
	Customer   string   `json:"customer"`
	Stack      string   `json:"stack"`
	ItemKey    string   `json:"itemKey"`
	Value      RawValue `json:"value"`
	MeasuredAt string   `json:"measuredAt"`
}

type BulkImport struct {
	Rows []BulkRow `json:"rows" validate:"required"`
}

type BatchDelete struct {
	IDs []string `json:"ids" validate:"required,min=1"`
}

type QueryFilter struct {
	CustomerID     string   `query:"customerId"`
	CustomerName   string   `query:"customerName"`
	Stacks         []string `query:"stack"`
	ItemKey        string   `query:"itemKey"`
	Start          string   `query:"start"`
	End            string   `query:"end"`
	OrganizationID string   `query:"organizationId"`
	Limit          int      `query:"limit"`

	// storage level filters, set by the service
	CustomerIDs     []string  `query:"-"` // nil means no restriction
	ItemKeys        []string  `query:"-"`
	ExcludeItemKeys []string  `query:"-"`
	IDs             []string  `query:"-"`
	From            time.Time `query:"-"`
	To              time.Time `query:"-"`
	AuxiliaryColumn string    `query:"-"` // only rows with a value in this sampling condition
}

func (qf *QueryFilter) Clean() {
	qf.CustomerID = core.CleanString(qf.CustomerID)
	qf.CustomerName = core.CleanString(qf.CustomerName)
	qf.ItemKey = core.CleanString(qf.ItemKey)
	qf.Start = core.CleanString(qf.Start)
	qf.End = core.CleanString(qf.End)
	qf.OrganizationID = core.CleanString(qf.OrganizationID)
	qf.Stacks = core.UniqueStrings(qf.Stacks)
}

// ParseMeasuredAt accepts `YYYYMMDDHHmmss` (local time) or RFC 3339.
func ParseMeasuredAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) == 14 && isDigits(s) {
		return time.ParseInLocation("20060102150405", s, Location)
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, Location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid measuredAt %q", s)
}

// ParseDay parses a date (`YYYY-MM-DD`) or a timestamp.
func ParseDay(s string) (time.Time, error) {
	t, _, err := parseDay(s)
	return t, err
}

// parseDay parses a filter bound: a date (`YYYY-MM-DD`) or a full timestamp.
func parseDay(s string) (t time.Time, dateOnly bool, err error) {
	if t, err = time.ParseInLocation("2006-01-02", s, Location); err == nil {
		return t, true, nil
	}
	t, err = ParseMeasuredAt(s)
	return t, false, err
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
