package report

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net/mail"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/activity"
	"github.com/tigrofin/pmms/core/customer"
	"github.com/tigrofin/pmms/core/item"
	"github.com/tigrofin/pmms/core/measurement"
	"github.com/tigrofin/pmms/core/organization"
	"github.com/tigrofin/pmms/core/user"
)

var (
	// errors
	ErrItemRequired     = errors.New("itemKey is required")
	ErrCustomerRequired = errors.New("customerId is required")
	ErrNotAllowed       = core.NewPermissionError("only system admins can see these statistics")
)

// NowFunc can be mocked in tests.
var NowFunc = time.Now

type Filter struct {
	CustomerID string `query:"customerId"`
	Stack      string `query:"stack"`
	ItemKey    string `query:"itemKey"`
	ItemName   string `query:"itemName"`
	Start      string `query:"start"`
	End        string `query:"end"`
}

func (f Filter) measurementFilter() *measurement.QueryFilter {
	qf := &measurement.QueryFilter{
		CustomerID: f.CustomerID,
		ItemKey:    f.ItemKey,
		Start:      f.Start,
		End:        f.End,
	}
	if f.Stack != "" {
		qf.Stacks = []string{f.Stack}
	}
	return qf
}

type Summary struct {
	TotalCount int     `json:"totalCount"`
	MonthCount int     `json:"monthCount"`
	Exceed     int     `json:"exceed"`
	Avg        float64 `json:"avg"`
}

type Trend struct {
	Labels []string  `json:"labels"`
	Data   []float64 `json:"data"`
	Limit  float64   `json:"limit"`
}

type StackSummary struct {
	StackID        string     `json:"stackId"`
	StackName      string     `json:"stackName"`
	Avg            float64    `json:"avg"`
	Count          int        `json:"count"`
	ExceedCount    int        `json:"exceedCount"`
	LastMeasuredAt *time.Time `json:"lastMeasuredAt"`
	Limit          *float64   `json:"limit"`
}

type Counts struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Active  int `json:"active"`
}

type AdminStats struct {
	Organizations    Counts                 `json:"organizations"`
	Customers        Counts                 `json:"customers"`
	Users            Counts                 `json:"users"`
	RecentActivities []activity.ActivityLog `json:"recentActivities"`
}

type ItemStats struct {
	ItemKey  string   `json:"itemKey"`
	ItemName string   `json:"itemName"`
	Unit     string   `json:"unit"`
	Count    int      `json:"count"`
	Avg      float64  `json:"avg"`
	Max      float64  `json:"max"`
	Min      float64  `json:"min"`
	Exceed   int      `json:"exceed"`
	Limit    *float64 `json:"limit"`
}

// CustomerReport gathers the data of a customer's periodic report.
type CustomerReport struct {
	Customer customer.Customer `json:"customer"`
	Start    string            `json:"start"`
	End      string            `json:"end"`
	Total    int               `json:"total"`
	Items    []ItemStats       `json:"items"`
}

type (
	Service interface {
		Summary(ctx context.Context, actor core.Actor, filter Filter) (Summary, error)
		// Trends averages an item per month, from start (or the first value) to end (or the last one).
		Trends(ctx context.Context, actor core.Actor, filter Filter) (Trend, error)
		// StackSummaries aggregates an item per stack of a customer, highest average first.
		StackSummaries(ctx context.Context, actor core.Actor, filter Filter) ([]StackSummary, error)
		AdminStats(ctx context.Context, actor core.Actor) (AdminStats, error)
		CustomerReport(ctx context.Context, actor core.Actor, customerID string, filter Filter) (CustomerReport, error)
		// EmailCustomerReport mails the report to actor, its measurements attached as CSV.
		EmailCustomerReport(ctx context.Context, actor core.Actor, customerID string, filter Filter) (CustomerReport, error)
	}

	service struct {
		msrSvc  measurement.Service
		itemSvc item.Service
		custSvc customer.Service
		orgSvc  organization.Service
		usrSvc  user.Service
		actSvc  activity.Service
		mailSvc core.EmailService
	}
)

var _ Service = (*service)(nil)

func NewService(
	msrSvc measurement.Service,
	itemSvc item.Service,
	custSvc customer.Service,
	orgSvc organization.Service,
	usrSvc user.Service,
	actSvc activity.Service,
	mailSvc core.EmailService,
) Service {
	return &service{
		msrSvc:  msrSvc,
		itemSvc: itemSvc,
		custSvc: custSvc,
		orgSvc:  orgSvc,
		usrSvc:  usrSvc,
		actSvc:  actSvc,
		mailSvc: mailSvc,
	}
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

func (svc *service) Summary(ctx context.Context, actor core.Actor, filter Filter) (Summary, error) {
	ms, err := svc.msrSvc.Query(ctx, actor, filter.measurementFilter())
	if err != nil {
		return Summary{}, err
	}
	return Summarize(ms, NowFunc()), nil
}

// Summarize counts ms, those of the month of now & those above their limit.
func Summarize(ms []measurement.Measurement, now time.Time) Summary {
	var s Summary
	var sum float64
	now = now.In(measurement.Location)
	for _, m := range ms {
		s.TotalCount++
		sum += m.Value
		at := m.MeasuredAt.In(measurement.Location)
		if at.Year() == now.Year() && at.Month() == now.Month() {
			s.MonthCount++
		}
		if m.Exceeded {
			s.Exceed++
		}
	}
	if s.TotalCount > 0 {
		s.Avg = round(sum/float64(s.TotalCount), 1)
	}
	return s
}

func (svc *service) Trends(ctx context.Context, actor core.Actor, filter Filter) (Trend, error) {
	if filter.ItemKey == "" {
		return Trend{}, core.NewValidationError(ErrItemRequired, core.FieldError{Field: "itemKey", Error: ErrItemRequired.Error()})
	}
	ms, err := svc.msrSvc.Query(ctx, actor, filter.measurementFilter())
	if err != nil {
		return Trend{}, err
	}

	var from, to time.Time
	if filter.Start != "" {
		if from, err = measurement.ParseDay(filter.Start); err != nil {
			return Trend{}, core.NewValidationError(err, core.FieldError{Field: "start", Error: err.Error()})
		}
	}
	if filter.End != "" {
		if to, err = measurement.ParseDay(filter.End); err != nil {
			return Trend{}, core.NewValidationError(err, core.FieldError{Field: "end", Error: err.Error()})
		}
	}

	tr := MonthlyTrend(ms, from, to, NowFunc())
	if len(ms) > 0 && ms[0].Limit != nil {
		tr.Limit = *ms[0].Limit
	} else if it, err := svc.itemSvc.Get(ctx, filter.ItemKey); err == nil {
		tr.Limit = it.LimitValue()
	}
	return tr, nil
}

func monthKey(t time.Time) int {
	t = t.In(measurement.Location)
	return t.Year()*12 + int(t.Month()) - 1
}

// MonthlyTrend averages ms per month (1 decimal, 0 for months without values) from `from` to `to`;
// a zero bound falls back to the oldest, respectively latest, value, then to now.
func MonthlyTrend(ms []measurement.Measurement, from, to, now time.Time) Trend {
	if from.IsZero() || to.IsZero() {
		var oldest, latest time.Time
		for _, m := range ms {
			if oldest.IsZero() || m.MeasuredAt.Before(oldest) {
				oldest = m.MeasuredAt
			}
			if latest.IsZero() || m.MeasuredAt.After(latest) {
				latest = m.MeasuredAt
			}
		}
		if oldest.IsZero() {
			oldest, latest = now, now
		}
		if from.IsZero() {
			from = oldest
		}
		if to.IsZero() {
			to = latest
		}
	}

	first, last := monthKey(from), monthKey(to)
	tr := Trend{Labels: []string{}, Data: []float64{}}
	if last < first {
		return tr
	}
	sums := make([]float64, last-first+1)
	counts := make([]int, last-first+1)
	for _, m := range ms {
		if k := monthKey(m.MeasuredAt); k >= first && k <= last {
			sums[k-first] += m.Value
			counts[k-first]++
		}
	}
	for k := first; k <= last; k++ {
		tr.Labels = append(tr.Labels, strconv.Itoa(k%12+1)+"월")
		var avg float64
		if n := counts[k-first]; n > 0 {
			avg = round(sums[k-first]/float64(n), 1)
		}
		tr.Data = append(tr.Data, avg)
	}
	return tr
}

func (svc *service) StackSummaries(ctx context.Context, actor core.Actor, filter Filter) ([]StackSummary, error) {
	if filter.CustomerID == "" {
		return nil, core.NewValidationError(ErrCustomerRequired, core.FieldError{Field: "customerId", Error: ErrCustomerRequired.Error()})
	}
	if filter.ItemKey == "" && filter.ItemName != "" {
		items, err := svc.itemSvc.Query(ctx, item.QueryFilter{})
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			if it.Name == filter.ItemName {
				filter.ItemKey = it.Key
				break
			}
		}
	}
	if filter.ItemKey == "" {
		return nil, core.NewValidationError(ErrItemRequired, core.FieldError{Field: "itemKey", Error: ErrItemRequired.Error()})
	}

	ms, err := svc.msrSvc.Query(ctx, actor, filter.measurementFilter())
	if err != nil {
		return nil, err
	}
	return SummarizeStacks(ms), nil
}

// SummarizeStacks aggregates ms per stack, highest average (2 decimals) first.
func SummarizeStacks(ms []measurement.Measurement) []StackSummary {
	type agg struct {
		StackSummary
		sum float64
	}
	var order []string
	byStack := map[string]*agg{}
	for _, m := range measurement.Dedup(ms) {
		a, ok := byStack[m.StackID]
		if !ok {
			a = &agg{StackSummary: StackSummary{StackID: m.StackID, StackName: m.StackName, Limit: m.Limit}}
			byStack[m.StackID] = a
			order = append(order, m.StackID)
		}
		a.Count++
		a.sum += m.Value
		if m.Exceeded {
			a.ExceedCount++
		}
		if at := m.MeasuredAt; a.LastMeasuredAt == nil || at.After(*a.LastMeasuredAt) {
			a.LastMeasuredAt = &at
		}
	}

	out := make([]StackSummary, 0, len(order))
	for _, id := range order {
		a := byStack[id]
		a.Avg = round(a.sum/float64(a.Count), 2)
		out = append(out, a.StackSummary)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Avg > out[j].Avg })
	return out
}

func (svc *service) AdminStats(ctx context.Context, actor core.Actor) (AdminStats, error) {
	var stats AdminStats
	if !actor.IsSuperAdmin() {
		return stats, ErrNotAllowed
	}
	active, inactive := true, false

	g, ctx := errgroup.WithContext(ctx)
	count := func(dst *int, fn func() (int, error)) {
		g.Go(func() error {
			n, err := fn()
			*dst = n
			return err
		})
	}
	count(&stats.Organizations.Total, func() (int, error) { return svc.orgSvc.Count(ctx, &organization.QueryFilter{}) })
	count(&stats.Organizations.Pending, func() (int, error) {
		return svc.orgSvc.Count(ctx, &organization.QueryFilter{IsActive: &inactive})
	})
	count(&stats.Organizations.Active, func() (int, error) {
		return svc.orgSvc.Count(ctx, &organization.QueryFilter{IsActive: &active})
	})
	count(&stats.Customers.Total, func() (int, error) { return svc.custSvc.Count(ctx, &customer.QueryFilter{}) })
	count(&stats.Customers.Pending, func() (int, error) {
		return svc.custSvc.Count(ctx, &customer.QueryFilter{IsActive: &inactive})
	})
	count(&stats.Customers.Active, func() (int, error) {
		return svc.custSvc.Count(ctx, &customer.QueryFilter{IsActive: &active})
	})
	count(&stats.Users.Total, func() (int, error) { return svc.usrSvc.Count(ctx, &user.QueryFilter{}) })
	count(&stats.Users.Pending, func() (int, error) {
		return svc.usrSvc.Count(ctx, &user.QueryFilter{Status: user.StatusPending})
	})
	count(&stats.Users.Active, func() (int, error) {
		return svc.usrSvc.Count(ctx, &user.QueryFilter{IsActive: &active})
	})
	g.Go(func() error {
		acts, err := svc.actSvc.Recent(ctx, 10)
		stats.RecentActivities = acts
		return err
	})

	if err := g.Wait(); err != nil {
		return AdminStats{}, errors.Wrap(err, "computing statistics")
	}
	return stats, nil
}

func (svc *service) customerReport(ctx context.Context, actor core.Actor, customerID string, filter Filter) (CustomerReport, []measurement.Measurement, error) {
	c, err := svc.custSvc.Get(ctx, actor, customerID)
	if err != nil {
		return CustomerReport{}, nil, err
	}
	// public customers are visible to every organization, their data is not
	if err = svc.custSvc.CanAccess(ctx, actor, c.ID); err != nil {
		return CustomerReport{}, nil, err
	}
	filter.CustomerID = c.ID
	filter.ItemKey = ""
	ms, err := svc.msrSvc.Query(ctx, actor, filter.measurementFilter())
	if err != nil {
		return CustomerReport{}, nil, err
	}
	catalogue, err := svc.itemSvc.Catalogue(ctx)
	if err != nil {
		return CustomerReport{}, nil, err
	}
	return CustomerReport{
		Customer: c,
		Start:    filter.Start,
		End:      filter.End,
		Total:    len(ms),
		Items:    ItemStatistics(ms, catalogue),
	}, ms, nil
}

func (svc *service) CustomerReport(ctx context.Context, actor core.Actor, customerID string, filter Filter) (CustomerReport, error) {
	rep, _, err := svc.customerReport(ctx, actor, customerID, filter)
	return rep, err
}

func (svc *service) EmailCustomerReport(ctx context.Context, actor core.Actor, customerID string, filter Filter) (CustomerReport, error) {
	rep, ms, err := svc.customerReport(ctx, actor, customerID, filter)
	if err != nil {
		return CustomerReport{}, err
	}
	usr, err := svc.usrSvc.GetByID(ctx, actor.UserID)
	if err != nil {
		return CustomerReport{}, errors.Wrap(err, "loading report recipient")
	}

	var csv bytes.Buffer
	if err = measurement.WriteCSV(&csv, ms); err != nil {
		return CustomerReport{}, err
	}
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      fmt.Sprintf("Measurement report: %s", rep.Customer.Name),
		TemplateName: "customer_report",
		TemplateData: map[string]interface{}{
			"Name":   usr.Name,
			"Report": rep,
		},
	}
	filename := fmt.Sprintf("measurements_%s.csv", NowFunc().In(measurement.Location).Format("20060102"))
	if err = msg.Attach(&csv, filename, "text/csv; charset=utf-8"); err != nil {
		return CustomerReport{}, errors.Wrap(err, "attaching measurements")
	}
	svc.mailSvc.SendMessages(msg)
	return rep, nil
}

// ItemStatistics aggregates ms per item, in catalogue order.
func ItemStatistics(ms []measurement.Measurement, catalogue map[string]item.Item) []ItemStats {
	byItem := map[string]*ItemStats{}
	sums := map[string]float64{}
	for _, m := range ms {
		st, ok := byItem[m.ItemKey]
		if !ok {
			it := catalogue[m.ItemKey]
			st = &ItemStats{ItemKey: m.ItemKey, ItemName: it.Name, Unit: it.Unit, Min: m.Value, Max: m.Value, Limit: m.Limit}
			if st.ItemName == "" {
				st.ItemName = m.ItemName
			}
			byItem[m.ItemKey] = st
		}
		st.Count++
		sums[m.ItemKey] += m.Value
		st.Max = math.Max(st.Max, m.Value)
		st.Min = math.Min(st.Min, m.Value)
		if m.Exceeded {
			st.Exceed++
		}
	}

	out := make([]ItemStats, 0, len(byItem))
	for key, st := range byItem {
		st.Avg = round(sums[key]/float64(st.Count), 2)
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := catalogue[out[i].ItemKey], catalogue[out[j].ItemKey]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return out[i].ItemKey < out[j].ItemKey
	})
	return out
}
