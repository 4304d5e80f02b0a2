package measurement

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/activity"
	"github.com/tigrofin/pmms/core/customer"
	"github.com/tigrofin/pmms/core/item"
	"github.com/tigrofin/pmms/core/limit"
	"github.com/tigrofin/pmms/core/stack"
)

var (
	// errors
	ErrNotFound      = errors.New("measurement not found")
	ErrDuplicate     = errors.New("a value of this item was already measured on this stack at this time")
	ErrStackNotFound = errors.New("stack not found for this customer")
	ErrStackInactive = errors.New("measurements cannot be added to an inactive stack")
	ErrUnknownItem   = errors.New("unknown measurement item")
	ErrInvalidValue  = errors.New("the value must be a number")
	ErrNoRows        = errors.New("no valid rows")
	ErrTooManyRows   = errors.New("too many rows")
	ErrNotAllowed    = core.NewPermissionError("not allowed to manage measurements")
)

type (
	Repository interface {
		// QueryMeasurements applies AND operation on the QueryFilter fields, latest first.
		// Rows carry the customer, stack & item names.
		QueryMeasurements(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) ([]Measurement, error)
		GetMeasurement(ctx context.Context, id string, exec ...core.DBExecutor) (Measurement, error)
		// CreateMeasurement returns ErrDuplicate when (StackID, ItemKey, MeasuredAt) is taken.
		CreateMeasurement(ctx context.Context, m Measurement, exec ...core.DBExecutor) (Measurement, error)
		UpdateMeasurement(ctx context.Context, m Measurement, exec ...core.DBExecutor) (Measurement, error)
		DeleteMeasurements(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error)
	}

	// Importer stores imported measurements in bulk.
	Importer interface {
		// ImportMeasurements inserts ms, ignoring those conflicting on (StackID, ItemKey, MeasuredAt),
		// and returns the number of inserted rows.
		ImportMeasurements(ctx context.Context, ms []Measurement) (int, error)
	}

	Service interface {
		Create(ctx context.Context, actor core.Actor, nm NewMeasurement) (Measurement, error)
		// Query returns the measurements visible to actor with their applicable limit, latest first.
		Query(ctx context.Context, actor core.Actor, filter *QueryFilter) ([]Measurement, error)
		Get(ctx context.Context, actor core.Actor, id string) (Measurement, error)
		Update(ctx context.Context, actor core.Actor, m Measurement, um UpdateMeasurement) (Measurement, error)
		Delete(ctx context.Context, actor core.Actor, id string) error
		BatchDelete(ctx context.Context, actor core.Actor, ids []string) (int, error)

		BulkImport(ctx context.Context, actor core.Actor, rows []BulkRow) (core.BulkResult, error)
		// ImportCSV feeds the rows of a `customer,stack,itemKey,value,measuredAt` CSV to BulkImport.
		ImportCSV(ctx context.Context, actor core.Actor, r io.Reader) (core.BulkResult, error)
		ExportCSV(ctx context.Context, actor core.Actor, filter *QueryFilter, w io.Writer) error
		// Correlated keeps the measurements whose sampling conditions, recorded on the same stack
		// in the same minute, satisfy every condition.
		Correlated(ctx context.Context, actor core.Actor, filter *QueryFilter, req CorrelationRequest) ([]Measurement, error)
	}

	service struct {
		repo     Repository
		importer Importer
		db       core.DB
		conf     *core.Config
		custSvc  customer.Service
		stackSvc stack.Service
		itemSvc  item.Service
		limitSvc limit.Service
		actSvc   activity.Service
	}
)

var _ Service = (*service)(nil)

func NewService(
	repo Repository,
	importer Importer,
	db core.DB,
	conf *core.Config,
	custSvc customer.Service,
	stackSvc stack.Service,
	itemSvc item.Service,
	limitSvc limit.Service,
	actSvc activity.Service,
) Service {
	return &service{
		repo:     repo,
		importer: importer,
		db:       db,
		conf:     conf,
		custSvc:  custSvc,
		stackSvc: stackSvc,
		itemSvc:  itemSvc,
		limitSvc: limitSvc,
		actSvc:   actSvc,
	}
}

// canWrite reports whether actor records measurements; customers only read theirs.
func canWrite(actor core.Actor) bool {
	return actor.IsSuperAdmin() || actor.IsOrgUser()
}

func canSee(actor core.Actor, m Measurement) bool {
	switch {
	case actor.IsSuperAdmin():
		return true
	case actor.IsOrgUser():
		return m.OrganizationID == actor.OrganizationID
	case actor.IsCustomerUser():
		return m.CustomerID == actor.CustomerID
	}
	return false
}

func canEdit(actor core.Actor, m Measurement) bool {
	return canWrite(actor) && canSee(actor, m)
}

// resolveStack finds the active stack `name` of the customer.
func (svc *service) resolveStack(ctx context.Context, actor core.Actor, customerID, name string) (stack.Stack, error) {
	stacks, err := svc.stackSvc.Query(ctx, actor, &stack.QueryFilter{
		CustomerID:      customerID,
		Names:           []string{name},
		IncludeInactive: true,
	}, nil)
	if err != nil {
		return stack.Stack{}, err
	}
	if len(stacks) == 0 {
		return stack.Stack{}, core.NewValidationError(ErrStackNotFound, core.FieldError{Field: "stack", Error: ErrStackNotFound.Error()})
	}
	if !stacks[0].IsActive {
		return stack.Stack{}, core.NewValidationError(ErrStackInactive, core.FieldError{Field: "stack", Error: ErrStackInactive.Error()})
	}
	return stacks[0], nil
}

func (svc *service) Create(ctx context.Context, actor core.Actor, nm NewMeasurement) (Measurement, error) {
	if !canWrite(actor) {
		return Measurement{}, ErrNotAllowed
	}
	if err := svc.custSvc.CanAccess(ctx, actor, nm.CustomerID); err != nil {
		return Measurement{}, core.NewValidationError(err, core.FieldError{Field: "customerId", Error: err.Error()})
	}
	st, err := svc.resolveStack(ctx, actor, nm.CustomerID, nm.Stack)
	if err != nil {
		return Measurement{}, err
	}

	measuredAt := time.Now()
	if nm.MeasuredAt != "" {
		if measuredAt, err = ParseMeasuredAt(nm.MeasuredAt); err != nil {
			return Measurement{}, core.NewValidationError(err, core.FieldError{Field: "measuredAt", Error: err.Error()})
		}
	}

	m := Measurement{
		CustomerID:     nm.CustomerID,
		StackID:        st.ID,
		OrganizationID: actor.OrganizationID,
		ItemKey:        nm.ItemKey,
		MeasuredAt:     measuredAt.UTC().Truncate(time.Second),
		CreatedAt:      time.Now().UTC(),
	}
	if item.IsAuxiliary(nm.ItemKey) {
		if err = m.Set(nm.ItemKey, string(nm.Value)); err != nil {
			return Measurement{}, core.NewValidationError(err, core.FieldError{Field: "value", Error: err.Error()})
		}
		m.ItemKey = item.AuxiliaryKey
		return svc.saveConditions(ctx, actor, m, st.Name)
	}

	if _, err = svc.itemSvc.Get(ctx, nm.ItemKey); err != nil {
		if errors.Cause(err) == item.ErrNotFound {
			return Measurement{}, core.NewValidationError(ErrUnknownItem, core.FieldError{Field: "itemKey", Error: ErrUnknownItem.Error()})
		}
		return Measurement{}, err
	}
	if m.Value, err = nm.Value.Float(); err != nil {
		return Measurement{}, core.NewValidationError(ErrInvalidValue, core.FieldError{Field: "value", Error: ErrInvalidValue.Error()})
	}

	if m, err = svc.repo.CreateMeasurement(ctx, m); err != nil {
		return Measurement{}, duplicateError(err)
	}
	svc.actSvc.Record(ctx, actor.UserID, activity.ActionCreateMeasurement, map[string]interface{}{
		"measurementId": m.ID, "stack": st.Name, "itemKey": m.ItemKey, "value": m.Value,
	})
	return m, nil
}

// saveConditions merges sampling conditions into the conditions-only row of the stack at that time.
func (svc *service) saveConditions(ctx context.Context, actor core.Actor, m Measurement, stackName string) (Measurement, error) {
	existing, err := svc.repo.QueryMeasurements(ctx, &QueryFilter{
		CustomerIDs: []string{m.CustomerID},
		Stacks:      []string{stackName},
		ItemKeys:    []string{item.AuxiliaryKey},
		From:        m.MeasuredAt,
		To:          m.MeasuredAt,
	})
	if err != nil {
		return Measurement{}, errors.Wrap(err, "querying sampling conditions")
	}

	action := activity.ActionCreateMeasurement
	if len(existing) > 0 {
		prev := existing[0]
		prev.Merge(m.Auxiliary)
		m, err = svc.repo.UpdateMeasurement(ctx, prev)
		action = activity.ActionUpdateMeasurement
	} else {
		m, err = svc.repo.CreateMeasurement(ctx, m)
	}
	if err != nil {
		return Measurement{}, duplicateError(err)
	}
	svc.actSvc.Record(ctx, actor.UserID, action, map[string]interface{}{
		"measurementId": m.ID, "stack": stackName, "itemKey": m.ItemKey,
	})
	return m, nil
}

func duplicateError(err error) error {
	if errors.Cause(err) == ErrDuplicate {
		return core.NewValidationError(ErrDuplicate, core.FieldError{Field: "measuredAt", Error: ErrDuplicate.Error()})
	}
	return errors.Wrap(err, "saving measurement")
}

// scope restricts filter to what actor may see; false when nothing is visible.
func (svc *service) scope(actor core.Actor, filter *QueryFilter) bool {
	switch {
	case actor.IsSuperAdmin():
	case actor.IsOrgUser():
		filter.OrganizationID = actor.OrganizationID
	case actor.IsCustomerUser():
		if filter.CustomerID != "" && filter.CustomerID != actor.CustomerID {
			return false
		}
		filter.CustomerID = actor.CustomerID
		filter.OrganizationID = ""
	default:
		return false
	}
	if filter.CustomerID != "" {
		filter.CustomerIDs = []string{filter.CustomerID}
	}
	return true
}

// bounds converts the start & end filters; a date-only end includes the whole day.
func bounds(filter *QueryFilter) error {
	if filter.Start != "" {
		t, _, err := parseDay(filter.Start)
		if err != nil {
			return core.NewValidationError(err, core.FieldError{Field: "start", Error: err.Error()})
		}
		filter.From = t
	}
	if filter.End != "" {
		t, dateOnly, err := parseDay(filter.End)
		if err != nil {
			return core.NewValidationError(err, core.FieldError{Field: "end", Error: err.Error()})
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1).Add(-time.Millisecond)
		}
		filter.To = t
	}
	return nil
}

// excludedKeys are never listed as pollutants.
func excludedKeys() []string {
	return append([]string{item.AuxiliaryKey}, item.AuxiliaryKeys...)
}

func (svc *service) Query(ctx context.Context, actor core.Actor, filter *QueryFilter) ([]Measurement, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.Clean()
	if !svc.scope(actor, filter) {
		return []Measurement{}, nil
	}
	if err := bounds(filter); err != nil {
		return nil, err
	}

	auxKey, isAux := item.CanonicalAuxKey(filter.ItemKey)
	switch {
	case filter.ItemKey == "":
		filter.ExcludeItemKeys = excludedKeys()
	case isAux:
		filter.AuxiliaryColumn = auxKey
	default:
		filter.ItemKeys = []string{filter.ItemKey}
	}

	ms, err := svc.repo.QueryMeasurements(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "querying measurements")
	}
	if isAux {
		return svc.project(ctx, ms, auxKey)
	}
	if ms, err = svc.withLimits(ctx, ms); err != nil {
		return nil, err
	}
	ms = Dedup(ms)
	if filter.Limit > 0 && len(ms) > filter.Limit {
		ms = ms[:filter.Limit]
	}
	return ms, nil
}

// project turns rows into values of the sampling condition `key`, dropping rows without one.
func (svc *service) project(ctx context.Context, ms []Measurement, key string) ([]Measurement, error) {
	catalogue, err := svc.itemSvc.Catalogue(ctx)
	if err != nil {
		return nil, err
	}
	it := catalogue[key]
	out := make([]Measurement, 0, len(ms))
	for _, m := range ms {
		p := m
		p.ItemKey, p.ItemName, p.Unit = key, it.Name, it.Unit
		p.Value, p.TextValue = 0, ""
		if item.IsTextAux(key) {
			v, ok := m.Text(key)
			if !ok {
				continue
			}
			p.TextValue = v
		} else {
			v, ok := m.Number(key)
			if !ok {
				continue
			}
			p.Value = v
		}
		out = append(out, p)
	}
	return Dedup(out), nil
}

// withLimits fills the applicable limit of each row.
func (svc *service) withLimits(ctx context.Context, ms []Measurement) ([]Measurement, error) {
	if len(ms) == 0 {
		return ms, nil
	}
	itemKeys := make([]string, 0, len(ms))
	customerIDs := make([]string, 0, len(ms))
	for _, m := range ms {
		itemKeys = append(itemKeys, m.ItemKey)
		customerIDs = append(customerIDs, m.CustomerID)
	}
	res, err := svc.limitSvc.Resolver(ctx, itemKeys, customerIDs)
	if err != nil {
		return nil, err
	}
	for i := range ms {
		if v, ok := res.Resolve(ms[i].ItemKey, ms[i].CustomerID, ms[i].StackID); ok {
			lim := v
			ms[i].Limit = &lim
			ms[i].Exceeded = ms[i].Value > v
		}
	}
	return ms, nil
}

// Dedup drops repeated rows, identified by id or by (stack, item, minute, value to 3 decimals).
func Dedup(ms []Measurement) []Measurement {
	seen := make(map[string]struct{}, len(ms))
	out := make([]Measurement, 0, len(ms))
	for _, m := range ms {
		key := m.ID
		if key == "" {
			stackKey := m.StackID
			if stackKey == "" {
				stackKey = m.StackName
			}
			key = fmt.Sprintf("%s|%s|%d|%.3f", stackKey, m.ItemKey, minute(m.MeasuredAt), m.Value)
			if m.TextValue != "" {
				key += "|" + m.TextValue
			}
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}

func minute(t time.Time) int64 {
	return int64(math.Floor(float64(t.UnixNano()) / float64(time.Minute)))
}

func (svc *service) Get(ctx context.Context, actor core.Actor, id string) (Measurement, error) {
	if id == "" {
		return Measurement{}, ErrNotFound
	}
	m, err := svc.repo.GetMeasurement(ctx, id)
	if err != nil {
		return Measurement{}, err
	}
	if !canSee(actor, m) {
		return Measurement{}, ErrNotFound
	}
	ms, err := svc.withLimits(ctx, []Measurement{m})
	if err != nil {
		return Measurement{}, err
	}
	return ms[0], nil
}

func (svc *service) Update(ctx context.Context, actor core.Actor, m Measurement, um UpdateMeasurement) (Measurement, error) {
	if !canEdit(actor, m) {
		return Measurement{}, ErrNotAllowed
	}
	details := map[string]interface{}{"measurementId": m.ID}
	if um.Value != nil {
		details["oldValue"], details["value"] = m.Value, *um.Value
		m.Value = *um.Value
	}
	if um.MeasuredAt != nil {
		details["measuredAt"] = um.MeasuredAt.UTC()
		m.MeasuredAt = um.MeasuredAt.UTC().Truncate(time.Second)
	}

	m, err := svc.repo.UpdateMeasurement(ctx, m)
	if err != nil {
		return Measurement{}, duplicateError(err)
	}
	svc.actSvc.Record(ctx, actor.UserID, activity.ActionUpdateMeasurement, details)
	return m, nil
}

func (svc *service) Delete(ctx context.Context, actor core.Actor, id string) error {
	m, err := svc.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if !canEdit(actor, m) {
		return ErrNotAllowed
	}
	if _, err = svc.repo.DeleteMeasurements(ctx, []string{id}); err != nil {
		return errors.Wrap(err, "deleting measurement")
	}
	svc.actSvc.Record(ctx, actor.UserID, activity.ActionDeleteMeasurement, map[string]interface{}{
		"measurementId": m.ID, "itemKey": m.ItemKey, "value": m.Value,
	})
	return nil
}

// BatchDelete deletes the listed measurements actor may edit and returns how many were deleted.
func (svc *service) BatchDelete(ctx context.Context, actor core.Actor, ids []string) (int, error) {
	if !canWrite(actor) {
		return 0, ErrNotAllowed
	}
	ids = core.UniqueStrings(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	filter := &QueryFilter{IDs: ids}
	if !svc.scope(actor, filter) {
		return 0, nil
	}
	ms, err := svc.repo.QueryMeasurements(ctx, filter)
	if err != nil {
		return 0, errors.Wrap(err, "querying measurements")
	}
	allowed := make([]string, 0, len(ms))
	for _, m := range ms {
		if canEdit(actor, m) {
			allowed = append(allowed, m.ID)
		}
	}
	if len(allowed) == 0 {
		return 0, nil
	}

	n, err := svc.repo.DeleteMeasurements(ctx, allowed)
	if err != nil {
		return 0, errors.Wrap(err, "deleting measurements")
	}
	svc.actSvc.Record(ctx, actor.UserID, activity.ActionDeleteMeasurement, map[string]interface{}{
		"ids": strings.Join(allowed, ","), "count": n,
	})
	return n, nil
}
