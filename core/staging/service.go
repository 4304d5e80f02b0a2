package staging

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/activity"
	"github.com/tigrofin/pmms/core/customer"
	"github.com/tigrofin/pmms/core/item"
	"github.com/tigrofin/pmms/core/measurement"
	"github.com/tigrofin/pmms/core/stack"
)

var (
	// errors
	ErrNotFound    = errors.New("staged measurement not found")
	ErrDuplicate   = errors.New("this temp id is already taken")
	ErrUnknownItem = errors.New("unknown measurement item")
	ErrNotAllowed  = core.NewPermissionError("not allowed to manage these staged measurements")
)

// tempIDAttempts bounds the retries on temp ids taken concurrently.
const tempIDAttempts = 3

type (
	Repository interface {
		// CreateStaged returns ErrDuplicate when the TempID is taken.
		CreateStaged(ctx context.Context, s Staged, exec ...core.DBExecutor) (Staged, error)
		// QueryStaged applies AND operation on the QueryFilter fields, latest first, with the customer & stack names.
		QueryStaged(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) ([]Staged, error)
		GetStaged(ctx context.Context, id string, exec ...core.DBExecutor) (Staged, error)
		UpdateStaged(ctx context.Context, s Staged, exec ...core.DBExecutor) (Staged, error)
		DeleteStaged(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error)
		// LastTempID returns the greatest temp id starting with prefix, "" when there is none.
		LastTempID(ctx context.Context, prefix string, exec ...core.DBExecutor) (string, error)
	}

	Service interface {
		Stage(ctx context.Context, actor core.Actor, ns NewStaged) (Staged, error)
		Query(ctx context.Context, actor core.Actor, filter *QueryFilter) ([]Staged, error)
		Get(ctx context.Context, actor core.Actor, id string) (Staged, error)
		Delete(ctx context.Context, actor core.Actor, s Staged) error
		// BatchDelete refuses the whole batch when a record is not actor's to delete.
		BatchDelete(ctx context.Context, actor core.Actor, ids []string) (int, error)
		// MergeAuxiliary sets the sampling conditions of the records of a stack on a day, returning how many changed.
		MergeAuxiliary(ctx context.Context, actor core.Actor, au AuxiliaryUpdate) (int, error)
		// Confirm imports the listed records as measurements then drops them; failures are reported per record.
		Confirm(ctx context.Context, actor core.Actor, ids []string) (ConfirmResult, error)
		// ExportCSV writes the records in the measurement import format.
		ExportCSV(ctx context.Context, actor core.Actor, filter *QueryFilter, w io.Writer) error
	}

	service struct {
		repo     Repository
		custSvc  customer.Service
		stackSvc stack.Service
		itemSvc  item.Service
		msrSvc   measurement.Service
		actSvc   activity.Service
	}
)

var _ Service = (*service)(nil)

func NewService(
	repo Repository,
	custSvc customer.Service,
	stackSvc stack.Service,
	itemSvc item.Service,
	msrSvc measurement.Service,
	actSvc activity.Service,
) Service {
	return &service{
		repo:     repo,
		custSvc:  custSvc,
		stackSvc: stackSvc,
		itemSvc:  itemSvc,
		msrSvc:   msrSvc,
		actSvc:   actSvc,
	}
}

// canStage reports whether actor records measurements.
func canStage(actor core.Actor) bool {
	return actor.IsSuperAdmin() || actor.IsOrgUser()
}

// canSee: operators see their own drafts, organization admins those of their organization,
// customer users those of their customer.
func canSee(actor core.Actor, s Staged) bool {
	switch {
	case actor.IsSuperAdmin():
		return true
	case actor.IsOrgAdmin():
		return s.OrganizationID == actor.OrganizationID
	case actor.IsOrgUser():
		return s.CreatedBy == actor.UserID
	case actor.IsCustomerUser():
		return s.CustomerID == actor.CustomerID
	}
	return false
}

func canModify(actor core.Actor, s Staged) bool {
	switch {
	case actor.IsSuperAdmin():
		return true
	case actor.IsOrgAdmin():
		return s.OrganizationID == actor.OrganizationID
	}
	return actor.IsOrgUser() && s.CreatedBy == actor.UserID
}

// scope restricts filter to what actor may see; false when nothing is visible.
func scope(actor core.Actor, filter *QueryFilter) bool {
	switch {
	case actor.IsSuperAdmin():
	case actor.IsOrgAdmin():
		filter.OrganizationID = actor.OrganizationID
	case actor.IsOrgUser():
		if filter.CreatedBy != "" && filter.CreatedBy != actor.UserID {
			return false
		}
		filter.CreatedBy = actor.UserID
	case actor.IsCustomerUser():
		if filter.CustomerID != "" && filter.CustomerID != actor.CustomerID {
			return false
		}
		filter.CustomerID = actor.CustomerID
	default:
		return false
	}
	return true
}

// bounds converts the start & end filters; a date-only end includes the whole day.
func bounds(filter *QueryFilter) error {
	if filter.Start != "" {
		t, err := measurement.ParseDay(filter.Start)
		if err != nil {
			return core.NewValidationError(err, core.FieldError{Field: "startDate", Error: err.Error()})
		}
		filter.From = t
	}
	if filter.End != "" {
		t, err := measurement.ParseDay(filter.End)
		if err != nil {
			return core.NewValidationError(err, core.FieldError{Field: "endDate", Error: err.Error()})
		}
		if _, dateErr := time.Parse("2006-01-02", filter.End); dateErr == nil {
			t = t.AddDate(0, 0, 1).Add(-time.Millisecond)
		}
		filter.To = t
	}
	return nil
}

// resolveStack finds the active stack of the customer.
func (svc *service) resolveStack(ctx context.Context, actor core.Actor, customerID, stackID string) (stack.Stack, error) {
	st, err := svc.stackSvc.Get(ctx, actor, stackID)
	if err != nil || st.CustomerID != customerID {
		if err != nil && errors.Cause(err) != stack.ErrNotFound {
			return stack.Stack{}, err
		}
		e := measurement.ErrStackNotFound
		return stack.Stack{}, core.NewValidationError(e, core.FieldError{Field: "stackId", Error: e.Error()})
	}
	if !st.IsActive {
		e := measurement.ErrStackInactive
		return stack.Stack{}, core.NewValidationError(e, core.FieldError{Field: "stackId", Error: e.Error()})
	}
	return st, nil
}

// setAuxiliary stores the raw sampling conditions on aux.
func setAuxiliary(aux *measurement.Auxiliary, raw map[string]measurement.RawValue) error {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := aux.Set(key, string(raw[key])); err != nil {
			return core.NewValidationError(err, core.FieldError{Field: "auxiliary", Error: err.Error()})
		}
	}
	return nil
}

func (svc *service) Stage(ctx context.Context, actor core.Actor, ns NewStaged) (Staged, error) {
	if !canStage(actor) {
		return Staged{}, ErrNotAllowed
	}
	if err := svc.custSvc.CanAccess(ctx, actor, ns.CustomerID); err != nil {
		return Staged{}, core.NewValidationError(err, core.FieldError{Field: "customerId", Error: err.Error()})
	}
	st, err := svc.resolveStack(ctx, actor, ns.CustomerID, ns.StackID)
	if err != nil {
		return Staged{}, err
	}
	measuredAt, err := measurement.ParseMeasuredAt(ns.MeasuredAt)
	if err != nil {
		return Staged{}, core.NewValidationError(err, core.FieldError{Field: "measuredAt", Error: err.Error()})
	}

	now := time.Now().UTC()
	s := Staged{
		CustomerID:     st.CustomerID,
		StackID:        st.ID,
		OrganizationID: actor.OrganizationID,
		MeasuredAt:     measuredAt.UTC().Truncate(time.Second),
		Status:         StatusDraft,
		CreatedBy:      actor.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err = setAuxiliary(&s.Auxiliary, ns.Auxiliary); err != nil {
		return Staged{}, err
	}
	catalogue, err := svc.itemSvc.Catalogue(ctx)
	if err != nil {
		return Staged{}, err
	}
	for _, v := range ns.Values {
		if item.IsAuxiliary(v.ItemKey) {
			if err = s.Auxiliary.Set(v.ItemKey, strconv.FormatFloat(v.Value, 'f', -1, 64)); err != nil {
				return Staged{}, core.NewValidationError(err, core.FieldError{Field: "measurements", Error: err.Error()})
			}
			continue
		}
		if _, known := catalogue[v.ItemKey]; !known || v.ItemKey == item.AuxiliaryKey {
			msg := fmt.Sprintf("unknown item %s", v.ItemKey)
			return Staged{}, core.NewValidationError(ErrUnknownItem, core.FieldError{Field: "measurements", Error: msg})
		}
		s.Values = append(s.Values, v)
	}

	if s, err = svc.create(ctx, s); err != nil {
		return Staged{}, err
	}
	s.CustomerName, s.StackName = st.CustomerName, st.Name
	svc.actSvc.Record(ctx, actor.UserID, activity.ActionStageMeasurements, map[string]interface{}{
		"tempId": s.TempID, "stack": st.Name, "values": len(s.Values),
	})
	return s, nil
}

// create numbers s after the last temp id of the day.
func (svc *service) create(ctx context.Context, s Staged) (Staged, error) {
	prefix := TempIDPrefix(s.CreatedAt)
	for attempt := 0; attempt < tempIDAttempts; attempt++ {
		last, err := svc.repo.LastTempID(ctx, prefix)
		if err != nil {
			return Staged{}, errors.Wrap(err, "finding last temp id")
		}
		serial := 1
		if last != "" {
			n, err := strconv.Atoi(strings.TrimPrefix(last, prefix))
			if err != nil {
				return Staged{}, errors.Errorf("malformed temp id %q", last)
			}
			serial = n + 1
		}
		s.TempID = formatTempID(prefix, serial)

		created, err := svc.repo.CreateStaged(ctx, s)
		if errors.Cause(err) == ErrDuplicate {
			continue
		}
		if err != nil {
			return Staged{}, errors.Wrap(err, "creating staged measurements")
		}
		return created, nil
	}
	return Staged{}, errors.Wrap(ErrDuplicate, "numbering staged measurements")
}

func (svc *service) Query(ctx context.Context, actor core.Actor, filter *QueryFilter) ([]Staged, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.Clean()
	if !scope(actor, filter) {
		return []Staged{}, nil
	}
	if err := bounds(filter); err != nil {
		return nil, err
	}
	list, err := svc.repo.QueryStaged(ctx, filter)
	return list, errors.Wrap(err, "querying staged measurements")
}

func (svc *service) Get(ctx context.Context, actor core.Actor, id string) (Staged, error) {
	if id == "" {
		return Staged{}, ErrNotFound
	}
	s, err := svc.repo.GetStaged(ctx, id)
	if err != nil {
		return Staged{}, err
	}
	if !canSee(actor, s) {
		return Staged{}, ErrNotFound
	}
	return s, nil
}

func (svc *service) Delete(ctx context.Context, actor core.Actor, s Staged) error {
	if !canModify(actor, s) {
		return ErrNotAllowed
	}
	n, err := svc.repo.DeleteStaged(ctx, []string{s.ID})
	if err != nil {
		return errors.Wrap(err, "deleting staged measurements")
	}
	if n == 0 {
		return ErrNotFound
	}
	svc.actSvc.Record(ctx, actor.UserID, activity.ActionDeleteStaged, map[string]interface{}{"tempIds": s.TempID})
	return nil
}

// modifiable loads the listed records, all of which actor must be allowed to modify.
func (svc *service) modifiable(ctx context.Context, actor core.Actor, ids []string) ([]Staged, error) {
	list, err := svc.repo.QueryStaged(ctx, &QueryFilter{IDs: ids})
	if err != nil {
		return nil, errors.Wrap(err, "querying staged measurements")
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	for _, s := range list {
		if !canModify(actor, s) {
			if !canSee(actor, s) {
				return nil, ErrNotFound
			}
			return nil, ErrNotAllowed
		}
	}
	return list, nil
}

func (svc *service) BatchDelete(ctx context.Context, actor core.Actor, ids []string) (int, error) {
	if !canStage(actor) {
		return 0, ErrNotAllowed
	}
	list, err := svc.modifiable(ctx, actor, core.UniqueStrings(ids))
	if err != nil {
		return 0, err
	}
	found := make([]string, 0, len(list))
	tempIDs := make([]string, 0, len(list))
	for _, s := range list {
		found = append(found, s.ID)
		tempIDs = append(tempIDs, s.TempID)
	}
	n, err := svc.repo.DeleteStaged(ctx, found)
	if err != nil {
		return 0, errors.Wrap(err, "deleting staged measurements")
	}
	svc.actSvc.Record(ctx, actor.UserID, activity.ActionDeleteStaged, map[string]interface{}{
		"tempIds": strings.Join(tempIDs, ","), "count": n,
	})
	return n, nil
}

func (svc *service) MergeAuxiliary(ctx context.Context, actor core.Actor, au AuxiliaryUpdate) (int, error) {
	if !canStage(actor) {
		return 0, ErrNotAllowed
	}
	day, err := time.ParseInLocation("2006-01-02", au.Date, measurement.Location)
	if err != nil {
		return 0, core.NewValidationError(err, core.FieldError{Field: "date", Error: "date must be YYYY-MM-DD"})
	}
	var aux measurement.Auxiliary
	if err = setAuxiliary(&aux, au.Auxiliary); err != nil {
		return 0, err
	}

	filter := &QueryFilter{
		CustomerID:   au.CustomerID,
		StackID:      au.StackID,
		MeasuredFrom: day,
		MeasuredTo:   day.AddDate(0, 0, 1).Add(-time.Millisecond),
	}
	if !scope(actor, filter) {
		return 0, nil
	}
	list, err := svc.repo.QueryStaged(ctx, filter)
	if err != nil {
		return 0, errors.Wrap(err, "querying staged measurements")
	}

	now := time.Now().UTC()
	var n int
	for _, s := range list {
		if !canModify(actor, s) {
			continue
		}
		s.Auxiliary.Merge(aux)
		s.UpdatedAt = now
		if _, err = svc.repo.UpdateStaged(ctx, s); err != nil {
			return n, errors.Wrap(err, "updating staged measurements")
		}
		n++
	}
	return n, nil
}

// bulkRows lists s in the measurement import format: one row per value & per sampling condition.
func bulkRows(s Staged) []measurement.BulkRow {
	measuredAt := s.MeasuredAt.In(measurement.Location).Format("20060102150405")
	rows := make([]measurement.BulkRow, 0, len(s.Values))
	for _, v := range s.Values {
		rows = append(rows, measurement.BulkRow{
			Customer:   s.CustomerID,
			Stack:      s.StackName,
			ItemKey:    v.ItemKey,
			Value:      measurement.RawValue(strconv.FormatFloat(v.Value, 'f', -1, 64)),
			MeasuredAt: measuredAt,
		})
	}
	for _, key := range item.AuxiliaryKeys {
		if text, ok := s.Auxiliary.Text(key); ok {
			rows = append(rows, measurement.BulkRow{
				Customer:   s.CustomerID,
				Stack:      s.StackName,
				ItemKey:    key,
				Value:      measurement.RawValue(text),
				MeasuredAt: measuredAt,
			})
		}
	}
	return rows
}

// describe flattens the field errors of a validation error.
func describe(err error) string {
	if ve, ok := errors.Cause(err).(*core.ValidationError); ok && len(ve.Fields) > 0 {
		msgs := make([]string, 0, len(ve.Fields))
		for _, f := range ve.Fields {
			msgs = append(msgs, f.Error)
		}
		return strings.Join(msgs, "; ")
	}
	return err.Error()
}

func (svc *service) Confirm(ctx context.Context, actor core.Actor, ids []string) (ConfirmResult, error) {
	res := ConfirmResult{Errors: []string{}}
	if !canStage(actor) {
		return res, ErrNotAllowed
	}
	ids = core.UniqueStrings(ids)
	list, err := svc.repo.QueryStaged(ctx, &QueryFilter{IDs: ids})
	if err != nil {
		return res, errors.Wrap(err, "querying staged measurements")
	}
	byID := make(map[string]Staged, len(list))
	for _, s := range list {
		byID[s.ID] = s
	}

	confirmed := make([]string, 0, len(list))
	tempIDs := make([]string, 0, len(list))
	for _, id := range ids {
		s, ok := byID[id]
		switch {
		case !ok || !canSee(actor, s):
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", id, ErrNotFound))
			continue
		case !canModify(actor, s):
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", s.TempID, ErrNotAllowed))
			continue
		}

		imported, err := svc.msrSvc.BulkImport(ctx, actor, bulkRows(s))
		if err != nil {
			if core.IsShutdown(err) {
				return res, err
			}
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", s.TempID, describe(err)))
			continue
		}
		for _, e := range imported.Errors {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", s.TempID, e))
		}
		res.Measurements += imported.Count
		confirmed = append(confirmed, s.ID)
		tempIDs = append(tempIDs, s.TempID)
	}
	if len(confirmed) == 0 {
		return res, nil
	}

	if res.Count, err = svc.repo.DeleteStaged(ctx, confirmed); err != nil {
		return res, errors.Wrap(err, "deleting confirmed staged measurements")
	}
	svc.actSvc.Record(ctx, actor.UserID, activity.ActionConfirmMeasurements, map[string]interface{}{
		"tempIds": strings.Join(tempIDs, ","), "measurements": res.Measurements,
	})
	return res, nil
}

var exportHeader = []string{"customer", "stack", "itemKey", "value", "measuredAt"}

func (svc *service) ExportCSV(ctx context.Context, actor core.Actor, filter *QueryFilter, w io.Writer) error {
	list, err := svc.Query(ctx, actor, filter)
	if err != nil {
		return err
	}
	if _, err = io.WriteString(w, core.UTF8BOM); err != nil {
		return errors.Wrap(err, "writing csv")
	}
	cw := csv.NewWriter(w)
	if err = cw.Write(exportHeader); err != nil {
		return errors.Wrap(err, "writing csv")
	}
	for _, s := range list {
		for _, row := range bulkRows(s) {
			if err = cw.Write([]string{s.CustomerName, row.Stack, row.ItemKey, string(row.Value), row.MeasuredAt}); err != nil {
				return errors.Wrap(err, "writing csv")
			}
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "writing csv")
}
