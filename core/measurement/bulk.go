package measurement

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/activity"
	"github.com/tigrofin/pmms/core/customer"
	"github.com/tigrofin/pmms/core/item"
	"github.com/tigrofin/pmms/core/stack"
)

// import column aliases, English & Korean export headers
var (
	colCustomer   = []string{"customer", "customername", "고객사", "고객사명"}
	colStack      = []string{"stack", "stackname", "굴뚝", "굴뚝명"}
	colItemKey    = []string{"itemkey", "item", "항목코드", "항목"}
	colValue      = []string{"value", "측정값"}
	colMeasuredAt = []string{"measuredat", "측정일시"}

	headerWithCustomer = core.NewCSVHeader([]string{"customer", "stack", "itemKey", "value", "measuredAt"})
	headerNoCustomer   = core.NewCSVHeader([]string{"stack", "itemKey", "value", "measuredAt"})
)

func (svc *service) ImportCSV(ctx context.Context, actor core.Actor, r io.Reader) (core.BulkResult, error) {
	records, err := core.ParseCSV(r)
	if err != nil {
		return core.BulkResult{}, core.NewValidationError(err, core.FieldError{Field: "file", Error: err.Error()})
	}
	var header core.CSVHeader
	if len(records) > 0 {
		if h := core.NewCSVHeader(records[0]); h.Index(colStack...) >= 0 {
			header = h
			records = records[1:]
		}
	}

	rows := make([]BulkRow, 0, len(records))
	for _, rec := range records {
		h := header
		if h == nil {
			h = headerNoCustomer
			if len(rec) >= len(headerWithCustomer) {
				h = headerWithCustomer
			}
		}
		rows = append(rows, BulkRow{
			Customer:   h.Get(rec, colCustomer...),
			Stack:      h.Get(rec, colStack...),
			ItemKey:    h.Get(rec, colItemKey...),
			Value:      RawValue(h.Get(rec, colValue...)),
			MeasuredAt: h.Get(rec, colMeasuredAt...),
		})
	}
	return svc.BulkImport(ctx, actor, rows)
}

// stackIndex resolves the stacks of imported rows by name, optionally narrowed by customer.
type stackIndex struct {
	byName    map[string][]stack.Stack
	customers map[string]string // lower-cased name & id -> id
}

func (idx stackIndex) resolve(name, cust string) (stack.Stack, error) {
	candidates := idx.byName[name]
	if cust != "" {
		id, ok := idx.customers[strings.ToLower(cust)]
		if !ok {
			return stack.Stack{}, errors.Errorf("customer %q not found", cust)
		}
		var matching []stack.Stack
		for _, st := range candidates {
			if st.CustomerID == id {
				matching = append(matching, st)
			}
		}
		candidates = matching
	}
	switch len(candidates) {
	case 0:
		return stack.Stack{}, errors.Errorf("stack %q not found", name)
	case 1:
		return candidates[0], nil
	}
	return stack.Stack{}, errors.Errorf("stack %q exists for several customers, set the customer column", name)
}

func (svc *service) stackIndex(ctx context.Context, actor core.Actor, rows []BulkRow) (stackIndex, error) {
	idx := stackIndex{byName: map[string][]stack.Stack{}, customers: map[string]string{}}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, strings.TrimSpace(row.Stack))
	}
	names = core.UniqueStrings(names)
	if len(names) == 0 {
		return idx, nil
	}

	stacks, err := svc.stackSvc.Query(ctx, actor, &stack.QueryFilter{Names: names, IncludeInactive: true}, nil)
	if err != nil {
		return idx, errors.Wrap(err, "querying stacks")
	}
	for _, st := range stacks {
		idx.byName[st.Name] = append(idx.byName[st.Name], st)
	}

	customers, err := svc.custSvc.Query(ctx, actor, &customer.QueryFilter{}, nil)
	if err != nil {
		return idx, errors.Wrap(err, "querying customers")
	}
	for _, c := range customers {
		idx.customers[c.ID] = c.ID
		idx.customers[strings.ToLower(c.Name)] = c.ID
		if c.Code != "" {
			idx.customers[strings.ToLower(c.Code)] = c.ID
		}
	}
	return idx, nil
}

// group holds the rows of a stack measured at the same time.
type group struct {
	stack      stack.Stack
	measuredAt time.Time
	aux        Auxiliary
	values     []Measurement
}

func (svc *service) BulkImport(ctx context.Context, actor core.Actor, rows []BulkRow) (core.BulkResult, error) {
	var res core.BulkResult
	if !canWrite(actor) {
		return res, ErrNotAllowed
	}
	if len(rows) == 0 {
		return res, core.NewValidationError(ErrNoRows, core.FieldError{Field: "rows", Error: ErrNoRows.Error()})
	}
	if maxRows := svc.conf.Import.MaxRows; maxRows > 0 && len(rows) > maxRows {
		msg := errors.Errorf("at most %d rows can be imported at once", maxRows).Error()
		return res, core.NewValidationError(ErrTooManyRows, core.FieldError{Field: "rows", Error: msg})
	}

	idx, err := svc.stackIndex(ctx, actor, rows)
	if err != nil {
		return res, err
	}
	catalogue, err := svc.itemSvc.Catalogue(ctx)
	if err != nil {
		return res, err
	}

	groups, err := groupRows(rows, idx, catalogue, &res)
	if err != nil {
		return res, err
	}
	ms := flatten(groups, actor.OrganizationID, time.Now().UTC(), &res)
	if len(ms) == 0 {
		fields := []core.FieldError{{Field: "rows", Error: ErrNoRows.Error()}}
		for _, e := range res.Errors {
			fields = append(fields, core.FieldError{Field: "rows", Error: e})
		}
		res.Finish("measurements")
		return res, core.NewValidationError(ErrNoRows, fields...)
	}

	inserted, err := svc.importer.ImportMeasurements(ctx, ms)
	if err != nil {
		return core.BulkResult{}, errors.Wrap(err, "importing measurements")
	}
	res.Count = inserted
	res.Skipped += len(ms) - inserted
	res.Finish("measurements")

	svc.actSvc.Record(ctx, actor.UserID, activity.ActionImportMeasurements, map[string]interface{}{
		"rows": len(rows), "count": res.Count, "skipped": res.Skipped, "errors": len(res.Errors),
	})
	return res, nil
}

// groupRows validates rows and gathers them by (stack, measuredAt), in first seen order.
// Rows of inactive stacks reject the whole batch.
func groupRows(rows []BulkRow, idx stackIndex, catalogue map[string]item.Item, res *core.BulkResult) ([]*group, error) {
	var (
		groups   []*group
		byKey    = map[string]*group{}
		inactive []string
	)
	for i, row := range rows {
		n := i + 1
		st, err := idx.resolve(strings.TrimSpace(row.Stack), strings.TrimSpace(row.Customer))
		if err != nil {
			res.AddError(n, "%v", err)
			continue
		}
		if !st.IsActive {
			inactive = append(inactive, st.Name)
			continue
		}
		measuredAt, err := ParseMeasuredAt(row.MeasuredAt)
		if err != nil {
			res.AddError(n, "%v", err)
			continue
		}
		measuredAt = measuredAt.UTC().Truncate(time.Second)

		key := st.ID + "|" + measuredAt.Format(time.RFC3339)
		g, ok := byKey[key]
		if !ok {
			g = &group{stack: st, measuredAt: measuredAt}
		}

		itemKey := strings.TrimSpace(row.ItemKey)
		if item.IsAuxiliary(itemKey) {
			if err = g.aux.Set(itemKey, string(row.Value)); err != nil {
				res.AddError(n, "%v", err)
				continue
			}
		} else {
			if _, known := catalogue[itemKey]; !known || itemKey == item.AuxiliaryKey {
				res.AddError(n, "itemKey '%s' not found", itemKey)
				continue
			}
			v, err := row.Value.Float()
			if err != nil {
				res.AddError(n, "invalid value %q", string(row.Value))
				continue
			}
			g.values = append(g.values, Measurement{ItemKey: itemKey, Value: v})
		}
		if !ok {
			byKey[key] = g
			groups = append(groups, g)
		}
	}

	if inactive = core.UniqueStrings(inactive); len(inactive) > 0 {
		sort.Strings(inactive)
		msg := "inactive stacks: " + strings.Join(inactive, ", ")
		return nil, core.NewValidationError(ErrStackInactive, core.FieldError{Field: "stack", Error: msg})
	}
	return groups, nil
}

// flatten builds the rows to store: sampling conditions are copied onto every value of their group,
// groups without values keep their conditions on a conditions-only row.
func flatten(groups []*group, orgID string, now time.Time, res *core.BulkResult) []Measurement {
	var ms []Measurement
	seen := map[string]struct{}{}
	for _, g := range groups {
		values := g.values
		if len(values) == 0 {
			if g.aux.IsEmpty() {
				continue
			}
			values = []Measurement{{ItemKey: item.AuxiliaryKey}}
		}
		for _, v := range values {
			key := g.stack.ID + "|" + v.ItemKey + "|" + g.measuredAt.Format(time.RFC3339)
			if _, dup := seen[key]; dup {
				res.Skipped++
				continue
			}
			seen[key] = struct{}{}

			v.CustomerID = g.stack.CustomerID
			v.StackID = g.stack.ID
			v.StackName = g.stack.Name
			v.OrganizationID = orgID
			v.MeasuredAt = g.measuredAt
			v.CreatedAt = now
			v.Auxiliary = g.aux
			ms = append(ms, v)
		}
	}
	return ms
}
