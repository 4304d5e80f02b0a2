package stack

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
)

// bulk column aliases, English & Korean export headers
var (
	colName         = []string{"name", "굴뚝명", "굴뚝번호"}
	colSiteCode     = []string{"sitecode", "site_code", "사업장굴뚝번호"}
	colCode         = []string{"code", "굴뚝코드"}
	colFullName     = []string{"fullname", "full_name", "굴뚝정식명칭"}
	colFacilityType = []string{"facilitytype", "facility_type", "배출시설"}
	colLocation     = []string{"location", "위치"}
	colHeight       = []string{"height", "높이", "높이(m)"}
	colDiameter     = []string{"diameter", "직경", "직경(m)"}
	colCategory     = []string{"category", "종별"}

	defaultBulkHeader = core.NewCSVHeader([]string{
		"name", "siteCode", "code", "fullName", "facilityType", "location", "height", "diameter", "category",
	})
)

func parseOptFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (svc *service) BulkCreate(ctx context.Context, actor core.Actor, customerID, csvText string) (core.BulkResult, error) {
	var res core.BulkResult
	if actor.IsCustomerUser() {
		customerID = actor.CustomerID
	}
	if err := svc.custSvc.CanAccess(ctx, actor, customerID); err != nil {
		return res, err
	}

	rows, err := core.ParseCSV(strings.NewReader(csvText))
	if err != nil {
		return res, core.NewValidationError(err, core.FieldError{Field: "csvText", Error: err.Error()})
	}
	header := defaultBulkHeader
	if len(rows) > 0 {
		if h := core.NewCSVHeader(rows[0]); h.Index(colName...) >= 0 {
			header = h
			rows = rows[1:]
		}
	}
	if len(rows) == 0 {
		return res, core.NewValidationError(errors.New("no stack rows found"), core.FieldError{Field: "csvText", Error: "no stack rows found"})
	}

	existing, err := svc.repo.QueryStacks(ctx, &QueryFilter{CustomerIDs: []string{customerID}}, nil)
	if err != nil {
		return res, errors.Wrap(err, "querying existing stacks")
	}
	names := make(map[string]struct{}, len(existing))
	siteCodes := make(map[string]struct{}, len(existing))
	for _, st := range existing {
		names[strings.ToLower(st.Name)] = struct{}{}
		if st.SiteCode != "" {
			siteCodes[strings.ToLower(st.SiteCode)] = struct{}{}
		}
	}

	now := time.Now().UTC()
	err = core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		for i, row := range rows {
			ns := NewStack{
				CustomerID:   customerID,
				Name:         header.Get(row, colName...),
				SiteCode:     header.Get(row, colSiteCode...),
				Code:         header.Get(row, colCode...),
				FullName:     header.Get(row, colFullName...),
				FacilityType: header.Get(row, colFacilityType...),
				Location:     header.Get(row, colLocation...),
				Category:     header.Get(row, colCategory...),
			}
			ns.Clean()
			if ns.Name == "" {
				res.AddError(i+1, "name is required")
				continue
			}
			var perr error
			if ns.Height, perr = parseOptFloat(header.Get(row, colHeight...)); perr != nil {
				res.AddError(i+1, "invalid height %q", header.Get(row, colHeight...))
				continue
			}
			if ns.Diameter, perr = parseOptFloat(header.Get(row, colDiameter...)); perr != nil {
				res.AddError(i+1, "invalid diameter %q", header.Get(row, colDiameter...))
				continue
			}

			name, siteCode := strings.ToLower(ns.Name), strings.ToLower(ns.SiteCode)
			if _, ok := names[name]; ok {
				res.Skipped++
				continue
			}
			if _, ok := siteCodes[siteCode]; ok && siteCode != "" {
				res.AddError(i+1, "%s", ErrSiteCodeExists.Error())
				continue
			}

			if _, err := svc.create(ctx, actor, newStack(actor, ns, now), exec); err != nil {
				return errors.Wrapf(err, "row %d", i+1)
			}
			names[name] = struct{}{}
			if siteCode != "" {
				siteCodes[siteCode] = struct{}{}
			}
			res.Count++
		}
		return nil
	})
	if err != nil {
		return core.BulkResult{}, err
	}
	res.Finish("stacks")
	return res, nil
}
