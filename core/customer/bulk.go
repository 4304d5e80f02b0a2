package customer

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
)

// bulk column aliases, English & Korean export headers
var (
	colCode           = []string{"code", "고객사코드"}
	colName           = []string{"name", "고객사명(약칭)", "고객사명"}
	colFullName       = []string{"fullname", "full_name", "고객사명(정식)"}
	colBusinessNumber = []string{"businessnumber", "business_number", "사업자등록번호"}
	colAddress        = []string{"address", "주소"}
	colIndustry       = []string{"industry", "업종"}
	colSiteCategory   = []string{"sitecategory", "site_category", "사업장종별"}

	defaultBulkHeader = core.NewCSVHeader([]string{"name", "code", "businessNumber", "address", "industry", "siteCategory"})
)

func (svc *service) BulkCreate(ctx context.Context, actor core.Actor, csvText string) (core.BulkResult, error) {
	var res core.BulkResult
	if !(actor.IsSuperAdmin() || actor.IsOrgUser()) {
		return res, ErrNotAllowed
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
		return res, core.NewValidationError(errors.New("no customer rows found"), core.FieldError{Field: "csvText", Error: "no customer rows found"})
	}

	// existing customers of the same owner
	existingFilter := &QueryFilter{CreatedBy: actor.OrganizationID}
	if actor.IsSuperAdmin() {
		public := true
		existingFilter = &QueryFilter{IsPublic: &public}
	}
	existing, err := svc.repo.QueryCustomers(ctx, existingFilter, nil)
	if err != nil {
		return res, errors.Wrap(err, "querying existing customers")
	}
	codes := make(map[string]struct{}, len(existing))
	names := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		if c.Code != "" {
			codes[strings.ToLower(c.Code)] = struct{}{}
		}
		names[strings.ToLower(c.Name)] = struct{}{}
	}

	now := time.Now().UTC()
	err = core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		for i, row := range rows {
			nc := NewCustomer{
				Code:           header.Get(row, colCode...),
				Name:           header.Get(row, colName...),
				FullName:       header.Get(row, colFullName...),
				BusinessNumber: header.Get(row, colBusinessNumber...),
				Address:        header.Get(row, colAddress...),
				Industry:       header.Get(row, colIndustry...),
				SiteCategory:   header.Get(row, colSiteCategory...),
			}
			nc.Clean()
			if nc.Name == "" {
				res.AddError(i+1, "name is required")
				continue
			}
			code, name := strings.ToLower(nc.Code), strings.ToLower(nc.Name)
			if _, ok := names[name]; ok {
				res.Skipped++
				continue
			}
			if _, ok := codes[code]; ok && code != "" {
				res.Skipped++
				continue
			}

			c := newCustomer(nc, now)
			if actor.IsSuperAdmin() {
				c.IsPublic = true
			} else {
				c.CreatedBy = actor.OrganizationID
			}
			if _, err := svc.repo.CreateCustomer(ctx, c, core.Executors(exec)...); err != nil {
				return errors.Wrapf(err, "creating customer of row %d", i+1)
			}
			names[name] = struct{}{}
			if code != "" {
				codes[code] = struct{}{}
			}
			res.Count++
		}
		return nil
	})
	if err != nil {
		return core.BulkResult{}, err
	}
	res.Finish("customers")
	return res, nil
}
