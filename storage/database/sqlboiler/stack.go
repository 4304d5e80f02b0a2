package boiledrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/stack"
)

type stackRow struct {
	ID             string       `boil:"id"`
	CustomerID     string       `boil:"customer_id"`
	CustomerName   string       `boil:"customer_name"`
	Name           string       `boil:"name"`
	SiteCode       string       `boil:"site_code"`
	Code           string       `boil:"code"`
	FullName       string       `boil:"full_name"`
	FacilityType   string       `boil:"facility_type"`
	Location       string       `boil:"location"`
	Height         null.Float64 `boil:"height"`
	Diameter       null.Float64 `boil:"diameter"`
	Category       string       `boil:"category"`
	Status         string       `boil:"status"`
	IsVerified     bool         `boil:"is_verified"`
	IsActive       bool         `boil:"is_active"`
	DraftCreatedBy null.String  `boil:"draft_created_by"`
	CreatedBy      null.String  `boil:"created_by"`
	CreatedAt      time.Time    `boil:"created_at"`
	UpdatedAt      time.Time    `boil:"updated_at"`
}

var stackColumns = []string{
	"id", "customer_id", "name", "site_code", "code", "full_name", "facility_type", "location", "height",
	"diameter", "category", "status", "is_verified", "is_active", "draft_created_by", "created_by",
	"created_at", "updated_at",
}

type assignmentRow struct {
	StackID        string    `boil:"stack_id"`
	OrganizationID string    `boil:"organization_id"`
	Status         string    `boil:"status"`
	IsPrimary      bool      `boil:"is_primary"`
	CreatedAt      time.Time `boil:"created_at"`
}

type historyRow struct {
	ID        string      `boil:"id"`
	StackID   string      `boil:"stack_id"`
	Field     string      `boil:"field"`
	OldValue  string      `boil:"old_value"`
	NewValue  string      `boil:"new_value"`
	ChangedBy null.String `boil:"changed_by"`
	ChangedAt time.Time   `boil:"changed_at"`
}

var historyColumns = []string{"id", "stack_id", "field", "old_value", "new_value", "changed_by", "changed_at"}

type stackRepository struct {
	baseRepo
}

var _ stack.Repository = (*stackRepository)(nil)

func NewStackRepository(exec core.DBExecutor) *stackRepository {
	return &stackRepository{baseRepo{exec: exec}}
}

func (repo stackRepository) values(st stack.Stack) []interface{} {
	return []interface{}{
		st.ID, st.CustomerID, st.Name, st.SiteCode, st.Code, st.FullName, st.FacilityType, st.Location,
		null.Float64FromPtr(st.Height), null.Float64FromPtr(st.Diameter), st.Category, st.Status,
		st.IsVerified, st.IsActive, nullID(st.DraftCreatedBy), nullID(st.CreatedBy),
		st.CreatedAt.UTC(), st.UpdatedAt.UTC(),
	}
}

func (repo stackRepository) unboil(row stackRow) stack.Stack {
	return stack.Stack{
		ID:             row.ID,
		CustomerID:     row.CustomerID,
		CustomerName:   row.CustomerName,
		Name:           row.Name,
		SiteCode:       row.SiteCode,
		Code:           row.Code,
		FullName:       row.FullName,
		FacilityType:   row.FacilityType,
		Location:       row.Location,
		Height:         row.Height.Ptr(),
		Diameter:       row.Diameter.Ptr(),
		Category:       row.Category,
		Status:         row.Status,
		IsVerified:     row.IsVerified,
		IsActive:       row.IsActive,
		DraftCreatedBy: row.DraftCreatedBy.String,
		CreatedBy:      row.CreatedBy.String,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

func (repo stackRepository) selectMods(mods ...qm.QueryMod) []qm.QueryMod {
	return append([]qm.QueryMod{
		qm.Select("st.*", "cu.name AS customer_name"),
		qm.InnerJoin(tableCustomers + " cu ON cu.id = st.customer_id"),
	}, mods...)
}

func (repo stackRepository) CheckStackUniqueness(ctx context.Context, customerID, name, siteCode string, excluded []stack.Stack, exec ...core.DBExecutor) error {
	base := []qm.QueryMod{whereID("customer_id", customerID)}
	if len(excluded) > 0 {
		ids := make([]string, 0, len(excluded))
		for _, st := range excluded {
			ids = append(ids, st.ID)
		}
		base = append(base, whereNotIn("id", ids))
	}

	if name != "" {
		n, err := repo.count(ctx, tableStacks, append(base, qm.Where("name = ?", name)), exec)
		if err != nil {
			return errors.Wrap(err, "checking stack name")
		}
		if n > 0 {
			return stack.ErrNameExists
		}
	}
	if siteCode != "" {
		n, err := repo.count(ctx, tableStacks, append(base, qm.Where("site_code = ?", siteCode)), exec)
		if err != nil {
			return errors.Wrap(err, "checking stack site code")
		}
		if n > 0 {
			return stack.ErrSiteCodeExists
		}
	}
	return nil
}

func (repo stackRepository) CreateStack(ctx context.Context, st stack.Stack, exec ...core.DBExecutor) (stack.Stack, error) {
	st.ID = uuid.New().String()
	if err := repo.insert(ctx, tableStacks, stackColumns, repo.values(st), exec); err != nil {
		if isUniqueViolation(err) {
			return stack.Stack{}, stack.ErrNameExists
		}
		return stack.Stack{}, errors.Wrap(err, "inserting stack")
	}
	return st, nil
}

func (repo stackRepository) QueryStacks(ctx context.Context, filter *stack.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]stack.Stack, error) {
	var mods []qm.QueryMod
	if filter != nil {
		if filter.CustomerID != "" {
			mods = append(mods, whereID("st.customer_id", filter.CustomerID))
		}
		if filter.CustomerIDs != nil {
			mods = append(mods, whereIn("st.customer_id", validIDs(filter.CustomerIDs)))
		}
		if len(filter.Names) > 0 {
			mods = append(mods, whereIn("st.name", filter.Names))
		}
		if filter.Search != "" {
			mods = append(mods, search(filter.Search, "st.name", "st.full_name", "st.site_code", "st.code"))
		}
		if filter.Status != "" {
			mods = append(mods, qm.Where("st.status = ?", filter.Status))
		}
		if filter.IsActive != nil {
			mods = append(mods, qm.Where("st.is_active = ?", *filter.IsActive))
		}
	}
	if len(ordering) > 0 {
		mods = append(mods, orderBy(ordering, "st."))
	}

	var rows []stackRow
	if err := newQuery(tableStacks+" st", repo.selectMods(mods...)...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying stacks")
	}
	stacks := make([]stack.Stack, 0, len(rows))
	for _, row := range rows {
		stacks = append(stacks, repo.unboil(row))
	}
	return stacks, nil
}

func (repo stackRepository) GetStack(ctx context.Context, id string, exec ...core.DBExecutor) (stack.Stack, error) {
	if _, err := uuid.Parse(id); err != nil {
		return stack.Stack{}, stack.ErrNotFound
	}
	var row stackRow
	q := newQuery(tableStacks+" st", repo.selectMods(qm.Where("st.id = ?", id))...)
	if err := q.Bind(ctx, repo.getExec(exec), &row); err != nil {
		return stack.Stack{}, trapNoRowsErr(err, stack.ErrNotFound, "finding stack")
	}
	return repo.unboil(row), nil
}

func (repo stackRepository) UpdateStack(ctx context.Context, st stack.Stack, exec ...core.DBExecutor) (stack.Stack, error) {
	n, err := repo.update(ctx, tableStacks, stackColumns[1:], repo.values(st)[1:], "id = ?", []interface{}{st.ID}, exec)
	if err != nil {
		if isUniqueViolation(err) {
			return stack.Stack{}, stack.ErrNameExists
		}
		return stack.Stack{}, errors.Wrap(err, "updating stack")
	}
	if n == 0 {
		return stack.Stack{}, stack.ErrNotFound
	}
	return st, nil
}

func (repo stackRepository) DeleteStack(ctx context.Context, id string, exec ...core.DBExecutor) (int, error) {
	if _, err := uuid.Parse(id); err != nil {
		return 0, nil
	}
	n, err := repo.deleteAll(ctx, tableStacks, []qm.QueryMod{qm.Where("id = ?", id)}, exec)
	return n, errors.Wrap(err, "deleting stack")
}

func (repo stackRepository) CreateAssignment(ctx context.Context, as stack.Assignment, exec ...core.DBExecutor) error {
	_, err := queries.Raw(
		"INSERT INTO "+tableAssignments+" (stack_id, organization_id, status, is_primary, created_at) VALUES ($1, $2, $3, $4, $5) "+
			"ON CONFLICT (stack_id, organization_id) DO UPDATE SET status = EXCLUDED.status, is_primary = EXCLUDED.is_primary",
		as.StackID, as.OrganizationID, as.Status, as.IsPrimary, as.CreatedAt.UTC(),
	).ExecContext(ctx, repo.getExec(exec))
	return errors.Wrap(err, "inserting stack assignment")
}

func (repo stackRepository) QueryAssignments(ctx context.Context, stackIDs []string, exec ...core.DBExecutor) ([]stack.Assignment, error) {
	var rows []assignmentRow
	q := newQuery(tableAssignments, whereIn("stack_id", stackIDs), qm.OrderBy("is_primary DESC, created_at"))
	if err := q.Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying stack assignments")
	}
	assignments := make([]stack.Assignment, 0, len(rows))
	for _, row := range rows {
		assignments = append(assignments, stack.Assignment{
			StackID:        row.StackID,
			OrganizationID: row.OrganizationID,
			Status:         row.Status,
			IsPrimary:      row.IsPrimary,
			CreatedAt:      row.CreatedAt,
		})
	}
	return assignments, nil
}

func (repo stackRepository) CreateHistories(ctx context.Context, hist []stack.History, exec ...core.DBExecutor) error {
	for _, h := range hist {
		vals := []interface{}{
			uuid.New().String(), h.StackID, h.Field, h.OldValue, h.NewValue, nullID(h.ChangedBy), h.ChangedAt.UTC(),
		}
		if err := repo.insert(ctx, tableStackHistories, historyColumns, vals, exec); err != nil {
			return errors.Wrap(err, "inserting stack history")
		}
	}
	return nil
}

func (repo stackRepository) QueryHistory(ctx context.Context, stackID string, exec ...core.DBExecutor) ([]stack.History, error) {
	if _, err := uuid.Parse(stackID); err != nil {
		return nil, nil
	}
	var rows []historyRow
	q := newQuery(tableStackHistories, qm.Where("stack_id = ?", stackID), qm.OrderBy("changed_at DESC"))
	if err := q.Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying stack history")
	}
	hist := make([]stack.History, 0, len(rows))
	for _, row := range rows {
		hist = append(hist, stack.History{
			ID:        row.ID,
			StackID:   row.StackID,
			Field:     row.Field,
			OldValue:  row.OldValue,
			NewValue:  row.NewValue,
			ChangedBy: row.ChangedBy.String,
			ChangedAt: row.ChangedAt,
		})
	}
	return hist, nil
}

func (repo stackRepository) CountMeasurements(ctx context.Context, stackID string, exec ...core.DBExecutor) (int, error) {
	n, err := repo.count(ctx, tableMeasurements, []qm.QueryMod{whereID("stack_id", stackID)}, exec)
	return n, errors.Wrap(err, "counting stack measurements")
}

type requestRow struct {
	ID              string       `boil:"id"`
	CustomerID      string       `boil:"customer_id"`
	CustomerName    string       `boil:"customer_name"`
	OrganizationID  string       `boil:"organization_id"`
	RequestType     string       `boil:"request_type"`
	StackName       string       `boil:"stack_name"`
	StackCode       string       `boil:"stack_code"`
	Location        string       `boil:"location"`
	Height          null.Float64 `boil:"height"`
	Diameter        null.Float64 `boil:"diameter"`
	Description     string       `boil:"description"`
	Status          string       `boil:"status"`
	RequestedBy     string       `boil:"requested_by"`
	ReviewedBy      null.String  `boil:"reviewed_by"`
	ReviewedAt      null.Time    `boil:"reviewed_at"`
	RejectionReason string       `boil:"rejection_reason"`
	StackID         null.String  `boil:"stack_id"`
	CreatedAt       time.Time    `boil:"created_at"`
	UpdatedAt       time.Time    `boil:"updated_at"`
}

var requestColumns = []string{
	"id", "customer_id", "organization_id", "request_type", "stack_name", "stack_code", "location", "height",
	"diameter", "description", "status", "requested_by", "reviewed_by", "reviewed_at", "rejection_reason",
	"stack_id", "created_at", "updated_at",
}

func (repo stackRepository) requestValues(req stack.Request) []interface{} {
	return []interface{}{
		req.ID, req.CustomerID, req.OrganizationID, req.RequestType, req.StackName, req.StackCode, req.Location,
		null.Float64FromPtr(req.Height), null.Float64FromPtr(req.Diameter), req.Description, req.Status,
		req.RequestedBy, nullID(req.ReviewedBy), null.TimeFromPtr(req.ReviewedAt), req.RejectionReason,
		nullID(req.StackID), req.CreatedAt.UTC(), req.UpdatedAt.UTC(),
	}
}

func (repo stackRepository) unboilRequest(row requestRow) stack.Request {
	return stack.Request{
		ID:              row.ID,
		CustomerID:      row.CustomerID,
		CustomerName:    row.CustomerName,
		OrganizationID:  row.OrganizationID,
		RequestType:     row.RequestType,
		StackName:       row.StackName,
		StackCode:       row.StackCode,
		Location:        row.Location,
		Height:          row.Height.Ptr(),
		Diameter:        row.Diameter.Ptr(),
		Description:     row.Description,
		Status:          row.Status,
		RequestedBy:     row.RequestedBy,
		ReviewedBy:      row.ReviewedBy.String,
		ReviewedAt:      row.ReviewedAt.Ptr(),
		RejectionReason: row.RejectionReason,
		StackID:         row.StackID.String,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

func (repo stackRepository) requestMods(mods ...qm.QueryMod) []qm.QueryMod {
	return append([]qm.QueryMod{
		qm.Select("sr.*", "cu.name AS customer_name"),
		qm.InnerJoin(tableCustomers + " cu ON cu.id = sr.customer_id"),
	}, mods...)
}

func (repo stackRepository) CreateRequest(ctx context.Context, req stack.Request, exec ...core.DBExecutor) (stack.Request, error) {
	req.ID = uuid.New().String()
	if err := repo.insert(ctx, tableStackRequests, requestColumns, repo.requestValues(req), exec); err != nil {
		return stack.Request{}, errors.Wrap(err, "inserting stack request")
	}
	req.CustomerName = ""
	return req, nil
}

func (repo stackRepository) QueryRequests(ctx context.Context, filter *stack.RequestFilter, exec ...core.DBExecutor) ([]stack.Request, error) {
	var mods []qm.QueryMod
	if filter != nil {
		if filter.CustomerID != "" {
			mods = append(mods, whereID("sr.customer_id", filter.CustomerID))
		}
		if filter.OrganizationID != "" {
			mods = append(mods, whereID("sr.organization_id", filter.OrganizationID))
		}
		if filter.Status != "" {
			mods = append(mods, qm.Where("sr.status = ?", filter.Status))
		}
	}
	mods = append(mods, qm.OrderBy("CASE WHEN sr.status = '"+stack.RequestPending+"' THEN 0 ELSE 1 END, sr.created_at DESC"))

	var rows []requestRow
	if err := newQuery(tableStackRequests+" sr", repo.requestMods(mods...)...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying stack requests")
	}
	reqs := make([]stack.Request, 0, len(rows))
	for _, row := range rows {
		reqs = append(reqs, repo.unboilRequest(row))
	}
	return reqs, nil
}

func (repo stackRepository) GetRequest(ctx context.Context, id string, exec ...core.DBExecutor) (stack.Request, error) {
	if _, err := uuid.Parse(id); err != nil {
		return stack.Request{}, stack.ErrRequestNotFound
	}
	var row requestRow
	q := newQuery(tableStackRequests+" sr", repo.requestMods(qm.Where("sr.id = ?", id))...)
	if err := q.Bind(ctx, repo.getExec(exec), &row); err != nil {
		return stack.Request{}, trapNoRowsErr(err, stack.ErrRequestNotFound, "finding stack request")
	}
	return repo.unboilRequest(row), nil
}

func (repo stackRepository) UpdateRequest(ctx context.Context, req stack.Request, exec ...core.DBExecutor) (stack.Request, error) {
	n, err := repo.update(ctx, tableStackRequests, requestColumns[1:], repo.requestValues(req)[1:], "id = ?", []interface{}{req.ID}, exec)
	if err != nil {
		return stack.Request{}, errors.Wrap(err, "updating stack request")
	}
	if n == 0 {
		return stack.Request{}, stack.ErrRequestNotFound
	}
	return req, nil
}
