package boiledrepos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/customer"
)

type customerRow struct {
	ID             string      `boil:"id"`
	Name           string      `boil:"name"`
	Code           string      `boil:"code"`
	BusinessNumber string      `boil:"business_number"`
	FullName       string      `boil:"full_name"`
	Address        string      `boil:"address"`
	Industry       string      `boil:"industry"`
	SiteCategory   string      `boil:"site_category"`
	CreatedBy      null.String `boil:"created_by"`
	IsPublic       bool        `boil:"is_public"`
	IsActive       bool        `boil:"is_active"`
	CreatedAt      time.Time   `boil:"created_at"`
	UpdatedAt      time.Time   `boil:"updated_at"`
}

var customerColumns = []string{
	"id", "name", "code", "business_number", "full_name", "address", "industry", "site_category",
	"created_by", "is_public", "is_active", "created_at", "updated_at",
}

type connectionRow struct {
	ID             string    `boil:"id"`
	CustomerID     string    `boil:"customer_id"`
	OrganizationID string    `boil:"organization_id"`
	Status         string    `boil:"status"`
	RequestedBy    string    `boil:"requested_by"`
	CustomCode     string    `boil:"custom_code"`
	ContractStart  null.Time `boil:"contract_start"`
	ContractEnd    null.Time `boil:"contract_end"`
	CreatedAt      time.Time `boil:"created_at"`
	UpdatedAt      time.Time `boil:"updated_at"`
}

var connectionColumns = []string{
	"id", "customer_id", "organization_id", "status", "requested_by", "custom_code",
	"contract_start", "contract_end", "created_at", "updated_at",
}

type customerRepository struct {
	baseRepo
}

var _ customer.Repository = (*customerRepository)(nil)

func NewCustomerRepository(exec core.DBExecutor) *customerRepository {
	return &customerRepository{baseRepo{exec: exec}}
}

func (repo customerRepository) values(c customer.Customer) []interface{} {
	return []interface{}{
		c.ID, c.Name, c.Code, c.BusinessNumber, c.FullName, c.Address, c.Industry, c.SiteCategory,
		nullID(c.CreatedBy), c.IsPublic, c.IsActive, c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	}
}

func (repo customerRepository) unboil(row customerRow) customer.Customer {
	return customer.Customer{
		ID:             row.ID,
		Name:           row.Name,
		Code:           row.Code,
		BusinessNumber: row.BusinessNumber,
		FullName:       row.FullName,
		Address:        row.Address,
		Industry:       row.Industry,
		SiteCategory:   row.SiteCategory,
		CreatedBy:      row.CreatedBy.String,
		IsPublic:       row.IsPublic,
		IsActive:       row.IsActive,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

func (repo customerRepository) CreateCustomer(ctx context.Context, c customer.Customer, exec ...core.DBExecutor) (customer.Customer, error) {
	c.ID = uuid.New().String()
	if err := repo.insert(ctx, tableCustomers, customerColumns, repo.values(c), exec); err != nil {
		return customer.Customer{}, errors.Wrap(err, "inserting customer")
	}
	return c, nil
}

func (repo customerRepository) filterMods(filter *customer.QueryFilter) []qm.QueryMod {
	var mods []qm.QueryMod
	if filter == nil {
		return mods
	}
	if filter.Search != "" {
		bn := "%" + strings.ReplaceAll(filter.Search, "-", "") + "%"
		mods = append(mods, qm.Expr(
			search(filter.Search, "name", "full_name", "business_number"),
			qm.Or("replace(business_number, '-', '') ILIKE ?", bn),
		))
	}
	if filter.IDs != nil {
		mods = append(mods, whereIn("id", validIDs(filter.IDs)))
	}
	if filter.CreatedBy != "" {
		mods = append(mods, whereID("created_by", filter.CreatedBy))
	}
	if filter.IsPublic != nil {
		mods = append(mods, qm.Where("is_public = ?", *filter.IsPublic))
	}
	if filter.IsActive != nil {
		mods = append(mods, qm.Where("is_active = ?", *filter.IsActive))
	}
	return mods
}

func (repo customerRepository) QueryCustomers(ctx context.Context, filter *customer.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]customer.Customer, error) {
	mods := repo.filterMods(filter)
	if len(ordering) > 0 {
		mods = append(mods, orderBy(ordering, ""))
	}

	var rows []customerRow
	if err := newQuery(tableCustomers, mods...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying customers")
	}
	customers := make([]customer.Customer, 0, len(rows))
	for _, row := range rows {
		customers = append(customers, repo.unboil(row))
	}
	return customers, nil
}

func (repo customerRepository) CountCustomers(ctx context.Context, filter *customer.QueryFilter, exec ...core.DBExecutor) (int, error) {
	n, err := repo.count(ctx, tableCustomers, repo.filterMods(filter), exec)
	return n, errors.Wrap(err, "counting customers")
}

func (repo customerRepository) GetCustomer(ctx context.Context, id string, exec ...core.DBExecutor) (customer.Customer, error) {
	if _, err := uuid.Parse(id); err != nil {
		return customer.Customer{}, customer.ErrNotFound
	}
	var row customerRow
	if err := newQuery(tableCustomers, qm.Where("id = ?", id)).Bind(ctx, repo.getExec(exec), &row); err != nil {
		return customer.Customer{}, trapNoRowsErr(err, customer.ErrNotFound, "finding customer")
	}
	return repo.unboil(row), nil
}

func (repo customerRepository) UpdateCustomer(ctx context.Context, c customer.Customer, exec ...core.DBExecutor) (customer.Customer, error) {
	n, err := repo.update(ctx, tableCustomers, customerColumns[1:], repo.values(c)[1:], "id = ?", []interface{}{c.ID}, exec)
	if err != nil {
		return customer.Customer{}, errors.Wrap(err, "updating customer")
	}
	if n == 0 {
		return customer.Customer{}, customer.ErrNotFound
	}
	return c, nil
}

func (repo customerRepository) DeleteCustomer(ctx context.Context, id string, exec ...core.DBExecutor) (int, error) {
	if _, err := uuid.Parse(id); err != nil {
		return 0, nil
	}
	n, err := repo.deleteAll(ctx, tableCustomers, []qm.QueryMod{qm.Where("id = ?", id)}, exec)
	return n, errors.Wrap(err, "deleting customer")
}

func (repo customerRepository) connValues(conn customer.Connection) []interface{} {
	return []interface{}{
		conn.ID, conn.CustomerID, conn.OrganizationID, conn.Status, conn.RequestedBy, conn.CustomCode,
		null.TimeFromPtr(conn.ContractStart), null.TimeFromPtr(conn.ContractEnd),
		conn.CreatedAt.UTC(), conn.UpdatedAt.UTC(),
	}
}

func (repo customerRepository) unboilConn(row connectionRow) customer.Connection {
	return customer.Connection{
		ID:             row.ID,
		CustomerID:     row.CustomerID,
		OrganizationID: row.OrganizationID,
		Status:         row.Status,
		RequestedBy:    row.RequestedBy,
		CustomCode:     row.CustomCode,
		ContractStart:  row.ContractStart.Ptr(),
		ContractEnd:    row.ContractEnd.Ptr(),
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

func (repo customerRepository) CreateConnection(ctx context.Context, conn customer.Connection, exec ...core.DBExecutor) (customer.Connection, error) {
	conn.ID = uuid.New().String()
	if err := repo.insert(ctx, tableConnections, connectionColumns, repo.connValues(conn), exec); err != nil {
		if isUniqueViolation(err) {
			return customer.Connection{}, customer.ErrConnectionExists
		}
		return customer.Connection{}, errors.Wrap(err, "inserting connection")
	}
	return conn, nil
}

func (repo customerRepository) QueryConnections(ctx context.Context, filter customer.ConnectionFilter, exec ...core.DBExecutor) ([]customer.Connection, error) {
	mods := []qm.QueryMod{qm.OrderBy("created_at DESC")}
	if filter.CustomerID != "" {
		mods = append(mods, whereID("customer_id", filter.CustomerID))
	}
	if filter.OrganizationID != "" {
		mods = append(mods, whereID("organization_id", filter.OrganizationID))
	}
	if len(filter.Statuses) > 0 {
		mods = append(mods, whereIn("status", filter.Statuses))
	}

	var rows []connectionRow
	if err := newQuery(tableConnections, mods...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying connections")
	}
	conns := make([]customer.Connection, 0, len(rows))
	for _, row := range rows {
		conns = append(conns, repo.unboilConn(row))
	}
	return conns, nil
}

func (repo customerRepository) GetConnection(ctx context.Context, id string, exec ...core.DBExecutor) (customer.Connection, error) {
	if _, err := uuid.Parse(id); err != nil {
		return customer.Connection{}, customer.ErrConnectionNotFound
	}
	var row connectionRow
	if err := newQuery(tableConnections, qm.Where("id = ?", id)).Bind(ctx, repo.getExec(exec), &row); err != nil {
		return customer.Connection{}, trapNoRowsErr(err, customer.ErrConnectionNotFound, "finding connection")
	}
	return repo.unboilConn(row), nil
}

func (repo customerRepository) UpdateConnection(ctx context.Context, conn customer.Connection, exec ...core.DBExecutor) (customer.Connection, error) {
	n, err := repo.update(ctx, tableConnections, connectionColumns[1:], repo.connValues(conn)[1:], "id = ?", []interface{}{conn.ID}, exec)
	if err != nil {
		return customer.Connection{}, errors.Wrap(err, "updating connection")
	}
	if n == 0 {
		return customer.Connection{}, customer.ErrConnectionNotFound
	}
	return conn, nil
}
