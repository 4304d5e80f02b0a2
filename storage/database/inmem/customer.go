package inmemdb

import (
	"context"
	"strings"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/customer"
)

type customerRepository struct {
	db *DB
}

var _ customer.Repository = (*customerRepository)(nil)

func NewCustomerRepository(db *DB) *customerRepository {
	return &customerRepository{db: db}
}

func (repo *customerRepository) CreateCustomer(ctx context.Context, c customer.Customer, exec ...core.DBExecutor) (customer.Customer, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	c.ID = newID()
	c.Connection = nil
	repo.db.customers[c.ID] = c
	return c, nil
}

func matchCustomer(c customer.Customer, filter *customer.QueryFilter) bool {
	if filter == nil {
		return true
	}
	if q := filter.Search; q != "" {
		bn := strings.ReplaceAll(c.BusinessNumber, "-", "")
		if !contains(c.Name, q) && !contains(c.FullName, q) && !contains(c.BusinessNumber, q) &&
			!contains(bn, strings.ReplaceAll(q, "-", "")) {
			return false
		}
	}
	if filter.IDs != nil && !core.ContainsString(filter.IDs, c.ID) {
		return false
	}
	if filter.CreatedBy != "" && c.CreatedBy != filter.CreatedBy {
		return false
	}
	if filter.IsPublic != nil && c.IsPublic != *filter.IsPublic {
		return false
	}
	if filter.IsActive != nil && c.IsActive != *filter.IsActive {
		return false
	}
	return true
}

func (repo *customerRepository) QueryCustomers(ctx context.Context, filter *customer.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]customer.Customer, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	customers := make([]customer.Customer, 0, len(repo.db.customers))
	for _, c := range repo.db.customers {
		if matchCustomer(c, filter) {
			customers = append(customers, c)
		}
	}
	orderBy(customers, ordering, func(i int, col string) interface{} {
		switch col {
		case "name":
			return customers[i].Name
		case "code":
			return customers[i].Code
		}
		return customers[i].CreatedAt
	})
	return customers, nil
}

func (repo *customerRepository) CountCustomers(ctx context.Context, filter *customer.QueryFilter, exec ...core.DBExecutor) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var n int
	for _, c := range repo.db.customers {
		if matchCustomer(c, filter) {
			n++
		}
	}
	return n, nil
}

func (repo *customerRepository) GetCustomer(ctx context.Context, id string, exec ...core.DBExecutor) (customer.Customer, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if c, ok := repo.db.customers[id]; ok {
		return c, nil
	}
	return customer.Customer{}, customer.ErrNotFound
}

func (repo *customerRepository) UpdateCustomer(ctx context.Context, c customer.Customer, exec ...core.DBExecutor) (customer.Customer, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.customers[c.ID]; !ok {
		return customer.Customer{}, customer.ErrNotFound
	}
	c.Connection = nil
	repo.db.customers[c.ID] = c
	return c, nil
}

func (repo *customerRepository) DeleteCustomer(ctx context.Context, id string, exec ...core.DBExecutor) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.customers[id]; !ok {
		return 0, nil
	}
	delete(repo.db.customers, id)
	// cascades
	for cid, conn := range repo.db.connections {
		if conn.CustomerID == id {
			delete(repo.db.connections, cid)
		}
	}
	for cid, ct := range repo.db.contracts {
		if ct.CustomerID == id {
			delete(repo.db.contracts, cid)
		}
	}
	for uid, usr := range repo.db.users {
		if usr.CustomerID == id {
			delete(repo.db.users, uid)
		}
	}
	for sid, st := range repo.db.stacks {
		if st.CustomerID == id {
			repo.db.deleteStack(sid)
		}
	}
	for mid, m := range repo.db.measurements {
		if m.CustomerID == id {
			delete(repo.db.measurements, mid)
		}
	}
	for rid, req := range repo.db.requests {
		if req.CustomerID == id {
			delete(repo.db.requests, rid)
		}
	}
	return 1, nil
}

func (repo *customerRepository) CreateConnection(ctx context.Context, conn customer.Connection, exec ...core.DBExecutor) (customer.Connection, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, c := range repo.db.connections {
		if c.CustomerID == conn.CustomerID && c.OrganizationID == conn.OrganizationID {
			return customer.Connection{}, customer.ErrConnectionExists
		}
	}
	conn.ID = newID()
	repo.db.connections[conn.ID] = conn
	return conn, nil
}

func (repo *customerRepository) QueryConnections(ctx context.Context, filter customer.ConnectionFilter, exec ...core.DBExecutor) ([]customer.Connection, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	conns := make([]customer.Connection, 0)
	for _, conn := range repo.db.connections {
		if filter.CustomerID != "" && conn.CustomerID != filter.CustomerID {
			continue
		}
		if filter.OrganizationID != "" && conn.OrganizationID != filter.OrganizationID {
			continue
		}
		if len(filter.Statuses) > 0 && !core.ContainsString(filter.Statuses, conn.Status) {
			continue
		}
		conns = append(conns, conn)
	}
	orderBy(conns, []core.DBOrdering{{Field: "created_at"}}, func(i int, _ string) interface{} {
		return conns[i].CreatedAt
	})
	return conns, nil
}

func (repo *customerRepository) GetConnection(ctx context.Context, id string, exec ...core.DBExecutor) (customer.Connection, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if conn, ok := repo.db.connections[id]; ok {
		return conn, nil
	}
	return customer.Connection{}, customer.ErrConnectionNotFound
}

func (repo *customerRepository) UpdateConnection(ctx context.Context, conn customer.Connection, exec ...core.DBExecutor) (customer.Connection, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.connections[conn.ID]; !ok {
		return customer.Connection{}, customer.ErrConnectionNotFound
	}
	repo.db.connections[conn.ID] = conn
	return conn, nil
}
