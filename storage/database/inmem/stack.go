package inmemdb

import (
	"context"
	"sort"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/stack"
)

type stackRepository struct {
	db *DB
}

var _ stack.Repository = (*stackRepository)(nil)

func NewStackRepository(db *DB) *stackRepository {
	return &stackRepository{db: db}
}

// deleteStack removes a stack along with its dependent rows; the caller holds the lock.
func (db *DB) deleteStack(id string) {
	delete(db.stacks, id)
	assignments := db.assignments[:0]
	for _, as := range db.assignments {
		if as.StackID != id {
			assignments = append(assignments, as)
		}
	}
	db.assignments = assignments
	histories := db.histories[:0]
	for _, h := range db.histories {
		if h.StackID != id {
			histories = append(histories, h)
		}
	}
	db.histories = histories
	for mid, m := range db.measurements {
		if m.StackID == id {
			delete(db.measurements, mid)
		}
	}
	for sid, s := range db.staged {
		if s.StackID == id {
			delete(db.staged, sid)
		}
	}
}

func (repo *stackRepository) CheckStackUniqueness(ctx context.Context, customerID, name, siteCode string, excludedStacks []stack.Stack, exec ...core.DBExecutor) error {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	ids := make([]string, 0, len(excludedStacks))
	for _, st := range excludedStacks {
		ids = append(ids, st.ID)
	}
	for _, st := range repo.db.stacks {
		if st.CustomerID != customerID || excluded(st.ID, ids) {
			continue
		}
		if name != "" && st.Name == name {
			return stack.ErrNameExists
		}
		if siteCode != "" && st.SiteCode == siteCode {
			return stack.ErrSiteCodeExists
		}
	}
	return nil
}

func (repo *stackRepository) CreateStack(ctx context.Context, st stack.Stack, exec ...core.DBExecutor) (stack.Stack, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, s := range repo.db.stacks {
		if s.CustomerID == st.CustomerID && s.Name == st.Name {
			return stack.Stack{}, stack.ErrNameExists
		}
	}
	st.ID = newID()
	st.CustomerName = ""
	st.Organizations = nil
	repo.db.stacks[st.ID] = st
	return st, nil
}

func matchStack(st stack.Stack, filter *stack.QueryFilter) bool {
	if filter == nil {
		return true
	}
	switch {
	case filter.CustomerID != "" && st.CustomerID != filter.CustomerID,
		filter.CustomerIDs != nil && !core.ContainsString(filter.CustomerIDs, st.CustomerID),
		len(filter.Names) > 0 && !core.ContainsString(filter.Names, st.Name),
		filter.Status != "" && st.Status != filter.Status,
		filter.IsActive != nil && st.IsActive != *filter.IsActive:
		return false
	}
	if q := filter.Search; q != "" {
		return contains(st.Name, q) || contains(st.FullName, q) || contains(st.SiteCode, q) || contains(st.Code, q)
	}
	return true
}

func (repo *stackRepository) QueryStacks(ctx context.Context, filter *stack.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]stack.Stack, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	stacks := make([]stack.Stack, 0)
	for _, st := range repo.db.stacks {
		if matchStack(st, filter) {
			st.CustomerName = repo.db.customers[st.CustomerID].Name
			stacks = append(stacks, st)
		}
	}
	orderBy(stacks, ordering, func(i int, col string) interface{} {
		switch col {
		case "name":
			return stacks[i].Name
		case "site_code":
			return stacks[i].SiteCode
		case "status":
			return stacks[i].Status
		}
		return stacks[i].CreatedAt
	})
	return stacks, nil
}

func (repo *stackRepository) GetStack(ctx context.Context, id string, exec ...core.DBExecutor) (stack.Stack, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if st, ok := repo.db.stacks[id]; ok {
		st.CustomerName = repo.db.customers[st.CustomerID].Name
		return st, nil
	}
	return stack.Stack{}, stack.ErrNotFound
}

func (repo *stackRepository) UpdateStack(ctx context.Context, st stack.Stack, exec ...core.DBExecutor) (stack.Stack, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.stacks[st.ID]; !ok {
		return stack.Stack{}, stack.ErrNotFound
	}
	for _, s := range repo.db.stacks {
		if s.ID != st.ID && s.CustomerID == st.CustomerID && s.Name == st.Name {
			return stack.Stack{}, stack.ErrNameExists
		}
	}
	stored := st
	stored.Organizations = nil
	repo.db.stacks[st.ID] = stored
	return st, nil
}

func (repo *stackRepository) DeleteStack(ctx context.Context, id string, exec ...core.DBExecutor) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.stacks[id]; !ok {
		return 0, nil
	}
	repo.db.deleteStack(id)
	return 1, nil
}

func (repo *stackRepository) CreateAssignment(ctx context.Context, as stack.Assignment, exec ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for i, a := range repo.db.assignments {
		if a.StackID == as.StackID && a.OrganizationID == as.OrganizationID {
			repo.db.assignments[i].Status = as.Status
			repo.db.assignments[i].IsPrimary = as.IsPrimary
			return nil
		}
	}
	repo.db.assignments = append(repo.db.assignments, as)
	return nil
}

func (repo *stackRepository) QueryAssignments(ctx context.Context, stackIDs []string, exec ...core.DBExecutor) ([]stack.Assignment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	assignments := make([]stack.Assignment, 0)
	for _, as := range repo.db.assignments {
		if core.ContainsString(stackIDs, as.StackID) {
			assignments = append(assignments, as)
		}
	}
	orderBy(assignments, []core.DBOrdering{{Field: "is_primary"}, {Field: "created_at", Ascending: true}},
		func(i int, col string) interface{} {
			if col == "is_primary" {
				return assignments[i].IsPrimary
			}
			return assignments[i].CreatedAt
		},
	)
	return assignments, nil
}

func (repo *stackRepository) CreateHistories(ctx context.Context, hist []stack.History, exec ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, h := range hist {
		h.ID = newID()
		repo.db.histories = append(repo.db.histories, h)
	}
	return nil
}

func (repo *stackRepository) QueryHistory(ctx context.Context, stackID string, exec ...core.DBExecutor) ([]stack.History, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	// histories are appended in time order
	hist := make([]stack.History, 0)
	for i := len(repo.db.histories) - 1; i >= 0; i-- {
		if h := repo.db.histories[i]; h.StackID == stackID {
			hist = append(hist, h)
		}
	}
	return hist, nil
}

func (repo *stackRepository) CountMeasurements(ctx context.Context, stackID string, exec ...core.DBExecutor) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var n int
	for _, m := range repo.db.measurements {
		if m.StackID == stackID {
			n++
		}
	}
	return n, nil
}

// requestOrder sorts pending requests first, then latest first.
func requestOrder(reqs []stack.Request) {
	sort.SliceStable(reqs, func(i, j int) bool {
		pi, pj := reqs[i].Status == stack.RequestPending, reqs[j].Status == stack.RequestPending
		if pi != pj {
			return pi
		}
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
}

func (repo *stackRepository) CreateRequest(ctx context.Context, req stack.Request, exec ...core.DBExecutor) (stack.Request, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	req.ID = newID()
	req.CustomerName = ""
	repo.db.requests[req.ID] = req
	return req, nil
}

func (repo *stackRepository) QueryRequests(ctx context.Context, filter *stack.RequestFilter, exec ...core.DBExecutor) ([]stack.Request, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	reqs := make([]stack.Request, 0)
	for _, req := range repo.db.requests {
		if filter != nil {
			if (filter.CustomerID != "" && req.CustomerID != filter.CustomerID) ||
				(filter.OrganizationID != "" && req.OrganizationID != filter.OrganizationID) ||
				(filter.Status != "" && req.Status != filter.Status) {
				continue
			}
		}
		req.CustomerName = repo.db.customers[req.CustomerID].Name
		reqs = append(reqs, req)
	}
	requestOrder(reqs)
	return reqs, nil
}

func (repo *stackRepository) GetRequest(ctx context.Context, id string, exec ...core.DBExecutor) (stack.Request, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if req, ok := repo.db.requests[id]; ok {
		req.CustomerName = repo.db.customers[req.CustomerID].Name
		return req, nil
	}
	return stack.Request{}, stack.ErrRequestNotFound
}

func (repo *stackRepository) UpdateRequest(ctx context.Context, req stack.Request, exec ...core.DBExecutor) (stack.Request, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.requests[req.ID]; !ok {
		return stack.Request{}, stack.ErrRequestNotFound
	}
	stored := req
	stored.CustomerName = ""
	repo.db.requests[req.ID] = stored
	return req, nil
}
