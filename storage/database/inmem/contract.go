package inmemdb

import (
	"context"
	"time"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/contract"
)

type contractRepository struct {
	db *DB
}

var _ contract.Repository = (*contractRepository)(nil)

func NewContractRepository(db *DB) *contractRepository {
	return &contractRepository{db: db}
}

// withCustomer fills the customer name; the caller holds the lock.
func (repo *contractRepository) withCustomer(ct contract.Contract) contract.Contract {
	ct.CustomerName = repo.db.customers[ct.CustomerID].Name
	return ct
}

func (repo *contractRepository) CreateContract(ctx context.Context, ct contract.Contract, exec ...core.DBExecutor) (contract.Contract, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	ct.ID = newID()
	ct.CustomerName = ""
	repo.db.contracts[ct.ID] = ct
	return ct, nil
}

func (repo *contractRepository) QueryContracts(ctx context.Context, filter *contract.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]contract.Contract, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if filter == nil {
		filter = new(contract.QueryFilter)
	}
	contracts := make([]contract.Contract, 0)
	for _, ct := range repo.db.contracts {
		switch {
		case filter.OrganizationID != "" && ct.OrganizationID != filter.OrganizationID,
			filter.CustomerID != "" && ct.CustomerID != filter.CustomerID,
			filter.Status != "" && ct.Status != filter.Status,
			len(filter.Statuses) > 0 && !core.ContainsString(filter.Statuses, ct.Status),
			!filter.EndFrom.IsZero() && ct.EndDate.Before(filter.EndFrom),
			!filter.EndTo.IsZero() && ct.EndDate.After(filter.EndTo):
			continue
		}
		contracts = append(contracts, repo.withCustomer(ct))
	}
	orderBy(contracts, ordering, func(i int, col string) interface{} {
		switch col {
		case "end_date":
			return contracts[i].EndDate
		case "start_date":
			return contracts[i].StartDate
		case "status":
			return contracts[i].Status
		}
		return contracts[i].CreatedAt
	})
	return contracts, nil
}

func (repo *contractRepository) GetContract(ctx context.Context, id string, exec ...core.DBExecutor) (contract.Contract, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if ct, ok := repo.db.contracts[id]; ok {
		return repo.withCustomer(ct), nil
	}
	return contract.Contract{}, contract.ErrNotFound
}

func (repo *contractRepository) UpdateContract(ctx context.Context, ct contract.Contract, exec ...core.DBExecutor) (contract.Contract, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.contracts[ct.ID]; !ok {
		return contract.Contract{}, contract.ErrNotFound
	}
	repo.db.contracts[ct.ID] = ct
	return ct, nil
}

func (repo *contractRepository) DeleteContract(ctx context.Context, id string, exec ...core.DBExecutor) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.contracts[id]; !ok {
		return 0, nil
	}
	delete(repo.db.contracts, id)
	return 1, nil
}

func (repo *contractRepository) ExpireContracts(ctx context.Context, before time.Time, exec ...core.DBExecutor) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var n int
	now := time.Now().UTC()
	for id, ct := range repo.db.contracts {
		if ct.Status != contract.StatusExpired && ct.EndDate.Before(before) {
			ct.Status = contract.StatusExpired
			ct.UpdatedAt = now
			repo.db.contracts[id] = ct
			n++
		}
	}
	return n, nil
}
