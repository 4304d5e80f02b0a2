package inmemdb

import (
	"context"
	"strings"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/organization"
)

type organizationRepository struct {
	db *DB
}

var _ organization.Repository = (*organizationRepository)(nil)

func NewOrganizationRepository(db *DB) *organizationRepository {
	return &organizationRepository{db: db}
}

func sameBusinessNumber(a, b string) bool {
	return strings.ReplaceAll(a, "-", "") == strings.ReplaceAll(b, "-", "")
}

func (repo *organizationRepository) CheckBusinessNumberUniqueness(ctx context.Context, businessNumber string, excludedOrgs []organization.Organization, exec ...core.DBExecutor) error {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	ids := make([]string, 0, len(excludedOrgs))
	for _, org := range excludedOrgs {
		ids = append(ids, org.ID)
	}
	for _, org := range repo.db.organizations {
		if sameBusinessNumber(org.BusinessNumber, businessNumber) && !excluded(org.ID, ids) {
			return organization.ErrBusinessNumberExists
		}
	}
	return nil
}

func (repo *organizationRepository) CreateOrganization(ctx context.Context, org organization.Organization, exec ...core.DBExecutor) (organization.Organization, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, o := range repo.db.organizations {
		if o.BusinessNumber == org.BusinessNumber {
			return organization.Organization{}, organization.ErrBusinessNumberExists
		}
	}
	org.ID = newID()
	repo.db.organizations[org.ID] = org
	return org, nil
}

func matchOrganization(org organization.Organization, filter *organization.QueryFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Search != "" && !contains(org.Name, filter.Search) && !contains(org.BusinessNumber, filter.Search) &&
		!contains(org.Email, filter.Search) {
		return false
	}
	if filter.Plan != "" && org.SubscriptionPlan != filter.Plan {
		return false
	}
	if filter.IsActive != nil && org.IsActive != *filter.IsActive {
		return false
	}
	if filter.HasContractManagement != nil && org.HasContractManagement != *filter.HasContractManagement {
		return false
	}
	if filter.IDs != nil && !core.ContainsString(filter.IDs, org.ID) {
		return false
	}
	return true
}

func (repo *organizationRepository) QueryOrganizations(ctx context.Context, filter *organization.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]organization.Organization, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	orgs := make([]organization.Organization, 0, len(repo.db.organizations))
	for _, org := range repo.db.organizations {
		if matchOrganization(org, filter) {
			orgs = append(orgs, org)
		}
	}
	orderBy(orgs, ordering, func(i int, col string) interface{} {
		switch col {
		case "name":
			return orgs[i].Name
		case "business_number":
			return orgs[i].BusinessNumber
		case "subscription_plan":
			return orgs[i].SubscriptionPlan
		}
		return orgs[i].CreatedAt
	})
	return orgs, nil
}

func (repo *organizationRepository) CountOrganizations(ctx context.Context, filter *organization.QueryFilter, exec ...core.DBExecutor) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var n int
	for _, org := range repo.db.organizations {
		if matchOrganization(org, filter) {
			n++
		}
	}
	return n, nil
}

func (repo *organizationRepository) GetOrganization(ctx context.Context, id string, exec ...core.DBExecutor) (organization.Organization, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if org, ok := repo.db.organizations[id]; ok {
		return org, nil
	}
	return organization.Organization{}, organization.ErrNotFound
}

func (repo *organizationRepository) UpdateOrganization(ctx context.Context, org organization.Organization, exec ...core.DBExecutor) (organization.Organization, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.organizations[org.ID]; !ok {
		return organization.Organization{}, organization.ErrNotFound
	}
	repo.db.organizations[org.ID] = org
	return org, nil
}

func (repo *organizationRepository) DeleteOrganization(ctx context.Context, id string, exec ...core.DBExecutor) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.organizations[id]; !ok {
		return 0, nil
	}
	delete(repo.db.organizations, id)
	// cascades
	for uid, usr := range repo.db.users {
		if usr.OrganizationID == id {
			delete(repo.db.users, uid)
		}
	}
	for cid, conn := range repo.db.connections {
		if conn.OrganizationID == id {
			delete(repo.db.connections, cid)
		}
	}
	for cid, ct := range repo.db.contracts {
		if ct.OrganizationID == id {
			delete(repo.db.contracts, cid)
		}
	}
	for cid, c := range repo.db.customers {
		if c.CreatedBy == id {
			c.CreatedBy = ""
			repo.db.customers[cid] = c
		}
	}
	return 1, nil
}
