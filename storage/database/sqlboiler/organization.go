package boiledrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/organization"
)

type organizationRow struct {
	ID                    string    `boil:"id"`
	Name                  string    `boil:"name"`
	BusinessNumber        string    `boil:"business_number"`
	BusinessType          string    `boil:"business_type"`
	Address               string    `boil:"address"`
	Phone                 string    `boil:"phone"`
	Email                 string    `boil:"email"`
	SubscriptionPlan      string    `boil:"subscription_plan"`
	SubscriptionStatus    string    `boil:"subscription_status"`
	MaxUsers              int       `boil:"max_users"`
	MaxStacks             int       `boil:"max_stacks"`
	HasContractManagement bool      `boil:"has_contract_management"`
	IsActive              bool      `boil:"is_active"`
	CreatedAt             time.Time `boil:"created_at"`
	UpdatedAt             time.Time `boil:"updated_at"`
}

var organizationColumns = []string{
	"id", "name", "business_number", "business_type", "address", "phone", "email", "subscription_plan",
	"subscription_status", "max_users", "max_stacks", "has_contract_management", "is_active", "created_at", "updated_at",
}

type organizationRepository struct {
	baseRepo
}

var _ organization.Repository = (*organizationRepository)(nil)

func NewOrganizationRepository(exec core.DBExecutor) *organizationRepository {
	return &organizationRepository{baseRepo{exec: exec}}
}

func (repo organizationRepository) values(org organization.Organization) []interface{} {
	return []interface{}{
		org.ID, org.Name, org.BusinessNumber, org.BusinessType, org.Address, org.Phone, org.Email,
		org.SubscriptionPlan, org.SubscriptionStatus, org.MaxUsers, org.MaxStacks, org.HasContractManagement,
		org.IsActive, org.CreatedAt.UTC(), org.UpdatedAt.UTC(),
	}
}

func (repo organizationRepository) unboil(row organizationRow) organization.Organization {
	return organization.Organization{
		ID:                    row.ID,
		Name:                  row.Name,
		BusinessNumber:        row.BusinessNumber,
		BusinessType:          row.BusinessType,
		Address:               row.Address,
		Phone:                 row.Phone,
		Email:                 row.Email,
		SubscriptionPlan:      row.SubscriptionPlan,
		SubscriptionStatus:    row.SubscriptionStatus,
		MaxUsers:              row.MaxUsers,
		MaxStacks:             row.MaxStacks,
		HasContractManagement: row.HasContractManagement,
		IsActive:              row.IsActive,
		CreatedAt:             row.CreatedAt,
		UpdatedAt:             row.UpdatedAt,
	}
}

func (repo organizationRepository) CheckBusinessNumberUniqueness(ctx context.Context, businessNumber string, excluded []organization.Organization, exec ...core.DBExecutor) error {
	mods := []qm.QueryMod{qm.Where("replace(business_number, '-', '') = replace(?, '-', '')", businessNumber)}
	if len(excluded) > 0 {
		ids := make([]string, 0, len(excluded))
		for _, org := range excluded {
			ids = append(ids, org.ID)
		}
		mods = append(mods, whereNotIn("id", ids))
	}
	n, err := repo.count(ctx, tableOrganizations, mods, exec)
	if err != nil {
		return errors.Wrap(err, "checking organization uniqueness")
	}
	if n > 0 {
		return organization.ErrBusinessNumberExists
	}
	return nil
}

func (repo organizationRepository) CreateOrganization(ctx context.Context, org organization.Organization, exec ...core.DBExecutor) (organization.Organization, error) {
	org.ID = uuid.New().String()
	if err := repo.insert(ctx, tableOrganizations, organizationColumns, repo.values(org), exec); err != nil {
		if isUniqueViolation(err) {
			return organization.Organization{}, organization.ErrBusinessNumberExists
		}
		return organization.Organization{}, errors.Wrap(err, "inserting organization")
	}
	return org, nil
}

func (repo organizationRepository) filterMods(filter *organization.QueryFilter) []qm.QueryMod {
	var mods []qm.QueryMod
	if filter == nil {
		return mods
	}
	if filter.Search != "" {
		mods = append(mods, search(filter.Search, "name", "business_number", "email"))
	}
	if filter.Plan != "" {
		mods = append(mods, qm.Where("subscription_plan = ?", filter.Plan))
	}
	if filter.IsActive != nil {
		mods = append(mods, qm.Where("is_active = ?", *filter.IsActive))
	}
	if filter.HasContractManagement != nil {
		mods = append(mods, qm.Where("has_contract_management = ?", *filter.HasContractManagement))
	}
	if filter.IDs != nil {
		mods = append(mods, whereIn("id", validIDs(filter.IDs)))
	}
	return mods
}

func (repo organizationRepository) QueryOrganizations(ctx context.Context, filter *organization.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]organization.Organization, error) {
	mods := repo.filterMods(filter)
	if len(ordering) > 0 {
		mods = append(mods, orderBy(ordering, ""))
	}

	var rows []organizationRow
	if err := newQuery(tableOrganizations, mods...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying organizations")
	}
	orgs := make([]organization.Organization, 0, len(rows))
	for _, row := range rows {
		orgs = append(orgs, repo.unboil(row))
	}
	return orgs, nil
}

func (repo organizationRepository) CountOrganizations(ctx context.Context, filter *organization.QueryFilter, exec ...core.DBExecutor) (int, error) {
	n, err := repo.count(ctx, tableOrganizations, repo.filterMods(filter), exec)
	return n, errors.Wrap(err, "counting organizations")
}

func (repo organizationRepository) GetOrganization(ctx context.Context, id string, exec ...core.DBExecutor) (organization.Organization, error) {
	if _, err := uuid.Parse(id); err != nil {
		return organization.Organization{}, organization.ErrNotFound
	}
	var row organizationRow
	if err := newQuery(tableOrganizations, qm.Where("id = ?", id)).Bind(ctx, repo.getExec(exec), &row); err != nil {
		return organization.Organization{}, trapNoRowsErr(err, organization.ErrNotFound, "finding organization")
	}
	return repo.unboil(row), nil
}

func (repo organizationRepository) UpdateOrganization(ctx context.Context, org organization.Organization, exec ...core.DBExecutor) (organization.Organization, error) {
	n, err := repo.update(ctx, tableOrganizations, organizationColumns[1:], repo.values(org)[1:], "id = ?", []interface{}{org.ID}, exec)
	if err != nil {
		if isUniqueViolation(err) {
			return organization.Organization{}, organization.ErrBusinessNumberExists
		}
		return organization.Organization{}, errors.Wrap(err, "updating organization")
	}
	if n == 0 {
		return organization.Organization{}, organization.ErrNotFound
	}
	return org, nil
}

func (repo organizationRepository) DeleteOrganization(ctx context.Context, id string, exec ...core.DBExecutor) (int, error) {
	if _, err := uuid.Parse(id); err != nil {
		return 0, nil
	}
	n, err := repo.deleteAll(ctx, tableOrganizations, []qm.QueryMod{qm.Where("id = ?", id)}, exec)
	return n, errors.Wrap(err, "deleting organization")
}
