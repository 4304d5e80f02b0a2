package boiledrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/contract"
)

type contractRow struct {
	ID             string    `boil:"id"`
	OrganizationID string    `boil:"organization_id"`
	CustomerID     string    `boil:"customer_id"`
	CustomerName   string    `boil:"customer_name"`
	StartDate      time.Time `boil:"start_date"`
	EndDate        time.Time `boil:"end_date"`
	Status         string    `boil:"status"`
	LastNotifiedAt null.Time `boil:"last_notified_at"`
	Memo           string    `boil:"memo"`
	CreatedAt      time.Time `boil:"created_at"`
	UpdatedAt      time.Time `boil:"updated_at"`
}

var contractColumns = []string{
	"id", "organization_id", "customer_id", "start_date", "end_date", "status", "last_notified_at", "memo",
	"created_at", "updated_at",
}

type contractRepository struct {
	baseRepo
}

var _ contract.Repository = (*contractRepository)(nil)

func NewContractRepository(exec core.DBExecutor) *contractRepository {
	return &contractRepository{baseRepo{exec: exec}}
}

func (repo contractRepository) values(ct contract.Contract) []interface{} {
	return []interface{}{
		ct.ID, ct.OrganizationID, ct.CustomerID, ct.StartDate.UTC(), ct.EndDate.UTC(), ct.Status,
		null.TimeFromPtr(ct.LastNotifiedAt), ct.Memo, ct.CreatedAt.UTC(), ct.UpdatedAt.UTC(),
	}
}

func (repo contractRepository) unboil(row contractRow) contract.Contract {
	return contract.Contract{
		ID:             row.ID,
		OrganizationID: row.OrganizationID,
		CustomerID:     row.CustomerID,
		CustomerName:   row.CustomerName,
		StartDate:      row.StartDate,
		EndDate:        row.EndDate,
		Status:         row.Status,
		LastNotifiedAt: row.LastNotifiedAt.Ptr(),
		Memo:           row.Memo,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

// selectMods joins the customer name onto contract rows.
func (repo contractRepository) selectMods(mods ...qm.QueryMod) []qm.QueryMod {
	return append([]qm.QueryMod{
		qm.Select("ct.*", "cu.name AS customer_name"),
		qm.InnerJoin(tableCustomers + " cu ON cu.id = ct.customer_id"),
	}, mods...)
}

func (repo contractRepository) CreateContract(ctx context.Context, ct contract.Contract, exec ...core.DBExecutor) (contract.Contract, error) {
	ct.ID = uuid.New().String()
	if err := repo.insert(ctx, tableContracts, contractColumns, repo.values(ct), exec); err != nil {
		return contract.Contract{}, errors.Wrap(err, "inserting contract")
	}
	return ct, nil
}

func (repo contractRepository) QueryContracts(ctx context.Context, filter *contract.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]contract.Contract, error) {
	var mods []qm.QueryMod
	if filter != nil {
		if filter.OrganizationID != "" {
			mods = append(mods, whereID("ct.organization_id", filter.OrganizationID))
		}
		if filter.CustomerID != "" {
			mods = append(mods, whereID("ct.customer_id", filter.CustomerID))
		}
		if filter.Status != "" {
			mods = append(mods, qm.Where("ct.status = ?", filter.Status))
		}
		if len(filter.Statuses) > 0 {
			mods = append(mods, whereIn("ct.status", filter.Statuses))
		}
		if !filter.EndFrom.IsZero() {
			mods = append(mods, qm.Where("ct.end_date >= ?", filter.EndFrom.UTC()))
		}
		if !filter.EndTo.IsZero() {
			mods = append(mods, qm.Where("ct.end_date <= ?", filter.EndTo.UTC()))
		}
	}
	if len(ordering) > 0 {
		mods = append(mods, orderBy(ordering, "ct."))
	}

	var rows []contractRow
	if err := newQuery(tableContracts+" ct", repo.selectMods(mods...)...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying contracts")
	}
	contracts := make([]contract.Contract, 0, len(rows))
	for _, row := range rows {
		contracts = append(contracts, repo.unboil(row))
	}
	return contracts, nil
}

func (repo contractRepository) GetContract(ctx context.Context, id string, exec ...core.DBExecutor) (contract.Contract, error) {
	if _, err := uuid.Parse(id); err != nil {
		return contract.Contract{}, contract.ErrNotFound
	}
	var row contractRow
	q := newQuery(tableContracts+" ct", repo.selectMods(qm.Where("ct.id = ?", id))...)
	if err := q.Bind(ctx, repo.getExec(exec), &row); err != nil {
		return contract.Contract{}, trapNoRowsErr(err, contract.ErrNotFound, "finding contract")
	}
	return repo.unboil(row), nil
}

func (repo contractRepository) UpdateContract(ctx context.Context, ct contract.Contract, exec ...core.DBExecutor) (contract.Contract, error) {
	n, err := repo.update(ctx, tableContracts, contractColumns[1:], repo.values(ct)[1:], "id = ?", []interface{}{ct.ID}, exec)
	if err != nil {
		return contract.Contract{}, errors.Wrap(err, "updating contract")
	}
	if n == 0 {
		return contract.Contract{}, contract.ErrNotFound
	}
	return ct, nil
}

func (repo contractRepository) DeleteContract(ctx context.Context, id string, exec ...core.DBExecutor) (int, error) {
	if _, err := uuid.Parse(id); err != nil {
		return 0, nil
	}
	n, err := repo.deleteAll(ctx, tableContracts, []qm.QueryMod{qm.Where("id = ?", id)}, exec)
	return n, errors.Wrap(err, "deleting contract")
}

func (repo contractRepository) ExpireContracts(ctx context.Context, before time.Time, exec ...core.DBExecutor) (int, error) {
	n, err := repo.update(ctx, tableContracts,
		[]string{"status", "updated_at"}, []interface{}{contract.StatusExpired, time.Now().UTC()},
		"status <> ? AND end_date < ?", []interface{}{contract.StatusExpired, before.UTC()}, exec,
	)
	return n, errors.Wrap(err, "expiring contracts")
}
