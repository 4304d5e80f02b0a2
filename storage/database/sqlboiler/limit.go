package boiledrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/limit"
)

type limitRow struct {
	ID         string    `boil:"id"`
	ItemKey    string    `boil:"item_key"`
	CustomerID string    `boil:"customer_id"`
	StackID    string    `boil:"stack_id"`
	LimitValue float64   `boil:"limit_value"`
	Region     string    `boil:"region"`
	CreatedBy  string    `boil:"created_by"`
	CreatedAt  time.Time `boil:"created_at"`
	UpdatedAt  time.Time `boil:"updated_at"`
}

type limitRepository struct {
	baseRepo
}

var _ limit.Repository = (*limitRepository)(nil)

func NewLimitRepository(exec core.DBExecutor) *limitRepository {
	return &limitRepository{baseRepo{exec: exec}}
}

func (repo limitRepository) QueryLimits(ctx context.Context, filter limit.QueryFilter, exec ...core.DBExecutor) ([]limit.EmissionLimit, error) {
	mods := []qm.QueryMod{qm.OrderBy("item_key ASC, stack_id DESC, customer_id DESC")}
	if filter.ItemKey != "" {
		mods = append(mods, qm.Where("item_key = ?", filter.ItemKey))
	}
	if filter.CustomerID != "" {
		mods = append(mods, qm.Where("customer_id = ?", filter.CustomerID))
	}
	if filter.StackID != "" {
		mods = append(mods, qm.Where("stack_id = ?", filter.StackID))
	}
	if filter.CustomerIDs != nil {
		if len(filter.CustomerIDs) == 0 {
			mods = append(mods, qm.Where("customer_id = ''"))
		} else {
			mods = append(mods, qm.Expr(qm.Where("customer_id = ''"), qm.OrIn("customer_id IN ?", interfaces(filter.CustomerIDs)...)))
		}
	}
	if filter.ItemKeys != nil {
		mods = append(mods, whereIn("item_key", filter.ItemKeys))
	}

	var rows []limitRow
	if err := newQuery(tableLimits, mods...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying limits")
	}
	limits := make([]limit.EmissionLimit, 0, len(rows))
	for _, row := range rows {
		limits = append(limits, limit.EmissionLimit{
			ID:         row.ID,
			ItemKey:    row.ItemKey,
			CustomerID: row.CustomerID,
			StackID:    row.StackID,
			Limit:      row.LimitValue,
			Region:     row.Region,
			CreatedBy:  row.CreatedBy,
			CreatedAt:  row.CreatedAt,
			UpdatedAt:  row.UpdatedAt,
		})
	}
	return limits, nil
}

func (repo limitRepository) UpsertLimit(ctx context.Context, l limit.EmissionLimit, exec ...core.DBExecutor) (limit.EmissionLimit, error) {
	var row struct {
		ID        string    `boil:"id"`
		CreatedAt time.Time `boil:"created_at"`
	}
	err := queries.Raw(
		"INSERT INTO "+tableLimits+" (id, item_key, customer_id, stack_id, limit_value, region, created_by, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) "+
			"ON CONFLICT (item_key, customer_id, stack_id) DO UPDATE SET "+
			"limit_value = EXCLUDED.limit_value, region = EXCLUDED.region, created_by = EXCLUDED.created_by, updated_at = EXCLUDED.updated_at "+
			"RETURNING id, created_at",
		uuid.New().String(), l.ItemKey, l.CustomerID, l.StackID, l.Limit, l.Region, l.CreatedBy,
		l.CreatedAt.UTC(), l.UpdatedAt.UTC(),
	).Bind(ctx, repo.getExec(exec), &row)
	if err != nil {
		return limit.EmissionLimit{}, errors.Wrap(err, "upserting limit")
	}
	l.ID, l.CreatedAt = row.ID, row.CreatedAt
	return l, nil
}

func (repo limitRepository) DeleteLimits(ctx context.Context, filter limit.DeleteFilter, exec ...core.DBExecutor) (int, error) {
	var mods []qm.QueryMod
	if filter.ID != "" {
		if _, err := uuid.Parse(filter.ID); err != nil {
			return 0, nil
		}
		mods = append(mods, qm.Where("id = ?", filter.ID))
	} else {
		mods = append(mods,
			qm.Where("item_key = ?", filter.ItemKey),
			qm.Where("customer_id = ?", filter.CustomerID),
			qm.Where("stack_id = ?", filter.StackID),
		)
	}
	n, err := repo.deleteAll(ctx, tableLimits, mods, exec)
	return n, errors.Wrap(err, "deleting limits")
}
