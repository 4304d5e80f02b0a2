package boiledrepos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/measurement"
	"github.com/tigrofin/pmms/core/staging"
)

type stagedRow struct {
	ID             string      `boil:"id"`
	TempID         string      `boil:"temp_id"`
	CustomerID     string      `boil:"customer_id"`
	CustomerName   string      `boil:"customer_name"`
	StackID        string      `boil:"stack_id"`
	StackName      string      `boil:"stack_name"`
	OrganizationID null.String `boil:"organization_id"`
	MeasuredAt     time.Time   `boil:"measured_at"`
	ItemValues     []byte      `boil:"item_values"`
	Auxiliary      []byte      `boil:"auxiliary"`
	Status         string      `boil:"status"`
	CreatedBy      string      `boil:"created_by"`
	CreatedAt      time.Time   `boil:"created_at"`
	UpdatedAt      time.Time   `boil:"updated_at"`
}

var stagedColumns = []string{
	"id", "temp_id", "customer_id", "stack_id", "organization_id", "measured_at", "item_values", "auxiliary",
	"status", "created_by", "created_at", "updated_at",
}

type stagingRepository struct {
	baseRepo
}

var _ staging.Repository = (*stagingRepository)(nil)

func NewStagingRepository(exec core.DBExecutor) *stagingRepository {
	return &stagingRepository{baseRepo{exec: exec}}
}

// values encodes the values & conditions as json text, lib/pq would send bytes as bytea.
func (repo stagingRepository) values(s staging.Staged) ([]interface{}, error) {
	vals := s.Values
	if vals == nil {
		vals = []staging.Value{}
	}
	itemValues, err := json.Marshal(vals)
	if err != nil {
		return nil, errors.Wrap(err, "encoding staged values")
	}
	aux, err := json.Marshal(s.Auxiliary)
	if err != nil {
		return nil, errors.Wrap(err, "encoding staged conditions")
	}
	return []interface{}{
		s.ID, s.TempID, s.CustomerID, s.StackID, nullID(s.OrganizationID), s.MeasuredAt.UTC(),
		string(itemValues), string(aux), s.Status, s.CreatedBy, s.CreatedAt.UTC(), s.UpdatedAt.UTC(),
	}, nil
}

func (repo stagingRepository) unboil(row stagedRow) (staging.Staged, error) {
	s := staging.Staged{
		ID:             row.ID,
		TempID:         row.TempID,
		CustomerID:     row.CustomerID,
		CustomerName:   row.CustomerName,
		StackID:        row.StackID,
		StackName:      row.StackName,
		OrganizationID: row.OrganizationID.String,
		MeasuredAt:     row.MeasuredAt.In(measurement.Location),
		Status:         row.Status,
		CreatedBy:      row.CreatedBy,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if err := json.Unmarshal(row.ItemValues, &s.Values); err != nil {
		return staging.Staged{}, errors.Wrapf(err, "decoding values of %s", row.TempID)
	}
	if err := json.Unmarshal(row.Auxiliary, &s.Auxiliary); err != nil {
		return staging.Staged{}, errors.Wrapf(err, "decoding conditions of %s", row.TempID)
	}
	return s, nil
}

func (repo stagingRepository) selectMods(mods ...qm.QueryMod) []qm.QueryMod {
	return append([]qm.QueryMod{
		qm.Select("sm.*", "cu.name AS customer_name", "st.name AS stack_name"),
		qm.InnerJoin(tableCustomers + " cu ON cu.id = sm.customer_id"),
		qm.InnerJoin(tableStacks + " st ON st.id = sm.stack_id"),
	}, mods...)
}

func (repo stagingRepository) CreateStaged(ctx context.Context, s staging.Staged, exec ...core.DBExecutor) (staging.Staged, error) {
	s.ID = uuid.New().String()
	vals, err := repo.values(s)
	if err != nil {
		return staging.Staged{}, err
	}
	if err = repo.insert(ctx, tableStaged, stagedColumns, vals, exec); err != nil {
		if isUniqueViolation(err) {
			return staging.Staged{}, staging.ErrDuplicate
		}
		return staging.Staged{}, errors.Wrap(err, "inserting staged measurements")
	}
	return s, nil
}

func (repo stagingRepository) QueryStaged(ctx context.Context, filter *staging.QueryFilter, exec ...core.DBExecutor) ([]staging.Staged, error) {
	var mods []qm.QueryMod
	if filter != nil {
		if filter.CustomerID != "" {
			mods = append(mods, whereID("sm.customer_id", filter.CustomerID))
		}
		if filter.StackID != "" {
			mods = append(mods, whereID("sm.stack_id", filter.StackID))
		}
		if filter.CreatedBy != "" {
			mods = append(mods, whereID("sm.created_by", filter.CreatedBy))
		}
		if filter.OrganizationID != "" {
			mods = append(mods, whereID("sm.organization_id", filter.OrganizationID))
		}
		if filter.IDs != nil {
			mods = append(mods, whereIn("sm.id", validIDs(filter.IDs)))
		}
		if !filter.From.IsZero() {
			mods = append(mods, qm.Where("sm.created_at >= ?", filter.From.UTC()))
		}
		if !filter.To.IsZero() {
			mods = append(mods, qm.Where("sm.created_at <= ?", filter.To.UTC()))
		}
		if !filter.MeasuredFrom.IsZero() {
			mods = append(mods, qm.Where("sm.measured_at >= ?", filter.MeasuredFrom.UTC()))
		}
		if !filter.MeasuredTo.IsZero() {
			mods = append(mods, qm.Where("sm.measured_at <= ?", filter.MeasuredTo.UTC()))
		}
	}
	mods = append(mods, qm.OrderBy("sm.created_at DESC, sm.temp_id DESC"))

	var rows []stagedRow
	if err := newQuery(tableStaged+" sm", repo.selectMods(mods...)...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying staged measurements")
	}
	list := make([]staging.Staged, 0, len(rows))
	for _, row := range rows {
		s, err := repo.unboil(row)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, nil
}

func (repo stagingRepository) GetStaged(ctx context.Context, id string, exec ...core.DBExecutor) (staging.Staged, error) {
	if _, err := uuid.Parse(id); err != nil {
		return staging.Staged{}, staging.ErrNotFound
	}
	var row stagedRow
	q := newQuery(tableStaged+" sm", repo.selectMods(qm.Where("sm.id = ?", id))...)
	if err := q.Bind(ctx, repo.getExec(exec), &row); err != nil {
		return staging.Staged{}, trapNoRowsErr(err, staging.ErrNotFound, "finding staged measurements")
	}
	return repo.unboil(row)
}

func (repo stagingRepository) UpdateStaged(ctx context.Context, s staging.Staged, exec ...core.DBExecutor) (staging.Staged, error) {
	vals, err := repo.values(s)
	if err != nil {
		return staging.Staged{}, err
	}
	n, err := repo.update(ctx, tableStaged, stagedColumns[1:], vals[1:], "id = ?", []interface{}{s.ID}, exec)
	if err != nil {
		return staging.Staged{}, errors.Wrap(err, "updating staged measurements")
	}
	if n == 0 {
		return staging.Staged{}, staging.ErrNotFound
	}
	return s, nil
}

func (repo stagingRepository) DeleteStaged(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	n, err := repo.deleteAll(ctx, tableStaged, []qm.QueryMod{whereIn("id", validIDs(ids))}, exec)
	return n, errors.Wrap(err, "deleting staged measurements")
}

func (repo stagingRepository) LastTempID(ctx context.Context, prefix string, exec ...core.DBExecutor) (string, error) {
	var last null.String
	err := queries.Raw(
		"SELECT max(temp_id) FROM "+tableStaged+" WHERE temp_id LIKE $1",
		prefix+"%",
	).QueryRowContext(ctx, repo.getExec(exec)).Scan(&last)
	if err != nil {
		return "", errors.Wrap(err, "finding last temp id")
	}
	return last.String, nil
}
