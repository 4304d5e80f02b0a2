package inmemdb

import (
	"context"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/measurement"
)

type measurementRepository struct {
	db *DB
}

var (
	_ measurement.Repository = (*measurementRepository)(nil)
	_ measurement.Importer   = (*measurementRepository)(nil)
)

func NewMeasurementRepository(db *DB) *measurementRepository {
	return &measurementRepository{db: db}
}

// conflicts reports whether another row holds the (stack, item, time) of m; the caller holds the lock.
func (repo *measurementRepository) conflicts(m measurement.Measurement) bool {
	for _, other := range repo.db.measurements {
		if other.ID != m.ID && other.StackID == m.StackID && other.ItemKey == m.ItemKey && other.MeasuredAt.Equal(m.MeasuredAt) {
			return true
		}
	}
	return false
}

// withNames fills the customer, stack & item names; the caller holds the lock.
func (repo *measurementRepository) withNames(m measurement.Measurement) measurement.Measurement {
	m.CustomerName = repo.db.customers[m.CustomerID].Name
	m.StackName = repo.db.stacks[m.StackID].Name
	it := repo.db.items[m.ItemKey]
	m.ItemName, m.Unit = it.Name, it.Unit
	m.MeasuredAt = m.MeasuredAt.In(measurement.Location)
	return m
}

// stored strips the derived fields off m.
func stored(m measurement.Measurement) measurement.Measurement {
	m.CustomerName, m.StackName, m.ItemName, m.Unit = "", "", "", ""
	m.Limit, m.Exceeded, m.TextValue = nil, false, ""
	return m
}

func (repo *measurementRepository) match(m measurement.Measurement, filter *measurement.QueryFilter) bool {
	if filter == nil {
		return true
	}
	switch {
	case filter.CustomerIDs != nil && !core.ContainsString(filter.CustomerIDs, m.CustomerID),
		filter.CustomerName != "" && !contains(repo.db.customers[m.CustomerID].Name, filter.CustomerName),
		len(filter.Stacks) > 0 && !core.ContainsString(filter.Stacks, repo.db.stacks[m.StackID].Name),
		filter.OrganizationID != "" && m.OrganizationID != filter.OrganizationID,
		len(filter.ItemKeys) > 0 && !core.ContainsString(filter.ItemKeys, m.ItemKey),
		len(filter.ExcludeItemKeys) > 0 && core.ContainsString(filter.ExcludeItemKeys, m.ItemKey),
		filter.IDs != nil && !core.ContainsString(filter.IDs, m.ID),
		!filter.From.IsZero() && m.MeasuredAt.Before(filter.From),
		!filter.To.IsZero() && m.MeasuredAt.After(filter.To):
		return false
	}
	if filter.AuxiliaryColumn != "" {
		_, ok := m.Auxiliary.Text(filter.AuxiliaryColumn)
		return ok
	}
	return true
}

func (repo *measurementRepository) QueryMeasurements(ctx context.Context, filter *measurement.QueryFilter, exec ...core.DBExecutor) ([]measurement.Measurement, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	ms := make([]measurement.Measurement, 0)
	for _, m := range repo.db.measurements {
		if repo.match(m, filter) {
			ms = append(ms, repo.withNames(m))
		}
	}
	orderBy(ms, []core.DBOrdering{{Field: "measured_at"}, {Field: "created_at"}}, func(i int, col string) interface{} {
		if col == "measured_at" {
			return ms[i].MeasuredAt
		}
		return ms[i].CreatedAt
	})
	return ms, nil
}

func (repo *measurementRepository) GetMeasurement(ctx context.Context, id string, exec ...core.DBExecutor) (measurement.Measurement, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if m, ok := repo.db.measurements[id]; ok {
		return repo.withNames(m), nil
	}
	return measurement.Measurement{}, measurement.ErrNotFound
}

func (repo *measurementRepository) CreateMeasurement(ctx context.Context, m measurement.Measurement, exec ...core.DBExecutor) (measurement.Measurement, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	m.ID = newID()
	if repo.conflicts(m) {
		return measurement.Measurement{}, measurement.ErrDuplicate
	}
	repo.db.measurements[m.ID] = stored(m)
	return m, nil
}

func (repo *measurementRepository) UpdateMeasurement(ctx context.Context, m measurement.Measurement, exec ...core.DBExecutor) (measurement.Measurement, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.measurements[m.ID]; !ok {
		return measurement.Measurement{}, measurement.ErrNotFound
	}
	if repo.conflicts(m) {
		return measurement.Measurement{}, measurement.ErrDuplicate
	}
	repo.db.measurements[m.ID] = stored(m)
	return m, nil
}

func (repo *measurementRepository) DeleteMeasurements(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var n int
	for _, id := range ids {
		if _, ok := repo.db.measurements[id]; ok {
			delete(repo.db.measurements, id)
			n++
		}
	}
	return n, nil
}

func (repo *measurementRepository) ImportMeasurements(ctx context.Context, ms []measurement.Measurement) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var n int
	for _, m := range ms {
		m.ID = newID()
		if repo.conflicts(m) {
			continue
		}
		repo.db.measurements[m.ID] = stored(m)
		n++
	}
	return n, nil
}
