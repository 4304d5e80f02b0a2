package inmemdb

import (
	"context"
	"strings"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/measurement"
	"github.com/tigrofin/pmms/core/staging"
)

type stagingRepository struct {
	db *DB
}

var _ staging.Repository = (*stagingRepository)(nil)

func NewStagingRepository(db *DB) *stagingRepository {
	return &stagingRepository{db: db}
}

// withNames fills the customer & stack names; the caller holds the lock.
func (repo *stagingRepository) withNames(s staging.Staged) staging.Staged {
	s.CustomerName = repo.db.customers[s.CustomerID].Name
	s.StackName = repo.db.stacks[s.StackID].Name
	s.MeasuredAt = s.MeasuredAt.In(measurement.Location)
	s.Values = append([]staging.Value(nil), s.Values...)
	return s
}

func storedStaged(s staging.Staged) staging.Staged {
	s.CustomerName, s.StackName = "", ""
	s.Values = append([]staging.Value(nil), s.Values...)
	return s
}

func matchStaged(s staging.Staged, filter *staging.QueryFilter) bool {
	if filter == nil {
		return true
	}
	switch {
	case filter.CustomerID != "" && s.CustomerID != filter.CustomerID,
		filter.StackID != "" && s.StackID != filter.StackID,
		filter.CreatedBy != "" && s.CreatedBy != filter.CreatedBy,
		filter.OrganizationID != "" && s.OrganizationID != filter.OrganizationID,
		filter.IDs != nil && !core.ContainsString(filter.IDs, s.ID),
		!filter.From.IsZero() && s.CreatedAt.Before(filter.From),
		!filter.To.IsZero() && s.CreatedAt.After(filter.To),
		!filter.MeasuredFrom.IsZero() && s.MeasuredAt.Before(filter.MeasuredFrom),
		!filter.MeasuredTo.IsZero() && s.MeasuredAt.After(filter.MeasuredTo):
		return false
	}
	return true
}

func (repo *stagingRepository) CreateStaged(ctx context.Context, s staging.Staged, exec ...core.DBExecutor) (staging.Staged, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, other := range repo.db.staged {
		if other.TempID == s.TempID {
			return staging.Staged{}, staging.ErrDuplicate
		}
	}
	s.ID = newID()
	repo.db.staged[s.ID] = storedStaged(s)
	return s, nil
}

func (repo *stagingRepository) QueryStaged(ctx context.Context, filter *staging.QueryFilter, exec ...core.DBExecutor) ([]staging.Staged, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	list := make([]staging.Staged, 0)
	for _, s := range repo.db.staged {
		if matchStaged(s, filter) {
			list = append(list, repo.withNames(s))
		}
	}
	orderBy(list, []core.DBOrdering{{Field: "created_at"}, {Field: "temp_id"}}, func(i int, col string) interface{} {
		if col == "temp_id" {
			return list[i].TempID
		}
		return list[i].CreatedAt
	})
	return list, nil
}

func (repo *stagingRepository) GetStaged(ctx context.Context, id string, exec ...core.DBExecutor) (staging.Staged, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if s, ok := repo.db.staged[id]; ok {
		return repo.withNames(s), nil
	}
	return staging.Staged{}, staging.ErrNotFound
}

func (repo *stagingRepository) UpdateStaged(ctx context.Context, s staging.Staged, exec ...core.DBExecutor) (staging.Staged, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.staged[s.ID]; !ok {
		return staging.Staged{}, staging.ErrNotFound
	}
	repo.db.staged[s.ID] = storedStaged(s)
	return s, nil
}

func (repo *stagingRepository) DeleteStaged(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var n int
	for _, id := range ids {
		if _, ok := repo.db.staged[id]; ok {
			delete(repo.db.staged, id)
			n++
		}
	}
	return n, nil
}

func (repo *stagingRepository) LastTempID(ctx context.Context, prefix string, exec ...core.DBExecutor) (string, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var last string
	for _, s := range repo.db.staged {
		if strings.HasPrefix(s.TempID, prefix) && s.TempID > last {
			last = s.TempID
		}
	}
	return last, nil
}
