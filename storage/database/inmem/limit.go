package inmemdb

import (
	"context"
	"sort"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/limit"
)

type limitRepository struct {
	db *DB
}

var _ limit.Repository = (*limitRepository)(nil)

func NewLimitRepository(db *DB) *limitRepository {
	return &limitRepository{db: db}
}

func (repo *limitRepository) QueryLimits(ctx context.Context, filter limit.QueryFilter, exec ...core.DBExecutor) ([]limit.EmissionLimit, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	limits := make([]limit.EmissionLimit, 0)
	for _, l := range repo.db.limits {
		switch {
		case filter.ItemKey != "" && l.ItemKey != filter.ItemKey,
			filter.CustomerID != "" && l.CustomerID != filter.CustomerID,
			filter.StackID != "" && l.StackID != filter.StackID,
			filter.CustomerIDs != nil && l.CustomerID != "" && !core.ContainsString(filter.CustomerIDs, l.CustomerID),
			filter.ItemKeys != nil && !core.ContainsString(filter.ItemKeys, l.ItemKey):
			continue
		}
		limits = append(limits, l)
	}
	sort.Slice(limits, func(i, j int) bool {
		a, b := limits[i], limits[j]
		if a.ItemKey != b.ItemKey {
			return a.ItemKey < b.ItemKey
		}
		if a.StackID != b.StackID {
			return a.StackID > b.StackID
		}
		return a.CustomerID > b.CustomerID
	})
	return limits, nil
}

func (repo *limitRepository) UpsertLimit(ctx context.Context, l limit.EmissionLimit, exec ...core.DBExecutor) (limit.EmissionLimit, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for id, old := range repo.db.limits {
		if old.ItemKey == l.ItemKey && old.CustomerID == l.CustomerID && old.StackID == l.StackID {
			l.ID, l.CreatedAt = id, old.CreatedAt
			repo.db.limits[id] = l
			return l, nil
		}
	}
	l.ID = newID()
	repo.db.limits[l.ID] = l
	return l, nil
}

func (repo *limitRepository) DeleteLimits(ctx context.Context, filter limit.DeleteFilter, exec ...core.DBExecutor) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var n int
	for id, l := range repo.db.limits {
		var match bool
		if filter.ID != "" {
			match = id == filter.ID
		} else {
			match = l.ItemKey == filter.ItemKey && l.CustomerID == filter.CustomerID && l.StackID == filter.StackID
		}
		if match {
			delete(repo.db.limits, id)
			n++
		}
	}
	return n, nil
}
