package inmemdb

import (
	"context"
	"sort"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/item"
)

type itemRepository struct {
	db *DB
}

var _ item.Repository = (*itemRepository)(nil)

func NewItemRepository(db *DB) *itemRepository {
	return &itemRepository{db: db}
}

func (repo *itemRepository) QueryItems(ctx context.Context, exec ...core.DBExecutor) ([]item.Item, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	items := make([]item.Item, 0, len(repo.db.items))
	for _, it := range repo.db.items {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Key < b.Key
	})
	return items, nil
}

func (repo *itemRepository) CreateItem(ctx context.Context, it item.Item, exec ...core.DBExecutor) (item.Item, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.items[it.Key]; ok {
		return item.Item{}, item.ErrKeyExists
	}
	repo.db.items[it.Key] = it
	return it, nil
}

func (repo *itemRepository) UpdateItem(ctx context.Context, key string, it item.Item, exec ...core.DBExecutor) (item.Item, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.items[key]; !ok {
		return item.Item{}, item.ErrNotFound
	}
	if it.Key != key {
		if _, ok := repo.db.items[it.Key]; ok {
			return item.Item{}, item.ErrKeyExists
		}
		delete(repo.db.items, key)
		// renames cascade
		for id, m := range repo.db.measurements {
			if m.ItemKey == key {
				m.ItemKey = it.Key
				repo.db.measurements[id] = m
			}
		}
		for id, l := range repo.db.limits {
			if l.ItemKey == key {
				l.ItemKey = it.Key
				repo.db.limits[id] = l
			}
		}
	}
	repo.db.items[it.Key] = it
	return it, nil
}

func (repo *itemRepository) DeleteItem(ctx context.Context, key string, exec ...core.DBExecutor) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.items[key]; !ok {
		return 0, nil
	}
	delete(repo.db.items, key)
	for id, l := range repo.db.limits {
		if l.ItemKey == key {
			delete(repo.db.limits, id)
		}
	}
	return 1, nil
}

func (repo *itemRepository) CountMeasurements(ctx context.Context, key string, exec ...core.DBExecutor) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var n int
	for _, m := range repo.db.measurements {
		if m.ItemKey == key {
			n++
		}
	}
	return n, nil
}
