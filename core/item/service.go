package item

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/tigrofin/pmms/core"
)

var (
	// errors
	ErrNotFound        = errors.New("item not found")
	ErrKeyExists       = errors.New("an item with this key already exists")
	ErrHasMeasurements = errors.New("items with measurements cannot be deleted")
	ErrNotAllowed      = core.NewPermissionError("only system admins can manage measurement items")
)

type (
	Repository interface {
		QueryItems(ctx context.Context, exec ...core.DBExecutor) ([]Item, error)
		CreateItem(ctx context.Context, it Item, exec ...core.DBExecutor) (Item, error)
		// UpdateItem replaces the item stored under key, which may rename it.
		UpdateItem(ctx context.Context, key string, it Item, exec ...core.DBExecutor) (Item, error)
		DeleteItem(ctx context.Context, key string, exec ...core.DBExecutor) (int, error)
		CountMeasurements(ctx context.Context, key string, exec ...core.DBExecutor) (int, error)
	}

	Service interface {
		// Query lists the catalogue ordered by order, name & key.
		Query(ctx context.Context, filter QueryFilter) ([]Item, error)
		// Catalogue returns every item, the hidden ones included, by key.
		Catalogue(ctx context.Context) (map[string]Item, error)
		Get(ctx context.Context, key string) (Item, error)
		Create(ctx context.Context, actor core.Actor, ni NewItem) (Item, error)
		Update(ctx context.Context, actor core.Actor, key string, ui UpdateItem) (Item, error)
		Delete(ctx context.Context, actor core.Actor, key string) error
		// SeedDefaults creates the missing default items.
		SeedDefaults(ctx context.Context) (int, error)
	}

	service struct {
		repo Repository

		mu    sync.RWMutex
		items []Item // nil until loaded
		gen   uint64 // bumped by invalidate, loads started before are not cached
		group singleflight.Group
	}
)

var _ Service = (*service)(nil)

const cacheKey = "items"

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

// load returns the cached catalogue, concurrent misses share a single repository call.
func (svc *service) load(ctx context.Context) ([]Item, error) {
	svc.mu.RLock()
	items, gen := svc.items, svc.gen
	svc.mu.RUnlock()
	if items != nil {
		return items, nil
	}

	v, err, _ := svc.group.Do(cacheKey, func() (interface{}, error) {
		items, err := svc.repo.QueryItems(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "loading items")
		}
		if items == nil {
			items = []Item{}
		}
		sortItems(items)
		svc.mu.Lock()
		if svc.gen == gen {
			svc.items = items
		}
		svc.mu.Unlock()
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Item), nil
}

func (svc *service) invalidate() {
	svc.mu.Lock()
	svc.items = nil
	svc.gen++
	svc.mu.Unlock()
	svc.group.Forget(cacheKey)
}

func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Key < b.Key
	})
}

func (svc *service) Query(ctx context.Context, filter QueryFilter) ([]Item, error) {
	items, err := svc.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Key == AuxiliaryKey {
			continue
		}
		if filter.Category != "" && it.Category != filter.Category {
			continue
		}
		if filter.ActiveOnly && !it.IsActive {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (svc *service) Catalogue(ctx context.Context) (map[string]Item, error) {
	items, err := svc.load(ctx)
	if err != nil {
		return nil, err
	}
	catalogue := make(map[string]Item, len(items))
	for _, it := range items {
		catalogue[it.Key] = it
	}
	return catalogue, nil
}

func (svc *service) Get(ctx context.Context, key string) (Item, error) {
	items, err := svc.load(ctx)
	if err != nil {
		return Item{}, err
	}
	for _, it := range items {
		if it.Key == key {
			return it, nil
		}
	}
	return Item{}, ErrNotFound
}

func (svc *service) checkKey(ctx context.Context, key string) error {
	if _, err := svc.Get(ctx, key); err == nil {
		return core.NewValidationError(ErrKeyExists, core.FieldError{Field: "key", Error: ErrKeyExists.Error()})
	} else if errors.Cause(err) != ErrNotFound {
		return err
	}
	return nil
}

func (svc *service) Create(ctx context.Context, actor core.Actor, ni NewItem) (Item, error) {
	if !actor.IsSuperAdmin() {
		return Item{}, ErrNotAllowed
	}
	if err := svc.checkKey(ctx, ni.Key); err != nil {
		return Item{}, err
	}

	it := Item{
		Key:            ni.Key,
		Name:           ni.Name,
		EnglishName:    ni.EnglishName,
		Unit:           ni.Unit,
		Limit:          ni.Limit,
		Category:       ni.Category,
		Classification: ni.Classification,
		AnalysisMethod: ni.AnalysisMethod,
		HasLimit:       ni.Limit != nil,
		IsActive:       true,
		Order:          ni.Order,
		InputType:      ni.InputType,
		Options:        ni.Options,
	}
	if ni.HasLimit != nil {
		it.HasLimit = *ni.HasLimit
	}
	if it.InputType == "" {
		it.InputType = InputNumber
	}
	if it.Category == "" {
		it.Category = CategoryPollutant
	}
	if it.Options == nil {
		it.Options = []string{}
	}

	it, err := svc.repo.CreateItem(ctx, it)
	if err != nil {
		return Item{}, errors.Wrap(err, "creating item")
	}
	svc.invalidate()
	return it, nil
}

func (svc *service) Update(ctx context.Context, actor core.Actor, key string, ui UpdateItem) (Item, error) {
	if !actor.IsSuperAdmin() {
		return Item{}, ErrNotAllowed
	}
	it, err := svc.Get(ctx, key)
	if err != nil {
		return Item{}, err
	}

	if ui.IsActive != nil {
		it.IsActive = *ui.IsActive
	}
	if ui.Order != nil {
		it.Order = *ui.Order
	}
	if !ui.IsPartial() {
		if ui.Name == "" {
			return Item{}, core.NewValidationError(nil, core.FieldError{Field: "name", Error: "this field is required"})
		}
		if ui.Key != "" && ui.Key != key {
			if err = svc.checkKey(ctx, ui.Key); err != nil {
				return Item{}, err
			}
			it.Key = ui.Key
		}
		it.Name = ui.Name
		it.EnglishName = ui.EnglishName
		it.Unit = ui.Unit
		it.Limit = ui.Limit
		it.Classification = ui.Classification
		it.AnalysisMethod = ui.AnalysisMethod
		it.HasLimit = ui.Limit != nil
		if ui.HasLimit != nil {
			it.HasLimit = *ui.HasLimit
		}
		if ui.Category != "" {
			it.Category = ui.Category
		}
		if ui.InputType != "" {
			it.InputType = ui.InputType
		}
		it.Options = core.UniqueStrings(ui.Options)
	}

	if it, err = svc.repo.UpdateItem(ctx, key, it); err != nil {
		return Item{}, errors.Wrap(err, "updating item")
	}
	svc.invalidate()
	return it, nil
}

func (svc *service) Delete(ctx context.Context, actor core.Actor, key string) error {
	if !actor.IsSuperAdmin() {
		return ErrNotAllowed
	}
	n, err := svc.repo.CountMeasurements(ctx, key)
	if err != nil {
		return errors.Wrap(err, "counting item measurements")
	}
	if n > 0 {
		return core.NewValidationError(ErrHasMeasurements)
	}
	if n, err = svc.repo.DeleteItem(ctx, key); err != nil {
		return errors.Wrap(err, "deleting item")
	}
	svc.invalidate()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (svc *service) SeedDefaults(ctx context.Context) (int, error) {
	existing, err := svc.Catalogue(ctx)
	if err != nil {
		return 0, err
	}

	var created int
	for _, it := range append(DefaultItems(), placeholderItem()) {
		if _, ok := existing[it.Key]; ok {
			continue
		}
		if _, err = svc.repo.CreateItem(ctx, it); err != nil {
			return created, errors.Wrapf(err, "creating item %s", it.Key)
		}
		created++
	}
	if created > 0 {
		svc.invalidate()
	}
	return created, nil
}
