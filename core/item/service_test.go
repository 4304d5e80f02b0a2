package item

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/tigrofin/pmms/core"
)

type memRepo struct {
	mu       sync.Mutex
	items    []Item
	counts   map[string]int
	queries  int
	hold     bool
	entered  chan struct{}
	released chan struct{}
}

func newMemRepo(items ...Item) *memRepo {
	return &memRepo{items: items, counts: map[string]int{}}
}

// holdNextQuery makes the next QueryItems read the items, then wait for release.
func (r *memRepo) holdNextQuery() {
	r.mu.Lock()
	r.hold = true
	r.entered = make(chan struct{})
	r.released = make(chan struct{})
	r.mu.Unlock()
}

func (r *memRepo) QueryItems(_ context.Context, _ ...core.DBExecutor) ([]Item, error) {
	r.mu.Lock()
	r.queries++
	out := append([]Item(nil), r.items...)
	hold, entered, released := r.hold, r.entered, r.released
	r.hold = false
	r.mu.Unlock()
	if hold {
		close(entered)
		<-released
	}
	return out, nil
}

func (r *memRepo) CreateItem(_ context.Context, it Item, _ ...core.DBExecutor) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, it)
	return it, nil
}

func (r *memRepo) UpdateItem(_ context.Context, key string, it Item, _ ...core.DBExecutor) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].Key == key {
			r.items[i] = it
			return it, nil
		}
	}
	return Item{}, ErrNotFound
}

func (r *memRepo) DeleteItem(_ context.Context, key string, _ ...core.DBExecutor) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].Key == key {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (r *memRepo) CountMeasurements(_ context.Context, key string, _ ...core.DBExecutor) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key], nil
}

func intPtr(i int) *int { return &i }
func boolPtr(b bool) *bool { return &b }

func TestService_cache(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(DefaultItems()[0])
	svc := NewService(repo).(*service)

	for i := 0; i < 3; i++ {
		_, err := svc.Catalogue(ctx)
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, repo.queries)

	t.Run("a load started before a write is not cached", func(t *testing.T) {
		svc.invalidate()
		repo.holdNextQuery()
		done := make(chan error)
		go func() {
			_, err := svc.Catalogue(ctx)
			done <- err
		}()
		<-repo.entered

		_, err := repo.CreateItem(ctx, auxiliary(50, "NEW", "new", "", InputText))
		assert.NoError(t, err)
		svc.invalidate()

		close(repo.released)
		assert.NoError(t, <-done)

		it, err := svc.Get(ctx, "NEW")
		if assert.NoError(t, err) {
			assert.Equal(t, "new", it.Name)
		}
	})
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	dust, nh3 := DefaultItems()[0], DefaultItems()[1]
	admin := core.Actor{Role: core.RoleSuperAdmin}

	t.Run("only activation changes", func(t *testing.T) {
		svc := NewService(newMemRepo(dust, nh3))
		it, err := svc.Update(ctx, admin, dust.Key, UpdateItem{IsActive: boolPtr(false)})
		if assert.NoError(t, err) {
			want := dust
			want.IsActive = false
			assert.Equal(t, want, it)
		}
		got, err := svc.Get(ctx, dust.Key)
		assert.NoError(t, err)
		assert.False(t, got.IsActive)
	})

	t.Run("only order changes", func(t *testing.T) {
		svc := NewService(newMemRepo(dust, nh3))
		it, err := svc.Update(ctx, admin, nh3.Key, UpdateItem{Order: intPtr(0)})
		if assert.NoError(t, err) {
			assert.Equal(t, 0, it.Order)
			assert.Equal(t, nh3.Name, it.Name)
			assert.Equal(t, nh3.Limit, it.Limit)
		}
		items, err := svc.Query(ctx, QueryFilter{})
		if assert.NoError(t, err) && assert.Len(t, items, 2) {
			assert.Equal(t, nh3.Key, items[0].Key)
		}
	})

	t.Run("full update requires a name", func(t *testing.T) {
		svc := NewService(newMemRepo(dust))
		_, err := svc.Update(ctx, admin, dust.Key, UpdateItem{Unit: "ppm"})
		var verr *core.ValidationError
		if assert.True(t, errors.As(err, &verr)) {
			assert.Equal(t, "name", verr.Fields[0].Field)
		}
	})

	t.Run("renaming to a taken key", func(t *testing.T) {
		svc := NewService(newMemRepo(dust, nh3))
		_, err := svc.Update(ctx, admin, dust.Key, UpdateItem{Key: nh3.Key, Name: "먼지"})
		var verr *core.ValidationError
		if assert.True(t, errors.As(err, &verr)) {
			assert.Equal(t, ErrKeyExists, verr.Err)
		}
	})

	t.Run("renaming to a free key", func(t *testing.T) {
		svc := NewService(newMemRepo(dust, nh3))
		it, err := svc.Update(ctx, admin, dust.Key, UpdateItem{Key: "EA-I-9999", Name: "먼지"})
		if assert.NoError(t, err) {
			assert.Equal(t, "EA-I-9999", it.Key)
		}
		_, err = svc.Get(ctx, dust.Key)
		assert.Equal(t, ErrNotFound, err)
		_, err = svc.Get(ctx, "EA-I-9999")
		assert.NoError(t, err)
	})

	t.Run("only system admins", func(t *testing.T) {
		svc := NewService(newMemRepo(dust))
		_, err := svc.Update(ctx, core.Actor{Role: core.RoleOrgAdmin, OrganizationID: "1"}, dust.Key, UpdateItem{Order: intPtr(3)})
		assert.Equal(t, ErrNotAllowed, err)
	})
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	dust, nh3 := DefaultItems()[0], DefaultItems()[1]
	admin := core.Actor{Role: core.RoleSuperAdmin}
	repo := newMemRepo(dust, nh3)
	repo.counts[dust.Key] = 3
	svc := NewService(repo)

	err := svc.Delete(ctx, admin, dust.Key)
	var verr *core.ValidationError
	if assert.True(t, errors.As(err, &verr)) {
		assert.Equal(t, ErrHasMeasurements, verr.Err)
	}
	_, err = svc.Get(ctx, dust.Key)
	assert.NoError(t, err)

	assert.NoError(t, svc.Delete(ctx, admin, nh3.Key))
	_, err = svc.Get(ctx, nh3.Key)
	assert.Equal(t, ErrNotFound, err)

	assert.Equal(t, ErrNotFound, svc.Delete(ctx, admin, "EA-I-9999"))
}

func TestService_SeedDefaults(t *testing.T) {
	ctx := context.Background()
	defaults := DefaultItems()
	svc := NewService(newMemRepo(defaults[0], defaults[1]))

	n, err := svc.SeedDefaults(ctx)
	assert.NoError(t, err)
	assert.Equal(t, len(defaults)+1-2, n)

	catalogue, err := svc.Catalogue(ctx)
	if assert.NoError(t, err) {
		assert.Len(t, catalogue, len(defaults)+1)
		assert.False(t, catalogue[AuxiliaryKey].IsActive)
	}

	n, err = svc.SeedDefaults(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}
