package limit

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/customer"
	"github.com/tigrofin/pmms/core/item"
)

var (
	// errors
	ErrNotFound      = errors.New("emission limit not found")
	ErrScopeRequired = errors.New("an id or an item key is required")
	ErrNotAllowed    = core.NewPermissionError("not allowed to manage emission limits")
)

// EmissionLimit overrides the default limit of an item, globally (no customer),
// for a whole customer (no stack) or for a single stack.
type EmissionLimit struct {
	ID         string    `json:"id"`
	ItemKey    string    `json:"itemKey"`
	CustomerID string    `json:"customerId"`
	StackID    string    `json:"stackId"`
	Limit      float64   `json:"limit"`
	Region     string    `json:"region,omitempty"`
	CreatedBy  string    `json:"createdBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type NewLimit struct {
	ItemKey    string  `json:"itemKey" validate:"required"`
	CustomerID string  `json:"customerId" validate:"required_with=StackID"`
	StackID    string  `json:"stackId"`
	Limit      float64 `json:"limit" validate:"gte=0"`
	Region     string  `json:"region"`
}

type SaveLimits struct {
	Limits []NewLimit `json:"limits" validate:"required,dive"`
}

func (sl *SaveLimits) Validate(validate *validator.Validate) error {
	for i := range sl.Limits {
		l := &sl.Limits[i]
		l.ItemKey = core.CleanString(l.ItemKey)
		l.CustomerID = core.CleanString(l.CustomerID)
		l.StackID = core.CleanString(l.StackID)
		l.Region = core.CleanString(l.Region)
	}
	return validate.Struct(sl)
}

type QueryFilter struct {
	ItemKey    string `query:"itemKey"`
	CustomerID string `query:"customerId"`
	StackID    string `query:"stackId"`

	CustomerIDs []string `query:"-"` // limits of these customers & the global ones
	ItemKeys    []string `query:"-"`
}

// DeleteFilter selects the limits to delete: by ID, or by scope.
type DeleteFilter struct {
	ID         string `query:"id"`
	ItemKey    string `query:"itemKey"`
	CustomerID string `query:"customerId"`
	StackID    string `query:"stackId"`
}

type (
	Repository interface {
		// QueryLimits returns the limits ordered by item key asc, stack id desc & customer id desc.
		QueryLimits(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]EmissionLimit, error)
		// UpsertLimit inserts or replaces the limit of (ItemKey, CustomerID, StackID).
		UpsertLimit(ctx context.Context, l EmissionLimit, exec ...core.DBExecutor) (EmissionLimit, error)
		DeleteLimits(ctx context.Context, filter DeleteFilter, exec ...core.DBExecutor) (int, error)
	}

	Service interface {
		Query(ctx context.Context, actor core.Actor, filter QueryFilter) ([]EmissionLimit, error)
		SaveBulk(ctx context.Context, actor core.Actor, limits []NewLimit) ([]EmissionLimit, error)
		Delete(ctx context.Context, actor core.Actor, filter DeleteFilter) (int, error)
		// Resolver loads the limits needed to resolve the given items for the given customers.
		Resolver(ctx context.Context, itemKeys, customerIDs []string) (*Resolver, error)
	}

	service struct {
		repo    Repository
		db      core.DB
		custSvc customer.Service
		itemSvc item.Service
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, db core.DB, custSvc customer.Service, itemSvc item.Service) Service {
	return &service{repo: repo, db: db, custSvc: custSvc, itemSvc: itemSvc}
}

func (svc *service) Query(ctx context.Context, actor core.Actor, filter QueryFilter) ([]EmissionLimit, error) {
	if filter.CustomerID != "" {
		if err := svc.custSvc.CanAccess(ctx, actor, filter.CustomerID); err != nil {
			return []EmissionLimit{}, nil
		}
	} else if !actor.IsSuperAdmin() {
		ids, _, err := svc.custSvc.AccessibleIDs(ctx, actor)
		if err != nil {
			return nil, err
		}
		filter.CustomerIDs = ids
	}
	return svc.repo.QueryLimits(ctx, filter)
}

// canEdit reports whether actor may set limits of the scope: global limits are reserved to SUPER_ADMIN.
func (svc *service) canEdit(ctx context.Context, actor core.Actor, customerID string) bool {
	if actor.IsSuperAdmin() {
		return true
	}
	if customerID == "" || !(actor.IsOrgUser() || actor.IsCustomerAdmin()) {
		return false
	}
	return svc.custSvc.CanAccess(ctx, actor, customerID) == nil
}

func (svc *service) SaveBulk(ctx context.Context, actor core.Actor, limits []NewLimit) ([]EmissionLimit, error) {
	for _, nl := range limits {
		if !svc.canEdit(ctx, actor, nl.CustomerID) {
			return nil, ErrNotAllowed
		}
		if _, err := svc.itemSvc.Get(ctx, nl.ItemKey); err != nil {
			if errors.Cause(err) == item.ErrNotFound {
				return nil, core.NewValidationError(err, core.FieldError{Field: "itemKey", Error: "unknown item " + nl.ItemKey})
			}
			return nil, err
		}
	}

	now := time.Now().UTC()
	saved := make([]EmissionLimit, 0, len(limits))
	err := core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		for _, nl := range limits {
			l, err := svc.repo.UpsertLimit(ctx, EmissionLimit{
				ItemKey:    nl.ItemKey,
				CustomerID: nl.CustomerID,
				StackID:    nl.StackID,
				Limit:      nl.Limit,
				Region:     nl.Region,
				CreatedBy:  actor.UserID,
				CreatedAt:  now,
				UpdatedAt:  now,
			}, core.Executors(exec)...)
			if err != nil {
				return errors.Wrapf(err, "saving limit of %s", nl.ItemKey)
			}
			saved = append(saved, l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (svc *service) Delete(ctx context.Context, actor core.Actor, filter DeleteFilter) (int, error) {
	if filter.ID == "" && filter.ItemKey == "" {
		return 0, core.NewValidationError(ErrScopeRequired)
	}
	if filter.ID != "" {
		limits, err := svc.Query(ctx, actor, QueryFilter{})
		if err != nil {
			return 0, err
		}
		var found bool
		for _, l := range limits {
			if l.ID == filter.ID {
				found = true
				filter.CustomerID = l.CustomerID
				break
			}
		}
		if !found {
			return 0, ErrNotFound
		}
	}
	if !svc.canEdit(ctx, actor, filter.CustomerID) {
		return 0, ErrNotAllowed
	}
	return svc.repo.DeleteLimits(ctx, filter)
}

func (svc *service) Resolver(ctx context.Context, itemKeys, customerIDs []string) (*Resolver, error) {
	catalogue, err := svc.itemSvc.Catalogue(ctx)
	if err != nil {
		return nil, err
	}
	var limits []EmissionLimit
	if len(itemKeys) > 0 {
		limits, err = svc.repo.QueryLimits(ctx, QueryFilter{ItemKeys: core.UniqueStrings(itemKeys), CustomerIDs: core.UniqueStrings(customerIDs)})
		if err != nil {
			return nil, errors.Wrap(err, "querying limits")
		}
	}
	return NewResolver(limits, catalogue), nil
}

type scope struct {
	itemKey, customerID, stackID string
}

// Resolver picks the limit applicable to a measurement: stack specific, customer wide, global,
// then the item default.
type Resolver struct {
	limits    map[scope]float64
	catalogue map[string]item.Item
}

func NewResolver(limits []EmissionLimit, catalogue map[string]item.Item) *Resolver {
	r := &Resolver{limits: make(map[scope]float64, len(limits)), catalogue: catalogue}
	for _, l := range limits {
		r.limits[scope{l.ItemKey, l.CustomerID, l.StackID}] = l.Limit
	}
	return r
}

// Resolve returns the applicable limit and whether there is one at all.
func (r *Resolver) Resolve(itemKey, customerID, stackID string) (float64, bool) {
	if customerID != "" && stackID != "" {
		if v, ok := r.limits[scope{itemKey, customerID, stackID}]; ok {
			return v, true
		}
	}
	if customerID != "" {
		if v, ok := r.limits[scope{itemKey, customerID, ""}]; ok {
			return v, true
		}
	}
	if v, ok := r.limits[scope{itemKey, "", ""}]; ok {
		return v, true
	}
	if it, ok := r.catalogue[itemKey]; ok && it.HasLimit && it.Limit != nil {
		return *it.Limit, true
	}
	return 0, false
}
