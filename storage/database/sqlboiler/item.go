package boiledrepos

import (
	"context"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"
	"github.com/volatiletech/sqlboiler/v4/types"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/item"
)

type itemRow struct {
	Key            string            `boil:"key"`
	Name           string            `boil:"name"`
	EnglishName    string            `boil:"english_name"`
	Unit           string            `boil:"unit"`
	LimitValue     null.Float64      `boil:"limit_value"`
	Category       string            `boil:"category"`
	Classification string            `boil:"classification"`
	AnalysisMethod string            `boil:"analysis_method"`
	HasLimit       bool              `boil:"has_limit"`
	IsActive       bool              `boil:"is_active"`
	SortOrder      int               `boil:"sort_order"`
	InputType      string            `boil:"input_type"`
	Options        types.StringArray `boil:"options"`
}

var itemColumns = []string{
	"key", "name", "english_name", "unit", "limit_value", "category", "classification", "analysis_method",
	"has_limit", "is_active", "sort_order", "input_type", "options",
}

type itemRepository struct {
	baseRepo
}

var _ item.Repository = (*itemRepository)(nil)

func NewItemRepository(exec core.DBExecutor) *itemRepository {
	return &itemRepository{baseRepo{exec: exec}}
}

func (repo itemRepository) values(it item.Item) []interface{} {
	options := types.StringArray(it.Options)
	if options == nil {
		options = types.StringArray{}
	}
	return []interface{}{
		it.Key, it.Name, it.EnglishName, it.Unit, null.Float64FromPtr(it.Limit), it.Category, it.Classification,
		it.AnalysisMethod, it.HasLimit, it.IsActive, it.Order, it.InputType, options,
	}
}

func (repo itemRepository) unboil(row itemRow) item.Item {
	options := []string(row.Options)
	if options == nil {
		options = []string{}
	}
	return item.Item{
		Key:            row.Key,
		Name:           row.Name,
		EnglishName:    row.EnglishName,
		Unit:           row.Unit,
		Limit:          row.LimitValue.Ptr(),
		Category:       row.Category,
		Classification: row.Classification,
		AnalysisMethod: row.AnalysisMethod,
		HasLimit:       row.HasLimit,
		IsActive:       row.IsActive,
		Order:          row.SortOrder,
		InputType:      row.InputType,
		Options:        options,
	}
}

func (repo itemRepository) QueryItems(ctx context.Context, exec ...core.DBExecutor) ([]item.Item, error) {
	var rows []itemRow
	if err := newQuery(tableItems, qm.OrderBy("sort_order, name, key")).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying items")
	}
	items := make([]item.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, repo.unboil(row))
	}
	return items, nil
}

func (repo itemRepository) CreateItem(ctx context.Context, it item.Item, exec ...core.DBExecutor) (item.Item, error) {
	if err := repo.insert(ctx, tableItems, itemColumns, repo.values(it), exec); err != nil {
		if isUniqueViolation(err) {
			return item.Item{}, item.ErrKeyExists
		}
		return item.Item{}, errors.Wrap(err, "inserting item")
	}
	return it, nil
}

func (repo itemRepository) UpdateItem(ctx context.Context, key string, it item.Item, exec ...core.DBExecutor) (item.Item, error) {
	n, err := repo.update(ctx, tableItems, itemColumns, repo.values(it), "key = ?", []interface{}{key}, exec)
	if err != nil {
		if isUniqueViolation(err) {
			return item.Item{}, item.ErrKeyExists
		}
		return item.Item{}, errors.Wrap(err, "updating item")
	}
	if n == 0 {
		return item.Item{}, item.ErrNotFound
	}
	return it, nil
}

func (repo itemRepository) DeleteItem(ctx context.Context, key string, exec ...core.DBExecutor) (int, error) {
	n, err := repo.deleteAll(ctx, tableItems, []qm.QueryMod{qm.Where("key = ?", key)}, exec)
	return n, errors.Wrap(err, "deleting item")
}

func (repo itemRepository) CountMeasurements(ctx context.Context, key string, exec ...core.DBExecutor) (int, error) {
	n, err := repo.count(ctx, tableMeasurements, []qm.QueryMod{qm.Where("item_key = ?", key)}, exec)
	return n, errors.Wrap(err, "counting item measurements")
}
