package item

import (
	"github.com/go-playground/validator/v10"

	"github.com/tigrofin/pmms/core"
)

// Categories
const (
	CategoryPollutant = "오염물질"
	CategoryAuxiliary = "채취환경"

	InputNumber = "number"
	InputText   = "text"
	InputSelect = "select"
)

type Item struct {
	Key            string   `json:"key"`
	Name           string   `json:"name"`
	EnglishName    string   `json:"englishName,omitempty"`
	Unit           string   `json:"unit"`
	Limit          *float64 `json:"limit"`
	Category       string   `json:"category"`
	Classification string   `json:"classification,omitempty"`
	AnalysisMethod string   `json:"analysisMethod,omitempty"`
	HasLimit       bool     `json:"hasLimit"`
	IsActive       bool     `json:"isActive"`
	Order          int      `json:"order"`
	InputType      string   `json:"inputType"`
	Options        []string `json:"options"`
}

func (it Item) IsAuxiliary() bool {
	return it.Category == CategoryAuxiliary || IsAuxiliary(it.Key)
}

// LimitValue returns the default limit of the item, 0 when it has none.
func (it Item) LimitValue() float64 {
	if it.Limit == nil || !it.HasLimit {
		return 0
	}
	return *it.Limit
}

type NewItem struct {
	Key            string   `json:"key" validate:"required,itemkey"`
	Name           string   `json:"name" validate:"required,notblank"`
	EnglishName    string   `json:"englishName"`
	Unit           string   `json:"unit"`
	Limit          *float64 `json:"limit" validate:"omitempty,gte=0"`
	Category       string   `json:"category"`
	Classification string   `json:"classification"`
	AnalysisMethod string   `json:"analysisMethod"`
	HasLimit       *bool    `json:"hasLimit"`
	Order          int      `json:"order"`
	InputType      string   `json:"inputType" validate:"omitempty,oneof=number text select"`
	Options        []string `json:"options"`
}

func (ni *NewItem) Clean() {
	ni.Key = core.CleanString(ni.Key)
	ni.Name = core.CleanString(ni.Name)
	ni.EnglishName = core.CleanString(ni.EnglishName)
	ni.Unit = core.CleanString(ni.Unit)
	ni.Category = core.CleanString(ni.Category)
	ni.Classification = core.CleanString(ni.Classification)
	ni.AnalysisMethod = core.CleanString(ni.AnalysisMethod)
	ni.Options = core.UniqueStrings(ni.Options)
}

func (ni *NewItem) Validate(validate *validator.Validate) error {
	ni.Clean()
	return validate.Struct(ni)
}

// UpdateItem changes an item. Setting only IsActive and/or Order is a partial update,
// anything else replaces the item (renaming its key when Key differs).
type UpdateItem struct {
	Key            string   `json:"key" validate:"omitempty,itemkey"`
	Name           string   `json:"name"`
	EnglishName    string   `json:"englishName"`
	Unit           string   `json:"unit"`
	Limit          *float64 `json:"limit" validate:"omitempty,gte=0"`
	Category       string   `json:"category"`
	Classification string   `json:"classification"`
	AnalysisMethod string   `json:"analysisMethod"`
	HasLimit       *bool    `json:"hasLimit"`
	IsActive       *bool    `json:"isActive"`
	Order          *int     `json:"order"`
	InputType      string   `json:"inputType" validate:"omitempty,oneof=number text select"`
	Options        []string `json:"options"`
}

func (ui *UpdateItem) Validate(validate *validator.Validate) error {
	ui.Key = core.CleanString(ui.Key)
	ui.Name = core.CleanString(ui.Name)
	ui.EnglishName = core.CleanString(ui.EnglishName)
	ui.Unit = core.CleanString(ui.Unit)
	ui.Category = core.CleanString(ui.Category)
	ui.Classification = core.CleanString(ui.Classification)
	ui.AnalysisMethod = core.CleanString(ui.AnalysisMethod)
	return validate.Struct(ui)
}

// IsPartial reports whether only the activation and/or display order change.
func (ui UpdateItem) IsPartial() bool {
	return (ui.IsActive != nil || ui.Order != nil) &&
		ui.Key == "" && ui.Name == "" && ui.EnglishName == "" && ui.Unit == "" && ui.Limit == nil &&
		ui.Category == "" && ui.Classification == "" && ui.AnalysisMethod == "" && ui.HasLimit == nil &&
		ui.InputType == "" && ui.Options == nil
}

type QueryFilter struct {
	Category   string `query:"category"`
	ActiveOnly bool   `query:"activeOnly"`
}
