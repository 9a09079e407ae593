package model

import (
	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
)

// ColumnType is the declared type of a table column.
type ColumnType string

const (
	ColumnTypeText        ColumnType = "text"
	ColumnTypeNumber      ColumnType = "number"
	ColumnTypeLink        ColumnType = "link"
	ColumnTypeSelect      ColumnType = "select"
	ColumnTypeMultiSelect ColumnType = "multiSelect"
)

// AllColumnTypes returns every supported column type.
func AllColumnTypes() []ColumnType {
	return []ColumnType{
		ColumnTypeText,
		ColumnTypeNumber,
		ColumnTypeLink,
		ColumnTypeSelect,
		ColumnTypeMultiSelect,
	}
}

// Valid reports whether t is a known column type.
func (t ColumnType) Valid() bool {
	for _, ct := range AllColumnTypes() {
		if ct == t {
			return true
		}
	}
	return false
}

// IsCategorical reports whether values of this type come from a select vocabulary.
func (t ColumnType) IsCategorical() bool {
	return t == ColumnTypeSelect || t == ColumnTypeMultiSelect
}

// SelectItem is one entry of a categorical column's vocabulary.
type SelectItem struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Color string `json:"color" yaml:"color"`
}

// TypeInfo carries type-specific column settings.
type TypeInfo struct {
	SelectItems []SelectItem `json:"selectItems,omitempty" yaml:"select_items,omitempty"`
	Currency    string       `json:"currency,omitempty" yaml:"currency,omitempty"`
	Decimals    *int         `json:"decimals,omitempty" yaml:"decimals,omitempty"`
}

// Column describes one spreadsheet column.
type Column struct {
	ID                        string     `json:"id" yaml:"id"`
	Name                      string     `json:"name" yaml:"name"`
	Type                      ColumnType `json:"type" yaml:"type"`
	Description               string     `json:"description" yaml:"description"`
	AdditionalTypeInformation *TypeInfo  `json:"additionalTypeInformation,omitempty" yaml:"additional_type_information,omitempty"`
}

// SelectItems returns the column's vocabulary, or nil for columns without one.
func (c Column) SelectItems() []SelectItem {
	if c.AdditionalTypeInformation == nil {
		return nil
	}
	return c.AdditionalTypeInformation.SelectItems
}

// CategoryNames returns the names of the column's select items in stored order.
func (c Column) CategoryNames() []string {
	items := c.SelectItems()
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.Name)
	}
	return names
}

// Validate checks the column's type and, for categorical columns, that select
// item names are unique under case-insensitive comparison.
func (c Column) Validate() error {
	if c.ID == "" {
		return eris.New("model: column id is required")
	}
	if !c.Type.Valid() {
		return eris.Errorf("model: column %s has unknown type %q", c.ID, c.Type)
	}
	if !c.Type.IsCategorical() {
		return nil
	}
	seen := make(map[string]bool)
	for _, it := range c.SelectItems() {
		key := NameKey(it.Name)
		if seen[key] {
			return eris.Errorf("model: column %s has duplicate select item %q", c.ID, it.Name)
		}
		seen[key] = true
	}
	return nil
}

// NameKey returns the case-folded form of a category name used for matching
// and for the store's uniqueness constraint. A Caser is stateful, so each call
// gets its own.
func NameKey(name string) string {
	return cases.Fold().String(name)
}
