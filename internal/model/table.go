package model

import (
	"time"
)

// Table is a spreadsheet: a research goal plus its typed columns.
type Table struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	Columns     []Column  `json:"columns" yaml:"columns"`
	CreatedAt   time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"-"`
}

// Column returns the column with the given id.
func (t *Table) Column(id string) (Column, bool) {
	for _, c := range t.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// Row is one spreadsheet row. Data maps column id to the stored value.
type Row struct {
	ID          string               `json:"id"`
	TableID     string               `json:"tableId"`
	Data        map[string]any       `json:"data"`
	Enrichments []EnrichmentMetadata `json:"enrichments"`
	CellErrors  map[string]string    `json:"cellErrors,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

// LatestEnrichment returns the most recent enrichment recorded for a column.
func (r *Row) LatestEnrichment(columnID string) (EnrichmentMetadata, bool) {
	var latest EnrichmentMetadata
	found := false
	for _, e := range r.Enrichments {
		if e.ColumnID != columnID {
			continue
		}
		if !found || !e.CreatedAt.Before(latest.CreatedAt) {
			latest = e
			found = true
		}
	}
	return latest, found
}

// CellRef addresses one cell of a table.
type CellRef struct {
	RowID    string `json:"rowId"`
	ColumnID string `json:"columnId"`
}

// ProviderAnswer is one provider's raw answer to a cell question. Failed
// answers carry the error text in Response.
type ProviderAnswer struct {
	Provider string `json:"provider"`
	Response string `json:"response"`
	Failed   bool   `json:"failed,omitempty"`
}
